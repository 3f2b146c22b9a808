package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Per-IP token buckets. Training rebuilds both models, so /train gets a
// tenth of the configured budget.
const (
	trainShare = 10

	// maxTrackedClients bounds the limiter table; the least recently seen
	// client is forgotten first.
	maxTrackedClients = 10000
)

type rateLimitTier int

const (
	tierStandard rateLimitTier = iota
	tierTrain
)

// RateLimiter holds per-IP limiters per tier.
type RateLimiter struct {
	perMin  int
	proxies []*net.IPNet

	mu       sync.Mutex
	standard *lru.Cache[string, *rate.Limiter]
	train    *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows perMin requests per minute per client IP. perMin <= 0
// disables limiting.
//
// trustedProxies lists the IPs or CIDRs of reverse proxies whose
// X-Forwarded-For and X-Real-IP headers are believed. Requests from any other
// peer are keyed by their connection address. Unparseable entries are
// skipped; config validation rejects them first.
func NewRateLimiter(perMin int, trustedProxies ...string) *RateLimiter {
	standard, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	train, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	l := &RateLimiter{perMin: perMin, standard: standard, train: train}
	for _, entry := range trustedProxies {
		if n, err := ParseProxy(entry); err == nil {
			l.proxies = append(l.proxies, n)
		}
	}
	return l
}

// ParseProxy parses a trusted proxy entry, either a single IP or a CIDR.
func ParseProxy(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, n, err := net.ParseCIDR(entry)
		return n, err
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address %q", entry)
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func (l *RateLimiter) limitFor(t rateLimitTier) int {
	if t == tierTrain {
		return max(1, l.perMin/trainShare)
	}
	return l.perMin
}

func (l *RateLimiter) getLimiter(ip string, t rateLimitTier) *rate.Limiter {
	cache := l.standard
	if t == tierTrain {
		cache = l.train
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := cache.Get(ip); ok {
		return lim
	}
	perMin := l.limitFor(t)
	lim := rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	cache.Add(ip, lim)
	return lim
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (l *RateLimiter) trusted(ip string) bool {
	parsed := net.ParseIP(strings.Trim(strings.TrimSpace(ip), "[]"))
	if parsed == nil {
		return false
	}
	for _, n := range l.proxies {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// clientIP is the connection peer unless that peer is a trusted proxy. Then
// X-Forwarded-For is walked right to left and the first untrusted hop wins,
// falling back to X-Real-IP.
func (l *RateLimiter) clientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !l.trusted(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !l.trusted(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func tierForRequest(r *http.Request) rateLimitTier {
	if r.Method == http.MethodPost && strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/train") {
		return tierTrain
	}
	return tierStandard
}

// isLoopback returns true for localhost/loopback IPs (127.x.x.x and ::1).
// The dashboard usually runs on the same host and polls freely.
// Forwarding headers only reach this check through a trusted proxy.
func isLoopback(ip string) bool {
	ip = strings.Trim(ip, "[]")
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

func exempt(path string) bool {
	switch strings.TrimPrefix(path, "/api/v1") {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}

// Middleware limits requests per IP. /health, /ready, /metrics and
// loopback clients are exempt. Rejections are 429 with Retry-After and the
// X-RateLimit-* headers.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.perMin <= 0 || exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := l.clientIP(r)
		if isLoopback(ip) {
			next.ServeHTTP(w, r)
			return
		}
		tier := tierForRequest(r)
		limit := strconv.Itoa(l.limitFor(tier))
		limiter := l.getLimiter(ip, tier)

		reservation := limiter.Reserve()
		if delay := reservation.Delay(); !reservation.OK() || delay > 0 {
			reservation.Cancel()
			retryAfter := 60
			if reservation.OK() {
				retryAfter = min(int(delay.Seconds())+1, 60)
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfter)*time.Second).Unix(), 10))
			writeError(w, r, http.StatusTooManyRequests, errCodeRateLimitExceeded,
				"Too many requests. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
			return
		}

		tokens := max(int(limiter.Tokens()), 0)
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
		next.ServeHTTP(w, r)
	})
}
