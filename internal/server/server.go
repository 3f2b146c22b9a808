// Package server wires configuration, the scoring pipeline and the REST API
// into a running HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pdsa/internal/alerts"
	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/model"
	"github.com/kubilitics/kubilitics-pdsa/internal/api/middleware"
	"github.com/kubilitics/kubilitics-pdsa/internal/api/rest"
	"github.com/kubilitics/kubilitics-pdsa/internal/config"
	"github.com/kubilitics/kubilitics-pdsa/internal/pipeline"
)

// Server represents the pdsa API server
type Server struct {
	config *config.Config
	logger *zap.Logger

	// Core components
	pipeline *pipeline.Pipeline
	handler  http.Handler

	// HTTP server
	httpServer *http.Server
	listener   net.Listener

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a server from cfg. Nothing listens until Start.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	s.pipeline = pipeline.New(pipeline.Options{
		Store:      model.NewStore(cfg.Models.Dir),
		Params:     cfg.ModelParams(),
		Thresholds: cfg.Thresholds(),
		Notifier:   s.newNotifier(cfg),
		CacheTTL:   cfg.CacheTTL(),
		CacheSize:  cfg.Alerts.CacheSize,
		Logger:     logger,
	})
	s.handler = s.buildHandler()
	return s, nil
}

func (s *Server) newNotifier(cfg *config.Config) alerts.Notifier {
	return alerts.NewSlackNotifier(cfg.Notify.SlackWebhookURL, cfg.NotifyTimeout(), s.logger)
}

// buildHandler assembles routes and middleware. Request IDs are assigned
// first so every later layer, including panic recovery, can report them.
func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	rest.SetupRoutes(router, rest.NewHandler(s.pipeline, s.config.Data.TrainPath, s.config.Data.AlertsPath, s.logger))

	limiter := middleware.NewRateLimiter(s.config.Server.RateLimitPerMin, s.config.Server.TrustedProxies...)
	router.Use(
		middleware.RequestID,
		middleware.StructuredLog(s.logger),
		middleware.Recovery(s.logger),
		limiter.Middleware,
		middleware.MaxBodySize(s.config.Server.MaxBodyBytes),
	)

	allowCredentials := true
	for _, o := range s.config.Server.AllowedOrigins {
		if o == "*" {
			// Browsers reject credentialed requests to a wildcard origin.
			allowCredentials = false
		}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.ResponseRequestIDHeader},
		ExposedHeaders:   []string{middleware.ResponseRequestIDHeader, middleware.TraceIDHeader},
		AllowCredentials: allowCredentials,
	})
	return c.Handler(middleware.Tracing(router))
}

// Handler returns the complete HTTP handler, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// Pipeline returns the scoring pipeline.
func (s *Server) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Start starts listening and serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	s.running = true

	s.logger.Info("pdsa server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("models_dir", s.config.Models.Dir),
		zap.Bool("models_trained", s.pipeline.ModelsTrained()),
		zap.Bool("slack_enabled", s.config.Notify.SlackWebhookURL != ""),
		zap.Int("rate_limit_per_min", s.config.Server.RateLimitPerMin),
	)
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server, waiting up to the configured shutdown
// timeout for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping pdsa server")

	timeout := time.Duration(s.config.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("shutdown HTTP server: %w", err)
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("pdsa server stopped")
	return shutdownErr
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// WatchConfig applies alert thresholds and the Slack webhook from each
// configuration update until the channel closes or the server stops. Other
// settings need a restart.
func (s *Server) WatchConfig(updates <-chan config.Config) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				s.applyConfig(&cfg)
			}
		}
	}()
}

func (s *Server) applyConfig(cfg *config.Config) {
	if th := cfg.Thresholds(); th != s.pipeline.Thresholds() {
		s.pipeline.SetThresholds(th)
		s.logger.Info("alert thresholds reloaded",
			zap.Float64("red", th.Red),
			zap.Float64("red_with_anomaly", th.RedWithAnomaly),
			zap.Float64("yellow", th.Yellow),
		)
	}
	s.pipeline.SetNotifier(s.newNotifier(cfg))
	s.logger.Info("notifier reloaded", zap.Bool("slack_enabled", cfg.Notify.SlackWebhookURL != ""))
}
