// Package pipeline runs the scoring workflow behind the API: load telemetry,
// normalize it, train or apply the models, then prioritize the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/kubilitics/kubilitics-pdsa/internal/alerts"
	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/model"
	"github.com/kubilitics/kubilitics-pdsa/internal/logger"
	"github.com/kubilitics/kubilitics-pdsa/internal/metrics"
	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
	"github.com/kubilitics/kubilitics-pdsa/internal/tracing"
	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

// Options configures a Pipeline.
type Options struct {
	Store      *model.Store
	Params     model.Params
	Thresholds alerts.Thresholds
	Notifier   alerts.Notifier
	// CacheTTL is how long Alerts results are reused. Zero disables caching.
	CacheTTL  time.Duration
	CacheSize int
	Logger    *zap.Logger
}

// Pipeline orchestrates training, prediction and alert generation.
type Pipeline struct {
	store  *model.Store
	params model.Params
	logger *zap.Logger
	cache  *expirable.LRU[string, *types.AlertsResponse]

	// trainMu serializes training runs.
	trainMu sync.Mutex

	mu         sync.RWMutex
	thresholds alerts.Thresholds
	notifier   alerts.Notifier
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = alerts.NewSlackNotifier("", 0, opts.Logger)
	}
	if opts.Thresholds == (alerts.Thresholds{}) {
		opts.Thresholds = alerts.DefaultThresholds()
	}
	p := &Pipeline{
		store:      opts.Store,
		params:     opts.Params,
		logger:     opts.Logger,
		thresholds: opts.Thresholds,
		notifier:   opts.Notifier,
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 32
		}
		p.cache = expirable.NewLRU[string, *types.AlertsResponse](size, nil, opts.CacheTTL)
	}
	return p
}

// SetThresholds replaces the alert cut-offs and drops cached alerts.
func (p *Pipeline) SetThresholds(t alerts.Thresholds) {
	p.mu.Lock()
	p.thresholds = t
	p.mu.Unlock()
	p.purgeCache()
}

// Thresholds returns the active alert cut-offs.
func (p *Pipeline) Thresholds() alerts.Thresholds {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.thresholds
}

// SetNotifier replaces the notifier used for RED alerts.
func (p *Pipeline) SetNotifier(n alerts.Notifier) {
	p.mu.Lock()
	p.notifier = n
	p.mu.Unlock()
}

// ModelsTrained reports whether both model files exist.
func (p *Pipeline) ModelsTrained() bool {
	return p.store.Exists()
}

// Train fits both models on the dataset at datasetPath and saves them.
func (p *Pipeline) Train(ctx context.Context, datasetPath string) (resp *types.TrainResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.train", attribute.String("dataset_path", datasetPath))
	defer func() { endSpan(span, err) }()

	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.TrainingsTotal.WithLabelValues(status).Inc()
	}()

	records, err := telemetry.LoadCSV(datasetPath)
	if err != nil {
		return nil, err
	}
	x, err := p.normalized(records)
	if err != nil {
		return nil, err
	}

	models, err := model.Train(ctx, x, nil, p.params)
	if err != nil {
		return nil, fmt.Errorf("train models: %w", err)
	}
	if err := p.store.Save(models); err != nil {
		return nil, fmt.Errorf("save models: %w", err)
	}
	p.purgeCache()

	elapsed := time.Since(start)
	metrics.TrainingDuration.Observe(elapsed.Seconds())
	metrics.TrainingSamples.Set(float64(len(records)))
	logger.For(ctx, p.logger).Info("models trained",
		zap.String("dataset_path", datasetPath),
		zap.Int("samples", len(records)),
		zap.Int("positive_labels", models.Meta.PositiveLabels),
		zap.Float64("anomaly_threshold", models.Meta.AnomalyThreshold),
		zap.Duration("duration", elapsed),
	)

	return &types.TrainResponse{Status: "trained", Samples: len(records)}, nil
}

// Predict scores a batch of records. The batch is normalized on its own.
func (p *Pipeline) Predict(ctx context.Context, records []telemetry.Record) (resp *types.PredictResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.predict", attribute.Int("records", len(records)))
	defer func() { endSpan(span, err) }()

	if err := telemetry.ValidateAll(records); err != nil {
		return nil, err
	}
	x, err := p.normalized(records)
	if err != nil {
		return nil, err
	}
	models, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	scores, flags, err := model.Predict(models, x)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] = round4(scores[i])
	}
	metrics.PredictionsTotal.Add(float64(len(records)))

	return &types.PredictResponse{RiskScores: scores, AnomalyFlags: flags}, nil
}

// Alerts scores the dataset at datasetPath and prioritizes every sample.
// The first RED alert in dataset order is sent to the notifier.
func (p *Pipeline) Alerts(ctx context.Context, datasetPath string) (resp *types.AlertsResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.alerts", attribute.String("dataset_path", datasetPath))
	defer func() { endSpan(span, err) }()

	key, cacheable := cacheKey(datasetPath, p.store)
	if cacheable && p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			metrics.AlertCacheLookups.WithLabelValues("hit").Inc()
			setAlertGauge(cached.Totals)
			return cached, nil
		}
		metrics.AlertCacheLookups.WithLabelValues("miss").Inc()
	}

	records, err := telemetry.LoadCSV(datasetPath)
	if err != nil {
		return nil, err
	}
	x, err := p.normalized(records)
	if err != nil {
		return nil, err
	}
	models, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	scores, flags, err := model.Predict(models, x)
	if err != nil {
		return nil, err
	}

	thresholds := p.Thresholds()
	resp = &types.AlertsResponse{
		Alerts: make([]types.AlertItem, len(records)),
		Totals: alerts.NewTotals(),
	}
	for i, rec := range records {
		anomaly := flags[i] == 1
		prio := thresholds.ScoreToPriority(scores[i], anomaly)
		resp.Totals[string(prio)]++
		resp.Alerts[i] = types.AlertItem{
			Timestamp:          rec.Timestamp,
			Priority:           string(prio),
			RiskScore:          round4(scores[i]),
			Anomaly:            anomaly,
			Summary:            alerts.Summarize(prio),
			RecommendedActions: alerts.RecommendedActions(prio),
		}
	}
	setAlertGauge(resp.Totals)
	p.notifyFirstRed(resp.Alerts)

	if cacheable && p.cache != nil {
		p.cache.Add(key, resp)
	}
	logger.For(ctx, p.logger).Debug("alerts computed",
		zap.String("dataset_path", datasetPath),
		zap.Int("red", resp.Totals[string(alerts.Red)]),
		zap.Int("yellow", resp.Totals[string(alerts.Yellow)]),
		zap.Int("green", resp.Totals[string(alerts.Green)]),
	)
	return resp, nil
}

func (p *Pipeline) normalized(records []telemetry.Record) (*mat.Dense, error) {
	raw, err := telemetry.Matrix(records)
	if err != nil {
		return nil, err
	}
	return telemetry.Normalize(raw)
}

func (p *Pipeline) notifyFirstRed(items []types.AlertItem) {
	for _, item := range items {
		if item.Priority != string(alerts.Red) {
			continue
		}
		p.mu.RLock()
		n := p.notifier
		p.mu.RUnlock()
		n.Notify(alerts.Notification{
			Priority: alerts.Red,
			Summary:  item.Summary,
			Fields: []alerts.Field{
				{Title: "timestamp", Value: item.Timestamp},
				{Title: "risk_score", Value: strconv.FormatFloat(item.RiskScore, 'f', -1, 64)},
				{Title: "anomaly", Value: strconv.FormatBool(item.Anomaly)},
			},
		})
		return
	}
}

func (p *Pipeline) purgeCache() {
	if p.cache != nil {
		p.cache.Purge()
	}
}

// cacheKey identifies a dataset by path, size and modification time, plus the
// version of the models on disk. An edited dataset or models saved by another
// process therefore miss the cache.
func cacheKey(path string, store *model.Store) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	version, ok := store.Version()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s|%d|%d|%s", path, info.Size(), info.ModTime().UnixNano(), version), true
}

func setAlertGauge(totals map[string]int) {
	for prio, n := range totals {
		metrics.AlertsTotal.WithLabelValues(prio).Set(float64(n))
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
