package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pdsa/internal/alerts"
	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/model"
	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alerts.Notification
}

func (r *recordingNotifier) Notify(n alerts.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// writeDataset writes 100 samples where rows 50-69 sit far above the rest in
// every signal.
func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,cpu,memory,disk_io,net_io,errors\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		ts := start.Add(time.Duration(i) * time.Minute).Format("2006-01-02 15:04:05")
		if i >= 50 && i < 70 {
			fmt.Fprintf(&b, "%s,%.1f,%.1f,%.1f,%.1f,%d\n", ts, 95.0, 95.0, 90.0, 90.0, 5)
			continue
		}
		fmt.Fprintf(&b, "%s,%.1f,%.1f,%.1f,%.1f,%d\n", ts,
			5+float64(i%35), 20+float64(i%40), 5+float64(i%25), 10+float64(i%40), i%2)
	}
	path := filepath.Join(dir, "logs.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testParams() model.Params {
	return model.Params{RiskTrees: 20, RiskMaxDepth: 5, AnomalyTrees: 30, AnomalySampleSize: 64, Contamination: 0.1, Seed: 42}
}

func newPipeline(t *testing.T, ttl time.Duration) (*Pipeline, *recordingNotifier, string) {
	t.Helper()
	dir := t.TempDir()
	n := &recordingNotifier{}
	p := New(Options{
		Store:     model.NewStore(filepath.Join(dir, "models")),
		Params:    testParams(),
		Notifier:  n,
		CacheTTL:  ttl,
		CacheSize: 4,
	})
	return p, n, writeDataset(t, dir)
}

func TestTrain(t *testing.T) {
	p, _, dataset := newPipeline(t, 0)
	assert.False(t, p.ModelsTrained())

	resp, err := p.Train(context.Background(), dataset)
	require.NoError(t, err)
	assert.Equal(t, "trained", resp.Status)
	assert.Equal(t, 100, resp.Samples)
	assert.True(t, p.ModelsTrained())
}

func TestTrain_MissingDataset(t *testing.T) {
	p, _, _ := newPipeline(t, 0)
	_, err := p.Train(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, p.ModelsTrained())
}

func TestTrain_EmptyDataset(t *testing.T) {
	p, _, _ := newPipeline(t, 0)
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,cpu,memory,disk_io,net_io,errors\n"), 0o644))
	_, err := p.Train(context.Background(), path)
	assert.ErrorIs(t, err, telemetry.ErrEmptyDataset)
}

func TestAlerts_BeforeTraining(t *testing.T) {
	p, _, dataset := newPipeline(t, time.Minute)
	_, err := p.Alerts(context.Background(), dataset)
	assert.ErrorIs(t, err, model.ErrModelsNotTrained)
}

func TestAlerts(t *testing.T) {
	p, n, dataset := newPipeline(t, 0)
	ctx := context.Background()
	_, err := p.Train(ctx, dataset)
	require.NoError(t, err)

	resp, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	require.Len(t, resp.Alerts, 100)

	assert.Equal(t, 20, resp.Totals["RED"])
	assert.Equal(t, 80, resp.Totals["GREEN"]+resp.Totals["YELLOW"])
	for i, item := range resp.Alerts {
		if i >= 50 && i < 70 {
			assert.Equal(t, "RED", item.Priority, "row %d", i)
			assert.Equal(t, alerts.RecommendedActions(alerts.Red), item.RecommendedActions)
		}
	}
	assert.Equal(t, "2024-01-01 00:00:00", resp.Alerts[0].Timestamp)

	require.Equal(t, 1, n.count(), "only the first RED alert is sent")
	sent := n.sent[0]
	assert.Equal(t, alerts.Red, sent.Priority)
	assert.Equal(t, alerts.Summarize(alerts.Red), sent.Summary)
	require.Len(t, sent.Fields, 3)
	assert.Equal(t, alerts.Field{Title: "timestamp", Value: "2024-01-01 00:50:00"}, sent.Fields[0])
	assert.Equal(t, "risk_score", sent.Fields[1].Title)
	assert.Equal(t, "anomaly", sent.Fields[2].Title)
}

func TestAlerts_Cache(t *testing.T) {
	p, n, dataset := newPipeline(t, time.Minute)
	ctx := context.Background()
	_, err := p.Train(ctx, dataset)
	require.NoError(t, err)

	first, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	second, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, n.count(), "cache hits do not notify")

	p.SetThresholds(alerts.Thresholds{Red: 0.99, RedWithAnomaly: 0.99, Yellow: 0.5})
	third, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.NotSame(t, first, third, "new thresholds purge the cache")

	_, err = p.Train(ctx, dataset)
	require.NoError(t, err)
	fourth, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.NotSame(t, third, fourth, "training purges the cache")
}

func TestAlerts_CacheSeesModelsSavedElsewhere(t *testing.T) {
	p, _, dataset := newPipeline(t, time.Minute)
	ctx := context.Background()
	_, err := p.Train(ctx, dataset)
	require.NoError(t, err)

	first, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)

	// Another pipeline sharing the model directory retrains.
	other := New(Options{Store: model.NewStore(p.store.Dir()), Params: testParams()})
	_, err = other.Train(ctx, dataset)
	require.NoError(t, err)
	touchModels(t, p.store.Dir(), time.Now().Add(time.Hour))

	second, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Len(t, second.Alerts, 100)

	third, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.Same(t, second, third)
}

func TestAlerts_CacheDisabled(t *testing.T) {
	p, n, dataset := newPipeline(t, 0)
	ctx := context.Background()
	_, err := p.Train(ctx, dataset)
	require.NoError(t, err)

	first, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	second, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, 2, n.count())
}

func TestAlerts_ThresholdsApplied(t *testing.T) {
	p, _, dataset := newPipeline(t, 0)
	ctx := context.Background()
	_, err := p.Train(ctx, dataset)
	require.NoError(t, err)

	// Every risk score is at most 1, so nothing can reach RED.
	p.SetThresholds(alerts.Thresholds{Red: 1.5, RedWithAnomaly: 1.5, Yellow: 0.5})
	assert.Equal(t, 1.5, p.Thresholds().Red)

	resp, err := p.Alerts(ctx, dataset)
	require.NoError(t, err)
	assert.Zero(t, resp.Totals["RED"])
	assert.Equal(t, 20, resp.Totals["YELLOW"])
}

func TestPredict(t *testing.T) {
	p, _, dataset := newPipeline(t, 0)
	ctx := context.Background()
	_, err := p.Train(ctx, dataset)
	require.NoError(t, err)

	records := []telemetry.Record{
		{Timestamp: "2024-01-01 00:00:00", CPU: 10, Memory: 25, DiskIO: 8, NetIO: 12, Errors: 0},
		{Timestamp: "2024-01-01 00:01:00", CPU: 95, Memory: 95, DiskIO: 90, NetIO: 90, Errors: 5},
		{Timestamp: "2024-01-01 00:02:00", CPU: 12, Memory: 22, DiskIO: 6, NetIO: 15, Errors: 1},
	}
	resp, err := p.Predict(ctx, records)
	require.NoError(t, err)
	require.Len(t, resp.RiskScores, 3)
	require.Len(t, resp.AnomalyFlags, 3)
	for i, s := range resp.RiskScores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		assert.Equal(t, round4(s), s, "score %d is rounded", i)
		assert.Contains(t, []int{0, 1}, resp.AnomalyFlags[i])
	}
	assert.Greater(t, resp.RiskScores[1], resp.RiskScores[0])
}

func TestPredict_Errors(t *testing.T) {
	p, _, dataset := newPipeline(t, 0)
	ctx := context.Background()

	_, err := p.Predict(ctx, []telemetry.Record{{CPU: 1}})
	assert.ErrorIs(t, err, model.ErrModelsNotTrained)

	_, err = p.Train(ctx, dataset)
	require.NoError(t, err)

	_, err = p.Predict(ctx, nil)
	assert.ErrorIs(t, err, telemetry.ErrEmptyDataset)

	_, err = p.Predict(ctx, []telemetry.Record{{CPU: 1}, {CPU: -3}})
	require.ErrorIs(t, err, telemetry.ErrInvalidRecord)
	assert.Contains(t, err.Error(), "records[1].cpu")
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, round4(0.123456))
	assert.Equal(t, 1.0, round4(0.99999))
	assert.Equal(t, 0.0, round4(0.00001))
}

// touchModels moves the modification time of every file in dir to at.
func touchModels(t *testing.T, dir string, at time.Time) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, os.Chtimes(filepath.Join(dir, e.Name()), at, at))
	}
}

func TestCacheKey(t *testing.T) {
	dir := t.TempDir()
	store := model.NewStore(filepath.Join(dir, "models"))
	path := writeDataset(t, dir)

	_, ok := cacheKey(path, store)
	assert.False(t, ok, "no models on disk")

	_, err := New(Options{Store: store, Params: testParams()}).Train(context.Background(), path)
	require.NoError(t, err)

	_, ok = cacheKey(filepath.Join(dir, "missing.csv"), store)
	assert.False(t, ok)

	before, ok := cacheKey(path, store)
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("timestamp,cpu\n2024-01-01,1\n"), 0o644))
	edited, ok := cacheKey(path, store)
	require.True(t, ok)
	assert.NotEqual(t, before, edited)

	touchModels(t, store.Dir(), time.Now().Add(time.Hour))
	retrained, ok := cacheKey(path, store)
	require.True(t, ok)
	assert.NotEqual(t, edited, retrained)
}
