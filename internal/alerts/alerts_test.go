package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

func TestScoreToPriority(t *testing.T) {
	tests := []struct {
		name    string
		score   float64
		anomaly bool
		want    Priority
	}{
		{"high score", 0.9, false, Red},
		{"red boundary", 0.85, false, Red},
		{"anomaly lowers red cut-off", 0.75, true, Red},
		{"anomaly at red cut-off", 0.7, true, Red},
		{"below red without anomaly", 0.8, false, Yellow},
		{"yellow boundary", 0.55, false, Yellow},
		{"anomaly alone is yellow", 0.1, true, Yellow},
		{"healthy", 0.54, false, Green},
		{"zero", 0, false, Green},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreToPriority(tt.score, tt.anomaly))
		})
	}
}

func TestScoreToPriority_CustomThresholds(t *testing.T) {
	th := Thresholds{Red: 0.6, RedWithAnomaly: 0.4, Yellow: 0.2}
	assert.Equal(t, Red, th.ScoreToPriority(0.65, false))
	assert.Equal(t, Red, th.ScoreToPriority(0.45, true))
	assert.Equal(t, Yellow, th.ScoreToPriority(0.3, false))
	assert.Equal(t, Green, th.ScoreToPriority(0.1, false))
}

func TestScoreToPriority_Monotonic(t *testing.T) {
	rank := map[Priority]int{Green: 0, Yellow: 1, Red: 2}
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Float64Range(0, 1).Draw(rt, "a")
		b := rapid.Float64Range(0, 1).Draw(rt, "b")
		anomaly := rapid.Bool().Draw(rt, "anomaly")
		if a > b {
			a, b = b, a
		}
		if rank[ScoreToPriority(a, anomaly)] > rank[ScoreToPriority(b, anomaly)] {
			rt.Fatalf("priority decreased from %v to %v", a, b)
		}
		if rank[ScoreToPriority(a, false)] > rank[ScoreToPriority(a, true)] {
			rt.Fatalf("anomaly lowered priority at %v", a)
		}
	})
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{Red: 1.2, RedWithAnomaly: 0.7, Yellow: 0.5}.Validate())
	assert.Error(t, Thresholds{Red: 0.5, RedWithAnomaly: 0.7, Yellow: 0.6}.Validate())
}

func TestRecommendedActions(t *testing.T) {
	assert.Equal(t, []string{
		"Throttle non-critical workloads",
		"Scale up pods/instances",
		"Restart affected service with drain",
		"Escalate to on-call SRE",
	}, RecommendedActions(Red))
	assert.Len(t, RecommendedActions(Yellow), 3)
	assert.Equal(t, []string{"No action required", "Monitor metrics"}, RecommendedActions(Green))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Imminent failure risk detected. Immediate action recommended.", Summarize(Red))
	assert.Equal(t, "Elevated risk. Investigate and mitigate to prevent downtime.", Summarize(Yellow))
	assert.Equal(t, "System healthy.", Summarize(Green))
}

func TestNewTotals(t *testing.T) {
	assert.Equal(t, map[string]int{"GREEN": 0, "YELLOW": 0, "RED": 0}, NewTotals())
}

func TestPayload(t *testing.T) {
	p := Payload(Notification{
		Priority: Red,
		Summary:  Summarize(Red),
		Fields: []Field{
			{Title: "timestamp", Value: "2024-01-01 00:00:00"},
			{Title: "risk_score", Value: "0.91"},
		},
	})
	require.Len(t, p.Attachments, 1)
	a := p.Attachments[0]
	assert.Equal(t, "#E01E5A", a.Color)
	assert.Equal(t, "RED Alert - Predictive Downtime", a.Title)
	require.Len(t, a.Fields, 2)
	assert.Equal(t, "timestamp", a.Fields[0].Title)
	assert.True(t, a.Fields[1].Short)

	assert.Equal(t, "#ECB22E", Payload(Notification{Priority: Yellow}).Attachments[0].Color)
}

func TestSlackNotifier_Send(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL, time.Second, nil)
	err := n.Send(context.Background(), Notification{
		Priority: Red,
		Summary:  "down soon",
		Fields:   []Field{{Title: "anomaly", Value: "true"}},
	})
	require.NoError(t, err)

	attachments := got["attachments"].([]any)
	first := attachments[0].(map[string]any)
	assert.Equal(t, "down soon", first["text"])
	fields := first["fields"].([]any)
	assert.Equal(t, map[string]any{"title": "anomaly", "value": "true", "short": true}, fields[0])
}

func TestSlackNotifier_NotifyAsync(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wg.Done()
	}))
	defer server.Close()

	NewSlackNotifier(server.URL, time.Second, nil).Notify(Notification{Priority: Yellow})

	if waitTimeout(&wg, 2*time.Second) {
		t.Fatal("timed out waiting for notification delivery")
	}
}

func TestSlackNotifier_SkipsGreenAndDisabled(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	require.NoError(t, NewSlackNotifier(server.URL, time.Second, nil).Send(context.Background(), Notification{Priority: Green}))
	assert.Zero(t, calls)

	disabled := NewSlackNotifier("", time.Second, nil)
	assert.False(t, disabled.Enabled())
	require.NoError(t, disabled.Send(context.Background(), Notification{Priority: Red}))
	disabled.Notify(Notification{Priority: Red})
}

func TestSlackNotifier_FailureIsLoggedWithoutURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	core, logs := observer.New(zap.WarnLevel)
	n := NewSlackNotifier(server.URL, time.Second, zap.New(core))
	err := n.Send(context.Background(), Notification{Priority: Red})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Equal(t, 1, logs.Len())

	server.Close()
	err = n.Send(context.Background(), Notification{Priority: Red})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), server.URL)
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
