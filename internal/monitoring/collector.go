// Package monitoring summarizes recent run history and raises alerts when
// failure rate, spend or intent acceptance drift past configured limits.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/store"
)

// collectLimit caps how many runs one snapshot reads.
const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsInFlight int     `json:"runs_in_flight"`
	FailRate     float64 `json:"fail_rate"`

	CostUSD   float64 `json:"cost_usd"`
	AvgTokens int     `json:"avg_tokens"`

	// Averages over complete runs.
	Conversations int     `json:"conversations"`
	AvgIntents    float64 `json:"avg_intents"`
	AcceptRate    float64 `json:"accept_rate"`
	AvgDurSecs    float64 `json:"avg_duration_secs"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the run store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var (
		totalTokens int
		intents     int
		accepted    int
		totalDur    time.Duration
	)
	for _, r := range runs {
		switch {
		case r.Status == model.RunStatusComplete:
			snap.RunsComplete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			if r.Result != nil {
				snap.Conversations += r.Result.Conversations
				intents += r.Result.UniqueIntents
				accepted += r.Result.Accepted
			}
		case r.Status == model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInFlight++
		}
		if r.Result != nil {
			snap.CostUSD += r.Result.TotalCost
			totalTokens += r.Result.TotalTokens
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokens = totalTokens / snap.RunsTotal
	}
	if snap.RunsComplete > 0 {
		snap.AvgIntents = float64(intents) / float64(snap.RunsComplete)
		snap.AvgDurSecs = totalDur.Seconds() / float64(snap.RunsComplete)
	}
	if snap.Conversations > 0 {
		snap.AcceptRate = float64(accepted) / float64(snap.Conversations)
	}

	return snap, nil
}
