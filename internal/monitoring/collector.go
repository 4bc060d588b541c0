// Package monitoring watches production health and posts webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
	"github.com/sells-group/pcp-cli/internal/resilience"
)

// Snapshot is a point-in-time view of production health.
type Snapshot struct {
	// Yesterday is the last closed day; Workday is false on weekends.
	Yesterday model.TargetProgress `json:"yesterday"`
	Workday   bool                 `json:"workday"`

	// MonthToDate runs from the first of the month to the last closed day.
	MonthToDate model.TargetProgress `json:"month_to_date"`

	Issues     int    `json:"issues"`
	FetchError string `json:"fetch_error,omitempty"`
	Circuit    string `json:"circuit,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Source is the part of the engine the collector reads.
type Source interface {
	Resolve(req period.Request) (period.Range, error)
	Targets(ctx context.Context, req period.Request) (model.TargetProgress, error)
	State() engine.State
}

// Collector gathers snapshots from an engine.
type Collector struct {
	source  Source
	breaker *resilience.CircuitBreaker
	now     func() time.Time
}

// NewCollector creates a collector. breaker may be nil.
func NewCollector(src Source, breaker *resilience.CircuitBreaker) *Collector {
	return &Collector{source: src, breaker: breaker, now: time.Now}
}

// Collect gathers a snapshot. Store failures are recorded in the snapshot
// rather than returned so they can raise an alert.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: c.now().UTC()}
	if c.breaker != nil {
		snap.Circuit = c.breaker.State().String()
	}

	today := period.Request{Period: period.Today}
	day, err := c.source.Resolve(today)
	if err != nil {
		return nil, err
	}
	snap.Workday = day.Weekdays() > 0

	if snap.Yesterday, err = c.source.Targets(ctx, today); err != nil {
		snap.FetchError = err.Error()
		return snap, nil
	}

	start := time.Date(day.Start.Year(), day.Start.Month(), 1, 0, 0, 0, 0, day.Start.Location())
	mtd := period.Request{Period: period.Custom, Start: &start, End: &day.Start}
	if snap.MonthToDate, err = c.source.Targets(ctx, mtd); err != nil {
		snap.FetchError = err.Error()
		return snap, nil
	}

	snap.Issues = len(c.source.State().Issues)
	return snap, nil
}
