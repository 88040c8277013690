package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

// Float64Timer records durations in milliseconds.
type Float64Timer struct {
	measureMs *stats.Float64Measure
	view      *view.View
}

// NewTimerMs creates a Float64Timer that records durations in milliseconds.
func NewTimerMs(name, desc string) *Float64Timer {
	fMeasure := stats.Float64(name, desc, stats.UnitMilliseconds)
	fView := &view.View{
		Name:        name,
		Measure:     fMeasure,
		Description: desc,
		Aggregation: view.Distribution(0, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000),
	}
	if err := view.Register(fView); err != nil {
		// same as NewInt64Counter, a conflicting view is a developer error.
		panic(err)
	}

	return &Float64Timer{
		measureMs: fMeasure,
		view:      fView,
	}
}

// Start starts a stopwatch for the timer.
func (t *Float64Timer) Start(ctx context.Context) *Stopwatch {
	return &Stopwatch{
		start:    time.Now(),
		recorder: t.measureMs.M,
	}
}

// Stopwatch measures one duration.
type Stopwatch struct {
	start    time.Time
	recorder func(v float64) stats.Measurement
}

// Stop records the time elapsed since Start and returns it.
func (sw *Stopwatch) Stop(ctx context.Context) time.Duration {
	duration := time.Since(sw.start)
	stats.Record(ctx, sw.recorder(float64(duration)/1e6))
	return duration
}
