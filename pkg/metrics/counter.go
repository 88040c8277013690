package metrics

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var log = logging.Logger("metrics")

// Tag keys the vm counters are broken down by.
var (
	KindKey     = tag.MustNewKey("kind")
	ExitCodeKey = tag.MustNewKey("exit_code")
)

// Int64Counter sums int64 measurements, one row per combination of its tag
// keys.
type Int64Counter struct {
	measure *stats.Int64Measure
	view    *view.View
}

// NewInt64Counter registers a counter view. Registering it again is a no-op,
// but it panics if a view with a different aggregation already holds the name.
func NewInt64Counter(name, desc string, keys ...tag.Key) *Int64Counter {
	measure := stats.Int64(name, desc, stats.UnitDimensionless)
	v := &view.View{
		Name:        name,
		Measure:     measure,
		Description: desc,
		TagKeys:     keys,
		Aggregation: view.Sum(),
	}
	if err := view.Register(v); err != nil {
		log.Errorw("registering counter", "name", name, "err", err)
		panic(err)
	}
	return &Int64Counter{measure: measure, view: v}
}

// Inc adds `v` to the row selected by `tags`.
func (c *Int64Counter) Inc(ctx context.Context, v int64, tags ...tag.Mutator) {
	if err := stats.RecordWithTags(ctx, tags, c.measure.M(v)); err != nil {
		log.Warnw("recording counter", "name", c.Name(), "err", err)
	}
}

// Name is the name of the counter's view.
func (c *Int64Counter) Name() string {
	return c.view.Name
}
