package gas

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

// GasTrace records one charge when gas tracing is enabled.
type GasTrace struct { //nolint
	Name  string
	Extra interface{}

	TotalGas   int64
	ComputeGas int64
	StorageGas int64

	TimeTaken time.Duration
}

// GasTracker maintains the state of gas usage throughout the execution of a message.
type GasTracker struct { //nolint
	GasAvailable int64
	GasUsed      int64

	Traces []*GasTrace

	outOfGas bool

	lastGasChargeTime time.Time
	lastGasCharge     *GasTrace
}

// NewGasTracker initializes a new empty gas tracker. A negative limit is
// treated as zero.
func NewGasTracker(limit int64) *GasTracker {
	if limit < 0 {
		limit = 0
	}
	return &GasTracker{
		GasUsed:      0,
		GasAvailable: limit,
	}
}

// Charge will add the gas charge to the current method gas context. It
// returns an error wrapping runtime.ErrOutOfGas if there is not enough gas
// left, in which case all remaining gas is consumed.
func (t *GasTracker) Charge(gas GasCharge) error {
	if ok := t.TryCharge(gas); !ok {
		return xerrors.Errorf("gas limit %d exceeded with charge %s of %d: %w",
			t.GasAvailable, gas.Name, gas.Total(), runtime.ErrOutOfGas)
	}
	return nil
}

// EnableDetailedTracing, if true, outputs gas tracing in execution traces.
var EnableDetailedTracing = constants.EnableGasTracing

// TryCharge charges `amount` or `GasLeft()`, whichever is smaller.
//
// Returns `True` if the there was enough gas to pay for `amount`.
func (t *GasTracker) TryCharge(gasCharge GasCharge) bool {
	toUse := gasCharge.Total()
	// gas already spent is never given back
	if toUse < 0 {
		toUse = 0
	}
	if EnableDetailedTracing {
		now := time.Now()
		if t.lastGasCharge != nil {
			t.lastGasCharge.TimeTaken = now.Sub(t.lastGasChargeTime)
		}

		gasTrace := GasTrace{
			Name:  gasCharge.Name,
			Extra: gasCharge.Extra,

			TotalGas:   toUse,
			ComputeGas: gasCharge.ComputeGas,
			StorageGas: gasCharge.StorageGas,
		}

		t.Traces = append(t.Traces, &gasTrace)
		t.lastGasChargeTime = now
		t.lastGasCharge = &gasTrace
	}

	// overflow safe
	if t.GasUsed > t.GasAvailable-toUse {
		t.GasUsed = t.GasAvailable
		t.outOfGas = true
		return false
	}
	t.GasUsed += toUse
	return true
}

// GasLeft is the gas that can still be charged.
func (t *GasTracker) GasLeft() int64 {
	return t.GasAvailable - t.GasUsed
}

// OutOfGas is true once a charge has failed. It stays true even if the
// failure was ignored by the caller.
func (t *GasTracker) OutOfGas() bool {
	return t.outOfGas
}
