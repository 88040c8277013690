package gas

// GasCharge is a single metered cost.
type GasCharge struct { //nolint
	Name  string
	Extra interface{}

	ComputeGas int64
	StorageGas int64
}

// Total is the sum of compute and storage gas.
func (g GasCharge) Total() int64 {
	return g.ComputeGas + g.StorageGas
}

// WithExtra attaches tracing detail to the charge.
func (g GasCharge) WithExtra(extra interface{}) GasCharge {
	out := g
	out.Extra = extra
	return out
}

// NewGasCharge builds a named charge.
func NewGasCharge(name string, computeGas int64, storageGas int64) GasCharge {
	return GasCharge{
		Name:       name,
		ComputeGas: computeGas,
		StorageGas: storageGas,
	}
}
