package engine

import (
	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

// MemoryLimits bound the linear memory of one instance, in pages.
type MemoryLimits struct {
	InitialPages uint32
	MaxPages     uint32
}

// Memory is the linear memory of an actor instance.
type Memory struct {
	data     []byte
	maxPages uint32
}

// NewMemory allocates the initial pages of a memory.
func NewMemory(limits MemoryLimits) (*Memory, error) {
	if limits.InitialPages > limits.MaxPages {
		return nil, runtime.Fatalf("initial pages %d exceed max pages %d", limits.InitialPages, limits.MaxPages)
	}
	return &Memory{
		data:     make([]byte, int(limits.InitialPages)*constants.PageSize),
		maxPages: limits.MaxPages,
	}, nil
}

// Pages is the current size in pages.
func (m *Memory) Pages() uint32 {
	return uint32(len(m.data) / constants.PageSize)
}

// Size is the current size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// Grow adds delta zeroed pages and returns the previous page count.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	prev := m.Pages()
	if uint64(prev)+uint64(delta) > uint64(m.maxPages) {
		return prev, runtime.NewSyscallError(runtime.ErrLimitExceeded, "cannot grow memory from %d by %d pages, max is %d", prev, delta, m.maxPages)
	}
	m.data = append(m.data, make([]byte, int(delta)*constants.PageSize)...)
	return prev, nil
}

// Read returns a copy of [off, off+length).
func (m *Memory) Read(off, length uint32) ([]byte, error) {
	if err := m.check(off, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[off:off+length])
	return out, nil
}

// Write stores data at off.
func (m *Memory) Write(off uint32, data []byte) error {
	if err := m.check(off, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[off:], data)
	return nil
}

func (m *Memory) check(off, length uint32) error {
	if uint64(off)+uint64(length) > uint64(len(m.data)) {
		return runtime.NewSyscallError(runtime.ErrIllegalArgument, "buffer [%d, %d) out of bounds of memory of size %d", off, uint64(off)+uint64(length), len(m.data))
	}
	return nil
}
