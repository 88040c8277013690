package types

import (
	"testing"

	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"

	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
)

func TestBacktrace(t *testing.T) {
	tf.UnitTest(t)

	var bt Backtrace
	assert.True(t, bt.IsEmpty())

	bt.PushFrame(Frame{Source: 1000, Method: 2, Code: exitcode.ErrForbidden, Message: "stale"})
	bt.BeginSyscall("actor", "resolve_address", 3, "not found")
	assert.Empty(t, bt.Frames)
	assert.NotNil(t, bt.Cause)

	bt.PushFrame(Frame{Source: 1001, Method: 4, Code: exitcode.ErrNotFound, Message: "inner"})
	bt.PushFrame(Frame{Source: 1000, Method: 2, Code: exitcode.ErrNotFound, Message: "outer"})
	assert.Len(t, bt.Frames, 2)

	s := bt.String()
	assert.Contains(t, s, "inner")
	assert.Contains(t, s, "resolve_address")

	bt.SetFatal("boom")
	assert.Contains(t, bt.String(), "[FATAL] boom")

	bt.Clear()
	assert.True(t, bt.IsEmpty())
}
