package types

import (
	"fmt"
	"strings"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
)

// Frame is one aborted call in a backtrace.
type Frame struct {
	// Source is the id of the actor that aborted.
	Source abi.ActorID
	Method abi.MethodNum
	Code   exitcode.ExitCode
	// Message describes the abort.
	Message string
}

func (f Frame) String() string {
	return fmt.Sprintf("%08d::%d -- %s (%d)", f.Source, f.Method, f.Message, f.Code)
}

// Cause is the syscall or fatal error that started an abort chain.
type Cause struct {
	Module   string
	Function string
	// ErrorNumber is zero for fatal causes.
	ErrorNumber uint32
	Message     string
	Fatal       bool
}

func (c *Cause) String() string {
	if c.Fatal {
		return fmt.Sprintf("[FATAL] %s", c.Message)
	}
	return fmt.Sprintf("%s::%s -- %s (%d)", c.Module, c.Function, c.Message, c.ErrorNumber)
}

// Backtrace is accumulated while an abort unwinds through nested calls.
// Frames are ordered from the innermost call outwards.
type Backtrace struct {
	Frames []Frame
	Cause  *Cause
}

// IsEmpty is true when nothing was recorded.
func (bt *Backtrace) IsEmpty() bool {
	return len(bt.Frames) == 0 && bt.Cause == nil
}

// Clear drops all frames and the cause.
func (bt *Backtrace) Clear() {
	bt.Frames = nil
	bt.Cause = nil
}

// PushFrame records an aborted call.
func (bt *Backtrace) PushFrame(f Frame) {
	bt.Frames = append(bt.Frames, f)
}

// BeginSyscall records the syscall failure that starts an abort chain and
// drops any frames left from earlier, recovered failures.
func (bt *Backtrace) BeginSyscall(module, function string, errNo uint32, msg string) {
	bt.Clear()
	bt.Cause = &Cause{Module: module, Function: function, ErrorNumber: errNo, Message: msg}
}

// SetFatal records a fatal cause.
func (bt *Backtrace) SetFatal(msg string) {
	bt.Cause = &Cause{Message: msg, Fatal: true}
}

func (bt *Backtrace) String() string {
	var sb strings.Builder
	for i, f := range bt.Frames {
		fmt.Fprintf(&sb, "%02d: %s\n", i, f)
	}
	if bt.Cause != nil {
		fmt.Fprintf(&sb, "--> caused by: %s\n", bt.Cause)
	}
	return sb.String()
}
