package types

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/exitcode"
)

// ApplyKind tells the executor how a message reached it.
type ApplyKind int

const (
	// Explicit messages are signed and included on chain.
	Explicit ApplyKind = iota
	// Implicit messages are generated by the system, such as cron and rewards.
	Implicit
)

func (k ApplyKind) String() string {
	switch k {
	case Explicit:
		return "explicit"
	case Implicit:
		return "implicit"
	default:
		return fmt.Sprintf("ApplyKind(%d)", int(k))
	}
}

// MessageReceipt is what is returned by executing a message on the vm.
type MessageReceipt struct {
	ExitCode exitcode.ExitCode
	Return   []byte
	GasUsed  int64
}

// Failure returns with a non-zero exit code and an empty return value.
func Failure(exitCode exitcode.ExitCode, gasAmount int64) MessageReceipt {
	return MessageReceipt{
		ExitCode: exitCode,
		Return:   []byte{},
		GasUsed:  gasAmount,
	}
}

func (r *MessageReceipt) String() string {
	return fmt.Sprintf("{ExitCode: %d, Return: %x, GasUsed: %d}", r.ExitCode, r.Return, r.GasUsed)
}
