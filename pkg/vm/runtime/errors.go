package runtime

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/exitcode"
	"golang.org/x/xerrors"
)

// Exit codes the machine itself produces.
const (
	// ExitIllegalInstruction is returned when actor code traps.
	ExitIllegalInstruction = exitcode.SysErrReserved1
	// ExitCallDepthExceeded is returned when a send would exceed the maximum call depth.
	ExitCallDepthExceeded = exitcode.SysErrForbidden
	// ExitExternError is returned when the externs cannot answer a query.
	ExitExternError = exitcode.SysErrReserved2
)

// ErrorNumber classifies a failed syscall. Actors receive it instead of an
// abort and may handle it.
type ErrorNumber uint32

const (
	ErrIllegalArgument ErrorNumber = iota + 1
	ErrIllegalOperation
	ErrLimitExceeded
	ErrAssertionFailed
	ErrInsufficientFunds
	ErrNotFound
	ErrInvalidHandle
	ErrIllegalCid
	ErrIllegalCodec
	ErrSerialization
	ErrForbidden
	ErrBufferTooSmall
)

var errorNumberNames = map[ErrorNumber]string{
	ErrIllegalArgument:   "illegal argument",
	ErrIllegalOperation:  "illegal operation",
	ErrLimitExceeded:     "limit exceeded",
	ErrAssertionFailed:   "assertion failed",
	ErrInsufficientFunds: "insufficient funds",
	ErrNotFound:          "not found",
	ErrInvalidHandle:     "invalid handle",
	ErrIllegalCid:        "illegal cid",
	ErrIllegalCodec:      "illegal codec",
	ErrSerialization:     "serialization error",
	ErrForbidden:         "forbidden",
	ErrBufferTooSmall:    "buffer too small",
}

func (e ErrorNumber) String() string {
	if s, ok := errorNumberNames[e]; ok {
		return s
	}
	return fmt.Sprintf("ErrorNumber(%d)", uint32(e))
}

// ExitCode is the exit code an actor aborts with when it does not handle
// a syscall error itself.
func (e ErrorNumber) ExitCode() exitcode.ExitCode {
	switch e {
	case ErrIllegalArgument:
		return exitcode.ErrIllegalArgument
	case ErrNotFound:
		return exitcode.ErrNotFound
	case ErrForbidden:
		return exitcode.ErrForbidden
	case ErrInsufficientFunds:
		return exitcode.ErrInsufficientFunds
	case ErrSerialization, ErrIllegalCid, ErrIllegalCodec:
		return exitcode.ErrSerialization
	default:
		return exitcode.ErrIllegalState
	}
}

// SyscallError is a recoverable syscall failure.
type SyscallError struct {
	Number  ErrorNumber
	Message string
}

// NewSyscallError builds a SyscallError.
func NewSyscallError(num ErrorNumber, msg string, args ...interface{}) *SyscallError {
	return &SyscallError{Number: num, Message: fmt.Sprintf(msg, args...)}
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("syscall error: %s (%s)", e.Message, e.Number)
}

// AbortError ends the current call with an exit code. Nested aborts surface
// to the caller as the exit code of its send.
type AbortError struct {
	Code    exitcode.ExitCode
	Message string
}

// Abortf builds an AbortError.
func Abortf(code exitcode.ExitCode, msg string, args ...interface{}) *AbortError {
	return &AbortError{Code: code, Message: fmt.Sprintf(msg, args...)}
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort(%d): %s", e.Code, e.Message)
}

// ErrOutOfGas is returned by every charge once the gas limit is reached.
var ErrOutOfGas = xerrors.New("out of gas")

// FatalError is an engine failure. It stops the batch and poisons the executor.
type FatalError struct {
	Err error
}

// Fatalf builds a FatalError.
func Fatalf(msg string, args ...interface{}) *FatalError {
	return &FatalError{Err: xerrors.Errorf(msg, args...)}
}

// WrapFatal wraps err unless it already is fatal. A nil err stays nil.
func WrapFatal(err error, msg string) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &FatalError{Err: xerrors.Errorf("%s: %w", msg, err)}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error: %s", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return xerrors.As(err, &fe)
}

// IsOutOfGas reports whether err is the out of gas condition.
func IsOutOfGas(err error) bool {
	return xerrors.Is(err, ErrOutOfGas)
}

// AsSyscallError returns the syscall error wrapped in err, if any.
func AsSyscallError(err error) (*SyscallError, bool) {
	var se *SyscallError
	if xerrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsAbortError returns the abort wrapped in err, if any.
func AsAbortError(err error) (*AbortError, bool) {
	var ae *AbortError
	if xerrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
