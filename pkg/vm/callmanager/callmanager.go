package callmanager

import (
	"bytes"
	"encoding/binary"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/specs-actors/v8/actors/builtin"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/types"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/engine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/gas"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/kernel"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/machine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

var log = logging.Logger("vm.callmanager")

// ErrFinished is returned by sends after the call manager has finished.
var ErrFinished = xerrors.New("call manager already finished")

// DefaultCallManager runs the call stack of one message. It owns the gas
// tracker and the backtrace of the message.
type DefaultCallManager struct {
	machine    machine.Machine
	gasTracker *gas.GasTracker

	// origin and nonce seed the addresses of actors created by the message.
	origin           address.Address
	nonce            uint64
	numActorsCreated uint64

	callStackDepth uint32
	backtrace      types.Backtrace
	debugLog       *kernel.DebugLog
	finished       bool
}

var _ kernel.CallManager = (*DefaultCallManager)(nil)

// New returns a call manager for a message from `origin` with the given
// nonce and gas limit.
func New(m machine.Machine, gasLimit int64, origin address.Address, nonce uint64) *DefaultCallManager {
	cm := &DefaultCallManager{
		machine:    m,
		gasTracker: gas.NewGasTracker(gasLimit),
		origin:     origin,
		nonce:      nonce,
	}
	if m.Config().Debug {
		cm.debugLog = kernel.NewDebugLog()
	}
	return cm
}

func (cm *DefaultCallManager) Machine() machine.Machine {
	return cm.machine
}

func (cm *DefaultCallManager) GasTracker() *gas.GasTracker {
	return cm.gasTracker
}

func (cm *DefaultCallManager) DebugLog() *kernel.DebugLog {
	return cm.debugLog
}

// Backtrace is the backtrace recorded so far.
func (cm *DefaultCallManager) Backtrace() types.Backtrace {
	return cm.backtrace
}

// Finish ends the message, returning the gas used and the backtrace.
func (cm *DefaultCallManager) Finish() (int64, types.Backtrace) {
	cm.finished = true
	return cm.gasTracker.GasUsed, cm.backtrace
}

// NewActorAddress returns a fresh actor address derived from the origin of
// the message, its nonce and the number of addresses handed out so far.
func (cm *DefaultCallManager) NewActorAddress() (address.Address, error) {
	buf := new(bytes.Buffer)
	if err := cm.origin.MarshalCBOR(buf); err != nil {
		return address.Undef, runtime.WrapFatal(err, "writing caller address into a buffer")
	}
	if err := binary.Write(buf, binary.BigEndian, cm.nonce); err != nil {
		return address.Undef, runtime.WrapFatal(err, "writing nonce address into a buffer")
	}
	if err := binary.Write(buf, binary.BigEndian, cm.numActorsCreated); err != nil {
		return address.Undef, runtime.WrapFatal(err, "writing actor count into a buffer")
	}
	addr, err := address.NewActorAddress(buf.Bytes())
	if err != nil {
		return address.Undef, runtime.WrapFatal(err, "generating actor address")
	}
	cm.numActorsCreated++
	return addr, nil
}

// Send calls `method` on `to` on behalf of `from`, transferring `value`.
// Every state change of the call is reverted when it exits with a non-zero
// code. Only fatal errors are returned as errors.
func (cm *DefaultCallManager) Send(from abi.ActorID, to address.Address, method abi.MethodNum, params []byte, value abi.TokenAmount) (*runtime.InvocationResult, error) {
	if cm.finished {
		return nil, runtime.WrapFatal(ErrFinished, "send")
	}

	if err := cm.gasTracker.Charge(cm.machine.Pricelist().OnMethodInvocation(value, method)); err != nil {
		return cm.failed(from, method, err)
	}

	cm.callStackDepth++
	defer func() { cm.callStackDepth-- }()
	if cm.callStackDepth > cm.machine.Config().MaxCallDepth {
		return cm.failed(from, method, runtime.Abortf(runtime.ExitCallDepthExceeded,
			"call depth %d exceeds limit %d", cm.callStackDepth, cm.machine.Config().MaxCallDepth))
	}

	st := cm.machine.StateTree()
	if err := st.Snapshot(cm.machine.Context()); err != nil {
		return nil, runtime.WrapFatal(err, "state snapshot failed")
	}
	defer st.ClearSnapshot()

	receiver, ret, err := cm.send(from, to, method, params, value)
	if err == nil && cm.gasTracker.OutOfGas() {
		err = xerrors.Errorf("call to %s ignored running out of gas: %w", to, runtime.ErrOutOfGas)
	}
	if err != nil {
		if rerr := st.Revert(); rerr != nil {
			return nil, runtime.WrapFatal(rerr, "failed to revert state tree after failed send")
		}
		return cm.failed(receiver, method, err)
	}

	// failures below a successful call were handled by it
	cm.backtrace.Clear()
	return &runtime.InvocationResult{ExitCode: exitcode.Ok, Return: ret}, nil
}

// failed turns a failed call into its exit code and records it in the
// backtrace. Fatal errors are passed through.
func (cm *DefaultCallManager) failed(source abi.ActorID, method abi.MethodNum, err error) (*runtime.InvocationResult, error) {
	if runtime.IsFatal(err) {
		cm.backtrace.SetFatal(err.Error())
		return nil, err
	}

	var code exitcode.ExitCode
	if runtime.IsOutOfGas(err) {
		code = exitcode.SysErrOutOfGas
	} else if ae, ok := runtime.AsAbortError(err); ok {
		code = ae.Code
		if code == exitcode.Ok {
			code = exitcode.SysErrorIllegalActor
		}
	} else if se, ok := runtime.AsSyscallError(err); ok {
		cm.backtrace.BeginSyscall(kernelModule, se.Number.String(), uint32(se.Number), se.Message)
		code = se.Number.ExitCode()
	} else {
		code = exitcode.ErrIllegalState
	}

	cm.backtrace.PushFrame(types.Frame{
		Source:  source,
		Method:  method,
		Code:    code,
		Message: err.Error(),
	})
	log.Debugw("send aborted", "source", source, "method", method, "code", code, "err", err)
	return &runtime.InvocationResult{ExitCode: code, Return: []byte{}}, nil
}

const (
	kernelModule = "kernel"

	systemActorID abi.ActorID = 0
)

// send runs the call inside the snapshot Send opened. It returns the id
// of the receiver once it is known.
func (cm *DefaultCallManager) send(from abi.ActorID, to address.Address, method abi.MethodNum, params []byte, value abi.TokenAmount) (abi.ActorID, []byte, error) {
	toID, err := cm.resolveOrCreate(to)
	if err != nil {
		return from, nil, err
	}

	if err := cm.transfer(from, toID, value); err != nil {
		return toID, nil, err
	}

	if method == builtin.MethodSend {
		return toID, []byte{}, nil
	}

	ret, err := cm.invoke(from, toID, method, params, value)
	return toID, ret, err
}

// resolveOrCreate finds the id of `to`, creating an account actor for
// key addresses that have not been seen yet.
func (cm *DefaultCallManager) resolveOrCreate(to address.Address) (abi.ActorID, error) {
	ctx := cm.machine.Context()
	st := cm.machine.StateTree()

	resolved, found, err := st.LookupID(ctx, to)
	if err != nil {
		return 0, runtime.WrapFatal(err, "resolving receiver")
	}
	if found {
		id, err := address.IDFromAddress(resolved)
		if err != nil {
			return 0, runtime.WrapFatal(err, "receiver resolved to a non id address")
		}
		return abi.ActorID(id), nil
	}

	switch to.Protocol() {
	case address.SECP256K1, address.BLS:
	default:
		return 0, runtime.Abortf(exitcode.SysErrInvalidReceiver, "actor %s does not exist", to)
	}
	return cm.createAccountActor(to)
}

func (cm *DefaultCallManager) createAccountActor(addr address.Address) (abi.ActorID, error) {
	code, ok := cm.machine.Manifest().Get(types.AccountKey)
	if !ok {
		return 0, runtime.Fatalf("no account actor in the manifest")
	}

	if err := cm.gasTracker.Charge(cm.machine.Pricelist().OnCreateActor()); err != nil {
		return 0, err
	}

	ctx := cm.machine.Context()
	st := cm.machine.StateTree()
	idAddr, err := st.RegisterNewAddress(ctx, addr)
	if err != nil {
		return 0, runtime.WrapFatal(err, "registering new address")
	}
	id, err := address.IDFromAddress(idAddr)
	if err != nil {
		return 0, runtime.WrapFatal(err, "new address is not an id address")
	}
	if err := st.SetActor(ctx, idAddr, types.NewActor(code, constants.EmptyArrCID, big.Zero())); err != nil {
		return 0, runtime.WrapFatal(err, "creating account actor")
	}

	params := new(bytes.Buffer)
	if err := addr.MarshalCBOR(params); err != nil {
		return 0, runtime.WrapFatal(err, "serializing account constructor params")
	}
	res, err := cm.Send(systemActorID, idAddr, builtin.MethodConstructor, params.Bytes(), big.Zero())
	if err != nil {
		return 0, err
	}
	if res.ExitCode != exitcode.Ok {
		return 0, runtime.Abortf(res.ExitCode, "failed to construct account actor %s", addr)
	}
	return abi.ActorID(id), nil
}

// transfer moves value between two existing actors.
func (cm *DefaultCallManager) transfer(from, to abi.ActorID, value abi.TokenAmount) error {
	if value.LessThan(big.Zero()) {
		return runtime.Abortf(exitcode.SysErrForbidden, "attempted to transfer negative value %s", value)
	}

	ctx := cm.machine.Context()
	st := cm.machine.StateTree()
	fromAddr, toAddr := idAddress(from), idAddress(to)

	sender, found, err := st.GetActor(ctx, fromAddr)
	if err != nil {
		return runtime.WrapFatal(err, "loading sender")
	}
	if !found {
		return runtime.Abortf(exitcode.SysErrSenderInvalid, "sender %d does not exist", from)
	}
	if from == to {
		if sender.Balance.LessThan(value) {
			return runtime.Abortf(exitcode.SysErrInsufficientFunds, "insufficient balance %s to send %s", sender.Balance, value)
		}
		return nil
	}
	if !sender.Withdraw(value) {
		return runtime.Abortf(exitcode.SysErrInsufficientFunds, "insufficient balance %s to send %s", sender.Balance, value)
	}

	receiver, found, err := st.GetActor(ctx, toAddr)
	if err != nil {
		return runtime.WrapFatal(err, "loading receiver")
	}
	if !found {
		return runtime.Abortf(exitcode.SysErrInvalidReceiver, "receiver %d does not exist", to)
	}
	receiver.Deposit(value)

	if err := st.SetActor(ctx, fromAddr, sender); err != nil {
		return runtime.WrapFatal(err, "debiting sender")
	}
	return runtime.WrapFatal(st.SetActor(ctx, toAddr, receiver), "crediting receiver")
}

func (cm *DefaultCallManager) invoke(from, to abi.ActorID, method abi.MethodNum, params []byte, value abi.TokenAmount) ([]byte, error) {
	act, found, err := cm.machine.StateTree().GetActor(cm.machine.Context(), idAddress(to))
	if err != nil {
		return nil, runtime.WrapFatal(err, "loading receiver")
	}
	if !found {
		return nil, runtime.Abortf(exitcode.SysErrInvalidReceiver, "receiver %d does not exist", to)
	}

	cfg := cm.machine.Config()
	inst, err := cm.machine.Engine().Instantiate(act.Code, engine.MemoryLimits{
		InitialPages: cfg.InitialPages,
		MaxPages:     cfg.MaxPages,
	})
	if err != nil {
		return nil, err
	}

	ret, err := inst.Invoke(&engine.Invocation{
		Kernel: kernel.New(cm, from, to, method, value),
		Method: method,
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	if ret == nil {
		ret = []byte{}
	}
	return ret, nil
}

func idAddress(id abi.ActorID) address.Address {
	addr, err := address.NewIDAddress(uint64(id))
	if err != nil {
		panic(err)
	}
	return addr
}
