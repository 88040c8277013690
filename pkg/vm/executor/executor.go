package executor

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/specs-actors/v8/actors/builtin"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/metrics"
	"github.com/tanqiangyes/ref-fvm/pkg/types"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/callmanager"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/gas"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/machine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

var log = logging.Logger("vm.executor")

// ErrPoisoned is returned by every call on an executor that hit a fatal error
// or was consumed.
var ErrPoisoned = xerrors.New("executor has been poisoned or consumed")

var (
	applyTimer       = metrics.NewTimerMs("vm/apply_message_ms", "Duration of message application in milliseconds")
	messagesApplied  = metrics.NewInt64Counter("vm/messages_applied", "Number of messages applied", metrics.KindKey)
	messagesFailed   = metrics.NewInt64Counter("vm/messages_failed", "Number of applied messages exiting with a non-zero code", metrics.ExitCodeKey)
	messagesRejected = metrics.NewInt64Counter("vm/messages_rejected", "Number of messages rejected before execution")
	gasUsedTotal     = metrics.NewInt64Counter("vm/gas_used", "Gas used by applied messages")
)

// ApplyRet is the outcome of applying one message.
type ApplyRet struct {
	Receipt types.MessageReceipt
	// Penalty is charged to the miner that included the message.
	Penalty  abi.TokenAmount
	MinerTip abi.TokenAmount

	GasOutputs gas.GasOutputs
	// Backtrace is empty unless the message failed.
	Backtrace types.Backtrace
	// DebugLog holds the actor logs when the machine runs in debug mode.
	DebugLog string
}

// DefaultExecutor applies messages to a machine, one at a time.
type DefaultExecutor struct {
	machine *machine.DefaultMachine

	poisoned bool
	consumed bool
}

func NewDefaultExecutor(m *machine.DefaultMachine) *DefaultExecutor {
	return &DefaultExecutor{machine: m}
}

func (e *DefaultExecutor) usable() error {
	if e.poisoned || e.consumed {
		return ErrPoisoned
	}
	return nil
}

// Machine is the machine messages are applied to.
func (e *DefaultExecutor) Machine() machine.Machine {
	return e.machine
}

// Flush commits the state tree and returns its root.
func (e *DefaultExecutor) Flush(ctx context.Context) (cid.Cid, error) {
	if err := e.usable(); err != nil {
		return cid.Undef, err
	}
	return e.machine.Flush(ctx)
}

// Consume hands the machine back. It returns false if the executor was
// already consumed or a fatal error poisoned it.
func (e *DefaultExecutor) Consume() (*machine.DefaultMachine, bool) {
	if e.usable() != nil {
		return nil, false
	}
	e.consumed = true
	return e.machine, true
}

// ExecuteEncodedMessage decodes a message from its canonical encoding and
// applies it. A malformed encoding is fatal.
func (e *DefaultExecutor) ExecuteEncodedMessage(ctx context.Context, raw []byte, kind types.ApplyKind) (*ApplyRet, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	msg, err := types.DecodeMessage(raw)
	if err != nil {
		e.poisoned = true
		return nil, err
	}
	size := len(raw) + e.machine.Pricelist().SignatureOverhead(msg.From.Protocol())
	return e.ExecuteMessage(ctx, msg, kind, size)
}

// ApplyBatch applies the encoded messages in order. It stops at the first
// fatal error, returning the results so far.
func (e *DefaultExecutor) ApplyBatch(ctx context.Context, raws [][]byte, kind types.ApplyKind) ([]*ApplyRet, error) {
	ctx, span := trace.StartSpan(ctx, "executor.ApplyBatch")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("messages", int64(len(raws))))

	rets := make([]*ApplyRet, 0, len(raws))
	for i, raw := range raws {
		ret, err := e.ExecuteEncodedMessage(ctx, raw, kind)
		if err != nil {
			return rets, xerrors.Errorf("applying message %d: %w", i, err)
		}
		rets = append(rets, ret)
	}
	return rets, nil
}

// ExecuteMessage applies msg. Per message failures are reported in the
// receipt, only fatal errors are returned. A fatal error poisons the
// executor.
func (e *DefaultExecutor) ExecuteMessage(ctx context.Context, msg *types.Message, kind types.ApplyKind, onChainSize int) (*ApplyRet, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := checkMessage(msg); err != nil {
		e.poisoned = true
		return nil, err
	}
	if onChainSize < 0 {
		return nil, xerrors.Errorf("negative on-chain size %d", onChainSize)
	}

	ctx, span := trace.StartSpan(ctx, "executor.ExecuteMessage")
	defer span.End()
	if span.IsRecordingEvents() {
		span.AddAttributes(
			trace.StringAttribute("kind", kind.String()),
			trace.StringAttribute("from", msg.From.String()),
			trace.StringAttribute("to", msg.To.String()),
			trace.Int64Attribute("method", int64(msg.Method)),
		)
	}
	sw := applyTimer.Start(ctx)
	defer sw.Stop(ctx)

	var (
		ret *ApplyRet
		err error
	)
	switch kind {
	case types.Explicit:
		ret, err = e.applyExplicit(ctx, msg, onChainSize)
	case types.Implicit:
		ret, err = e.applyImplicit(ctx, msg)
	default:
		return nil, xerrors.Errorf("unknown apply kind %s", kind)
	}
	if err != nil {
		e.poisoned = true
		log.Errorw("fatal error applying message", "msg", msg, "err", err)
		return nil, err
	}

	messagesApplied.Inc(ctx, 1, tag.Upsert(metrics.KindKey, kind.String()))
	gasUsedTotal.Inc(ctx, ret.Receipt.GasUsed)
	if ret.Receipt.ExitCode != exitcode.Ok {
		messagesFailed.Inc(ctx, 1, tag.Upsert(metrics.ExitCodeKey, ret.Receipt.ExitCode.String()))
	}
	return ret, nil
}

func checkMessage(msg *types.Message) error {
	switch {
	case msg == nil:
		return &types.DeserializationError{Err: xerrors.New("nil message")}
	case msg.To == address.Undef, msg.From == address.Undef:
		return &types.DeserializationError{Err: xerrors.New("message addresses must be defined")}
	case msg.Value.Int == nil, msg.GasFeeCap.Int == nil, msg.GasPremium.Int == nil:
		return &types.DeserializationError{Err: xerrors.New("message amounts must be defined")}
	}
	return nil
}

// reject builds the receipt of a message that was never executed.
func (e *DefaultExecutor) reject(ctx context.Context, code exitcode.ExitCode, penalty abi.TokenAmount, reason string, args ...interface{}) *ApplyRet {
	log.Debugw("message rejected", "code", code, "reason", xerrors.Errorf(reason, args...))
	messagesRejected.Inc(ctx, 1)

	out := gas.ZeroGasOutputs()
	out.MinerPenalty = penalty
	return &ApplyRet{
		Receipt:    types.Failure(code, 0),
		Penalty:    penalty,
		MinerTip:   big.Zero(),
		GasOutputs: out,
	}
}

func (e *DefaultExecutor) resolveSender(from address.Address) (abi.ActorID, bool, error) {
	m := e.machine
	idAddr, found, err := m.StateTree().LookupID(m.Context(), from)
	if err != nil {
		return 0, false, runtime.WrapFatal(err, "resolving sender")
	}
	if !found {
		return 0, false, nil
	}
	id, err := address.IDFromAddress(idAddr)
	if err != nil {
		return 0, false, runtime.WrapFatal(err, "sender resolved to a non id address")
	}
	return abi.ActorID(id), true, nil
}

// applyExplicit charges for inclusion, checks the sender, withholds the gas
// funds, runs the message and settles the gas funds.
func (e *DefaultExecutor) applyExplicit(ctx context.Context, msg *types.Message, onChainSize int) (*ApplyRet, error) {
	m := e.machine
	mctx := m.Context()
	st := m.StateTree()
	pl := m.Pricelist()
	baseFee := m.BaseFee()

	inclusion := pl.OnChainMessage(onChainSize)
	if err := msg.ValidForBlockInclusion(); err != nil {
		return e.reject(ctx, exitcode.SysErrSenderStateInvalid, big.Mul(baseFee, big.NewInt(inclusion.Total())),
			"invalid message: %s", err), nil
	}

	cm := callmanager.New(m, msg.GasLimit, msg.From, msg.Nonce)

	// 1. charge for the bytes used in the chain
	if !cm.GasTracker().TryCharge(inclusion) {
		// the miner pays for the full inclusion cost, not what was consumed
		return e.reject(ctx, exitcode.SysErrOutOfGas, big.Mul(baseFee, big.NewInt(inclusion.Total())),
			"gas limit %d below inclusion cost %d", msg.GasLimit, inclusion.Total()), nil
	}

	// 2. check the sender
	penalty := big.Mul(baseFee, big.NewInt(msg.GasLimit))
	fromID, found, err := e.resolveSender(msg.From)
	if err != nil {
		return nil, err
	}
	if !found {
		return e.reject(ctx, exitcode.SysErrSenderInvalid, penalty, "sender %s does not exist", msg.From), nil
	}
	fromAddr, err := address.NewIDAddress(uint64(fromID))
	if err != nil {
		return nil, runtime.WrapFatal(err, "sender id address")
	}
	fromAct, found, err := st.GetActor(mctx, fromAddr)
	if err != nil {
		return nil, runtime.WrapFatal(err, "loading sender")
	}
	if !found {
		return e.reject(ctx, exitcode.SysErrSenderInvalid, penalty, "sender %s does not exist", msg.From), nil
	}
	if !m.Manifest().IsAccountActor(fromAct.Code) {
		return e.reject(ctx, exitcode.SysErrSenderInvalid, penalty, "sender %s is not an account actor", msg.From), nil
	}
	if msg.Nonce != fromAct.Nonce {
		return e.reject(ctx, exitcode.SysErrSenderStateInvalid, penalty,
			"message nonce %d does not match sender nonce %d", msg.Nonce, fromAct.Nonce), nil
	}
	gasCost := msg.RequiredFunds()
	if fromAct.Balance.LessThan(big.Add(gasCost, msg.Value)) {
		return e.reject(ctx, exitcode.SysErrSenderStateInvalid, penalty,
			"sender balance %s below value %s plus gas cost %s", fromAct.Balance, msg.Value, gasCost), nil
	}

	// 3. withhold the gas funds and bump the nonce, both survive a failed execution
	if !fromAct.Withdraw(gasCost) {
		return nil, runtime.Fatalf("failed to withdraw gas funds from %s", msg.From)
	}
	gasHolder := big.Add(big.Zero(), gasCost)
	fromAct.IncrementSequence()
	if err := st.SetActor(mctx, fromAddr, fromAct); err != nil {
		return nil, runtime.WrapFatal(err, "updating sender")
	}

	// 4. run the message
	if err := st.Snapshot(mctx); err != nil {
		return nil, runtime.WrapFatal(err, "state snapshot failed")
	}
	defer st.ClearSnapshot()

	res, err := cm.Send(fromID, msg.To, msg.Method, msg.Params, msg.Value)
	if err != nil {
		return nil, err
	}
	code, retData := res.ExitCode, res.Return

	// 5. charge for the space used by the return value
	if !cm.GasTracker().TryCharge(pl.OnChainReturnValue(len(retData))) {
		code = exitcode.SysErrOutOfGas
		retData = []byte{}
	}
	if code != exitcode.Ok {
		if err := st.Revert(); err != nil {
			return nil, runtime.WrapFatal(err, "reverting failed message")
		}
	}

	gasUsed, bt := cm.Finish()
	if gasUsed < 0 {
		gasUsed = 0
	}

	// 6. settle the gas funds
	outputs := gas.ComputeGasOutputs(gasUsed, msg.GasLimit, baseFee, msg.GasFeeCap, msg.GasPremium, true)
	for _, pay := range []struct {
		to  address.Address
		amt abi.TokenAmount
		why string
	}{
		{builtin.BurntFundsActorAddr, outputs.BaseFeeBurn, "burn base fee"},
		{builtin.RewardActorAddr, outputs.MinerTip, "give miner gas reward"},
		{builtin.BurntFundsActorAddr, outputs.OverEstimationBurn, "burn overestimation fee"},
		{fromAddr, outputs.Refund, "refund gas"},
	} {
		if err := e.transferFromGasHolder(pay.to, &gasHolder, pay.amt); err != nil {
			return nil, runtime.WrapFatal(err, "failed to "+pay.why)
		}
	}
	if !gasHolder.IsZero() {
		return nil, runtime.Fatalf("gas handling math is wrong, %s left in the gas holder", gasHolder)
	}

	ret := &ApplyRet{
		Receipt: types.MessageReceipt{
			ExitCode: code,
			Return:   retData,
			GasUsed:  gasUsed,
		},
		Penalty:    outputs.MinerPenalty,
		MinerTip:   outputs.MinerTip,
		GasOutputs: outputs,
		DebugLog:   cm.DebugLog().String(),
	}
	if code != exitcode.Ok {
		ret.Backtrace = bt
		log.Debugw("message failed", "from", msg.From, "nonce", msg.Nonce, "code", code, "backtrace", bt.String())
	}
	return ret, nil
}

func (e *DefaultExecutor) transferFromGasHolder(to address.Address, holder *abi.TokenAmount, amt abi.TokenAmount) error {
	if amt.LessThan(big.Zero()) {
		return xerrors.Errorf("attempted to transfer negative value %s from gas holder", amt)
	}
	if amt.IsZero() {
		return nil
	}
	if holder.LessThan(amt) {
		return xerrors.Errorf("gas holder has %s, cannot pay %s", *holder, amt)
	}
	*holder = big.Sub(*holder, amt)

	m := e.machine
	return m.StateTree().MutateActor(m.Context(), to, func(act *types.ActorState) error {
		act.Deposit(amt)
		return nil
	})
}

// applyImplicit runs a system message. There is no inclusion charge and no
// nonce, balance or fee handling.
func (e *DefaultExecutor) applyImplicit(ctx context.Context, msg *types.Message) (*ApplyRet, error) {
	fromID, found, err := e.resolveSender(msg.From)
	if err != nil {
		return nil, err
	}
	if !found {
		return e.reject(ctx, exitcode.SysErrSenderInvalid, big.Zero(), "implicit sender %s does not exist", msg.From), nil
	}
	if msg.GasLimit < 0 {
		return e.reject(ctx, exitcode.SysErrOutOfGas, big.Zero(), "negative gas limit %d", msg.GasLimit), nil
	}

	cm := callmanager.New(e.machine, msg.GasLimit, msg.From, msg.Nonce)
	res, err := cm.Send(fromID, msg.To, msg.Method, msg.Params, msg.Value)
	if err != nil {
		return nil, err
	}
	gasUsed, bt := cm.Finish()

	ret := &ApplyRet{
		Receipt: types.MessageReceipt{
			ExitCode: res.ExitCode,
			Return:   res.Return,
			GasUsed:  gasUsed,
		},
		Penalty:    big.Zero(),
		MinerTip:   big.Zero(),
		GasOutputs: gas.ZeroGasOutputs(),
		DebugLog:   cm.DebugLog().String(),
	}
	if res.ExitCode != exitcode.Ok {
		ret.Backtrace = bt
	}
	return ret, nil
}
