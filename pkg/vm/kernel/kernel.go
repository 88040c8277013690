package kernel

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/network"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/blake2b-simd"
	"github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/blockstore"
	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/types"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/gas"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/machine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

var log = logging.Logger("vm.kernel")

// CallManager is the part of the call manager a kernel calls back into.
type CallManager interface {
	Machine() machine.Machine
	GasTracker() *gas.GasTracker
	Send(from abi.ActorID, to address.Address, method abi.MethodNum, params []byte, value abi.TokenAmount) (*runtime.InvocationResult, error)
	NewActorAddress() (address.Address, error)
	// DebugLog is nil unless the machine runs in debug mode.
	DebugLog() *DebugLog
}

// DefaultKernel serves the syscalls of a single invocation.
type DefaultKernel struct {
	cm      CallManager
	machine machine.Machine

	caller   abi.ActorID
	receiver abi.ActorID
	method   abi.MethodNum
	value    abi.TokenAmount
}

var _ runtime.Kernel = (*DefaultKernel)(nil)

// New builds the kernel of an invocation of `receiver` by `caller`.
func New(cm CallManager, caller, receiver abi.ActorID, method abi.MethodNum, value abi.TokenAmount) *DefaultKernel {
	return &DefaultKernel{
		cm:       cm,
		machine:  cm.Machine(),
		caller:   caller,
		receiver: receiver,
		method:   method,
		value:    value,
	}
}

func (k *DefaultKernel) charge(c gas.GasCharge) error {
	return k.cm.GasTracker().Charge(c)
}

func (k *DefaultKernel) pricelist() gas.Pricelist {
	return k.machine.Pricelist()
}

func idAddr(id abi.ActorID) address.Address {
	addr, err := address.NewIDAddress(uint64(id))
	if err != nil {
		panic(err)
	}
	return addr
}

func (k *DefaultKernel) self() (*types.ActorState, error) {
	act, found, err := k.machine.StateTree().GetActor(k.machine.Context(), idAddr(k.receiver))
	if err != nil {
		return nil, runtime.WrapFatal(err, "loading self")
	}
	if !found {
		return nil, runtime.NewSyscallError(runtime.ErrIllegalOperation, "actor %d has been deleted", k.receiver)
	}
	return act, nil
}

// SelfOps

func (k *DefaultKernel) Receiver() abi.ActorID {
	return k.receiver
}

func (k *DefaultKernel) Caller() abi.ActorID {
	return k.caller
}

func (k *DefaultKernel) MethodNumber() abi.MethodNum {
	return k.method
}

func (k *DefaultKernel) ValueReceived() abi.TokenAmount {
	return k.value
}

func (k *DefaultKernel) CurrentBalance() (abi.TokenAmount, error) {
	act, err := k.self()
	if err != nil {
		return big.Zero(), err
	}
	return act.Balance, nil
}

func (k *DefaultKernel) Root() (cid.Cid, error) {
	act, err := k.self()
	if err != nil {
		return cid.Undef, err
	}
	return act.Head, nil
}

// SetRoot points the actor's state at `c`, which must be in the store.
func (k *DefaultKernel) SetRoot(c cid.Cid) error {
	ctx := k.machine.Context()
	has, err := k.machine.Blockstore().Has(ctx, c)
	if err != nil {
		return runtime.WrapFatal(err, "checking new root")
	}
	if !has {
		return runtime.NewSyscallError(runtime.ErrNotFound, "new root %s is not in the store", c)
	}
	if _, err := k.self(); err != nil {
		return err
	}
	err = k.machine.StateTree().MutateActor(ctx, idAddr(k.receiver), func(act *types.ActorState) error {
		act.Head = c
		return nil
	})
	return runtime.WrapFatal(err, "setting root")
}

// SelfDestruct deletes the actor after sending its balance to beneficiary.
func (k *DefaultKernel) SelfDestruct(beneficiary address.Address) error {
	if err := k.charge(k.pricelist().OnDeleteActor()); err != nil {
		return err
	}

	ctx := k.machine.Context()
	st := k.machine.StateTree()
	act, err := k.self()
	if err != nil {
		return err
	}

	if !act.Balance.IsZero() {
		benID, found, err := st.LookupID(ctx, beneficiary)
		if err != nil {
			return runtime.WrapFatal(err, "resolving beneficiary")
		}
		if !found {
			return runtime.NewSyscallError(runtime.ErrNotFound, "beneficiary %s not found", beneficiary)
		}
		if benID == idAddr(k.receiver) {
			return runtime.NewSyscallError(runtime.ErrForbidden, "benefactor cannot be beneficiary")
		}
		ben, found, err := st.GetActor(ctx, benID)
		if err != nil {
			return runtime.WrapFatal(err, "loading beneficiary")
		}
		if !found {
			return runtime.NewSyscallError(runtime.ErrNotFound, "beneficiary %s not found", beneficiary)
		}
		ben.Deposit(act.Balance)
		if err := st.SetActor(ctx, benID, ben); err != nil {
			return runtime.WrapFatal(err, "crediting beneficiary")
		}
	}

	return runtime.WrapFatal(st.DeleteActor(ctx, idAddr(k.receiver)), "deleting actor")
}

// ActorOps

func (k *DefaultKernel) ResolveAddress(addr address.Address) (abi.ActorID, error) {
	if err := k.charge(k.pricelist().OnResolveAddress()); err != nil {
		return 0, err
	}
	resolved, found, err := k.machine.StateTree().LookupID(k.machine.Context(), addr)
	if err != nil {
		return 0, runtime.WrapFatal(err, "resolving address")
	}
	if !found {
		return 0, runtime.NewSyscallError(runtime.ErrNotFound, "actor %s not found", addr)
	}
	id, err := address.IDFromAddress(resolved)
	if err != nil {
		return 0, runtime.WrapFatal(err, "resolved to a non id address")
	}
	return abi.ActorID(id), nil
}

func (k *DefaultKernel) GetActorCodeCID(addr address.Address) (cid.Cid, error) {
	if err := k.charge(k.pricelist().OnGetActorCodeCid()); err != nil {
		return cid.Undef, err
	}
	act, found, err := k.machine.StateTree().GetActor(k.machine.Context(), addr)
	if err != nil {
		return cid.Undef, runtime.WrapFatal(err, "loading actor")
	}
	if !found {
		return cid.Undef, runtime.NewSyscallError(runtime.ErrNotFound, "actor %s not found", addr)
	}
	return act.Code, nil
}

func (k *DefaultKernel) NewActorAddress() (address.Address, error) {
	if err := k.charge(k.pricelist().OnNewActorAddress()); err != nil {
		return address.Undef, err
	}
	return k.cm.NewActorAddress()
}

// CreateActor installs an empty actor running `code` under `id`.
func (k *DefaultKernel) CreateActor(code cid.Cid, id abi.ActorID) error {
	if err := k.charge(k.pricelist().OnCreateActor()); err != nil {
		return err
	}
	if k.machine.Manifest().IsSingletonActor(code) {
		return runtime.NewSyscallError(runtime.ErrForbidden, "can only have one instance of singleton actors")
	}

	ctx := k.machine.Context()
	st := k.machine.StateTree()
	_, found, err := st.GetActor(ctx, idAddr(id))
	if err != nil {
		return runtime.WrapFatal(err, "loading actor")
	}
	if found {
		return runtime.NewSyscallError(runtime.ErrForbidden, "actor %d already exists", id)
	}

	act := types.NewActor(code, constants.EmptyArrCID, big.Zero())
	return runtime.WrapFatal(st.SetActor(ctx, idAddr(id), act), "creating actor")
}

// SendOps

func (k *DefaultKernel) Send(to address.Address, method abi.MethodNum, params []byte, value abi.TokenAmount) (*runtime.InvocationResult, error) {
	return k.cm.Send(k.receiver, to, method, params, value)
}

// RandomnessOps

func (k *DefaultKernel) GetRandomnessFromTickets(pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) (abi.Randomness, error) {
	if err := k.charge(k.pricelist().OnGetRandomness(len(entropy))); err != nil {
		return nil, err
	}
	if round > k.machine.Epoch() {
		return nil, runtime.NewSyscallError(runtime.ErrIllegalArgument, "randomness requested for future epoch %d", round)
	}
	rand, err := k.machine.Externs().GetChainRandomness(k.machine.Context(), pers, round, entropy)
	if err != nil {
		return nil, runtime.Abortf(runtime.ExitExternError, "chain randomness at %d: %s", round, err)
	}
	return rand[:], nil
}

func (k *DefaultKernel) GetRandomnessFromBeacon(pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) (abi.Randomness, error) {
	if err := k.charge(k.pricelist().OnGetRandomness(len(entropy))); err != nil {
		return nil, err
	}
	if round > k.machine.Epoch() {
		return nil, runtime.NewSyscallError(runtime.ErrIllegalArgument, "randomness requested for future epoch %d", round)
	}
	rand, err := k.machine.Externs().GetBeaconRandomness(k.machine.Context(), pers, round, entropy)
	if err != nil {
		return nil, runtime.Abortf(runtime.ExitExternError, "beacon randomness at %d: %s", round, err)
	}
	return rand[:], nil
}

// CryptoOps

// VerifyConsensusFault charges the fixed verification cost up front and the
// externs' gas hint afterwards, fault or not.
func (k *DefaultKernel) VerifyConsensusFault(h1, h2, extra []byte) (*runtime.ConsensusFault, error) {
	if err := k.charge(k.pricelist().OnVerifyConsensusFault()); err != nil {
		return nil, err
	}
	fault, gasUsed, err := k.machine.Externs().VerifyConsensusFault(k.machine.Context(), h1, h2, extra)
	if err != nil {
		return nil, runtime.Abortf(runtime.ExitExternError, "verifying consensus fault: %s", err)
	}
	if err := k.charge(gas.NewGasCharge("OnVerifyConsensusFaultAccesses", gasUsed, 0)); err != nil {
		return nil, err
	}
	return fault, nil
}

func (k *DefaultKernel) HashBlake2b(data []byte) ([32]byte, error) {
	if err := k.charge(k.pricelist().OnHashing(len(data))); err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(data), nil
}

// IpldOps

// BlockGet charges the base read cost before the lookup and the per byte
// cost once the size is known.
func (k *DefaultKernel) BlockGet(c cid.Cid) ([]byte, error) {
	base := k.pricelist().OnIpldGet(0)
	if err := k.charge(base); err != nil {
		return nil, err
	}
	blk, err := k.machine.Blockstore().Get(k.machine.Context(), c)
	if xerrors.Is(err, blockstore.ErrNotFound) {
		return nil, runtime.NewSyscallError(runtime.ErrNotFound, "block %s not found", c)
	}
	if err != nil {
		return nil, runtime.WrapFatal(err, "reading block")
	}
	data := blk.RawData()
	perByte := k.pricelist().OnIpldGet(len(data)).ComputeGas - base.ComputeGas
	if err := k.charge(gas.NewGasCharge("OnIpldGetBytes", perByte, 0).WithExtra(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

// BlockPut stores data as a blake2b-256 block of the given codec.
func (k *DefaultKernel) BlockPut(codec uint64, data []byte) (cid.Cid, error) {
	if err := k.charge(k.pricelist().OnIpldPut(len(data))); err != nil {
		return cid.Undef, err
	}
	if codec != cid.DagCBOR && codec != cid.Raw {
		return cid.Undef, runtime.NewSyscallError(runtime.ErrIllegalCodec, "codec %x not allowed", codec)
	}
	c, err := cid.V1Builder{Codec: codec, MhType: multihash.BLAKE2B_MIN + 31}.Sum(data)
	if err != nil {
		return cid.Undef, runtime.WrapFatal(err, "computing block cid")
	}
	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return cid.Undef, runtime.WrapFatal(err, "building block")
	}
	if err := k.machine.Blockstore().Put(k.machine.Context(), blk); err != nil {
		return cid.Undef, runtime.WrapFatal(err, "writing block")
	}
	return c, nil
}

// NetworkOps

func (k *DefaultKernel) NetworkEpoch() abi.ChainEpoch {
	return k.machine.Epoch()
}

func (k *DefaultKernel) NetworkVersion() network.Version {
	return k.machine.NetworkVersion()
}

func (k *DefaultKernel) BaseFee() abi.TokenAmount {
	return k.machine.BaseFee()
}

func (k *DefaultKernel) TotalCircSupply() (abi.TokenAmount, error) {
	return k.machine.CircSupply(), nil
}

// GasOps

func (k *DefaultKernel) ChargeGas(name string, compute int64) error {
	if compute < 0 {
		return runtime.NewSyscallError(runtime.ErrIllegalArgument, "gas charge %s must not be negative", name)
	}
	return k.charge(gas.NewGasCharge(name, compute, 0))
}

func (k *DefaultKernel) GasAvailable() int64 {
	return k.cm.GasTracker().GasLeft()
}

// DebugOps

func (k *DefaultKernel) DebugEnabled() bool {
	return k.machine.Config().Debug
}

func (k *DefaultKernel) Log(msg string) {
	dl := k.cm.DebugLog()
	if dl == nil {
		return
	}
	dl.Printfln("[%d] %s", k.receiver, msg)
	log.Debugw("actor log", "actor", k.receiver, "msg", msg)
}
