package runtime

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/go-state-types/network"
	specsruntime "github.com/filecoin-project/specs-actors/v8/actors/runtime"
	"github.com/ipfs/go-cid"
)

// ConsensusFault is a proven consensus fault.
type ConsensusFault = specsruntime.ConsensusFault

// InvocationResult is what a send returns to its caller.
type InvocationResult struct {
	ExitCode exitcode.ExitCode
	Return   []byte
}

// Kernel is the syscall surface an actor sees during one invocation. Every
// method charges gas before doing any work. Failures come back as
// *SyscallError, ErrOutOfGas or *FatalError.
type Kernel interface {
	SelfOps
	ActorOps
	SendOps
	RandomnessOps
	CryptoOps
	IpldOps
	NetworkOps
	GasOps
	DebugOps
}

// SelfOps operate on the invoked actor.
type SelfOps interface {
	Receiver() abi.ActorID
	Caller() abi.ActorID
	MethodNumber() abi.MethodNum
	ValueReceived() abi.TokenAmount
	CurrentBalance() (abi.TokenAmount, error)
	Root() (cid.Cid, error)
	SetRoot(c cid.Cid) error
	// SelfDestruct deletes the actor, sending its balance to beneficiary.
	SelfDestruct(beneficiary address.Address) error
}

// ActorOps look up and create actors.
type ActorOps interface {
	ResolveAddress(addr address.Address) (abi.ActorID, error)
	GetActorCodeCID(addr address.Address) (cid.Cid, error)
	NewActorAddress() (address.Address, error)
	CreateActor(code cid.Cid, id abi.ActorID) error
}

// SendOps call other actors.
type SendOps interface {
	Send(to address.Address, method abi.MethodNum, params []byte, value abi.TokenAmount) (*InvocationResult, error)
}

// RandomnessOps draw randomness through the externs.
type RandomnessOps interface {
	GetRandomnessFromTickets(pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) (abi.Randomness, error)
	GetRandomnessFromBeacon(pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) (abi.Randomness, error)
}

// CryptoOps verify proofs and hash data.
type CryptoOps interface {
	// VerifyConsensusFault returns nil if the headers do not prove a fault.
	VerifyConsensusFault(h1, h2, extra []byte) (*ConsensusFault, error)
	HashBlake2b(data []byte) ([32]byte, error)
}

// IpldOps read and write blocks.
type IpldOps interface {
	BlockGet(c cid.Cid) ([]byte, error)
	BlockPut(codec uint64, data []byte) (cid.Cid, error)
}

// NetworkOps describe the chain the message executes on.
type NetworkOps interface {
	NetworkEpoch() abi.ChainEpoch
	NetworkVersion() network.Version
	BaseFee() abi.TokenAmount
	TotalCircSupply() (abi.TokenAmount, error)
}

// GasOps expose the gas tracker.
type GasOps interface {
	ChargeGas(name string, compute int64) error
	GasAvailable() int64
}

// DebugOps are no-ops unless the machine runs in debug mode.
type DebugOps interface {
	DebugEnabled() bool
	Log(msg string)
}
