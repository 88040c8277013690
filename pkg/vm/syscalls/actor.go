package syscalls

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/engine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

// ActorModule is the name guest code imports these functions from.
const ActorModule = "actor"

// MaxCidLen bounds the bytes read when a cid is passed by offset only.
const MaxCidLen = 100

// Actor is the host side of the "actor" module. Arguments are offsets and
// lengths into the caller's memory. Recoverable failures come back as an
// ErrorNumber; the error return is reserved for out of gas and fatal
// conditions, which the guest must propagate.
type Actor struct {
	ctx *engine.Context
}

// NewActor binds the module to a running method.
func NewActor(ctx *engine.Context) *Actor {
	return &Actor{ctx: ctx}
}

// ResolveAddress resolves the address at [addrOff, addrOff+addrLen) to an id.
func (a *Actor) ResolveAddress(addrOff, addrLen uint32) (abi.ActorID, runtime.ErrorNumber, error) {
	addr, errno, err := a.readAddress(addrOff, addrLen)
	if errno != 0 || err != nil {
		return 0, errno, err
	}
	id, err := a.ctx.ResolveAddress(addr)
	errno, err = classify(err)
	return id, errno, err
}

// GetActorCodeCid writes the code cid of the actor at the given address to
// the output buffer and returns the number of bytes written. When the buffer
// is too small, the needed length is returned with ErrBufferTooSmall.
func (a *Actor) GetActorCodeCid(addrOff, addrLen, obufOff, obufLen uint32) (uint32, runtime.ErrorNumber, error) {
	addr, errno, err := a.readAddress(addrOff, addrLen)
	if errno != 0 || err != nil {
		return 0, errno, err
	}
	code, err := a.ctx.GetActorCodeCID(addr)
	if errno, err = classify(err); errno != 0 || err != nil {
		return 0, errno, err
	}
	return a.writeOut(obufOff, obufLen, code.Bytes())
}

// NewActorAddress writes a fresh actor address to the output buffer.
func (a *Actor) NewActorAddress(obufOff, obufLen uint32) (uint32, runtime.ErrorNumber, error) {
	addr, err := a.ctx.NewActorAddress()
	if errno, err := classify(err); errno != 0 || err != nil {
		return 0, errno, err
	}
	return a.writeOut(obufOff, obufLen, addr.Bytes())
}

// CreateActor installs an actor with the code cid stored at typOff under actorID.
func (a *Actor) CreateActor(actorID uint64, typOff uint32) (runtime.ErrorNumber, error) {
	mem := a.ctx.Memory()
	if typOff >= mem.Size() {
		return runtime.ErrIllegalArgument, nil
	}
	n := mem.Size() - typOff
	if n > MaxCidLen {
		n = MaxCidLen
	}
	raw, err := mem.Read(typOff, n)
	if errno, err := classify(err); errno != 0 || err != nil {
		return errno, err
	}
	_, code, err := cid.CidFromBytes(raw)
	if err != nil {
		return runtime.ErrIllegalCid, nil
	}
	return classify(a.ctx.CreateActor(code, abi.ActorID(actorID)))
}

func (a *Actor) readAddress(off, length uint32) (address.Address, runtime.ErrorNumber, error) {
	if length > constants.MaxActorAddressLength {
		return address.Undef, runtime.ErrIllegalArgument, nil
	}
	raw, err := a.ctx.Memory().Read(off, length)
	if errno, err := classify(err); errno != 0 || err != nil {
		return address.Undef, errno, err
	}
	addr, err := address.NewFromBytes(raw)
	if err != nil {
		return address.Undef, runtime.ErrIllegalArgument, nil
	}
	return addr, 0, nil
}

func (a *Actor) writeOut(off, length uint32, data []byte) (uint32, runtime.ErrorNumber, error) {
	if uint32(len(data)) > length {
		return uint32(len(data)), runtime.ErrBufferTooSmall, nil
	}
	errno, err := classify(a.ctx.Memory().Write(off, data))
	if errno != 0 || err != nil {
		return 0, errno, err
	}
	return uint32(len(data)), 0, nil
}

// classify splits kernel errors into recoverable error numbers and errors
// the guest cannot handle.
func classify(err error) (runtime.ErrorNumber, error) {
	if err == nil {
		return 0, nil
	}
	if se, ok := runtime.AsSyscallError(err); ok {
		return se.Number, nil
	}
	return 0, err
}
