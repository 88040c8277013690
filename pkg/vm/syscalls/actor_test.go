package syscalls

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/engine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

type stubKernel struct {
	runtime.Kernel

	ids      map[address.Address]abi.ActorID
	code     cid.Cid
	next     address.Address
	created  map[abi.ActorID]cid.Cid
	outOfGas bool
}

func (k *stubKernel) ResolveAddress(addr address.Address) (abi.ActorID, error) {
	if k.outOfGas {
		return 0, runtime.ErrOutOfGas
	}
	id, ok := k.ids[addr]
	if !ok {
		return 0, runtime.NewSyscallError(runtime.ErrNotFound, "actor %s not found", addr)
	}
	return id, nil
}

func (k *stubKernel) GetActorCodeCID(addr address.Address) (cid.Cid, error) {
	if _, err := k.ResolveAddress(addr); err != nil {
		return cid.Undef, err
	}
	return k.code, nil
}

func (k *stubKernel) NewActorAddress() (address.Address, error) {
	return k.next, nil
}

func (k *stubKernel) CreateActor(code cid.Cid, id abi.ActorID) error {
	if _, ok := k.created[id]; ok {
		return runtime.NewSyscallError(runtime.ErrForbidden, "actor %d exists", id)
	}
	k.created[id] = code
	return nil
}

func setup(t *testing.T) (*stubKernel, *engine.Memory, *Actor) {
	addr, err := address.NewIDAddress(100)
	require.NoError(t, err)
	next, err := address.NewActorAddress([]byte("next"))
	require.NoError(t, err)

	k := &stubKernel{
		ids:     map[address.Address]abi.ActorID{addr: 100},
		code:    constants.EmptyArrCID,
		next:    next,
		created: map[abi.ActorID]cid.Cid{},
	}
	mem, err := engine.NewMemory(engine.MemoryLimits{InitialPages: 1, MaxPages: 1})
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, addr.Bytes()))
	return k, mem, NewActor(engine.NewContext(k, mem))
}

func TestResolveAddress(t *testing.T) {
	tf.UnitTest(t)
	k, mem, a := setup(t)
	idAddr, _ := address.NewIDAddress(100)
	n := uint32(len(idAddr.Bytes()))

	id, errno, err := a.ResolveAddress(0, n)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrorNumber(0), errno)
	assert.Equal(t, abi.ActorID(100), id)

	unknown, _ := address.NewIDAddress(5)
	require.NoError(t, mem.Write(200, unknown.Bytes()))
	_, errno, err = a.ResolveAddress(200, uint32(len(unknown.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrNotFound, errno)

	// garbage and out of bounds addresses are illegal arguments
	_, errno, err = a.ResolveAddress(1000, 3)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrIllegalArgument, errno)
	_, errno, err = a.ResolveAddress(constants.PageSize-1, 4)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrIllegalArgument, errno)
	_, errno, err = a.ResolveAddress(0, constants.MaxActorAddressLength+1)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrIllegalArgument, errno)

	k.outOfGas = true
	_, _, err = a.ResolveAddress(0, n)
	assert.True(t, runtime.IsOutOfGas(err))
}

func TestGetActorCodeCidBufferTooSmall(t *testing.T) {
	tf.UnitTest(t)
	_, mem, a := setup(t)
	idAddr, _ := address.NewIDAddress(100)
	n := uint32(len(idAddr.Bytes()))
	want := constants.EmptyArrCID.Bytes()

	needed, errno, err := a.GetActorCodeCid(0, n, 1000, 4)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrBufferTooSmall, errno)
	assert.Equal(t, uint32(len(want)), needed)

	// retry with the reported size
	written, errno, err := a.GetActorCodeCid(0, n, 1000, needed)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrorNumber(0), errno)
	out, err := mem.Read(1000, written)
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestNewActorAddressAndCreateActor(t *testing.T) {
	tf.UnitTest(t)
	k, mem, a := setup(t)

	written, errno, err := a.NewActorAddress(500, 100)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrorNumber(0), errno)
	raw, err := mem.Read(500, written)
	require.NoError(t, err)
	assert.Equal(t, k.next.Bytes(), raw)

	_, errno, err = a.NewActorAddress(500, 2)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrBufferTooSmall, errno)

	require.NoError(t, mem.Write(2000, constants.EmptyObjectCID.Bytes()))
	errno, err = a.CreateActor(1001, 2000)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrorNumber(0), errno)
	assert.Equal(t, constants.EmptyObjectCID, k.created[1001])

	errno, err = a.CreateActor(1001, 2000)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrForbidden, errno)

	errno, err = a.CreateActor(1002, 3000)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrIllegalCid, errno)

	errno, err = a.CreateActor(1002, constants.PageSize)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrIllegalArgument, errno)
}
