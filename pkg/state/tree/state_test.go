package tree

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/specs-actors/v8/actors/builtin"
	init8 "github.com/filecoin-project/specs-actors/v8/actors/builtin/init"
	"github.com/filecoin-project/specs-actors/v8/actors/util/adt"
	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqiangyes/ref-fvm/pkg/blockstore"
	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
	"github.com/tanqiangyes/ref-fvm/pkg/types"
)

func codeCid(t *testing.T, name string) cid.Cid {
	h, err := multihash.Sum([]byte(name), multihash.IDENTITY, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func newTreeWithInit(t *testing.T, ver types.StateTreeVersion) (*State, cbor.IpldStore) {
	ctx := context.Background()
	cst := blockstore.NewIpldStore(blockstore.NewMemory())

	st, err := NewState(cst, ver)
	require.NoError(t, err)

	ias, err := init8.ConstructState(adt.WrapStore(ctx, cst), "test")
	require.NoError(t, err)
	head, err := cst.Put(ctx, ias)
	require.NoError(t, err)
	require.NoError(t, st.SetActor(ctx, builtin.InitActorAddr, types.NewActor(codeCid(t, "init"), head, abi.NewTokenAmount(0))))
	return st, cst
}

func TestStatePutGet(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()

	for _, ver := range []types.StateTreeVersion{types.StateTreeVersion0, types.StateTreeVersion4} {
		st, cst := newTreeWithInit(t, ver)

		addr1, err := address.NewIDAddress(101)
		require.NoError(t, err)
		addr2, err := address.NewIDAddress(102)
		require.NoError(t, err)

		act1 := types.NewActor(codeCid(t, "account"), constants.EmptyArrCID, abi.NewTokenAmount(10))
		act1.IncrementSequence()
		act2 := types.NewActor(codeCid(t, "account"), constants.EmptyArrCID, abi.NewTokenAmount(20))

		require.NoError(t, st.SetActor(ctx, addr1, act1))
		require.NoError(t, st.SetActor(ctx, addr2, act2))

		out, found, err := st.GetActor(ctx, addr1)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, act1, out)

		root, err := st.Flush(ctx)
		require.NoError(t, err)

		st2, err := LoadState(ctx, cst, root)
		require.NoError(t, err)
		assert.Equal(t, ver, st2.Version())

		out, found, err = st2.GetActor(ctx, addr2)
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, act2.Balance.Equals(out.Balance))
		assert.True(t, act2.Code.Equals(out.Code))

		root2, err := st2.Flush(ctx)
		require.NoError(t, err)
		assert.True(t, root.Equals(root2))
	}
}

func TestStateSnapshotRevert(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()

	st, _ := newTreeWithInit(t, types.StateTreeVersion4)
	addr, err := address.NewIDAddress(200)
	require.NoError(t, err)
	require.NoError(t, st.SetActor(ctx, addr, types.NewActor(codeCid(t, "account"), constants.EmptyArrCID, abi.NewTokenAmount(5))))

	require.NoError(t, st.Snapshot(ctx))
	assert.Equal(t, 2, st.Depth())
	require.NoError(t, st.MutateActor(ctx, addr, func(act *types.ActorState) error {
		act.Deposit(abi.NewTokenAmount(100))
		return nil
	}))

	require.NoError(t, st.Snapshot(ctx))
	require.NoError(t, st.DeleteActor(ctx, addr))
	_, found, err := st.GetActor(ctx, addr)
	require.NoError(t, err)
	assert.False(t, found)

	// undo the delete only
	require.NoError(t, st.Revert())
	st.ClearSnapshot()
	act, found, err := st.GetActor(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, abi.NewTokenAmount(105), act.Balance)

	// undo the deposit
	require.NoError(t, st.Revert())
	st.ClearSnapshot()
	assert.Equal(t, 1, st.Depth())
	act, found, err = st.GetActor(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, abi.NewTokenAmount(5), act.Balance)

	assert.Error(t, st.Revert())
}

func TestFlushWithOpenSnapshotFails(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()

	st, _ := newTreeWithInit(t, types.StateTreeVersion4)
	require.NoError(t, st.Snapshot(ctx))
	_, err := st.Flush(ctx)
	assert.Error(t, err)
	st.ClearSnapshot()
	_, err = st.Flush(ctx)
	assert.NoError(t, err)
}

func TestRegisterNewAddress(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()

	st, _ := newTreeWithInit(t, types.StateTreeVersion4)
	pub, err := address.NewSecp256k1Address([]byte("pubkey"))
	require.NoError(t, err)

	_, found, err := st.LookupID(ctx, pub)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.Snapshot(ctx))
	id, err := st.RegisterNewAddress(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, address.ID, id.Protocol())

	resolved, found, err := st.LookupID(ctx, pub)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, resolved)

	// the mapping lives in the reverted layer
	require.NoError(t, st.Revert())
	st.ClearSnapshot()
	_, found, err = st.LookupID(ctx, pub)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestForEachSeesPendingChanges(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()

	st, _ := newTreeWithInit(t, types.StateTreeVersion4)
	a1, _ := address.NewIDAddress(300)
	a2, _ := address.NewIDAddress(301)
	require.NoError(t, st.SetActor(ctx, a1, types.NewActor(codeCid(t, "account"), constants.EmptyArrCID, abi.NewTokenAmount(1))))
	_, err := st.Flush(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SetActor(ctx, a2, types.NewActor(codeCid(t, "account"), constants.EmptyArrCID, abi.NewTokenAmount(2))))
	require.NoError(t, st.DeleteActor(ctx, a1))

	seen := map[address.Address]abi.TokenAmount{}
	require.NoError(t, st.ForEach(ctx, func(addr ActorKey, act *types.ActorState) error {
		seen[addr] = act.Balance
		return nil
	}))
	assert.Len(t, seen, 2)
	assert.Contains(t, seen, builtin.InitActorAddr)
	assert.Equal(t, abi.NewTokenAmount(2), seen[a2])
}

func TestGetActorUndef(t *testing.T) {
	tf.UnitTest(t)

	st, _ := newTreeWithInit(t, types.StateTreeVersion4)
	_, _, err := st.GetActor(context.Background(), address.Undef)
	assert.Error(t, err)
}
