package testhelpers

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/network"
	"github.com/filecoin-project/specs-actors/v8/actors/builtin"
	init8 "github.com/filecoin-project/specs-actors/v8/actors/builtin/init"
	"github.com/filecoin-project/specs-actors/v8/actors/util/adt"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/tanqiangyes/ref-fvm/pkg/blockstore"
	"github.com/tanqiangyes/ref-fvm/pkg/config"
	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/state/tree"
	"github.com/tanqiangyes/ref-fvm/pkg/types"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/engine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/externs"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/machine"
)

// CodeCid returns the identity cid test programs are registered under.
func CodeCid(name string) cid.Cid {
	h, err := multihash.Sum([]byte("fil/test/"+name), multihash.IDENTITY, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, h)
}

// Codes of the builtin programs every test genesis carries.
var (
	SystemCode  = CodeCid(types.SystemKey)
	InitCode    = CodeCid(types.InitKey)
	RewardCode  = CodeCid(types.RewardKey)
	AccountCode = CodeCid(types.AccountKey)
)

// Defaults of test machines.
var (
	DefaultEpoch      = abi.ChainEpoch(10)
	DefaultBaseFee    = abi.NewTokenAmount(100)
	DefaultCircSupply = abi.NewTokenAmount(1_000_000_000)
	DefaultNetwork    = network.Version16
)

// ActorSpec describes an actor to install at genesis. Actors with a zero ID
// get the next free id for Addr from the init actor.
type ActorSpec struct {
	ID      abi.ActorID
	Addr    address.Address
	Code    cid.Cid
	Balance abi.TokenAmount
	Head    cid.Cid
}

// Genesis is a flushed state tree and manifest in a memory store.
type Genesis struct {
	Blockstore blockstore.Blockstore
	StateRoot  cid.Cid
	Manifest   cid.Cid
	// IDs maps the requested address of every actor to its id address.
	IDs map[address.Address]address.Address
}

// RequireGenesis installs the system, init, reward and burnt funds actors
// followed by `actors`.
func RequireGenesis(t *testing.T, actors ...ActorSpec) *Genesis {
	ctx := context.Background()
	bs := blockstore.NewMemory()
	cst := blockstore.NewIpldStore(bs)

	st, err := tree.NewState(cst, types.StateTreeVersion4)
	require.NoError(t, err)

	ias, err := init8.ConstructState(adt.WrapStore(ctx, cst), "test")
	require.NoError(t, err)
	initHead, err := cst.Put(ctx, ias)
	require.NoError(t, err)

	builtins := []ActorSpec{
		{Addr: builtin.SystemActorAddr, Code: SystemCode, Head: constants.EmptyObjectCID},
		{Addr: builtin.InitActorAddr, Code: InitCode, Head: initHead},
		{Addr: builtin.RewardActorAddr, Code: RewardCode, Head: constants.EmptyObjectCID},
		{Addr: builtin.BurntFundsActorAddr, Code: AccountCode, Head: constants.EmptyObjectCID},
	}

	g := &Genesis{Blockstore: bs, IDs: make(map[address.Address]address.Address)}
	for _, spec := range append(builtins, actors...) {
		idAddr := spec.Addr
		switch {
		case spec.ID != 0:
			idAddr, err = address.NewIDAddress(uint64(spec.ID))
			require.NoError(t, err)
		case spec.Addr.Protocol() != address.ID:
			idAddr, err = st.RegisterNewAddress(ctx, spec.Addr)
			require.NoError(t, err)
		}

		balance := spec.Balance
		if balance.Int == nil {
			balance = big.Zero()
		}
		head := spec.Head
		if !head.Defined() {
			head = constants.EmptyObjectCID
		}
		require.NoError(t, st.SetActor(ctx, idAddr, types.NewActor(spec.Code, head, balance)))
		if spec.Addr != address.Undef {
			g.IDs[spec.Addr] = idAddr
		}
	}

	g.StateRoot, err = st.Flush(ctx)
	require.NoError(t, err)

	data := &types.ManifestData{Entries: []types.ManifestEntry{
		{Name: types.SystemKey, Code: SystemCode},
		{Name: types.InitKey, Code: InitCode},
		{Name: types.RewardKey, Code: RewardCode},
		{Name: types.AccountKey, Code: AccountCode},
	}}
	dataCid, err := cst.Put(ctx, data)
	require.NoError(t, err)
	g.Manifest, err = cst.Put(ctx, &types.Manifest{Version: types.ManifestVersion, Data: dataCid})
	require.NoError(t, err)

	return g
}

// ID returns the id address `addr` was installed under.
func (g *Genesis) ID(t *testing.T, addr address.Address) address.Address {
	id, ok := g.IDs[addr]
	require.True(t, ok, "no actor for %s", addr)
	return id
}

func noop(ctx *engine.Context, params []byte) ([]byte, error) {
	return nil, nil
}

// RequireEngine returns an engine running the builtin programs as no-ops
// plus the given programs.
func RequireEngine(t *testing.T, programs map[cid.Cid]engine.Module) *engine.NativeEngine {
	b := engine.NewBuilder().
		Add(SystemCode, engine.Methods{nil, noop}).
		Add(InitCode, engine.Methods{nil, noop}).
		Add(RewardCode, engine.Methods{nil, noop}).
		Add(AccountCode, engine.Methods{nil, noop})
	for code, m := range programs {
		b.Add(code, m)
	}
	eng, err := b.Build()
	require.NoError(t, err)
	return eng
}

// RequireMachine builds a machine over a fresh write buffer of the genesis
// store. A nil cfg means the default config.
func (g *Genesis) RequireMachine(t *testing.T, eng engine.Engine, ext externs.Externs, cfg *config.Config) *machine.DefaultMachine {
	m, err := machine.New(context.Background(), machine.Options{
		Config:         cfg,
		Engine:         eng,
		Epoch:          DefaultEpoch,
		BaseFee:        DefaultBaseFee,
		CircSupply:     DefaultCircSupply,
		NetworkVersion: DefaultNetwork,
		StateRoot:      g.StateRoot,
		Manifest:       g.Manifest,
		Blockstore:     g.Blockstore,
		Externs:        ext,
	})
	require.NoError(t, err)
	return m
}

// RequireActor reads an actor from the machine's state tree.
func RequireActor(t *testing.T, m machine.Machine, addr address.Address) *types.ActorState {
	act, found, err := m.StateTree().GetActor(m.Context(), addr)
	require.NoError(t, err)
	require.True(t, found, "actor %s not found", addr)
	return act
}
