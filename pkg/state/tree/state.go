package tree

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/specs-actors/v8/actors/builtin"
	init8 "github.com/filecoin-project/specs-actors/v8/actors/builtin/init"
	"github.com/filecoin-project/specs-actors/v8/actors/util/adt"
	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log/v2"
	cbg "github.com/whyrusleeping/cbor-gen"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/types"
)

var log = logging.Logger("statetree")

// ActorKey is the address an actor is stored under.
type ActorKey = address.Address

// Root is the cid of a flushed state tree.
type Root = cid.Cid

// Tree is the state tree as seen by the rest of the machine.
type Tree interface {
	GetActor(ctx context.Context, addr ActorKey) (*types.ActorState, bool, error)
	SetActor(ctx context.Context, addr ActorKey, act *types.ActorState) error
	DeleteActor(ctx context.Context, addr ActorKey) error
	LookupID(ctx context.Context, addr ActorKey) (address.Address, bool, error)

	Flush(ctx context.Context) (cid.Cid, error)
	Snapshot(ctx context.Context) error
	ClearSnapshot()
	Revert() error

	RegisterNewAddress(ctx context.Context, addr ActorKey) (address.Address, error)

	MutateActor(ctx context.Context, addr ActorKey, f func(*types.ActorState) error) error
	ForEach(ctx context.Context, f func(ActorKey, *types.ActorState) error) error
}

var _ Tree = (*State)(nil)

// State stores actors state by their ID.
type State struct {
	root    *adt.Map
	version types.StateTreeVersion
	info    cid.Cid
	Store   cbor.IpldStore

	snaps *stateSnaps
}

// NewState creates an empty state tree of the given version.
func NewState(cst cbor.IpldStore, ver types.StateTreeVersion) (*State, error) {
	if ver > types.StateTreeVersion4 {
		return nil, xerrors.Errorf("unsupported state tree version: %d", ver)
	}

	root, err := adt.MakeEmptyMap(adt.WrapStore(context.TODO(), cst), builtin.DefaultHamtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("creating actors hamt: %w", err)
	}

	var info cid.Cid
	if ver > types.StateTreeVersion0 {
		info, err = cst.Put(context.TODO(), new(stateInfo))
		if err != nil {
			return nil, xerrors.Errorf("writing state info: %w", err)
		}
	}

	return &State{
		root:    root,
		version: ver,
		info:    info,
		Store:   cst,
		snaps:   newStateSnaps(),
	}, nil
}

// LoadState loads the state tree rooted at `c`. Roots that are not a
// StateRoot object are treated as a version 0 actors hamt.
func LoadState(ctx context.Context, cst cbor.IpldStore, c cid.Cid) (*State, error) {
	var root types.StateRoot
	if err := cst.Get(ctx, c, &root); err != nil {
		root.Version = types.StateTreeVersion0
		root.Actors = c
		root.Info = cid.Undef
	}

	if root.Version > types.StateTreeVersion4 {
		return nil, xerrors.Errorf("unsupported state tree version: %d", root.Version)
	}

	nd, err := adt.AsMap(adt.WrapStore(ctx, cst), root.Actors, builtin.DefaultHamtBitwidth)
	if err != nil {
		log.Errorf("loading hamt node %s failed: %s", c, err)
		return nil, err
	}

	return &State{
		root:    nd,
		version: root.Version,
		info:    root.Info,
		Store:   cst,
		snaps:   newStateSnaps(),
	}, nil
}

// Version returns the version of the state tree's root object.
func (st *State) Version() types.StateTreeVersion {
	return st.version
}

// Depth is the number of open snapshots plus one.
func (st *State) Depth() int {
	return st.snaps.depth()
}

// SetActor stores `act` under the id `addr` resolves to.
func (st *State) SetActor(ctx context.Context, addr ActorKey, act *types.ActorState) error {
	iaddr, found, err := st.LookupID(ctx, addr)
	if err != nil {
		return xerrors.Errorf("ID lookup failed: %w", err)
	}
	if !found {
		return xerrors.Errorf("set actor %s: %w", addr, types.ErrActorNotFound)
	}

	st.snaps.setActor(iaddr, act)
	return nil
}

// LookupID gets the ID address of this actor's `addr` stored in the init actor.
func (st *State) LookupID(ctx context.Context, addr ActorKey) (address.Address, bool, error) {
	if addr.Protocol() == address.ID {
		return addr, true, nil
	}

	resa, ok := st.snaps.resolveAddress(addr)
	if ok {
		return resa, true, nil
	}

	ias, err := st.loadInitState(ctx)
	if err != nil {
		return address.Undef, false, err
	}

	a, found, err := ias.ResolveAddress(adt.WrapStore(ctx, st.Store), addr)
	if err != nil {
		return address.Undef, false, xerrors.Errorf("resolve address %s: %w", addr, err)
	}
	if !found {
		return address.Undef, false, nil
	}

	st.snaps.cacheResolveAddress(addr, a)

	return a, true, nil
}

func (st *State) loadInitState(ctx context.Context) (*init8.State, error) {
	act, found, err := st.getActorByID(ctx, builtin.InitActorAddr)
	if err != nil {
		return nil, xerrors.Errorf("getting init actor: %w", err)
	}
	if !found {
		return nil, xerrors.Errorf("init actor: %w", types.ErrActorNotFound)
	}

	var ias init8.State
	if err := st.Store.Get(ctx, act.Head, &ias); err != nil {
		return nil, xerrors.Errorf("loading init actor state: %w", err)
	}
	return &ias, nil
}

// GetActor returns the actor from any type of `addr` provided.
func (st *State) GetActor(ctx context.Context, addr ActorKey) (*types.ActorState, bool, error) {
	if addr == address.Undef {
		return nil, false, fmt.Errorf("GetActor called on undefined address")
	}

	// Transform `addr` to its ID format.
	iaddr, found, err := st.LookupID(ctx, addr)
	if err != nil {
		return nil, false, xerrors.Errorf("address resolution: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	return st.getActorByID(ctx, iaddr)
}

func (st *State) getActorByID(ctx context.Context, addr address.Address) (*types.ActorState, bool, error) {
	if act, known := st.snaps.getActor(addr); known {
		return act, act != nil, nil
	}

	var act types.ActorState
	if found, err := st.root.Get(abi.AddrKey(addr), &act); err != nil {
		return nil, false, xerrors.Errorf("hamt find failed: %w", err)
	} else if !found {
		return nil, false, nil
	}

	// cache the read in the bottom layer so reverts never drop it
	st.snaps.layers[0].actors[addr] = streeOp{Act: *act.Copy()}

	return &act, true, nil
}

// DeleteActor removes the actor at `addr`.
func (st *State) DeleteActor(ctx context.Context, addr ActorKey) error {
	if addr == address.Undef {
		return xerrors.Errorf("DeleteActor called on undefined address")
	}

	iaddr, found, err := st.LookupID(ctx, addr)
	if err != nil {
		return xerrors.Errorf("address resolution: %w", err)
	}
	if !found {
		return xerrors.Errorf("resolution lookup failed (%s): %w", addr, types.ErrActorNotFound)
	}

	_, found, err = st.getActorByID(ctx, iaddr)
	if err != nil {
		return err
	}
	if !found {
		return xerrors.Errorf("delete actor %s: %w", addr, types.ErrActorNotFound)
	}

	st.snaps.deleteActor(iaddr)

	return nil
}

// Flush writes all pending changes and returns the new root. It fails while
// snapshots are open.
func (st *State) Flush(ctx context.Context) (cid.Cid, error) {
	ctx, span := trace.StartSpan(ctx, "stateTree.Flush") //nolint:staticcheck
	defer span.End()
	if len(st.snaps.layers) != 1 {
		return cid.Undef, xerrors.Errorf("tried to flush state tree with snapshots on the stack")
	}

	for addr, sto := range st.snaps.layers[0].actors {
		if sto.Delete {
			if _, err := st.root.TryDelete(abi.AddrKey(addr)); err != nil {
				return cid.Undef, err
			}
		} else {
			act := sto.Act
			if err := st.root.Put(abi.AddrKey(addr), &act); err != nil {
				return cid.Undef, err
			}
		}
	}

	actors, err := st.root.Root()
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to flush actors hamt: %w", err)
	}
	span.AddAttributes(trace.StringAttribute("actors", actors.String()))

	if st.version == types.StateTreeVersion0 {
		return actors, nil
	}

	return st.Store.Put(ctx, &types.StateRoot{
		Version: st.version,
		Actors:  actors,
		Info:    st.info,
	})
}

// Snapshot opens a new journal layer.
func (st *State) Snapshot(ctx context.Context) error {
	_, span := trace.StartSpan(ctx, "stateTree.SnapShot") //nolint:staticcheck
	defer span.End()

	st.snaps.addLayer()

	return nil
}

// ClearSnapshot merges the top layer into the one below it.
func (st *State) ClearSnapshot() {
	st.snaps.mergeLastLayer()
}

// Revert discards the changes made since the last Snapshot. The layer stays
// open and must still be cleared.
func (st *State) Revert() error {
	if len(st.snaps.layers) < 2 {
		return xerrors.Errorf("no snapshot to revert to")
	}
	st.snaps.dropLayer()
	st.snaps.addLayer()

	return nil
}

// RegisterNewAddress assigns the next id to `addr` in the init actor.
func (st *State) RegisterNewAddress(ctx context.Context, addr ActorKey) (address.Address, error) {
	var out address.Address
	err := st.MutateActor(ctx, builtin.InitActorAddr, func(initact *types.ActorState) error {
		var ias init8.State
		if err := st.Store.Get(ctx, initact.Head, &ias); err != nil {
			return err
		}

		oaddr, err := ias.MapAddressToNewID(adt.WrapStore(ctx, st.Store), addr)
		if err != nil {
			return err
		}
		out = oaddr

		ncid, err := st.Store.Put(ctx, &ias)
		if err != nil {
			return err
		}

		initact.Head = ncid
		return nil
	})
	if err != nil {
		return address.Undef, err
	}

	st.snaps.cacheResolveAddress(addr, out)
	return out, nil
}

// MutateActor loads the actor at `addr`, applies `f` and stores the result.
func (st *State) MutateActor(ctx context.Context, addr ActorKey, f func(*types.ActorState) error) error {
	act, found, err := st.GetActor(ctx, addr)
	if err != nil {
		return err
	}
	if !found {
		return xerrors.Errorf("mutate actor %s: %w", addr, types.ErrActorNotFound)
	}

	if err := f(act); err != nil {
		return err
	}

	return st.SetActor(ctx, addr, act)
}

// ForEach visits every actor, including uncommitted changes, in key order
// of the hamt followed by new actors in address order.
func (st *State) ForEach(ctx context.Context, f func(ActorKey, *types.ActorState) error) error {
	pending := st.snaps.overlay()

	var act types.ActorState
	if err := st.root.ForEach(&act, func(k string) error {
		addr, err := address.NewFromBytes([]byte(k))
		if err != nil {
			return xerrors.Errorf("invalid address (%x) found in state tree key: %w", []byte(k), err)
		}
		if op, ok := pending[addr]; ok {
			delete(pending, addr)
			if op.Delete {
				return nil
			}
			return f(addr, op.Act.Copy())
		}
		return f(addr, act.Copy())
	}); err != nil {
		return err
	}

	rest := make([]address.Address, 0, len(pending))
	for addr, op := range pending {
		if !op.Delete {
			rest = append(rest, addr)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		return bytes.Compare(rest[i].Bytes(), rest[j].Bytes()) < 0
	})
	for _, addr := range rest {
		op := pending[addr]
		if err := f(addr, op.Act.Copy()); err != nil {
			return err
		}
	}
	return nil
}

// stateInfo is the empty metadata object of version 1+ state roots.
type stateInfo struct{}

func (si *stateInfo) MarshalCBOR(w io.Writer) error {
	return cbg.WriteMajorTypeHeader(w, cbg.MajArray, 0)
}

func (si *stateInfo) UnmarshalCBOR(r io.Reader) error {
	maj, extra, err := cbg.CborReadHeader(r)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || extra != 0 {
		return fmt.Errorf("state info should be an empty array")
	}
	return nil
}
