package tree

import (
	"github.com/filecoin-project/go-address"

	"github.com/tanqiangyes/ref-fvm/pkg/types"
)

// stateSnaps is the journal of uncommitted changes. Each layer holds the
// writes made since the matching Snapshot call.
type stateSnaps struct {
	layers                        []*stateSnapLayer
	lastMaybeNonEmptyResolveCache int
}

type stateSnapLayer struct {
	actors       map[address.Address]streeOp
	resolveCache map[address.Address]address.Address
}

func newStateSnapLayer() *stateSnapLayer {
	return &stateSnapLayer{
		actors:       make(map[address.Address]streeOp),
		resolveCache: make(map[address.Address]address.Address),
	}
}

type streeOp struct {
	Act    types.ActorState
	Delete bool
}

func newStateSnaps() *stateSnaps {
	ss := &stateSnaps{}
	ss.addLayer()
	return ss
}

func (ss *stateSnaps) depth() int {
	return len(ss.layers)
}

func (ss *stateSnaps) addLayer() {
	ss.layers = append(ss.layers, newStateSnapLayer())
}

func (ss *stateSnaps) dropLayer() {
	ss.layers[len(ss.layers)-1] = nil // allow it to be GCed

	ss.layers = ss.layers[:len(ss.layers)-1]

	if ss.lastMaybeNonEmptyResolveCache == len(ss.layers) {
		ss.lastMaybeNonEmptyResolveCache = len(ss.layers) - 1
	}
}

func (ss *stateSnaps) mergeLastLayer() {
	last := ss.layers[len(ss.layers)-1]
	nextLast := ss.layers[len(ss.layers)-2]

	for k, v := range last.actors {
		nextLast.actors[k] = v
	}

	for k, v := range last.resolveCache {
		nextLast.resolveCache[k] = v
	}

	ss.dropLayer()
}

func (ss *stateSnaps) resolveAddress(addr address.Address) (address.Address, bool) {
	for i := ss.lastMaybeNonEmptyResolveCache; i >= 0; i-- {
		if len(ss.layers[i].resolveCache) == 0 {
			if ss.lastMaybeNonEmptyResolveCache == i {
				ss.lastMaybeNonEmptyResolveCache = i - 1
			}
			continue
		}
		resa, ok := ss.layers[i].resolveCache[addr]
		if ok {
			return resa, true
		}
	}
	return address.Undef, false
}

func (ss *stateSnaps) cacheResolveAddress(addr, resa address.Address) {
	ss.layers[len(ss.layers)-1].resolveCache[addr] = resa
	ss.lastMaybeNonEmptyResolveCache = len(ss.layers) - 1
}

// getActor returns (nil, false) when no layer knows `addr`, and (nil, true)
// when the most recent layer to touch it deleted it.
func (ss *stateSnaps) getActor(addr address.Address) (*types.ActorState, bool) {
	for i := len(ss.layers) - 1; i >= 0; i-- {
		op, ok := ss.layers[i].actors[addr]
		if ok {
			if op.Delete {
				return nil, true
			}
			return op.Act.Copy(), true
		}
	}
	return nil, false
}

func (ss *stateSnaps) setActor(addr address.Address, act *types.ActorState) {
	ss.layers[len(ss.layers)-1].actors[addr] = streeOp{Act: *act.Copy()}
}

func (ss *stateSnaps) deleteActor(addr address.Address) {
	ss.layers[len(ss.layers)-1].actors[addr] = streeOp{Delete: true}
}

// overlay flattens all layers, newer layers winning.
func (ss *stateSnaps) overlay() map[address.Address]streeOp {
	out := make(map[address.Address]streeOp)
	for _, layer := range ss.layers {
		for k, v := range layer.actors {
			out[k] = v
		}
	}
	return out
}
