package machine

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/network"
	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/blockstore"
	"github.com/tanqiangyes/ref-fvm/pkg/config"
	"github.com/tanqiangyes/ref-fvm/pkg/constants"
	"github.com/tanqiangyes/ref-fvm/pkg/state/tree"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/engine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/externs"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/gas"
)

var log = logging.Logger("vm.machine")

// InitializationError is returned when a machine cannot be constructed.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("machine initialization failed: %s", e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Machine is the execution context shared by every message of a block.
type Machine interface {
	Context() context.Context
	Config() *config.Config
	Engine() engine.Engine
	Epoch() abi.ChainEpoch
	BaseFee() abi.TokenAmount
	CircSupply() abi.TokenAmount
	NetworkVersion() network.Version
	StateTree() tree.Tree
	Store() cbor.IpldStore
	Blockstore() blockstore.Blockstore
	Externs() externs.Externs
	Manifest() *Manifest
	Pricelist() gas.Pricelist

	Flush(ctx context.Context) (cid.Cid, error)
}

// Options are the inputs of a machine.
type Options struct {
	// Config defaults to config.NewDefaultConfig.
	Config         *config.Config
	Engine         engine.Engine
	Epoch          abi.ChainEpoch
	BaseFee        abi.TokenAmount
	CircSupply     abi.TokenAmount
	NetworkVersion network.Version
	StateRoot      cid.Cid
	Manifest       cid.Cid
	Blockstore     blockstore.Blockstore
	Externs        externs.Externs
	// PriceSchedule defaults to gas.NewPricesSchedule.
	PriceSchedule *gas.PricesSchedule
}

// DefaultMachine owns the state tree and the write buffer of one block.
type DefaultMachine struct {
	ctx        context.Context
	cfg        *config.Config
	engine     engine.Engine
	epoch      abi.ChainEpoch
	baseFee    abi.TokenAmount
	circSupply abi.TokenAmount
	nv         network.Version
	manifest   *Manifest
	pricelist  gas.Pricelist
	externs    externs.Externs

	buffered *blockstore.Buffered
	bs       blockstore.Blockstore
	cst      cbor.IpldStore
	tree     *tree.State

	consumed bool
}

var _ Machine = (*DefaultMachine)(nil)

// New loads the state tree and the manifest and builds a machine. Every
// failure is an *InitializationError.
func New(ctx context.Context, opts Options) (*DefaultMachine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitializationError{Err: err}
	}
	if opts.Engine == nil || opts.Externs == nil || opts.Blockstore == nil {
		return nil, &InitializationError{Err: xerrors.New("engine, externs and blockstore are required")}
	}

	buffered := blockstore.NewBuffered(opts.Blockstore)
	var bs blockstore.Blockstore = buffered
	if cfg.Debug {
		bs = blockstore.NewLogStore("vm.machine.store", buffered)
	}
	cst := blockstore.NewIpldStore(bs)

	st, err := tree.LoadState(ctx, cst, opts.StateRoot)
	if err != nil {
		return nil, &InitializationError{Err: xerrors.Errorf("loading state tree %s: %w", opts.StateRoot, err)}
	}

	mf, err := LoadManifest(ctx, cst, opts.Manifest)
	if err != nil {
		return nil, &InitializationError{Err: err}
	}

	schedule := opts.PriceSchedule
	if schedule == nil {
		schedule = gas.NewPricesSchedule()
	}

	m := &DefaultMachine{
		ctx:        ctx,
		cfg:        cfg,
		engine:     opts.Engine,
		epoch:      opts.Epoch,
		baseFee:    orZero(opts.BaseFee),
		circSupply: orZero(opts.CircSupply),
		nv:         opts.NetworkVersion,
		manifest:   mf,
		pricelist:  schedule.PricelistByVersion(opts.NetworkVersion),
		externs:    opts.Externs,
		buffered:   buffered,
		bs:         bs,
		cst:        cst,
		tree:       st,
	}
	log.Debugw("machine created", "epoch", m.epoch, "nv", m.nv, "root", opts.StateRoot, "actors", mf.Len(), "version", constants.UserVersion())
	return m, nil
}

func orZero(amt abi.TokenAmount) abi.TokenAmount {
	if amt.Int == nil {
		return big.Zero()
	}
	return amt
}

func (m *DefaultMachine) Context() context.Context          { return m.ctx }
func (m *DefaultMachine) Config() *config.Config            { return m.cfg }
func (m *DefaultMachine) Engine() engine.Engine             { return m.engine }
func (m *DefaultMachine) Epoch() abi.ChainEpoch             { return m.epoch }
func (m *DefaultMachine) BaseFee() abi.TokenAmount          { return m.baseFee }
func (m *DefaultMachine) CircSupply() abi.TokenAmount       { return m.circSupply }
func (m *DefaultMachine) NetworkVersion() network.Version   { return m.nv }
func (m *DefaultMachine) StateTree() tree.Tree              { return m.tree }
func (m *DefaultMachine) Store() cbor.IpldStore             { return m.cst }
func (m *DefaultMachine) Blockstore() blockstore.Blockstore { return m.bs }
func (m *DefaultMachine) Externs() externs.Externs          { return m.externs }
func (m *DefaultMachine) Manifest() *Manifest               { return m.manifest }
func (m *DefaultMachine) Pricelist() gas.Pricelist          { return m.pricelist }

// Flush commits the state tree and moves the blocks reachable from the new
// root out of the write buffer.
func (m *DefaultMachine) Flush(ctx context.Context) (cid.Cid, error) {
	ctx, span := trace.StartSpan(ctx, "machine.Flush")
	defer span.End()

	if m.consumed {
		return cid.Undef, xerrors.New("machine already consumed")
	}

	root, err := m.tree.Flush(ctx)
	if err != nil {
		return cid.Undef, xerrors.Errorf("flushing state tree: %w", err)
	}
	if err := m.buffered.Flush(ctx, root); err != nil {
		return cid.Undef, xerrors.Errorf("flushing blocks of %s: %w", root, err)
	}
	span.AddAttributes(trace.StringAttribute("root", root.String()))
	return root, nil
}

// Consume ends the machine and hands back the store it was built on. Blocks
// not flushed are dropped. Later calls return nil.
func (m *DefaultMachine) Consume() blockstore.Blockstore {
	if m.consumed {
		return nil
	}
	m.consumed = true
	return m.buffered.Base()
}
