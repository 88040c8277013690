package callmanager_test

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqiangyes/ref-fvm/pkg/config"
	th "github.com/tanqiangyes/ref-fvm/pkg/testhelpers"
	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/callmanager"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/engine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/externs"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/machine"
	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

const gasLimit = int64(10_000_000_000)

var (
	writerCode  = th.CodeCid("writer")
	recurseCode = th.CodeCid("recurse")

	writerID  = abi.ActorID(1000)
	recurseID = abi.ActorID(1001)
)

type fixture struct {
	g     *th.Genesis
	m     *machine.DefaultMachine
	alice address.Address
	bob   address.Address
}

func newFixture(t *testing.T, cfg *config.Config, programs map[cid.Cid]engine.Module) *fixture {
	alice := th.RequireSecpAddress(t, "alice")
	bob := th.RequireSecpAddress(t, "bob")
	g := th.RequireGenesis(t,
		th.ActorSpec{Addr: alice, Code: th.AccountCode, Balance: abi.NewTokenAmount(1000)},
		th.ActorSpec{Addr: bob, Code: th.AccountCode},
		th.ActorSpec{ID: writerID, Code: writerCode, Balance: abi.NewTokenAmount(50)},
		th.ActorSpec{ID: recurseID, Code: recurseCode},
	)
	m := g.RequireMachine(t, th.RequireEngine(t, programs), externs.NewFakeExterns(nil), cfg)
	return &fixture{g: g, m: m, alice: alice, bob: bob}
}

func (f *fixture) id(t *testing.T, addr address.Address) abi.ActorID {
	id, err := address.IDFromAddress(f.g.ID(t, addr))
	require.NoError(t, err)
	return abi.ActorID(id)
}

func (f *fixture) balance(t *testing.T, addr address.Address) int64 {
	return th.RequireActor(t, f.m, addr).Balance.Int64()
}

func idAddr(id abi.ActorID) address.Address {
	addr, err := address.NewIDAddress(uint64(id))
	if err != nil {
		panic(err)
	}
	return addr
}

func TestSendTransfersValue(t *testing.T) {
	tf.UnitTest(t)

	f := newFixture(t, nil, nil)
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)

	res, err := cm.Send(f.id(t, f.alice), f.bob, 0, nil, abi.NewTokenAmount(100))
	require.NoError(t, err)
	assert.Equal(t, exitcode.Ok, res.ExitCode)
	assert.Empty(t, res.Return)
	assert.Equal(t, int64(900), f.balance(t, f.alice))
	assert.Equal(t, int64(100), f.balance(t, f.bob))

	gasUsed, bt := cm.Finish()
	assert.Equal(t, f.m.Pricelist().OnMethodInvocation(abi.NewTokenAmount(100), 0).Total(), gasUsed)
	assert.True(t, bt.IsEmpty())
}

func TestSendInsufficientFunds(t *testing.T) {
	tf.UnitTest(t)

	f := newFixture(t, nil, nil)
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)

	res, err := cm.Send(f.id(t, f.alice), f.bob, 0, nil, abi.NewTokenAmount(1001))
	require.NoError(t, err)
	assert.Equal(t, exitcode.SysErrInsufficientFunds, res.ExitCode)
	assert.Equal(t, int64(1000), f.balance(t, f.alice))
	assert.Equal(t, int64(0), f.balance(t, f.bob))

	_, bt := cm.Finish()
	require.Len(t, bt.Frames, 1)
	assert.Equal(t, exitcode.SysErrInsufficientFunds, bt.Frames[0].Code)
	assert.Equal(t, f.id(t, f.bob), bt.Frames[0].Source)
}

func TestSendNegativeValue(t *testing.T) {
	tf.UnitTest(t)

	f := newFixture(t, nil, nil)
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)

	res, err := cm.Send(f.id(t, f.alice), f.bob, 0, nil, abi.NewTokenAmount(-1))
	require.NoError(t, err)
	assert.Equal(t, exitcode.SysErrForbidden, res.ExitCode)
	assert.Equal(t, int64(1000), f.balance(t, f.alice))
}

func TestSendCreatesAccountActors(t *testing.T) {
	tf.UnitTest(t)

	f := newFixture(t, nil, nil)
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)
	from := f.id(t, f.alice)

	for _, to := range []address.Address{
		th.RequireSecpAddress(t, "carol"),
		th.RequireBLSAddress(t, "dave"),
	} {
		res, err := cm.Send(from, to, 0, nil, abi.NewTokenAmount(5))
		require.NoError(t, err)
		require.Equal(t, exitcode.Ok, res.ExitCode, to.String())

		act := th.RequireActor(t, f.m, to)
		assert.Equal(t, th.AccountCode, act.Code)
		assert.Equal(t, int64(5), act.Balance.Int64())

		id, found, err := f.m.StateTree().LookupID(f.m.Context(), to)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, address.ID, id.Protocol())
	}
	assert.Equal(t, int64(990), f.balance(t, f.alice))

	// only key addresses get an account on first use
	actorAddr, err := cm.NewActorAddress()
	require.NoError(t, err)
	for _, to := range []address.Address{th.RequireIDAddress(t, 9999), actorAddr} {
		res, err := cm.Send(from, to, 0, nil, abi.NewTokenAmount(5))
		require.NoError(t, err)
		assert.Equal(t, exitcode.SysErrInvalidReceiver, res.ExitCode, to.String())
	}
	assert.Equal(t, int64(990), f.balance(t, f.alice))
}

func TestFailedCallIsReverted(t *testing.T) {
	tf.UnitTest(t)

	var bob address.Address
	writer := engine.Methods{
		nil,
		// write a new root, pay bob, then abort
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			c, err := ctx.BlockPut(cid.Raw, params)
			if err != nil {
				return nil, err
			}
			if err := ctx.SetRoot(c); err != nil {
				return nil, err
			}
			res, err := ctx.Send(bob, 0, nil, abi.NewTokenAmount(10))
			if err != nil {
				return nil, err
			}
			if res.ExitCode != exitcode.Ok {
				return nil, runtime.Abortf(res.ExitCode, "paying bob")
			}
			return nil, runtime.Abortf(exitcode.FirstActorErrorCode, "changed my mind")
		},
		// same, without the abort
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			c, err := ctx.BlockPut(cid.Raw, params)
			if err != nil {
				return nil, err
			}
			if err := ctx.SetRoot(c); err != nil {
				return nil, err
			}
			res, err := ctx.Send(bob, 0, nil, abi.NewTokenAmount(10))
			if err != nil {
				return nil, err
			}
			return []byte{byte(res.ExitCode)}, nil
		},
	}

	f := newFixture(t, nil, map[cid.Cid]engine.Module{writerCode: writer})
	bob = f.bob
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)
	before := th.RequireActor(t, f.m, idAddr(writerID))

	res, err := cm.Send(f.id(t, f.alice), idAddr(writerID), 1, []byte("new state"), big.Zero())
	require.NoError(t, err)
	assert.Equal(t, exitcode.FirstActorErrorCode, res.ExitCode)

	after := th.RequireActor(t, f.m, idAddr(writerID))
	assert.Equal(t, before.Head, after.Head)
	assert.Equal(t, int64(50), after.Balance.Int64())
	assert.Equal(t, int64(0), f.balance(t, f.bob))

	bt := cm.Backtrace()
	require.Len(t, bt.Frames, 1)
	assert.Equal(t, writerID, bt.Frames[0].Source)
	assert.Equal(t, abi.MethodNum(1), bt.Frames[0].Method)
	assert.Equal(t, exitcode.FirstActorErrorCode, bt.Frames[0].Code)

	// the same writes commit when the call succeeds
	res, err = cm.Send(f.id(t, f.alice), idAddr(writerID), 2, []byte("new state"), big.Zero())
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode)
	assert.Equal(t, []byte{byte(exitcode.Ok)}, res.Return)

	after = th.RequireActor(t, f.m, idAddr(writerID))
	assert.NotEqual(t, before.Head, after.Head)
	assert.Equal(t, int64(40), after.Balance.Int64())
	assert.Equal(t, int64(10), f.balance(t, f.bob))
}

func TestNestedAbortIsObservedByCaller(t *testing.T) {
	tf.UnitTest(t)

	writer := engine.Methods{
		nil,
		// parent: call the child, keep going whatever it returns
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			res, err := ctx.Send(idAddr(recurseID), 1, nil, abi.NewTokenAmount(7))
			if err != nil {
				return nil, err
			}
			c, err := ctx.BlockPut(cid.Raw, []byte("parent"))
			if err != nil {
				return nil, err
			}
			if err := ctx.SetRoot(c); err != nil {
				return nil, err
			}
			return []byte{byte(res.ExitCode)}, nil
		},
	}
	child := engine.Methods{
		nil,
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			c, err := ctx.BlockPut(cid.Raw, []byte("child"))
			if err != nil {
				return nil, err
			}
			if err := ctx.SetRoot(c); err != nil {
				return nil, err
			}
			return nil, runtime.Abortf(33, "child failed")
		},
	}

	f := newFixture(t, nil, map[cid.Cid]engine.Module{writerCode: writer, recurseCode: child})
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)
	childBefore := th.RequireActor(t, f.m, idAddr(recurseID))

	res, err := cm.Send(f.id(t, f.alice), idAddr(writerID), 1, nil, big.Zero())
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode)
	assert.Equal(t, []byte{33}, res.Return)

	childAfter := th.RequireActor(t, f.m, idAddr(recurseID))
	assert.Equal(t, childBefore.Head, childAfter.Head)
	assert.Equal(t, int64(0), childAfter.Balance.Int64())

	parent := th.RequireActor(t, f.m, idAddr(writerID))
	assert.Equal(t, int64(50), parent.Balance.Int64())
	want, err := cid.V1Builder{Codec: cid.Raw, MhType: childBefore.Head.Prefix().MhType}.Sum([]byte("parent"))
	require.NoError(t, err)
	assert.Equal(t, want, parent.Head)
}

func TestHandledFailureLeavesNoFrames(t *testing.T) {
	tf.UnitTest(t)

	writer := engine.Methods{
		nil,
		// parent: swallow the child's abort
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			res, err := ctx.Send(idAddr(recurseID), 1, nil, big.Zero())
			if err != nil {
				return nil, err
			}
			return []byte{byte(res.ExitCode)}, nil
		},
		// unrelated abort
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			return nil, runtime.Abortf(exitcode.FirstActorErrorCode+1, "own failure")
		},
	}
	child := engine.Methods{
		nil,
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			return nil, runtime.Abortf(33, "child failed")
		},
	}

	f := newFixture(t, nil, map[cid.Cid]engine.Module{writerCode: writer, recurseCode: child})
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)

	res, err := cm.Send(f.id(t, f.alice), idAddr(writerID), 1, nil, big.Zero())
	require.NoError(t, err)
	require.Equal(t, exitcode.Ok, res.ExitCode)
	assert.Equal(t, []byte{33}, res.Return)
	bt := cm.Backtrace()
	assert.True(t, bt.IsEmpty())

	res, err = cm.Send(f.id(t, f.alice), idAddr(writerID), 2, nil, big.Zero())
	require.NoError(t, err)
	assert.Equal(t, exitcode.FirstActorErrorCode+1, res.ExitCode)

	bt = cm.Backtrace()
	require.Len(t, bt.Frames, 1)
	assert.Equal(t, writerID, bt.Frames[0].Source)
	assert.Equal(t, abi.MethodNum(2), bt.Frames[0].Method)
}

func recursion(depth, maxDepth *uint32) engine.Methods {
	return engine.Methods{
		nil,
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			*depth++
			defer func() { *depth-- }()
			if *depth > *maxDepth {
				*maxDepth = *depth
			}
			self, err := address.NewIDAddress(uint64(ctx.Receiver()))
			if err != nil {
				return nil, err
			}
			res, err := ctx.Send(self, 1, nil, big.Zero())
			if err != nil {
				return nil, err
			}
			return nil, runtime.Abortf(res.ExitCode, "inner call failed")
		},
	}
}

func TestCallDepthLimit(t *testing.T) {
	tf.UnitTest(t)

	for _, limit := range []uint32{16, config.NewDefaultConfig().MaxCallDepth} {
		var depth, maxDepth uint32
		cfg := config.NewDefaultConfig()
		cfg.MaxCallDepth = limit

		f := newFixture(t, cfg, map[cid.Cid]engine.Module{recurseCode: recursion(&depth, &maxDepth)})
		cm := callmanager.New(f.m, gasLimit, f.alice, 0)

		res, err := cm.Send(f.id(t, f.alice), idAddr(recurseID), 1, nil, big.Zero())
		require.NoError(t, err)
		assert.Equal(t, runtime.ExitCallDepthExceeded, res.ExitCode)
		assert.Equal(t, limit, maxDepth)
		assert.Equal(t, uint32(0), depth)

		_, bt := cm.Finish()
		assert.Len(t, bt.Frames, int(limit)+1)
	}
}

func TestOutOfGasAtExactCharge(t *testing.T) {
	tf.UnitTest(t)

	var burned int
	burner := engine.Methods{
		nil,
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			for i := 0; i < 10; i++ {
				if err := ctx.ChargeGas("burn", 1000); err != nil {
					return nil, err
				}
				burned++
			}
			return nil, nil
		},
		// swallows the failed charge
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			for i := 0; i < 10; i++ {
				_ = ctx.ChargeGas("burn", 1000)
			}
			return nil, nil
		},
	}

	for method, wantBurned := range map[abi.MethodNum]int{1: 3, 2: 0} {
		burned = 0
		f := newFixture(t, nil, map[cid.Cid]engine.Module{writerCode: burner})
		limit := f.m.Pricelist().OnMethodInvocation(big.Zero(), method).Total() + 3500
		cm := callmanager.New(f.m, limit, f.alice, 0)

		res, err := cm.Send(f.id(t, f.alice), idAddr(writerID), method, nil, big.Zero())
		require.NoError(t, err)
		assert.Equal(t, exitcode.SysErrOutOfGas, res.ExitCode, "method %d", method)
		assert.Equal(t, wantBurned, burned, "method %d", method)

		gasUsed, _ := cm.Finish()
		assert.Equal(t, limit, gasUsed)
		assert.Equal(t, int64(0), cm.GasTracker().GasLeft())
	}

	f := newFixture(t, nil, nil)
	// not even the invocation can be paid for
	cm := callmanager.New(f.m, 1, f.alice, 0)
	res, err := cm.Send(f.id(t, f.alice), f.bob, 0, nil, big.Zero())
	require.NoError(t, err)
	assert.Equal(t, exitcode.SysErrOutOfGas, res.ExitCode)
}

func TestActorFailures(t *testing.T) {
	tf.UnitTest(t)

	prog := engine.Methods{
		nil,
		// traps
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			var m map[string]int
			m["boom"] = 1
			return nil, nil
		},
		// leaves a syscall error unhandled
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			return ctx.BlockGet(th.CodeCid("missing"))
		},
		// aborts with exit code zero
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			return nil, runtime.Abortf(exitcode.Ok, "not an error")
		},
	}

	f := newFixture(t, nil, map[cid.Cid]engine.Module{writerCode: prog})
	from := f.id(t, f.alice)

	cases := map[abi.MethodNum]exitcode.ExitCode{
		1: runtime.ExitIllegalInstruction,
		2: exitcode.ErrNotFound,
		3: exitcode.SysErrorIllegalActor,
		9: exitcode.SysErrInvalidMethod,
	}
	for method, code := range cases {
		cm := callmanager.New(f.m, gasLimit, f.alice, 0)
		res, err := cm.Send(from, idAddr(writerID), method, nil, big.Zero())
		require.NoError(t, err)
		assert.Equal(t, code, res.ExitCode, "method %d", method)

		_, bt := cm.Finish()
		require.Len(t, bt.Frames, 1)
		if method == 2 {
			require.NotNil(t, bt.Cause)
			assert.Equal(t, uint32(runtime.ErrNotFound), bt.Cause.ErrorNumber)
		}
	}
}

func TestFatalErrorsPropagate(t *testing.T) {
	tf.UnitTest(t)

	prog := engine.Methods{
		nil,
		func(ctx *engine.Context, params []byte) ([]byte, error) {
			return nil, runtime.Fatalf("store is gone")
		},
	}
	f := newFixture(t, nil, map[cid.Cid]engine.Module{writerCode: prog})
	cm := callmanager.New(f.m, gasLimit, f.alice, 0)

	_, err := cm.Send(f.id(t, f.alice), idAddr(writerID), 1, nil, big.Zero())
	require.Error(t, err)
	assert.True(t, runtime.IsFatal(err))

	_, bt := cm.Finish()
	require.NotNil(t, bt.Cause)
	assert.True(t, bt.Cause.Fatal)

	_, err = cm.Send(f.id(t, f.alice), f.bob, 0, nil, big.Zero())
	assert.True(t, runtime.IsFatal(err))
}

func TestNewActorAddress(t *testing.T) {
	tf.UnitTest(t)

	f := newFixture(t, nil, nil)
	cm := callmanager.New(f.m, gasLimit, f.alice, 3)

	a1, err := cm.NewActorAddress()
	require.NoError(t, err)
	a2, err := cm.NewActorAddress()
	require.NoError(t, err)
	assert.Equal(t, address.Actor, a1.Protocol())
	assert.NotEqual(t, a1, a2)

	again, err := callmanager.New(f.m, gasLimit, f.alice, 3).NewActorAddress()
	require.NoError(t, err)
	assert.Equal(t, a1, again)

	other, err := callmanager.New(f.m, gasLimit, f.alice, 4).NewActorAddress()
	require.NoError(t, err)
	assert.NotEqual(t, a1, other)
}
