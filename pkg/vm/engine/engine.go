package engine

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	lru "github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

var log = logging.Logger("vm.engine")

// DefaultCacheSize is the number of built export tables a NativeEngine keeps.
const DefaultCacheSize = 256

// Context is what a running method sees: the kernel and its own memory.
type Context struct {
	runtime.Kernel
	mem *Memory
}

// NewContext binds a kernel to a memory.
func NewContext(k runtime.Kernel, mem *Memory) *Context {
	return &Context{Kernel: k, mem: mem}
}

// Memory is the linear memory of the running instance.
func (c *Context) Memory() *Memory {
	return c.mem
}

// Method is one exported entry point of an actor program.
type Method func(ctx *Context, params []byte) ([]byte, error)

// Module is an actor program.
type Module interface {
	// Exports has a list of method available on the actor, indexed by
	// method number. Nil entries are undefined methods. Building the table
	// may be costly, so the engine calls it once per code and keeps the
	// result while it stays in the cache.
	Exports() []Method
}

// Methods is a Module made of a fixed method table.
type Methods []Method

func (m Methods) Exports() []Method {
	return m
}

// Invocation is a single call into an instance.
type Invocation struct {
	Kernel runtime.Kernel
	Method abi.MethodNum
	Params []byte
}

// Instance is an instantiated program with its own memory.
type Instance interface {
	Memory() *Memory
	Invoke(inv *Invocation) ([]byte, error)
}

// Engine instantiates the program identified by a code cid.
type Engine interface {
	Instantiate(code cid.Cid, limits MemoryLimits) (Instance, error)
}

// NativeEngine runs actor programs written in Go.
type NativeEngine struct {
	modules map[cid.Cid]Module
	cache   *lru.ARCCache
}

var _ Engine = (*NativeEngine)(nil)

// Builder collects the programs of a NativeEngine.
type Builder struct {
	modules   map[cid.Cid]Module
	cacheSize int
}

// NewBuilder creates a builder for a NativeEngine.
func NewBuilder() *Builder {
	return &Builder{
		modules:   make(map[cid.Cid]Module),
		cacheSize: DefaultCacheSize,
	}
}

// Add registers a program under its code cid.
func (b *Builder) Add(code cid.Cid, m Module) *Builder {
	b.modules[code] = m
	return b
}

// CacheSize sets how many export tables are kept.
func (b *Builder) CacheSize(n int) *Builder {
	b.cacheSize = n
	return b
}

// Build creates the engine.
func (b *Builder) Build() (*NativeEngine, error) {
	cache, err := lru.NewARC(b.cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("creating module cache: %w", err)
	}
	modules := make(map[cid.Cid]Module, len(b.modules))
	for c, m := range b.modules {
		modules[c] = m
	}
	return &NativeEngine{modules: modules, cache: cache}, nil
}

// Has reports whether code is known to the engine.
func (e *NativeEngine) Has(code cid.Cid) bool {
	_, ok := e.modules[code]
	return ok
}

// Instantiate implements Engine. Unknown code aborts the call.
func (e *NativeEngine) Instantiate(code cid.Cid, limits MemoryLimits) (Instance, error) {
	exports, err := e.load(code)
	if err != nil {
		return nil, err
	}
	mem, err := NewMemory(limits)
	if err != nil {
		return nil, err
	}
	return &nativeInstance{code: code, exports: exports, mem: mem}, nil
}

func (e *NativeEngine) load(code cid.Cid) ([]Method, error) {
	if v, ok := e.cache.Get(code); ok {
		return v.([]Method), nil
	}
	m, ok := e.modules[code]
	if !ok {
		return nil, runtime.Abortf(exitcode.SysErrInvalidReceiver, "no program for code %s", code)
	}
	exports := append([]Method(nil), m.Exports()...)
	e.cache.Add(code, exports)
	return exports, nil
}

type nativeInstance struct {
	code    cid.Cid
	exports []Method
	mem     *Memory
}

func (i *nativeInstance) Memory() *Memory {
	return i.mem
}

// Invoke calls a method. A panicking method traps: the panic is recovered
// and reported as an illegal instruction abort.
func (i *nativeInstance) Invoke(inv *Invocation) (ret []byte, err error) {
	methodIdx := uint64(inv.Method)
	if uint64(len(i.exports)) <= methodIdx || i.exports[methodIdx] == nil {
		return nil, runtime.Abortf(exitcode.SysErrInvalidMethod, "method undefined. method: %d, code: %s", inv.Method, i.code)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fe, ok := r.(*runtime.FatalError); ok {
			ret, err = nil, fe
			return
		}
		log.Warnw("actor trapped", "code", i.code, "method", inv.Method, "panic", r)
		ret, err = nil, runtime.Abortf(runtime.ExitIllegalInstruction, "actor trapped: %s", fmt.Sprint(r))
	}()

	return i.exports[methodIdx](NewContext(inv.Kernel, i.mem), inv.Params)
}
