package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/loader"
	"github.com/wippyai/hle-runtime/mem"
)

// WasmConfig holds configuration for a WebAssembly guest.
type WasmConfig struct {
	// ImportModule is the module name guest imports are taken from.
	// Default "env".
	ImportModule string
	// HeapBase names the exported i32 global marking the end of the
	// image's static data. Default "__heap_base".
	HeapBase string
}

func (c *WasmConfig) withDefaults() WasmConfig {
	out := WasmConfig{ImportModule: "env", HeapBase: "__heap_base"}
	if c != nil {
		if c.ImportModule != "" {
			out.ImportModule = c.ImportModule
		}
		if c.HeapBase != "" {
			out.HeapBase = c.HeapBase
		}
	}
	return out
}

type wasmImport struct {
	name    string
	slot    mem.Addr
	params  []api.ValueType
	results []api.ValueType
}

// Wasm is an Engine running guest code compiled to WebAssembly on wazero.
// The guest's linear memory is the arena, so guest pointers and arena
// addresses coincide. Exported functions are given code addresses; calls to
// imported functions go through a slot the linker fills with a stub
// address, and arguments travel through the register file like on a CPU.
type Wasm struct {
	runtime wazero.Runtime
	module  api.Module
	arena   *mem.Arena
	regs    bridge.Registers
	trap    bridge.TrapFunc

	funcs   map[mem.Addr]api.Function
	symbols map[string]mem.Addr
	imports []*wasmImport
	depth   int
}

var _ bridge.Engine = (*Wasm)(nil)

// NewWasm compiles and instantiates a guest module. The module must declare
// a memory whose size cannot change, since the arena is a view of it.
func NewWasm(ctx context.Context, wasmBytes []byte, cfg *WasmConfig) (*Wasm, error) {
	c := cfg.withDefaults()
	rt := wazero.NewRuntime(ctx)
	w := &Wasm{
		runtime: rt,
		funcs:   make(map[mem.Addr]api.Function),
		symbols: make(map[string]mem.Addr),
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("compile failed", err)
	}

	if defs := compiled.ImportedFunctions(); len(defs) > 0 {
		hb := rt.NewHostModuleBuilder(c.ImportModule)
		for _, def := range defs {
			modName, name, _ := def.Import()
			if modName != c.ImportModule {
				_ = rt.Close(ctx)
				return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
					Symbol(name).
					Detail("import from module %q, only %q is provided", modName, c.ImportModule).
					Build()
			}
			imp := &wasmImport{name: name, params: def.ParamTypes(), results: def.ResultTypes()}
			w.imports = append(w.imports, imp)
			hb.NewFunctionBuilder().
				WithGoModuleFunction(w.trampoline(imp), imp.params, imp.results).
				Export(name)
		}
		if _, err := hb.Instantiate(ctx); err != nil {
			_ = rt.Close(ctx)
			return nil, errors.Load("instantiate import module", err)
		}
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("guest").WithStartFunctions())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("instantiate guest", err)
	}
	w.module = mod

	if err := w.mapMemory(c); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	if err := w.mapSymbols(compiled); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	debugf("wasm: %d exports, %d imports", len(w.funcs), len(w.imports))
	return w, nil
}

func (w *Wasm) mapMemory(c WasmConfig) error {
	m := w.module.Memory()
	if m == nil {
		return errors.InvalidInput(errors.PhaseLoad, "guest module has no memory")
	}
	if maxPages, ok := m.Definition().Max(); !ok || maxPages != m.Definition().Min() {
		return errors.InvalidInput(errors.PhaseLoad, "guest memory must have equal minimum and maximum size")
	}
	buf, ok := m.Read(0, m.Size())
	if !ok {
		return errors.New(errors.PhaseLoad, errors.KindOutOfBounds).Detail("cannot view guest memory").Build()
	}
	arena, err := mem.NewOn(buf)
	if err != nil {
		return err
	}
	if g := w.module.ExportedGlobal(c.HeapBase); g != nil {
		base := mem.Addr(uint32(g.Get()))
		if base > mem.NullPageSize {
			if err := arena.Reserve(mem.NullPageSize, uint32(base-mem.NullPageSize)); err != nil {
				return err
			}
		}
	}
	w.arena = arena
	return nil
}

func (w *Wasm) mapSymbols(compiled wazero.CompiledModule) error {
	for _, imp := range w.imports {
		slot, err := w.arena.Alloc(4, 4)
		if err != nil {
			return err
		}
		imp.slot = slot
	}

	exports := compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		addr, err := w.arena.Alloc(4, 4)
		if err != nil {
			return err
		}
		w.funcs[addr] = w.module.ExportedFunction(name)
		w.symbols[name] = addr
	}
	return nil
}

// Arena returns guest memory.
func (w *Wasm) Arena() *mem.Arena { return w.arena }

// Imports returns the guest's function imports with their slots, named
// with the leading underscore of C symbols.
func (w *Wasm) Imports() []loader.Import {
	out := make([]loader.Import, len(w.imports))
	for i, imp := range w.imports {
		out[i] = loader.Import{Name: "_" + imp.name, Kind: loader.Function, Slot: imp.slot}
	}
	return out
}

// Symbol implements loader.Symbols: exported functions resolve to their
// code address, exported i32 globals to their value.
func (w *Wasm) Symbol(name string) (mem.Addr, bool) {
	if a, ok := w.symbols[name]; ok {
		return a, true
	}
	if g := w.module.ExportedGlobal(name); g != nil && g.Type() == api.ValueTypeI32 {
		return mem.Addr(uint32(g.Get())), true
	}
	return mem.Null, false
}

// Close releases the wazero runtime.
func (w *Wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// RegRead implements bridge.Engine.
func (w *Wasm) RegRead(r bridge.Reg) uint32 { return w.regs[r] }

// RegWrite implements bridge.Engine.
func (w *Wasm) RegWrite(r bridge.Reg, v uint32) { w.regs[r] = v }

// SetTrap implements bridge.Engine.
func (w *Wasm) SetTrap(fn bridge.TrapFunc) { w.trap = fn }

// Run implements bridge.Engine.
func (w *Wasm) Run(ctx context.Context, pc, until mem.Addr) error {
	w.regs[bridge.PC] = uint32(pc)
	return w.loop(ctx, until)
}

func (w *Wasm) loop(ctx context.Context, until mem.Addr) error {
	for {
		cur := mem.Addr(w.regs[bridge.PC])
		if cur == until {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fn, ok := w.funcs[cur]; ok {
			if err := w.call(ctx, fn); err != nil {
				return err
			}
			continue
		}
		if cur >= returnBase {
			return fmt.Errorf("return to %s outside the active call", cur)
		}
		if w.trap == nil {
			return errors.New(errors.PhaseBridge, errors.KindEngine).
				Addr(uint32(cur)).
				Detail("no code at address").
				Build()
		}
		if err := w.trap(ctx, cur); err != nil {
			return err
		}
	}
}

// call runs an exported function with arguments taken from the register
// file and returns to LR.
func (w *Wasm) call(ctx context.Context, fn api.Function) error {
	def := fn.Definition()
	lr := w.regs[bridge.LR]
	args, err := bridge.ReadArgs(w, w.arena, def.ParamTypes())
	if err != nil {
		return err
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return err
	}
	if rt := def.ResultTypes(); len(rt) > 0 && len(results) > 0 {
		bridge.WriteResult(w, rt[0], results[0])
	}
	w.regs[bridge.PC] = lr
	return nil
}

// trampoline is the host side of a guest import: it moves the wasm
// arguments into registers, branches to whatever address the import's slot
// holds and runs until that code returns.
func (w *Wasm) trampoline(imp *wasmImport) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		target, err := mem.Read[uint32](w.arena, imp.slot)
		if err != nil {
			panic(err)
		}
		if target == 0 {
			panic(errors.New(errors.PhaseLink, errors.KindUnresolvedSymbol).
				Symbol("_" + imp.name).
				Detail("import called before linking").
				Build())
		}

		savedLR, savedPC, savedSP := w.regs[bridge.LR], w.regs[bridge.PC], w.regs[bridge.SP]
		if err := bridge.WriteArgs(w, w.arena, imp.params, stack[:len(imp.params)]); err != nil {
			panic(err)
		}
		ret := returnBase + mem.Addr(w.depth*4)
		w.depth++
		w.regs[bridge.LR] = uint32(ret)
		w.regs[bridge.PC] = target
		err = w.loop(ctx, ret)
		w.depth--
		if err != nil {
			Logger().Debug("import failed", zap.String("import", imp.name), zap.Error(err))
			panic(err)
		}
		if len(imp.results) > 0 {
			stack[0] = bridge.ReadResult(w, imp.results)
		}
		w.regs[bridge.LR], w.regs[bridge.PC], w.regs[bridge.SP] = savedLR, savedPC, savedSP
	}
}
