package linker

import (
	"context"
	"path"
	"sort"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// Policy decides what happens to imports no framework exports.
type Policy int

const (
	// Permissive binds missing symbols to stubs and logs each once.
	Permissive Policy = iota
	// Strict fails the link listing every missing symbol.
	Strict
)

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "permissive"
}

// StubMode decides what a stub for a missing function does when called.
type StubMode int

const (
	// StubTrap fails the call with an unimplemented error.
	StubTrap StubMode = iota
	// StubZero returns zero to the caller.
	StubZero
)

func (m StubMode) String() string {
	if m == StubZero {
		return "zero"
	}
	return "trap"
}

// Options configures linker behavior.
type Options struct {
	Policy Policy
	Stub   StubMode
	// Tolerate lists path.Match patterns of symbols stubbed even under
	// Strict.
	Tolerate []string
	// Require lists patterns of symbols that must resolve even under
	// Permissive. Require wins over Tolerate.
	Require []string
}

// DefaultOptions returns a permissive linker whose stubs trap when called.
func DefaultOptions() Options {
	return Options{Policy: Permissive, Stub: StubTrap}
}

// FuncExport is a host function exported under a guest symbol name.
type FuncExport struct {
	Name string
	Sig  bridge.Signature
	Fn   bridge.HostFunc
}

// Producer computes a constant's guest value, typically an object id.
type Producer func(ctx context.Context) (uint32, error)

// ConstExport is a constant exported under a guest symbol name. Its
// producer runs at most once.
type ConstExport struct {
	Name    string
	Produce Producer
}

type funcEntry struct {
	framework string
	export    FuncExport
}

type constEntry struct {
	framework string
	export    ConstExport
}

// Linker holds the export tables of every host framework and binds guest
// imports against them. It is not safe for concurrent use.
type Linker struct {
	bridge  *bridge.Bridge
	arena   *mem.Arena
	options Options

	frameworks map[string]*Framework
	funcs      map[string]*funcEntry
	consts     map[string]*constEntry

	values map[string]uint32
	cells  map[string]mem.Addr
	stubs  map[string]mem.Addr
	warned map[string]struct{}
}

// New creates a linker that registers stubs with br.
func New(br *bridge.Bridge, opts Options) *Linker {
	return &Linker{
		bridge:     br,
		arena:      br.Arena(),
		options:    opts,
		frameworks: make(map[string]*Framework),
		funcs:      make(map[string]*funcEntry),
		consts:     make(map[string]*constEntry),
		values:     make(map[string]uint32),
		cells:      make(map[string]mem.Addr),
		stubs:      make(map[string]mem.Addr),
		warned:     make(map[string]struct{}),
	}
}

// NewWithDefaults creates a linker with default options.
func NewWithDefaults(br *bridge.Bridge) *Linker {
	return New(br, DefaultOptions())
}

// Options returns the configuration.
func (l *Linker) Options() Options { return l.options }

// Bridge returns the bridge stubs are registered with.
func (l *Linker) Bridge() *bridge.Bridge { return l.bridge }

// DefineFunc adds a function export. A symbol may be exported once across
// both tables.
func (l *Linker) DefineFunc(framework string, e FuncExport) error {
	if err := l.checkFree(e.Name); err != nil {
		return err
	}
	if e.Fn == nil {
		return errors.InvalidInput(errors.PhaseLink, "function export "+e.Name+" has no implementation")
	}
	l.funcs[e.Name] = &funcEntry{framework: framework, export: e}
	return nil
}

// DefineConst adds a constant export.
func (l *Linker) DefineConst(framework string, e ConstExport) error {
	if err := l.checkFree(e.Name); err != nil {
		return err
	}
	if e.Produce == nil {
		return errors.InvalidInput(errors.PhaseLink, "constant export "+e.Name+" has no producer")
	}
	l.consts[e.Name] = &constEntry{framework: framework, export: e}
	return nil
}

func (l *Linker) checkFree(name string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLink, "export name is empty")
	}
	if f, ok := l.funcs[name]; ok {
		return errors.Conflict(errors.PhaseLink, "symbol", name, "already exported as a function by "+f.framework)
	}
	if c, ok := l.consts[name]; ok {
		return errors.Conflict(errors.PhaseLink, "symbol", name, "already exported as a constant by "+c.framework)
	}
	return nil
}

// Constant returns the value of a constant export, running its producer on
// first use only.
func (l *Linker) Constant(ctx context.Context, name string) (uint32, error) {
	if v, ok := l.values[name]; ok {
		return v, nil
	}
	c, ok := l.consts[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseLink, "constant", name)
	}
	v, err := c.export.Produce(ctx)
	if err != nil {
		return 0, errors.New(errors.PhaseLink, errors.KindEngine).
			Symbol(name).
			Cause(err).
			Detail("producing constant").
			Build()
	}
	l.values[name] = v
	return v, nil
}

// ConstantCell returns a guest word holding the constant's value, which is
// what a data import of the symbol points at.
func (l *Linker) ConstantCell(ctx context.Context, name string) (mem.Addr, error) {
	if a, ok := l.cells[name]; ok {
		return a, nil
	}
	v, err := l.Constant(ctx, name)
	if err != nil {
		return mem.Null, err
	}
	cell, err := l.arena.Alloc(4, 4)
	if err != nil {
		return mem.Null, err
	}
	if err := mem.Write(l.arena, cell, v); err != nil {
		return mem.Null, err
	}
	l.cells[name] = cell
	return cell, nil
}

// FuncAddr returns the stub address of a function export, registering it on
// first use.
func (l *Linker) FuncAddr(name string) (mem.Addr, error) {
	if a, ok := l.stubs[name]; ok {
		return a, nil
	}
	f, ok := l.funcs[name]
	if !ok {
		return mem.Null, errors.NotFound(errors.PhaseLink, "function", name)
	}
	addr, err := l.bridge.Register(bridge.Func{Name: name, Sig: f.export.Sig, Fn: f.export.Fn})
	if err != nil {
		return mem.Null, err
	}
	l.stubs[name] = addr
	return addr, nil
}

// ExportInfo describes one export for listings.
type ExportInfo struct {
	Framework string
	Name      string
	Const     bool
	Sig       bridge.Signature
}

// Exports lists every export sorted by framework then name.
func (l *Linker) Exports() []ExportInfo {
	out := make([]ExportInfo, 0, len(l.funcs)+len(l.consts))
	for _, f := range l.funcs {
		out = append(out, ExportInfo{Framework: f.framework, Name: f.export.Name, Sig: f.export.Sig})
	}
	for _, c := range l.consts {
		out = append(out, ExportInfo{Framework: c.framework, Name: c.export.Name, Const: true})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Framework != out[j].Framework {
			return out[i].Framework < out[j].Framework
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// strictFor reports whether a missing name must fail the link.
func (l *Linker) strictFor(name string) bool {
	if matchAny(l.options.Require, name) {
		return true
	}
	if matchAny(l.options.Tolerate, name) {
		return false
	}
	return l.options.Policy == Strict
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
