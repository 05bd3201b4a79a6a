package linker

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/engine"
	rterrors "github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/loader"
	"github.com/wippyai/hle-runtime/mem"
)

func newTestLinker(t *testing.T, opts Options) (*Linker, *mem.Arena) {
	t.Helper()
	arena, err := mem.New(0x40000)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	br, err := bridge.New(engine.NewScript(arena), arena, bridge.DefaultOptions())
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	return New(br, opts), arena
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })
	return logs
}

func slot(t *testing.T, a *mem.Arena) mem.Addr {
	t.Helper()
	s, err := a.Alloc(4, 4)
	if err != nil {
		t.Fatalf("alloc slot: %v", err)
	}
	return s
}

func TestLinker_Conflict(t *testing.T) {
	l, _ := newTestLinker(t, DefaultOptions())
	noop := func(context.Context, *bridge.Call) error { return nil }

	fw := l.Framework("Foundation").
		Func("_NSLog", bridge.Sig(nil), noop).
		Value("_NSFoundationVersionNumber", 678)
	if fw.Err() != nil {
		t.Fatalf("define: %v", fw.Err())
	}

	tests := []struct {
		name string
		err  error
	}{
		{"const over func", l.DefineConst("UIKit", ConstExport{Name: "_NSLog", Produce: func(context.Context) (uint32, error) { return 0, nil }})},
		{"func over const", l.DefineFunc("UIKit", FuncExport{Name: "_NSFoundationVersionNumber", Fn: noop})},
		{"duplicate func", l.DefineFunc("UIKit", FuncExport{Name: "_NSLog", Fn: noop})},
		{"builder", l.Framework("UIKit").Func("_NSLog", bridge.Sig(nil), noop).Err()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !rterrors.IsKind(tt.err, rterrors.KindConflict) {
				t.Errorf("err = %v, want conflict", tt.err)
			}
		})
	}
	if l.Framework("Foundation") != fw || fw.Len() != 2 {
		t.Errorf("framework not reused or wrong export count %d", fw.Len())
	}
}

func TestLinker_ConstantMemoized(t *testing.T) {
	ctx := context.Background()
	l, arena := newTestLinker(t, DefaultOptions())

	produced := 0
	l.Framework("Foundation").Const("_NSRangeException", func(context.Context) (uint32, error) {
		produced++
		return 0xCAFE0 + uint32(produced), nil
	})

	s1, s2, s3 := slot(t, arena), slot(t, arena), slot(t, arena)
	b, err := l.Link(ctx, []loader.Import{
		{Name: "_NSRangeException", Kind: loader.Data, Slot: s1},
		{Name: "_NSRangeException", Kind: loader.Data, Slot: s2},
		{Name: "_NSRangeException", Kind: loader.Function, Slot: s3},
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if produced != 1 {
		t.Errorf("producer ran %d times during link, want 1", produced)
	}

	c1, _ := mem.Read[uint32](arena, s1)
	c2, _ := mem.Read[uint32](arena, s2)
	if c1 != c2 || c1 == 0 {
		t.Fatalf("data slots %#x, %#x should share one cell", c1, c2)
	}
	v, _ := mem.Read[uint32](arena, mem.Addr(c1))
	if v != 0xCAFE1 {
		t.Errorf("cell holds %#x", v)
	}

	accessor, _ := mem.Read[uint32](arena, s3)
	got, err := l.Bridge().CallGuest(ctx, mem.Addr(accessor), bridge.Sig(nil, api.ValueTypeI32))
	if err != nil {
		t.Fatalf("accessor call: %v", err)
	}
	if got != 0xCAFE1 || produced != 1 {
		t.Errorf("accessor returned %#x after %d productions", got, produced)
	}
	again, _ := l.Constant(ctx, "_NSRangeException")
	if again != 0xCAFE1 {
		t.Errorf("Constant = %#x", again)
	}
	if addr, ok := b.Addr("_NSRangeException"); !ok || addr.IsNull() {
		t.Errorf("binding missing constant")
	}
}

func TestLinker_FunctionImport(t *testing.T) {
	ctx := context.Background()
	l, arena := newTestLinker(t, DefaultOptions())

	l.Framework("libSystem").Func("_abs", bridge.Sig([]api.ValueType{bridge.I32}, bridge.I32), func(_ context.Context, c *bridge.Call) error {
		v := api.DecodeI32(c.Args[0])
		if v < 0 {
			v = -v
		}
		c.Return(api.EncodeI32(v))
		return nil
	})

	s1, s2 := slot(t, arena), slot(t, arena)
	if _, err := l.Link(ctx, []loader.Import{{Name: "_abs", Slot: s1}, {Name: "_abs", Slot: s2}}); err != nil {
		t.Fatalf("Link: %v", err)
	}
	a1, _ := mem.Read[uint32](arena, s1)
	a2, _ := mem.Read[uint32](arena, s2)
	if a1 != a2 {
		t.Errorf("same function bound to two stubs")
	}
	got, err := l.Bridge().CallGuest(ctx, mem.Addr(a1), bridge.Sig([]api.ValueType{bridge.I32}, bridge.I32), api.EncodeI32(-9))
	if err != nil || got != 9 {
		t.Errorf("abs(-9) = %d, %v", got, err)
	}
}

func TestLinker_StrictAborts(t *testing.T) {
	ctx := context.Background()
	l, arena := newTestLinker(t, Options{Policy: Strict})
	l.Framework("Foundation").Value("_kPresent", 1)

	present := slot(t, arena)
	_, err := l.Link(ctx, []loader.Import{
		{Name: "_kPresent", Kind: loader.Data, Slot: present},
		{Name: "_UIApplicationMain"},
		{Name: "_kMissing", Kind: loader.Data, Slot: slot(t, arena)},
	})
	var unresolved *rterrors.UnresolvedSymbolsError
	if !stderrors.As(err, &unresolved) {
		t.Fatalf("err = %v, want UnresolvedSymbolsError", err)
	}
	if len(unresolved.Imports) != 2 {
		t.Errorf("reported %d missing symbols, want 2: %v", len(unresolved.Imports), err)
	}
	if !rterrors.IsFatal(err) {
		t.Errorf("strict failure should be fatal")
	}
	if v, _ := mem.Read[uint32](arena, present); v != 0 {
		t.Errorf("slot written despite failed link")
	}
}

func TestLinker_PermissiveLogsOnce(t *testing.T) {
	ctx := context.Background()
	logs := observeLogs(t)
	l, arena := newTestLinker(t, Options{Policy: Permissive, Stub: StubZero})

	imports := []loader.Import{
		{Name: "_CGColorCreate", Slot: slot(t, arena)},
		{Name: "_CGColorCreate", Slot: slot(t, arena)},
		{Name: "_kCAGravityCenter", Kind: loader.Data, Slot: slot(t, arena)},
	}
	b, err := l.Link(ctx, imports)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := l.Link(ctx, imports[:1]); err != nil {
		t.Fatalf("second Link: %v", err)
	}

	if n := logs.FilterMessage("unresolved symbol stubbed").Len(); n != 2 {
		t.Errorf("logged %d warnings, want one per distinct symbol (2)", n)
	}
	if len(b.Stubbed) != 2 || b.Stubbed[0] != "_CGColorCreate" {
		t.Errorf("Stubbed = %v", b.Stubbed)
	}

	stub, _ := b.Addr("_CGColorCreate")
	got, err := l.Bridge().CallGuest(ctx, stub, bridge.Sig([]api.ValueType{bridge.I32}, bridge.I32), 5)
	if err != nil || got != 0 {
		t.Errorf("zero stub returned %d, %v", got, err)
	}
	cell, _ := b.Addr("_kCAGravityCenter")
	if v, err := mem.Read[uint32](arena, cell); err != nil || v != 0 {
		t.Errorf("data stub cell = %d, %v", v, err)
	}
}

func TestLinker_TrapStub(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLinker(t, DefaultOptions())
	b, err := l.Link(ctx, []loader.Import{{Name: "_AudioQueueStart"}})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	stub, _ := b.Addr("_AudioQueueStart")
	_, err = l.Bridge().CallGuest(ctx, stub, bridge.Sig(nil))
	if !rterrors.IsKind(err, rterrors.KindUnimplemented) {
		t.Errorf("err = %v, want unimplemented", err)
	}
}

func TestLinker_PolicyPatterns(t *testing.T) {
	ctx := context.Background()

	t.Run("require in permissive", func(t *testing.T) {
		l, _ := newTestLinker(t, Options{Policy: Permissive, Require: []string{"_objc_*"}})
		_, err := l.Link(ctx, []loader.Import{{Name: "_objc_msgSend"}, {Name: "_glFlush"}})
		if !rterrors.IsKind(err, rterrors.KindUnresolvedSymbol) {
			t.Errorf("err = %v, want unresolved_symbol", err)
		}
	})

	t.Run("tolerate in strict", func(t *testing.T) {
		l, _ := newTestLinker(t, Options{Policy: Strict, Tolerate: []string{"_gl*", "_AL*"}})
		b, err := l.Link(ctx, []loader.Import{{Name: "_glFlush"}, {Name: "_ALCreate"}})
		if err != nil {
			t.Fatalf("Link: %v", err)
		}
		if len(b.Stubbed) != 2 {
			t.Errorf("Stubbed = %v", b.Stubbed)
		}
	})

	t.Run("require beats tolerate", func(t *testing.T) {
		l, _ := newTestLinker(t, Options{Policy: Permissive, Tolerate: []string{"*"}, Require: []string{"_UIApplicationMain"}})
		if _, err := l.Link(ctx, []loader.Import{{Name: "_UIApplicationMain"}}); err == nil {
			t.Errorf("required symbol was stubbed")
		}
	})
}

func TestLinker_Exports(t *testing.T) {
	l, _ := newTestLinker(t, DefaultOptions())
	noop := func(context.Context, *bridge.Call) error { return nil }
	l.Framework("UIKit").Func("_UIApplicationMain", bridge.Sig(nil), noop)
	l.Framework("Foundation").Value("_NSFoundationVersionNumber", 1).Func("_NSLog", bridge.Sig(nil), noop)

	ex := l.Exports()
	want := []string{"_NSFoundationVersionNumber", "_NSLog", "_UIApplicationMain"}
	if len(ex) != len(want) {
		t.Fatalf("Exports = %+v", ex)
	}
	for i, w := range want {
		if ex[i].Name != w {
			t.Errorf("export %d = %s, want %s", i, ex[i].Name, w)
		}
	}
	if !ex[0].Const || ex[1].Const {
		t.Errorf("const flags wrong: %+v", ex)
	}
}
