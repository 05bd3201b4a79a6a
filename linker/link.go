package linker

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/loader"
	"github.com/wippyai/hle-runtime/mem"
)

// unresolvedCellSize is the zeroed storage a missing data import points at.
const unresolvedCellSize = 16

// Binding is the result of linking one set of imports.
type Binding struct {
	// Addrs maps each import name to the address written to its slot.
	Addrs map[string]mem.Addr
	// Stubbed lists imports bound to unresolved-symbol stubs, sorted.
	Stubbed []string
}

// Addr returns the bound address of an import.
func (b *Binding) Addr(name string) (mem.Addr, bool) {
	a, ok := b.Addrs[name]
	return a, ok
}

// Link binds imports. Function imports of function exports get the
// export's stub. Data imports of constants get a guest cell holding the
// value, produced now. Function imports of constants get an accessor stub
// that produces the value on first call. Missing symbols follow the
// options: under Strict the link fails before any slot is written.
func (l *Linker) Link(ctx context.Context, imports []loader.Import) (*Binding, error) {
	b := &Binding{Addrs: make(map[string]mem.Addr, len(imports))}
	var missing []string
	stubbed := map[string]struct{}{}

	addrs := make([]mem.Addr, len(imports))
	for i, imp := range imports {
		addr, found, err := l.resolve(ctx, imp)
		if err != nil {
			return nil, err
		}
		if !found {
			if l.strictFor(imp.Name) {
				missing = append(missing, imp.Name)
				continue
			}
			addr, err = l.unresolvedStub(imp)
			if err != nil {
				return nil, err
			}
			stubbed[imp.Name] = struct{}{}
		}
		addrs[i] = addr
	}

	if len(missing) > 0 {
		return nil, errors.NewUnresolvedSymbolsError(missing)
	}

	for i, imp := range imports {
		b.Addrs[imp.Name] = addrs[i]
		if imp.Slot.IsNull() {
			continue
		}
		if err := mem.Write(l.arena, imp.Slot, uint32(addrs[i])); err != nil {
			return nil, errors.New(errors.PhaseLink, errors.KindOutOfBounds).
				Symbol(imp.Name).
				Addr(uint32(imp.Slot)).
				Cause(err).
				Detail("writing import slot").
				Build()
		}
	}
	for name := range stubbed {
		b.Stubbed = append(b.Stubbed, name)
	}
	sort.Strings(b.Stubbed)

	Logger().Debug("imports linked",
		zap.Int("imports", len(imports)),
		zap.Int("stubbed", len(b.Stubbed)))
	return b, nil
}

func (l *Linker) resolve(ctx context.Context, imp loader.Import) (mem.Addr, bool, error) {
	if _, ok := l.funcs[imp.Name]; ok {
		addr, err := l.FuncAddr(imp.Name)
		return addr, true, err
	}
	if _, ok := l.consts[imp.Name]; ok {
		if imp.Kind == loader.Data {
			addr, err := l.ConstantCell(ctx, imp.Name)
			return addr, true, err
		}
		addr, err := l.accessorStub(imp.Name)
		return addr, true, err
	}
	return mem.Null, false, nil
}

// accessorStub exposes a constant as a function returning its value.
func (l *Linker) accessorStub(name string) (mem.Addr, error) {
	key := "()" + name
	if a, ok := l.stubs[key]; ok {
		return a, nil
	}
	addr, err := l.bridge.Register(bridge.Func{
		Name: name,
		Sig:  bridge.Sig(nil, api.ValueTypeI32),
		Fn: func(ctx context.Context, c *bridge.Call) error {
			v, err := l.Constant(ctx, name)
			if err != nil {
				return err
			}
			c.Return(uint64(v))
			return nil
		},
	})
	if err != nil {
		return mem.Null, err
	}
	l.stubs[key] = addr
	return addr, nil
}

func (l *Linker) unresolvedStub(imp loader.Import) (mem.Addr, error) {
	key := "?" + imp.Kind.String() + ":" + imp.Name
	if a, ok := l.stubs[key]; ok {
		return a, nil
	}
	if _, ok := l.warned[imp.Name]; !ok {
		l.warned[imp.Name] = struct{}{}
		Logger().Warn("unresolved symbol stubbed",
			zap.String("symbol", imp.Name),
			zap.Stringer("kind", imp.Kind),
			zap.Stringer("stub", l.options.Stub))
	}

	if imp.Kind == loader.Data {
		cell, err := l.arena.Alloc(unresolvedCellSize, 4)
		if err != nil {
			return mem.Null, err
		}
		l.stubs[key] = cell
		return cell, nil
	}

	name := imp.Name
	mode := l.options.Stub
	addr, err := l.bridge.Register(bridge.Func{
		Name: name,
		Sig:  bridge.VariadicSig(nil, api.ValueTypeI64),
		Fn: func(_ context.Context, c *bridge.Call) error {
			if mode == StubZero {
				Logger().Debug("unresolved symbol called", zap.String("symbol", name))
				c.Return(0)
				return nil
			}
			return errors.New(errors.PhaseLink, errors.KindUnimplemented).
				Symbol(name).
				Detail("call to unimplemented function").
				Build()
		},
	})
	if err != nil {
		return mem.Null, err
	}
	l.stubs[key] = addr
	return addr, nil
}
