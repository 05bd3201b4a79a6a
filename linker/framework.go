package linker

import (
	"context"

	"github.com/wippyai/hle-runtime/bridge"
)

// Framework groups the exports of one host library. Its methods chain and
// record the first definition error, returned by Err.
type Framework struct {
	linker *Linker
	name   string
	funcs  []string
	consts []string
	err    error
}

// Framework returns or creates the named framework.
func (l *Linker) Framework(name string) *Framework {
	if f, ok := l.frameworks[name]; ok {
		return f
	}
	f := &Framework{linker: l, name: name}
	l.frameworks[name] = f
	return f
}

// Name returns the framework name.
func (f *Framework) Name() string { return f.name }

// Func exports a host function.
func (f *Framework) Func(name string, sig bridge.Signature, fn bridge.HostFunc) *Framework {
	if f.err != nil {
		return f
	}
	if err := f.linker.DefineFunc(f.name, FuncExport{Name: name, Sig: sig, Fn: fn}); err != nil {
		f.err = err
		return f
	}
	f.funcs = append(f.funcs, name)
	return f
}

// Const exports a constant.
func (f *Framework) Const(name string, produce Producer) *Framework {
	if f.err != nil {
		return f
	}
	if err := f.linker.DefineConst(f.name, ConstExport{Name: name, Produce: produce}); err != nil {
		f.err = err
		return f
	}
	f.consts = append(f.consts, name)
	return f
}

// Value exports a constant with a fixed value.
func (f *Framework) Value(name string, v uint32) *Framework {
	return f.Const(name, func(context.Context) (uint32, error) { return v, nil })
}

// Err returns the first definition error.
func (f *Framework) Err() error { return f.err }

// Len returns the number of exports defined through f.
func (f *Framework) Len() int { return len(f.funcs) + len(f.consts) }
