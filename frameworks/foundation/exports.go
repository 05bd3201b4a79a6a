package foundation

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/linker"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

var (
	// msgSendSig covers self and _cmd; the message arguments are read
	// through Call.Rest once the method's encoding is known.
	msgSendSig = bridge.VariadicSig([]api.ValueType{bridge.I32, bridge.I32}, bridge.I32)
	// The _stret variants take the result buffer ahead of self.
	msgSendStretSig = bridge.VariadicSig([]api.ValueType{bridge.I32, bridge.I32, bridge.I32})
	wordToWord = bridge.Sig([]api.ValueType{bridge.I32}, bridge.I32)
	wordToVoid = bridge.Sig([]api.ValueType{bridge.I32})
	nsLogSig   = bridge.VariadicSig([]api.ValueType{bridge.I32})
)

func (f *Foundation) exportRuntime(fw *linker.Framework) {
	fw.Func("_objc_msgSend", msgSendSig, f.msgSend(false)).
		Func("_objc_msgSend_stret", msgSendStretSig, f.msgSend(true)).
		Func("_objc_msgSendSuper", msgSendSig, f.msgSendSuper(false, false)).
		Func("_objc_msgSendSuper2", msgSendSig, f.msgSendSuper(true, false)).
		Func("_objc_msgSendSuper_stret", msgSendStretSig, f.msgSendSuper(false, true)).
		Func("_objc_msgSendSuper2_stret", msgSendStretSig, f.msgSendSuper(true, true)).
		Func("_objc_getClass", wordToWord, f.getClass).
		Func("_objc_lookUpClass", wordToWord, f.getClass).
		Func("_sel_registerName", wordToWord, f.selRegisterName).
		Func("_sel_getName", wordToWord, f.selRegisterName).
		Func("_class_getName", wordToWord, f.classGetName)
}

func (f *Foundation) exportFunctions(fw *linker.Framework) {
	fw.Func("_NSLog", nsLogSig, f.nsLog)
}

// msgSend implements objc_msgSend and, with stret, objc_msgSend_stret,
// whose first argument is the struct result buffer.
func (f *Foundation) msgSend(stret bool) bridge.HostFunc {
	return func(ctx context.Context, call *bridge.Call) error {
		ret, base := stretArgs(call, stret)
		recv := objc.ID(call.U32(base))
		if recv.IsNil() {
			call.ReturnAs(bridge.I64, 0)
			return nil
		}
		rt := f.rt()
		sel, err := rt.SelAt(call.Addr(base + 1))
		if err != nil {
			return err
		}
		m, owner, err := rt.Resolve(recv, sel)
		if err != nil {
			return err
		}
		return f.dispatch(ctx, call, m, owner, recv, ret)
	}
}

// msgSendSuper implements objc_msgSendSuper and objc_msgSendSuper2 and
// their _stret forms. The receiver argument points at {receiver, class};
// the search starts at class itself for the former and at its superclass
// for the latter.
func (f *Foundation) msgSendSuper(fromSuper, stret bool) bridge.HostFunc {
	return func(ctx context.Context, call *bridge.Call) error {
		rt := f.rt()
		ret, base := stretArgs(call, stret)
		words, err := mem.PtrTo[uint32](call.Addr(base)).ReadSlice(rt.Arena(), 2)
		if err != nil {
			return err
		}
		recv := objc.ID(words[0])
		if recv.IsNil() {
			call.ReturnAs(bridge.I64, 0)
			return nil
		}
		start, ok := rt.ClassByID(objc.ID(words[1]))
		if !ok {
			return errors.New(errors.PhaseObjC, errors.KindNotFound).
				Symbol(call.Name).
				Addr(words[1]).
				Detail("super send through a non-class").
				Build()
		}
		if fromSuper {
			if start, err = start.Super(); err != nil {
				return err
			}
		}
		sel, err := rt.SelAt(call.Addr(base + 1))
		if err != nil {
			return err
		}
		m, owner, err := rt.ResolveSuper(start, recv, sel)
		if err != nil {
			return err
		}
		// The implementation expects self, not the super struct.
		call.Bridge().Engine().RegWrite(bridge.Reg(base), uint32(recv))
		return f.dispatch(ctx, call, m, owner, recv, ret)
	}
}

// stretArgs returns the result buffer of a _stret call and the index of
// the receiver argument.
func stretArgs(call *bridge.Call, stret bool) (mem.Addr, int) {
	if stret {
		return call.Addr(0), 1
	}
	return mem.Null, 0
}

// dispatch enters a resolved method. Guest code is tail-called so that it
// returns directly to the sender; host methods are run here with their
// arguments decoded per the method's signature.
func (f *Foundation) dispatch(ctx context.Context, call *bridge.Call, m objc.Method, owner *objc.Class, recv objc.ID, ret mem.Addr) error {
	if !m.IMP.IsHost() {
		call.TailCall(m.IMP.Guest())
		return nil
	}
	v, err := f.rt().InvokeFrom(ctx, m, owner, recv, ret, call.Rest)
	if err != nil {
		return err
	}
	call.ReturnAs(m.ResultType(), v)
	return nil
}

func (f *Foundation) getClass(_ context.Context, call *bridge.Call) error {
	name, err := f.rt().Arena().CStrAt(call.Addr(0))
	if err != nil {
		return err
	}
	c, ok := f.rt().Class(name)
	if !ok {
		Logger().Debug("objc_getClass miss", zap.String("class", name))
		call.Return(0)
		return nil
	}
	call.Return(uint64(c.ID()))
	return nil
}

func (f *Foundation) selRegisterName(_ context.Context, call *bridge.Call) error {
	rt := f.rt()
	sel, err := rt.SelAt(call.Addr(0))
	if err != nil {
		return err
	}
	addr, err := rt.SelAddr(sel)
	if err != nil {
		return err
	}
	call.Return(uint64(addr))
	return nil
}

func (f *Foundation) classGetName(_ context.Context, call *bridge.Call) error {
	id := objc.ID(call.U32(0))
	if addr, ok := f.classNames[id]; ok {
		call.Return(uint64(addr))
		return nil
	}
	c, ok := f.rt().ClassByID(id)
	if !ok {
		call.Return(0)
		return nil
	}
	addr, err := f.rt().Arena().AllocCStr(c.Name())
	if err != nil {
		return err
	}
	f.classNames[id] = addr
	call.Return(uint64(addr))
	return nil
}

func (f *Foundation) nsLog(ctx context.Context, call *bridge.Call) error {
	format, err := f.GoString(objc.ID(call.U32(0)))
	if err != nil {
		return err
	}
	msg, err := f.format(ctx, format, call.Rest)
	if err != nil {
		return err
	}
	Logger().Debug("NSLog", zap.String("message", msg))
	_, err = fmt.Fprintln(f.out, msg)
	return err
}
