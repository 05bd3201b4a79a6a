package objc

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// Resolve finds the implementation recv would run for sel: the instance
// side for objects, the class side for class objects. The returned class is
// the one whose table matched.
func (rt *Runtime) Resolve(recv ID, sel Sel) (Method, *Class, error) {
	start, classSide, err := rt.dispatchClass(recv)
	if err != nil {
		return Method{}, nil, err
	}
	return rt.resolveFrom(start, classSide, recv, sel)
}

func (rt *Runtime) dispatchClass(recv ID) (*Class, bool, error) {
	if obj, ok := rt.objects[recv]; ok {
		return obj.class, false, nil
	}
	if c, ok := rt.classByID[recv]; ok {
		return c, true, nil
	}
	return nil, false, errors.New(errors.PhaseObjC, errors.KindNotFound).
		Addr(uint32(recv)).
		Detail("message to non-object").
		Build()
}

func (rt *Runtime) resolveFrom(start *Class, classSide bool, recv ID, sel Sel) (Method, *Class, error) {
	if start == nil {
		return Method{}, nil, errors.Unimplemented("", string(sel), uint32(recv))
	}
	m, owner, err := start.lookup(sel, classSide)
	if err != nil {
		return Method{}, nil, err
	}
	if owner == nil && classSide {
		// Class objects are instances of their root class, so instance
		// methods of the root answer messages to any class.
		root := start
		if err := start.walk(func(k *Class) bool { root = k; return false }); err != nil {
			return Method{}, nil, err
		}
		if rm, ok := root.Method(sel, false); ok {
			m, owner = rm, root
		}
	}
	if owner == nil {
		name := start.name
		if classSide {
			name = "+" + name
		}
		return Method{}, nil, errors.Unimplemented(name, string(sel), uint32(recv))
	}
	return m, owner, nil
}

// RespondsTo reports whether recv has an implementation of sel.
func (rt *Runtime) RespondsTo(recv ID, sel Sel) bool {
	_, _, err := rt.Resolve(recv, sel)
	return err == nil
}

// Send dispatches sel to recv with args (the message arguments after self
// and _cmd, in api encoding) and returns the raw result. A message to nil
// does nothing and returns zero.
//
// A method returning a struct through a hidden pointer gets a new arena
// block for it, and Send returns that block's address. The caller frees
// it; SendStruct writes to a caller buffer instead.
func (rt *Runtime) Send(ctx context.Context, recv ID, sel Sel, args ...uint64) (uint64, error) {
	if recv.IsNil() {
		return 0, nil
	}
	m, owner, err := rt.Resolve(recv, sel)
	if err != nil {
		return 0, err
	}
	return rt.Invoke(ctx, m, owner, recv, args...)
}

// SendStruct sends a message whose method returns a struct through a
// hidden pointer, with dst as that pointer. A message to nil leaves dst
// untouched.
func (rt *Runtime) SendStruct(ctx context.Context, recv ID, sel Sel, dst mem.Addr, args ...uint64) error {
	if recv.IsNil() {
		return nil
	}
	m, owner, err := rt.Resolve(recv, sel)
	if err != nil {
		return err
	}
	if m.StructRet == 0 {
		return errors.New(errors.PhaseObjC, errors.KindInvalidInput).
			Selector(string(sel)).
			Addr(uint32(recv)).
			Detail("method %s does not return a struct", m.Types).
			Build()
	}
	if dst.IsNull() {
		return errors.NullDereference(uint32(dst))
	}
	_, err = rt.invoke(ctx, m, owner, recv, dst, nil, args)
	return err
}

// SendSuper dispatches sel to recv starting at the superclass of static,
// the class whose method is making the call.
func (rt *Runtime) SendSuper(ctx context.Context, static *Class, recv ID, sel Sel, args ...uint64) (uint64, error) {
	if recv.IsNil() {
		return 0, nil
	}
	if static == nil {
		return 0, errors.InvalidInput(errors.PhaseObjC, "super send without a class")
	}
	_, classSide, err := rt.dispatchClass(recv)
	if err != nil {
		return 0, err
	}
	sup, err := static.Super()
	if err != nil {
		return 0, err
	}
	m, owner, err := rt.resolveFrom(sup, classSide, recv, sel)
	if err != nil {
		return 0, err
	}
	return rt.Invoke(ctx, m, owner, recv, args...)
}

// SendID is Send for messages returning an object.
func (rt *Runtime) SendID(ctx context.Context, recv ID, sel Sel, args ...uint64) (ID, error) {
	v, err := rt.Send(ctx, recv, sel, args...)
	return ID(api.DecodeU32(v)), err
}

// Invoke runs a resolved method. Host implementations are called directly;
// guest implementations are entered through the guest caller with self and
// _cmd prepended. Struct returns are handled as in Send.
func (rt *Runtime) Invoke(ctx context.Context, m Method, owner *Class, recv ID, args ...uint64) (uint64, error) {
	return rt.invoke(ctx, m, owner, recv, mem.Null, nil, args)
}

// InvokeFrom runs a resolved method for a message that arrived from guest
// code. The declared arguments are read from args; variadic methods find
// the remaining ones in Msg.Rest. ret is the guest's result buffer for
// struct-returning methods and is ignored otherwise.
func (rt *Runtime) InvokeFrom(ctx context.Context, m Method, owner *Class, recv ID, ret mem.Addr, args *bridge.ArgReader) (uint64, error) {
	types := m.ArgTypes()
	vals := make([]uint64, len(types))
	for i, t := range types {
		v, err := args.Next(t)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	return rt.invoke(ctx, m, owner, recv, ret, args, vals)
}

func (rt *Runtime) invoke(ctx context.Context, m Method, owner *Class, recv ID, ret mem.Addr, rest *bridge.ArgReader, args []uint64) (uint64, error) {
	if m.StructRet == 0 {
		ret = mem.Null
	}
	owned := false
	if m.StructRet > 0 && ret.IsNull() {
		buf, err := rt.arena.Alloc(m.StructRet, 4)
		if err != nil {
			return 0, err
		}
		ret, owned = buf, true
	}
	v, err := rt.call(ctx, m, owner, recv, ret, rest, args)
	if err != nil {
		if owned {
			_ = rt.arena.Free(ret)
		}
		return 0, err
	}
	if m.StructRet > 0 {
		return api.EncodeU32(uint32(ret)), nil
	}
	return v, nil
}

func (rt *Runtime) call(ctx context.Context, m Method, owner *Class, recv ID, ret mem.Addr, rest *bridge.ArgReader, args []uint64) (uint64, error) {
	if fn := m.IMP.Host(); fn != nil {
		return fn(ctx, &Msg{RT: rt, Self: recv, Sel: m.Sel, Class: owner, Args: args, Rest: rest, Ret: ret})
	}
	if rt.guest == nil {
		return 0, errors.New(errors.PhaseObjC, errors.KindEngine).
			Selector(string(m.Sel)).
			Addr(uint32(m.IMP.Guest())).
			Detail("guest implementation with no guest caller").
			Build()
	}
	selAddr, err := rt.SelAddr(m.Sel)
	if err != nil {
		return 0, err
	}
	full := make([]uint64, 0, len(args)+3)
	if m.StructRet > 0 {
		full = append(full, api.EncodeU32(uint32(ret)))
	}
	full = append(full, api.EncodeU32(uint32(recv)), api.EncodeU32(uint32(selAddr)))
	full = append(full, args...)
	return rt.guest.CallGuest(ctx, m.IMP.Guest(), m.Sig, full...)
}

// ResolveSuper finds sel for recv starting the search at start rather than
// at recv's own class.
func (rt *Runtime) ResolveSuper(start *Class, recv ID, sel Sel) (Method, *Class, error) {
	_, classSide, err := rt.dispatchClass(recv)
	if err != nil {
		return Method{}, nil, err
	}
	return rt.resolveFrom(start, classSide, recv, sel)
}

// Words encodes 32-bit message arguments.
func Words(ws ...uint32) []uint64 {
	out := make([]uint64, len(ws))
	for i, w := range ws {
		out[i] = api.EncodeU32(w)
	}
	return out
}
