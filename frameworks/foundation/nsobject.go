package foundation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/objc"
)

func (f *Foundation) objectClass() objc.ClassDef {
	return objc.ClassDef{
		Name: ObjectClass,
		Host: true,
		ClassMethods: []objc.Method{
			objc.Fn("alloc", "@8@0:4", alloc),
			objc.Fn("allocWithZone:", "@12@0:4^v8", allocWithZone),
			objc.Fn("new", "@8@0:4", newObject),
		},
		Methods: []objc.Method{
			objc.Fn("init", "@8@0:4", returnSelf),
			objc.Fn("retain", "@8@0:4", retain),
			objc.Fn("release", "v8@0:4", release),
			objc.Fn("autorelease", "@8@0:4", autorelease),
			objc.Fn("dealloc", "v8@0:4", dealloc),
			objc.Fn("retainCount", "I8@0:4", retainCount),
			objc.Fn("class", "#8@0:4", classOf),
			objc.Fn("superclass", "#8@0:4", superclassOf),
			objc.Fn("isKindOfClass:", "c12@0:4#8", isKindOfClass),
			objc.Fn("isMemberOfClass:", "c12@0:4#8", isMemberOfClass),
			objc.Fn("respondsToSelector:", "c12@0:4:8", respondsToSelector),
			objc.Fn("isEqual:", "c12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				return boolean(m.Self == m.ID(0)), nil
			}),
			objc.Fn("hash", "I8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				return uint64(m.Self), nil
			}),
			objc.Fn("copy", "@8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return m.RT.Send(ctx, m.Self, "copyWithZone:", 0)
			}),
			objc.Fn("description", "@8@0:4", f.description),
			objc.Fn("setValue:forKey:", "v16@0:4@8@12", f.setValueForKey),
		},
	}
}

func alloc(ctx context.Context, m *objc.Msg) (uint64, error) {
	return m.RT.Send(ctx, m.Self, "allocWithZone:", 0)
}

func allocWithZone(_ context.Context, m *objc.Msg) (uint64, error) {
	c, ok := m.RT.ClassByID(m.Self)
	if !ok {
		return 0, errors.InvalidInput(errors.PhaseHost, "allocWithZone: sent to an instance")
	}
	id, err := m.RT.Alloc(c)
	return ret(id), err
}

func newObject(ctx context.Context, m *objc.Msg) (uint64, error) {
	id, err := m.RT.SendID(ctx, m.Self, "alloc")
	if err != nil {
		return 0, err
	}
	return m.RT.Send(ctx, id, "init")
}

func retain(_ context.Context, m *objc.Msg) (uint64, error) {
	return ret(m.Self), m.RT.Retain(m.Self)
}

func release(ctx context.Context, m *objc.Msg) (uint64, error) {
	return 0, m.RT.Release(ctx, m.Self)
}

func autorelease(_ context.Context, m *objc.Msg) (uint64, error) {
	id, err := m.RT.Autorelease(m.Self)
	return ret(id), err
}

func dealloc(_ context.Context, m *objc.Msg) (uint64, error) {
	return 0, m.RT.Destroy(m.Self)
}

func retainCount(_ context.Context, m *objc.Msg) (uint64, error) {
	n, err := m.RT.RetainCount(m.Self)
	return uint64(n), err
}

func classOf(_ context.Context, m *objc.Msg) (uint64, error) {
	c, err := m.RT.ClassOf(m.Self)
	if err != nil {
		return 0, err
	}
	return ret(c.ID()), nil
}

func superclassOf(_ context.Context, m *objc.Msg) (uint64, error) {
	c, err := m.RT.ClassOf(m.Self)
	if err != nil {
		return 0, err
	}
	sup, err := c.Super()
	if err != nil || sup == nil {
		return 0, err
	}
	return ret(sup.ID()), nil
}

func isKindOfClass(_ context.Context, m *objc.Msg) (uint64, error) {
	c, err := m.RT.ClassOf(m.Self)
	if err != nil {
		return 0, err
	}
	want, ok := m.RT.ClassByID(m.ID(0))
	return boolean(ok && c.IsSubclassOf(want)), nil
}

func isMemberOfClass(_ context.Context, m *objc.Msg) (uint64, error) {
	c, err := m.RT.ClassOf(m.Self)
	if err != nil {
		return 0, err
	}
	return boolean(c.ID() == m.ID(0)), nil
}

func respondsToSelector(_ context.Context, m *objc.Msg) (uint64, error) {
	sel, err := m.RT.SelAt(m.ID(0).Addr())
	if err != nil {
		return 0, err
	}
	return boolean(m.RT.RespondsTo(m.Self, sel)), nil
}

func (f *Foundation) description(_ context.Context, m *objc.Msg) (uint64, error) {
	return f.autoreleased(f.String(f.describeDefault(m.Self)))
}

func (f *Foundation) describeDefault(id objc.ID) string {
	c, err := f.rt().ClassOf(id)
	if err != nil {
		return id.String()
	}
	if !f.rt().IsObject(id) {
		return c.Name()
	}
	return fmt.Sprintf("<%s: %#x>", c.Name(), uint32(id))
}

// setValueForKey implements key-value coding for objects that declare a
// setter: the key "delegate" is set through setDelegate:.
func (f *Foundation) setValueForKey(ctx context.Context, m *objc.Msg) (uint64, error) {
	key, err := f.GoString(m.ID(1))
	if err != nil {
		return 0, err
	}
	if key == "" {
		return 0, errors.InvalidInput(errors.PhaseHost, "setValue:forKey: with an empty key")
	}
	setter := objc.Sel("set" + strings.ToUpper(key[:1]) + key[1:] + ":")
	if !m.RT.RespondsTo(m.Self, setter) {
		name := "?"
		if c, err := m.RT.ClassOf(m.Self); err == nil {
			name = c.Name()
		}
		return 0, errors.New(errors.PhaseHost, errors.KindNotFound).
			Selector(string(m.Sel)).
			Addr(uint32(m.Self)).
			Value(key).
			Detail("NSUndefinedKeyException: %s is not key value coding-compliant for the key %q", name, key).
			Build()
	}
	_, err = m.RT.Send(ctx, m.Self, setter, objc.Words(uint32(m.ID(0)))...)
	return 0, err
}
