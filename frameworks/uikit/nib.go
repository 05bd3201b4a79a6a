package uikit

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/frameworks/foundation"
	"github.com/wippyai/hle-runtime/objc"
)

// Top-level keys of a compiled nib's keyed archive. Each holds an NSArray.
const (
	nibObjectsKey         = "UINibObjectsKey"
	nibConnectionsKey     = "UINibConnectionsKey"
	nibVisibleWindowsKey  = "UINibVisibleWindowsKey"
	nibTopLevelObjectsKey = "UINibTopLevelObjectsKey"
)

type nib struct {
	name   objc.ID
	bundle objc.ID
	// owner is the file's owner while instantiateWithOwner:options: runs.
	owner objc.ID
}

func (k *UIKit) nibClass() objc.ClassDef {
	return objc.ClassDef{
		Name:    NibClass,
		Super:   foundation.ObjectClass,
		Host:    true,
		Payload: func() any { return &nib{} },
		ClassMethods: []objc.Method{
			objc.Fn("nibWithNibName:bundle:", "@16@0:4@8@12", k.nibWithNibName),
		},
		Methods: []objc.Method{
			objc.Fn("instantiateWithOwner:options:", "@16@0:4@8@12", k.instantiateWithOwner),
			objc.Fn("dealloc", "v8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				n, err := objc.PayloadOf[*nib](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				if err := m.RT.Release(ctx, n.name); err != nil {
					return 0, err
				}
				if err := m.RT.Release(ctx, n.bundle); err != nil {
					return 0, err
				}
				return m.Super(ctx)
			}),
		},
	}
}

// nibWithNibName returns an autoreleased UINib. A nil bundle means the
// main bundle, the only one an application has.
func (k *UIKit) nibWithNibName(ctx context.Context, m *objc.Msg) (uint64, error) {
	name, bundle := m.ID(0), m.ID(1)
	if name.IsNil() {
		return 0, errors.InvalidInput(errors.PhaseHost, "nibWithNibName:bundle: with a nil name")
	}
	main, err := k.fd.MainBundle()
	if err != nil {
		return 0, err
	}
	if bundle.IsNil() {
		bundle = main
	} else if bundle != main {
		Logger().Warn("nib bundle is not the main bundle, using the main bundle",
			zap.Stringer("bundle", bundle))
		bundle = main
	}

	c, ok := m.RT.ClassByID(m.Self)
	if !ok {
		c = m.Class
	}
	id, err := m.RT.Alloc(c)
	if err != nil {
		return 0, err
	}
	if _, err := m.RT.Autorelease(id); err != nil {
		_ = m.RT.Release(ctx, id)
		return 0, err
	}
	for _, ref := range []objc.ID{name, bundle} {
		if err := m.RT.Retain(ref); err != nil {
			return 0, err
		}
	}
	if err := m.RT.SetPayload(id, &nib{name: name, bundle: bundle}); err != nil {
		return 0, err
	}
	return ret(id), nil
}

// instantiateWithOwner loads the nib's archive with the owner standing in
// for the File's Owner proxy, connects outlets and actions, shows the
// visible windows and returns the top-level objects, retained and
// autoreleased so they outlive the unarchiver.
func (k *UIKit) instantiateWithOwner(ctx context.Context, m *objc.Msg) (uint64, error) {
	n, err := objc.PayloadOf[*nib](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	if !n.owner.IsNil() {
		return 0, errors.New(errors.PhaseHost, errors.KindConflict).
			Addr(uint32(m.Self)).
			Detail("nib is already being instantiated").
			Build()
	}
	if !m.ID(1).IsNil() {
		Logger().Warn("ignoring nib instantiation options", zap.Stringer("options", m.ID(1)))
	}
	name, err := k.fd.GoString(n.name)
	if err != nil {
		return 0, err
	}
	p, ok := k.fd.ResourcePath(name, "nib")
	if !ok {
		return 0, errors.MissingResource("nib", name+".nib", nil)
	}
	data, err := k.fd.ReadResource(p)
	if err != nil {
		return 0, err
	}

	n.owner = m.ID(0)
	defer func() { n.owner = objc.Nil }()

	u, err := k.arc.Unarchive(ctx, data, m.Self)
	if err != nil {
		return 0, err
	}
	top, err := k.load(ctx, u)
	if err == nil {
		if err = m.RT.Retain(top); err == nil {
			top, err = m.RT.Autorelease(top)
		}
	}
	if rerr := m.RT.Release(ctx, u); err == nil {
		err = rerr
	}
	if err != nil {
		return 0, err
	}
	Logger().Info("nib instantiated", zap.String("nib", name), zap.Stringer("owner", m.ID(0)))
	return ret(top), nil
}

// load decodes the objects of an opened nib and wires them up. The
// returned array is owned by the unarchiver.
func (k *UIKit) load(ctx context.Context, u objc.ID) (objc.ID, error) {
	rt := k.rt()
	// Decoding the full object list instantiates everything the other keys
	// refer to.
	if _, err := k.decodeObject(ctx, u, nibObjectsKey); err != nil {
		return objc.Nil, err
	}

	conns, err := k.decodeArray(ctx, u, nibConnectionsKey)
	if err != nil {
		return objc.Nil, err
	}
	for _, conn := range conns {
		if _, err := rt.Send(ctx, conn, "connect"); err != nil {
			return objc.Nil, err
		}
	}

	windows, err := k.decodeArray(ctx, u, nibVisibleWindowsKey)
	if err != nil {
		return objc.Nil, err
	}
	for _, w := range windows {
		if _, err := rt.Send(ctx, w, "setHidden:", 0); err != nil {
			return objc.Nil, err
		}
	}

	Logger().Debug("nib wired",
		zap.Int("connections", len(conns)),
		zap.Int("visible_windows", len(windows)))
	return k.decodeObject(ctx, u, nibTopLevelObjectsKey)
}

func (k *UIKit) decodeArray(ctx context.Context, coder objc.ID, key string) ([]objc.ID, error) {
	id, err := k.decodeObject(ctx, coder, key)
	if err != nil || id.IsNil() {
		return nil, err
	}
	items, err := k.fd.Array(id)
	if err != nil {
		return nil, err
	}
	return append([]objc.ID(nil), items...), nil
}

// LoadNib instantiates the named nib from the main bundle with owner as
// File's Owner and returns the top-level objects array, autoreleased.
func (k *UIKit) LoadNib(ctx context.Context, name string, owner objc.ID) (objc.ID, error) {
	rt := k.rt()
	c, ok := rt.Class(NibClass)
	if !ok {
		return objc.Nil, errors.UnresolvedClass(NibClass, Name)
	}
	nameID, err := k.fd.String(name)
	if err != nil {
		return objc.Nil, err
	}
	defer func() { _ = rt.Release(ctx, nameID) }()

	n, err := rt.SendID(ctx, c.ID(), "nibWithNibName:bundle:", objc.Words(uint32(nameID), 0)...)
	if err != nil {
		return objc.Nil, err
	}
	return rt.SendID(ctx, n, "instantiateWithOwner:options:", objc.Words(uint32(owner), 0)...)
}
