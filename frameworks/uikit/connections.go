package uikit

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/frameworks/foundation"
	"github.com/wippyai/hle-runtime/objc"
)

// filesOwner is the proxied identifier nibs use for the object passed to
// instantiateWithOwner:options:.
const filesOwner = "IBFilesOwner"

// connection is the state of the UIRuntime*Connection classes. The three
// references are retained.
type connection struct {
	destination objc.ID
	label       objc.ID
	source      objc.ID
	events      ControlEvents
}

// nibSupportClasses returns the undocumented classes nib archives name:
// the File's Owner proxy, the swapper for classes without initWithCoder:
// and the connection records.
func (k *UIKit) nibSupportClasses() []objc.ClassDef {
	return []objc.ClassDef{
		{
			Name:  ProxyObjectClass,
			Super: foundation.ObjectClass,
			Host:  true,
			Methods: []objc.Method{
				objc.Fn("initWithCoder:", "@12@0:4@8", k.proxyInitWithCoder),
			},
		},
		{
			Name:  ClassSwapperClass,
			Super: foundation.ObjectClass,
			Host:  true,
			Methods: []objc.Method{
				objc.Fn("initWithCoder:", "@12@0:4@8", k.swapperInitWithCoder),
			},
		},
		{
			Name:    RuntimeConnectionClass,
			Super:   foundation.ObjectClass,
			Host:    true,
			Payload: func() any { return &connection{} },
			Methods: []objc.Method{
				objc.Fn("initWithCoder:", "@12@0:4@8", k.connectionInitWithCoder),
				objc.Fn("dealloc", "v8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
					c, err := objc.PayloadOf[*connection](m.RT, m.Self)
					if err != nil {
						return 0, err
					}
					for _, id := range []objc.ID{c.destination, c.label, c.source} {
						if err := m.RT.Release(ctx, id); err != nil {
							return 0, err
						}
					}
					return m.Super(ctx)
				}),
			},
		},
		{
			Name:  RuntimeOutletConnectionClass,
			Super: RuntimeConnectionClass,
			Host:  true,
			Methods: []objc.Method{
				objc.Fn("connect", "v8@0:4", k.connectOutlet),
			},
		},
		{
			Name:  RuntimeEventConnectionClass,
			Super: RuntimeConnectionClass,
			Host:  true,
			Methods: []objc.Method{
				objc.Fn("initWithCoder:", "@12@0:4@8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
					self, err := m.Super(ctx, m.Args...)
					if err != nil {
						return 0, err
					}
					mask, err := k.decodeScalar(ctx, m.ID(0), "decodeIntForKey:", "UIEventMask")
					if err != nil {
						return 0, err
					}
					c, err := objc.PayloadOf[*connection](m.RT, m.Self)
					if err != nil {
						return 0, err
					}
					c.events = ControlEvents(api.DecodeU32(mask))
					return self, nil
				}),
				objc.Fn("connect", "v8@0:4", k.connectEvent),
			},
		},
	}
}

// proxyInitWithCoder replaces the File's Owner placeholder with the owner
// of the nib being instantiated, found through the coder's delegate.
// Other proxies are left in place.
func (k *UIKit) proxyInitWithCoder(ctx context.Context, m *objc.Msg) (uint64, error) {
	coder := m.ID(0)
	ident, err := k.decodeString(ctx, coder, "UIProxiedObjectIdentifier")
	if err != nil {
		return 0, err
	}
	if ident != filesOwner {
		Logger().Warn("proxy object left unreplaced",
			zap.String("identifier", ident),
			zap.Stringer("proxy", m.Self))
		return ret(m.Self), nil
	}

	delegate, err := m.RT.SendID(ctx, coder, "delegate")
	if err != nil {
		return 0, err
	}
	n, err := objc.PayloadOf[*nib](m.RT, delegate)
	if err != nil {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Addr(uint32(delegate)).
			Cause(err).
			Detail("File's Owner proxy decoded without a UINib delegate").
			Build()
	}
	if n.owner.IsNil() {
		return 0, errors.New(errors.PhaseHost, errors.KindNullDereference).
			Detail("nib instantiated with a nil File's Owner").
			Build()
	}
	// init consumes the receiver and returns an owned reference.
	if err := m.RT.Retain(n.owner); err != nil {
		return 0, err
	}
	if err := m.RT.Release(ctx, m.Self); err != nil {
		return 0, err
	}
	return ret(n.owner), nil
}

// swapperInitWithCoder instantiates the class named by UIClassName in
// place of the swapper. Custom objects get a plain init; anything else is
// decoded from the same coder.
func (k *UIKit) swapperInitWithCoder(ctx context.Context, m *objc.Msg) (uint64, error) {
	coder := m.ID(0)
	name, err := k.decodeString(ctx, coder, "UIClassName")
	if err != nil {
		return 0, err
	}
	orig, err := k.decodeString(ctx, coder, "UIOriginalClassName")
	if err != nil {
		return 0, err
	}
	c, ok := m.RT.Class(name)
	if !ok {
		return 0, errors.UnresolvedClass(name, ClassSwapperClass)
	}
	obj, err := m.RT.SendID(ctx, c.ID(), "alloc")
	if err != nil {
		return 0, err
	}
	if orig == "UICustomObject" {
		obj, err = m.RT.SendID(ctx, obj, "init")
	} else {
		obj, err = m.RT.SendID(ctx, obj, "initWithCoder:", objc.Words(uint32(coder))...)
	}
	if err != nil {
		return 0, err
	}
	Logger().Debug("class swapped",
		zap.String("class", name),
		zap.String("original", orig),
		zap.Stringer("object", obj))
	if err := m.RT.Release(ctx, m.Self); err != nil {
		return 0, err
	}
	return ret(obj), nil
}

func (k *UIKit) connectionInitWithCoder(ctx context.Context, m *objc.Msg) (uint64, error) {
	c, err := objc.PayloadOf[*connection](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	coder := m.ID(0)
	for _, f := range []struct {
		key string
		dst *objc.ID
	}{
		{"UIDestination", &c.destination},
		{"UILabel", &c.label},
		{"UISource", &c.source},
	} {
		id, err := k.decodeObject(ctx, coder, f.key)
		if err != nil {
			return 0, err
		}
		if err := m.RT.Retain(id); err != nil {
			return 0, err
		}
		*f.dst = id
	}
	return ret(m.Self), nil
}

// connectOutlet sets the source's property named by the label to the
// destination through key-value coding.
func (k *UIKit) connectOutlet(ctx context.Context, m *objc.Msg) (uint64, error) {
	c, err := objc.PayloadOf[*connection](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	Logger().Debug("connecting outlet",
		zap.Stringer("source", c.source),
		zap.Stringer("destination", c.destination))
	_, err = m.RT.Send(ctx, c.source, "setValue:forKey:", objc.Words(uint32(c.destination), uint32(c.label))...)
	return 0, err
}

// connectEvent registers the destination as a target of the source
// control, with the label as the action selector.
func (k *UIKit) connectEvent(ctx context.Context, m *objc.Msg) (uint64, error) {
	c, err := objc.PayloadOf[*connection](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	label, err := k.fd.GoString(c.label)
	if err != nil {
		return 0, err
	}
	action, err := m.RT.SelAddr(objc.Sel(label))
	if err != nil {
		return 0, err
	}
	Logger().Debug("connecting action",
		zap.Stringer("source", c.source),
		zap.Stringer("destination", c.destination),
		zap.String("action", label))
	_, err = m.RT.Send(ctx, c.source, "addTarget:action:forControlEvents:",
		objc.Words(uint32(c.destination), uint32(action), uint32(c.events))...)
	return 0, err
}
