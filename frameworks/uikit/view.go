package uikit

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

type view struct {
	hidden bool
}

// target is one addTarget:action:forControlEvents: registration. Targets
// are not retained.
type target struct {
	obj    objc.ID
	action objc.Sel
	events ControlEvents
}

type control struct {
	view
	targets []target
}

// viewOf returns the view state of a UIView or UIControl.
func viewOf(rt *objc.Runtime, id objc.ID) (*view, error) {
	p, err := rt.Payload(id)
	if err != nil {
		return nil, err
	}
	switch v := p.(type) {
	case *view:
		return v, nil
	case *control:
		return &v.view, nil
	}
	return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		Addr(uint32(id)).
		Detail("not a UIView").
		Build()
}

func (k *UIKit) viewClass() objc.ClassDef {
	return objc.ClassDef{
		Name:    ViewClass,
		Super:   ResponderClass,
		Host:    true,
		Payload: func() any { return &view{} },
		Methods: []objc.Method{
			objc.Fn("initWithCoder:", "@12@0:4@8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				v, err := viewOf(m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				hidden, err := k.decodeScalar(ctx, m.ID(0), "decodeBoolForKey:", "UIHidden")
				if err != nil {
					return 0, err
				}
				v.hidden = hidden != 0
				return ret(m.Self), nil
			}),
			objc.Fn("setHidden:", "v12@0:4c8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				v, err := viewOf(m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				v.hidden = m.Arg(0)&0xFF != 0
				return 0, nil
			}),
			objc.Fn("isHidden", "c8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				v, err := viewOf(m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				if v.hidden {
					return 1, nil
				}
				return 0, nil
			}),
		},
	}
}

func (k *UIKit) windowClass() objc.ClassDef {
	return objc.ClassDef{
		Name:  WindowClass,
		Super: ViewClass,
		Host:  true,
		Methods: []objc.Method{
			objc.Fn("makeKeyAndVisible", "v8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				v, err := viewOf(m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				v.hidden = false
				Logger().Debug("window made key", zap.Stringer("window", m.Self))
				return 0, nil
			}),
		},
	}
}

func (k *UIKit) controlClass() objc.ClassDef {
	return objc.ClassDef{
		Name:    ControlClass,
		Super:   ViewClass,
		Host:    true,
		Payload: func() any { return &control{} },
		Methods: []objc.Method{
			objc.Fn("addTarget:action:forControlEvents:", "v20@0:4@8:12I16", func(_ context.Context, m *objc.Msg) (uint64, error) {
				c, err := objc.PayloadOf[*control](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				action, err := m.RT.SelAt(mem.Addr(m.Arg(1)))
				if err != nil {
					return 0, err
				}
				c.targets = append(c.targets, target{obj: m.ID(0), action: action, events: ControlEvents(m.Arg(2))})
				return 0, nil
			}),
			objc.Fn("removeTarget:action:forControlEvents:", "v20@0:4@8:12I16", func(_ context.Context, m *objc.Msg) (uint64, error) {
				c, err := objc.PayloadOf[*control](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				var action objc.Sel
				if addr := mem.Addr(m.Arg(1)); !addr.IsNull() {
					if action, err = m.RT.SelAt(addr); err != nil {
						return 0, err
					}
				}
				events := ControlEvents(m.Arg(2))
				kept := c.targets[:0]
				for _, t := range c.targets {
					match := (m.ID(0).IsNil() || t.obj == m.ID(0)) && (action == "" || t.action == action)
					if match {
						t.events &^= events
					}
					if t.events != 0 {
						kept = append(kept, t)
					}
				}
				c.targets = kept
				return 0, nil
			}),
			objc.Fn("sendActionsForControlEvents:", "v12@0:4I8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return 0, k.SendActions(ctx, m.Self, ControlEvents(m.Arg(0)))
			}),
			objc.Fn("allControlEvents", "I8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				c, err := objc.PayloadOf[*control](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				var all ControlEvents
				for _, t := range c.targets {
					all |= t.events
				}
				return uint64(all), nil
			}),
		},
	}
}

// SendActions sends the action of every target registered on ctrl for
// any of events, with ctrl as the sender.
func (k *UIKit) SendActions(ctx context.Context, ctrl objc.ID, events ControlEvents) error {
	c, err := objc.PayloadOf[*control](k.rt(), ctrl)
	if err != nil {
		return err
	}
	// Actions may add or remove targets.
	targets := append([]target(nil), c.targets...)
	for _, t := range targets {
		if t.events&events == 0 {
			continue
		}
		Logger().Debug("control action",
			zap.Stringer("control", ctrl),
			zap.Stringer("target", t.obj),
			zap.String("action", string(t.action)))
		if _, err := k.rt().Send(ctx, t.obj, t.action, objc.Words(uint32(ctrl))...); err != nil {
			return err
		}
	}
	return nil
}
