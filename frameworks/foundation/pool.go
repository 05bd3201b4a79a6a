package foundation

import (
	"context"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/objc"
)

type poolPayload struct {
	token objc.PoolToken
}

// poolClass maps NSAutoreleasePool onto the runtime's pool stack: -init
// pushes a pool and deallocating the pool object pops it.
func (f *Foundation) poolClass() objc.ClassDef {
	return objc.ClassDef{
		Name:    AutoreleasePoolClass,
		Super:   ObjectClass,
		Host:    true,
		Payload: func() any { return &poolPayload{} },
		ClassMethods: []objc.Method{
			objc.Fn("addObject:", "v12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				_, err := m.RT.Autorelease(m.ID(0))
				return 0, err
			}),
		},
		Methods: []objc.Method{
			objc.Fn("init", "@8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				p, err := objc.PayloadOf[*poolPayload](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				if p.token != 0 {
					return 0, errors.RefcountViolation(uint32(m.Self), "autorelease pool initialized twice")
				}
				p.token = m.RT.PushPool()
				return ret(m.Self), nil
			}),
			objc.Fn("addObject:", "v12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				_, err := m.RT.Autorelease(m.ID(0))
				return 0, err
			}),
			objc.Fn("drain", "v8@0:4", release),
			objc.Fn("retain", "@8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				return 0, errors.RefcountViolation(uint32(m.Self), "autorelease pools cannot be retained")
			}),
			objc.Fn("autorelease", "@8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				return 0, errors.RefcountViolation(uint32(m.Self), "autorelease pools cannot be autoreleased")
			}),
			objc.Fn("dealloc", "v8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				p, err := objc.PayloadOf[*poolPayload](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				if p.token != 0 {
					if err := m.RT.PopPool(ctx, p.token); err != nil {
						return 0, err
					}
				}
				return m.Super(ctx)
			}),
		},
	}
}
