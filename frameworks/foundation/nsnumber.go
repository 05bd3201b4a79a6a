package foundation

import (
	"context"
	"strconv"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/objc"
)

type numberPayload struct {
	i       int64
	f       float64
	isFloat bool
}

func (n *numberPayload) int() int64 {
	if n.isFloat {
		return int64(n.f)
	}
	return n.i
}

func (n *numberPayload) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n *numberPayload) String() string {
	if n.isFloat {
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
	return strconv.FormatInt(n.i, 10)
}

func (f *Foundation) numberClass() objc.ClassDef {
	number := func(ctx context.Context, m *objc.Msg, p *numberPayload) (uint64, error) {
		c, err := m.RT.ClassOf(m.Self)
		if err != nil {
			return 0, err
		}
		return f.autoreleased(f.newNumber(c, p))
	}
	value := func(conv func(*numberPayload) uint64) objc.HostIMP {
		return func(_ context.Context, m *objc.Msg) (uint64, error) {
			p, err := objc.PayloadOf[*numberPayload](m.RT, m.Self)
			if err != nil {
				return 0, err
			}
			return conv(p), nil
		}
	}
	return objc.ClassDef{
		Name:    NumberClass,
		Super:   ObjectClass,
		Host:    true,
		Payload: func() any { return &numberPayload{} },
		ClassMethods: []objc.Method{
			objc.Fn("numberWithInt:", "@12@0:4i8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return number(ctx, m, &numberPayload{i: int64(api.DecodeI32(m.Args[0]))})
			}),
			objc.Fn("numberWithInteger:", "@12@0:4l8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return number(ctx, m, &numberPayload{i: int64(api.DecodeI32(m.Args[0]))})
			}),
			objc.Fn("numberWithBool:", "@12@0:4c8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return number(ctx, m, &numberPayload{i: int64(m.Arg(0) & 0xFF)})
			}),
			objc.Fn("numberWithLongLong:", "@16@0:4q8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return number(ctx, m, &numberPayload{i: int64(m.Args[0])})
			}),
			objc.Fn("numberWithFloat:", "@12@0:4f8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return number(ctx, m, &numberPayload{f: float64(api.DecodeF32(m.Args[0])), isFloat: true})
			}),
			objc.Fn("numberWithDouble:", "@16@0:4d8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				return number(ctx, m, &numberPayload{f: api.DecodeF64(m.Args[0]), isFloat: true})
			}),
		},
		Methods: []objc.Method{
			objc.Fn("intValue", "i8@0:4", value(func(p *numberPayload) uint64 { return api.EncodeI32(int32(p.int())) })),
			objc.Fn("integerValue", "l8@0:4", value(func(p *numberPayload) uint64 { return api.EncodeI32(int32(p.int())) })),
			objc.Fn("longLongValue", "q8@0:4", value(func(p *numberPayload) uint64 { return api.EncodeI64(p.int()) })),
			objc.Fn("boolValue", "c8@0:4", value(func(p *numberPayload) uint64 { return boolean(p.int() != 0 || p.float() != 0) })),
			objc.Fn("floatValue", "f8@0:4", value(func(p *numberPayload) uint64 { return api.EncodeF32(float32(p.float())) })),
			objc.Fn("doubleValue", "d8@0:4", value(func(p *numberPayload) uint64 { return api.EncodeF64(p.float()) })),
			objc.Fn("isEqual:", "c12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				if !f.isKindOf(m.ID(0), NumberClass) {
					return 0, nil
				}
				a, err := objc.PayloadOf[*numberPayload](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				b, err := objc.PayloadOf[*numberPayload](m.RT, m.ID(0))
				if err != nil {
					return 0, err
				}
				return boolean(a.float() == b.float() && a.int() == b.int()), nil
			}),
		},
	}
}

func (f *Foundation) newNumber(c *objc.Class, p *numberPayload) (objc.ID, error) {
	id, err := f.rt().Alloc(c)
	if err != nil {
		return objc.Nil, err
	}
	return id, f.rt().SetPayload(id, p)
}

// NewNumber creates an NSNumber holding an integer. The caller owns it.
func (f *Foundation) NewNumber(v int64) (objc.ID, error) {
	c, err := f.class(NumberClass)
	if err != nil {
		return objc.Nil, err
	}
	return f.newNumber(c, &numberPayload{i: v})
}

// NewFloatNumber creates an NSNumber holding a floating-point value.
func (f *Foundation) NewFloatNumber(v float64) (objc.ID, error) {
	c, err := f.class(NumberClass)
	if err != nil {
		return objc.Nil, err
	}
	return f.newNumber(c, &numberPayload{f: v, isFloat: true})
}

// Int returns the integer value of an NSNumber.
func (f *Foundation) Int(id objc.ID) (int64, error) {
	p, err := objc.PayloadOf[*numberPayload](f.rt(), id)
	if err != nil {
		return 0, err
	}
	return p.int(), nil
}
