package foundation

import (
	"context"
	"hash/fnv"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// String encodings understood by the NSString methods.
const (
	NSASCIIStringEncoding uint32 = 1
	NSUTF8StringEncoding  uint32 = 4
)

// NSString is abstract; every instance is one of these private subclasses.
const (
	stringImplClass   = "_HLEString"
	staticStringClass = "_HLEStaticString"
)

type stringPayload struct {
	s string
	// cstr caches the UTF8String buffer, freed with the string.
	cstr mem.Addr
}

func (f *Foundation) stringClasses() []objc.ClassDef {
	return []objc.ClassDef{
		{
			Name:  StringClass,
			Super: ObjectClass,
			Host:  true,
			ClassMethods: []objc.Method{
				objc.Fn("allocWithZone:", "@12@0:4^v8", f.stringAllocWithZone),
				objc.Fn("stringWithCString:encoding:", "@16@0:4r*8I12", f.stringWithCString),
				objc.Fn("stringWithUTF8String:", "@12@0:4r*8", f.stringWithUTF8String),
				objc.Fn("stringWithFormat:", "@12@0:4@8", f.stringWithFormat),
			},
			Methods: []objc.Method{
				objc.Fn("length", "I8@0:4", f.stringLength),
				objc.Fn("UTF8String", "r*8@0:4", f.utf8String),
				objc.Fn("getCString:maxLength:encoding:", "c20@0:4*8I12I16", f.getCString),
				objc.Fn("isEqual:", "c12@0:4@8", f.stringIsEqual),
				objc.Fn("isEqualTo:", "c12@0:4@8", f.stringIsEqual),
				objc.Fn("isEqualToString:", "c12@0:4@8", f.stringIsEqual),
				objc.Fn("hash", "I8@0:4", f.stringHash),
				objc.Fn("copyWithZone:", "@12@0:4^v8", retain),
				objc.Fn("description", "@8@0:4", returnSelf),
			},
		},
		{
			Name:    stringImplClass,
			Super:   StringClass,
			Host:    true,
			Payload: func() any { return &stringPayload{} },
			ClassMethods: []objc.Method{
				objc.Fn("allocWithZone:", "@12@0:4^v8", allocWithZone),
			},
			Methods: []objc.Method{
				objc.Fn("initWithBytes:length:encoding:", "@20@0:4r^v8I12I16", f.initWithBytes),
				objc.Fn("initWithCString:encoding:", "@16@0:4r*8I12", f.initWithCString),
				objc.Fn("initWithUTF8String:", "@12@0:4r*8", func(ctx context.Context, m *objc.Msg) (uint64, error) {
					return m.RT.Send(ctx, m.Self, "initWithCString:encoding:", objc.Words(m.Arg(0), NSUTF8StringEncoding)...)
				}),
				objc.Fn("dealloc", "v8@0:4", f.stringDealloc),
			},
		},
		{
			Name:  staticStringClass,
			Super: stringImplClass,
			Host:  true,
			ClassMethods: []objc.Method{
				objc.Fn("allocWithZone:", "@12@0:4^v8", func(_ context.Context, m *objc.Msg) (uint64, error) {
					c, ok := m.RT.ClassByID(m.Self)
					if !ok {
						return 0, errors.InvalidInput(errors.PhaseHost, "allocWithZone: sent to an instance")
					}
					id, err := m.RT.AllocStatic(c)
					return ret(id), err
				}),
			},
			Methods: []objc.Method{
				objc.Fn("retain", "@8@0:4", returnSelf),
				objc.Fn("release", "v8@0:4", func(context.Context, *objc.Msg) (uint64, error) { return 0, nil }),
				objc.Fn("autorelease", "@8@0:4", returnSelf),
			},
		},
	}
}

// stringAllocWithZone hands out the concrete subclass for NSString itself
// and plain instances for guest subclasses.
func (f *Foundation) stringAllocWithZone(ctx context.Context, m *objc.Msg) (uint64, error) {
	if m.Self == m.Class.ID() {
		impl, err := f.class(stringImplClass)
		if err != nil {
			return 0, err
		}
		return m.RT.Send(ctx, impl.ID(), "allocWithZone:", m.Args...)
	}
	return m.Super(ctx, m.Args...)
}

func (f *Foundation) stringWithCString(ctx context.Context, m *objc.Msg) (uint64, error) {
	id, err := m.RT.SendID(ctx, m.Self, "alloc")
	if err != nil {
		return 0, err
	}
	return f.autoreleased(m.RT.SendID(ctx, id, "initWithCString:encoding:", m.Args...))
}

func (f *Foundation) stringWithUTF8String(ctx context.Context, m *objc.Msg) (uint64, error) {
	id, err := m.RT.SendID(ctx, m.Self, "alloc")
	if err != nil {
		return 0, err
	}
	return f.autoreleased(m.RT.SendID(ctx, id, "initWithCString:encoding:", objc.Words(m.Arg(0), NSUTF8StringEncoding)...))
}

func (f *Foundation) stringWithFormat(ctx context.Context, m *objc.Msg) (uint64, error) {
	format, err := f.GoString(m.ID(0))
	if err != nil {
		return 0, err
	}
	text, err := f.format(ctx, format, restOf(m))
	if err != nil {
		return 0, err
	}
	return f.autoreleased(f.String(text))
}

func (f *Foundation) initWithBytes(_ context.Context, m *objc.Msg) (uint64, error) {
	ptr, n, enc := mem.Addr(m.Arg(0)), m.Arg(1), m.Arg(2)
	raw, err := m.RT.Arena().ReadBytes(ptr, n)
	if err != nil {
		return 0, err
	}
	s, err := decodeString(raw, enc)
	if err != nil {
		return 0, err
	}
	p, err := objc.PayloadOf[*stringPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	p.s = s
	return ret(m.Self), nil
}

func (f *Foundation) initWithCString(ctx context.Context, m *objc.Msg) (uint64, error) {
	s, err := m.RT.Arena().CStrAt(mem.Addr(m.Arg(0)))
	if err != nil {
		return 0, err
	}
	return m.RT.Send(ctx, m.Self, "initWithBytes:length:encoding:", objc.Words(m.Arg(0), uint32(len(s)), m.Arg(1))...)
}

func (f *Foundation) stringDealloc(ctx context.Context, m *objc.Msg) (uint64, error) {
	if p, err := objc.PayloadOf[*stringPayload](m.RT, m.Self); err == nil && !p.cstr.IsNull() {
		if err := m.RT.Arena().Free(p.cstr); err != nil {
			return 0, err
		}
		p.cstr = mem.Null
	}
	return m.Super(ctx)
}

func decodeString(raw []byte, enc uint32) (string, error) {
	switch enc {
	case NSUTF8StringEncoding:
		if !utf8.Valid(raw) {
			return "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Detail("bytes are not valid UTF-8").
				Build()
		}
	case NSASCIIStringEncoding:
		for _, b := range raw {
			if b >= 0x80 {
				return "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
					Value(b).
					Detail("byte is not ASCII").
					Build()
			}
		}
	default:
		return "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Value(enc).
			Detail("unsupported string encoding").
			Build()
	}
	return string(raw), nil
}

func (f *Foundation) stringLength(_ context.Context, m *objc.Msg) (uint64, error) {
	s, err := f.GoString(m.Self)
	if err != nil {
		return 0, err
	}
	// NSString lengths count UTF-16 code units.
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return uint64(n), nil
}

func (f *Foundation) utf8String(_ context.Context, m *objc.Msg) (uint64, error) {
	p, err := objc.PayloadOf[*stringPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	if p.cstr.IsNull() {
		if p.cstr, err = m.RT.Arena().AllocCStr(p.s); err != nil {
			return 0, err
		}
	}
	return api.EncodeU32(uint32(p.cstr)), nil
}

func (f *Foundation) getCString(_ context.Context, m *objc.Msg) (uint64, error) {
	buf, size, enc := mem.Addr(m.Arg(0)), m.Arg(1), m.Arg(2)
	s, err := f.GoString(m.Self)
	if err != nil {
		return 0, err
	}
	if _, err := decodeString([]byte(s), enc); err != nil {
		return 0, nil
	}
	if uint32(len(s))+1 > size {
		return 0, nil
	}
	if err := m.RT.Arena().WriteBytes(buf, append([]byte(s), 0)); err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *Foundation) stringIsEqual(_ context.Context, m *objc.Msg) (uint64, error) {
	other := m.ID(0)
	if other == m.Self {
		return 1, nil
	}
	if !f.isKindOf(other, StringClass) {
		return 0, nil
	}
	a, err := f.GoString(m.Self)
	if err != nil {
		return 0, err
	}
	b, err := f.GoString(other)
	if err != nil {
		return 0, err
	}
	return boolean(a == b), nil
}

func (f *Foundation) stringHash(_ context.Context, m *objc.Msg) (uint64, error) {
	s, err := f.GoString(m.Self)
	if err != nil {
		return 0, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return uint64(h.Sum32()), nil
}

// String creates an NSString holding s. The caller owns the reference.
func (f *Foundation) String(s string) (objc.ID, error) {
	c, err := f.class(stringImplClass)
	if err != nil {
		return objc.Nil, err
	}
	id, err := f.rt().Alloc(c)
	if err != nil {
		return objc.Nil, err
	}
	return id, f.rt().SetPayload(id, &stringPayload{s: s})
}

// StaticString returns the NSString for s from the framework's pool,
// creating it on first use. Pool strings ignore reference counting and are
// never deallocated, so callers need not release them.
func (f *Foundation) StaticString(s string) (objc.ID, error) {
	if id, ok := f.statics[s]; ok {
		return id, nil
	}
	c, err := f.class(staticStringClass)
	if err != nil {
		return objc.Nil, err
	}
	id, err := f.rt().AllocStatic(c)
	if err != nil {
		return objc.Nil, err
	}
	if err := f.rt().SetPayload(id, &stringPayload{s: s}); err != nil {
		return objc.Nil, err
	}
	f.statics[s] = id
	return id, nil
}

// GoString returns the text of an NSString.
func (f *Foundation) GoString(id objc.ID) (string, error) {
	if id.IsNil() {
		return "", errors.New(errors.PhaseHost, errors.KindNullDereference).
			Detail("nil NSString").
			Build()
	}
	p, err := objc.PayloadOf[*stringPayload](f.rt(), id)
	if err != nil {
		return "", err
	}
	return p.s, nil
}
