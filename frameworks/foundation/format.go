package foundation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// argSource yields variadic arguments in order. *bridge.ArgReader is one.
type argSource interface {
	Next(t api.ValueType) (uint64, error)
}

type noArgs struct{}

func (noArgs) Next(api.ValueType) (uint64, error) {
	return 0, errors.InvalidInput(errors.PhaseHost, "format directive with no variadic arguments")
}

// format expands a printf-style format with the NSString %@ extension.
// Floating-point arguments arrive promoted to double.
func (f *Foundation) format(ctx context.Context, format string, args argSource) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}

		start := i
		i++
		for i < len(format) && strings.IndexByte("-+ #0123456789.", format[i]) >= 0 {
			i++
		}
		spec := format[start+1 : i]
		long := 0
		for i < len(format) && strings.IndexByte("lhqzt", format[i]) >= 0 {
			if format[i] == 'l' || format[i] == 'q' {
				long++
			}
			i++
		}
		if i >= len(format) {
			return "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Value(format).
				Detail("format ends inside a directive").
				Build()
		}

		verb := format[i]
		switch verb {
		case '%':
			b.WriteByte('%')
		case '@':
			v, err := args.Next(api.ValueTypeI32)
			if err != nil {
				return "", err
			}
			text, err := f.Describe(ctx, objc.ID(api.DecodeU32(v)))
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%"+spec+"s", text)
		case 'd', 'i':
			if long >= 2 {
				v, err := args.Next(api.ValueTypeI64)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "%"+spec+"d", int64(v))
				break
			}
			v, err := args.Next(api.ValueTypeI32)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%"+spec+"d", api.DecodeI32(v))
		case 'u', 'x', 'X', 'o':
			goVerb := string(verb)
			if verb == 'u' {
				goVerb = "d"
			}
			if long >= 2 {
				v, err := args.Next(api.ValueTypeI64)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "%"+spec+goVerb, v)
				break
			}
			v, err := args.Next(api.ValueTypeI32)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%"+spec+goVerb, api.DecodeU32(v))
		case 'c':
			v, err := args.Next(api.ValueTypeI32)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(v))
		case 's':
			v, err := args.Next(api.ValueTypeI32)
			if err != nil {
				return "", err
			}
			text := "(null)"
			if addr := mem.Addr(api.DecodeU32(v)); !addr.IsNull() {
				if text, err = f.rt().Arena().CStrAt(addr); err != nil {
					return "", err
				}
			}
			fmt.Fprintf(&b, "%"+spec+"s", text)
		case 'p':
			v, err := args.Next(api.ValueTypeI32)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%#x", api.DecodeU32(v))
		case 'f', 'F', 'e', 'E', 'g', 'G':
			v, err := args.Next(api.ValueTypeF64)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%"+spec+string(verb), math.Float64frombits(v))
		default:
			return "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Value(format).
				Detail("unsupported format directive %%%c", verb).
				Build()
		}
	}
	return b.String(), nil
}

// restOf returns the variadic arguments of m. Messages sent from host code
// carry none.
func restOf(m *objc.Msg) argSource {
	if m.Rest == nil {
		return noArgs{}
	}
	return m.Rest
}

// Describe returns the text %@ prints for id: the contents of strings,
// the value of numbers, and the description of anything else.
func (f *Foundation) Describe(ctx context.Context, id objc.ID) (string, error) {
	if id.IsNil() {
		return "(null)", nil
	}
	switch {
	case f.isKindOf(id, StringClass):
		return f.GoString(id)
	case f.isKindOf(id, NumberClass):
		p, err := objc.PayloadOf[*numberPayload](f.rt(), id)
		if err != nil {
			return "", err
		}
		return p.String(), nil
	}
	m, owner, err := f.rt().Resolve(id, "description")
	if err != nil || owner.Name() == ObjectClass {
		return f.describeDefault(id), nil
	}
	v, err := f.rt().Invoke(ctx, m, owner, id)
	if err != nil {
		return "", err
	}
	desc := objc.ID(api.DecodeU32(v))
	if !f.isKindOf(desc, StringClass) {
		return f.describeDefault(id), nil
	}
	return f.GoString(desc)
}
