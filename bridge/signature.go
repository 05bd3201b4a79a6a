package bridge

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// Signature describes how a function's arguments and results are laid out
// in registers and on the guest stack. Pointers, object ids and selectors
// are all api.ValueTypeI32.
type Signature struct {
	Params   []api.ValueType
	Results  []api.ValueType
	Variadic bool
}

// Common value type shorthands.
const (
	I32 = api.ValueTypeI32
	I64 = api.ValueTypeI64
	F32 = api.ValueTypeF32
	F64 = api.ValueTypeF64
)

// Sig builds a non-variadic signature.
func Sig(params []api.ValueType, results ...api.ValueType) Signature {
	return Signature{Params: params, Results: results}
}

// VariadicSig builds a variadic signature; arguments past params are read on
// demand through Call.Rest.
func VariadicSig(params []api.ValueType, results ...api.ValueType) Signature {
	return Signature{Params: params, Results: results, Variadic: true}
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(p))
	}
	if s.Variadic {
		if len(s.Params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
	}
	b.WriteString(") -> (")
	for i, r := range s.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(r))
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether two signatures lay out identically.
func (s Signature) Equal(o Signature) bool {
	if s.Variadic != o.Variadic || len(s.Params) != len(o.Params) || len(s.Results) != len(o.Results) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range s.Results {
		if s.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

func isWide(t api.ValueType) bool {
	return t == api.ValueTypeI64 || t == api.ValueTypeF64
}
