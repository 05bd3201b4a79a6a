package objc

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
)

// ParseTypeEncoding converts a method type encoding such as "v12@0:4i8" into
// the call signature used to marshal arguments. Frame offsets and type
// qualifiers are ignored. Structs passed by value are flattened into their
// fields; a struct result larger than a word is returned through a pointer
// passed ahead of self, so it becomes a leading i32 parameter and no result.
func ParseTypeEncoding(enc string) (bridge.Signature, error) {
	p := &encParser{s: enc}
	var sig bridge.Signature

	aggregate := p.peekAggregate()
	ret, retSize, err := p.next()
	if err != nil {
		return sig, err
	}
	p.skipOffset()
	switch {
	case aggregate && retSize > 4:
		sig.Params = append(sig.Params, api.ValueTypeI32)
	case aggregate && len(ret) > 0:
		sig.Results = []api.ValueType{api.ValueTypeI32}
	case len(ret) > 0:
		sig.Results = ret
	}

	for !p.done() {
		ts, _, err := p.next()
		if err != nil {
			return sig, err
		}
		p.skipOffset()
		sig.Params = append(sig.Params, ts...)
	}
	return sig, nil
}

// StructReturnSize returns the size of the struct result enc returns
// through a hidden pointer, or zero when the result fits in registers.
func StructReturnSize(enc string) uint32 {
	p := &encParser{s: enc}
	if !p.peekAggregate() {
		return 0
	}
	_, size, err := p.next()
	if err != nil || size <= 4 {
		return 0
	}
	return size
}

type encParser struct {
	s   string
	pos int
}

func (p *encParser) done() bool { return p.pos >= len(p.s) }

func (p *encParser) peekAggregate() bool {
	i := p.pos
	for i < len(p.s) && isQualifier(p.s[i]) {
		i++
	}
	return i < len(p.s) && (p.s[i] == '{' || p.s[i] == '(')
}

func (p *encParser) skipOffset() {
	for p.pos < len(p.s) && (p.s[p.pos] >= '0' && p.s[p.pos] <= '9' || p.s[p.pos] == '-') {
		p.pos++
	}
}

func (p *encParser) fail(detail string) error {
	return errors.New(errors.PhaseObjC, errors.KindInvalidInput).
		Value(p.s).
		Detail("type encoding at %d: %s", p.pos, detail).
		Build()
}

// next returns the flattened value types of one encoded type and its size in
// bytes. void yields no types.
func (p *encParser) next() ([]api.ValueType, uint32, error) {
	for p.pos < len(p.s) && isQualifier(p.s[p.pos]) {
		p.pos++
	}
	if p.done() {
		return nil, 0, p.fail("truncated")
	}
	c := p.s[p.pos]
	p.pos++
	switch c {
	case 'v':
		return nil, 0, nil
	case 'c', 'C', 'B':
		return []api.ValueType{api.ValueTypeI32}, 1, nil
	case 's', 'S':
		return []api.ValueType{api.ValueTypeI32}, 2, nil
	case 'i', 'I', 'l', 'L', '@', '#', ':', '*':
		if c == '@' && p.pos < len(p.s) && p.s[p.pos] == '?' {
			p.pos++
		}
		if c == '@' && p.pos < len(p.s) && p.s[p.pos] == '"' {
			if err := p.skipQuoted(); err != nil {
				return nil, 0, err
			}
		}
		return []api.ValueType{api.ValueTypeI32}, 4, nil
	case '?':
		return []api.ValueType{api.ValueTypeI32}, 4, nil
	case 'q', 'Q':
		return []api.ValueType{api.ValueTypeI64}, 8, nil
	case 'f':
		return []api.ValueType{api.ValueTypeF32}, 4, nil
	case 'd':
		return []api.ValueType{api.ValueTypeF64}, 8, nil
	case '^':
		if _, _, err := p.next(); err != nil {
			return nil, 0, err
		}
		return []api.ValueType{api.ValueTypeI32}, 4, nil
	case '[':
		p.skipOffset()
		if _, _, err := p.next(); err != nil {
			return nil, 0, err
		}
		if p.done() || p.s[p.pos] != ']' {
			return nil, 0, p.fail("unterminated array")
		}
		p.pos++
		return []api.ValueType{api.ValueTypeI32}, 4, nil
	case '{', '(':
		return p.aggregate(c)
	}
	return nil, 0, p.fail("unknown type code " + string(c))
}

func (p *encParser) aggregate(open byte) ([]api.ValueType, uint32, error) {
	closeCh := byte('}')
	if open == '(' {
		closeCh = ')'
	}
	for p.pos < len(p.s) && p.s[p.pos] != '=' && p.s[p.pos] != closeCh {
		p.pos++
	}
	if p.done() {
		return nil, 0, p.fail("unterminated aggregate")
	}
	var fields []api.ValueType
	var size uint32
	if p.s[p.pos] == '=' {
		p.pos++
		for !p.done() && p.s[p.pos] != closeCh {
			if p.s[p.pos] == '"' {
				if err := p.skipQuoted(); err != nil {
					return nil, 0, err
				}
				continue
			}
			ts, n, err := p.next()
			if err != nil {
				return nil, 0, err
			}
			if open == '(' {
				if n > size {
					size = n
					fields = ts
				}
				continue
			}
			fields = append(fields, ts...)
			size += n
		}
	}
	if p.done() {
		return nil, 0, p.fail("unterminated aggregate")
	}
	p.pos++
	return fields, size, nil
}

func (p *encParser) skipQuoted() error {
	end := p.pos + 1
	for end < len(p.s) && p.s[end] != '"' {
		end++
	}
	if end >= len(p.s) {
		return p.fail("unterminated name")
	}
	p.pos = end + 1
	return nil
}

func isQualifier(c byte) bool {
	switch c {
	case 'r', 'n', 'N', 'o', 'O', 'R', 'V':
		return true
	}
	return false
}

// defaultSig is used for methods declared without a type encoding: self,
// _cmd and one word per selector argument, returning a word.
func defaultSig(sel Sel) bridge.Signature {
	params := make([]api.ValueType, 2+sel.Arity())
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	return bridge.Sig(params, api.ValueTypeI32)
}
