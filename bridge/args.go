package bridge

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// coreArgRegs is the number of core registers used for argument passing.
const coreArgRegs = 4

// ArgReader decodes guest call arguments following the 32-bit ARM procedure
// call standard (soft-float): the first four words in R0-R3, the rest on the
// stack starting at SP. 64-bit values take an even register pair or an
// 8-byte aligned stack slot, and never straddle registers and stack.
type ArgReader struct {
	eng   Engine
	arena *mem.Arena
	ncrn  int
	nsaa  mem.Addr
}

func newArgReader(eng Engine, arena *mem.Arena) *ArgReader {
	return &ArgReader{eng: eng, arena: arena, nsaa: mem.Addr(eng.RegRead(SP))}
}

// Next decodes the next argument of type t into its api encoding
// (api.EncodeU32, api.EncodeF32, ...).
func (r *ArgReader) Next(t api.ValueType) (uint64, error) {
	if !isWide(t) {
		if r.ncrn < coreArgRegs {
			v := r.eng.RegRead(Reg(r.ncrn))
			r.ncrn++
			return uint64(v), nil
		}
		v, err := mem.Read[uint32](r.arena, r.nsaa)
		if err != nil {
			return 0, errors.Wrap(errors.PhaseBridge, errors.KindOutOfBounds, err, "reading stacked argument")
		}
		r.nsaa += 4
		return uint64(v), nil
	}

	if r.ncrn%2 != 0 {
		r.ncrn++
	}
	if r.ncrn+1 < coreArgRegs {
		lo := r.eng.RegRead(Reg(r.ncrn))
		hi := r.eng.RegRead(Reg(r.ncrn + 1))
		r.ncrn += 2
		return uint64(lo) | uint64(hi)<<32, nil
	}
	r.ncrn = coreArgRegs
	r.nsaa = mem.Align(r.nsaa, 8)
	v, err := mem.Read[uint64](r.arena, r.nsaa)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseBridge, errors.KindOutOfBounds, err, "reading stacked argument")
	}
	r.nsaa += 8
	return v, nil
}

// NextU32 is Next(I32) narrowed to a word.
func (r *ArgReader) NextU32() (uint32, error) {
	v, err := r.Next(api.ValueTypeI32)
	return api.DecodeU32(v), err
}

// argPlacement is where a single outgoing argument lives.
type argPlacement struct {
	reg   int // -1 when stacked
	stack uint32
	wide  bool
}

// layoutArgs assigns each value to registers or a stack offset relative to
// the final SP and returns the 8-byte aligned stack size needed.
func layoutArgs(types []api.ValueType) ([]argPlacement, uint32) {
	out := make([]argPlacement, len(types))
	ncrn := 0
	var nsaa uint32
	for i, t := range types {
		wide := isWide(t)
		switch {
		case !wide && ncrn < coreArgRegs:
			out[i] = argPlacement{reg: ncrn}
			ncrn++
		case !wide:
			out[i] = argPlacement{reg: -1, stack: nsaa}
			nsaa += 4
		default:
			if ncrn%2 != 0 {
				ncrn++
			}
			if ncrn+1 < coreArgRegs {
				out[i] = argPlacement{reg: ncrn, wide: true}
				ncrn += 2
				continue
			}
			ncrn = coreArgRegs
			nsaa = mem.Align(nsaa, 8)
			out[i] = argPlacement{reg: -1, stack: nsaa, wide: true}
			nsaa += 8
		}
	}
	return out, mem.Align(nsaa, 8)
}

// WriteArgs places args for an outgoing call, moving SP down by the stack
// area and keeping it 8-byte aligned.
func WriteArgs(eng Engine, arena *mem.Arena, types []api.ValueType, args []uint64) error {
	places, stackSize := layoutArgs(types)
	sp := mem.Addr(eng.RegRead(SP))
	if stackSize > 0 || sp%8 != 0 {
		base := uint32(sp) &^ 7
		if base < stackSize {
			return errors.New(errors.PhaseBridge, errors.KindOverflow).
				Detail("guest stack exhausted placing %d bytes of arguments", stackSize).
				Build()
		}
		sp = mem.Addr(base - stackSize)
		eng.RegWrite(SP, uint32(sp))
	}
	for i, p := range places {
		v := args[i]
		switch {
		case p.reg >= 0 && p.wide:
			eng.RegWrite(Reg(p.reg), uint32(v))
			eng.RegWrite(Reg(p.reg+1), uint32(v>>32))
		case p.reg >= 0:
			eng.RegWrite(Reg(p.reg), uint32(v))
		case p.wide:
			if err := mem.Write(arena, sp+mem.Addr(p.stack), v); err != nil {
				return errors.Wrap(errors.PhaseBridge, errors.KindOutOfBounds, err, "writing stacked argument")
			}
		default:
			if err := mem.Write(arena, sp+mem.Addr(p.stack), uint32(v)); err != nil {
				return errors.Wrap(errors.PhaseBridge, errors.KindOutOfBounds, err, "writing stacked argument")
			}
		}
	}
	return nil
}

// ReadArgs decodes arguments of the given types from registers and stack,
// as a callee sees them.
func ReadArgs(eng Engine, arena *mem.Arena, types []api.ValueType) ([]uint64, error) {
	rd := newArgReader(eng, arena)
	out := make([]uint64, len(types))
	for i, t := range types {
		v, err := rd.Next(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadResult returns the value a callee left in R0 (R0:R1 for 64-bit).
func ReadResult(eng Engine, results []api.ValueType) uint64 {
	if len(results) == 0 {
		return 0
	}
	if isWide(results[0]) {
		return uint64(eng.RegRead(R0)) | uint64(eng.RegRead(R1))<<32
	}
	return uint64(eng.RegRead(R0))
}

// WriteResult stores a return value of type t.
func WriteResult(eng Engine, t api.ValueType, v uint64) {
	eng.RegWrite(R0, uint32(v))
	if isWide(t) {
		eng.RegWrite(R1, uint32(v>>32))
	}
}
