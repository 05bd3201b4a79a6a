package mem

import (
	"encoding/binary"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/wippyai/hle-runtime/errors"
)

// Scalar is the set of fixed-size element types guest memory can be read as.
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Align rounds a up to the next multiple of b. b must be a power of two.
func Align[I constraints.Unsigned](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// SizeOf returns the guest size of T in bytes.
func SizeOf[T Scalar]() uint32 {
	var v T
	return uint32(binary.Size(v))
}

// Read loads a T stored little-endian at addr.
func Read[T Scalar](a *Arena, addr Addr) (T, error) {
	var v T
	b, err := a.BytesAt(addr, SizeOf[T]())
	if err != nil {
		return v, err
	}
	if _, err := binary.Decode(b, order, &v); err != nil {
		return v, errors.Wrap(errors.PhaseMemory, errors.KindTypeMismatch, err, "decode scalar")
	}
	return v, nil
}

// Write stores v little-endian at addr.
func Write[T Scalar](a *Arena, addr Addr, v T) error {
	b, err := a.BytesAtMut(addr, SizeOf[T]())
	if err != nil {
		return err
	}
	if _, err := binary.Encode(b, order, v); err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindTypeMismatch, err, "encode scalar")
	}
	return nil
}

// Ptr is a mutable typed guest pointer.
type Ptr[T Scalar] struct {
	Addr Addr
}

// ConstPtr is a read-only typed guest pointer.
type ConstPtr[T Scalar] struct {
	Addr Addr
}

// PtrTo tags addr with element type T.
func PtrTo[T Scalar](addr Addr) Ptr[T] {
	return Ptr[T]{Addr: addr}
}

// IsNull reports whether the pointer is null.
func (p Ptr[T]) IsNull() bool { return p.Addr == Null }

// Const drops write access.
func (p Ptr[T]) Const() ConstPtr[T] { return ConstPtr[T](p) }

// Read loads the element at p.
func (p Ptr[T]) Read(a *Arena) (T, error) { return Read[T](a, p.Addr) }

// Write stores v at p.
func (p Ptr[T]) Write(a *Arena, v T) error { return Write(a, p.Addr, v) }

// At returns a pointer to element i, checking the offset arithmetic.
func (p Ptr[T]) At(i uint32) (Ptr[T], error) {
	off, err := elemOffset[T](i)
	if err != nil {
		return Ptr[T]{}, err
	}
	addr, err := p.Addr.Add(off)
	return Ptr[T]{Addr: addr}, err
}

// ReadSlice loads n consecutive elements starting at p.
func (p Ptr[T]) ReadSlice(a *Arena, n uint32) ([]T, error) {
	return p.Const().ReadSlice(a, n)
}

// WriteSlice stores vs consecutively starting at p.
func (p Ptr[T]) WriteSlice(a *Arena, vs []T) error {
	total, err := elemOffset[T](uint32(len(vs)))
	if err != nil {
		return err
	}
	b, err := a.BytesAtMut(p.Addr, total)
	if err != nil {
		return err
	}
	if _, err := binary.Encode(b, order, vs); err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindTypeMismatch, err, "encode slice")
	}
	return nil
}

// IsNull reports whether the pointer is null.
func (p ConstPtr[T]) IsNull() bool { return p.Addr == Null }

// Read loads the element at p.
func (p ConstPtr[T]) Read(a *Arena) (T, error) { return Read[T](a, p.Addr) }

// At returns a pointer to element i, checking the offset arithmetic.
func (p ConstPtr[T]) At(i uint32) (ConstPtr[T], error) {
	m, err := Ptr[T](p).At(i)
	return ConstPtr[T](m), err
}

// ReadSlice loads n consecutive elements starting at p.
func (p ConstPtr[T]) ReadSlice(a *Arena, n uint32) ([]T, error) {
	total, err := elemOffset[T](n)
	if err != nil {
		return nil, err
	}
	b, err := a.BytesAt(p.Addr, total)
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	if _, err := binary.Decode(b, order, out); err != nil {
		return nil, errors.Wrap(errors.PhaseMemory, errors.KindTypeMismatch, err, "decode slice")
	}
	return out, nil
}

func elemOffset[T Scalar](n uint32) (uint32, error) {
	size := uint64(SizeOf[T]())
	total := uint64(n) * size
	if total > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseMemory, total, "array length × element size")
	}
	return uint32(total), nil
}
