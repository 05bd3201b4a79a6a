package mem

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/hle-runtime/errors"
)

// Addr is an offset into the guest arena. It is never a host pointer.
type Addr uint32

// Null is the guest null pointer.
const Null Addr = 0

// NullPageSize is the size of the reserved region at address zero.
// Any access that touches it fails, so Null can never be dereferenced.
const NullPageSize = 0x1000

// minBlock is the allocation granularity of the arena.
const minBlock = 16

// String formats the address the way guest diagnostics print pointers.
func (a Addr) String() string {
	return fmt.Sprintf("%#010x", uint32(a))
}

// IsNull reports whether a is the null sentinel.
func (a Addr) IsNull() bool {
	return a == Null
}

// Add returns a+off, failing when the sum leaves the 32-bit address space.
func (a Addr) Add(off uint32) (Addr, error) {
	sum := uint64(a) + uint64(off)
	if sum > 0xFFFFFFFF {
		return Null, errors.Overflow(errors.PhaseMemory, sum, "guest address")
	}
	return Addr(sum), nil
}

// Arena is the flat byte arena standing in for the guest address space.
// Its size is fixed at creation. Not safe for concurrent use.
type Arena struct {
	buf    []byte
	free   map[uint32][]Addr
	blocks map[Addr]uint32
	next   Addr
	inUse  uint32
}

// New creates an arena of size bytes backed by host memory.
func New(size uint32) (*Arena, error) {
	return NewOn(make([]byte, size))
}

// NewOn creates an arena over buf, for engines that own the guest memory
// (e.g. a WebAssembly linear memory). buf must not be resized afterwards.
func NewOn(buf []byte) (*Arena, error) {
	if uint64(len(buf)) > 0xFFFFFFFF {
		return nil, errors.Overflow(errors.PhaseMemory, len(buf), "32-bit guest address space")
	}
	if len(buf) <= NullPageSize {
		return nil, errors.InvalidInput(errors.PhaseMemory,
			fmt.Sprintf("arena of %d bytes leaves no room above the null page", len(buf)))
	}
	return &Arena{
		buf:    buf,
		free:   make(map[uint32][]Addr),
		blocks: make(map[Addr]uint32),
		next:   NullPageSize,
	}, nil
}

// Size returns the arena size in bytes.
func (a *Arena) Size() uint32 {
	return uint32(len(a.buf))
}

// InUse returns the number of bytes held by live allocations.
func (a *Arena) InUse() uint32 {
	return a.inUse
}

func (a *Arena) check(addr Addr, n uint64) error {
	if n == 0 {
		return nil
	}
	if addr < NullPageSize {
		return errors.NullDereference(uint32(addr))
	}
	if uint64(addr)+n > uint64(len(a.buf)) {
		return errors.OutOfBounds(uint32(addr), n, a.Size())
	}
	return nil
}

// BytesAt returns a bounds-checked view of n bytes at addr.
// The view aliases guest memory; callers must treat it as read-only.
func (a *Arena) BytesAt(addr Addr, n uint32) ([]byte, error) {
	if err := a.check(addr, uint64(n)); err != nil {
		return nil, err
	}
	return a.buf[addr : uint64(addr)+uint64(n) : uint64(addr)+uint64(n)], nil
}

// BytesAtMut returns a bounds-checked writable view of n bytes at addr.
func (a *Arena) BytesAtMut(addr Addr, n uint32) ([]byte, error) {
	return a.BytesAt(addr, n)
}

// ReadBytes copies n bytes at addr into a fresh slice.
func (a *Arena) ReadBytes(addr Addr, n uint32) ([]byte, error) {
	view, err := a.BytesAt(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, view)
	return out, nil
}

// WriteBytes copies data into guest memory at addr.
func (a *Arena) WriteBytes(addr Addr, data []byte) error {
	dst, err := a.BytesAtMut(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// CStrAt reads the NUL-terminated string at addr.
func (a *Arena) CStrAt(addr Addr) (string, error) {
	if err := a.check(addr, 1); err != nil {
		return "", err
	}
	for i := uint64(addr); i < uint64(len(a.buf)); i++ {
		if a.buf[i] == 0 {
			return string(a.buf[addr:i]), nil
		}
	}
	return "", errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Addr(uint32(addr)).
		Detail("string is not terminated before the end of the arena").
		Build()
}

// AllocCStr allocates a NUL-terminated copy of s.
func (a *Arena) AllocCStr(s string) (Addr, error) {
	addr, err := a.Alloc(uint32(len(s))+1, 1)
	if err != nil {
		return Null, err
	}
	dst, _ := a.BytesAtMut(addr, uint32(len(s))+1)
	copy(dst, s)
	dst[len(s)] = 0
	return addr, nil
}

// Alloc carves size bytes aligned to align out of the arena. Memory is zeroed.
// Exhaustion is reported as an allocation error.
func (a *Arena) Alloc(size, align uint32) (Addr, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return Null, errors.InvalidInput(errors.PhaseMemory, fmt.Sprintf("alignment %d is not a power of two", align))
	}
	if size == 0 {
		size = 1
	}
	if size > a.Size() {
		return Null, errors.AllocationFailed(size, align)
	}
	rounded := Align(size, minBlock)

	if list := a.free[rounded]; len(list) > 0 {
		for i, addr := range list {
			if uint32(addr)%align != 0 {
				continue
			}
			a.free[rounded] = append(list[:i], list[i+1:]...)
			return a.claim(addr, rounded), nil
		}
	}

	start := uint64(Align(uint32(a.next), max(align, minBlock)))
	end := start + uint64(rounded)
	if end > uint64(len(a.buf)) {
		return Null, errors.AllocationFailed(size, align)
	}
	a.next = Addr(end)
	return a.claim(Addr(start), rounded), nil
}

func (a *Arena) claim(addr Addr, rounded uint32) Addr {
	clear(a.buf[addr : uint64(addr)+uint64(rounded)])
	a.blocks[addr] = rounded
	a.inUse += rounded
	return addr
}

// Free returns a block obtained from Alloc to the free list.
func (a *Arena) Free(addr Addr) error {
	size, ok := a.blocks[addr]
	if !ok {
		return errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Addr(uint32(addr)).
			Detail("free of an address that is not an allocated block").
			Build()
	}
	delete(a.blocks, addr)
	a.inUse -= size
	a.free[size] = append(a.free[size], addr)
	return nil
}

// BlockSize returns the rounded size of the live block at addr.
func (a *Arena) BlockSize(addr Addr) (uint32, bool) {
	size, ok := a.blocks[addr]
	return size, ok
}

// Reserve marks [addr, addr+size) as used by the loaded image so that the
// allocator never hands it out. It must be called before any Alloc.
func (a *Arena) Reserve(addr Addr, size uint32) error {
	if err := a.check(addr, uint64(size)); err != nil {
		return err
	}
	if len(a.blocks) > 0 || len(a.free) > 0 {
		return errors.InvalidInput(errors.PhaseMemory, "reserve after allocation started")
	}
	end := Addr(uint64(addr) + uint64(size))
	if end > a.next {
		a.next = end
	}
	return nil
}

var order = binary.LittleEndian
