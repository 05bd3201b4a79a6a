package hle

import "github.com/wippyai/hle-runtime/mem"

// Memory is read and write access to the guest address space.
type Memory interface {
	ReadBytes(addr mem.Addr, n uint32) ([]byte, error)
	WriteBytes(addr mem.Addr, data []byte) error
	CStrAt(addr mem.Addr) (string, error)
}

// MemorySizer provides the size of the guest address space in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates blocks in the guest address space.
type Allocator interface {
	Alloc(size, align uint32) (mem.Addr, error)
	Free(addr mem.Addr) error
}

// AddressSpace is everything host code needs from guest memory.
// *mem.Arena implements it.
type AddressSpace interface {
	Memory
	MemorySizer
	Allocator
}

var _ AddressSpace = (*mem.Arena)(nil)
