// Package mem implements the guest address space: a fixed-size byte arena
// addressed by 32-bit guest addresses, a bump allocator with size-classed
// free lists, and typed pointers.
//
// Every access is bounds-checked against the arena. The first page is
// reserved so that a null pointer can never be dereferenced:
//
//	arena, _ := mem.New(16 << 20)
//	p, _ := arena.Alloc(8, 4)
//	_ = mem.Write[uint32](arena, p, 42)
//	v, _ := mem.Read[uint32](arena, p) // 42
//
// Other components treat Addr as opaque data; converting it into
// host-addressable bytes always goes through an Arena.
package mem
