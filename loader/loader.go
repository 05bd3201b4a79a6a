package loader

import (
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// ImportKind distinguishes how an imported symbol is referenced.
type ImportKind int

const (
	// Function imports are called; their slot receives a code address.
	Function ImportKind = iota
	// Data imports are read; their slot receives the address of the value.
	Data
)

func (k ImportKind) String() string {
	if k == Data {
		return "data"
	}
	return "function"
}

// Import is one external symbol a loaded binary references.
type Import struct {
	Name string
	Kind ImportKind
	// Slot is the guest word the linker writes the resolved address to.
	// A null slot means the caller reads the address from the binding.
	Slot mem.Addr
}

// Image is what a loader hands to the runtime: imports to bind, guest
// classes to register and the entry point.
type Image struct {
	Name    string
	Imports []Import
	Classes []objc.ClassDef
	Entry   mem.Addr
}

// Symbols resolves guest-defined symbols to addresses. Engines implement it
// for the code they load.
type Symbols interface {
	Symbol(name string) (mem.Addr, bool)
}
