// Package engine provides Execution Engines for the call bridge.
//
// The bridge never interprets guest instructions itself. It drives an
// engine through register reads and writes plus Run(pc, until), and the
// engine reports every transfer to an address it does not own through the
// trap callback. Two engines live here:
//
//	Script - guest routines written in Go and placed at arena addresses.
//	         Used by tests and by tooling that needs a deterministic guest.
//	Wasm   - guest code compiled to WebAssembly and executed by wazero.
//	         The arena is a view of the module's linear memory.
//
// # Wasm Guests
//
// A Wasm guest must declare a fixed-size memory (min == max pages) so the
// arena never moves. Every imported function from the import module
// (default "env") becomes a guest symbol "_<name>" backed by a 4-byte slot
// in the arena; the linker writes the resolved address into that slot and
// the engine jumps there on each call. Exported functions are assigned
// synthetic code addresses so the bridge and the object model can call
// them like any other guest address.
//
//	guest call  ->  import trampoline  ->  slot  ->  trap  ->  host function
//	host call   ->  CallGuest          ->  Run   ->  exported function
//
// Memory below the module's __heap_base global belongs to the image and is
// reserved before the arena allocator hands anything out.
package engine
