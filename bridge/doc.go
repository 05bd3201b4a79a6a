// Package bridge moves control between guest code and host functions.
//
// Guest code runs on an external Engine that exposes 32-bit ARM registers.
// Host functions are bound to stub addresses with Register; when the guest
// branches to a stub the engine traps into HandleTrap, which decodes the
// arguments per the function's Signature, calls it, writes the result to R0
// (R0:R1 for 64-bit values) and resumes at LR.
//
// The other direction is CallGuest. It saves the register file, lays out the
// arguments, points LR at a sentinel address unique to the current nesting
// depth and runs the engine until the guest returns there. Crossings are
// kept on an explicit frame stack so that guest→host→guest→host chains of
// any depth unwind to the right caller, and a guest that returns to the
// wrong sentinel is reported instead of silently resuming an outer frame.
//
// Argument layout follows the soft-float procedure call standard:
//
//	i32, f32     next of R0-R3, else a 4-byte stack slot
//	i64, f64     next even register pair, else an 8-byte aligned slot
//	results      R0, or R0:R1 for 64-bit values
package bridge
