// Package errors provides structured error types for the compatibility runtime.
//
// Errors are categorized by Phase (which component raised it) and Kind (error category).
// The Error type carries the symbol, selector, or guest address involved so that a fatal
// diagnostic can name what went wrong.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseObjC, errors.KindUnimplemented).
//		Selector("setFrame:").
//		Addr(uint32(receiver)).
//		Detail("class %s does not respond", name).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(addr, 4, arenaSize)
//	err := errors.RefcountViolation(id, "release of deallocated object")
//
// Every kind except KindMissingResource is fatal: the object graph cannot be trusted
// after it. IsFatal encodes that rule. All errors support errors.Is/As.
package errors
