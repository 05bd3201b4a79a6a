// Package linker binds a guest binary's imported symbols to host exports.
//
// Host frameworks publish two tables: functions, which become stub
// addresses registered with the call bridge, and constants, whose values
// are produced lazily and then memoized so every import of a symbol sees
// the same guest value (the same object, for string constants).
//
//	l := linker.NewWithDefaults(br)
//	l.Framework("Foundation").
//	    Func("_NSLog", bridge.VariadicSig([]api.ValueType{bridge.I32}), nslog).
//	    Const("_NSRangeException", rangeException)
//	binding, err := l.Link(ctx, image.Imports)
//
// # Missing Symbols
//
// What happens to an import no framework exports is explicit policy:
//
//   - Strict: Link fails with an errors.UnresolvedSymbolsError naming every
//     missing symbol, and no slot is written.
//   - Permissive: the import is bound to a stub and a warning is logged once
//     per distinct symbol. A function stub returns zero (StubZero) or fails
//     the call (StubTrap); a data stub points at zeroed storage.
//
// Options.Require and Options.Tolerate override the policy for symbols
// matching path.Match patterns, e.g. "_objc_*" or "_UI*".
package linker
