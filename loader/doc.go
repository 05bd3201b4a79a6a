// Package loader defines what a loaded guest binary provides to the
// runtime: its imports, its classes and its entry point.
//
// Binary formats that carry class metadata produce an Image directly. Code
// containers that do not, such as WebAssembly modules, are paired with a
// TOML manifest:
//
//	[app]
//	name = "Counter"
//	entry = "main"
//
//	[[imports]]
//	name = "_NSFoundationVersionNumber"
//	kind = "data"
//	slot = "foundation_version_slot"
//
//	[[classes]]
//	name = "Counter"
//	super = "NSObject"
//	instance-size = 8
//
//	  [[classes.methods]]
//	  selector = "increment"
//	  types = "v8@0:4"
//	  impl = "Counter_increment"
package loader
