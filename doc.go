// Package hle is a high-level emulation runtime: it runs guest
// applications written against an Objective-C style object model by
// implementing the system frameworks they link against in Go.
//
// The guest is a WebAssembly module executed by wazero. Its address space
// is a fixed arena inside the module's linear memory; host frameworks
// allocate objects there so guest code can read them directly.
//
// # Architecture Overview
//
//	hle/                 Root package with the AddressSpace interfaces
//	├── mem/             Guest arena, allocator and typed pointers
//	├── errors/          Structured error types for debugging
//	├── bridge/          Host/guest calls: signatures, arguments, results
//	├── engine/          Execution engines (wazero, scripted test engine)
//	├── objc/            Classes, objects, refcounts, pools, dispatch
//	├── linker/          Export tables and import resolution
//	├── loader/          Image manifests (TOML)
//	├── archive/         NSKeyedArchiver plists and NSKeyedUnarchiver
//	├── frameworks/      Foundation and UIKit host classes
//	└── runtime/         Environment: config, install, load, run, drain
//
// # Quick Start
//
//	eng, _ := engine.NewWasm(ctx, wasmBytes, nil)
//	env, _ := runtime.New(runtime.DefaultConfig(), eng, eng.Arena(), os.DirFS("App.app"))
//	fd := foundation.New()
//	arc := archive.New(fd)
//	_ = env.Install(fd, arc, uikit.New(fd, arc))
//
//	img, _ := manifest.Image(eng)
//	img.Imports = append(img.Imports, eng.Imports()...)
//	_ = env.Load(ctx, img)
//
//	status, err := env.Run(ctx, "App")
//
// # Thread Safety
//
// An Environment and everything it owns belong to one goroutine. Guest
// code is single threaded and host methods run on the calling goroutine.
//
// # Memory Model
//
// The arena never grows. Objects are reference counted; memory of a
// deallocated object returns to the arena's free lists for reuse.
package hle
