// Package runtime assembles a guest process: guest memory, the call
// bridge, the object model, the linker and the installed frameworks, held
// together by an Environment passed to every host implementation.
//
// # Quick Start
//
//	cfg, err := runtime.LoadConfig("hle.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	env, err := runtime.New(cfg, eng, arena, os.DirFS(cfg.BundleDir))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fnd := foundation.New()
//	if err := env.Install(fnd, uikit.New(fnd)); err != nil {
//	    log.Fatal(err)
//	}
//	if err := env.Load(ctx, image); err != nil {
//	    log.Fatal(err)
//	}
//	status, err := env.Run(ctx)
//
// # Configuration
//
// Config is read from TOML; missing keys keep DefaultConfig values:
//
//	arena-size = 16777216
//	stack-size = 262144
//	bundle-dir = "Counter.app"
//
//	[link]
//	policy = "strict"       # or "permissive"
//	stub = "zero"           # or "trap"
//	tolerate = ["_gl*"]
//	require = ["_objc_*"]
//
// # Errors
//
// Every error is an *errors.Error or wraps one. errors.IsFatal reports
// whether the process must stop; only a missing resource is recoverable.
package runtime
