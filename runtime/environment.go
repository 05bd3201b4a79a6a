package runtime

import (
	"context"
	"io/fs"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/linker"
	"github.com/wippyai/hle-runtime/loader"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// Framework is a host library installed into an environment: it registers
// classes with the object model and exports with the linker.
type Framework interface {
	Name() string
	Install(env *Environment) error
}

// Environment is the context object every host implementation receives:
// guest memory, the call bridge, the object model, the linker and the
// application bundle. There is one per guest process.
type Environment struct {
	Config Config
	Arena  *mem.Arena
	Engine bridge.Engine
	Bridge *bridge.Bridge
	Objc   *objc.Runtime
	Linker *linker.Linker
	// Bundle holds the application's resource files.
	Bundle fs.FS

	Image   *loader.Image
	Binding *linker.Binding

	frameworks []Framework
}

// New wires an environment over an engine and the arena it executes in.
func New(cfg Config, eng bridge.Engine, arena *mem.Arena, bundle fs.FS) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	linkOpts, err := cfg.LinkOptions()
	if err != nil {
		return nil, err
	}
	br, err := bridge.New(eng, arena, cfg.BridgeOptions())
	if err != nil {
		return nil, err
	}
	env := &Environment{
		Config: cfg,
		Arena:  arena,
		Engine: eng,
		Bridge: br,
		Objc:   objc.New(arena, br),
		Linker: linker.New(br, linkOpts),
		Bundle: bundle,
	}
	Logger().Debug("environment created",
		zap.Uint32("arena", arena.Size()),
		zap.Stringer("policy", linkOpts.Policy))
	return env, nil
}

// Install installs frameworks in order. Later frameworks may depend on
// classes registered by earlier ones.
func (e *Environment) Install(fws ...Framework) error {
	for _, fw := range fws {
		if err := fw.Install(e); err != nil {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Path(fw.Name()).
				Cause(err).
				Detail("installing framework").
				Build()
		}
		e.frameworks = append(e.frameworks, fw)
		Logger().Debug("framework installed", zap.String("framework", fw.Name()))
	}
	return nil
}

// Frameworks returns the installed frameworks.
func (e *Environment) Frameworks() []Framework {
	out := make([]Framework, len(e.frameworks))
	copy(out, e.frameworks)
	return out
}

// Load registers the image's guest classes, resolves the class graph and
// binds its imports.
func (e *Environment) Load(ctx context.Context, img *loader.Image) error {
	for _, def := range img.Classes {
		if _, err := e.Objc.RegisterClass(def); err != nil {
			return err
		}
	}
	if err := e.Objc.Finalize(); err != nil {
		return err
	}
	binding, err := e.Linker.Link(ctx, img.Imports)
	if err != nil {
		return err
	}
	e.Image = img
	e.Binding = binding
	Logger().Info("image loaded",
		zap.String("image", img.Name),
		zap.Int("classes", len(img.Classes)),
		zap.Int("imports", len(img.Imports)),
		zap.Strings("stubbed", binding.Stubbed))
	return nil
}

// entrySig is main(argc, argv) returning an exit status.
var entrySig = bridge.Sig([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, api.ValueTypeI32)

// Run calls the image's entry point with the given arguments and returns
// its exit status.
func (e *Environment) Run(ctx context.Context, args ...string) (int32, error) {
	if e.Image == nil {
		return 0, errors.InvalidInput(errors.PhaseLoad, "no image loaded")
	}
	argv, err := e.allocArgv(args)
	if err != nil {
		return 0, err
	}
	res, err := e.Bridge.CallGuest(ctx, e.Image.Entry, entrySig, uint64(len(args)), uint64(argv))
	if err != nil {
		return 0, err
	}
	return api.DecodeI32(res), nil
}

func (e *Environment) allocArgv(args []string) (mem.Addr, error) {
	argv, err := e.Arena.Alloc(uint32(len(args)+1)*4, 4)
	if err != nil {
		return mem.Null, err
	}
	ptrs := make([]uint32, len(args)+1)
	for i, a := range args {
		s, err := e.Arena.AllocCStr(a)
		if err != nil {
			return mem.Null, err
		}
		ptrs[i] = uint32(s)
	}
	if err := mem.PtrTo[uint32](argv).WriteSlice(e.Arena, ptrs); err != nil {
		return mem.Null, err
	}
	return argv, nil
}

// Drain pops every autorelease pool still in place, innermost first.
func (e *Environment) Drain(ctx context.Context) error {
	for e.Objc.PoolDepth() > 0 {
		if err := e.Objc.PopPool(ctx, e.Objc.InnermostPool()); err != nil {
			return err
		}
	}
	return nil
}
