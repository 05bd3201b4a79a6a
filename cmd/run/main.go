package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/hle-runtime/archive"
	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/engine"
	"github.com/wippyai/hle-runtime/frameworks/foundation"
	"github.com/wippyai/hle-runtime/frameworks/uikit"
	"github.com/wippyai/hle-runtime/linker"
	"github.com/wippyai/hle-runtime/loader"
	"github.com/wippyai/hle-runtime/objc"
	"github.com/wippyai/hle-runtime/runtime"
)

type options struct {
	wasmFile     string
	manifestFile string
	configFile   string
	bundleDir    string
	snapshotFile string
	strict       bool
	verbose      bool
	interactive  bool
	args         []string
}

func main() {
	var o options
	flag.StringVar(&o.wasmFile, "wasm", "", "Path to the guest wasm module")
	flag.StringVar(&o.manifestFile, "manifest", "", "Path to the image manifest (TOML)")
	flag.StringVar(&o.configFile, "config", "", "Path to the runtime config (TOML)")
	flag.StringVar(&o.bundleDir, "bundle", "", "Application bundle directory (overrides config and manifest)")
	flag.StringVar(&o.snapshotFile, "snapshot", "", "Write a CBOR object-table snapshot here after the run")
	flag.BoolVar(&o.strict, "strict", false, "Fail to load when any import is unresolved")
	flag.BoolVar(&o.verbose, "v", false, "Debug logging")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()
	o.args = flag.Args()

	if o.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <app.wasm> [-manifest app.toml] [-config hle.toml] [-strict] [-snapshot out.cbor] [-v] [-- args...]")
		fmt.Fprintln(os.Stderr, "       run -wasm <app.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	log := newLogger(o.verbose)
	defer func() { _ = log.Sync() }()
	installLogger(log)

	if o.interactive {
		if err := runInteractive(o); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	status, err := run(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(status))
}

// newLogger logs human-readable output to a terminal and JSON otherwise.
func newLogger(verbose bool) *zap.Logger {
	var cfg zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func installLogger(log *zap.Logger) {
	bridge.SetLogger(log.Named("bridge"))
	objc.SetLogger(log.Named("objc"))
	linker.SetLogger(log.Named("linker"))
	engine.SetLogger(log.Named("engine"))
	runtime.SetLogger(log.Named("runtime"))
	archive.SetLogger(log.Named("archive"))
	foundation.SetLogger(log.Named("foundation"))
	uikit.SetLogger(log.Named("uikit"))
}

// session is a loaded guest ready to run.
type session struct {
	env   *runtime.Environment
	eng   *engine.Wasm
	name  string
	fd    *foundation.Foundation
	uikit *uikit.UIKit
}

func (s *session) close(ctx context.Context) {
	_ = s.eng.Close(ctx)
}

// load builds an environment for o: config, engine, frameworks, then the
// image described by the manifest and the module's own imports.
func load(ctx context.Context, o options) (*session, error) {
	cfg := runtime.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = runtime.LoadConfig(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.strict {
		cfg.Link.Policy = "strict"
	}

	man, err := loader.ParseManifest(nil)
	if err != nil {
		return nil, err
	}
	if o.manifestFile != "" {
		if man, err = loader.LoadManifest(o.manifestFile); err != nil {
			return nil, err
		}
		if man.App.Bundle != "" {
			cfg.BundleDir = filepath.Join(man.Dir, man.App.Bundle)
		}
	}
	if o.bundleDir != "" {
		cfg.BundleDir = o.bundleDir
	}
	name := man.App.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(o.wasmFile), filepath.Ext(o.wasmFile))
	}

	data, err := os.ReadFile(o.wasmFile)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	eng, err := engine.NewWasm(ctx, data, nil)
	if err != nil {
		return nil, err
	}
	s := &session{eng: eng, name: name}

	env, err := runtime.New(cfg, eng, eng.Arena(), os.DirFS(cfg.BundleDir))
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.env = env
	s.fd = foundation.New()
	arc := archive.New(s.fd)
	s.uikit = uikit.New(s.fd, arc)
	if err := env.Install(s.fd, arc, s.uikit); err != nil {
		s.close(ctx)
		return nil, err
	}

	img, err := man.Image(eng)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	img.Name = name
	img.Imports = append(img.Imports, eng.Imports()...)
	if err := env.Load(ctx, img); err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

func run(o options) (int32, error) {
	ctx := context.Background()
	s, err := load(ctx, o)
	if err != nil {
		return 0, err
	}
	defer s.close(ctx)

	fmt.Printf("Image: %s\n", s.name)
	fmt.Printf("Classes: %d\n", len(s.env.Objc.Classes()))
	fmt.Printf("Imports: %d bound, %d stubbed\n",
		len(s.env.Binding.Addrs)-len(s.env.Binding.Stubbed), len(s.env.Binding.Stubbed))

	status, runErr := s.env.Run(ctx, append([]string{s.name}, o.args...)...)
	if err := s.env.Drain(ctx); err != nil && runErr == nil {
		runErr = err
	}
	if o.snapshotFile != "" {
		if err := writeSnapshot(o.snapshotFile, s.env.Objc.Snapshot()); err != nil {
			return 0, err
		}
		fmt.Printf("Snapshot: %s\n", o.snapshotFile)
	}
	if runErr != nil {
		return 0, runErr
	}
	fmt.Printf("Exit status: %d (%d objects live)\n", status, s.env.Objc.Live())
	return status, nil
}

func writeSnapshot(path string, snap objc.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := objc.EncodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Close()
}
