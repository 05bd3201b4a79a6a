package runtime

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/linker"
)

// Config holds the tunables of an Environment.
type Config struct {
	// ArenaSize is the guest address space in bytes. Engines that own their
	// memory ignore it.
	ArenaSize uint32 `toml:"arena-size"`
	// StackSize is the guest stack allocated by the bridge.
	StackSize uint32 `toml:"stack-size"`
	// MaxCallDepth bounds nested host→guest calls.
	MaxCallDepth int `toml:"max-call-depth"`
	// BundleDir is the application bundle directory.
	BundleDir string     `toml:"bundle-dir"`
	Link      LinkConfig `toml:"link"`
}

// LinkConfig is the serialized form of linker.Options.
type LinkConfig struct {
	Policy   string   `toml:"policy"`
	Stub     string   `toml:"stub"`
	Tolerate []string `toml:"tolerate"`
	Require  []string `toml:"require"`
}

// DefaultConfig returns a 16 MiB arena with a permissive linker whose
// stubs trap, and the core runtime symbols required.
func DefaultConfig() Config {
	return Config{
		ArenaSize:    16 << 20,
		StackSize:    256 << 10,
		MaxCallDepth: 64,
		BundleDir:    ".",
		Link: LinkConfig{
			Policy:  "permissive",
			Stub:    "trap",
			Require: []string{"_objc_msgSend", "_objc_msgSendSuper*"},
		},
	}
}

// LoadConfig reads a TOML config file over DefaultConfig. Keys the file
// sets replace the defaults; unknown keys are logged and ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.MissingResource("config", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, errors.Load(fmt.Sprintf("parse error in %s", path), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		Logger().Warn("unknown config keys ignored",
			zap.String("path", path),
			zap.Strings("keys", keys))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.ArenaSize <= 0x1000 {
		return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("arena-size %#x leaves no room past the null page", c.ArenaSize))
	}
	if c.StackSize >= c.ArenaSize {
		return errors.InvalidInput(errors.PhaseLoad, "stack-size must be smaller than arena-size")
	}
	if c.MaxCallDepth < 0 {
		return errors.InvalidInput(errors.PhaseLoad, "max-call-depth must not be negative")
	}
	_, err := c.LinkOptions()
	return err
}

// LinkOptions converts the link section.
func (c Config) LinkOptions() (linker.Options, error) {
	opts := linker.Options{Tolerate: c.Link.Tolerate, Require: c.Link.Require}
	switch strings.ToLower(c.Link.Policy) {
	case "", "permissive":
		opts.Policy = linker.Permissive
	case "strict":
		opts.Policy = linker.Strict
	default:
		return opts, errors.InvalidInput(errors.PhaseLoad, "unknown link policy "+c.Link.Policy)
	}
	switch strings.ToLower(c.Link.Stub) {
	case "", "trap":
		opts.Stub = linker.StubTrap
	case "zero":
		opts.Stub = linker.StubZero
	default:
		return opts, errors.InvalidInput(errors.PhaseLoad, "unknown stub mode "+c.Link.Stub)
	}
	return opts, nil
}

// BridgeOptions converts the stack settings.
func (c Config) BridgeOptions() bridge.Options {
	return bridge.Options{StackSize: c.StackSize, MaxDepth: c.MaxCallDepth}
}
