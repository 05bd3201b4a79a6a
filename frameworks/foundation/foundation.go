package foundation

import (
	"context"
	"io"
	"os"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
	"github.com/wippyai/hle-runtime/runtime"
)

// Name is the framework name exports are registered under.
const Name = "Foundation"

// Class names registered by Install.
const (
	ObjectClass          = "NSObject"
	StringClass          = "NSString"
	ArrayClass           = "NSArray"
	MutableArrayClass    = "NSMutableArray"
	DictionaryClass      = "NSDictionary"
	MutableDictClass     = "NSMutableDictionary"
	NumberClass          = "NSNumber"
	DataClass            = "NSData"
	BundleClass          = "NSBundle"
	AutoreleasePoolClass = "NSAutoreleasePool"
)

// Foundation is one installation of the framework. It keeps the state
// shared by its classes, such as the static string pool, and must not be
// installed into more than one environment.
type Foundation struct {
	env *runtime.Environment
	out io.Writer

	statics    map[string]objc.ID
	classNames map[objc.ID]mem.Addr
	mainBundle objc.ID
}

// New creates an uninstalled Foundation. NSLog writes to stderr until
// SetOutput says otherwise.
func New() *Foundation {
	return &Foundation{
		out:        os.Stderr,
		statics:    make(map[string]objc.ID),
		classNames: make(map[objc.ID]mem.Addr),
	}
}

// SetOutput redirects NSLog.
func (f *Foundation) SetOutput(w io.Writer) { f.out = w }

// Name implements runtime.Framework.
func (f *Foundation) Name() string { return Name }

// Env returns the environment the framework is installed in, nil before
// Install.
func (f *Foundation) Env() *runtime.Environment { return f.env }

// Install registers the Foundation classes and exports.
func (f *Foundation) Install(env *runtime.Environment) error {
	if f.env != nil {
		return errors.Conflict(errors.PhaseHost, "framework", Name, "already installed")
	}
	f.env = env

	defs := []objc.ClassDef{f.objectClass()}
	defs = append(defs, f.stringClasses()...)
	defs = append(defs, f.collectionClasses()...)
	defs = append(defs, f.numberClass(), f.dataClass(), f.bundleClass(), f.poolClass())
	for _, def := range defs {
		if _, err := env.Objc.RegisterClass(def); err != nil {
			return err
		}
	}

	fw := env.Linker.Framework(Name)
	f.exportRuntime(fw)
	f.exportFunctions(fw)
	f.exportExceptions(fw)
	if err := fw.Err(); err != nil {
		return err
	}
	Logger().Debug("foundation installed",
		zap.Int("classes", len(defs)),
		zap.Int("exports", fw.Len()))
	return nil
}

func (f *Foundation) rt() *objc.Runtime { return f.env.Objc }

func (f *Foundation) class(name string) (*objc.Class, error) {
	c, ok := f.env.Objc.Class(name)
	if !ok {
		return nil, errors.UnresolvedClass(name, Name)
	}
	return c, nil
}

// isKindOf reports whether id is an instance of the named class or one of
// its subclasses.
func (f *Foundation) isKindOf(id objc.ID, name string) bool {
	want, ok := f.env.Objc.Class(name)
	if !ok || !f.env.Objc.IsObject(id) {
		return false
	}
	c, err := f.env.Objc.ClassOf(id)
	return err == nil && c.IsSubclassOf(want)
}

// autoreleased hands an owned object to the innermost pool, as the
// convenience constructors do.
func (f *Foundation) autoreleased(id objc.ID, err error) (uint64, error) {
	if err != nil {
		return 0, err
	}
	id, err = f.env.Objc.Autorelease(id)
	return ret(id), err
}

func ret(id objc.ID) uint64 { return api.EncodeU32(uint32(id)) }

func boolean(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func returnSelf(_ context.Context, m *objc.Msg) (uint64, error) {
	return ret(m.Self), nil
}
