package uikit

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/archive"
	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/frameworks/foundation"
	"github.com/wippyai/hle-runtime/objc"
	"github.com/wippyai/hle-runtime/runtime"
)

// Name is the framework name.
const Name = "UIKit"

// Class names registered by Install.
const (
	ResponderClass               = "UIResponder"
	ViewClass                    = "UIView"
	WindowClass                  = "UIWindow"
	ControlClass                 = "UIControl"
	NibClass                     = "UINib"
	ProxyObjectClass             = "UIProxyObject"
	ClassSwapperClass            = "UIClassSwapper"
	RuntimeConnectionClass       = "UIRuntimeConnection"
	RuntimeOutletConnectionClass = "UIRuntimeOutletConnection"
	RuntimeEventConnectionClass  = "UIRuntimeEventConnection"
)

// ControlEvents is a UIControlEvents mask.
type ControlEvents uint32

const (
	ControlEventTouchDown     ControlEvents = 1 << 0
	ControlEventTouchUpInside ControlEvents = 1 << 6
	ControlEventValueChanged  ControlEvents = 1 << 12
	ControlEventAllEvents     ControlEvents = 0xFFFFFFFF
)

// UIKit installs the view and nib-loading classes. It needs Foundation and
// the keyed unarchiver installed first.
type UIKit struct {
	fd  *foundation.Foundation
	arc *archive.Framework
	env *runtime.Environment
}

// New creates an uninstalled UIKit over fd and arc.
func New(fd *foundation.Foundation, arc *archive.Framework) *UIKit {
	return &UIKit{fd: fd, arc: arc}
}

// Name implements runtime.Framework.
func (k *UIKit) Name() string { return Name }

// Install registers the UIKit classes.
func (k *UIKit) Install(env *runtime.Environment) error {
	if k.env != nil {
		return errors.Conflict(errors.PhaseHost, "framework", Name, "already installed")
	}
	if k.fd.Env() != env {
		return errors.UnresolvedClass(foundation.ObjectClass, Name)
	}
	if _, ok := env.Objc.Class(archive.UnarchiverClass); !ok {
		return errors.UnresolvedClass(archive.UnarchiverClass, Name)
	}
	k.env = env

	defs := []objc.ClassDef{
		{Name: ResponderClass, Super: foundation.ObjectClass, Host: true},
		k.viewClass(),
		k.windowClass(),
		k.controlClass(),
		k.nibClass(),
	}
	defs = append(defs, k.nibSupportClasses()...)
	for _, def := range defs {
		if _, err := env.Objc.RegisterClass(def); err != nil {
			return err
		}
	}
	Logger().Debug("uikit installed", zap.Int("classes", len(defs)))
	return nil
}

func (k *UIKit) rt() *objc.Runtime { return k.env.Objc }

// key returns the pooled NSString for a coder key as a message argument.
func (k *UIKit) key(s string) ([]uint64, error) {
	id, err := k.fd.StaticString(s)
	if err != nil {
		return nil, err
	}
	return objc.Words(uint32(id)), nil
}

// decodeObject sends decodeObjectForKey: to coder.
func (k *UIKit) decodeObject(ctx context.Context, coder objc.ID, key string) (objc.ID, error) {
	args, err := k.key(key)
	if err != nil {
		return objc.Nil, err
	}
	return k.rt().SendID(ctx, coder, "decodeObjectForKey:", args...)
}

// decodeString decodes an NSString and returns its text, "" for nil.
func (k *UIKit) decodeString(ctx context.Context, coder objc.ID, key string) (string, error) {
	id, err := k.decodeObject(ctx, coder, key)
	if err != nil || id.IsNil() {
		return "", err
	}
	return k.fd.GoString(id)
}

func (k *UIKit) decodeScalar(ctx context.Context, coder objc.ID, sel objc.Sel, key string) (uint64, error) {
	args, err := k.key(key)
	if err != nil {
		return 0, err
	}
	return k.rt().Send(ctx, coder, sel, args...)
}

func ret(id objc.ID) uint64 { return api.EncodeU32(uint32(id)) }
