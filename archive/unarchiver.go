package archive

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"howett.net/plist"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/frameworks/foundation"
	"github.com/wippyai/hle-runtime/objc"
	"github.com/wippyai/hle-runtime/runtime"
)

// Name is the framework name the unarchiver installs under.
const Name = "NSKeyedArchive"

// Class names registered by Install.
const (
	CoderClass      = "NSCoder"
	UnarchiverClass = "NSKeyedUnarchiver"
)

// Framework installs NSKeyedUnarchiver on top of an installed Foundation.
type Framework struct {
	fd  *foundation.Foundation
	env *runtime.Environment
}

// New creates the unarchiver framework for fd.
func New(fd *foundation.Foundation) *Framework {
	return &Framework{fd: fd}
}

// Name implements runtime.Framework.
func (f *Framework) Name() string { return Name }

// Install registers NSCoder and NSKeyedUnarchiver. Foundation must already
// be installed in env.
func (f *Framework) Install(env *runtime.Environment) error {
	if f.env != nil {
		return errors.Conflict(errors.PhaseHost, "framework", Name, "already installed")
	}
	if f.fd.Env() != env {
		return errors.UnresolvedClass(foundation.ObjectClass, Name)
	}
	f.env = env
	for _, def := range []objc.ClassDef{f.coderClass(), f.unarchiverClass()} {
		if _, err := env.Objc.RegisterClass(def); err != nil {
			return err
		}
	}
	return nil
}

// unarchiver is the host state of an NSKeyedUnarchiver.
type unarchiver struct {
	arc *Archive
	// cache owns one reference to every object decoded from a UID.
	cache map[plist.UID]objc.ID
	// loose owns values stored inline rather than behind a UID.
	loose []objc.ID
	// open marks collections being decoded, to reject cycles through them.
	open map[plist.UID]bool
	// stack holds the dictionaries keys are looked up in: $top, then one
	// per object whose initWithCoder: is running.
	stack []map[string]any
	// delegate is not retained.
	delegate objc.ID
	done     bool
}

func (u *unarchiver) current() map[string]any {
	if len(u.stack) == 0 {
		return nil
	}
	return u.stack[len(u.stack)-1]
}

func (f *Framework) coderClass() objc.ClassDef {
	return objc.ClassDef{
		Name:  CoderClass,
		Super: foundation.ObjectClass,
		Host:  true,
	}
}

func (f *Framework) unarchiverClass() objc.ClassDef {
	scalar := func(conv func(v any) uint64) objc.HostIMP {
		return func(_ context.Context, m *objc.Msg) (uint64, error) {
			u, key, err := f.keyed(m)
			if err != nil {
				return 0, err
			}
			v, ok := u.current()[key]
			if !ok {
				return 0, nil
			}
			return conv(v), nil
		}
	}
	asInt := func(v any) int64 {
		n, _ := Int(v)
		return n
	}
	asFloat := func(v any) float64 {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		}
		return float64(asInt(v))
	}
	return objc.ClassDef{
		Name:    UnarchiverClass,
		Super:   CoderClass,
		Host:    true,
		Payload: func() any { return &unarchiver{} },
		Methods: []objc.Method{
			objc.Fn("initForReadingWithData:", "@12@0:4@8", f.initForReadingWithData),
			objc.Fn("decodeObjectForKey:", "@12@0:4@8", f.decodeObjectForKey),
			objc.Fn("containsValueForKey:", "c12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				u, key, err := f.keyed(m)
				if err != nil {
					return 0, err
				}
				if _, ok := u.current()[key]; ok {
					return 1, nil
				}
				return 0, nil
			}),
			objc.Fn("decodeIntForKey:", "i12@0:4@8", scalar(func(v any) uint64 { return api.EncodeI32(int32(asInt(v))) })),
			objc.Fn("decodeInt32ForKey:", "i12@0:4@8", scalar(func(v any) uint64 { return api.EncodeI32(int32(asInt(v))) })),
			objc.Fn("decodeIntegerForKey:", "l12@0:4@8", scalar(func(v any) uint64 { return api.EncodeI32(int32(asInt(v))) })),
			objc.Fn("decodeInt64ForKey:", "q12@0:4@8", scalar(func(v any) uint64 { return api.EncodeI64(asInt(v)) })),
			objc.Fn("decodeBoolForKey:", "c12@0:4@8", scalar(func(v any) uint64 {
				if asInt(v) != 0 {
					return 1
				}
				return 0
			})),
			objc.Fn("decodeFloatForKey:", "f12@0:4@8", scalar(func(v any) uint64 { return api.EncodeF32(float32(asFloat(v))) })),
			objc.Fn("decodeDoubleForKey:", "d12@0:4@8", scalar(func(v any) uint64 { return api.EncodeF64(asFloat(v)) })),
			objc.Fn("delegate", "@8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				u, err := objc.PayloadOf[*unarchiver](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				return api.EncodeU32(uint32(u.delegate)), nil
			}),
			objc.Fn("setDelegate:", "v12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				u, err := objc.PayloadOf[*unarchiver](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				u.delegate = m.ID(0)
				return 0, nil
			}),
			objc.Fn("finishDecoding", "v8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				u, err := objc.PayloadOf[*unarchiver](m.RT, m.Self)
				if err != nil {
					return 0, err
				}
				u.done = true
				return 0, nil
			}),
			objc.Fn("dealloc", "v8@0:4", f.unarchiverDealloc),
		},
	}
}

func (f *Framework) initForReadingWithData(ctx context.Context, m *objc.Msg) (uint64, error) {
	u, err := objc.PayloadOf[*unarchiver](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	if u.arc != nil {
		return 0, errors.RefcountViolation(uint32(m.Self), "unarchiver initialized twice")
	}
	b, err := f.fd.Bytes(m.ID(0))
	if err != nil {
		return 0, err
	}
	arc, err := Parse(b)
	if err != nil {
		// As in Foundation, an unreadable archive fails init with nil.
		Logger().Warn("rejecting keyed archive", zap.Error(err))
		return 0, m.RT.Release(ctx, m.Self)
	}
	u.arc = arc
	u.cache = make(map[plist.UID]objc.ID)
	u.open = make(map[plist.UID]bool)
	u.stack = []map[string]any{arc.Top}
	Logger().Debug("unarchiver opened",
		zap.Stringer("id", m.Self),
		zap.Int("objects", len(arc.Objects)))
	return api.EncodeU32(uint32(m.Self)), nil
}

// keyed returns the receiver's state and the key argument of a
// decode...ForKey: message.
func (f *Framework) keyed(m *objc.Msg) (*unarchiver, string, error) {
	u, err := objc.PayloadOf[*unarchiver](m.RT, m.Self)
	if err != nil {
		return nil, "", err
	}
	if u.arc == nil {
		return nil, "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Selector(string(m.Sel)).
			Addr(uint32(m.Self)).
			Detail("unarchiver used before initForReadingWithData:").
			Build()
	}
	if u.done {
		return nil, "", errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Selector(string(m.Sel)).
			Addr(uint32(m.Self)).
			Detail("unarchiver used after finishDecoding").
			Build()
	}
	key, err := f.fd.GoString(m.ID(0))
	if err != nil {
		return nil, "", err
	}
	return u, key, nil
}

// decodeObjectForKey returns an object owned by the unarchiver; callers
// that keep it past the unarchiver's lifetime retain it.
func (f *Framework) decodeObjectForKey(ctx context.Context, m *objc.Msg) (uint64, error) {
	u, key, err := f.keyed(m)
	if err != nil {
		return 0, err
	}
	v, ok := u.current()[key]
	if !ok {
		return 0, nil
	}
	id, err := f.decodeValue(ctx, m.Self, u, v)
	if err != nil {
		return 0, err
	}
	return api.EncodeU32(uint32(id)), nil
}

func (f *Framework) decodeValue(ctx context.Context, self objc.ID, u *unarchiver, v any) (objc.ID, error) {
	if uid, ok := UIDOf(v); ok {
		return f.decodeUID(ctx, self, u, uid)
	}
	id, err := f.newValue(v)
	if err != nil {
		return objc.Nil, err
	}
	u.loose = append(u.loose, id)
	return id, nil
}

func (f *Framework) decodeUID(ctx context.Context, self objc.ID, u *unarchiver, uid plist.UID) (objc.ID, error) {
	if id, ok := u.cache[uid]; ok {
		return id, nil
	}
	raw, err := u.arc.Object(uid)
	if err != nil {
		return objc.Nil, err
	}
	if raw == nullObject {
		return objc.Nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		id, err := f.newValue(raw)
		if err != nil {
			return objc.Nil, err
		}
		u.cache[uid] = id
		return id, nil
	}
	name, err := u.arc.ClassName(obj)
	if err != nil {
		return objc.Nil, err
	}
	switch name {
	case foundation.ArrayClass, foundation.MutableArrayClass,
		foundation.DictionaryClass, foundation.MutableDictClass:
		return f.decodeCollection(ctx, self, u, uid, name, obj)
	case foundation.StringClass, "NSMutableString":
		s, _ := obj["NS.string"].(string)
		return f.cached(u, uid, name)(f.fd.String(s))
	case foundation.DataClass, "NSMutableData":
		b, _ := obj["NS.bytes"].([]byte)
		return f.cached(u, uid, name)(f.fd.NewData(b))
	}
	return f.instantiate(ctx, self, u, uid, name, obj)
}

func (f *Framework) cached(u *unarchiver, uid plist.UID, class string) func(objc.ID, error) (objc.ID, error) {
	return func(id objc.ID, err error) (objc.ID, error) {
		if err != nil {
			return objc.Nil, err
		}
		u.cache[uid] = id
		Logger().Debug("object decoded",
			zap.Uint64("uid", uint64(uid)),
			zap.String("class", class),
			zap.Stringer("id", id))
		return id, nil
	}
}

func (f *Framework) decodeCollection(ctx context.Context, self objc.ID, u *unarchiver, uid plist.UID, name string, obj map[string]any) (objc.ID, error) {
	if u.open[uid] {
		return objc.Nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Value(uint64(uid)).
			Detail("%s contains itself", name).
			Build()
	}
	u.open[uid] = true
	defer delete(u.open, uid)

	items, err := f.decodeList(ctx, self, u, obj["NS.objects"])
	if err != nil {
		return objc.Nil, err
	}
	switch name {
	case foundation.ArrayClass:
		return f.cached(u, uid, name)(f.fd.NewArray(items))
	case foundation.MutableArrayClass:
		return f.cached(u, uid, name)(f.fd.NewMutableArray(items))
	}

	keyIDs, err := f.decodeList(ctx, self, u, obj["NS.keys"])
	if err != nil {
		return objc.Nil, err
	}
	if len(keyIDs) != len(items) {
		return objc.Nil, errors.InvalidInput(errors.PhaseLoad, "archived dictionary has mismatched NS.keys and NS.objects")
	}
	keys := make([]string, len(keyIDs))
	for i, k := range keyIDs {
		if keys[i], err = f.fd.GoString(k); err != nil {
			return objc.Nil, err
		}
	}
	return f.cached(u, uid, name)(f.fd.NewDictionary(ctx, keys, items))
}

func (f *Framework) decodeList(ctx context.Context, self objc.ID, u *unarchiver, v any) ([]objc.ID, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
			Value(v).
			Detail("archived collection is not a list").
			Build()
	}
	out := make([]objc.ID, len(list))
	for i, e := range list {
		id, err := f.decodeValue(ctx, self, u, e)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// instantiate allocates the archived class and sends it initWithCoder:.
// The fresh instance is cached first so that references back to it from
// its own fields resolve to it; if init returns a different object, that
// object replaces it.
func (f *Framework) instantiate(ctx context.Context, self objc.ID, u *unarchiver, uid plist.UID, name string, obj map[string]any) (objc.ID, error) {
	rt := f.env.Objc
	c, ok := rt.Class(name)
	if !ok {
		return objc.Nil, errors.UnresolvedClass(name, UnarchiverClass)
	}
	id, err := rt.SendID(ctx, c.ID(), "alloc")
	if err != nil {
		return objc.Nil, err
	}
	u.cache[uid] = id

	u.stack = append(u.stack, obj)
	res, err := rt.SendID(ctx, id, "initWithCoder:", objc.Words(uint32(self))...)
	u.stack = u.stack[:len(u.stack)-1]
	if err != nil {
		return objc.Nil, err
	}
	if res.IsNil() {
		delete(u.cache, uid)
		Logger().Debug("initWithCoder: returned nil", zap.String("class", name), zap.Uint64("uid", uint64(uid)))
		return objc.Nil, nil
	}
	return f.cached(u, uid, name)(res, nil)
}

// newValue wraps a plain plist value in the matching Foundation object.
func (f *Framework) newValue(v any) (objc.ID, error) {
	switch x := v.(type) {
	case string:
		return f.fd.String(x)
	case []byte:
		return f.fd.NewData(x)
	case bool:
		if x {
			return f.fd.NewNumber(1)
		}
		return f.fd.NewNumber(0)
	case float64:
		return f.fd.NewFloatNumber(x)
	case float32:
		return f.fd.NewFloatNumber(float64(x))
	}
	if n, ok := Int(v); ok {
		return f.fd.NewNumber(n)
	}
	return objc.Nil, errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
		Value(v).
		Detail("unsupported archived value %T", v).
		Build()
}

func (f *Framework) unarchiverDealloc(ctx context.Context, m *objc.Msg) (uint64, error) {
	u, err := objc.PayloadOf[*unarchiver](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	uids := make([]plist.UID, 0, len(u.cache))
	for uid := range u.cache {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	for _, uid := range uids {
		if err := m.RT.Release(ctx, u.cache[uid]); err != nil {
			return 0, err
		}
	}
	for _, id := range u.loose {
		if err := m.RT.Release(ctx, id); err != nil {
			return 0, err
		}
	}
	u.cache, u.loose = nil, nil
	return m.Super(ctx)
}

// Unarchive opens data as a keyed archive and returns the unarchiver,
// owned by the caller, with delegate set.
func (f *Framework) Unarchive(ctx context.Context, data []byte, delegate objc.ID) (objc.ID, error) {
	rt := f.env.Objc
	c, ok := rt.Class(UnarchiverClass)
	if !ok {
		return objc.Nil, errors.UnresolvedClass(UnarchiverClass, Name)
	}
	dataID, err := f.fd.NewData(data)
	if err != nil {
		return objc.Nil, err
	}
	defer func() { _ = rt.Release(ctx, dataID) }()

	id, err := rt.SendID(ctx, c.ID(), "alloc")
	if err != nil {
		return objc.Nil, err
	}
	if id, err = rt.SendID(ctx, id, "initForReadingWithData:", objc.Words(uint32(dataID))...); err != nil {
		return objc.Nil, err
	}
	if id.IsNil() {
		return objc.Nil, errors.InvalidInput(errors.PhaseLoad, "data is not a keyed archive")
	}
	if _, err := rt.Send(ctx, id, "setDelegate:", objc.Words(uint32(delegate))...); err != nil {
		return objc.Nil, err
	}
	return id, nil
}
