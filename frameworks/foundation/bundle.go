package foundation

import (
	"context"
	"io/fs"
	"path"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

type dataPayload struct {
	b []byte
	// addr is the guest copy handed out by -bytes, freed with the object.
	addr mem.Addr
}

func (f *Foundation) dataClass() objc.ClassDef {
	return objc.ClassDef{
		Name:    DataClass,
		Super:   ObjectClass,
		Host:    true,
		Payload: func() any { return &dataPayload{} },
		ClassMethods: []objc.Method{
			objc.Fn("dataWithContentsOfFile:", "@12@0:4@8", f.dataWithContentsOfFile),
			objc.Fn("dataWithBytes:length:", "@16@0:4r^v8I12", func(_ context.Context, m *objc.Msg) (uint64, error) {
				b, err := m.RT.Arena().ReadBytes(mem.Addr(m.Arg(0)), m.Arg(1))
				if err != nil {
					return 0, err
				}
				return f.autoreleased(f.NewData(b))
			}),
		},
		Methods: []objc.Method{
			objc.Fn("length", "I8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
				b, err := f.Bytes(m.Self)
				return uint64(len(b)), err
			}),
			objc.Fn("bytes", "r^v8@0:4", f.dataBytes),
			objc.Fn("dealloc", "v8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				p, err := objc.PayloadOf[*dataPayload](m.RT, m.Self)
				if err == nil && !p.addr.IsNull() {
					if err := m.RT.Arena().Free(p.addr); err != nil {
						return 0, err
					}
					p.addr = mem.Null
				}
				return m.Super(ctx)
			}),
		},
	}
}

// dataWithContentsOfFile reads a file from the application bundle. As in
// Foundation a missing file yields nil rather than an error.
func (f *Foundation) dataWithContentsOfFile(_ context.Context, m *objc.Msg) (uint64, error) {
	p, err := f.GoString(m.ID(0))
	if err != nil {
		return 0, err
	}
	b, err := f.ReadResource(p)
	if err != nil {
		if errors.IsKind(err, errors.KindMissingResource) {
			Logger().Debug("data file not found", zap.String("path", p))
			return 0, nil
		}
		return 0, err
	}
	return f.autoreleased(f.NewData(b))
}

func (f *Foundation) dataBytes(_ context.Context, m *objc.Msg) (uint64, error) {
	p, err := objc.PayloadOf[*dataPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	if p.addr.IsNull() && len(p.b) > 0 {
		addr, err := m.RT.Arena().Alloc(uint32(len(p.b)), 4)
		if err != nil {
			return 0, err
		}
		if err := m.RT.Arena().WriteBytes(addr, p.b); err != nil {
			return 0, err
		}
		p.addr = addr
	}
	return api.EncodeU32(uint32(p.addr)), nil
}

// NewData creates an NSData holding a copy of b. The caller owns it.
func (f *Foundation) NewData(b []byte) (objc.ID, error) {
	c, err := f.class(DataClass)
	if err != nil {
		return objc.Nil, err
	}
	id, err := f.rt().Alloc(c)
	if err != nil {
		return objc.Nil, err
	}
	return id, f.rt().SetPayload(id, &dataPayload{b: append([]byte(nil), b...)})
}

// Bytes returns the contents of an NSData.
func (f *Foundation) Bytes(id objc.ID) ([]byte, error) {
	p, err := objc.PayloadOf[*dataPayload](f.rt(), id)
	if err != nil {
		return nil, err
	}
	return p.b, nil
}

// bundlePath turns a guest path into a path inside the bundle file system.
// Guest code sees the bundle mounted at "/".
func bundlePath(p string) (string, bool) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		p = "."
	}
	return p, fs.ValidPath(p)
}

// ReadResource reads a file from the application bundle. A file that does
// not exist is a missing_resource error.
func (f *Foundation) ReadResource(p string) ([]byte, error) {
	name, ok := bundlePath(p)
	if !ok || f.env.Bundle == nil {
		return nil, errors.MissingResource("bundle file", p, nil)
	}
	b, err := fs.ReadFile(f.env.Bundle, name)
	if err != nil {
		return nil, errors.MissingResource("bundle file", p, err)
	}
	return b, nil
}

// ResourcePath returns the guest path of name.ext in the bundle, or false
// when there is no such file.
func (f *Foundation) ResourcePath(name, ext string) (string, bool) {
	if ext != "" && path.Ext(name) != "."+ext {
		name += "." + ext
	}
	p, ok := bundlePath(name)
	if !ok || f.env.Bundle == nil {
		return "", false
	}
	if _, err := fs.Stat(f.env.Bundle, p); err != nil {
		return "", false
	}
	return "/" + p, true
}

func (f *Foundation) bundleClass() objc.ClassDef {
	return objc.ClassDef{
		Name:  BundleClass,
		Super: ObjectClass,
		Host:  true,
		ClassMethods: []objc.Method{
			objc.Fn("mainBundle", "@8@0:4", func(context.Context, *objc.Msg) (uint64, error) {
				id, err := f.MainBundle()
				return ret(id), err
			}),
		},
		Methods: []objc.Method{
			objc.Fn("pathForResource:ofType:", "@16@0:4@8@12", f.pathForResource),
			objc.Fn("bundlePath", "@8@0:4", func(context.Context, *objc.Msg) (uint64, error) {
				id, err := f.StaticString("/")
				return ret(id), err
			}),
		},
	}
}

// MainBundle returns the NSBundle for the application bundle.
func (f *Foundation) MainBundle() (objc.ID, error) {
	if !f.mainBundle.IsNil() {
		return f.mainBundle, nil
	}
	c, err := f.class(BundleClass)
	if err != nil {
		return objc.Nil, err
	}
	id, err := f.rt().AllocStatic(c)
	if err != nil {
		return objc.Nil, err
	}
	f.mainBundle = id
	return id, nil
}

func (f *Foundation) pathForResource(_ context.Context, m *objc.Msg) (uint64, error) {
	name, err := f.GoString(m.ID(0))
	if err != nil {
		return 0, err
	}
	var ext string
	if !m.ID(1).IsNil() {
		if ext, err = f.GoString(m.ID(1)); err != nil {
			return 0, err
		}
	}
	p, ok := f.ResourcePath(name, ext)
	if !ok {
		return 0, nil
	}
	return f.autoreleased(f.String(p))
}
