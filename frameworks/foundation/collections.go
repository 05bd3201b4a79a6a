package foundation

import (
	"context"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// arrayPayload holds one reference to each element.
type arrayPayload struct {
	items []objc.ID
}

// dictPayload holds one reference to each key and value. Keys are
// compared by string content and iterate in insertion order.
type dictPayload struct {
	order []string
	keys  map[string]objc.ID
	vals  map[string]objc.ID
}

func newDictPayload() *dictPayload {
	return &dictPayload{keys: make(map[string]objc.ID), vals: make(map[string]objc.ID)}
}

func (f *Foundation) collectionClasses() []objc.ClassDef {
	return []objc.ClassDef{
		{
			Name:    ArrayClass,
			Super:   ObjectClass,
			Host:    true,
			Payload: func() any { return &arrayPayload{} },
			ClassMethods: []objc.Method{
				objc.Fn("array", "@8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
					return f.autoreleased(m.RT.SendID(ctx, m.Self, "new"))
				}),
				objc.Fn("arrayWithObjects:count:", "@16@0:4r^@8I12", f.arrayWithObjects),
			},
			Methods: []objc.Method{
				objc.Fn("count", "I8@0:4", f.arrayCount),
				objc.Fn("objectAtIndex:", "@12@0:4I8", f.objectAtIndex),
				objc.Fn("lastObject", "@8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
					items, err := f.Array(m.Self)
					if err != nil || len(items) == 0 {
						return 0, err
					}
					return ret(items[len(items)-1]), nil
				}),
				objc.Fn("containsObject:", "c12@0:4@8", f.containsObject),
				objc.Fn("dealloc", "v8@0:4", f.arrayDealloc),
			},
		},
		{
			Name:  MutableArrayClass,
			Super: ArrayClass,
			Host:  true,
			Methods: []objc.Method{
				objc.Fn("addObject:", "v12@0:4@8", f.addObject),
				objc.Fn("removeAllObjects", "v8@0:4", f.removeAllObjects),
			},
		},
		{
			Name:    DictionaryClass,
			Super:   ObjectClass,
			Host:    true,
			Payload: func() any { return newDictPayload() },
			ClassMethods: []objc.Method{
				objc.Fn("dictionary", "@8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
					return f.autoreleased(m.RT.SendID(ctx, m.Self, "new"))
				}),
			},
			Methods: []objc.Method{
				objc.Fn("count", "I8@0:4", func(_ context.Context, m *objc.Msg) (uint64, error) {
					d, err := objc.PayloadOf[*dictPayload](m.RT, m.Self)
					if err != nil {
						return 0, err
					}
					return uint64(len(d.order)), nil
				}),
				objc.Fn("objectForKey:", "@12@0:4@8", f.objectForKey),
				objc.Fn("dealloc", "v8@0:4", f.dictDealloc),
			},
		},
		{
			Name:  MutableDictClass,
			Super: DictionaryClass,
			Host:  true,
			Methods: []objc.Method{
				objc.Fn("setObject:forKey:", "v16@0:4@8@12", f.setObjectForKey),
			},
		},
	}
}

func (f *Foundation) arrayWithObjects(ctx context.Context, m *objc.Msg) (uint64, error) {
	words, err := mem.PtrTo[uint32](mem.Addr(m.Arg(0))).ReadSlice(m.RT.Arena(), m.Arg(1))
	if err != nil {
		return 0, err
	}
	c, ok := m.RT.ClassByID(m.Self)
	if !ok {
		return 0, errors.InvalidInput(errors.PhaseHost, "arrayWithObjects:count: sent to an instance")
	}
	items := make([]objc.ID, len(words))
	for i, w := range words {
		items[i] = objc.ID(w)
	}
	return f.autoreleased(f.newArrayOf(c, items))
}

func (f *Foundation) arrayCount(_ context.Context, m *objc.Msg) (uint64, error) {
	items, err := f.Array(m.Self)
	return uint64(len(items)), err
}

func (f *Foundation) objectAtIndex(_ context.Context, m *objc.Msg) (uint64, error) {
	items, err := f.Array(m.Self)
	if err != nil {
		return 0, err
	}
	i := m.Arg(0)
	if int(i) >= len(items) {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Selector(string(m.Sel)).
			Addr(uint32(m.Self)).
			Detail("NSRangeException: index %d beyond bounds [0 .. %d)", i, len(items)).
			Build()
	}
	return ret(items[i]), nil
}

func (f *Foundation) containsObject(ctx context.Context, m *objc.Msg) (uint64, error) {
	items, err := f.Array(m.Self)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		eq, err := m.RT.Send(ctx, it, "isEqual:", objc.Words(uint32(m.ID(0)))...)
		if err != nil {
			return 0, err
		}
		if eq != 0 {
			return 1, nil
		}
	}
	return 0, nil
}

func (f *Foundation) addObject(_ context.Context, m *objc.Msg) (uint64, error) {
	p, err := objc.PayloadOf[*arrayPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	obj := m.ID(0)
	if obj.IsNil() {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Selector(string(m.Sel)).
			Detail("NSInvalidArgumentException: attempt to insert nil").
			Build()
	}
	if err := m.RT.Retain(obj); err != nil {
		return 0, err
	}
	p.items = append(p.items, obj)
	return 0, nil
}

func (f *Foundation) removeAllObjects(ctx context.Context, m *objc.Msg) (uint64, error) {
	p, err := objc.PayloadOf[*arrayPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	items := p.items
	p.items = nil
	return 0, releaseAll(ctx, m.RT, items)
}

func (f *Foundation) arrayDealloc(ctx context.Context, m *objc.Msg) (uint64, error) {
	if _, err := f.removeAllObjects(ctx, m); err != nil {
		return 0, err
	}
	return m.Super(ctx)
}

func (f *Foundation) objectForKey(_ context.Context, m *objc.Msg) (uint64, error) {
	d, err := objc.PayloadOf[*dictPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	key, err := f.GoString(m.ID(0))
	if err != nil {
		return 0, err
	}
	return ret(d.vals[key]), nil
}

func (f *Foundation) setObjectForKey(ctx context.Context, m *objc.Msg) (uint64, error) {
	d, err := objc.PayloadOf[*dictPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	obj, keyID := m.ID(0), m.ID(1)
	if obj.IsNil() || keyID.IsNil() {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Selector(string(m.Sel)).
			Detail("NSInvalidArgumentException: nil key or value").
			Build()
	}
	key, err := f.GoString(keyID)
	if err != nil {
		return 0, err
	}
	return 0, f.dictSet(ctx, d, key, keyID, obj)
}

func (f *Foundation) dictSet(ctx context.Context, d *dictPayload, key string, keyID, obj objc.ID) error {
	rt := f.rt()
	if err := rt.Retain(obj); err != nil {
		return err
	}
	if old, ok := d.vals[key]; ok {
		d.vals[key] = obj
		return rt.Release(ctx, old)
	}
	if err := rt.Retain(keyID); err != nil {
		return err
	}
	d.order = append(d.order, key)
	d.keys[key] = keyID
	d.vals[key] = obj
	return nil
}

func (f *Foundation) dictDealloc(ctx context.Context, m *objc.Msg) (uint64, error) {
	d, err := objc.PayloadOf[*dictPayload](m.RT, m.Self)
	if err != nil {
		return 0, err
	}
	for _, k := range d.order {
		if err := releaseAll(ctx, m.RT, []objc.ID{d.vals[k], d.keys[k]}); err != nil {
			return 0, err
		}
	}
	d.order = nil
	clear(d.keys)
	clear(d.vals)
	return m.Super(ctx)
}

func releaseAll(ctx context.Context, rt *objc.Runtime, ids []objc.ID) error {
	for _, id := range ids {
		if err := rt.Release(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *Foundation) newArrayOf(c *objc.Class, items []objc.ID) (objc.ID, error) {
	id, err := f.rt().Alloc(c)
	if err != nil {
		return objc.Nil, err
	}
	p, err := objc.PayloadOf[*arrayPayload](f.rt(), id)
	if err != nil {
		return objc.Nil, err
	}
	for _, it := range items {
		if err := f.rt().Retain(it); err != nil {
			return objc.Nil, err
		}
	}
	p.items = append(p.items, items...)
	return id, nil
}

// NewArray creates an NSArray retaining items. The caller owns the array.
func (f *Foundation) NewArray(items []objc.ID) (objc.ID, error) {
	c, err := f.class(ArrayClass)
	if err != nil {
		return objc.Nil, err
	}
	return f.newArrayOf(c, items)
}

// NewMutableArray creates an NSMutableArray retaining items.
func (f *Foundation) NewMutableArray(items []objc.ID) (objc.ID, error) {
	c, err := f.class(MutableArrayClass)
	if err != nil {
		return objc.Nil, err
	}
	return f.newArrayOf(c, items)
}

// Array returns the elements of an NSArray without retaining them.
func (f *Foundation) Array(id objc.ID) ([]objc.ID, error) {
	p, err := objc.PayloadOf[*arrayPayload](f.rt(), id)
	if err != nil {
		return nil, err
	}
	return p.items, nil
}

// NewDictionary creates an NSDictionary mapping keys[i] to vals[i]. The
// caller owns the dictionary.
func (f *Foundation) NewDictionary(ctx context.Context, keys []string, vals []objc.ID) (objc.ID, error) {
	if len(keys) != len(vals) {
		return objc.Nil, errors.InvalidInput(errors.PhaseHost, "dictionary keys and values differ in length")
	}
	c, err := f.class(DictionaryClass)
	if err != nil {
		return objc.Nil, err
	}
	id, err := f.rt().Alloc(c)
	if err != nil {
		return objc.Nil, err
	}
	d, err := objc.PayloadOf[*dictPayload](f.rt(), id)
	if err != nil {
		return objc.Nil, err
	}
	for i, k := range keys {
		keyID, err := f.StaticString(k)
		if err != nil {
			return objc.Nil, err
		}
		if err := f.dictSet(ctx, d, k, keyID, vals[i]); err != nil {
			return objc.Nil, err
		}
	}
	return id, nil
}
