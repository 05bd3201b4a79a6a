package objc

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// object is a side-table entry for a live instance.
type object struct {
	class        *Class
	refs         uint32
	static       bool
	deallocating bool
	gen          uint64
	payload      any
}

type pool struct {
	token PoolToken
	ids   []ID
}

// PoolToken identifies a pushed autorelease pool.
type PoolToken uint64

// WeakRef refers to an object without owning it.
type WeakRef struct {
	ID  ID
	gen uint64
}

// Alloc creates an instance of c with a reference count of one. The isa
// word is written and the payload created; no initializer runs.
func (rt *Runtime) Alloc(c *Class) (ID, error) {
	return rt.alloc(c, false)
}

// AllocStatic creates an instance that is never deallocated and ignores
// retain, release and autorelease, as for constant strings.
func (rt *Runtime) AllocStatic(c *Class) (ID, error) {
	return rt.alloc(c, true)
}

func (rt *Runtime) alloc(c *Class, static bool) (ID, error) {
	size, err := c.InstanceSize()
	if err != nil {
		return Nil, err
	}
	factory, err := c.payloadFactory()
	if err != nil {
		return Nil, err
	}
	addr, err := rt.arena.Alloc(size, 4)
	if err != nil {
		return Nil, err
	}
	if err := mem.Write(rt.arena, addr, uint32(c.id)); err != nil {
		return Nil, err
	}

	rt.gen++
	obj := &object{class: c, refs: 1, static: static, gen: rt.gen}
	if factory != nil {
		obj.payload = factory()
	}
	id := ID(addr)
	rt.objects[id] = obj
	rt.notify(Event{Type: EventAllocated, ID: id, Class: c.name})
	return id, nil
}

func (rt *Runtime) lookupObject(id ID, op string) (*object, error) {
	obj, ok := rt.objects[id]
	if !ok {
		return nil, errors.RefcountViolation(uint32(id), op+" of unknown or deallocated object")
	}
	return obj, nil
}

// IsObject reports whether id is a live instance.
func (rt *Runtime) IsObject(id ID) bool {
	_, ok := rt.objects[id]
	return ok
}

// Live returns the number of live instances.
func (rt *Runtime) Live() int { return len(rt.objects) }

// ClassOf returns the class of an instance or, for a class object, the
// class itself.
func (rt *Runtime) ClassOf(id ID) (*Class, error) {
	if obj, ok := rt.objects[id]; ok {
		return obj.class, nil
	}
	if c, ok := rt.classByID[id]; ok {
		return c, nil
	}
	return nil, errors.New(errors.PhaseObjC, errors.KindNotFound).
		Addr(uint32(id)).
		Detail("not an object").
		Build()
}

// RetainCount returns the reference count of an instance.
func (rt *Runtime) RetainCount(id ID) (uint32, error) {
	if _, ok := rt.classByID[id]; ok {
		return ^uint32(0), nil
	}
	obj, err := rt.lookupObject(id, "retainCount")
	if err != nil {
		return 0, err
	}
	if obj.static {
		return ^uint32(0), nil
	}
	return obj.refs, nil
}

// Payload returns the host state of an instance.
func (rt *Runtime) Payload(id ID) (any, error) {
	obj, ok := rt.objects[id]
	if !ok {
		return nil, errors.New(errors.PhaseObjC, errors.KindNotFound).
			Addr(uint32(id)).
			Detail("no payload for non-object").
			Build()
	}
	return obj.payload, nil
}

// SetPayload replaces the host state of an instance.
func (rt *Runtime) SetPayload(id ID, v any) error {
	obj, ok := rt.objects[id]
	if !ok {
		return errors.New(errors.PhaseObjC, errors.KindNotFound).
			Addr(uint32(id)).
			Detail("no payload for non-object").
			Build()
	}
	obj.payload = v
	return nil
}

// PayloadOf returns the host state of id as T.
func PayloadOf[T any](rt *Runtime, id ID) (T, error) {
	var zero T
	v, err := rt.Payload(id)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.New(errors.PhaseObjC, errors.KindTypeMismatch).
			Addr(uint32(id)).
			Detail("payload is %T, want %T", v, zero).
			Build()
	}
	return t, nil
}

func (rt *Runtime) isStatic(id ID) bool {
	if _, ok := rt.classByID[id]; ok {
		return true
	}
	obj, ok := rt.objects[id]
	return ok && obj.static
}

// Retain increments the reference count. Retaining nil is a no-op.
func (rt *Runtime) Retain(id ID) error {
	if id.IsNil() || rt.isStatic(id) {
		return nil
	}
	obj, err := rt.lookupObject(id, "retain")
	if err != nil {
		return err
	}
	if obj.deallocating {
		return errors.RefcountViolation(uint32(id), "retain during dealloc")
	}
	obj.refs++
	return nil
}

// Release decrements the reference count. At zero the object is sent
// dealloc and then destroyed; destruction happens exactly once whether or
// not the dealloc chain reaches Destroy itself.
func (rt *Runtime) Release(ctx context.Context, id ID) error {
	if id.IsNil() || rt.isStatic(id) {
		return nil
	}
	obj, err := rt.lookupObject(id, "release")
	if err != nil {
		return err
	}
	if obj.deallocating {
		return errors.RefcountViolation(uint32(id), "release during dealloc")
	}
	obj.refs--
	if obj.refs > 0 {
		return nil
	}

	obj.deallocating = true
	_, owner, err := obj.class.lookup("dealloc", false)
	if err != nil {
		return err
	}
	if owner != nil {
		if _, err := rt.Send(ctx, id, "dealloc"); err != nil {
			return err
		}
	}
	if cur, ok := rt.objects[id]; ok && cur == obj {
		return rt.destroy(id, obj)
	}
	return nil
}

// Destroy removes an instance whose dealloc is running and frees its
// storage. Root dealloc implementations call it; calling it for an object
// that is not deallocating is a refcount violation.
func (rt *Runtime) Destroy(id ID) error {
	obj, err := rt.lookupObject(id, "destroy")
	if err != nil {
		return err
	}
	if !obj.deallocating {
		return errors.RefcountViolation(uint32(id), fmt.Sprintf("destroy with %d outstanding references", obj.refs))
	}
	return rt.destroy(id, obj)
}

func (rt *Runtime) destroy(id ID, obj *object) error {
	delete(rt.objects, id)
	if err := rt.arena.Free(id.Addr()); err != nil {
		return err
	}
	Logger().Debug("object deallocated", zap.Stringer("id", id), zap.String("class", obj.class.name))
	rt.notify(Event{Type: EventDeallocated, ID: id, Class: obj.class.name})
	return nil
}

// Autorelease defers one release to the innermost pool. With no pool in
// place the object would leak, which is reported as a violation.
func (rt *Runtime) Autorelease(id ID) (ID, error) {
	if id.IsNil() || rt.isStatic(id) {
		return id, nil
	}
	if _, err := rt.lookupObject(id, "autorelease"); err != nil {
		return Nil, err
	}
	if len(rt.pools) == 0 {
		return Nil, errors.RefcountViolation(uint32(id), "autorelease with no pool in place")
	}
	top := rt.pools[len(rt.pools)-1]
	top.ids = append(top.ids, id)
	return id, nil
}

// PushPool starts a new innermost autorelease pool.
func (rt *Runtime) PushPool() PoolToken {
	rt.poolSeq++
	rt.pools = append(rt.pools, &pool{token: PoolToken(rt.poolSeq)})
	return PoolToken(rt.poolSeq)
}

// PopPool releases every object in the innermost pool, once per
// autorelease, and removes the pool. token must name the innermost pool.
func (rt *Runtime) PopPool(ctx context.Context, token PoolToken) error {
	if len(rt.pools) == 0 {
		return errors.RefcountViolation(0, "pop with no pool in place")
	}
	top := rt.pools[len(rt.pools)-1]
	if top.token != token {
		return errors.RefcountViolation(0, fmt.Sprintf("pop of pool %d while pool %d is innermost", token, top.token))
	}
	rt.pools = rt.pools[:len(rt.pools)-1]
	for _, id := range top.ids {
		if err := rt.Release(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// InnermostPool returns the token of the innermost pool, zero when none.
func (rt *Runtime) InnermostPool() PoolToken {
	if len(rt.pools) == 0 {
		return 0
	}
	return rt.pools[len(rt.pools)-1].token
}

// PoolDepth returns the number of pools in place.
func (rt *Runtime) PoolDepth() int { return len(rt.pools) }

// Weak creates a weak reference to id.
func (rt *Runtime) Weak(id ID) WeakRef {
	obj, ok := rt.objects[id]
	if !ok {
		return WeakRef{}
	}
	return WeakRef{ID: id, gen: obj.gen}
}

// Load returns the referenced object if that same allocation is still
// live, Nil otherwise. It never changes reference counts.
func (rt *Runtime) Load(w WeakRef) ID {
	obj, ok := rt.objects[w.ID]
	if !ok || obj.gen != w.gen || obj.deallocating {
		return Nil
	}
	return w.ID
}
