// Package objc implements the guest object model: a class registry with
// lazily resolved superclasses, interned selectors, dynamic message
// dispatch, reference counting and autorelease pools.
//
// Objects and classes are identified by guest addresses. Every instance has
// guest storage whose first word is its class's ID, and a side-table entry
// holding the reference count and an optional host payload. An address that
// is not in the table is not an object.
//
// Method implementations are either host code (HostIMP) or a guest address.
// Guest implementations are entered through a GuestCaller, normally the call
// bridge, with self and _cmd as the first two arguments:
//
//	rt := objc.New(arena, br)
//	counter, _ := rt.RegisterClass(objc.ClassDef{
//	    Name:  "Counter",
//	    Super: "NSObject",
//	    Methods: []objc.Method{
//	        objc.GuestMethod("increment", "v8@0:4", incrementAddr),
//	    },
//	})
//	id, _ := rt.Alloc(counter)
//	_, err := rt.Send(ctx, id, "increment")
//
// When an instance's count reaches zero it is sent dealloc and then removed
// from the table exactly once. Releasing an object again while its dealloc
// runs is a refcount violation, as is autoreleasing with no pool in place.
//
// The runtime is not safe for concurrent use.
package objc
