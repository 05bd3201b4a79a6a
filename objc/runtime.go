package objc

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// classObjectSize is the guest storage of a class object: isa plus reserved
// words so guest code reading a class pointer finds zeroed memory.
const classObjectSize = 16

// Runtime is the object model: class registry, selector table, object side
// table and autorelease pools. It is not safe for concurrent use.
type Runtime struct {
	arena *mem.Arena
	guest GuestCaller

	classes   map[string]*Class
	classByID map[ID]*Class
	order     []*Class

	selAddr map[Sel]mem.Addr
	selAt   map[mem.Addr]Sel

	objects map[ID]*object
	gen     uint64

	pools   []*pool
	poolSeq uint64

	observers []Observer
}

// New creates an empty runtime over arena. guest may be nil until guest
// classes are registered; see SetGuestCaller.
func New(arena *mem.Arena, guest GuestCaller) *Runtime {
	return &Runtime{
		arena:     arena,
		guest:     guest,
		classes:   make(map[string]*Class),
		classByID: make(map[ID]*Class),
		selAddr:   make(map[Sel]mem.Addr),
		selAt:     make(map[mem.Addr]Sel),
		objects:   make(map[ID]*object),
	}
}

// SetGuestCaller sets how guest implementations are entered.
func (rt *Runtime) SetGuestCaller(g GuestCaller) { rt.guest = g }

// Arena returns guest memory.
func (rt *Runtime) Arena() *mem.Arena { return rt.arena }

// Subscribe adds an observer for lifecycle events.
func (rt *Runtime) Subscribe(o Observer) {
	rt.observers = append(rt.observers, o)
}

// Unsubscribe removes an observer.
func (rt *Runtime) Unsubscribe(o Observer) {
	for i, obs := range rt.observers {
		if obs == o {
			rt.observers = append(rt.observers[:i], rt.observers[i+1:]...)
			return
		}
	}
}

func (rt *Runtime) notify(e Event) {
	for _, o := range rt.observers {
		o.OnObjectEvent(e)
	}
}

// RegisterClass adds a class. Registering a name again with the same
// superclass and host flag returns the existing class with def's methods
// merged in, replacing same-named selectors; any other difference is a
// conflict. The superclass need not be registered yet.
func (rt *Runtime) RegisterClass(def ClassDef) (*Class, error) {
	if def.Name == "" {
		return nil, errors.InvalidInput(errors.PhaseObjC, "class name is empty")
	}
	if def.Super == def.Name {
		return nil, errors.ClassCycle([]string{def.Name, def.Name})
	}

	c, exists := rt.classes[def.Name]
	if exists && (c.superName != def.Super || c.host != def.Host) {
		return nil, errors.Conflict(errors.PhaseObjC, "class", def.Name,
			"registered with superclass "+quoteOrRoot(c.superName)+", redefined with "+quoteOrRoot(def.Super))
	}
	methods, err := prepareMethods(def.Name, def.Methods)
	if err != nil {
		return nil, err
	}
	cmethods, err := prepareMethods(def.Name, def.ClassMethods)
	if err != nil {
		return nil, err
	}

	if exists {
		if def.Payload != nil {
			c.payload = def.Payload
		}
		if def.InstanceSize > c.size {
			c.size = def.InstanceSize
		}
		c.putMethods(false, methods)
		c.putMethods(true, cmethods)
		return c, nil
	}

	addr, err := rt.arena.Alloc(classObjectSize, 4)
	if err != nil {
		return nil, err
	}
	c = &Class{
		rt:        rt,
		id:        ID(addr),
		name:      def.Name,
		superName: def.Super,
		host:      def.Host,
		payload:   def.Payload,
		size:      def.InstanceSize,
		methods:   newMethodTable(),
		cmethods:  newMethodTable(),
	}
	if err := mem.Write(rt.arena, addr, uint32(addr)); err != nil {
		_ = rt.arena.Free(addr)
		return nil, err
	}
	c.putMethods(false, methods)
	c.putMethods(true, cmethods)

	rt.classes[def.Name] = c
	rt.classByID[c.id] = c
	rt.order = append(rt.order, c)

	Logger().Debug("class registered",
		zap.String("class", def.Name),
		zap.String("super", def.Super),
		zap.Bool("host", def.Host),
		zap.Int("methods", len(def.Methods)+len(def.ClassMethods)))
	rt.notify(Event{Type: EventClassRegistered, ID: c.id, Class: c.name})
	return c, nil
}

func quoteOrRoot(name string) string {
	if name == "" {
		return "none"
	}
	return `"` + name + `"`
}

// AddMethods adds instance methods to a registered class, as a category does.
func (rt *Runtime) AddMethods(class string, methods ...Method) error {
	c, ok := rt.classes[class]
	if !ok {
		return errors.UnresolvedClass(class, "")
	}
	return c.addMethods(false, methods)
}

// AddClassMethods adds class-side methods to a registered class.
func (rt *Runtime) AddClassMethods(class string, methods ...Method) error {
	c, ok := rt.classes[class]
	if !ok {
		return errors.UnresolvedClass(class, "")
	}
	return c.addMethods(true, methods)
}

// Class returns a registered class by name.
func (rt *Runtime) Class(name string) (*Class, bool) {
	c, ok := rt.classes[name]
	return c, ok
}

// ClassByID returns the class whose class object is id.
func (rt *Runtime) ClassByID(id ID) (*Class, bool) {
	c, ok := rt.classByID[id]
	return c, ok
}

// Classes returns all registered classes in registration order.
func (rt *Runtime) Classes() []*Class {
	out := make([]*Class, len(rt.order))
	copy(out, rt.order)
	return out
}

// Finalize resolves every superclass reference. A missing superclass or a
// cycle in the hierarchy is a fatal load-time error.
func (rt *Runtime) Finalize() error {
	names := make([]string, 0, len(rt.classes))
	for name := range rt.classes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := rt.classes[name]
		seen := map[*Class]bool{c: true}
		chain := []string{c.name}
		for cur := c; ; {
			sup, err := cur.Super()
			if err != nil {
				return err
			}
			if sup == nil {
				break
			}
			chain = append(chain, sup.name)
			if seen[sup] {
				return errors.ClassCycle(chain)
			}
			seen[sup] = true
			cur = sup
		}
	}
	return nil
}

// SelAddr returns the guest address of sel's name, allocating the C string
// on first use.
func (rt *Runtime) SelAddr(sel Sel) (mem.Addr, error) {
	if addr, ok := rt.selAddr[sel]; ok {
		return addr, nil
	}
	addr, err := rt.arena.AllocCStr(string(sel))
	if err != nil {
		return mem.Null, err
	}
	rt.selAddr[sel] = addr
	rt.selAt[addr] = sel
	return addr, nil
}

// SelAt reads a selector passed by guest code. Guest selector references
// are C strings; the first address seen for a name becomes its canonical
// address.
func (rt *Runtime) SelAt(addr mem.Addr) (Sel, error) {
	if sel, ok := rt.selAt[addr]; ok {
		return sel, nil
	}
	s, err := rt.arena.CStrAt(addr)
	if err != nil {
		return "", err
	}
	sel := Sel(s)
	rt.selAt[addr] = sel
	if _, ok := rt.selAddr[sel]; !ok {
		rt.selAddr[sel] = addr
	}
	return sel, nil
}
