package objc

import (
	"github.com/wippyai/hle-runtime/errors"
)

// methodTable is an ordered selector→method mapping.
type methodTable struct {
	bySel map[Sel]Method
	order []Sel
}

func newMethodTable() *methodTable {
	return &methodTable{bySel: make(map[Sel]Method)}
}

func (t *methodTable) put(m Method) {
	if _, ok := t.bySel[m.Sel]; !ok {
		t.order = append(t.order, m.Sel)
	}
	t.bySel[m.Sel] = m
}

func (t *methodTable) list() []Method {
	out := make([]Method, 0, len(t.order))
	for _, s := range t.order {
		out = append(out, t.bySel[s])
	}
	return out
}

// Class is a registered class. Its superclass is referenced by name and
// resolved on first use.
type Class struct {
	rt        *Runtime
	id        ID
	name      string
	superName string
	super     *Class
	host      bool
	payload   PayloadFunc
	size      uint32
	methods   *methodTable
	cmethods  *methodTable
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// ID returns the class object's guest reference.
func (c *Class) ID() ID { return c.id }

// SuperName returns the declared superclass name, empty for root classes.
func (c *Class) SuperName() string { return c.superName }

// IsHost reports whether the class is implemented in Go.
func (c *Class) IsHost() bool { return c.host }

// Super resolves and returns the superclass, nil for a root class.
func (c *Class) Super() (*Class, error) {
	if c.superName == "" {
		return nil, nil
	}
	if c.super != nil {
		return c.super, nil
	}
	sup, ok := c.rt.classes[c.superName]
	if !ok {
		return nil, errors.UnresolvedClass(c.superName, c.name)
	}
	c.super = sup
	return sup, nil
}

// Methods returns the instance methods in definition order.
func (c *Class) Methods() []Method { return c.methods.list() }

// ClassMethods returns the class-side methods in definition order.
func (c *Class) ClassMethods() []Method { return c.cmethods.list() }

// Method returns a method defined directly on this class.
func (c *Class) Method(sel Sel, classSide bool) (Method, bool) {
	t := c.methods
	if classSide {
		t = c.cmethods
	}
	m, ok := t.bySel[sel]
	return m, ok
}

func (c *Class) addMethods(classSide bool, methods []Method) error {
	prepared, err := prepareMethods(c.name, methods)
	if err != nil {
		return err
	}
	c.putMethods(classSide, prepared)
	return nil
}

func (c *Class) putMethods(classSide bool, methods []Method) {
	t := c.methods
	if classSide {
		t = c.cmethods
	}
	for _, m := range methods {
		t.put(m)
	}
}

// prepareMethods validates methods declared on class and derives their
// signatures from the type encodings. Nothing is registered on error.
func prepareMethods(class string, methods []Method) ([]Method, error) {
	out := make([]Method, 0, len(methods))
	for _, m := range methods {
		if m.Sel == "" {
			return nil, errors.InvalidInput(errors.PhaseObjC, "method without selector on "+class)
		}
		if len(m.Sig.Params) == 0 && len(m.Sig.Results) == 0 {
			if m.Types != "" {
				sig, err := ParseTypeEncoding(m.Types)
				if err != nil {
					return nil, err
				}
				m.Sig = sig
			} else {
				m.Sig = defaultSig(m.Sel)
			}
		}
		if m.StructRet == 0 && m.Types != "" {
			m.StructRet = StructReturnSize(m.Types)
		}
		if !m.IMP.IsHost() && m.IMP.Guest().IsNull() {
			return nil, errors.New(errors.PhaseObjC, errors.KindInvalidInput).
				Selector(string(m.Sel)).
				Detail("method on %s has no implementation", class).
				Build()
		}
		out = append(out, m)
	}
	return out, nil
}

// walk calls fn for c and each superclass until fn returns true. A chain
// longer than the registry is a cycle.
func (c *Class) walk(fn func(*Class) bool) error {
	limit := len(c.rt.classes) + 1
	chain := make([]string, 0, 4)
	for cur := c; cur != nil; {
		chain = append(chain, cur.name)
		if len(chain) > limit {
			return errors.ClassCycle(chain)
		}
		if fn(cur) {
			return nil
		}
		sup, err := cur.Super()
		if err != nil {
			return err
		}
		cur = sup
	}
	return nil
}

// lookup finds sel starting at c and walking up the chain.
func (c *Class) lookup(sel Sel, classSide bool) (Method, *Class, error) {
	var found Method
	var owner *Class
	err := c.walk(func(k *Class) bool {
		if m, ok := k.Method(sel, classSide); ok {
			found, owner = m, k
			return true
		}
		return false
	})
	return found, owner, err
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	match := false
	_ = c.walk(func(k *Class) bool {
		match = k == other
		return match
	})
	return match
}

// InstanceSize returns the guest storage size of instances, at least one
// word for isa.
func (c *Class) InstanceSize() (uint32, error) {
	size := uint32(4)
	err := c.walk(func(k *Class) bool {
		if k.size > size {
			size = k.size
		}
		return false
	})
	return size, err
}

func (c *Class) payloadFactory() (PayloadFunc, error) {
	var fn PayloadFunc
	err := c.walk(func(k *Class) bool {
		fn = k.payload
		return fn != nil
	})
	return fn, err
}
