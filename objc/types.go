package objc

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/mem"
)

// ID is an object or class reference: the guest address of its storage.
type ID uint32

// Nil is the null object reference.
const Nil ID = 0

// Addr returns the guest address backing id.
func (id ID) Addr() mem.Addr { return mem.Addr(id) }

// IsNil reports whether id is the null reference.
func (id ID) IsNil() bool { return id == Nil }

func (id ID) String() string { return fmt.Sprintf("<%#08x>", uint32(id)) }

// Sel is an interned selector name. Two selectors are the same message iff
// their names are equal.
type Sel string

// Arity returns the number of arguments the selector takes, one per colon.
func (s Sel) Arity() int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			n++
		}
	}
	return n
}

// HostIMP implements a method in Go.
type HostIMP func(ctx context.Context, m *Msg) (uint64, error)

// IMP is a method implementation: host code or a guest function address.
type IMP struct {
	host  HostIMP
	guest mem.Addr
}

// HostImpl wraps a Go method body.
func HostImpl(fn HostIMP) IMP { return IMP{host: fn} }

// GuestImpl refers to guest code at addr.
func GuestImpl(addr mem.Addr) IMP { return IMP{guest: addr} }

// IsHost reports whether the implementation is Go code.
func (i IMP) IsHost() bool { return i.host != nil }

// Host returns the Go body, nil for guest implementations.
func (i IMP) Host() HostIMP { return i.host }

// Guest returns the guest entry address, mem.Null for host implementations.
func (i IMP) Guest() mem.Addr { return i.guest }

// Method binds a selector to an implementation. Types is the guest type
// encoding ("v12@0:4i8"); when Sig is empty it is derived from Types. Sig
// always includes the implicit self and _cmd parameters.
type Method struct {
	Sel   Sel
	Types string
	Sig   bridge.Signature
	IMP   IMP
	// StructRet is the size of a struct result returned through a hidden
	// pointer passed ahead of self, zero for results in registers. Derived
	// from Types when unset.
	StructRet uint32
}

// Fn declares a host method from its type encoding.
func Fn(sel Sel, types string, fn HostIMP) Method {
	return Method{Sel: sel, Types: types, IMP: HostImpl(fn)}
}

// GuestMethod declares a method implemented by guest code at addr.
func GuestMethod(sel Sel, types string, addr mem.Addr) Method {
	return Method{Sel: sel, Types: types, IMP: GuestImpl(addr)}
}

// ResultType is the method's result value type, I32 when it returns void.
func (m Method) ResultType() api.ValueType {
	if len(m.Sig.Results) == 0 {
		return api.ValueTypeI32
	}
	return m.Sig.Results[0]
}

// ArgTypes returns the parameter types after self and _cmd, and after the
// result pointer for struct returns.
func (m Method) ArgTypes() []api.ValueType {
	skip := m.implicitParams()
	if len(m.Sig.Params) <= skip {
		return nil
	}
	return m.Sig.Params[skip:]
}

func (m Method) implicitParams() int {
	if m.StructRet > 0 {
		return 3
	}
	return 2
}

// PayloadFunc creates the host-side state of a new instance.
type PayloadFunc func() any

// ClassDef describes a class to register.
type ClassDef struct {
	Name  string
	Super string
	// Host marks classes whose behavior is implemented in Go.
	Host bool
	// Payload creates per-instance host state. Instances use the nearest
	// factory found walking up the superclass chain.
	Payload PayloadFunc
	// InstanceSize is the guest storage in bytes, including the isa word.
	// Subclasses get at least their superclass's size.
	InstanceSize uint32
	Methods      []Method
	ClassMethods []Method
}

// Msg is the message a host method is invoked with.
type Msg struct {
	RT   *Runtime
	Self ID
	Sel  Sel
	// Class is the class whose method table matched. Super sends from a host
	// method start above it.
	Class *Class
	// Args are the message arguments after self and _cmd.
	Args []uint64
	// Rest reads variadic arguments when the message came from guest code.
	Rest *bridge.ArgReader
	// Ret is the buffer a struct-returning method writes its result to.
	Ret mem.Addr
}

// Arg returns argument i as a word, zero when absent.
func (m *Msg) Arg(i int) uint32 {
	if i >= len(m.Args) {
		return 0
	}
	return api.DecodeU32(m.Args[i])
}

// ID returns argument i as an object reference.
func (m *Msg) ID(i int) ID { return ID(m.Arg(i)) }

// Super sends the same selector to the superclass implementation.
func (m *Msg) Super(ctx context.Context, args ...uint64) (uint64, error) {
	return m.RT.SendSuper(ctx, m.Class, m.Self, m.Sel, args...)
}

// EventType identifies a lifecycle event.
type EventType uint8

const (
	EventAllocated EventType = iota
	EventDeallocated
	EventClassRegistered
)

func (t EventType) String() string {
	switch t {
	case EventAllocated:
		return "allocated"
	case EventDeallocated:
		return "deallocated"
	case EventClassRegistered:
		return "class_registered"
	}
	return "unknown"
}

// Event describes an object or class lifecycle change.
type Event struct {
	Type  EventType
	ID    ID
	Class string
}

// Observer receives lifecycle events.
type Observer interface {
	OnObjectEvent(Event)
}

// GuestCaller enters guest code. It is satisfied by *bridge.Bridge.
type GuestCaller interface {
	CallGuest(ctx context.Context, addr mem.Addr, sig bridge.Signature, args ...uint64) (uint64, error)
}
