package foundation

import (
	"bytes"
	"context"
	"math"
	"testing"
	"testing/fstest"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/engine"
	rterrors "github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/loader"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
	"github.com/wippyai/hle-runtime/runtime"
)

type fixture struct {
	env *runtime.Environment
	eng *engine.Script
	fw  *Foundation
	out *bytes.Buffer
}

func newFixture(t *testing.T, bundle fstest.MapFS) *fixture {
	t.Helper()
	cfg := runtime.DefaultConfig()
	cfg.ArenaSize = 1 << 20
	arena, err := mem.New(cfg.ArenaSize)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	eng := engine.NewScript(arena)
	if bundle == nil {
		bundle = fstest.MapFS{}
	}
	env, err := runtime.New(cfg, eng, arena, bundle)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	fw := New()
	out := &bytes.Buffer{}
	fw.SetOutput(out)
	if err := env.Install(fw); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := env.Objc.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return &fixture{env: env, eng: eng, fw: fw, out: out}
}

func (fx *fixture) class(t *testing.T, name string) *objc.Class {
	t.Helper()
	c, ok := fx.env.Objc.Class(name)
	if !ok {
		t.Fatalf("class %s not registered", name)
	}
	return c
}

func (fx *fixture) stub(t *testing.T, name string) mem.Addr {
	t.Helper()
	addr, err := fx.env.Linker.FuncAddr(name)
	if err != nil {
		t.Fatalf("FuncAddr(%s): %v", name, err)
	}
	return addr
}

func (fx *fixture) sel(t *testing.T, s objc.Sel) uint32 {
	t.Helper()
	addr, err := fx.env.Objc.SelAddr(s)
	if err != nil {
		t.Fatalf("SelAddr: %v", err)
	}
	return uint32(addr)
}

// guestCall calls a stub the way compiled guest code would, with the given
// argument types laid out in registers and on the stack.
func (fx *fixture) guestCall(t *testing.T, target mem.Addr, types []api.ValueType, args ...uint64) (uint32, uint32) {
	t.Helper()
	sp := fx.eng.RegRead(bridge.SP)
	defer fx.eng.RegWrite(bridge.SP, sp)
	if err := bridge.WriteArgs(fx.eng, fx.env.Arena, types, args); err != nil {
		t.Fatalf("WriteArgs: %v", err)
	}
	if err := fx.eng.Call(context.Background(), target); err != nil {
		t.Fatalf("guest call: %v", err)
	}
	return fx.eng.RegRead(bridge.R0), fx.eng.RegRead(bridge.R1)
}

func words(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI32
	}
	return out
}

func TestInstall_Twice(t *testing.T) {
	fx := newFixture(t, nil)
	if err := fx.fw.Install(fx.env); !rterrors.IsKind(err, rterrors.KindConflict) {
		t.Errorf("second install err = %v", err)
	}
}

func TestStrings(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc

	s, err := fx.fw.String("a\U0001F600b")
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if n, _ := rt.Send(ctx, s, "length"); n != 4 {
		t.Errorf("length = %d, want 4 UTF-16 units", n)
	}
	c, _ := rt.ClassOf(s)
	if !c.IsSubclassOf(fx.class(t, StringClass)) {
		t.Errorf("%s is not an NSString", c.Name())
	}

	other, _ := fx.fw.String("a\U0001F600b")
	if eq, _ := rt.Send(ctx, s, "isEqualToString:", objc.Words(uint32(other))...); eq != 1 {
		t.Errorf("equal contents compare unequal")
	}
	h1, _ := rt.Send(ctx, s, "hash")
	h2, _ := rt.Send(ctx, other, "hash")
	if h1 != h2 {
		t.Errorf("hash differs for equal strings")
	}
	num, _ := fx.fw.NewNumber(1)
	if eq, _ := rt.Send(ctx, s, "isEqual:", objc.Words(uint32(num))...); eq != 0 {
		t.Errorf("string equal to a number")
	}

	buf, _ := fx.env.Arena.Alloc(16, 4)
	if ok, _ := rt.Send(ctx, s, "getCString:maxLength:encoding:", objc.Words(uint32(buf), 4, NSUTF8StringEncoding)...); ok != 0 {
		t.Errorf("getCString into a short buffer succeeded")
	}
	if ok, _ := rt.Send(ctx, s, "getCString:maxLength:encoding:", objc.Words(uint32(buf), 16, NSUTF8StringEncoding)...); ok != 1 {
		t.Fatalf("getCString failed")
	}
	if got, _ := fx.env.Arena.CStrAt(buf); got != "a\U0001F600b" {
		t.Errorf("getCString wrote %q", got)
	}
	if ok, _ := rt.Send(ctx, s, "getCString:maxLength:encoding:", objc.Words(uint32(buf), 16, NSASCIIStringEncoding)...); ok != 0 {
		t.Errorf("non-ASCII string converted to ASCII")
	}

	utf8, err := rt.Send(ctx, s, "UTF8String")
	if err != nil {
		t.Fatalf("UTF8String: %v", err)
	}
	if got, _ := fx.env.Arena.CStrAt(mem.Addr(utf8)); got != "a\U0001F600b" {
		t.Errorf("UTF8String = %q", got)
	}

	inUse := fx.env.Arena.InUse()
	if err := rt.Release(ctx, s); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rt.IsObject(s) || fx.env.Arena.InUse() >= inUse {
		t.Errorf("string storage not reclaimed")
	}
}

func TestStrings_InitFromGuestBytes(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc
	nsString := fx.class(t, StringClass)

	cstr, _ := fx.env.Arena.AllocCStr("guest")
	id, err := rt.SendID(ctx, nsString.ID(), "alloc")
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if c, _ := rt.ClassOf(id); c.Name() != stringImplClass {
		t.Errorf("NSString alloc produced %s", c.Name())
	}
	id, err = rt.SendID(ctx, id, "initWithCString:encoding:", objc.Words(uint32(cstr), NSUTF8StringEncoding)...)
	if err != nil {
		t.Fatalf("initWithCString: %v", err)
	}
	if got, _ := fx.fw.GoString(id); got != "guest" {
		t.Errorf("string = %q", got)
	}

	bad, _ := fx.env.Arena.Alloc(2, 1)
	_ = fx.env.Arena.WriteBytes(bad, []byte{0xC3, 0x28})
	fresh, _ := rt.SendID(ctx, nsString.ID(), "alloc")
	_, err = rt.Send(ctx, fresh, "initWithBytes:length:encoding:", objc.Words(uint32(bad), 2, NSUTF8StringEncoding)...)
	if !rterrors.IsKind(err, rterrors.KindInvalidInput) {
		t.Errorf("invalid UTF-8 err = %v", err)
	}
}

func TestStaticString(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc

	a, err := fx.fw.StaticString("UINibObjectsKey")
	if err != nil {
		t.Fatalf("StaticString: %v", err)
	}
	b, _ := fx.fw.StaticString("UINibObjectsKey")
	if a != b {
		t.Errorf("pool returned two objects for one string")
	}
	for i := 0; i < 3; i++ {
		if _, err := rt.Send(ctx, a, "release"); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if !rt.IsObject(a) {
		t.Errorf("static string deallocated")
	}
	if got, _ := rt.Send(ctx, a, "autorelease"); objc.ID(got) != a {
		t.Errorf("autorelease returned %#x", got)
	}
	if rt.PoolDepth() != 0 {
		t.Errorf("static autorelease touched the pool stack")
	}
}

func TestMsgSend_FromGuest(t *testing.T) {
	fx := newFixture(t, nil)
	rt := fx.env.Objc
	msgSend := fx.stub(t, "_objc_msgSend")

	// Host method, word result.
	s, _ := fx.fw.String("hello")
	r0, _ := fx.guestCall(t, msgSend, words(2), uint64(s), uint64(fx.sel(t, "length")))
	if r0 != 5 {
		t.Errorf("length via objc_msgSend = %d", r0)
	}

	// Guest method, entered by tail call with the sender's arguments.
	var seenSelf, seenCmd uint32
	twice, _ := fx.eng.Place("twice:", func(_ context.Context, m *engine.Script) error {
		seenSelf, seenCmd = m.Arg(0), m.Arg(1)
		m.RegWrite(bridge.R0, m.Arg(2)*2)
		return nil
	})
	c, err := rt.RegisterClass(objc.ClassDef{
		Name:    "Doubler",
		Super:   ObjectClass,
		Methods: []objc.Method{objc.GuestMethod("twice:", "i12@0:4i8", twice)},
	})
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	obj, _ := rt.Alloc(c)
	cmd := fx.sel(t, "twice:")
	r0, _ = fx.guestCall(t, msgSend, words(3), uint64(obj), uint64(cmd), 21)
	if r0 != 42 || seenSelf != uint32(obj) || seenCmd != cmd {
		t.Errorf("guest IMP got self=%#x cmd=%#x, returned %d", seenSelf, seenCmd, r0)
	}
	if fx.env.Bridge.Depth() != 0 {
		t.Errorf("frames left after tail call: %d", fx.env.Bridge.Depth())
	}

	// Host method, float result in r0.
	num, _ := fx.fw.NewFloatNumber(1.5)
	r0, _ = fx.guestCall(t, msgSend, words(2), uint64(num), uint64(fx.sel(t, "floatValue")))
	if math.Float32frombits(r0) != 1.5 {
		t.Errorf("floatValue bits = %#x", r0)
	}

	// Host method, 64-bit result in r0:r1.
	big, _ := fx.fw.NewNumber(-1 << 40)
	r0, r1 := fx.guestCall(t, msgSend, words(2), uint64(big), uint64(fx.sel(t, "longLongValue")))
	if got := int64(uint64(r1)<<32 | uint64(r0)); got != -1<<40 {
		t.Errorf("longLongValue = %d", got)
	}

	// Messages to nil clear both result registers.
	fx.eng.RegWrite(bridge.R1, 0xDEAD)
	r0, r1 = fx.guestCall(t, msgSend, words(2), 0, uint64(fx.sel(t, "length")))
	if r0 != 0 || r1 != 0 {
		t.Errorf("nil message returned %#x:%#x", r1, r0)
	}
}

func TestMsgSend_Unimplemented(t *testing.T) {
	fx := newFixture(t, nil)
	s, _ := fx.fw.String("x")
	sp := fx.eng.RegRead(bridge.SP)
	defer fx.eng.RegWrite(bridge.SP, sp)
	fx.eng.SetArgs(uint32(s), fx.sel(t, "frobnicate"))
	err := fx.eng.Call(context.Background(), fx.stub(t, "_objc_msgSend"))
	if !rterrors.IsKind(err, rterrors.KindUnimplemented) {
		t.Errorf("err = %v, want unimplemented_selector", err)
	}
}

func TestMsgSendSuper(t *testing.T) {
	fx := newFixture(t, nil)
	rt := fx.env.Objc

	baseValue, _ := fx.eng.Place("Base value", func(_ context.Context, m *engine.Script) error {
		m.RegWrite(bridge.R0, m.Arg(0)+1)
		return nil
	})
	subValue, _ := fx.eng.Place("Sub value", func(_ context.Context, m *engine.Script) error {
		m.RegWrite(bridge.R0, 0)
		return nil
	})
	base, _ := rt.RegisterClass(objc.ClassDef{
		Name: "Base", Super: ObjectClass,
		Methods: []objc.Method{objc.GuestMethod("value", "I8@0:4", baseValue)},
	})
	sub, _ := rt.RegisterClass(objc.ClassDef{
		Name: "Sub", Super: "Base",
		Methods: []objc.Method{objc.GuestMethod("value", "I8@0:4", subValue)},
	})
	if err := rt.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	obj, _ := rt.Alloc(sub)

	super, _ := fx.env.Arena.Alloc(8, 4)
	sel := uint64(fx.sel(t, "value"))

	_ = mem.PtrTo[uint32](super).WriteSlice(fx.env.Arena, []uint32{uint32(obj), uint32(sub.ID())})
	r0, _ := fx.guestCall(t, fx.stub(t, "_objc_msgSendSuper2"), words(2), uint64(super), sel)
	if r0 != uint32(obj)+1 {
		t.Errorf("msgSendSuper2 from Sub = %#x, want Base's result %#x", r0, uint32(obj)+1)
	}

	_ = mem.PtrTo[uint32](super).WriteSlice(fx.env.Arena, []uint32{uint32(obj), uint32(base.ID())})
	r0, _ = fx.guestCall(t, fx.stub(t, "_objc_msgSendSuper"), words(2), uint64(super), sel)
	if r0 != uint32(obj)+1 {
		t.Errorf("msgSendSuper at Base = %#x", r0)
	}

	// Host method reached through super, with self restored.
	r0, _ = fx.guestCall(t, fx.stub(t, "_objc_msgSendSuper2"), words(2), uint64(super), uint64(fx.sel(t, "hash")))
	if r0 != uint32(obj) {
		t.Errorf("NSObject hash via super = %#x", r0)
	}
}

func TestMsgSend_StructReturn(t *testing.T) {
	fx := newFixture(t, nil)
	rt := fx.env.Objc
	arena := rt.Arena()
	stret := fx.stub(t, "_objc_msgSend_stret")

	var seen [3]uint32
	frame, _ := fx.eng.Place("Shape frame", func(_ context.Context, m *engine.Script) error {
		seen = [3]uint32{m.Arg(0), m.Arg(1), m.Arg(2)}
		return mem.Write[float32](m.Arena(), mem.Addr(m.Arg(0))+12, 7)
	})
	c, err := rt.RegisterClass(objc.ClassDef{
		Name:  "Shape",
		Super: ObjectClass,
		Methods: []objc.Method{
			objc.GuestMethod("frame", "{CGRect={CGPoint=ff}{CGSize=ff}}8@0:4", frame),
			objc.Fn("sizeScaledBy:", "{CGSize=ff}12@0:4i8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				k := float32(m.Arg(0))
				if err := mem.Write[float32](m.RT.Arena(), m.Ret, 3*k); err != nil {
					return 0, err
				}
				return 0, mem.Write[float32](m.RT.Arena(), m.Ret+4, 4*k)
			}),
		},
	})
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	obj, _ := rt.Alloc(c)
	buf, err := arena.Alloc(16, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	// Guest implementation: tail-called with the buffer still in r0.
	cmd := fx.sel(t, "frame")
	fx.guestCall(t, stret, words(3), uint64(buf), uint64(obj), uint64(cmd))
	if seen != [3]uint32{uint32(buf), uint32(obj), cmd} {
		t.Errorf("guest IMP got r0..r2 = %#x, want %#x %#x %#x", seen, uint32(buf), uint32(obj), cmd)
	}
	if h, _ := mem.Read[float32](arena, buf+12); h != 7 {
		t.Errorf("frame height = %v, want 7", h)
	}

	// Host implementation: the message argument follows the buffer.
	fx.guestCall(t, stret, words(4), uint64(buf), uint64(obj), uint64(fx.sel(t, "sizeScaledBy:")), 2)
	w, _ := mem.Read[float32](arena, buf)
	h, _ := mem.Read[float32](arena, buf+4)
	if w != 6 || h != 8 {
		t.Errorf("sizeScaledBy: = {%v %v}, want {6 8}", w, h)
	}
	if fx.env.Bridge.Depth() != 0 {
		t.Errorf("frames left: %d", fx.env.Bridge.Depth())
	}

	// Messages to nil leave the buffer alone.
	_ = mem.Write[float32](arena, buf, 1)
	fx.guestCall(t, stret, words(3), uint64(buf), 0, uint64(cmd))
	if w, _ := mem.Read[float32](arena, buf); w != 1 {
		t.Errorf("nil stret message wrote %v", w)
	}
}

func TestRuntimeFunctions(t *testing.T) {
	fx := newFixture(t, nil)
	arena := fx.env.Arena

	name, _ := arena.AllocCStr(StringClass)
	r0, _ := fx.guestCall(t, fx.stub(t, "_objc_getClass"), words(1), uint64(name))
	if r0 != uint32(fx.class(t, StringClass).ID()) {
		t.Errorf("objc_getClass = %#x", r0)
	}
	missing, _ := arena.AllocCStr("UIWebView")
	if r0, _ = fx.guestCall(t, fx.stub(t, "_objc_getClass"), words(1), uint64(missing)); r0 != 0 {
		t.Errorf("objc_getClass of unknown class = %#x", r0)
	}

	r0, _ = fx.guestCall(t, fx.stub(t, "_class_getName"), words(1), uint64(fx.class(t, ArrayClass).ID()))
	if got, _ := arena.CStrAt(mem.Addr(r0)); got != ArrayClass {
		t.Errorf("class_getName = %q", got)
	}

	guestSel, _ := arena.AllocCStr("viewDidLoad")
	first, _ := fx.guestCall(t, fx.stub(t, "_sel_registerName"), words(1), uint64(guestSel))
	copySel, _ := arena.AllocCStr("viewDidLoad")
	second, _ := fx.guestCall(t, fx.stub(t, "_sel_registerName"), words(1), uint64(copySel))
	if first != second || first != uint32(guestSel) {
		t.Errorf("sel_registerName not canonical: %#x, %#x", first, second)
	}
}

func TestNSLog(t *testing.T) {
	fx := newFixture(t, nil)
	format, _ := fx.fw.StaticString("%@ has %d items, %s %5.2f %% %x")
	who, _ := fx.fw.String("list")
	cstr, _ := fx.env.Arena.AllocCStr("ok")

	types := []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeF64, api.ValueTypeI32}
	fx.guestCall(t, fx.stub(t, "_NSLog"), types,
		uint64(format), uint64(who), api.EncodeI32(-3), uint64(cstr), api.EncodeF64(2.5), 255)

	if got := fx.out.String(); got != "list has -3 items, ok  2.50 % ff\n" {
		t.Errorf("NSLog wrote %q", got)
	}
}

func TestFormat_Errors(t *testing.T) {
	fx := newFixture(t, nil)
	tests := []struct {
		name   string
		format string
	}{
		{"missing argument", "%d"},
		{"unknown directive", "%y"},
		{"truncated", "50%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.fw.format(context.Background(), tt.format, noArgs{}); err == nil {
				t.Errorf("format(%q) succeeded", tt.format)
			}
		})
	}
}

func TestAutoreleasePool(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc
	poolClass := fx.class(t, AutoreleasePoolClass)

	pool, err := rt.SendID(ctx, poolClass.ID(), "new")
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if rt.PoolDepth() != 1 {
		t.Fatalf("pool depth = %d", rt.PoolDepth())
	}

	cstr, _ := fx.env.Arena.AllocCStr("temporary")
	s, err := rt.SendID(ctx, fx.class(t, StringClass).ID(), "stringWithUTF8String:", objc.Words(uint32(cstr))...)
	if err != nil {
		t.Fatalf("stringWithUTF8String: %v", err)
	}
	if _, err := rt.Send(ctx, pool, "autorelease"); !rterrors.IsKind(err, rterrors.KindRefcountViolation) {
		t.Errorf("autoreleasing a pool err = %v", err)
	}

	if _, err := rt.Send(ctx, pool, "drain"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if rt.IsObject(s) || rt.IsObject(pool) || rt.PoolDepth() != 0 {
		t.Errorf("after drain: string live %v, pool live %v, depth %d", rt.IsObject(s), rt.IsObject(pool), rt.PoolDepth())
	}

	_, err = rt.Send(ctx, fx.class(t, StringClass).ID(), "stringWithUTF8String:", objc.Words(uint32(cstr))...)
	if !rterrors.IsKind(err, rterrors.KindRefcountViolation) {
		t.Errorf("convenience constructor with no pool err = %v", err)
	}
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc

	arr, err := rt.SendID(ctx, fx.class(t, MutableArrayClass).ID(), "new")
	if err != nil {
		t.Fatalf("new array: %v", err)
	}
	elem, _ := fx.fw.String("element")
	if _, err := rt.Send(ctx, arr, "addObject:", objc.Words(uint32(elem))...); err != nil {
		t.Fatalf("addObject: %v", err)
	}
	if n, _ := rt.RetainCount(elem); n != 2 {
		t.Errorf("element retain count = %d, want 2", n)
	}
	if got, _ := rt.SendID(ctx, arr, "objectAtIndex:", objc.Words(0)...); got != elem {
		t.Errorf("objectAtIndex:0 = %v", got)
	}
	if _, err := rt.Send(ctx, arr, "objectAtIndex:", objc.Words(1)...); !rterrors.IsKind(err, rterrors.KindInvalidInput) {
		t.Errorf("out of range err = %v", err)
	}
	probe, _ := fx.fw.String("element")
	if has, _ := rt.Send(ctx, arr, "containsObject:", objc.Words(uint32(probe))...); has != 1 {
		t.Errorf("containsObject: missed an equal string")
	}
	if _, err := rt.Send(ctx, arr, "addObject:", 0); err == nil {
		t.Errorf("inserting nil succeeded")
	}

	if err := rt.Release(ctx, arr); err != nil {
		t.Fatalf("release array: %v", err)
	}
	if n, _ := rt.RetainCount(elem); n != 1 {
		t.Errorf("element retain count after array dealloc = %d", n)
	}

	val, _ := fx.fw.NewNumber(7)
	dict, err := fx.fw.NewDictionary(ctx, []string{"UIEventMask"}, []objc.ID{val})
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}
	key, _ := fx.fw.String("UIEventMask")
	got, err := rt.SendID(ctx, dict, "objectForKey:", objc.Words(uint32(key))...)
	if err != nil || got != val {
		t.Errorf("objectForKey: = %v, %v", got, err)
	}
	if n, _ := fx.fw.Int(got); n != 7 {
		t.Errorf("value = %d", n)
	}
	absent, _ := fx.fw.String("UILabel")
	if got, _ := rt.SendID(ctx, dict, "objectForKey:", objc.Words(uint32(absent))...); !got.IsNil() {
		t.Errorf("missing key returned %v", got)
	}
}

func TestNumbers(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc
	rt.PushPool()
	numberClass := fx.class(t, NumberClass)

	f, err := rt.SendID(ctx, numberClass.ID(), "numberWithFloat:", api.EncodeF32(2.75))
	if err != nil {
		t.Fatalf("numberWithFloat: %v", err)
	}
	if v, _ := rt.Send(ctx, f, "intValue"); api.DecodeI32(v) != 2 {
		t.Errorf("intValue = %d", api.DecodeI32(v))
	}
	if v, _ := rt.Send(ctx, f, "doubleValue"); api.DecodeF64(v) != 2.75 {
		t.Errorf("doubleValue = %v", api.DecodeF64(v))
	}
	if text, _ := fx.fw.Describe(ctx, f); text != "2.75" {
		t.Errorf("description = %q", text)
	}

	b, _ := rt.SendID(ctx, numberClass.ID(), "numberWithBool:", 1)
	if v, _ := rt.Send(ctx, b, "boolValue"); v != 1 {
		t.Errorf("boolValue = %d", v)
	}
	neg, _ := rt.SendID(ctx, numberClass.ID(), "numberWithInt:", api.EncodeI32(-9))
	if v, _ := rt.Send(ctx, neg, "longLongValue"); int64(v) != -9 {
		t.Errorf("longLongValue = %d", int64(v))
	}
}

func TestBundleAndData(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, fstest.MapFS{
		"MainWindow.nib": {Data: []byte("bplist00")},
	})
	rt := fx.env.Objc
	rt.PushPool()

	bundle, err := rt.SendID(ctx, fx.class(t, BundleClass).ID(), "mainBundle")
	if err != nil {
		t.Fatalf("mainBundle: %v", err)
	}
	again, _ := fx.fw.MainBundle()
	if bundle != again {
		t.Errorf("main bundle is not a singleton")
	}

	name, _ := fx.fw.StaticString("MainWindow")
	ext, _ := fx.fw.StaticString("nib")
	p, err := rt.SendID(ctx, bundle, "pathForResource:ofType:", objc.Words(uint32(name), uint32(ext))...)
	if err != nil {
		t.Fatalf("pathForResource: %v", err)
	}
	if got, _ := fx.fw.GoString(p); got != "/MainWindow.nib" {
		t.Errorf("path = %q", got)
	}

	data, err := rt.SendID(ctx, fx.class(t, DataClass).ID(), "dataWithContentsOfFile:", objc.Words(uint32(p))...)
	if err != nil || data.IsNil() {
		t.Fatalf("dataWithContentsOfFile: %v, %v", data, err)
	}
	if n, _ := rt.Send(ctx, data, "length"); n != 8 {
		t.Errorf("length = %d", n)
	}
	ptr, _ := rt.Send(ctx, data, "bytes")
	if got, _ := fx.env.Arena.ReadBytes(mem.Addr(ptr), 6); string(got) != "bplist" {
		t.Errorf("bytes = %q", got)
	}

	missing, _ := fx.fw.StaticString("/Settings.bundle/Root.plist")
	if got, err := rt.SendID(ctx, fx.class(t, DataClass).ID(), "dataWithContentsOfFile:", objc.Words(uint32(missing))...); err != nil || !got.IsNil() {
		t.Errorf("missing file = %v, %v; want nil", got, err)
	}
	if _, err := fx.fw.ReadResource("../outside"); !rterrors.IsKind(err, rterrors.KindMissingResource) {
		t.Errorf("ReadResource outside bundle err = %v", err)
	}
}

func TestSetValueForKey(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc

	var delegate objc.ID
	c, err := rt.RegisterClass(objc.ClassDef{
		Name:  "Holder",
		Super: ObjectClass,
		Host:  true,
		Methods: []objc.Method{
			objc.Fn("setDelegate:", "v12@0:4@8", func(_ context.Context, m *objc.Msg) (uint64, error) {
				delegate = m.ID(0)
				return 0, nil
			}),
		},
	})
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	holder, _ := rt.Alloc(c)
	value, _ := rt.Alloc(fx.class(t, ObjectClass))
	key, _ := fx.fw.StaticString("delegate")

	if _, err := rt.Send(ctx, holder, "setValue:forKey:", objc.Words(uint32(value), uint32(key))...); err != nil {
		t.Fatalf("setValue:forKey: %v", err)
	}
	if delegate != value {
		t.Errorf("setter received %v", delegate)
	}

	bogus, _ := fx.fw.StaticString("window")
	_, err = rt.Send(ctx, holder, "setValue:forKey:", objc.Words(uint32(value), uint32(bogus))...)
	if !rterrors.IsKind(err, rterrors.KindNotFound) {
		t.Errorf("undefined key err = %v", err)
	}
}

func TestObjectBasics(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	rt := fx.env.Objc
	array := fx.class(t, ArrayClass)
	mutable := fx.class(t, MutableArrayClass)

	obj, err := rt.SendID(ctx, mutable.ID(), "new")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got, _ := rt.SendID(ctx, obj, "class"); got != mutable.ID() {
		t.Errorf("class = %v", got)
	}
	if got, _ := rt.SendID(ctx, mutable.ID(), "superclass"); got != array.ID() {
		t.Errorf("+superclass = %v", got)
	}
	if ok, _ := rt.Send(ctx, obj, "isKindOfClass:", objc.Words(uint32(array.ID()))...); ok != 1 {
		t.Errorf("NSMutableArray instance is not kind of NSArray")
	}
	if ok, _ := rt.Send(ctx, obj, "isMemberOfClass:", objc.Words(uint32(array.ID()))...); ok != 0 {
		t.Errorf("isMemberOfClass: matched the superclass")
	}
	if ok, _ := rt.Send(ctx, obj, "respondsToSelector:", objc.Words(fx.sel(t, "addObject:"))...); ok != 1 {
		t.Errorf("respondsToSelector: addObject: = false")
	}
	if ok, _ := rt.Send(ctx, obj, "respondsToSelector:", objc.Words(fx.sel(t, "setHidden:"))...); ok != 0 {
		t.Errorf("respondsToSelector: setHidden: = true")
	}

	if _, err := rt.Send(ctx, obj, "retain"); err != nil {
		t.Fatalf("retain: %v", err)
	}
	if n, _ := rt.Send(ctx, obj, "retainCount"); n != 2 {
		t.Errorf("retainCount = %d", n)
	}
	_, _ = rt.Send(ctx, obj, "release")
	_, _ = rt.Send(ctx, obj, "release")
	if rt.IsObject(obj) {
		t.Errorf("object survived its last release")
	}
}

func TestExceptionConstants(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	slot, _ := fx.env.Arena.Alloc(4, 4)
	_, err := fx.env.Linker.Link(ctx, []loader.Import{
		{Name: "_NSRangeException", Kind: loader.Data, Slot: slot},
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	cell, _ := mem.Read[uint32](fx.env.Arena, slot)
	id, err := mem.Read[uint32](fx.env.Arena, mem.Addr(cell))
	if err != nil {
		t.Fatalf("reading constant cell: %v", err)
	}
	if got, _ := fx.fw.GoString(objc.ID(id)); got != "NSRangeException" {
		t.Errorf("constant = %q", got)
	}
	if len(exceptionNames) == 0 {
		t.Fatalf("no exception names")
	}
}
