package objc_test

import (
	"context"
	"testing"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/engine"
	rterrors "github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// newGuestRuntime wires a runtime to a scripted engine through a bridge, so
// guest method implementations run as they would under a real engine.
func newGuestRuntime(t *testing.T) (*objc.Runtime, *engine.Script, *bridge.Bridge) {
	t.Helper()
	arena, err := mem.New(0x40000)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	eng := engine.NewScript(arena)
	br, err := bridge.New(eng, arena, bridge.DefaultOptions())
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	rt := objc.New(arena, br)
	if _, err := rt.RegisterClass(objc.ClassDef{Name: "NSObject", Host: true}); err != nil {
		t.Fatalf("register NSObject: %v", err)
	}
	return rt, eng, br
}

func register(t *testing.T, rt *objc.Runtime, def objc.ClassDef) *objc.Class {
	t.Helper()
	c, err := rt.RegisterClass(def)
	if err != nil {
		t.Fatalf("RegisterClass(%s): %v", def.Name, err)
	}
	if err := rt.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return c
}

func TestCounterScenario(t *testing.T) {
	ctx := context.Background()
	rt, eng, br := newGuestRuntime(t)

	increment, _ := eng.Place("-[Counter increment]", func(_ context.Context, m *engine.Script) error {
		field := mem.PtrTo[uint32](mem.Addr(m.Arg(0)) + 4)
		v, err := field.Read(m.Arena())
		if err != nil {
			return err
		}
		return field.Write(m.Arena(), v+1)
	})
	value, _ := eng.Place("-[Counter value]", func(_ context.Context, m *engine.Script) error {
		v, err := mem.Read[uint32](m.Arena(), mem.Addr(m.Arg(0))+4)
		m.RegWrite(bridge.R0, v)
		return err
	})

	counter := register(t, rt, objc.ClassDef{
		Name:         "Counter",
		Super:        "NSObject",
		InstanceSize: 8,
		Methods: []objc.Method{
			objc.GuestMethod("increment", "v8@0:4", increment),
			objc.GuestMethod("value", "i8@0:4", value),
		},
	})

	id, err := rt.Alloc(counter)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := rt.Send(ctx, id, "increment"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	got, err := rt.Send(ctx, id, "value")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if got != 3 {
		t.Errorf("value = %d, want 3", got)
	}
	if br.Depth() != 0 {
		t.Errorf("bridge depth %d after sends", br.Depth())
	}
}

func TestSend_StructReturn(t *testing.T) {
	ctx := context.Background()
	rt, eng, br := newGuestRuntime(t)
	arena := rt.Arena()

	var self, cmd uint32
	frame, _ := eng.Place("-[View frame]", func(_ context.Context, m *engine.Script) error {
		self, cmd = m.Arg(1), m.Arg(2)
		ret := mem.Addr(m.Arg(0))
		for i, v := range []float32{1, 2, 3, 4} {
			if err := mem.Write(m.Arena(), ret+mem.Addr(4*i), v); err != nil {
				return err
			}
		}
		return nil
	})
	inset, _ := eng.Place("-[View frameInset:]", func(_ context.Context, m *engine.Script) error {
		ret := mem.Addr(m.Arg(0))
		return mem.Write(m.Arena(), ret, m.Arg(3))
	})
	view := register(t, rt, objc.ClassDef{
		Name:  "View",
		Super: "NSObject",
		Methods: []objc.Method{
			objc.GuestMethod("frame", "{CGRect={CGPoint=ff}{CGSize=ff}}8@0:4", frame),
			objc.GuestMethod("frameInset:", "{CGRect=ffff}12@0:4i8", inset),
			objc.Fn("bounds", "{CGRect=ffff}8@0:4", func(ctx context.Context, m *objc.Msg) (uint64, error) {
				// Host to guest and back: bounds is frame at the origin.
				if err := m.RT.SendStruct(ctx, m.Self, "frame", m.Ret); err != nil {
					return 0, err
				}
				return 0, mem.PtrTo[float32](m.Ret).WriteSlice(m.RT.Arena(), []float32{0, 0})
			}),
		},
	})
	id, err := rt.Alloc(view)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	// Send allocates the result block and hands it to the caller.
	v, err := rt.Send(ctx, id, "frame")
	if err != nil {
		t.Fatalf("Send frame: %v", err)
	}
	block := mem.Addr(uint32(v))
	rect, err := mem.PtrTo[float32](block).ReadSlice(arena, 4)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if rect[0] != 1 || rect[3] != 4 {
		t.Errorf("frame = %v", rect)
	}
	sel, _ := rt.SelAddr("frame")
	if self != uint32(id) || cmd != uint32(sel) {
		t.Errorf("guest saw self=%#x cmd=%#x, want %#x %#x", self, cmd, uint32(id), uint32(sel))
	}
	if err := arena.Free(block); err != nil {
		t.Fatalf("Free: %v", err)
	}

	dst, err := arena.Alloc(16, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := rt.SendStruct(ctx, id, "frameInset:", dst, objc.Words(9)...); err != nil {
		t.Fatalf("SendStruct frameInset: %v", err)
	}
	if got, _ := mem.Read[uint32](arena, dst); got != 9 {
		t.Errorf("frameInset: wrote %d, want 9", got)
	}

	if err := rt.SendStruct(ctx, id, "bounds", dst); err != nil {
		t.Fatalf("SendStruct bounds: %v", err)
	}
	bounds, _ := mem.PtrTo[float32](dst).ReadSlice(arena, 4)
	if bounds[0] != 0 || bounds[1] != 0 || bounds[2] != 3 || bounds[3] != 4 {
		t.Errorf("bounds = %v, want [0 0 3 4]", bounds)
	}

	if err := rt.SendStruct(ctx, id, "frame", mem.Null); !rterrors.IsKind(err, rterrors.KindNullDereference) {
		t.Errorf("SendStruct to null err = %v, want null_dereference", err)
	}
	if br.Depth() != 0 {
		t.Errorf("bridge depth %d after sends", br.Depth())
	}
}
