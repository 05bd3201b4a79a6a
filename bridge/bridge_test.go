package bridge_test

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/engine"
	rterrors "github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

func newBridge(t *testing.T) (*engine.Script, *bridge.Bridge) {
	t.Helper()
	arena, err := mem.New(0x40000)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	eng := engine.NewScript(arena)
	b, err := bridge.New(eng, arena, bridge.DefaultOptions())
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	return eng, b
}

func TestBridge_GuestCallsHost(t *testing.T) {
	ctx := context.Background()
	eng, b := newBridge(t)

	add, err := b.Register(bridge.Func{
		Name: "add",
		Sig:  bridge.Sig([]api.ValueType{bridge.I32, bridge.I32}, bridge.I32),
		Fn: func(_ context.Context, c *bridge.Call) error {
			c.Return(uint64(c.U32(0) + c.U32(1)))
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var got uint32
	main, _ := eng.Place("main", func(ctx context.Context, m *engine.Script) error {
		m.SetArgs(40, 2)
		if err := m.Call(ctx, add); err != nil {
			return err
		}
		got = m.Arg(0)
		return nil
	})

	if _, err := b.CallGuest(ctx, main, bridge.Sig(nil)); err != nil {
		t.Fatalf("CallGuest: %v", err)
	}
	if got != 42 {
		t.Errorf("add returned %d, want 42", got)
	}
	if b.Depth() != 0 {
		t.Errorf("Depth = %d after return", b.Depth())
	}
}

func TestBridge_WideAndStackedArgs(t *testing.T) {
	ctx := context.Background()
	_, b := newBridge(t)

	sig := bridge.Sig([]api.ValueType{bridge.I32, bridge.I64, bridge.I32, bridge.F64, bridge.F32}, bridge.I64)
	var seen []uint64
	fn, err := b.Register(bridge.Func{
		Name: "mix",
		Sig:  sig,
		Fn: func(_ context.Context, c *bridge.Call) error {
			seen = append([]uint64(nil), c.Args...)
			c.Return(0x1122334455667788)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	args := []uint64{
		7,
		0xAABBCCDD00112233,
		9,
		api.EncodeF64(2.5),
		api.EncodeF32(1.25),
	}
	got, err := b.CallGuest(ctx, fn, sig, args...)
	if err != nil {
		t.Fatalf("CallGuest: %v", err)
	}
	if got != 0x1122334455667788 {
		t.Errorf("result = %#x", got)
	}
	if len(seen) != len(args) {
		t.Fatalf("host saw %d args, want %d", len(seen), len(args))
	}
	for i := range args {
		if seen[i] != args[i] {
			t.Errorf("arg %d = %#x, want %#x", i, seen[i], args[i])
		}
	}
	if api.DecodeF64(seen[3]) != 2.5 || api.DecodeF32(seen[4]) != 1.25 {
		t.Errorf("float args decoded as %v, %v", api.DecodeF64(seen[3]), api.DecodeF32(seen[4]))
	}
}

func TestBridge_GuestSeesAAPCSLayout(t *testing.T) {
	ctx := context.Background()
	eng, b := newBridge(t)

	var r0, r2, r3, s0, s2, s3 uint32
	fn, _ := eng.Place("callee", func(_ context.Context, m *engine.Script) error {
		r0, r2, r3 = m.Arg(0), m.Arg(2), m.Arg(3)
		sp := mem.Addr(m.RegRead(bridge.SP))
		if sp%8 != 0 {
			t.Errorf("SP %s not 8-byte aligned", sp)
		}
		words, err := mem.PtrTo[uint32](sp).ReadSlice(m.Arena(), 4)
		if err != nil {
			return err
		}
		s0, s2, s3 = words[0], words[2], words[3]
		m.RegWrite(bridge.R0, 1)
		return nil
	})

	sig := bridge.Sig([]api.ValueType{bridge.I32, bridge.I64, bridge.I32, bridge.I64}, bridge.I32)
	spBefore := eng.RegRead(bridge.SP)
	if _, err := b.CallGuest(ctx, fn, sig, 1, 0x0000000300000002, 4, 0x0000000600000005); err != nil {
		t.Fatalf("CallGuest: %v", err)
	}
	if r0 != 1 || r2 != 2 || r3 != 3 {
		t.Errorf("registers r0=%d r2=%d r3=%d", r0, r2, r3)
	}
	if s0 != 4 || s2 != 5 || s3 != 6 {
		t.Errorf("stack words %d, _, %d, %d", s0, s2, s3)
	}
	if eng.RegRead(bridge.SP) != spBefore {
		t.Errorf("SP not restored")
	}
}

func TestBridge_ThreeLevelReentrancy(t *testing.T) {
	ctx := context.Background()
	eng, b := newBridge(t)
	sig := bridge.Sig([]api.ValueType{bridge.I32}, bridge.I32)

	var guestLR [3]uint32
	var depths []int

	var level func(n int) mem.Addr
	stubs := map[int]mem.Addr{}
	level = func(n int) mem.Addr {
		addr, err := eng.Place("level", func(ctx context.Context, m *engine.Script) error {
			guestLR[n] = m.RegRead(bridge.LR)
			x := m.Arg(0)
			if n == 2 {
				m.RegWrite(bridge.R0, x*10)
				return nil
			}
			m.SetArgs(x + 1)
			if err := m.Call(ctx, stubs[n]); err != nil {
				return err
			}
			m.RegWrite(bridge.R0, m.Arg(0)+uint32(n))
			return nil
		})
		if err != nil {
			t.Fatalf("Place: %v", err)
		}
		return addr
	}

	guests := []mem.Addr{level(0), level(1), level(2)}
	for n := 0; n < 2; n++ {
		next := guests[n+1]
		stub, err := b.Register(bridge.Func{
			Name: "down",
			Sig:  sig,
			Fn: func(ctx context.Context, c *bridge.Call) error {
				depths = append(depths, c.Bridge().Depth())
				r, err := c.Bridge().CallGuest(ctx, next, sig, c.Args[0])
				if err != nil {
					return err
				}
				c.Return(r)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		stubs[n] = stub
	}

	got, err := b.CallGuest(ctx, guests[0], sig, 1)
	if err != nil {
		t.Fatalf("CallGuest: %v", err)
	}
	// level2 gets 3 and returns 30; level1 adds 1, level0 adds 0.
	if got != 31 {
		t.Errorf("result = %d, want 31", got)
	}
	for n := 0; n < 3; n++ {
		if want := uint32(b.Sentinel(n)); guestLR[n] != want {
			t.Errorf("level %d returned to %#x, want sentinel %#x", n, guestLR[n], want)
		}
	}
	if guestLR[0] == guestLR[1] || guestLR[1] == guestLR[2] {
		t.Errorf("sentinels not distinct: %#x", guestLR)
	}
	if len(depths) != 2 || depths[0] != 2 || depths[1] != 4 {
		t.Errorf("depths seen by host = %v, want [2 4]", depths)
	}
	if b.Depth() != 0 {
		t.Errorf("Depth = %d after unwinding", b.Depth())
	}
}

func TestBridge_TailCall(t *testing.T) {
	ctx := context.Background()
	eng, b := newBridge(t)

	target, _ := eng.Place("impl", func(_ context.Context, m *engine.Script) error {
		m.RegWrite(bridge.R0, m.Arg(0)*m.Arg(1))
		return nil
	})
	dispatch, err := b.Register(bridge.Func{
		Name: "dispatch",
		Sig:  bridge.VariadicSig([]api.ValueType{bridge.I32}),
		Fn: func(_ context.Context, c *bridge.Call) error {
			c.TailCall(target)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sig := bridge.Sig([]api.ValueType{bridge.I32, bridge.I32}, bridge.I32)
	got, err := b.CallGuest(ctx, dispatch, sig, 6, 7)
	if err != nil {
		t.Fatalf("CallGuest: %v", err)
	}
	if got != 42 {
		t.Errorf("tail-called result = %d, want 42", got)
	}
}

func TestBridge_VariadicRest(t *testing.T) {
	ctx := context.Background()
	_, b := newBridge(t)

	var sum uint32
	fn, err := b.Register(bridge.Func{
		Name: "sum",
		Sig:  bridge.VariadicSig([]api.ValueType{bridge.I32}, bridge.I32),
		Fn: func(_ context.Context, c *bridge.Call) error {
			n := c.U32(0)
			for i := uint32(0); i < n; i++ {
				v, err := c.Rest.NextU32()
				if err != nil {
					return err
				}
				sum += v
			}
			c.Return(uint64(sum))
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sig := bridge.VariadicSig([]api.ValueType{bridge.I32}, bridge.I32)
	got, err := b.CallGuest(ctx, fn, sig, 6, 1, 2, 3, 4, 5, 6)
	if err != nil {
		t.Fatalf("CallGuest: %v", err)
	}
	if got != 21 {
		t.Errorf("sum = %d, want 21", got)
	}
}

func TestBridge_Errors(t *testing.T) {
	ctx := context.Background()
	eng, b := newBridge(t)

	t.Run("unknown stub", func(t *testing.T) {
		bogus, _ := eng.Arena().Alloc(4, 4)
		_, err := b.CallGuest(ctx, bogus, bridge.Sig(nil))
		if !rterrors.IsKind(err, rterrors.KindNotFound) {
			t.Errorf("err = %v, want not_found", err)
		}
		if b.Depth() != 0 {
			t.Errorf("Depth = %d after failure", b.Depth())
		}
	})

	t.Run("null target", func(t *testing.T) {
		_, err := b.CallGuest(ctx, mem.Null, bridge.Sig(nil))
		if !rterrors.IsKind(err, rterrors.KindNullDereference) {
			t.Errorf("err = %v, want null_dereference", err)
		}
	})

	t.Run("argument count", func(t *testing.T) {
		fn, _ := eng.Place("f", func(context.Context, *engine.Script) error { return nil })
		_, err := b.CallGuest(ctx, fn, bridge.Sig([]api.ValueType{bridge.I32}), 1, 2)
		if !rterrors.IsKind(err, rterrors.KindInvalidInput) {
			t.Errorf("err = %v, want invalid_input", err)
		}
	})

	t.Run("return to outer sentinel", func(t *testing.T) {
		var inner mem.Addr
		outer, _ := eng.Place("outer", func(ctx context.Context, m *engine.Script) error {
			_, err := b.CallGuest(ctx, inner, bridge.Sig(nil))
			return err
		})
		inner, _ = eng.Place("inner", func(_ context.Context, m *engine.Script) error {
			m.Jump(b.Sentinel(0))
			return nil
		})
		_, err := b.CallGuest(ctx, outer, bridge.Sig(nil))
		if !rterrors.IsKind(err, rterrors.KindEngine) {
			t.Errorf("err = %v, want engine error", err)
		}
	})

	t.Run("host error keeps symbol", func(t *testing.T) {
		fn, _ := b.Register(bridge.Func{
			Name: "fails",
			Sig:  bridge.Sig(nil),
			Fn: func(context.Context, *bridge.Call) error {
				return context.DeadlineExceeded
			},
		})
		_, err := b.CallGuest(ctx, fn, bridge.Sig(nil))
		var rerr *rterrors.Error
		if !asError(err, &rerr) || rerr.Symbol != "fails" {
			t.Errorf("err = %v, want host error naming symbol", err)
		}
	})
}

func asError(err error, target **rterrors.Error) bool {
	for err != nil {
		if e, ok := err.(*rterrors.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
