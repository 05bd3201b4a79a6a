package bridge

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// trapWord fills stub and sentinel slots so they never look like valid
// guest instructions (ARM "svc #0").
const trapWord uint32 = 0xEF000000

const (
	stubSize      = 4
	stubChunkSize = 256
)

// HostFunc implements an exported function. Arguments are already decoded;
// results are set through Call.Return.
type HostFunc func(ctx context.Context, call *Call) error

// Func is a host function bound to a stub address.
type Func struct {
	Name string
	Sig  Signature
	Fn   HostFunc
}

// Options configures a Bridge.
type Options struct {
	// StackSize is the guest stack allocated at creation. Zero keeps the
	// engine's current SP.
	StackSize uint32
	// MaxDepth bounds nested host→guest calls.
	MaxDepth int
}

// DefaultOptions returns a 64 KiB stack and a nesting limit of 64.
func DefaultOptions() Options {
	return Options{StackSize: 0x10000, MaxDepth: 64}
}

// FrameKind distinguishes the two directions of a bridge crossing.
type FrameKind int

const (
	// FrameHost is a guest→host call in progress.
	FrameHost FrameKind = iota
	// FrameGuest is a host→guest call in progress.
	FrameGuest
)

func (k FrameKind) String() string {
	if k == FrameGuest {
		return "guest"
	}
	return "host"
}

// Frame records one crossing in progress.
type Frame struct {
	Kind     FrameKind
	Name     string
	Target   mem.Addr
	Sentinel mem.Addr // guest frames only
	ReturnTo mem.Addr // host frames only

	id    uint64
	saved Registers
}

// Bridge moves control between guest code running on an Engine and host
// functions. It is not safe for concurrent use; a guest runs on a single
// logical thread.
type Bridge struct {
	eng   Engine
	arena *mem.Arena
	opts  Options

	stubs     map[mem.Addr]*Func
	stubFree  []mem.Addr
	sentinels mem.Addr
	stackTop  mem.Addr

	frames     []Frame
	guestDepth int
	nextFrame  uint64
}

// New creates a bridge over eng and arena and installs itself as the
// engine's trap handler.
func New(eng Engine, arena *mem.Arena, opts Options) (*Bridge, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultOptions().MaxDepth
	}
	b := &Bridge{
		eng:   eng,
		arena: arena,
		opts:  opts,
		stubs: make(map[mem.Addr]*Func),
	}

	sentinels, err := b.allocTrapWords(uint32(opts.MaxDepth))
	if err != nil {
		return nil, err
	}
	b.sentinels = sentinels

	if opts.StackSize > 0 {
		size := mem.Align(opts.StackSize, 8)
		base, err := arena.Alloc(size, 8)
		if err != nil {
			return nil, err
		}
		b.stackTop = base + mem.Addr(size)
		eng.RegWrite(SP, uint32(b.stackTop))
	}

	eng.SetTrap(b.HandleTrap)
	return b, nil
}

// Engine returns the engine the bridge drives.
func (b *Bridge) Engine() Engine { return b.eng }

// Arena returns the guest memory the bridge reads stacked arguments from.
func (b *Bridge) Arena() *mem.Arena { return b.arena }

func (b *Bridge) allocTrapWords(n uint32) (mem.Addr, error) {
	base, err := b.arena.Alloc(n*stubSize, stubSize)
	if err != nil {
		return mem.Null, err
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = trapWord
	}
	if err := mem.PtrTo[uint32](base).WriteSlice(b.arena, words); err != nil {
		return mem.Null, err
	}
	return base, nil
}

// Register binds fn to a fresh stub address and returns it. Guest code that
// branches to the address traps into fn.
func (b *Bridge) Register(fn Func) (mem.Addr, error) {
	if fn.Fn == nil {
		return mem.Null, errors.InvalidInput(errors.PhaseBridge, "host function "+fn.Name+" has no implementation")
	}
	if len(b.stubFree) == 0 {
		base, err := b.allocTrapWords(stubChunkSize)
		if err != nil {
			return mem.Null, err
		}
		for i := uint32(stubChunkSize); i > 0; i-- {
			b.stubFree = append(b.stubFree, base+mem.Addr((i-1)*stubSize))
		}
	}
	addr := b.stubFree[len(b.stubFree)-1]
	b.stubFree = b.stubFree[:len(b.stubFree)-1]
	f := fn
	b.stubs[addr] = &f
	Logger().Debug("stub registered",
		zap.String("symbol", fn.Name),
		zap.Stringer("addr", addr),
		zap.Stringer("sig", fn.Sig))
	return addr, nil
}

// Lookup returns the host function bound at a stub address.
func (b *Bridge) Lookup(addr mem.Addr) (Func, bool) {
	f, ok := b.stubs[addr]
	if !ok {
		return Func{}, false
	}
	return *f, true
}

// IsStub reports whether addr is a registered stub.
func (b *Bridge) IsStub(addr mem.Addr) bool {
	_, ok := b.stubs[addr]
	return ok
}

// Depth returns the number of crossings in progress.
func (b *Bridge) Depth() int { return len(b.frames) }

// Frames returns the crossings in progress, outermost first.
func (b *Bridge) Frames() []Frame {
	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

func (b *Bridge) push(f Frame) uint64 {
	b.nextFrame++
	f.id = b.nextFrame
	b.frames = append(b.frames, f)
	if f.Kind == FrameGuest {
		b.guestDepth++
	}
	return f.id
}

func (b *Bridge) pop(id uint64) (Frame, error) {
	if len(b.frames) == 0 {
		return Frame{}, errors.New(errors.PhaseBridge, errors.KindEngine).
			Detail("call stack underflow").
			Build()
	}
	top := b.frames[len(b.frames)-1]
	if top.id != id {
		return top, errors.New(errors.PhaseBridge, errors.KindEngine).
			Symbol(top.Name).
			Addr(uint32(top.Target)).
			Detail("mismatched call stack unwinding at depth %d", len(b.frames)).
			Build()
	}
	b.frames = b.frames[:len(b.frames)-1]
	if top.Kind == FrameGuest {
		b.guestDepth--
	}
	return top, nil
}

func (b *Bridge) sentinelIndex(addr mem.Addr) (int, bool) {
	if addr < b.sentinels || addr >= b.sentinels+mem.Addr(b.opts.MaxDepth*stubSize) {
		return 0, false
	}
	off := uint32(addr - b.sentinels)
	if off%stubSize != 0 {
		return 0, false
	}
	return int(off / stubSize), true
}

// Sentinel returns the return address used for host→guest calls at the
// given nesting depth.
func (b *Bridge) Sentinel(depth int) mem.Addr {
	return b.sentinels + mem.Addr(depth*stubSize)
}

// HandleTrap services a guest branch to a stub address. It is installed as
// the engine's TrapFunc by New.
func (b *Bridge) HandleTrap(ctx context.Context, addr mem.Addr) error {
	if depth, ok := b.sentinelIndex(addr); ok {
		return errors.New(errors.PhaseBridge, errors.KindEngine).
			Addr(uint32(addr)).
			Detail("guest returned to sentinel of depth %d while %d guest calls are active", depth, b.guestDepth).
			Build()
	}
	f, ok := b.stubs[addr]
	if !ok {
		return errors.New(errors.PhaseBridge, errors.KindNotFound).
			Addr(uint32(addr)).
			Detail("no host function bound to stub").
			Build()
	}

	lr := mem.Addr(b.eng.RegRead(LR))
	rd := newArgReader(b.eng, b.arena)
	args := make([]uint64, len(f.Sig.Params))
	for i, t := range f.Sig.Params {
		v, err := rd.Next(t)
		if err != nil {
			return err
		}
		args[i] = v
	}

	call := &Call{Name: f.Name, Args: args, bridge: b, sig: f.Sig}
	if f.Sig.Variadic {
		call.Rest = rd
	}

	id := b.push(Frame{Kind: FrameHost, Name: f.Name, Target: addr, ReturnTo: lr})
	err := f.Fn(ctx, call)
	if _, perr := b.pop(id); perr != nil {
		return perr
	}
	if err != nil {
		var rerr *errors.Error
		if stderrors.As(err, &rerr) {
			return err
		}
		return errors.New(errors.PhaseHost, errors.KindEngine).
			Symbol(f.Name).
			Addr(uint32(addr)).
			Cause(err).
			Build()
	}

	if call.tail != mem.Null {
		b.eng.RegWrite(PC, uint32(call.tail))
		return nil
	}
	if call.hasResult {
		WriteResult(b.eng, call.resultType, call.result)
	}
	b.eng.RegWrite(PC, uint32(lr))
	return nil
}

// CallGuest calls guest code at target with args encoded per sig and returns
// the raw result bits (zero when sig has no results). Calls nest: a guest
// function may call back into the host, which may call the guest again.
func (b *Bridge) CallGuest(ctx context.Context, target mem.Addr, sig Signature, args ...uint64) (uint64, error) {
	if target.IsNull() {
		return 0, errors.NullDereference(uint32(target))
	}
	if len(args) < len(sig.Params) || (!sig.Variadic && len(args) > len(sig.Params)) {
		return 0, errors.New(errors.PhaseBridge, errors.KindInvalidInput).
			Addr(uint32(target)).
			Detail("call with %d arguments to %s", len(args), sig).
			Build()
	}
	if b.guestDepth >= b.opts.MaxDepth {
		return 0, errors.New(errors.PhaseBridge, errors.KindOverflow).
			Addr(uint32(target)).
			Detail("guest call nesting exceeds %d", b.opts.MaxDepth).
			Build()
	}

	types := sig.Params
	if len(args) > len(types) {
		types = append(append([]api.ValueType(nil), types...), make([]api.ValueType, len(args)-len(types))...)
		for i := len(sig.Params); i < len(types); i++ {
			types[i] = api.ValueTypeI32
		}
	}

	saved := saveRegisters(b.eng)
	if err := WriteArgs(b.eng, b.arena, types, args); err != nil {
		restoreRegisters(b.eng, saved)
		return 0, err
	}
	sentinel := b.Sentinel(b.guestDepth)
	b.eng.RegWrite(LR, uint32(sentinel))

	id := b.push(Frame{Kind: FrameGuest, Target: target, Sentinel: sentinel, saved: saved})
	Logger().Debug("guest call",
		zap.Stringer("addr", target),
		zap.Stringer("sentinel", sentinel),
		zap.Int("depth", len(b.frames)))

	runErr := b.eng.Run(ctx, target, sentinel)
	if _, err := b.pop(id); err != nil {
		return 0, err
	}
	result := ReadResult(b.eng, sig.Results)
	restoreRegisters(b.eng, saved)

	if runErr != nil {
		var rerr *errors.Error
		if stderrors.As(runErr, &rerr) {
			return 0, runErr
		}
		return 0, errors.Engine(uint32(target), runErr)
	}
	return result, nil
}

// Call is a guest→host call in progress.
type Call struct {
	Name string
	// Args holds the declared parameters in api encoding.
	Args []uint64
	// Rest reads variadic arguments following Args. Nil for fixed signatures.
	Rest *ArgReader

	bridge     *Bridge
	sig        Signature
	result     uint64
	resultType api.ValueType
	hasResult  bool
	tail       mem.Addr
}

// Bridge returns the bridge servicing the call.
func (c *Call) Bridge() *Bridge { return c.bridge }

// U32 returns argument i as a word.
func (c *Call) U32(i int) uint32 { return api.DecodeU32(c.Args[i]) }

// Addr returns argument i as a guest address.
func (c *Call) Addr(i int) mem.Addr { return mem.Addr(api.DecodeU32(c.Args[i])) }

// Return sets the result using the declared result type.
func (c *Call) Return(v uint64) {
	t := api.ValueTypeI32
	if len(c.sig.Results) > 0 {
		t = c.sig.Results[0]
	}
	c.ReturnAs(t, v)
}

// ReturnAs sets a result whose type is only known at call time, as with
// message sends.
func (c *Call) ReturnAs(t api.ValueType, v uint64) {
	c.result = v
	c.resultType = t
	c.hasResult = true
}

// TailCall resumes the guest at addr instead of returning. Registers and the
// stack stay as the caller left them, so addr receives the original
// arguments and returns directly to the original caller.
func (c *Call) TailCall(addr mem.Addr) {
	c.tail = addr
}
