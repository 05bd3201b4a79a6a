package engine

import (
	"context"
	"fmt"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/mem"
)

// Routine is guest code expressed as a Go function. It sees the machine's
// registers and guest memory, and returns by leaving PC untouched (the
// engine then continues at LR) or branches with Jump.
type Routine func(ctx context.Context, m *Script) error

// returnBase is the first of the return addresses handed out by Script.Call.
// It lies past any arena the engine is paired with.
const returnBase mem.Addr = 0xFFFF0000

// Script is an Engine whose guest code is a set of Go routines placed at
// guest addresses. It drives the bridge through the same register and trap
// contract as a CPU emulator would, which makes it the reference engine for
// tests and for embedding host-compiled guest logic.
type Script struct {
	regs     bridge.Registers
	arena    *mem.Arena
	routines map[mem.Addr]Routine
	names    map[mem.Addr]string
	trap     bridge.TrapFunc
	calls    int
	jumped   bool

	// MaxSteps bounds the number of transfers a single Run performs.
	// Zero means unbounded.
	MaxSteps int
}

var _ bridge.Engine = (*Script)(nil)

// NewScript creates a script engine over arena.
func NewScript(arena *mem.Arena) *Script {
	return &Script{
		arena:    arena,
		routines: make(map[mem.Addr]Routine),
		names:    make(map[mem.Addr]string),
	}
}

// Define places a routine at addr.
func (s *Script) Define(addr mem.Addr, name string, r Routine) {
	s.routines[addr] = r
	s.names[addr] = name
	debugf("script: %s at %s", name, addr)
}

// Place allocates a code slot in the arena and defines r there.
func (s *Script) Place(name string, r Routine) (mem.Addr, error) {
	addr, err := s.arena.Alloc(4, 4)
	if err != nil {
		return mem.Null, err
	}
	s.Define(addr, name, r)
	return addr, nil
}

// Arena returns guest memory.
func (s *Script) Arena() *mem.Arena { return s.arena }

// RegRead implements bridge.Engine.
func (s *Script) RegRead(r bridge.Reg) uint32 { return s.regs[r] }

// RegWrite implements bridge.Engine.
func (s *Script) RegWrite(r bridge.Reg, v uint32) { s.regs[r] = v }

// SetTrap implements bridge.Engine.
func (s *Script) SetTrap(fn bridge.TrapFunc) { s.trap = fn }

// Arg returns core argument register i.
func (s *Script) Arg(i int) uint32 { return s.regs[bridge.Reg(i)] }

// SetArgs loads R0.. with words.
func (s *Script) SetArgs(words ...uint32) {
	for i, w := range words {
		s.regs[bridge.Reg(i)] = w
	}
}

// Jump branches to addr without setting LR.
func (s *Script) Jump(addr mem.Addr) {
	s.regs[bridge.PC] = uint32(addr)
	s.jumped = true
}

// Call performs a branch-with-link to addr and runs until the callee
// returns. LR and PC are restored afterwards; R0/R1 hold the result.
func (s *Script) Call(ctx context.Context, addr mem.Addr) error {
	savedLR, savedPC := s.regs[bridge.LR], s.regs[bridge.PC]
	ret := returnBase + mem.Addr(s.calls*4)
	s.calls++
	s.regs[bridge.LR] = uint32(ret)
	err := s.Run(ctx, addr, ret)
	s.calls--
	s.regs[bridge.LR], s.regs[bridge.PC] = savedLR, savedPC
	return err
}

// Run implements bridge.Engine.
func (s *Script) Run(ctx context.Context, pc, until mem.Addr) error {
	s.regs[bridge.PC] = uint32(pc)
	steps := 0
	for {
		cur := mem.Addr(s.regs[bridge.PC])
		if cur == until {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.MaxSteps > 0 && steps >= s.MaxSteps {
			return fmt.Errorf("step limit %d reached at %s", s.MaxSteps, cur)
		}
		steps++

		if r, ok := s.routines[cur]; ok {
			lr := s.regs[bridge.LR]
			s.jumped = false
			if err := r(ctx, s); err != nil {
				return err
			}
			if !s.jumped {
				s.regs[bridge.PC] = lr
			}
			s.jumped = false
			continue
		}
		if cur >= returnBase {
			return fmt.Errorf("return to %s outside the active call", cur)
		}
		if s.trap == nil {
			return fmt.Errorf("no code at %s", cur)
		}
		if err := s.trap(ctx, cur); err != nil {
			return err
		}
	}
}
