package bridge

import (
	"context"

	"github.com/wippyai/hle-runtime/mem"
)

// Reg names a guest core register (32-bit ARM).
type Reg int

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	NumRegs
)

var regNames = [NumRegs]string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc"}

func (r Reg) String() string {
	if r >= 0 && r < NumRegs {
		return regNames[r]
	}
	return "r?"
}

// TrapFunc is invoked by the engine when guest code transfers control to an
// address it cannot execute itself (an export stub). On return the engine
// resumes at the PC register.
type TrapFunc func(ctx context.Context, addr mem.Addr) error

// Engine is the external execution engine the bridge drives and is driven by.
// It only ever needs register access, "run from pc until pc reaches until",
// and a trap callback for stub addresses.
type Engine interface {
	RegRead(reg Reg) uint32
	RegWrite(reg Reg, value uint32)
	Run(ctx context.Context, pc, until mem.Addr) error
	SetTrap(fn TrapFunc)
}

// Registers is a full register file snapshot.
type Registers [NumRegs]uint32

func saveRegisters(e Engine) Registers {
	var regs Registers
	for r := R0; r < NumRegs; r++ {
		regs[r] = e.RegRead(r)
	}
	return regs
}

func restoreRegisters(e Engine, regs Registers) {
	for r := R0; r < NumRegs; r++ {
		e.RegWrite(r, regs[r])
	}
}
