// Package vm implements the RV64I emulator loop: fetch, decode,
// execute, and exception dispatch, driven against a cpu.CPU and an
// mmu.MMU the Emulator exclusively owns.
package vm

import (
	"encoding/binary"

	"github.com/sarchlab/rv64emu/cpu"
	"github.com/sarchlab/rv64emu/decode"
	"github.com/sarchlab/rv64emu/mmu"
)

// InstructionSize is the fixed width of every RV64I instruction word.
const InstructionSize = 4

// Emulator drives the fetch/decode/execute loop against one CPU and
// one MMU. It is single-threaded and non-suspending: Step always
// returns in bounded time and never blocks.
type Emulator struct {
	cpu *cpu.CPU
	mem *mmu.MMU

	handler          ExceptionHandler
	maxInstructions  uint64
	instructionCount uint64

	alu    aluUnit
	branch branchUnit
	ls     loadStoreUnit
}

// Option configures an Emulator at construction time.
type Option func(*Emulator)

// WithExceptionHandler overrides the default HaltingHandler.
func WithExceptionHandler(h ExceptionHandler) Option {
	return func(e *Emulator) { e.handler = h }
}

// WithMaxInstructions bounds how many instructions Run executes
// before stopping on its own, independent of any trap. Zero (the
// default) means unbounded.
func WithMaxInstructions(n uint64) Option {
	return func(e *Emulator) { e.maxInstructions = n }
}

// New constructs an Emulator over the given memory, with the program
// counter set to entryPC. The register file starts zeroed.
func New(mem *mmu.MMU, entryPC uint64, opts ...Option) *Emulator {
	c := &cpu.CPU{}
	c.SetPC(entryPC)

	e := &Emulator{
		cpu:     c,
		mem:     mem,
		handler: &HaltingHandler{},
	}
	e.alu = aluUnit{regs: c}
	e.branch = branchUnit{regs: c}
	e.ls = loadStoreUnit{regs: c, mem: mem}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CPU returns the emulator's register file and program counter.
func (e *Emulator) CPU() *cpu.CPU { return e.cpu }

// MMU returns the emulator's memory manager.
func (e *Emulator) MMU() *mmu.MMU { return e.mem }

// InstructionCount reports how many instructions Step has executed,
// including ones whose execution raised an exception (a misaligned
// branch or jump target, a faulting load or store, ECALL, EBREAK).
// Traps raised before execution (misaligned PC, fetch fault, undefined
// instruction) are not counted.
func (e *Emulator) InstructionCount() uint64 { return e.instructionCount }

// StepOutcome reports what happened during one Step call.
type StepOutcome struct {
	// Trapped is true if an exception was raised and routed through
	// the ExceptionHandler during this step.
	Trapped bool
	// Exception is the trap that was raised, if Trapped.
	Exception Exception
	// Halted is true if the ExceptionHandler decided the loop should
	// stop (or Step could not even reach the handler).
	Halted bool
}

// Step performs one fetch/decode/execute cycle:
//  1. PC alignment check.
//  2. Fetch-permission check (PERM_X on all 4 fetched bytes).
//  3. Fetch the instruction word, little-endian.
//  4. Decode; Undefined raises InvalidInstruction.
//  5. Execute; loads/stores enforce R/W permission before committing.
//  6. Any raised exception is routed through the ExceptionHandler.
//
// A raised exception never leaves architectural state partially
// mutated: every check above runs before the corresponding register
// or memory write.
func (e *Emulator) Step() (StepOutcome, error) {
	pc := e.cpu.GetPC()

	if pc%InstructionSize != 0 {
		return e.trap(&InstructionAddressMisalignedException{Addr: pc})
	}

	perms, err := e.mem.PermGet(pc, InstructionSize)
	if err != nil {
		return e.trap(&AccessFaultException{Addr: pc})
	}
	for _, p := range perms {
		if p&mmu.PermX == 0 {
			return e.trap(&AccessFaultException{Addr: pc})
		}
	}

	raw, err := e.mem.DramRead(pc, InstructionSize)
	if err != nil {
		return e.trap(&AccessFaultException{Addr: pc})
	}
	word := binary.LittleEndian.Uint32(raw)

	inst := decode.Decode(word)
	if inst.Op == decode.OpUndefined {
		return e.trap(&InvalidInstructionException{Word: word})
	}

	outcome, err := e.execute(inst)
	if err != nil {
		return StepOutcome{Halted: true}, err
	}
	e.instructionCount++
	return outcome, nil
}

// execute dispatches a decoded, non-Undefined instruction to its
// executing unit and applies the default PC+4 advance unless the
// instruction is a control-flow instruction that already moved PC
// (or raised an exception instead).
func (e *Emulator) execute(inst decode.Instruction) (StepOutcome, error) {
	switch {
	case isControlFlow(inst.Op):
		res, err := e.branch.exec(inst)
		if err != nil {
			return StepOutcome{}, err
		}
		if res.exception != nil {
			return e.trap(res.exception)
		}
		if !res.took {
			e.cpu.SetPC(e.cpu.GetPC() + InstructionSize)
		}
		return StepOutcome{}, nil

	case isLoadStore(inst.Op):
		exc, err := e.ls.exec(inst)
		if err != nil {
			return StepOutcome{}, err
		}
		if exc != nil {
			return e.trap(exc)
		}
		e.cpu.SetPC(e.cpu.GetPC() + InstructionSize)
		return StepOutcome{}, nil

	default:
		if err := e.alu.exec(inst); err != nil {
			return StepOutcome{}, err
		}
		e.cpu.SetPC(e.cpu.GetPC() + InstructionSize)
		return StepOutcome{}, nil
	}
}

func (e *Emulator) trap(exc Exception) (StepOutcome, error) {
	resume, err := e.handler.Handle(exc)
	if err != nil {
		return StepOutcome{Trapped: true, Exception: exc, Halted: true},
			&ExceptionHandlerError{Cause: err}
	}
	return StepOutcome{Trapped: true, Exception: exc, Halted: !resume}, nil
}

// Run calls Step until it halts (via an unresolved exception) or
// the WithMaxInstructions bound is reached. It returns the terminating outcome and
// any implementation error Step surfaced.
func (e *Emulator) Run() (StepOutcome, error) {
	for {
		outcome, err := e.Step()
		if err != nil {
			return outcome, err
		}
		if outcome.Halted {
			return outcome, nil
		}
		if e.maxInstructions != 0 && e.instructionCount >= e.maxInstructions {
			return outcome, nil
		}
	}
}

// Snapshot returns an independent deep copy of the emulator's CPU and
// MMU state. The returned Emulator shares no mutable state with the
// original.
func (e *Emulator) Snapshot() *Emulator {
	cp := *e
	cp.cpu = e.cpu.Snapshot()
	cp.mem = e.mem.Snapshot()
	cp.alu = aluUnit{regs: cp.cpu}
	cp.branch = branchUnit{regs: cp.cpu}
	cp.ls = loadStoreUnit{regs: cp.cpu, mem: cp.mem}
	return &cp
}
