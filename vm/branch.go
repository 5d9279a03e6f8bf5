package vm

import (
	"github.com/sarchlab/rv64emu/cpu"
	"github.com/sarchlab/rv64emu/decode"
)

// branchUnit implements control-flow transfer: conditional branches,
// JAL/JALR, the FENCE-family architectural no-ops, and ECALL/EBREAK,
// which raise a RequestedException. Unlike aluUnit it may set the program counter directly
// rather than letting the caller apply the default PC+4.
type branchUnit struct {
	regs *cpu.CPU
}

// controlResult reports what a control-flow instruction did to the
// program counter, or which exception it raised instead.
type controlResult struct {
	// took is true when the instruction set PC itself; the caller
	// must not additionally advance PC by 4.
	took      bool
	exception Exception
}

func isControlFlow(op decode.Op) bool {
	switch op {
	case decode.OpBeq, decode.OpBne, decode.OpBlt, decode.OpBge, decode.OpBltu, decode.OpBgeu,
		decode.OpJal, decode.OpJalr,
		decode.OpFence, decode.OpFenceTso, decode.OpPause,
		decode.OpEcall, decode.OpEbreak:
		return true
	}
	return false
}

func (b *branchUnit) exec(inst decode.Instruction) (controlResult, error) {
	switch inst.Op {
	case decode.OpBeq:
		return b.branch(inst, func(rs1, rs2 uint64) bool { return rs1 == rs2 })
	case decode.OpBne:
		return b.branch(inst, func(rs1, rs2 uint64) bool { return rs1 != rs2 })
	case decode.OpBlt:
		return b.branch(inst, func(rs1, rs2 uint64) bool { return int64(rs1) < int64(rs2) })
	case decode.OpBge:
		return b.branch(inst, func(rs1, rs2 uint64) bool { return int64(rs1) >= int64(rs2) })
	case decode.OpBltu:
		return b.branch(inst, func(rs1, rs2 uint64) bool { return rs1 < rs2 })
	case decode.OpBgeu:
		return b.branch(inst, func(rs1, rs2 uint64) bool { return rs1 >= rs2 })
	case decode.OpJal:
		pc := b.regs.GetPC()
		target := pc + uint64(int64(inst.Imm))
		if target%4 != 0 {
			return controlResult{took: true, exception: &InstructionAddressMisalignedException{Addr: target}}, nil
		}
		if err := b.regs.SetReg(inst.Rd, pc+4); err != nil {
			return controlResult{}, err
		}
		b.regs.SetPC(target)
		return controlResult{took: true}, nil
	case decode.OpJalr:
		rs1, err := b.regs.GetReg(inst.Rs1)
		if err != nil {
			return controlResult{}, err
		}
		target := (rs1 + uint64(int64(inst.Imm))) &^ 1
		pc := b.regs.GetPC()
		if target%4 != 0 {
			return controlResult{took: true, exception: &InstructionAddressMisalignedException{Addr: target}}, nil
		}
		if err := b.regs.SetReg(inst.Rd, pc+4); err != nil {
			return controlResult{}, err
		}
		b.regs.SetPC(target)
		return controlResult{took: true}, nil
	case decode.OpFence, decode.OpFenceTso, decode.OpPause:
		return controlResult{}, nil
	case decode.OpEcall, decode.OpEbreak:
		return controlResult{exception: &RequestedException{Addr: b.regs.GetPC()}}, nil
	}
	return controlResult{}, nil
}

func (b *branchUnit) branch(inst decode.Instruction, cond func(rs1, rs2 uint64) bool) (controlResult, error) {
	rs1, err := b.regs.GetReg(inst.Rs1)
	if err != nil {
		return controlResult{}, err
	}
	rs2, err := b.regs.GetReg(inst.Rs2)
	if err != nil {
		return controlResult{}, err
	}
	if !cond(rs1, rs2) {
		return controlResult{}, nil
	}
	target := b.regs.GetPC() + uint64(int64(inst.Imm))
	if target%4 != 0 {
		return controlResult{took: true, exception: &InstructionAddressMisalignedException{Addr: target}}, nil
	}
	b.regs.SetPC(target)
	return controlResult{took: true}, nil
}
