package vm

import (
	"github.com/sarchlab/rv64emu/cpu"
	"github.com/sarchlab/rv64emu/decode"
)

// aluUnit implements the register/immediate arithmetic, logic, and
// shift instructions against a register file. It holds no state of
// its own beyond the CPU it mutates, mirroring the one-unit-per-
// concern split of the emulation units this repo's executor is built
// from.
type aluUnit struct {
	regs *cpu.CPU
}

func (a *aluUnit) exec(inst decode.Instruction) error {
	switch inst.Op {
	case decode.OpAddi:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 { return rs1 + uint64(imm) })
	case decode.OpAdd:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 + rs2 })
	case decode.OpSub:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 - rs2 })
	case decode.OpAddiw:
		return a.binOpImmW(inst, func(rs1 int32, imm int32) int32 { return rs1 + imm })
	case decode.OpAddw:
		return a.binOpRegW(inst, func(rs1, rs2 int32) int32 { return rs1 + rs2 })
	case decode.OpSubw:
		return a.binOpRegW(inst, func(rs1, rs2 int32) int32 { return rs1 - rs2 })
	case decode.OpSlti:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 {
			if int64(rs1) < imm {
				return 1
			}
			return 0
		})
	case decode.OpSlt:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 {
			if int64(rs1) < int64(rs2) {
				return 1
			}
			return 0
		})
	case decode.OpSltiu:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 {
			if rs1 < uint64(imm) {
				return 1
			}
			return 0
		})
	case decode.OpSltu:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 {
			if rs1 < rs2 {
				return 1
			}
			return 0
		})
	case decode.OpXori:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 { return rs1 ^ uint64(imm) })
	case decode.OpXor:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 ^ rs2 })
	case decode.OpOri:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 { return rs1 | uint64(imm) })
	case decode.OpOr:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 | rs2 })
	case decode.OpAndi:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 { return rs1 & uint64(imm) })
	case decode.OpAnd:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 & rs2 })
	case decode.OpSlli:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 { return rs1 << (inst.Shamt & 0x3F) })
	case decode.OpSrli:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 { return rs1 >> (inst.Shamt & 0x3F) })
	case decode.OpSrai:
		return a.binOpImm(inst, func(rs1 uint64, imm int64) uint64 {
			return uint64(int64(rs1) >> (inst.Shamt & 0x3F))
		})
	case decode.OpSll:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 << (rs2 & 0x3F) })
	case decode.OpSrl:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return rs1 >> (rs2 & 0x3F) })
	case decode.OpSra:
		return a.binOpReg(inst, func(rs1, rs2 uint64) uint64 { return uint64(int64(rs1) >> (rs2 & 0x3F)) })
	case decode.OpSlliw:
		return a.binOpImmW(inst, func(rs1 int32, _ int32) int32 { return rs1 << (inst.Shamt & 0x1F) })
	case decode.OpSrliw:
		return a.binOpImmW(inst, func(rs1 int32, _ int32) int32 {
			return int32(uint32(rs1) >> (inst.Shamt & 0x1F))
		})
	case decode.OpSraiw:
		return a.binOpImmW(inst, func(rs1 int32, _ int32) int32 { return rs1 >> (inst.Shamt & 0x1F) })
	case decode.OpSllw:
		return a.binOpRegW(inst, func(rs1, rs2 int32) int32 { return rs1 << (uint32(rs2) & 0x1F) })
	case decode.OpSrlw:
		return a.binOpRegW(inst, func(rs1, rs2 int32) int32 {
			return int32(uint32(rs1) >> (uint32(rs2) & 0x1F))
		})
	case decode.OpSraw:
		return a.binOpRegW(inst, func(rs1, rs2 int32) int32 { return rs1 >> (uint32(rs2) & 0x1F) })
	case decode.OpLui:
		return a.regs.SetReg(inst.Rd, uint64(int64(inst.Imm)))
	case decode.OpAuipc:
		return a.regs.SetReg(inst.Rd, a.regs.GetPC()+uint64(int64(inst.Imm)))
	}
	return nil
}

func (a *aluUnit) binOpImm(inst decode.Instruction, f func(rs1 uint64, imm int64) uint64) error {
	rs1, err := a.regs.GetReg(inst.Rs1)
	if err != nil {
		return err
	}
	return a.regs.SetReg(inst.Rd, f(rs1, int64(inst.Imm)))
}

func (a *aluUnit) binOpReg(inst decode.Instruction, f func(rs1, rs2 uint64) uint64) error {
	rs1, err := a.regs.GetReg(inst.Rs1)
	if err != nil {
		return err
	}
	rs2, err := a.regs.GetReg(inst.Rs2)
	if err != nil {
		return err
	}
	return a.regs.SetReg(inst.Rd, f(rs1, rs2))
}

func (a *aluUnit) binOpImmW(inst decode.Instruction, f func(rs1 int32, imm int32) int32) error {
	rs1, err := a.regs.GetReg(inst.Rs1)
	if err != nil {
		return err
	}
	result := f(int32(rs1), inst.Imm)
	return a.regs.SetReg(inst.Rd, uint64(int64(result)))
}

func (a *aluUnit) binOpRegW(inst decode.Instruction, f func(rs1, rs2 int32) int32) error {
	rs1, err := a.regs.GetReg(inst.Rs1)
	if err != nil {
		return err
	}
	rs2, err := a.regs.GetReg(inst.Rs2)
	if err != nil {
		return err
	}
	result := f(int32(rs1), int32(rs2))
	return a.regs.SetReg(inst.Rd, uint64(int64(result)))
}
