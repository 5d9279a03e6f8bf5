// Package decode implements the RV64I instruction decoder: a pure
// function from a 32-bit instruction word to a tagged Instruction
// value, driven by a 128-entry opcode-to-format lookup table.
package decode

// Format is the instruction encoding format (RISC-V base ISA R/I/S/B/U/J).
type Format int

const (
	formatNone Format = iota
	FormatR
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
)

// Op identifies the decoded mnemonic. OpUndefined marks a word this
// decoder does not recognize.
type Op int

const (
	OpUndefined Op = iota

	// R-type
	OpAdd
	OpSub
	OpSll
	OpSlt
	OpSltu
	OpXor
	OpSrl
	OpSra
	OpOr
	OpAnd
	OpAddw
	OpSubw
	OpSllw
	OpSrlw
	OpSraw

	// I-type
	OpJalr
	OpLb
	OpLh
	OpLw
	OpLbu
	OpLhu
	OpLwu
	OpLd
	OpAddi
	OpSlti
	OpSltiu
	OpXori
	OpOri
	OpAndi
	OpSlli
	OpSrli
	OpSrai
	OpFence
	OpFenceTso
	OpPause
	OpEcall
	OpEbreak
	OpAddiw
	OpSlliw
	OpSrliw
	OpSraiw

	// S-type
	OpSb
	OpSh
	OpSw
	OpSd

	// B-type
	OpBeq
	OpBne
	OpBlt
	OpBge
	OpBltu
	OpBgeu

	// U-type
	OpLui
	OpAuipc

	// J-type
	OpJal
)

// Instruction is the decoded form of one 32-bit instruction word. Not
// every field is meaningful for every Op; see the per-Op semantics in
// the vm package for which fields are read.
type Instruction struct {
	Op     Op
	Rd     uint32
	Rs1    uint32
	Rs2    uint32
	Imm    int32
	Shamt  uint32
	ImmRaw uint32 // raw unsigned immediate, used for FENCE/FENCE.TSO/PAUSE discrimination
}

const sizeFormatTable = 128

// formatTable maps a 7-bit opcode to the instruction format it
// encodes, formatNone where no RV64I instruction uses that opcode.
var formatTable = [sizeFormatTable]Format{
	0b0000011: FormatI, // LOAD
	0b0001111: FormatI, // MISC-MEM
	0b0010011: FormatI, // OP-IMM
	0b0010111: FormatU, // AUIPC
	0b0011011: FormatI, // OP-IMM-32
	0b0100011: FormatS, // STORE
	0b0110011: FormatR, // OP
	0b0110111: FormatU, // LUI
	0b0111011: FormatR, // OP-32
	0b1100011: FormatB, // BRANCH
	0b1100111: FormatI, // JALR
	0b1101111: FormatJ, // JAL
	0b1110011: FormatI, // SYSTEM
}

func fetchFormat(word uint32) Format {
	opcode := word & 0b111_1111
	if int(opcode) >= sizeFormatTable {
		return formatNone
	}
	return formatTable[opcode]
}

// Decode decodes a single 32-bit instruction word. A word of zero, or
// one whose opcode/funct3/funct7 combination is not part of RV64I,
// decodes to Op: OpUndefined.
func Decode(word uint32) Instruction {
	if word == 0 {
		return Instruction{Op: OpUndefined}
	}

	opcode := word & 0b111_1111

	switch fetchFormat(word) {
	case FormatR:
		return decodeR(word, opcode)
	case FormatI:
		return decodeI(word, opcode)
	case FormatS:
		return decodeS(word, opcode)
	case FormatB:
		return decodeB(word, opcode)
	case FormatU:
		return decodeU(word, opcode)
	case FormatJ:
		return decodeJ(word, opcode)
	default:
		return Instruction{Op: OpUndefined}
	}
}

func decodeR(word, opcode uint32) Instruction {
	rd := (word >> 7) & 0b1_1111
	funct3 := (word >> 12) & 0b111
	rs1 := (word >> 15) & 0b1_1111
	rs2 := (word >> 20) & 0b1_1111
	funct7 := (word >> 25) & 0b111_1111

	base := Instruction{Rd: rd, Rs1: rs1, Rs2: rs2}

	switch opcode {
	case 0b0110011: // OP
		switch funct3 {
		case 0b000:
			switch funct7 {
			case 0b0000000:
				base.Op = OpAdd
			case 0b0100000:
				base.Op = OpSub
			default:
				base.Op = OpUndefined
			}
		case 0b001:
			base.Op = OpSll
		case 0b010:
			base.Op = OpSlt
		case 0b011:
			base.Op = OpSltu
		case 0b100:
			base.Op = OpXor
		case 0b101:
			switch funct7 {
			case 0b0000000:
				base.Op = OpSrl
			case 0b0100000:
				base.Op = OpSra
			default:
				base.Op = OpUndefined
			}
		case 0b110:
			base.Op = OpOr
		case 0b111:
			base.Op = OpAnd
		default:
			base.Op = OpUndefined
		}
		// Only SUB and SRA use funct7 0b0100000; every other OP
		// instruction requires funct7 == 0.
		if funct7 != 0 && base.Op != OpSub && base.Op != OpSra {
			base.Op = OpUndefined
		}
	case 0b0111011: // OP-32
		switch funct3 {
		case 0b000:
			switch funct7 {
			case 0b0000000:
				base.Op = OpAddw
			case 0b0100000:
				base.Op = OpSubw
			default:
				base.Op = OpUndefined
			}
		case 0b001:
			if funct7 == 0 {
				base.Op = OpSllw
			} else {
				base.Op = OpUndefined
			}
		case 0b101:
			switch funct7 {
			case 0b0000000:
				base.Op = OpSrlw
			case 0b0100000:
				base.Op = OpSraw
			default:
				base.Op = OpUndefined
			}
		default:
			base.Op = OpUndefined
		}
	default:
		base.Op = OpUndefined
	}
	return base
}

func decodeI(word, opcode uint32) Instruction {
	rd := (word >> 7) & 0b1_1111
	funct3 := (word >> 12) & 0b111
	rs1 := (word >> 15) & 0b1_1111
	immRaw := (word >> 20) & 0b1111_1111_1111
	shamt := (word >> 20) & 0b11_1111 // 6 bits; W-form ops use only the low 5 at execution time
	funct7 := (word >> 25) & 0b111_1111

	imm := int32(immRaw<<20) >> 20

	base := Instruction{Rd: rd, Rs1: rs1, Imm: imm, Shamt: shamt, ImmRaw: immRaw}

	switch opcode {
	case 0b1100111: // JALR
		if funct3 == 0 {
			base.Op = OpJalr
		} else {
			base.Op = OpUndefined
		}
	case 0b0000011: // LOAD
		switch funct3 {
		case 0b000:
			base.Op = OpLb
		case 0b001:
			base.Op = OpLh
		case 0b010:
			base.Op = OpLw
		case 0b100:
			base.Op = OpLbu
		case 0b101:
			base.Op = OpLhu
		case 0b110:
			base.Op = OpLwu
		case 0b011:
			base.Op = OpLd
		default:
			base.Op = OpUndefined
		}
	case 0b0010011: // OP-IMM
		switch funct3 {
		case 0b000:
			base.Op = OpAddi
		case 0b010:
			base.Op = OpSlti
		case 0b011:
			base.Op = OpSltiu
		case 0b100:
			base.Op = OpXori
		case 0b110:
			base.Op = OpOri
		case 0b111:
			base.Op = OpAndi
		case 0b001:
			if funct7>>1 == 0 {
				base.Op = OpSlli
			} else {
				base.Op = OpUndefined
			}
		case 0b101:
			// RV64I SLLI/SRLI/SRAI take a 6-bit shamt (word[25:20]), so
			// word[25] is part of the shift amount, not the function
			// field. Dispatch on the 6-bit funct6 = word[31:26] instead
			// of the 7-bit funct7 used by the W-form shifts below.
			switch funct6 := funct7 >> 1; funct6 {
			case 0b000000:
				base.Op = OpSrli
			case 0b010000:
				base.Op = OpSrai
			default:
				base.Op = OpUndefined
			}
		default:
			base.Op = OpUndefined
		}
	case 0b0001111: // MISC-MEM
		if rd == 0 && rs1 == 0 && funct3 == 0 {
			switch immRaw {
			case 0b1000_0011_0011:
				base.Op = OpFenceTso
			case 0b0000_0001_0000:
				base.Op = OpPause
			default:
				base.Op = OpFence
			}
		} else {
			base.Op = OpUndefined
		}
	case 0b1110011: // SYSTEM
		if rd == 0 && funct3 == 0 && rs1 == 0 {
			switch imm {
			case 0:
				base.Op = OpEcall
			case 1:
				base.Op = OpEbreak
			default:
				base.Op = OpUndefined
			}
		} else {
			base.Op = OpUndefined
		}
	case 0b0011011: // OP-IMM-32
		switch funct3 {
		case 0b000:
			base.Op = OpAddiw
		case 0b001:
			if funct7 == 0 {
				base.Op = OpSlliw
			} else {
				base.Op = OpUndefined
			}
		case 0b101:
			switch funct7 {
			case 0b0000000:
				base.Op = OpSrliw
			case 0b0100000:
				base.Op = OpSraiw
			default:
				base.Op = OpUndefined
			}
		default:
			base.Op = OpUndefined
		}
	default:
		base.Op = OpUndefined
	}
	return base
}

func decodeS(word, opcode uint32) Instruction {
	imm1 := (word >> 7) & 0b1_1111
	funct3 := (word >> 12) & 0b111
	rs1 := (word >> 15) & 0b1_1111
	rs2 := (word >> 20) & 0b1_1111
	imm2 := (word >> 25) & 0b111_1111

	immRaw := imm1 | (imm2 << 5)
	imm := int32(immRaw<<20) >> 20

	base := Instruction{Rs1: rs1, Rs2: rs2, Imm: imm}

	if opcode != 0b0100011 {
		base.Op = OpUndefined
		return base
	}
	switch funct3 {
	case 0b000:
		base.Op = OpSb
	case 0b001:
		base.Op = OpSh
	case 0b010:
		base.Op = OpSw
	case 0b011:
		base.Op = OpSd
	default:
		base.Op = OpUndefined
	}
	return base
}

func decodeB(word, opcode uint32) Instruction {
	imm1 := (word >> 7) & 0b1_1111
	funct3 := (word >> 12) & 0b111
	rs1 := (word >> 15) & 0b1_1111
	rs2 := (word >> 20) & 0b1_1111
	imm2 := (word >> 25) & 0b111_1111

	imm11 := (imm1 & 1) << 11
	imm41 := (imm1 >> 1) << 1
	imm105 := (imm2 & 0b11_1111) << 5
	imm12 := (imm2 >> 6) << 12
	immRaw := imm41 | imm105 | imm11 | imm12
	imm := int32(immRaw<<19) >> 19

	base := Instruction{Rs1: rs1, Rs2: rs2, Imm: imm}

	if opcode != 0b1100011 {
		base.Op = OpUndefined
		return base
	}
	switch funct3 {
	case 0b000:
		base.Op = OpBeq
	case 0b001:
		base.Op = OpBne
	case 0b100:
		base.Op = OpBlt
	case 0b101:
		base.Op = OpBge
	case 0b110:
		base.Op = OpBltu
	case 0b111:
		base.Op = OpBgeu
	default:
		base.Op = OpUndefined
	}
	return base
}

func decodeU(word, opcode uint32) Instruction {
	rd := (word >> 7) & 0b1_1111
	imm := int32(word & 0xFFFFF000)

	base := Instruction{Rd: rd, Imm: imm}

	switch opcode {
	case 0b0110111:
		base.Op = OpLui
	case 0b0010111:
		base.Op = OpAuipc
	default:
		base.Op = OpUndefined
	}
	return base
}

func decodeJ(word, opcode uint32) Instruction {
	rd := (word >> 7) & 0b1_1111

	imm1912 := ((word >> 12) & 0b1111_1111) << 12
	imm11 := ((word >> 20) & 1) << 11
	imm101 := ((word >> 21) & 0b11_1111_1111) << 1
	imm20 := (word >> 31) << 20
	immRaw := imm101 | imm11 | imm1912 | imm20
	imm := int32(immRaw<<11) >> 11

	base := Instruction{Rd: rd, Imm: imm}

	if opcode != 0b1101111 {
		base.Op = OpUndefined
		return base
	}
	base.Op = OpJal
	return base
}
