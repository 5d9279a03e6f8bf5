package vm

import (
	"encoding/binary"

	"github.com/sarchlab/rv64emu/cpu"
	"github.com/sarchlab/rv64emu/decode"
	"github.com/sarchlab/rv64emu/mmu"
)

// loadStoreUnit implements the memory-referencing instructions. It
// holds both collaborators a load/store needs: the register file and
// the MMU.
type loadStoreUnit struct {
	regs *cpu.CPU
	mem  *mmu.MMU
}

func isLoadStore(op decode.Op) bool {
	switch op {
	case decode.OpLb, decode.OpLh, decode.OpLw, decode.OpLd, decode.OpLbu, decode.OpLhu, decode.OpLwu,
		decode.OpSb, decode.OpSh, decode.OpSw, decode.OpSd:
		return true
	}
	return false
}

// exec performs the load or store, enforcing permission bits on
// every touched byte before committing any register or memory write
// (trap atomicity: the check happens before the mutation).
func (u *loadStoreUnit) exec(inst decode.Instruction) (Exception, error) {
	rs1, err := u.regs.GetReg(inst.Rs1)
	if err != nil {
		return nil, err
	}
	addr := rs1 + uint64(int64(inst.Imm))

	switch inst.Op {
	case decode.OpLb:
		return u.load(inst, addr, 1, true)
	case decode.OpLh:
		return u.load(inst, addr, 2, true)
	case decode.OpLw:
		return u.load(inst, addr, 4, true)
	case decode.OpLd:
		return u.load(inst, addr, 8, false)
	case decode.OpLbu:
		return u.load(inst, addr, 1, false)
	case decode.OpLhu:
		return u.load(inst, addr, 2, false)
	case decode.OpLwu:
		return u.load(inst, addr, 4, false)
	case decode.OpSb:
		return u.store(inst, addr, 1)
	case decode.OpSh:
		return u.store(inst, addr, 2)
	case decode.OpSw:
		return u.store(inst, addr, 4)
	case decode.OpSd:
		return u.store(inst, addr, 8)
	}
	return nil, nil
}

func (u *loadStoreUnit) checkPerm(addr, size uint64, want byte) (Exception, error) {
	perms, err := u.mem.PermGet(addr, size)
	if err != nil {
		return &AccessFaultException{Addr: addr}, nil
	}
	for _, p := range perms {
		if p&want == 0 {
			return &AccessFaultException{Addr: addr}, nil
		}
	}
	return nil, nil
}

func (u *loadStoreUnit) load(inst decode.Instruction, addr uint64, size uint64, signed bool) (Exception, error) {
	if exc, err := u.checkPerm(addr, size, mmu.PermR); exc != nil || err != nil {
		return exc, err
	}
	data, err := u.mem.DramRead(addr, size)
	if err != nil {
		return &AccessFaultException{Addr: addr}, nil
	}

	var value uint64
	switch size {
	case 1:
		if signed {
			value = uint64(int64(int8(data[0])))
		} else {
			value = uint64(data[0])
		}
	case 2:
		v := binary.LittleEndian.Uint16(data)
		if signed {
			value = uint64(int64(int16(v)))
		} else {
			value = uint64(v)
		}
	case 4:
		v := binary.LittleEndian.Uint32(data)
		if signed {
			value = uint64(int64(int32(v)))
		} else {
			value = uint64(v)
		}
	case 8:
		value = binary.LittleEndian.Uint64(data)
	}
	return nil, u.regs.SetReg(inst.Rd, value)
}

func (u *loadStoreUnit) store(inst decode.Instruction, addr uint64, size uint64) (Exception, error) {
	// DramWrite grows DRAM to fit [addr, addr+size) rather than wrapping
	// a store that straddles the current end. Grow here, before the
	// permission check, so checkPerm sees the same (post-growth, linear)
	// addresses DramWrite will actually commit to — otherwise a
	// straddling store would be permission-checked against wrapped
	// low-address bytes and committed to freshly grown, never-checked
	// ones instead.
	if err := u.mem.Grow(addr, size); err != nil {
		return &AccessFaultException{Addr: addr}, nil
	}
	if exc, err := u.checkPerm(addr, size, mmu.PermW); exc != nil || err != nil {
		return exc, err
	}
	rs2, err := u.regs.GetReg(inst.Rs2)
	if err != nil {
		return nil, err
	}

	data := make([]byte, size)
	switch size {
	case 1:
		data[0] = byte(rs2)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(rs2))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(rs2))
	case 8:
		binary.LittleEndian.PutUint64(data, rs2)
	}
	if err := u.mem.DramWrite(addr, data); err != nil {
		return &AccessFaultException{Addr: addr}, nil
	}
	return nil, nil
}
