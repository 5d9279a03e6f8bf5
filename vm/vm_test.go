package vm_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv64emu/mmu"
	"github.com/sarchlab/rv64emu/vm"
)

const segBase = uint64(0x1000)
const segSize = uint64(0x1000)

// newEmulator builds an Emulator with a single RWX segment at segBase
// and the PC at segBase, matching the "segment at 0x1000 RWX" preamble
// the spec's bit-exact scenarios assume. Tests place their instruction
// words with writeWords.
func newEmulator(opts ...vm.Option) (*vm.Emulator, *mmu.MMU) {
	mem := mmu.New()
	Expect(mem.PermSet(segBase, segSize, mmu.PermR|mmu.PermW|mmu.PermX)).To(Succeed())
	e := vm.New(mem, segBase, opts...)
	return e, mem
}

func writeWords(mem *mmu.MMU, base uint64, words ...uint32) {
	for i, w := range words {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, w)
		Expect(mem.DramWrite(base+uint64(i)*4, buf)).To(Succeed())
	}
}

var _ = Describe("Emulator", func() {
	It("scenario 1: ADDI x1, x0, 5", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00500093)

		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())

		v, _ := e.CPU().GetReg(1)
		Expect(v).To(Equal(uint64(5)))
		Expect(e.CPU().GetPC()).To(Equal(uint64(0x1004)))
	})

	It("scenario 2: LUI+ADDI build a constant", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x123450B7, 0x67808093)

		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		_, err = e.Step()
		Expect(err).NotTo(HaveOccurred())

		v, _ := e.CPU().GetReg(1)
		Expect(v).To(Equal(uint64(0x12345678)))
		Expect(e.CPU().GetPC()).To(Equal(uint64(0x1008)))
	})

	It("scenario 3: SLTIU implements SEQZ", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00113093)
		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		v, _ := e.CPU().GetReg(1)
		Expect(v).To(Equal(uint64(1)))

		e2, mem2 := newEmulator()
		writeWords(mem2, segBase, 0x00113093)
		Expect(e2.CPU().SetReg(2, 5)).To(Succeed())
		_, err = e2.Step()
		Expect(err).NotTo(HaveOccurred())
		v2, _ := e2.CPU().GetReg(1)
		Expect(v2).To(Equal(uint64(0)))
	})

	It("scenario 4: SRAI sign-fills", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x40415113)
		Expect(e.CPU().SetReg(2, 0xFFFFFFFFFFFFFFF0)).To(Succeed())

		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		v, _ := e.CPU().GetReg(2)
		Expect(v).To(Equal(uint64(0xFFFFFFFFFFFFFFFF)))
	})

	It("scenario 5: ADDW sign-extends its 32-bit result", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x002080BB) // ADDW x1, x1, x2
		Expect(e.CPU().SetReg(1, 0x7FFFFFFF)).To(Succeed())
		Expect(e.CPU().SetReg(2, 1)).To(Succeed())

		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		v, _ := e.CPU().GetReg(1)
		Expect(v).To(Equal(uint64(0xFFFFFFFF80000000)))
	})

	It("scenario 6: JAL/JALR round-trip a return address", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x008000EF) // JAL x1, +8
		writeWords(mem, segBase+8, 0x00008067) // JALR x0, x1, 0

		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(e.CPU().GetPC()).To(Equal(uint64(0x1008)))
		x1, _ := e.CPU().GetReg(1)
		Expect(x1).To(Equal(uint64(0x1004)))

		_, err = e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(e.CPU().GetPC()).To(Equal(uint64(0x1004)))
		x0, _ := e.CPU().GetReg(0)
		Expect(x0).To(Equal(uint64(0)))
	})

	It("scenario 7: a not-taken branch just advances PC by 4", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00208863) // BEQ x1, x2, +16
		Expect(e.CPU().SetReg(1, 1)).To(Succeed())
		Expect(e.CPU().SetReg(2, 2)).To(Succeed())

		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(e.CPU().GetPC()).To(Equal(uint64(0x1004)))
	})

	It("scenario 8: a misaligned JALR target raises a trap and preserves PC", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00008067) // JALR x0, x1, 0
		Expect(e.CPU().SetReg(1, 0x1002)).To(Succeed())

		outcome, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Trapped).To(BeTrue())
		misaligned, ok := outcome.Exception.(*vm.InstructionAddressMisalignedException)
		Expect(ok).To(BeTrue())
		Expect(misaligned.Addr).To(Equal(uint64(0x1002)))
		Expect(e.CPU().GetPC()).To(Equal(segBase))
	})

	It("does not clobber the link register when a JALR target is misaligned", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x000080E7) // JALR x1, x1, 0
		Expect(e.CPU().SetReg(1, 0x1002)).To(Succeed())

		outcome, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Trapped).To(BeTrue())
		x1, _ := e.CPU().GetReg(1)
		Expect(x1).To(Equal(uint64(0x1002)))
	})

	It("scenario 9: word 0 decodes to Undefined and raises InvalidInstruction", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00000000)

		outcome, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Trapped).To(BeTrue())
		invalid, ok := outcome.Exception.(*vm.InvalidInstructionException)
		Expect(ok).To(BeTrue())
		Expect(invalid.Word).To(Equal(uint32(0)))
	})

	It("scenario 10: a permission-denied store raises AccessFault and leaves memory untouched", func() {
		mem := mmu.New()
		Expect(mem.PermSet(segBase, segSize, mmu.PermR|mmu.PermX)).To(Succeed())
		e := vm.New(mem, segBase)
		writeWords(mem, segBase, 0x0020A023) // SW x2, 0(x1)
		Expect(e.CPU().SetReg(1, segBase+0x100)).To(Succeed())
		Expect(e.CPU().SetReg(2, 0xDEADBEEF)).To(Succeed())

		before, _ := mem.DramRead(segBase+0x100, 4)

		outcome, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Trapped).To(BeTrue())
		_, ok := outcome.Exception.(*vm.AccessFaultException)
		Expect(ok).To(BeTrue())

		after, _ := mem.DramRead(segBase+0x100, 4)
		Expect(after).To(Equal(before))
	})

	It("rejects a store straddling DRAM's current end instead of writing past it unchecked", func() {
		mem := mmu.New()
		Expect(mem.PermSet(segBase, segSize, mmu.PermR|mmu.PermW|mmu.PermX)).To(Succeed())
		e := vm.New(mem, segBase)
		writeWords(mem, segBase, 0x0020A023) // SW x2, 0(x1)
		Expect(e.CPU().SetReg(1, mem.Len()-2)).To(Succeed())
		Expect(e.CPU().SetReg(2, 0xDEADBEEF)).To(Succeed())

		lenBefore := mem.Len()
		outcome, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Trapped).To(BeTrue())
		_, ok := outcome.Exception.(*vm.AccessFaultException)
		Expect(ok).To(BeTrue())
		Expect(mem.Len()).To(BeNumerically(">", lenBefore))
	})

	It("halts the Run loop once the exception handler declines to resume", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00000000)

		outcome, err := e.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Halted).To(BeTrue())
	})

	It("x0 always reads as zero even after an attempted write by an instruction", func() {
		e, mem := newEmulator()
		writeWords(mem, segBase, 0x00500013) // ADDI x0, x0, 5
		_, err := e.Step()
		Expect(err).NotTo(HaveOccurred())
		v, _ := e.CPU().GetReg(0)
		Expect(v).To(Equal(uint64(0)))
	})
})
