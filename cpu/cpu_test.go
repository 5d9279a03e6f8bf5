package cpu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv64emu/cpu"
)

var _ = Describe("CPU", func() {
	var c *cpu.CPU

	BeforeEach(func() {
		c = &cpu.CPU{}
	})

	It("reads x0 as zero even after an attempted write", func() {
		Expect(c.SetReg(0, 0xDEADBEEF)).To(Succeed())
		v, err := c.GetReg(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(0)))
	})

	It("reads back a value written to a general-purpose register", func() {
		Expect(c.SetReg(5, 42)).To(Succeed())
		v, err := c.GetReg(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(42)))
	})

	It("fails on register indices at or beyond RegisterCount", func() {
		_, err := c.GetReg(32)
		Expect(err).To(HaveOccurred())
		Expect(c.SetReg(32, 1)).To(HaveOccurred())
	})

	It("tracks the program counter independently of the registers", func() {
		c.SetPC(0x1000)
		Expect(c.GetPC()).To(Equal(uint64(0x1000)))
	})

	It("snapshots registers and PC by value", func() {
		Expect(c.SetReg(1, 7)).To(Succeed())
		c.SetPC(0x2000)
		snap := c.Snapshot()

		Expect(c.SetReg(1, 99)).To(Succeed())
		c.SetPC(0x3000)

		v, err := snap.GetReg(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(7)))
		Expect(snap.GetPC()).To(Equal(uint64(0x2000)))
	})
})
