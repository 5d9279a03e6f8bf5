// Package main provides the entry point for rv64emu.
// rv64emu is a user-mode emulator for the RV64I base integer ISA.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/rv64emu/loader"
	"github.com/sarchlab/rv64emu/mmu"
	"github.com/sarchlab/rv64emu/vm"
)

var (
	verbose         = flag.Bool("v", false, "Verbose output")
	maxInstructions = flag.Uint64("max-instructions", 0, "Stop after this many instructions (0 = unbounded)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rv64emu [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	programPath := flag.Arg(0)

	prog, err := loader.Load(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", programPath)
		fmt.Printf("Entry point: 0x%x\n", prog.EntryPoint)
		fmt.Printf("Segments: %d\n", len(prog.Segments))
	}

	mem := mmu.New()
	if err := prog.LoadInto(mem); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading segments into memory: %v\n", err)
		os.Exit(1)
	}

	opts := []vm.Option{
		vm.WithExceptionHandler(&vm.HaltingHandler{Out: stdlog{}}),
	}
	if *maxInstructions > 0 {
		opts = append(opts, vm.WithMaxInstructions(*maxInstructions))
	}

	emulator := vm.New(mem, prog.EntryPoint, opts...)
	outcome, err := emulator.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Emulation error: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("\nProgram: %s\n", programPath)
		fmt.Printf("Instructions executed: %d\n", emulator.InstructionCount())
		if outcome.Trapped {
			fmt.Printf("Stopped on trap: %v\n", outcome.Exception)
		}
	}

	if outcome.Trapped {
		os.Exit(1)
	}
}

// stdlog adapts fmt.Printf to the vm.Logger interface the default
// exception handler writes its report through.
type stdlog struct{}

func (stdlog) Printf(format string, args ...any) {
	fmt.Printf(format, args...)
}
