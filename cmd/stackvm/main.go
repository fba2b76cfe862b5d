// Command stackvm assembles and/or runs a stack-VM program. It is a thin
// external collaborator: argument parsing, file I/O, and mode dispatch
// live here so pkg/asm and pkg/vm stay embeddable without an os.Exit of
// their own.
package main

import (
	"flag"
	"fmt"
	"os"

	"stackvm/pkg/asm"
	"stackvm/pkg/bytecode"
	"stackvm/pkg/vm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("stackvm", flag.ContinueOnError)
	assembleOnly := fs.Bool("a", false, "assemble only, writing bytecode to the output path")
	runOnly := fs.Bool("r", false, "run only; the input file is already assembled bytecode")
	assembleAndRun := fs.Bool("ar", false, "assemble and immediately run the result")
	outPath := fs.String("o", "a.out", "output path for -a")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stackvm [-a | -r | -ar] [-o file] <input>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	modes := 0
	for _, on := range []bool{*assembleOnly, *runOnly, *assembleAndRun} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "stackvm: exactly one of -a, -r, -ar is required")
		fs.Usage()
		return 2
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "stackvm: expected exactly one input file")
		fs.Usage()
		return 2
	}
	inPath := fs.Arg(0)

	switch {
	case *assembleOnly:
		return doAssemble(inPath, *outPath)
	case *runOnly:
		return doRun(inPath)
	default:
		return doAssembleAndRun(inPath)
	}
}

func doAssemble(inPath, outPath string) int {
	words, err := assembleFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stackvm: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, bytecode.Encode(words), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "stackvm: writing %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

func doRun(inPath string) int {
	data, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stackvm: reading %s: %v\n", inPath, err)
		return 1
	}
	words, err := bytecode.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stackvm: %v\n", err)
		return 1
	}
	return execute(words)
}

func doAssembleAndRun(inPath string) int {
	words, err := assembleFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stackvm: %v\n", err)
		return 1
	}
	return execute(words)
}

func assembleFile(inPath string) ([]uint16, error) {
	source, err := os.ReadFile(inPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", inPath, err)
	}
	return asm.Assemble(string(source))
}

func execute(words []uint16) int {
	m := vm.New(words)
	if err := m.Run(); err != nil {
		if exit, ok := err.(vm.ErrExit); ok {
			return exit.Code
		}
		fmt.Fprintf(os.Stderr, "stackvm: %v\n", err)
		return 1
	}
	return 0
}
