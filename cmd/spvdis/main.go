// Command spvdis prints a SPIR-V binary as assembly-like text.
//
// Usage:
//
//	spvdis [options] <input.spv>
//
// Examples:
//
//	spvdis shader.spv                # Disassemble to stdout
//	spvdis -o shader.spvasm shader.spv
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gogpu/spvgen/spirv"
)

var output = flag.String("o", "", "output file (default: stdout)")

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: no input file specified")
		usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	mod, err := spirv.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", args[0], err)
		os.Exit(1)
	}
	text := spirv.Disassemble(mod)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(text), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if _, err := os.Stdout.WriteString(text); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: spvdis [options] <input.spv>\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  spvdis shader.spv              Disassemble to stdout\n")
	fmt.Fprintf(os.Stderr, "  spvdis -o out.spvasm shader.spv\n")
}
