package main

import (
	"fmt"
	"io"
	"os"
)

const (
	exitOK       = 0
	exitError    = 1
	exitMaxIters = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitError
	}
	switch args[0] {
	case "run":
		return runCmd(args[1:], stdin, stdout, stderr)
	case "validate":
		return validateCmd(args[1:], stdout, stderr)
	case "load":
		return loadCmd(args[1:], stdout, stderr)
	case "list":
		return listCmd(args[1:], stdout, stderr)
	case "help", "--help", "-h":
		usage(stdout)
		return exitOK
	default:
		usage(stderr)
		return exitError
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  agentgraph run --config <run.yaml> [--objective <text>] [--program <root>] [--max-iteration <n>] [--result <file.json>] [--events-out <file.jsonl>]")
	fmt.Fprintln(w, "  agentgraph validate --program-file <file.dot> [--program-file <file.dot> ...]")
	fmt.Fprintln(w, "  agentgraph load --config <run.yaml> <file.dot>...")
	fmt.Fprintln(w, "  agentgraph list --config <run.yaml>")
}

// flagValue reads the value following args[*i]. It reports false, after
// printing the reason, when the value is missing.
func flagValue(args []string, i *int, stderr io.Writer) (string, bool) {
	name := args[*i]
	*i++
	if *i >= len(args) {
		fmt.Fprintf(stderr, "%s requires a value\n", name)
		return "", false
	}
	return args[*i], true
}
