package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/danshapiro/agentgraph/internal/config"
	"github.com/danshapiro/agentgraph/internal/graphprog/dot"
	"github.com/danshapiro/agentgraph/internal/graphprog/store"
	"github.com/danshapiro/agentgraph/internal/graphprog/validate"
)

// validateCmd checks each file on its own. References to other programs are
// not resolved here; use load for that.
func validateCmd(args []string, stdout, stderr io.Writer) int {
	var files []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--program-file":
			v, ok := flagValue(args, &i, stderr)
			if !ok {
				return exitError
			}
			files = append(files, v)
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return exitError
		}
	}
	if len(files) == 0 {
		usage(stderr)
		return exitError
	}

	code := exitOK
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(stderr, err)
			code = exitError
			continue
		}
		g, err := dot.Parse(src)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			code = exitError
			continue
		}
		diags := validate.Validate(g)
		if len(validate.Errors(diags)) > 0 {
			code = exitError
			for _, d := range diags {
				fmt.Fprintf(stderr, "%s: %s\n", path, d)
			}
			continue
		}
		fmt.Fprintf(stdout, "ok: %s (%s)\n", g.Name, path)
		for _, d := range diags {
			fmt.Fprintf(stdout, "%s: %s\n", path, d)
		}
	}
	return code
}

// loadCmd loads the configured programs, then the given files as a trusted
// batch. With storage.postgres configured the files are persisted.
func loadCmd(args []string, stdout, stderr io.Writer) int {
	var configPath string
	var files []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			v, ok := flagValue(args, &i, stderr)
			if !ok {
				return exitError
			}
			configPath = v
		default:
			files = append(files, args[i])
		}
	}
	if configPath == "" || len(files) == 0 {
		usage(stderr)
		return exitError
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	a, ctx, err := newApp(context.Background(), cfg, "", stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer a.close()
	if _, err := a.loadConfiguredPrograms(ctx); err != nil {
		a.logger.Warn("some configured programs were not loaded", "error", err)
	}

	sources := make([][]byte, 0, len(files))
	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		sources = append(sources, b)
	}
	names, err := a.loader.LoadBatch(ctx, sources, store.LoadOptions{Trusted: true})
	for _, n := range names {
		fmt.Fprintf(stdout, "loaded: %s\n", n)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}

func listCmd(args []string, stdout, stderr io.Writer) int {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			v, ok := flagValue(args, &i, stderr)
			if !ok {
				return exitError
			}
			configPath = v
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return exitError
		}
	}
	if configPath == "" {
		usage(stderr)
		return exitError
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	a, ctx, err := newApp(context.Background(), cfg, "", stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer a.close()
	if _, err := a.loadConfiguredPrograms(ctx); err != nil {
		a.logger.Warn("some programs were not loaded", "error", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROTECTED\tDESCRIPTION")
	for _, p := range a.store.List() {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", p.Name, p.Protected, p.Description)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}
