package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danshapiro/agentgraph/internal/config"
	"github.com/danshapiro/agentgraph/internal/graphprog/events/inmem"
	"github.com/danshapiro/agentgraph/internal/graphprog/interp"
)

func runCmd(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var configPath, objective, program, resultPath, eventsPath string
	maxIteration := 0

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "--objective", "--program", "--result", "--events-out", "--max-iteration":
			flag := args[i]
			v, ok := flagValue(args, &i, stderr)
			if !ok {
				return exitError
			}
			switch flag {
			case "--config":
				configPath = v
			case "--objective":
				objective = v
			case "--program":
				program = v
			case "--result":
				resultPath = v
			case "--events-out":
				eventsPath = v
			case "--max-iteration":
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					fmt.Fprintf(stderr, "--max-iteration must be a positive integer, got %q\n", v)
					return exitError
				}
				maxIteration = n
			}
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
	if maxIteration > 0 {
		cfg.Interpreter.MaxIteration = maxIteration
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, ctx, err := newApp(ctx, cfg, program, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer a.close()
	if _, err := a.loadConfiguredPrograms(ctx); err != nil {
		// Rejected programs were logged; the run can still proceed if the
		// root loaded.
		a.logger.Warn("some programs were not loaded", "error", err)
	}

	smart, fast, err := a.models()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	reg, err := a.tools(stdin, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	recorder := inmem.New()
	in, err := interp.New(a.store,
		interp.WithLoader(a.loader),
		interp.WithTools(reg),
		interp.WithSmartModel(smart),
		interp.WithFastModel(fast),
		interp.WithMaxIteration(cfg.Interpreter.MaxIteration),
		interp.WithMaxDecisionAttempts(cfg.Interpreter.MaxDecisionAttempts),
		interp.WithSmartMaxTokens(cfg.Interpreter.SmartLLMMaxToken),
		interp.WithFastMaxTokens(cfg.Interpreter.FastLLMMaxToken),
		interp.WithPruneBelow(cfg.Interpreter.PruneBelow),
		interp.WithRootProgram(a.programs.Root()),
		interp.WithNote(cfg.Interpreter.Note),
		interp.WithEventSink(a.sinks(recorder)),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	res, runErr := in.Run(ctx, objective)
	if eventsPath != "" {
		if err := writeEvents(eventsPath, recorder); err != nil {
			fmt.Fprintln(stderr, err)
		}
	}
	if res != nil && resultPath != "" {
		if err := res.Save(resultPath); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
	}
	if runErr != nil && res == nil {
		fmt.Fprintln(stderr, runErr)
		return exitError
	}

	fmt.Fprintf(stdout, "run_id=%s\n", res.RunID)
	fmt.Fprintf(stdout, "finish_reason=%s\n", res.FinishReason)
	fmt.Fprintf(stdout, "iterations=%d\n", res.Iterations)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, res.Trace)
	if errors.Is(runErr, interp.ErrMaxIterations) {
		fmt.Fprintln(stderr, runErr)
		return exitMaxIters
	}
	return exitOK
}

func writeEvents(path string, rec *inmem.Sink) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, ev := range rec.Events() {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
