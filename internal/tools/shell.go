package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type ShellConfig struct {
	Timeout    time.Duration
	WorkingDir string
	// Env replaces the process environment when non-nil.
	Env []string
}

const defaultShellTimeout = 10 * time.Second

// Shell runs its input with bash -c. Stdin is empty so commands cannot hang
// waiting for input. Non-zero exits and timeouts are tool errors.
func Shell(cfg ShellConfig) Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultShellTimeout
	}
	return Tool{
		Name:        NameShell,
		Description: "Run a bash command and return its combined stdout and stderr.",
		Parameters:  InputSchema("The bash command line."),
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			cmdStr := strings.TrimSpace(StripCodeFence(StringArg(args, "input")))
			if cmdStr == "" {
				return nil, errors.New("no command specified")
			}
			cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()

			// Non-login, non-interactive shell so user dotfiles are not sourced.
			cmd := exec.CommandContext(cctx, "bash", "-c", cmdStr)
			cmd.Dir = cfg.WorkingDir
			if cfg.Env != nil {
				cmd.Env = cfg.Env
			}
			cmd.Stdin = strings.NewReader("")
			cmd.WaitDelay = time.Second
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out

			err := cmd.Run()
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return out.String(), fmt.Errorf("command timed out after %s", cfg.Timeout)
			}
			if err != nil {
				exitCode := -1
				if cmd.ProcessState != nil {
					exitCode = cmd.ProcessState.ExitCode()
				}
				return out.String(), fmt.Errorf("command failed (exit code %d): %w", exitCode, err)
			}
			return out.String(), nil
		},
	}
}
