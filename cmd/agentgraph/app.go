package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/danshapiro/agentgraph/internal/config"
	"github.com/danshapiro/agentgraph/internal/ctxlog"
	"github.com/danshapiro/agentgraph/internal/graphprog/events"
	mqttsink "github.com/danshapiro/agentgraph/internal/graphprog/events/mqtt"
	"github.com/danshapiro/agentgraph/internal/graphprog/store"
	"github.com/danshapiro/agentgraph/internal/graphprog/store/postgres"
	"github.com/danshapiro/agentgraph/internal/llm"
	"github.com/danshapiro/agentgraph/internal/llm/openaicompat"
	"github.com/danshapiro/agentgraph/internal/tools"
)

// programLoader is the write path shared by *store.Memory and
// *postgres.Store.
type programLoader interface {
	store.Loader
	LoadBatch(ctx context.Context, sources [][]byte, opts store.LoadOptions) ([]string, error)
	LoadDir(ctx context.Context, fsys fs.FS, patterns ...string) ([]string, error)
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	programs *store.Memory
	store    store.Store
	loader   programLoader
	pg       *postgres.Store

	closers []func()
}

// newApp builds the program store from cfg and loads the configured program
// files. Programs that fail to load are logged; the error returned by
// LoadDir is passed back so callers can decide whether it is fatal.
func newApp(ctx context.Context, cfg *config.Config, root string, stderr io.Writer) (*app, context.Context, error) {
	level, err := ctxlog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, ctx, err
	}
	logger := ctxlog.NewLogger(stderr, level, cfg.Logging.NoColor)
	ctx = ctxlog.WithLogger(ctx, logger)

	if root == "" {
		root = cfg.Programs.Root
	}
	mem := store.NewMemory()
	mem.SetRoot(root)
	mem.Reserve(cfg.Programs.Reserved...)

	a := &app{cfg: cfg, logger: logger, programs: mem, store: mem, loader: mem}
	if pg := cfg.Storage.Postgres; pg != nil {
		ps, err := postgres.Open(ctx, pg.DSN, mem)
		if err != nil {
			return nil, ctx, err
		}
		a.store = ps
		a.loader = ps
		a.pg = ps
		a.closers = append(a.closers, func() { _ = ps.Close() })
	}
	return a, ctx, nil
}

func (a *app) loadConfiguredPrograms(ctx context.Context) ([]string, error) {
	dir := a.cfg.Dir
	if dir == "" {
		dir = "."
	}
	names, loadErr := a.loader.LoadDir(ctx, os.DirFS(dir), a.cfg.ProgramPatterns()...)
	if a.pg != nil {
		restored, err := a.pg.Restore(ctx)
		if err != nil {
			return names, errors.Join(loadErr, err)
		}
		names = append(names, restored...)
	}
	return names, loadErr
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) models() (smart, fast llm.Model, err error) {
	smart, err = buildModel(a.cfg.LLM.Smart, a.cfg.LLM.Retry)
	if err != nil {
		return nil, nil, fmt.Errorf("llm.smart: %w", err)
	}
	if reflect.DeepEqual(a.cfg.LLM.Smart, a.cfg.LLM.Fast) {
		return smart, smart, nil
	}
	fast, err = buildModel(a.cfg.LLM.Fast, a.cfg.LLM.Retry)
	if err != nil {
		return nil, nil, fmt.Errorf("llm.fast: %w", err)
	}
	return smart, fast, nil
}

func buildModel(m *config.ModelConfig, r *config.RetryConfig) (llm.Model, error) {
	switch m.Provider {
	case config.ProviderScripted:
		return llm.NewScripted(m.Responses...), nil
	case config.ProviderOpenAI:
		adapter := openaicompat.NewAdapter(openaicompat.Config{
			Provider:    m.Provider,
			APIKey:      m.APIKey(),
			BaseURL:     m.BaseURL,
			Path:        m.Path,
			Model:       m.Model,
			System:      m.System,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		})
		return llm.WithRetry(adapter, llm.RetryConfig{
			MaxAttempts:    r.MaxAttempts,
			InitialDelayMS: r.InitialDelayMS,
			BackoffFactor:  r.BackoffFactor,
			MaxDelayMS:     r.MaxDelayMS,
		}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", m.Provider)
}

func (a *app) tools(stdin io.Reader, stderr io.Writer) (*tools.Registry, error) {
	var iv tools.Interviewer = tools.AutoApproveInterviewer{}
	if a.cfg.Tools.Interviewer == config.InterviewerConsole {
		iv = &tools.ConsoleInterviewer{In: stdin, Out: stderr}
	}
	return tools.NewBuiltinRegistry(a.cfg.Tools.Enabled, tools.BuiltinOptions{
		Interviewer: iv,
		Shell: tools.ShellConfig{
			Timeout:    time.Duration(a.cfg.Tools.Shell.TimeoutMS) * time.Millisecond,
			WorkingDir: a.cfg.Tools.Shell.WorkingDir,
		},
	})
}

// sinks returns the configured event sinks plus extra. An unreachable MQTT
// broker is logged and skipped.
func (a *app) sinks(extra ...events.Sink) events.Sink {
	all := append([]events.Sink(nil), extra...)
	if m := a.cfg.Events.MQTT; m != nil {
		s, err := mqttsink.Dial(mqttsink.Config{
			BrokerURL: m.BrokerURL,
			ClientID:  m.ClientID,
			Topic:     m.Topic,
			Codec:     m.Codec,
			QoS:       byte(m.QoS),
		})
		if err != nil {
			a.logger.Warn("event publishing disabled", "broker", m.BrokerURL, "error", err)
		} else {
			all = append(all, s)
			a.closers = append(a.closers, s.Close)
		}
	}
	return events.Join(all...)
}
