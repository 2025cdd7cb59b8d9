package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danshapiro/agentgraph/internal/ctxlog"
)

const (
	DefaultRoot                = "main"
	DefaultMaxIteration        = 50
	DefaultMaxDecisionAttempts = 5
	DefaultSmartLLMMaxToken    = 2048
	DefaultFastLLMMaxToken     = 1024
	DefaultShellTimeoutMS      = 10000
	DefaultMQTTTopic           = "agentgraph/runs"
)

func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if cfg.Programs == nil {
		cfg.Programs = &ProgramsConfig{}
	}
	cfg.Programs.Paths = trimNonEmpty(cfg.Programs.Paths)
	cfg.Programs.Reserved = trimNonEmpty(cfg.Programs.Reserved)
	cfg.Programs.Root = strings.TrimSpace(cfg.Programs.Root)
	if cfg.Programs.Root == "" {
		cfg.Programs.Root = DefaultRoot
	}

	if cfg.Interpreter == nil {
		cfg.Interpreter = &InterpreterConfig{}
	}
	in := cfg.Interpreter
	if in.MaxIteration == 0 {
		in.MaxIteration = DefaultMaxIteration
	}
	if in.MaxDecisionAttempts == 0 {
		in.MaxDecisionAttempts = DefaultMaxDecisionAttempts
	}
	if in.SmartLLMMaxToken == 0 {
		in.SmartLLMMaxToken = DefaultSmartLLMMaxToken
	}
	if in.FastLLMMaxToken == 0 {
		in.FastLLMMaxToken = DefaultFastLLMMaxToken
	}

	if cfg.LLM == nil {
		cfg.LLM = &LLMConfig{}
	}
	if cfg.LLM.Smart == nil {
		cfg.LLM.Smart = &ModelConfig{}
	}
	applyModelDefaults(cfg.LLM.Smart)
	if cfg.LLM.Fast == nil {
		fast := *cfg.LLM.Smart
		cfg.LLM.Fast = &fast
	}
	applyModelDefaults(cfg.LLM.Fast)
	if cfg.LLM.Retry == nil {
		cfg.LLM.Retry = &RetryConfig{}
	}
	r := cfg.LLM.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelayMS == 0 {
		r.InitialDelayMS = 200
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = 2.0
	}
	if r.MaxDelayMS == 0 {
		r.MaxDelayMS = 60000
	}

	if cfg.Tools == nil {
		cfg.Tools = &ToolsConfig{}
	}
	cfg.Tools.Enabled = trimNonEmpty(cfg.Tools.Enabled)
	cfg.Tools.Interviewer = strings.ToLower(strings.TrimSpace(cfg.Tools.Interviewer))
	if cfg.Tools.Interviewer == "" {
		cfg.Tools.Interviewer = InterviewerAuto
	}
	if cfg.Tools.Shell == nil {
		cfg.Tools.Shell = &ShellConfig{}
	}
	if cfg.Tools.Shell.TimeoutMS == 0 {
		cfg.Tools.Shell.TimeoutMS = DefaultShellTimeoutMS
	}

	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Storage.Postgres != nil {
		cfg.Storage.Postgres.DSN = strings.TrimSpace(cfg.Storage.Postgres.DSN)
	}

	if cfg.Events == nil {
		cfg.Events = &EventsConfig{}
	}
	if m := cfg.Events.MQTT; m != nil {
		m.BrokerURL = strings.TrimSpace(m.BrokerURL)
		if strings.TrimSpace(m.Topic) == "" {
			m.Topic = DefaultMQTTTopic
		}
		m.Codec = strings.ToLower(strings.TrimSpace(m.Codec))
		if m.Codec == "" {
			m.Codec = "json"
		}
		if m.ClientID == "" {
			m.ClientID = "agentgraph"
		}
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

func applyModelDefaults(m *ModelConfig) {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Provider == "" {
		m.Provider = ProviderOpenAI
	}
	m.BaseURL = strings.TrimSpace(m.BaseURL)
	m.Model = strings.TrimSpace(m.Model)
	if m.Provider == ProviderOpenAI && m.APIKeyEnv == "" {
		m.APIKeyEnv = "OPENAI_API_KEY"
	}
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	in := cfg.Interpreter
	if in.MaxIteration < 1 {
		return fmt.Errorf("interpreter.max_iteration must be >= 1")
	}
	if in.MaxDecisionAttempts < 1 {
		return fmt.Errorf("interpreter.max_decision_attempts must be >= 1")
	}
	if in.SmartLLMMaxToken < 0 || in.FastLLMMaxToken < 0 {
		return fmt.Errorf("interpreter token budgets must be >= 0")
	}
	if in.PruneBelow < 0 {
		return fmt.Errorf("interpreter.prune_below must be >= 0")
	}
	for _, name := range cfg.Programs.Reserved {
		if strings.ContainsAny(name, " \t/") {
			return fmt.Errorf("programs.reserved: invalid program name %q", name)
		}
	}
	for _, p := range cfg.Programs.Paths {
		if filepath.IsAbs(p) {
			return fmt.Errorf("programs.paths: %q must be relative to the config file", p)
		}
	}
	if err := validateModel("llm.smart", cfg.LLM.Smart); err != nil {
		return err
	}
	if err := validateModel("llm.fast", cfg.LLM.Fast); err != nil {
		return err
	}
	r := cfg.LLM.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be >= 1")
	}
	if r.InitialDelayMS < 0 || r.MaxDelayMS < 0 {
		return fmt.Errorf("llm.retry delays must be >= 0")
	}
	if r.BackoffFactor < 1 {
		return fmt.Errorf("llm.retry.backoff_factor must be >= 1")
	}
	switch cfg.Tools.Interviewer {
	case InterviewerAuto, InterviewerConsole:
	default:
		return fmt.Errorf("tools.interviewer must be auto or console (got %q)", cfg.Tools.Interviewer)
	}
	if cfg.Tools.Shell.TimeoutMS < 0 {
		return fmt.Errorf("tools.shell.timeout_ms must be >= 0")
	}
	if pg := cfg.Storage.Postgres; pg != nil && pg.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required when storage.postgres is set")
	}
	if m := cfg.Events.MQTT; m != nil {
		if m.BrokerURL == "" {
			return fmt.Errorf("events.mqtt.broker_url is required when events.mqtt is set")
		}
		if m.Codec != "json" && m.Codec != "msgpack" {
			return fmt.Errorf("events.mqtt.codec must be json or msgpack (got %q)", m.Codec)
		}
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("events.mqtt.qos must be 0, 1 or 2")
		}
	}
	if _, err := ctxlog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func validateModel(field string, m *ModelConfig) error {
	switch m.Provider {
	case ProviderOpenAI:
		if m.BaseURL == "" {
			return fmt.Errorf("%s.base_url is required", field)
		}
		if m.Model == "" {
			return fmt.Errorf("%s.model is required", field)
		}
	case ProviderScripted:
	default:
		return fmt.Errorf("%s.provider must be openai or scripted (got %q)", field, m.Provider)
	}
	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
		return fmt.Errorf("%s.temperature must be in [0, 2]", field)
	}
	if m.MaxTokens < 0 {
		return fmt.Errorf("%s.max_tokens must be >= 0", field)
	}
	return nil
}

// APIKey reads the key named by APIKeyEnv. An empty result is allowed for
// local servers that do not check keys.
func (m *ModelConfig) APIKey() string {
	if m == nil || m.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(m.APIKeyEnv))
}

// ProgramPatterns returns Programs.Paths, or "**/*.dot" when none are set.
func (c *Config) ProgramPatterns() []string {
	if len(c.Programs.Paths) == 0 {
		return []string{"**/*.dot"}
	}
	return c.Programs.Paths
}

func trimNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
