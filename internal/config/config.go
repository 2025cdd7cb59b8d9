// Package config loads the agentgraph run configuration from YAML, JSON or
// HCL.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Version int `json:"version" yaml:"version" hcl:"version,optional"`

	Programs    *ProgramsConfig    `json:"programs,omitempty" yaml:"programs,omitempty" hcl:"programs,block"`
	Interpreter *InterpreterConfig `json:"interpreter,omitempty" yaml:"interpreter,omitempty" hcl:"interpreter,block"`
	LLM         *LLMConfig         `json:"llm,omitempty" yaml:"llm,omitempty" hcl:"llm,block"`
	Tools       *ToolsConfig       `json:"tools,omitempty" yaml:"tools,omitempty" hcl:"tools,block"`
	Storage     *StorageConfig     `json:"storage,omitempty" yaml:"storage,omitempty" hcl:"storage,block"`
	Events      *EventsConfig      `json:"events,omitempty" yaml:"events,omitempty" hcl:"events,block"`
	Logging     *LoggingConfig     `json:"logging,omitempty" yaml:"logging,omitempty" hcl:"logging,block"`

	// Dir is the directory of the loaded file. Relative program paths are
	// resolved against it.
	Dir string `json:"-" yaml:"-"`
}

type ProgramsConfig struct {
	// Paths are doublestar glob patterns, e.g. "programs/**/*.dot".
	Paths    []string `json:"paths,omitempty" yaml:"paths,omitempty" hcl:"paths,optional"`
	Root     string   `json:"root,omitempty" yaml:"root,omitempty" hcl:"root,optional"`
	Reserved []string `json:"reserved,omitempty" yaml:"reserved,omitempty" hcl:"reserved,optional"`
}

type InterpreterConfig struct {
	MaxIteration        int    `json:"max_iteration,omitempty" yaml:"max_iteration,omitempty" hcl:"max_iteration,optional"`
	MaxDecisionAttempts int    `json:"max_decision_attempts,omitempty" yaml:"max_decision_attempts,omitempty" hcl:"max_decision_attempts,optional"`
	SmartLLMMaxToken    int    `json:"smart_llm_max_token,omitempty" yaml:"smart_llm_max_token,omitempty" hcl:"smart_llm_max_token,optional"`
	FastLLMMaxToken     int    `json:"fast_llm_max_token,omitempty" yaml:"fast_llm_max_token,omitempty" hcl:"fast_llm_max_token,optional"`
	Note                string `json:"note,omitempty" yaml:"note,omitempty" hcl:"note,optional"`
	// PruneBelow drops trace history that no longer fits in this many
	// tokens. Zero keeps everything.
	PruneBelow int `json:"prune_below,omitempty" yaml:"prune_below,omitempty" hcl:"prune_below,optional"`
}

const (
	ProviderOpenAI   = "openai"
	ProviderScripted = "scripted"
)

type ModelConfig struct {
	// Provider is "openai" for any chat.completions endpoint or "scripted"
	// for canned responses.
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty" hcl:"provider,optional"`
	BaseURL     string   `json:"base_url,omitempty" yaml:"base_url,omitempty" hcl:"base_url,optional"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty" hcl:"path,optional"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty" hcl:"model,optional"`
	APIKeyEnv   string   `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty" hcl:"api_key_env,optional"`
	System      string   `json:"system,omitempty" yaml:"system,omitempty" hcl:"system,optional"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" hcl:"temperature,optional"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" hcl:"max_tokens,optional"`
	Responses   []string `json:"responses,omitempty" yaml:"responses,omitempty" hcl:"responses,optional"`
}

type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" hcl:"max_attempts,optional"`
	InitialDelayMS int     `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty" hcl:"initial_delay_ms,optional"`
	BackoffFactor  float64 `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty" hcl:"backoff_factor,optional"`
	MaxDelayMS     int     `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty" hcl:"max_delay_ms,optional"`
}

type LLMConfig struct {
	Smart *ModelConfig `json:"smart,omitempty" yaml:"smart,omitempty" hcl:"smart,block"`
	// Fast defaults to Smart.
	Fast  *ModelConfig `json:"fast,omitempty" yaml:"fast,omitempty" hcl:"fast,block"`
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty" hcl:"retry,block"`
}

type ShellConfig struct {
	TimeoutMS  int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" hcl:"timeout_ms,optional"`
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty" hcl:"working_dir,optional"`
}

const (
	InterviewerAuto    = "auto"
	InterviewerConsole = "console"
)

type ToolsConfig struct {
	Enabled     []string     `json:"enabled,omitempty" yaml:"enabled,omitempty" hcl:"enabled,optional"`
	Interviewer string       `json:"interviewer,omitempty" yaml:"interviewer,omitempty" hcl:"interviewer,optional"`
	Shell       *ShellConfig `json:"shell,omitempty" yaml:"shell,omitempty" hcl:"shell,block"`
}

type PostgresConfig struct {
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" hcl:"dsn,optional"`
}

type StorageConfig struct {
	Postgres *PostgresConfig `json:"postgres,omitempty" yaml:"postgres,omitempty" hcl:"postgres,block"`
}

type MQTTConfig struct {
	BrokerURL string `json:"broker_url,omitempty" yaml:"broker_url,omitempty" hcl:"broker_url,optional"`
	Topic     string `json:"topic,omitempty" yaml:"topic,omitempty" hcl:"topic,optional"`
	ClientID  string `json:"client_id,omitempty" yaml:"client_id,omitempty" hcl:"client_id,optional"`
	Codec     string `json:"codec,omitempty" yaml:"codec,omitempty" hcl:"codec,optional"`
	QoS       int    `json:"qos,omitempty" yaml:"qos,omitempty" hcl:"qos,optional"`
}

type EventsConfig struct {
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty" hcl:"mqtt,block"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty" yaml:"level,omitempty" hcl:"level,optional"`
	NoColor bool   `json:"no_color,omitempty" yaml:"no_color,omitempty" hcl:"no_color,optional"`
}

// Load reads path, picking the decoder from its extension: .json, .hcl, or
// YAML for anything else. Unknown fields are errors in every format.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b, path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.Dir = abs
	return cfg, nil
}

// Parse decodes b as if it had been read from filename, then applies
// defaults and validates.
func Parse(b []byte, filename string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	case ".hcl":
		if err := decodeHCL(b, filename, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

// decodeHCL exposes the process environment as the "env" object, so
// `dsn = env.DATABASE_URL` works.
func decodeHCL(b []byte, filename string, cfg *Config) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(b, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	diags = gohcl.DecodeBody(file.Body, evalContext(), cfg)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return nil
}

func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}
