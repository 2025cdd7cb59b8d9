package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
llm:
  smart:
    base_url: http://localhost:8080
    model: small-model
`

func TestLoad_YAMLDefaults(t *testing.T) {
	path := writeFile(t, "run.yaml", minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 1, cfg.Version)
	require.Equal(t, DefaultRoot, cfg.Programs.Root)
	require.Equal(t, []string{"**/*.dot"}, cfg.ProgramPatterns())
	require.Equal(t, 50, cfg.Interpreter.MaxIteration)
	require.Equal(t, 5, cfg.Interpreter.MaxDecisionAttempts)
	require.Equal(t, 2048, cfg.Interpreter.SmartLLMMaxToken)
	require.Equal(t, 1024, cfg.Interpreter.FastLLMMaxToken)
	require.Equal(t, ProviderOpenAI, cfg.LLM.Smart.Provider)
	require.Equal(t, "OPENAI_API_KEY", cfg.LLM.Smart.APIKeyEnv)
	require.Equal(t, "small-model", cfg.LLM.Fast.Model, "fast model defaults to smart")
	require.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	require.Equal(t, 200, cfg.LLM.Retry.InitialDelayMS)
	require.Equal(t, InterviewerAuto, cfg.Tools.Interviewer)
	require.Equal(t, DefaultShellTimeoutMS, cfg.Tools.Shell.TimeoutMS)
	require.Nil(t, cfg.Storage.Postgres)
	require.Nil(t, cfg.Events.MQTT)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, filepath.Dir(path), cfg.Dir)
}

func TestLoad_YAMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "run.yml", minimalYAML+"\nbogus: true\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus")
}

func TestLoad_YAMLRejectsMultipleDocuments(t *testing.T) {
	path := writeFile(t, "run.yaml", minimalYAML+"\n---\nversion: 1\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "multiple documents")
}

func TestLoad_JSONStrict(t *testing.T) {
	good := `{
  "programs": {"paths": ["programs/*.dot"], "root": "entry", "reserved": ["admin"]},
  "interpreter": {"max_iteration": 12, "note": "be terse", "prune_below": 4096},
  "llm": {"smart": {"provider": "scripted", "responses": ["YES"]}},
  "events": {"mqtt": {"broker_url": "tcp://localhost:1883", "codec": "msgpack", "qos": 1}}
}`
	cfg, err := Load(writeFile(t, "run.json", good))
	require.NoError(t, err)
	require.Equal(t, "entry", cfg.Programs.Root)
	require.Equal(t, []string{"admin"}, cfg.Programs.Reserved)
	require.Equal(t, 12, cfg.Interpreter.MaxIteration)
	require.Equal(t, "be terse", cfg.Interpreter.Note)
	require.Equal(t, 4096, cfg.Interpreter.PruneBelow)
	require.Equal(t, []string{"YES"}, cfg.LLM.Fast.Responses)
	require.Equal(t, DefaultMQTTTopic, cfg.Events.MQTT.Topic)
	require.Equal(t, "msgpack", cfg.Events.MQTT.Codec)

	_, err = Load(writeFile(t, "bad.json", `{"llm": {"smart": {"provider": "scripted"}}, "extra": 1}`))
	require.ErrorContains(t, err, "unknown field")

	_, err = Load(writeFile(t, "two.json", `{"version": 1} {"version": 1}`))
	require.ErrorContains(t, err, "multiple top-level values")
}

func TestLoad_HCL(t *testing.T) {
	t.Setenv("AGENTGRAPH_TEST_DSN", "postgres://u@localhost/agentgraph?sslmode=disable")
	body := `
programs {
  paths = ["programs/**/*.dot"]
  root  = "main"
}

interpreter {
  max_iteration         = 20
  max_decision_attempts = 2
}

llm {
  smart {
    base_url    = "https://api.example.com"
    model       = "big"
    temperature = 0.2
  }
  fast {
    base_url = "https://api.example.com"
    model    = "small"
  }
}

tools {
  enabled = ["update_objective", "shell"]
  shell {
    timeout_ms = 2500
  }
}

storage {
  postgres {
    dsn = env.AGENTGRAPH_TEST_DSN
  }
}

logging {
  level    = "debug"
  no_color = true
}
`
	cfg, err := Load(writeFile(t, "run.hcl", body))
	require.NoError(t, err)
	require.Equal(t, []string{"programs/**/*.dot"}, cfg.Programs.Paths)
	require.Equal(t, 20, cfg.Interpreter.MaxIteration)
	require.Equal(t, 2, cfg.Interpreter.MaxDecisionAttempts)
	require.Equal(t, "big", cfg.LLM.Smart.Model)
	require.NotNil(t, cfg.LLM.Smart.Temperature)
	require.InDelta(t, 0.2, *cfg.LLM.Smart.Temperature, 1e-9)
	require.Equal(t, "small", cfg.LLM.Fast.Model)
	require.Equal(t, []string{"update_objective", "shell"}, cfg.Tools.Enabled)
	require.Equal(t, 2500, cfg.Tools.Shell.TimeoutMS)
	require.Equal(t, "postgres://u@localhost/agentgraph?sslmode=disable", cfg.Storage.Postgres.DSN)
	require.True(t, cfg.Logging.NoColor)
}

func TestLoad_HCLRejectsUnknownAttributes(t *testing.T) {
	_, err := Load(writeFile(t, "run.hcl", `
llm {
  smart {
    provider = "scripted"
  }
}
colour = "blue"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "colour")
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing base url":      "llm:\n  smart:\n    model: m\n",
		"missing model":         "llm:\n  smart:\n    base_url: http://x\n",
		"unknown provider":      "llm:\n  smart:\n    provider: carrier-pigeon\n",
		"bad temperature":       "llm:\n  smart:\n    provider: scripted\n    temperature: 3\n",
		"negative iterations":   "llm:\n  smart:\n    provider: scripted\ninterpreter:\n  max_iteration: -1\n",
		"negative prune_below":  "llm:\n  smart:\n    provider: scripted\ninterpreter:\n  prune_below: -1\n",
		"bad interviewer":       "llm:\n  smart:\n    provider: scripted\ntools:\n  interviewer: telepathy\n",
		"empty postgres dsn":    "llm:\n  smart:\n    provider: scripted\nstorage:\n  postgres: {}\n",
		"mqtt without broker":   "llm:\n  smart:\n    provider: scripted\nevents:\n  mqtt: {topic: x}\n",
		"bad mqtt codec":        "llm:\n  smart:\n    provider: scripted\nevents:\n  mqtt: {broker_url: 'tcp://h:1883', codec: xml}\n",
		"bad log level":         "llm:\n  smart:\n    provider: scripted\nlogging:\n  level: loud\n",
		"absolute program path": "llm:\n  smart:\n    provider: scripted\nprograms:\n  paths: [/etc/*.dot]\n",
		"bad version":           "version: 2\nllm:\n  smart:\n    provider: scripted\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body), "run.yaml")
			require.Error(t, err)
		})
	}
}

func TestModelConfig_APIKey(t *testing.T) {
	t.Setenv("AGENTGRAPH_TEST_KEY", "  sk-test  ")
	m := &ModelConfig{APIKeyEnv: "AGENTGRAPH_TEST_KEY"}
	require.Equal(t, "sk-test", m.APIKey())
	require.Equal(t, "", (&ModelConfig{}).APIKey())
}
