package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentkit.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"agent":{"name":"trader","type":"defi"},"journal":{"data_dir":"state"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := filepath.Dir(path)
	if cfg.Agent.Autonomy != "medium" || cfg.Agent.Network != "mock" || cfg.Agent.PrivateKeyEnv != "AGENT_PRIVATE_KEY" {
		t.Fatalf("agent defaults not applied: %+v", cfg.Agent)
	}
	if cfg.Journal.DataDir != filepath.Join(base, "state") {
		t.Fatalf("relative data dir not resolved: %s", cfg.Journal.DataDir)
	}
	if cfg.Simulator.Scenario != "normal_trading" || cfg.Simulator.Duration().Seconds() != 60 {
		t.Fatalf("simulator defaults not applied: %+v", cfg.Simulator)
	}
	if cfg.Sink.Driver != "none" || cfg.LLM.Provider != "none" || cfg.Monitor.Address != ":8080" {
		t.Fatalf("unexpected defaults: sink=%s llm=%s monitor=%s", cfg.Sink.Driver, cfg.LLM.Provider, cfg.Monitor.Address)
	}
}

func TestLoadRejectsInvalidEnums(t *testing.T) {
	path := writeConfig(t, `{"agent":{"name":"","type":"lending","autonomy":"max"},"sink":{"driver":"kafka"}}`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"agent.name", "agent.type", "agent.autonomy", "sink.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestMySQLJournalRequiresDSN(t *testing.T) {
	path := writeConfig(t, `{"agent":{"name":"a","type":"custom"},"journal":{"driver":"mysql"}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("TEST_AGENT_KEY", " 0xabc ")
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	agent := AgentConfig{PrivateKeyEnv: "TEST_AGENT_KEY"}
	if agent.PrivateKey() != "0xabc" {
		t.Fatalf("unexpected private key %q", agent.PrivateKey())
	}
	oa := OpenAIConfig{APIKeyEnv: "TEST_OPENAI_KEY"}
	if oa.ResolvedAPIKey() != "sk-test" {
		t.Fatalf("env api key not used")
	}
	oa.APIKey = "explicit"
	if oa.ResolvedAPIKey() != "explicit" {
		t.Fatalf("explicit api key should win")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Agent: AgentConfig{Name: "gov", Type: "governance", Triggers: []string{"proposal_created"}}}
	cfg.ApplyDefaults(dir)
	path := filepath.Join(dir, "nested", "agentkit.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Agent.Name != "gov" || len(loaded.Agent.Triggers) != 1 {
		t.Fatalf("unexpected loaded config %+v", loaded.Agent)
	}
}

func TestMonitorTokenAuth(t *testing.T) {
	path := writeConfig(t, `{"agent":{"name":"a","type":"custom"},"monitor":{"auth":{"mode":"token","tokens":[{"name":"ops","token_env":"AGENTKIT_OPS_TOKEN"}]}}}`)
	t.Setenv("AGENTKIT_OPS_TOKEN", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tok := cfg.Monitor.Auth.Tokens[0]
	if tok.Resolved() != "s3cret" {
		t.Fatalf("token not read from env: %q", tok.Resolved())
	}
	if len(tok.Permissions) != 1 || tok.Permissions[0] != "agent:read" {
		t.Fatalf("default permissions not applied: %v", tok.Permissions)
	}

	bad := writeConfig(t, `{"agent":{"name":"a","type":"custom"},"monitor":{"auth":{"mode":"token"}}}`)
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "monitor.auth") {
		t.Fatalf("expected monitor.auth validation error, got %v", err)
	}
}
