package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPaths: []string{out}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	ForAgent("agent", "trader").Debug("started", "status", "running")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("decode record %q: %v", data, err)
	}
	if record["component"] != "agent" || record["agent"] != "trader" || record["status"] != "running" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestAuditFallsBackToMainLogger(t *testing.T) {
	if err := Init(Config{OutputPaths: []string{"discard"}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Audit() != L() {
		t.Fatalf("audit logger should reuse the main logger when disabled")
	}
}

func TestAuditRequiresPath(t *testing.T) {
	err := Init(Config{OutputPaths: []string{"discard"}, Audit: AuditConfig{Enabled: true}})
	if err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestAuditWritesToDedicatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "actions.log")
	if err := Init(Config{OutputPaths: []string{"discard"}, Audit: AuditConfig{Enabled: true, Path: path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Audit().Info("action executed", "type", "swap")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(data), `"type":"swap"`) {
		t.Fatalf("audit record missing: %s", data)
	}
}
