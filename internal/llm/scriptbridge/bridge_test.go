package scriptbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"AgentKit-Chain/internal/llm"
)

func TestDecideRunsScript(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "decide.sh")
	body := "#!/bin/sh\ncat >/dev/null\necho '{\"action\":\"buy\",\"confidence\":0.7,\"reasoning\":\"script\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(sh, "decide.sh", dir)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Decide(context.Background(), llm.Request{Agent: "a", Data: map[string]any{"x": 1}})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if resp.Action != "buy" || resp.Confidence != 0.7 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDecideSurfacesScriptFailure(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho nope >&2\nexit 3\n"), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	client, _ := NewClient(sh, script, "")
	if _, err := client.Decide(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected script failure")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/base", "s.py"); got != filepath.Join("/base", "s.py") {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/base", "/abs/s.py"); got != "/abs/s.py" {
		t.Fatalf("absolute path should be kept: %s", got)
	}
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error without script path")
	}
}
