// Package scriptbridge 把决策交给外部脚本：脚本从标准输入读取 JSON 请求，
// 并向标准输出打印 JSON 决策。
package scriptbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"AgentKit-Chain/internal/llm"
)

// Client 通过调用外部脚本完成决策。
type Client struct {
	executable string
	scriptPath string
	workingDir string
}

// NewClient 创建脚本桥客户端，executable 为空时默认使用 python3。
func NewClient(executable, scriptPath, workingDir string) (*Client, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return nil, fmt.Errorf("未指定决策脚本路径")
	}
	if executable == "" {
		executable = "python3"
	}
	return &Client{
		executable: executable,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Decide 调用外部脚本，并解析输出。
func (c *Client) Decide(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(struct {
		llm.Request
		Timestamp int64 `json:"timestamp"`
	}{Request: req, Timestamp: time.Now().Unix()})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.executable, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行决策脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}
	return llm.ParseResponse(stdout.String())
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
