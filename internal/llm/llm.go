package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request 描述一次决策请求的上下文。
type Request struct {
	Agent    string `json:"agent"`
	Type     string `json:"type"`
	Autonomy string `json:"autonomy"`
	Data     any    `json:"data"`
}

// Response 是模型给出的结构化决策。
type Response struct {
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Params     map[string]any `json:"params,omitempty"`
}

// Client 定义了调用决策模型的统一接口。
type Client interface {
	Decide(ctx context.Context, req Request) (*Response, error)
}

// ParseResponse 解析模型输出的 JSON 决策，并对缺省字段做归一化。
func ParseResponse(content string) (*Response, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("模型输出为空")
	}

	var resp Response
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("解析模型决策失败: %w", err)
	}
	resp.Action = strings.ToLower(strings.TrimSpace(resp.Action))
	if resp.Action == "" {
		resp.Action = "hold"
	}
	switch {
	case resp.Confidence < 0:
		resp.Confidence = 0
	case resp.Confidence > 1:
		resp.Confidence = 1
	}
	return &resp, nil
}
