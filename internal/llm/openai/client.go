package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"AgentKit-Chain/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 go-openai 调用模型完成决策。
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}, nil
}

// Decide 调用模型生成结构化决策。
func (c *Client) Decide(ctx context.Context, req llm.Request) (*llm.Response, error) {
	prompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}
	return llm.ParseResponse(resp.Choices[0].Message.Content)
}

const systemPrompt = "" +
	"You are the decision engine of an autonomous on-chain agent. " +
	"Reply with one compact JSON object: " +
	"{\"action\": string, \"confidence\": number between 0 and 1, \"reasoning\": string, \"params\": object}. " +
	"Use \"hold\" when no action is justified."

func buildUserPrompt(req llm.Request) (string, error) {
	data, err := json.Marshal(req.Data)
	if err != nil {
		return "", fmt.Errorf("序列化事件数据失败: %w", err)
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Agent: %s (%s, autonomy %s)\n", req.Agent, req.Type, req.Autonomy)
	builder.WriteString("Observed data:\n")
	builder.Write(data)
	builder.WriteString("\nDecide the next action.")
	return builder.String(), nil
}
