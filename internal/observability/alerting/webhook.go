package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender 通过 Slack incoming webhook 发送消息。
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// Send 实现 SlackSender。
func (s *WebhookSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 slack webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook 返回 %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
