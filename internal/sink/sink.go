// Package sink 将 Agent 事件转发到外部消息系统，供其他进程订阅观察。
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"AgentKit-Chain/internal/eventbus"
)

// Handler 处理从外部系统消费到的事件。
type Handler func(ctx context.Context, evt eventbus.Event) error

// Publisher 将事件投递到外部系统。
type Publisher interface {
	Publish(ctx context.Context, evt eventbus.Event) error
	Close() error
}

// Consumer 从外部系统读取事件，直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Encode 将事件序列化为 JSON 信封。
func Encode(evt eventbus.Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return payload, nil
}

// Decode 解析 JSON 信封，Data 字段以通用结构还原。
func Decode(payload []byte) (eventbus.Event, error) {
	var evt eventbus.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return eventbus.Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return evt, nil
}

// Forward 返回一个事件总线处理器，它把收到的事件交给 Publisher。
func Forward(p Publisher) eventbus.Handler {
	return func(ctx context.Context, evt eventbus.Event) error {
		return p.Publish(ctx, evt)
	}
}
