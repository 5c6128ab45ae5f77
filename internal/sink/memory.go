package sink

import (
	"context"
	"sync"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
)

// Memory 是进程内的事件缓冲，便于测试与本地调试。
type Memory struct {
	mu     sync.Mutex
	events []eventbus.Event
	notify chan struct{}
	closed bool
}

// NewMemory 创建内存 sink。
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

// Publish 追加事件。
func (m *Memory) Publish(_ context.Context, evt eventbus.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return xerrors.New(xerrors.CodeSinkFailure, "memory sink 已关闭")
	}
	m.events = append(m.events, evt)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events 返回已投递事件的副本。
func (m *Memory) Events() []eventbus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eventbus.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Consume 按投递顺序交付事件，已交付的事件会被移出缓冲。
func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		m.mu.Lock()
		pending := m.events
		m.events = nil
		m.mu.Unlock()

		for _, evt := range pending {
			if err := handler(ctx, evt); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.notify:
		}
	}
}

// Close 拒绝后续投递。
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var (
	_ Publisher = (*Memory)(nil)
	_ Consumer  = (*Memory)(nil)
)
