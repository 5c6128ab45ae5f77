// Package eventbus 提供进程内的发布订阅分发器，供 Agent、模拟器与模拟链解耦事件的生产与消费。
//
// 同一事件名下的处理函数按注册顺序依次启动，各自运行在独立的协程中。Emit 不等待它们完成，
// 完成顺序不作保证。处理函数返回错误或 panic 时只记录日志，不影响其他处理函数与调用方。
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentKit-Chain/pkg/logger"
)

// Wildcard 注册的处理函数接收所有事件。
const Wildcard = "*"

// Event 是总线上传递的事件信封。
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// Handler 处理一个事件，返回的错误只影响自身。
type Handler func(ctx context.Context, evt Event) error

// HandlerID 标识一次注册。同一函数注册两次会得到两个 ID，每次事件调用两次。
type HandlerID uint64

type registration struct {
	id      HandlerID
	handler Handler
}

// FailureHook 在处理失败被记录后收到通知。
type FailureHook func(evt Event, err error)

// Bus 将事件分发给已注册的处理函数。
type Bus struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[string][]registration
	log      *slog.Logger
	onFail   FailureHook
}

// Option 用于定制 Bus。
type Option func(*Bus)

// WithLogger 指定记录处理失败的日志器。
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// WithFailureHook 设置处理失败回调。
func WithFailureHook(hook FailureHook) Option {
	return func(b *Bus) {
		b.onFail = hook
	}
}

// New 创建空的事件总线。
func New(opts ...Option) *Bus {
	b := &Bus{handlers: make(map[string][]registration)}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.log == nil {
		b.log = logger.Named("eventbus")
	}
	return b
}

// On 将处理函数追加到 name 的列表末尾，返回注册 ID。
func (b *Bus) On(name string, handler Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], registration{id: id, handler: handler})
	return id
}

// Off 移除指定注册，未知 ID 直接忽略。
func (b *Bus) Off(name string, id HandlerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[name]
	for i, reg := range list {
		if reg.id != id {
			continue
		}
		next := make([]registration, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, name)
		} else {
			b.handlers[name] = next
		}
		return true
	}
	return false
}

// Count 返回 name 下的处理函数数量。
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Publish 将数据封装为事件后分发。
func (b *Bus) Publish(ctx context.Context, name string, data any, source string) *Dispatch {
	return b.Emit(ctx, Event{Type: name, Data: data, Source: source})
}

// Emit 依次把事件交给 evt.Type 与通配符下的处理函数并立即返回。
// 需要等待处理完成时调用返回值的 Wait。
func (b *Bus) Emit(ctx context.Context, evt Event) *Dispatch {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]registration, 0, len(b.handlers[evt.Type])+len(b.handlers[Wildcard]))
	targets = append(targets, b.handlers[evt.Type]...)
	if evt.Type != Wildcard {
		targets = append(targets, b.handlers[Wildcard]...)
	}
	b.mu.RUnlock()

	// 处理函数的生命周期长于 Emit 调用，不继承其取消信号。
	hctx := context.WithoutCancel(ctx)
	d := &Dispatch{delivered: len(targets)}
	d.wg.Add(len(targets))
	go func() {
		for _, reg := range targets {
			entered := make(chan struct{})
			go b.invoke(hctx, d, reg, evt, entered)
			<-entered
		}
	}()
	return d
}

// invoke 在进入处理函数前关闭 entered，调度协程据此按注册顺序启动下一个处理函数。
func (b *Bus) invoke(ctx context.Context, d *Dispatch, reg registration, evt Event, entered chan<- struct{}) {
	defer d.wg.Done()
	err := func() (err error) {
		close(entered)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("处理函数 panic: %v", r)
			}
		}()
		return reg.handler(ctx, evt)
	}()
	if err == nil {
		return
	}
	err = fmt.Errorf("事件 %q 的处理函数 %d: %w", evt.Type, reg.id, err)
	d.fail(err)
	b.log.Warn("事件处理失败", "event", evt.Type, "event_id", evt.ID, "handler", uint64(reg.id), "error", err)
	if b.onFail != nil {
		b.onFail(evt, err)
	}
}
