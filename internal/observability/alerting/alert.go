package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog   Channel = "log"
	ChannelSlack Channel = "slack"
)

// Event 描述一次需要告警的 Agent 事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Agent      string
	Operation  string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 根据统一错误构造告警事件。
func FromError(agent, operation string, err error) Event {
	evt := Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		Agent:      agent,
		Operation:  operation,
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(err); ok {
		evt.Metadata = e.Metadata()
	}
	return evt
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("渠道 %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 将告警写入结构化日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 以 error 级别记录告警。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	l := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	l.ErrorContext(ctx, "agent alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("agent", event.Agent),
		slog.String("operation", event.Operation),
		slog.String("message", event.Message),
	)
	return nil
}

// SlackSender 负责向 Slack 渠道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 通过 Slack 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("agent", event.Agent))
		return nil
	}
	return n.Sender.Send(ctx, n.ChannelID, formatSlack(event))
}

func formatSlack(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s `%s` %s: %s", event.Severity, event.Code, event.Agent, event.Operation, event.Message)
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• %s: %s", k, event.Metadata[k])
		}
	}
	return b.String()
}
