package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/pkg/logger"
)

// NATSConfig 描述 NATS 主题参数。
type NATSConfig struct {
	URL     string
	Subject string
	Name    string
}

// NATS 将事件发布到 NATS 主题。
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS 连接到 NATS 服务器。
func NewNATS(cfg NATSConfig) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "agentkit.events"
	}
	name := cfg.Name
	if name == "" {
		name = "agentkit"
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "连接 NATS 失败")
	}
	return &NATS{conn: conn, subject: subject}, nil
}

// Publish 发布事件。
func (n *NATS) Publish(_ context.Context, evt eventbus.Event) error {
	if n == nil || n.conn == nil {
		return xerrors.New(xerrors.CodeSinkFailure, "NATS sink 未初始化")
	}
	payload, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "NATS 发布事件失败")
	}
	return nil
}

// Flush 等待已发布的消息被服务器确认接收。
func (n *NATS) Flush(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Consume 订阅主题并串行处理消息。
func (n *NATS) Consume(ctx context.Context, handler Handler) error {
	if n == nil || n.conn == nil {
		return xerrors.New(xerrors.CodeSinkFailure, "NATS sink 未初始化")
	}
	msgs := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(n.subject, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "订阅 NATS 主题失败")
	}
	defer sub.Unsubscribe()
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "确认 NATS 订阅失败")
	}

	log := logger.Named("sink.nats")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			evt, err := Decode(msg.Data)
			if err != nil {
				log.Warn("丢弃无法解析的事件", slog.Any("error", err))
				continue
			}
			if err := handler(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Close 排空并关闭连接。
func (n *NATS) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

var (
	_ Publisher = (*NATS)(nil)
	_ Consumer  = (*NATS)(nil)
)
