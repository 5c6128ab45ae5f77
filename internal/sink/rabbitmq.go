package sink

import (
	"context"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// RabbitMQ 将事件投递到 RabbitMQ 队列。
type RabbitMQ struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQ 建立连接并声明队列。
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentkit.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQ{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 以 JSON 消息投递事件。
func (q *RabbitMQ) Publish(ctx context.Context, evt eventbus.Event) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeSinkFailure, "RabbitMQ sink 未初始化")
	}
	payload, err := Encode(evt)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   evt.ID,
		Type:        evt.Type,
		Timestamp:   evt.Timestamp,
		Body:        payload,
	})
}

// Consume 使用手动确认模式读取事件，处理失败的消息会被重新入队。
func (q *RabbitMQ) Consume(ctx context.Context, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeSinkFailure, "RabbitMQ sink 未初始化")
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "订阅 RabbitMQ 队列失败")
	}
	log := logger.Named("sink.rabbitmq")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return xerrors.New(xerrors.CodeSinkFailure, "RabbitMQ 消费通道已关闭")
			}
			evt, err := Decode(msg.Body)
			if err != nil {
				log.Warn("丢弃无法解析的事件", slog.Any("error", err))
				_ = msg.Ack(false)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				_ = msg.Nack(false, true)
				return err
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQ) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var (
	_ Publisher = (*RabbitMQ)(nil)
	_ Consumer  = (*RabbitMQ)(nil)
)
