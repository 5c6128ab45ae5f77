package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/pkg/logger"
)

// RedisConfig 描述 Redis 列表的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// Redis 使用 Redis list 转发事件，生产端 LPUSH，消费端 BRPOP。
type Redis struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedis 创建 Redis sink 并检查连通性。
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "agentkit:events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "连接 Redis 失败")
	}
	return &Redis{client: client, key: key, wait: wait}, nil
}

// Publish 将事件写入列表头部。
func (r *Redis) Publish(ctx context.Context, evt eventbus.Event) error {
	payload, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 投递事件失败")
	}
	return nil
}

// Consume 通过 BRPOP 按投递顺序读取事件。
func (r *Redis) Consume(ctx context.Context, handler Handler) error {
	log := logger.Named("sink.redis")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := r.client.BRPop(ctx, r.wait, r.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 读取事件失败")
		}
		if len(values) != 2 {
			continue
		}
		evt, err := Decode([]byte(values[1]))
		if err != nil {
			log.Warn("丢弃无法解析的事件", slog.Any("error", err))
			continue
		}
		if err := handler(ctx, evt); err != nil {
			return err
		}
	}
}

// Close 关闭 Redis 连接。
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var (
	_ Publisher = (*Redis)(nil)
	_ Consumer  = (*Redis)(nil)
)
