package sink

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
)

func sampleEvent(kind string) eventbus.Event {
	return eventbus.Event{
		ID:        "evt-" + kind,
		Type:      kind,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Data:      map[string]any{"price": 101.5},
		Source:    "trader",
	}
}

func TestEncodeDecode(t *testing.T) {
	payload, err := Encode(sampleEvent("price_change"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	evt, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := evt.Data.(map[string]any)
	if !ok || data["price"] != 101.5 {
		t.Fatalf("unexpected data %#v", evt.Data)
	}
	if evt.Source != "trader" || !evt.Timestamp.Equal(sampleEvent("x").Timestamp) {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestForwardFromBus(t *testing.T) {
	mem := NewMemory()
	bus := eventbus.New()
	bus.On(eventbus.Wildcard, Forward(mem))

	if err := bus.Publish(context.Background(), "started", nil, "trader").Wait(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	events := mem.Events()
	if len(events) != 1 || events[0].Type != "started" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestMemoryConsume(t *testing.T) {
	mem := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = mem.Publish(ctx, sampleEvent("a"))
	_ = mem.Publish(ctx, sampleEvent("b"))

	var got []string
	stop := errors.New("stop")
	err := mem.Consume(ctx, func(_ context.Context, evt eventbus.Event) error {
		got = append(got, evt.Type)
		if len(got) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("unexpected consume error %v", err)
	}
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order %v", got)
	}

	_ = mem.Close()
	if err := mem.Publish(ctx, sampleEvent("c")); xerrors.CodeOf(err) != xerrors.CodeSinkFailure {
		t.Fatalf("expected sink failure after close, got %v", err)
	}
}

func TestNATSConnectFailureIsSinkFailure(t *testing.T) {
	_, err := NewNATS(NATSConfig{URL: "nats://127.0.0.1:1"})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeSinkFailure || !xerrors.IsRetryable(err) {
		t.Fatalf("expected retryable sink failure, got %v", err)
	}
}

func TestNATSRoundTrip(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	defer ns.Shutdown()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}

	cfg := NATSConfig{URL: ns.ClientURL(), Subject: "agentkit.test"}
	pub, err := NewNATS(cfg)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()
	sub, err := NewNATS(cfg)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan eventbus.Event, 1)
	done := errors.New("done")
	go func() {
		_ = sub.Consume(ctx, func(_ context.Context, evt eventbus.Event) error {
			received <- evt
			return done
		})
	}()

	// 订阅是异步建立的，持续发布直到消费端收到。
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case evt := <-received:
			if evt.Type != "action_executed" || evt.Source != "trader" {
				t.Fatalf("unexpected event %+v", evt)
			}
			return
		case <-ticker.C:
			if err := pub.Publish(ctx, sampleEvent("action_executed")); err != nil {
				t.Fatalf("publish: %v", err)
			}
			if err := pub.Flush(ctx); err != nil {
				t.Fatalf("flush: %v", err)
			}
		case <-ctx.Done():
			t.Fatalf("event not received")
		}
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("AGENTKIT_TEST_REDIS")
	if addr == "" {
		t.Skip("AGENTKIT_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewRedis(ctx, RedisConfig{Address: addr, Key: "agentkit:test:" + time.Now().Format("150405.000"), BlockWait: time.Second})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer r.Close()

	if err := r.Publish(ctx, sampleEvent("first")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := r.Publish(ctx, sampleEvent("second")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var got []string
	done := errors.New("done")
	err = r.Consume(ctx, func(_ context.Context, evt eventbus.Event) error {
		got = append(got, evt.Type)
		if len(got) == 2 {
			return done
		}
		return nil
	})
	if !errors.Is(err, done) || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected consume result %v %v", got, err)
	}
}

func TestRabbitMQRoundTrip(t *testing.T) {
	url := os.Getenv("AGENTKIT_TEST_AMQP")
	if url == "" {
		t.Skip("AGENTKIT_TEST_AMQP not set")
	}
	q, err := NewRabbitMQ(RabbitMQConfig{URL: url, Queue: "agentkit.test", AutoDelete: true})
	if err != nil {
		t.Fatalf("rabbitmq: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Publish(ctx, sampleEvent("deployed")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	done := errors.New("done")
	err = q.Consume(ctx, func(_ context.Context, evt eventbus.Event) error {
		if evt.Type != "deployed" {
			t.Errorf("unexpected event %+v", evt)
		}
		return done
	})
	if !errors.Is(err, done) {
		t.Fatalf("unexpected consume error %v", err)
	}
}
