package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Runs against a real Redis when TEST_REDIS_ADDR is set.
func TestRedisQueueIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	stream := "sitegen:test:" + uuid.NewString()
	t.Cleanup(func() {
		rdb.Del(ctx, stream, stream+":dlq")
		_ = rdb.Close()
	})

	q := NewRedisQueue(rdb, RedisConfig{
		Stream:            stream,
		Consumer:          "test",
		MaxReceives:       2,
		VisibilityTimeout: 50 * time.Millisecond,
		MaxVisibility:     100 * time.Millisecond,
		Block:             100 * time.Millisecond,
	}, nil, nil)
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	id := uuid.New()
	if err := q.Enqueue(ctx, NewMessage(id)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.Receive(ctx, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first receive: %v %v", first, err)
	}
	if m, err := Decode(first[0].Body); err != nil || m.OperationID != id {
		t.Fatalf("body: %v %v", m, err)
	}

	// Not acked: redelivered after the visibility timeout.
	time.Sleep(80 * time.Millisecond)
	second, err := q.Receive(ctx, 1)
	if err != nil || len(second) != 1 || second[0].ID != first[0].ID {
		t.Fatalf("redelivery: %v %v", second, err)
	}

	// Delivered MaxReceives times: next reclaim dead-letters it.
	time.Sleep(150 * time.Millisecond)
	third, err := q.Receive(ctx, 1)
	if err != nil || len(third) != 0 {
		t.Fatalf("after max receives: want none got %v %v", third, err)
	}
	if n, err := rdb.XLen(ctx, stream+":dlq").Result(); err != nil || n != 1 {
		t.Fatalf("dlq length: want=1 got=%d err=%v", n, err)
	}

	if err := q.Enqueue(ctx, NewMessage(uuid.New())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d, err := q.Receive(ctx, 1)
	if err != nil || len(d) != 1 {
		t.Fatalf("receive: %v %v", d, err)
	}
	if err := q.Ack(ctx, d[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if again, _ := q.Receive(ctx, 1); len(again) != 0 {
		t.Fatalf("acked message redelivered: %v", again)
	}
}
