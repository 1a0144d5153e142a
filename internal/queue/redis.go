package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/sitegen-backend/internal/observability"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/pkg/httpx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

const (
	BackendRedis = "redis"
	bodyField    = "body"
)

type RedisConfig struct {
	Stream            string
	DeadLetterStream  string
	Group             string
	Consumer          string
	MaxReceives       int
	VisibilityTimeout time.Duration
	MaxVisibility     time.Duration
	Block             time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Stream == "" {
		c.Stream = "sitegen:generation"
	}
	if c.DeadLetterStream == "" {
		c.DeadLetterStream = c.Stream + ":dlq"
	}
	if c.Group == "" {
		c.Group = "generation-workers"
	}
	if c.Consumer == "" {
		host, _ := os.Hostname()
		c.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.MaxReceives <= 0 {
		c.MaxReceives = 5
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.MaxVisibility <= 0 {
		c.MaxVisibility = 15 * time.Minute
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	return c
}

// RedisQueue is a work queue on a Redis stream with one consumer group.
// Unacked entries stay pending and are reclaimed once idle longer than a
// visibility timeout that doubles with each delivery.
type RedisQueue struct {
	rdb     goredis.UniversalClient
	cfg     RedisConfig
	log     *logger.Logger
	metrics *observability.Metrics
}

var (
	_ Producer = (*RedisQueue)(nil)
	_ Source   = (*RedisQueue)(nil)
)

func NewRedisQueue(rdb goredis.UniversalClient, cfg RedisConfig, log *logger.Logger, metrics *observability.Metrics) *RedisQueue {
	if log == nil {
		log = logger.Nop()
	}
	cfg = cfg.withDefaults()
	return &RedisQueue{
		rdb:     rdb,
		cfg:     cfg,
		log:     log.With("service", "RedisQueue", "stream", cfg.Stream),
		metrics: metrics,
	}
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, m Message) error {
	raw, err := m.Encode()
	if err != nil {
		return apperrors.Validationf("encode queue message: %v", err)
	}
	id, err := q.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{bodyField: string(raw)},
	}).Result()
	if err != nil {
		q.metrics.IncQueueMessage(BackendRedis, "enqueue_error")
		return apperrors.Transientf("redis xadd: %w", err)
	}
	q.metrics.IncQueueMessage(BackendRedis, "enqueued")
	q.log.Debug("message enqueued", "id", id, "operation_id", m.OperationID)
	return nil
}

// EnsureGroup creates the stream and consumer group if missing.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis xgroup create: %w", err)
	}
	return nil
}

// Receive returns up to n deliveries: due pending entries first, then new
// ones. It blocks up to the configured block time when nothing is ready.
func (q *RedisQueue) Receive(ctx context.Context, n int) ([]Delivery, error) {
	if n <= 0 {
		n = 1
	}
	out, err := q.reclaim(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    int64(n),
		Block:    q.cfg.Block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transientf("redis xreadgroup: %w", err)
	}
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, toDelivery(msg))
		}
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, ids...).Err(); err != nil {
		return apperrors.Transientf("redis xack: %w", err)
	}
	return nil
}

// reclaim claims pending entries whose visibility timeout has passed.
// Entries already delivered MaxReceives times move to the dead-letter stream.
func (q *RedisQueue) reclaim(ctx context.Context, n int) ([]Delivery, error) {
	pending, err := q.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Idle:   q.cfg.VisibilityTimeout,
		Start:  "-",
		End:    "+",
		Count:  int64(4 * n),
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, apperrors.Transientf("redis xpending: %w", err)
	}

	var out []Delivery
	for _, p := range pending {
		if len(out) >= n {
			break
		}
		minIdle := RedeliveryDelay(p.RetryCount, q.cfg.VisibilityTimeout, q.cfg.MaxVisibility)
		if p.Idle < minIdle {
			continue
		}
		claimed, err := q.rdb.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			q.log.Warn("redis xclaim failed", "id", p.ID, "error", err)
			continue
		}
		for _, msg := range claimed {
			if int(p.RetryCount) >= q.cfg.MaxReceives {
				q.deadLetter(ctx, msg, p.RetryCount)
				continue
			}
			q.metrics.IncQueueMessage(BackendRedis, "redelivered")
			out = append(out, toDelivery(msg))
		}
	}
	return out, nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, msg goredis.XMessage, deliveries int64) {
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.XAdd(ctx, &goredis.XAddArgs{
			Stream: q.cfg.DeadLetterStream,
			Values: map[string]interface{}{
				bodyField:     msg.Values[bodyField],
				"source_id":   msg.ID,
				"deliveries":  deliveries,
				"redriven_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
		p.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID)
		p.XDel(ctx, q.cfg.Stream, msg.ID)
		return nil
	})
	if err != nil {
		q.log.Error("dead-letter redrive failed", "id", msg.ID, "error", err)
		return
	}
	q.metrics.IncQueueMessage(BackendRedis, "dead_lettered")
	q.log.Warn("message moved to dead-letter stream", "id", msg.ID, "deliveries", deliveries, "dlq", q.cfg.DeadLetterStream)
}

// RedeliveryDelay is how long an entry delivered `deliveries` times must
// sit idle before it is handed out again.
func RedeliveryDelay(deliveries int64, base, limit time.Duration) time.Duration {
	attempt := int(deliveries) - 1
	return httpx.ExponentialBackoff(attempt, base, 2, limit)
}

func toDelivery(msg goredis.XMessage) Delivery {
	var body []byte
	switch v := msg.Values[bodyField].(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	}
	return Delivery{ID: msg.ID, Body: body}
}
