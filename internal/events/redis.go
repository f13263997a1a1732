package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher fans events out on a Redis pub/sub channel for downstream
// consumers (notifications, reporting).
type RedisPublisher struct {
	log     *zap.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(ctx context.Context, log *zap.Logger, addr, channel string) (*RedisPublisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "lending.events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{
		log:     log.With(zap.String("component", "redis-publisher")),
		rdb:     rdb,
		channel: channel,
	}, nil
}

// Publish seals and publishes each event.
func (p *RedisPublisher) Publish(ctx context.Context, evs ...Event) error {
	for _, ev := range evs {
		env, err := Seal(ev)
		if err != nil {
			return err
		}
		if err := p.PublishEnvelope(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// PublishEnvelope publishes an already serialized event.
func (p *RedisPublisher) PublishEnvelope(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", env.Type, err)
	}
	p.log.Debug("event published", zap.String("type", env.Type), zap.Stringer("aggregate_id", env.AggregateID))
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
