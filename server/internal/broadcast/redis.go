package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/server/internal/metrics"
	"go.uber.org/zap"
)

const (
	relayOutbox     = 256
	relayRetryBase  = 500 * time.Millisecond
	relayRetryMax   = 30 * time.Second
	relayPubTimeout = 2 * time.Second
)

// RedisRelay publishes through a Redis channel so that every instance's
// hub sees every event. Publish never waits on Redis: messages are queued
// and sent by Run. While the subscription is down, messages go straight to
// the local hub.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	hub        *Hub
	outbox     chan []byte
	subscribed atomic.Bool
	logger     *zap.Logger
}

// NewRedisClient parses a redis:// URL and checks the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisRelay creates a relay delivering to hub
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		outbox:  make(chan []byte, relayOutbox),
		logger:  logger,
	}
}

// Subscribed reports whether the relay is currently receiving from Redis
func (r *RedisRelay) Subscribed() bool {
	return r.subscribed.Load()
}

// Publish queues msg for Redis. When the subscription is down or the
// queue is full the message is delivered to the local hub instead.
func (r *RedisRelay) Publish(msg model.BroadcastMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to encode broadcast", zap.Error(err))
		return
	}

	if !r.subscribed.Load() {
		r.hub.Deliver(data)
		return
	}
	select {
	case r.outbox <- data:
	default:
		metrics.RelayErrors.WithLabelValues("queue_full").Inc()
		r.hub.Deliver(data)
	}
}

// Run sends queued messages to Redis and delivers the channel's messages to
// the local hub until ctx is done. A dropped subscription is retried with
// exponential backoff.
func (r *RedisRelay) Run(ctx context.Context) {
	go r.drain(ctx)

	delay := relayRetryBase
	for {
		err := r.subscribe(ctx, func() { delay = relayRetryBase })
		r.subscribed.Store(false)
		if ctx.Err() != nil {
			return
		}
		metrics.RelayErrors.WithLabelValues("subscribe").Inc()
		r.logger.Warn("redis subscription lost, delivering locally",
			zap.Error(err), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, relayRetryMax)
	}
}

// subscribe runs one subscription until it fails or ctx is done
func (r *RedisRelay) subscribe(ctx context.Context, onSubscribed func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	onSubscribed()
	r.logger.Info("redis relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.hub.Deliver([]byte(m.Payload))
		}
	}
}

func (r *RedisRelay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.outbox:
			r.send(ctx, data)
		}
	}
}

func (r *RedisRelay) send(ctx context.Context, data []byte) {
	if !r.subscribed.Load() {
		r.hub.Deliver(data)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, relayPubTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.RelayErrors.WithLabelValues("publish").Inc()
		r.logger.Warn("redis publish failed, delivering locally", zap.Error(err))
		r.hub.Deliver(data)
	}
}
