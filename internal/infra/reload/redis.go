package reload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mkrupp/userstore/internal/infra/logging"
	"github.com/mkrupp/userstore/internal/infra/metrics"
)

// ErrNoRedis is returned when Redis reload propagation is used without an address.
var ErrNoRedis = errors.New("redis address not configured")

// RedisConfig holds configuration for Redis reload propagation.
type RedisConfig struct {
	// Addr is the Redis host:port; empty disables propagation
	Addr string `env:"REDIS_ADDR" default:""`

	// Password authenticates against Redis
	Password string `env:"REDIS_PASSWORD" default:""`

	// DB selects the Redis logical database
	DB int `env:"REDIS_DB" default:"0"`

	// Channel is the pub/sub channel notifications are published on
	Channel string `env:"CHANNEL" default:"userstore:identity:reload"`
}

// Enabled reports whether an address is configured.
func (cfg RedisConfig) Enabled() bool {
	return cfg.Addr != ""
}

// NewRedisClient creates a client for cfg and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNoRedis
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// Message is published for every identity change.
type Message struct {
	Origin string `json:"origin"` // Publisher instance id
	At     int64  `json:"at"`     // Unix timestamp of the change
}

// RedisPublisher broadcasts reload notifications to other processes.
// It implements the user store's reload notifier.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	origin  string
}

// NewRedisPublisher creates a publisher on channel with a fresh origin id.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Origin returns the id subscribers use to recognize this publisher's messages.
func (p *RedisPublisher) Origin() string {
	return p.origin
}

// Reload publishes a notification.
func (p *RedisPublisher) Reload(ctx context.Context) error {
	payload, err := json.Marshal(Message{Origin: p.origin, At: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}

	return nil
}

// Subscribe forwards notifications on channel to target until ctx is done.
// Messages whose origin equals ignoreOrigin are skipped; pass "" to forward everything.
// ready, if not nil, is closed once the subscription is confirmed.
// Returns ctx.Err() on cancellation or an error if the subscription fails.
func Subscribe(
	ctx context.Context,
	client redis.UniversalClient,
	channel string,
	ignoreOrigin string,
	target Target,
	ready chan<- struct{},
) error {
	log := logging.GetLogger("infra.reload.redis").With("channel", channel)

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	if ready != nil {
		close(ready)
	}

	log.InfoContext(ctx, "subscribed")

	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.WarnContext(ctx, "dropping malformed message", "error", err)

				continue
			}

			if ignoreOrigin != "" && m.Origin == ignoreOrigin {
				continue
			}

			if err := target.Reload(ctx); err != nil {
				metrics.Reloads.WithLabelValues("redis", metrics.ResultError).Inc()
				log.WarnContext(ctx, "reload failed", "origin", m.Origin, "error", err)

				continue
			}

			metrics.Reloads.WithLabelValues("redis", metrics.ResultOK).Inc()
			log.DebugContext(ctx, "reloaded", "origin", m.Origin)
		}
	}
}
