// Package pubsub bridges the engine to the platform adapters over Redis
// pub/sub. Adapters publish inbound traffic on the upstream channel; the
// engine publishes outbound traffic on the downstream channel.
package pubsub

import (
	"context"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/iamllama/aussiebot/internal/msg"
)

const reconnectDelay = 200 * time.Millisecond

// Config configures the pub/sub bridge.
type Config struct {
	// UpstreamChannel carries adapter-to-engine traffic.
	UpstreamChannel string
	// DownstreamChannel carries engine-to-adapter traffic.
	DownstreamChannel string
	Logger            *slog.Logger
}

// Bridge relays frames between Redis pub/sub and the engine.
type Bridge struct {
	client     redis.UniversalClient
	upstream   string
	downstream string
	logger     *slog.Logger
}

// New validates the configuration and returns an idle bridge. Call Run to
// start the subscriber.
func New(client redis.UniversalClient, cfg Config) (*Bridge, error) {
	upstream := strings.TrimSpace(cfg.UpstreamChannel)
	if upstream == "" {
		upstream = "aussiebot"
	}
	downstream := strings.TrimSpace(cfg.DownstreamChannel)
	if downstream == "" {
		downstream = "aussiebot_down"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:     client,
		upstream:   upstream,
		downstream: downstream,
		logger:     logger,
	}, nil
}

// Run subscribes to the upstream channel and forwards every payload to
// inbound until ctx is cancelled. The subscription is re-established after
// errors; idle connections are allowed to close and are simply reopened.
func (b *Bridge) Run(ctx context.Context, inbound chan<- msg.Frame) {
	b.logger.Info("pubsub bridge listening", "channel", b.upstream)
	for {
		if err := b.subscribeOnce(ctx, inbound); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("pubsub subscription ended", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *Bridge) subscribeOnce(ctx context.Context, inbound chan<- msg.Frame) error {
	sub := b.client.Subscribe(ctx, b.upstream)
	defer func() { _ = sub.Close() }()

	// Fail fast when the subscribe itself was refused.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-ch:
			if !ok {
				return nil
			}
			frame := msg.Frame{Origin: msg.Pubsub(), Data: []byte(message.Payload)}
			select {
			case inbound <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Publish sends data on the downstream channel without waiting for the
// result. Failures are logged and dropped.
func (b *Bridge) Publish(ctx context.Context, data []byte) {
	go func() {
		if err := b.client.Publish(ctx, b.downstream, data).Err(); err != nil && ctx.Err() == nil {
			b.logger.Error("pubsub publish failed", "channel", b.downstream, "error", err)
		}
	}()
}
