// Package auth implements the one-time-code login flow for operator
// sessions. Codes are minted on request, delivered out of band through a
// Discord ping, and checked against a per-IP rate limit.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/msg"
)

const (
	// DefaultRatelimitCount is the number of auth frames allowed per window.
	DefaultRatelimitCount = 10
	// DefaultRatelimitBurst is the rate-limit window.
	DefaultRatelimitBurst = 20 * time.Second
)

// Config configures the authenticator.
type Config struct {
	// Channel namespaces the cache keys.
	Channel string
	// RatelimitCount caps auth frames per window per peer address.
	RatelimitCount uint64
	// RatelimitBurst is the window attached to the counter on creation.
	RatelimitBurst time.Duration
	Logger         *slog.Logger
}

// Authenticator validates login attempts. It is stateless apart from the
// cache, so a single instance serves every connection.
type Authenticator struct {
	cache     *cache.Cache
	outbound  chan<- msg.Outbound
	channel   string
	users     Users
	usernames []string
	count     uint64
	burst     time.Duration
	logger    *slog.Logger
}

// New builds an authenticator over the loaded user table. Code pings are
// routed through outbound.
func New(c *cache.Cache, outbound chan<- msg.Outbound, users Users, cfg Config) *Authenticator {
	count := cfg.RatelimitCount
	if count == 0 {
		count = DefaultRatelimitCount
	}
	burst := cfg.RatelimitBurst
	if burst <= 0 {
		burst = DefaultRatelimitBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	usernames := make([]string, 0, len(users))
	for name := range users {
		usernames = append(usernames, name)
	}
	return &Authenticator{
		cache:     c,
		outbound:  outbound,
		channel:   cfg.Channel,
		users:     users,
		usernames: usernames,
		count:     count,
		burst:     burst,
		logger:    logger,
	}
}

func (a *Authenticator) ratelimitKey(peer string) string {
	return fmt.Sprintf("aussiebot!%s!loginrl!%s", a.channel, peer)
}

func (a *Authenticator) codeKey(user string) string {
	return fmt.Sprintf("aussiebot!%s!login!%s", a.channel, user)
}

func generateCode() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic(err)
	}
	return fmt.Sprintf("%08X%08X",
		binary.BigEndian.Uint32(buf[:4]),
		binary.BigEndian.Uint32(buf[4:]))
}

// Handle processes one pre-auth frame from peer. Every frame counts against
// the peer's rate limit, including ListUsers.
func (a *Authenticator) Handle(ctx context.Context, peer string, req Request) (Reply, error) {
	rlKey := a.ratelimitKey(peer)
	count, err := a.cache.Incr(ctx, rlKey, 1, a.burst)
	if err != nil {
		return Reply{}, err
	}
	a.logger.Debug("auth attempt", "peer", peer, "count", count)
	if count > a.count {
		return Reply{Kind: ReplyRatelimited}, nil
	}

	switch req.Kind {
	case RequestListUsers:
		return Reply{Kind: ReplyUsers, Users: a.usernames}, nil
	case RequestCode:
		return a.requestCode(ctx, req.User)
	case RequestLogin:
		return a.login(ctx, rlKey, count, req.User, req.Code)
	}
	return Reply{}, fmt.Errorf("auth: invalid request kind %d", req.Kind)
}

func (a *Authenticator) requestCode(ctx context.Context, user string) (Reply, error) {
	entry, ok := a.users[user]
	if !ok {
		return Reply{Kind: ReplyInvalidUser}, nil
	}

	code := generateCode()
	key := a.codeKey(user)
	ttl := time.Duration(entry.TTL) * time.Second
	a.logger.Debug("storing login code", "key", key, "ttl", ttl)

	set, err := a.cache.Set(ctx, key, code, ttl, false)
	if err != nil {
		return Reply{}, err
	}
	if !set {
		a.logger.Error("could not store login code", "key", key)
		return Reply{Kind: ReplyServerError}, nil
	}

	// Deliver the code via a Discord DM ping.
	text := fmt.Sprintf("`%s`", code)
	ping := msg.Ping{
		Pingee: msg.User{ID: entry.DiscordID, Perms: msg.PermNone},
		Text:   &text,
	}
	response := msg.Response{
		Platform: msg.PlatformDiscord,
		Channel:  a.channel,
		Payload:  msg.Payload{Kind: msg.PayloadPing, Ping: &ping},
	}
	select {
	case a.outbound <- msg.Outbound{Loc: msg.Pubsub(), Response: response}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	return Reply{Kind: ReplyCodeReady}, nil
}

func (a *Authenticator) login(ctx context.Context, rlKey string, count uint64, user, code string) (Reply, error) {
	if _, ok := a.users[user]; !ok {
		return Reply{Kind: ReplyAuthFail}, nil
	}

	stored, err := a.cache.Get(ctx, a.codeKey(user))
	if errors.Is(err, cache.ErrMiss) {
		return Reply{Kind: ReplyCodeExpired}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	if stored == code {
		if _, err := a.cache.Del(ctx, rlKey); err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyAuthSuccess, User: user}, nil
	}
	if count == a.count {
		// The next attempt would be rate limited anyway.
		return Reply{Kind: ReplyRatelimited}, nil
	}
	return Reply{Kind: ReplyAuthFail}, nil
}
