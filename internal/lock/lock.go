// Package lock provides advisory locks over Redis keys. A lock is a plain
// SET NX with an expiry, so an abandoned holder frees itself when the TTL
// lapses.
package lock

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type opKind int

const (
	opLock opKind = iota
	opUnlock
)

type request struct {
	kind  opKind
	key   string
	ttl   time.Duration
	reply chan result
}

type result struct {
	acquired bool
	err      error
}

// Locker is the actor handle. All methods are safe for concurrent use.
type Locker struct {
	requests chan request
	logger   *slog.Logger
}

// New starts the lock actor over the provided client. The actor runs until
// ctx is cancelled.
func New(ctx context.Context, client redis.UniversalClient, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Locker{
		requests: make(chan request, 32),
		logger:   logger,
	}
	go l.run(ctx, client)
	return l
}

func (l *Locker) run(ctx context.Context, client redis.UniversalClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.requests:
			go func(req request) {
				var res result
				switch req.kind {
				case opLock:
					res.acquired, res.err = client.SetNX(ctx, req.key, "1", req.ttl).Result()
				case opUnlock:
					var removed int64
					removed, res.err = client.Del(ctx, req.key).Result()
					res.acquired = removed > 0
				}
				if res.err != nil {
					l.logger.Error("lock operation failed", "key", req.key, "error", res.err)
				}
				req.reply <- res
			}(req)
		}
	}
}

func (l *Locker) send(ctx context.Context, req request) (bool, error) {
	req.reply = make(chan result, 1)
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.acquired, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Lock attempts to acquire key for ttl, reporting whether this caller won it.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.send(ctx, request{kind: opLock, key: key, ttl: ttl})
}

// Unlock releases key, reporting whether it was held.
func (l *Locker) Unlock(ctx context.Context, key string) (bool, error) {
	return l.send(ctx, request{kind: opUnlock, key: key})
}
