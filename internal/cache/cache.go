// Package cache provides serialized access to the Redis-backed key/value
// store through a single-mailbox actor. The actor receives requests in order
// but dispatches each against its own connection from the shared client, so
// slow operations never block the mailbox.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrMiss reports a read against a key that does not exist or has expired.
var ErrMiss = errors.New("cache: key missing")

// Scored pairs a sorted-set member with its score.
type Scored struct {
	Member string
	Score  float64
}

type opKind int

const (
	opIncr opKind = iota
	opDel
	opGet
	opGetDel
	opSet
	opSetGet
	opHSet
	opHGetAll
	opZAdd
	opZRemRangeByScore
	opZRange
	opZRangeWithScores
	opZPopMax
)

type request struct {
	kind      opKind
	key       string
	field     string
	value     string
	delta     int64
	ttl       time.Duration
	exclusive bool
	score     float64
	min, max  string
	start     int64
	stop      int64
	count     int64

	reply chan result
}

type result struct {
	boolVal bool
	count   uint64
	str     string
	list    []string
	scored  []Scored
	pairs   map[string]string
	err     error
}

// Cache is the actor handle. All methods are safe for concurrent use.
type Cache struct {
	requests chan request
	logger   *slog.Logger
}

// New starts the cache actor over the provided client. The actor runs until
// ctx is cancelled.
func New(ctx context.Context, client redis.UniversalClient, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		requests: make(chan request, 32),
		logger:   logger,
	}
	go c.run(ctx, client)
	return c
}

func (c *Cache) run(ctx context.Context, client redis.UniversalClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			go func(req request) {
				res := execute(ctx, client, req)
				if res.err != nil && !errors.Is(res.err, ErrMiss) {
					c.logger.Error("cache operation failed", "op", req.kind, "key", req.key, "error", res.err)
				}
				req.reply <- res
			}(req)
		}
	}
}

func execute(ctx context.Context, client redis.UniversalClient, req request) result {
	switch req.kind {
	case opIncr:
		count, err := client.IncrBy(ctx, req.key, req.delta).Result()
		if err != nil {
			return result{err: err}
		}
		// The expiry is attached only when this increment created the key,
		// so the window starts at the first hit.
		if req.ttl > 0 && count == req.delta {
			if err := client.Expire(ctx, req.key, req.ttl).Err(); err != nil {
				return result{err: err}
			}
		}
		return result{count: uint64(count)}
	case opDel:
		removed, err := client.Del(ctx, req.key).Result()
		return result{boolVal: removed > 0, err: err}
	case opGet:
		value, err := client.Get(ctx, req.key).Result()
		if errors.Is(err, redis.Nil) {
			return result{err: fmt.Errorf("get %s: %w", req.key, ErrMiss)}
		}
		return result{str: value, err: err}
	case opGetDel:
		value, err := client.GetDel(ctx, req.key).Result()
		if errors.Is(err, redis.Nil) {
			return result{err: fmt.Errorf("getdel %s: %w", req.key, ErrMiss)}
		}
		return result{str: value, err: err}
	case opSet:
		if req.exclusive {
			ok, err := client.SetNX(ctx, req.key, req.value, req.ttl).Result()
			return result{boolVal: ok, err: err}
		}
		err := client.Set(ctx, req.key, req.value, req.ttl).Err()
		return result{boolVal: err == nil, err: err}
	case opSetGet:
		args := redis.SetArgs{Get: true}
		if req.ttl > 0 {
			args.TTL = req.ttl
		}
		prev, err := client.SetArgs(ctx, req.key, req.value, args).Result()
		if errors.Is(err, redis.Nil) {
			// First write: there was no previous value.
			return result{str: ""}
		}
		return result{str: prev, err: err}
	case opHSet:
		if req.exclusive {
			ok, err := client.HSetNX(ctx, req.key, req.field, req.value).Result()
			return result{boolVal: ok, err: err}
		}
		_, err := client.HSet(ctx, req.key, req.field, req.value).Result()
		return result{boolVal: err == nil, err: err}
	case opHGetAll:
		pairs, err := client.HGetAll(ctx, req.key).Result()
		return result{pairs: pairs, err: err}
	case opZAdd:
		added, err := client.ZAdd(ctx, req.key, redis.Z{Score: req.score, Member: req.value}).Result()
		return result{boolVal: added > 0, err: err}
	case opZRemRangeByScore:
		removed, err := client.ZRemRangeByScore(ctx, req.key, req.min, req.max).Result()
		return result{boolVal: removed > 0, err: err}
	case opZRange:
		list, err := client.ZRange(ctx, req.key, req.start, req.stop).Result()
		return result{list: list, err: err}
	case opZRangeWithScores:
		members, err := client.ZRangeWithScores(ctx, req.key, req.start, req.stop).Result()
		return result{scored: convertScored(members), err: err}
	case opZPopMax:
		members, err := client.ZPopMax(ctx, req.key, req.count).Result()
		return result{scored: convertScored(members), err: err}
	}
	return result{err: fmt.Errorf("cache: unknown op %d", req.kind)}
}

func convertScored(members []redis.Z) []Scored {
	scored := make([]Scored, 0, len(members))
	for _, z := range members {
		member, _ := z.Member.(string)
		scored = append(scored, Scored{Member: member, Score: z.Score})
	}
	return scored
}

func (c *Cache) send(ctx context.Context, req request) (result, error) {
	req.reply = make(chan result, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// Incr atomically adds delta to the counter at key. When ttl is positive the
// expiry is set only if the increment created the key.
func (c *Cache) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (uint64, error) {
	res, err := c.send(ctx, request{kind: opIncr, key: key, delta: delta, ttl: ttl})
	return res.count, err
}

// Del removes key, reporting whether it existed.
func (c *Cache) Del(ctx context.Context, key string) (bool, error) {
	res, err := c.send(ctx, request{kind: opDel, key: key})
	return res.boolVal, err
}

// Get returns the string at key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	res, err := c.send(ctx, request{kind: opGet, key: key})
	return res.str, err
}

// GetDel atomically reads and removes key, or returns ErrMiss.
func (c *Cache) GetDel(ctx context.Context, key string) (string, error) {
	res, err := c.send(ctx, request{kind: opGetDel, key: key})
	return res.str, err
}

// Set writes key. With exclusive set, the write only succeeds when the key
// does not already exist; the returned bool reports whether it happened.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration, exclusive bool) (bool, error) {
	res, err := c.send(ctx, request{kind: opSet, key: key, value: value, ttl: ttl, exclusive: exclusive})
	return res.boolVal, err
}

// SetGet writes key and returns the previous value, or the empty string when
// the key did not exist.
func (c *Cache) SetGet(ctx context.Context, key, value string, ttl time.Duration) (string, error) {
	res, err := c.send(ctx, request{kind: opSetGet, key: key, value: value, ttl: ttl})
	return res.str, err
}

// HSet writes a hash field. With exclusive set it uses HSETNX semantics and
// the returned bool reports whether the field was written.
func (c *Cache) HSet(ctx context.Context, key, field, value string, exclusive bool) (bool, error) {
	res, err := c.send(ctx, request{kind: opHSet, key: key, field: field, value: value, exclusive: exclusive})
	return res.boolVal, err
}

// HGetAll returns every field of the hash at key.
func (c *Cache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := c.send(ctx, request{kind: opHGetAll, key: key})
	return res.pairs, err
}

// ZAdd inserts member with score into the sorted set at key.
func (c *Cache) ZAdd(ctx context.Context, key string, score float64, member string) (bool, error) {
	res, err := c.send(ctx, request{kind: opZAdd, key: key, score: score, value: member})
	return res.boolVal, err
}

// ZRemRangeByScore removes members of key scored within [min, max].
func (c *Cache) ZRemRangeByScore(ctx context.Context, key, min, max string) (bool, error) {
	res, err := c.send(ctx, request{kind: opZRemRangeByScore, key: key, min: min, max: max})
	return res.boolVal, err
}

// ZRange returns members of key between the start and stop ranks.
func (c *Cache) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	res, err := c.send(ctx, request{kind: opZRange, key: key, start: start, stop: stop})
	return res.list, err
}

// ZRangeWithScores returns members with scores between the start and stop ranks.
func (c *Cache) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Scored, error) {
	res, err := c.send(ctx, request{kind: opZRangeWithScores, key: key, start: start, stop: stop})
	return res.scored, err
}

// ZPopMax removes and returns up to count highest-scored members of key.
func (c *Cache) ZPopMax(ctx context.Context, key string, count int64) ([]Scored, error) {
	res, err := c.send(ctx, request{kind: opZPopMax, key: key, count: count})
	return res.scored, err
}
