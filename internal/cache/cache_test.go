package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iamllama/aussiebot/internal/testsupport/redisstub"
)

func startCache(t *testing.T) (*Cache, context.Context) {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	client, err := NewClient(RedisConfig{Addr: stub.Addr()})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, client, nil), ctx
}

func TestGetMissingReturnsErrMiss(t *testing.T) {
	cache, ctx := startCache(t)

	if _, err := cache.Get(ctx, "absent"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestSetThenGet(t *testing.T) {
	cache, ctx := startCache(t)

	ok, err := cache.Set(ctx, "greeting", "hello", 0, false)
	if err != nil || !ok {
		t.Fatalf("set failed: ok=%v err=%v", ok, err)
	}

	value, err := cache.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "hello" {
		t.Fatalf("expected hello, got %q", value)
	}
}

func TestSetExclusiveOnlyWritesOnce(t *testing.T) {
	cache, ctx := startCache(t)

	first, err := cache.Set(ctx, "lock", "holder-1", time.Minute, true)
	if err != nil || !first {
		t.Fatalf("expected first exclusive set to win: ok=%v err=%v", first, err)
	}

	second, err := cache.Set(ctx, "lock", "holder-2", time.Minute, true)
	if err != nil {
		t.Fatalf("second set errored: %v", err)
	}
	if second {
		t.Fatalf("expected second exclusive set to lose")
	}

	value, err := cache.Get(ctx, "lock")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "holder-1" {
		t.Fatalf("expected original holder, got %q", value)
	}
}

func TestSetGetReturnsPrevious(t *testing.T) {
	cache, ctx := startCache(t)

	prev, err := cache.SetGet(ctx, "stream-id", "abc", 0)
	if err != nil {
		t.Fatalf("first setget failed: %v", err)
	}
	if prev != "" {
		t.Fatalf("expected empty previous value, got %q", prev)
	}

	prev, err = cache.SetGet(ctx, "stream-id", "def", 0)
	if err != nil {
		t.Fatalf("second setget failed: %v", err)
	}
	if prev != "abc" {
		t.Fatalf("expected abc, got %q", prev)
	}
}

func TestGetDelRemovesKey(t *testing.T) {
	cache, ctx := startCache(t)

	if _, err := cache.Set(ctx, "code", "deadbeef", 0, false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, err := cache.GetDel(ctx, "code")
	if err != nil {
		t.Fatalf("getdel failed: %v", err)
	}
	if value != "deadbeef" {
		t.Fatalf("expected deadbeef, got %q", value)
	}

	if _, err := cache.Get(ctx, "code"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after getdel, got %v", err)
	}
}

func TestIncrCountsUp(t *testing.T) {
	cache, ctx := startCache(t)

	for want := uint64(1); want <= 3; want++ {
		count, err := cache.Incr(ctx, "attempts", 1, time.Minute)
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
	}
}

func TestDelReportsExistence(t *testing.T) {
	cache, ctx := startCache(t)

	existed, err := cache.Del(ctx, "ghost")
	if err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if existed {
		t.Fatalf("expected missing key")
	}

	if _, err := cache.Set(ctx, "present", "1", 0, false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	existed, err = cache.Del(ctx, "present")
	if err != nil || !existed {
		t.Fatalf("expected key to be removed: existed=%v err=%v", existed, err)
	}
}

func TestHashFields(t *testing.T) {
	cache, ctx := startCache(t)

	if _, err := cache.HSet(ctx, "members", "alice", "10", false); err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	written, err := cache.HSet(ctx, "members", "alice", "99", true)
	if err != nil {
		t.Fatalf("exclusive hset failed: %v", err)
	}
	if written {
		t.Fatalf("expected exclusive hset on existing field to lose")
	}

	if _, err := cache.HSet(ctx, "members", "bob", "20", true); err != nil {
		t.Fatalf("hset bob failed: %v", err)
	}

	pairs, err := cache.HGetAll(ctx, "members")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if len(pairs) != 2 || pairs["alice"] != "10" || pairs["bob"] != "20" {
		t.Fatalf("unexpected hash contents: %v", pairs)
	}
}

func TestSortedSetOperations(t *testing.T) {
	cache, ctx := startCache(t)

	for i, member := range []string{"first", "second", "third"} {
		if _, err := cache.ZAdd(ctx, "quotes", float64(i+1), member); err != nil {
			t.Fatalf("zadd failed: %v", err)
		}
	}

	members, err := cache.ZRange(ctx, "quotes", 0, -1)
	if err != nil {
		t.Fatalf("zrange failed: %v", err)
	}
	if len(members) != 3 || members[0] != "first" || members[2] != "third" {
		t.Fatalf("unexpected range: %v", members)
	}

	scored, err := cache.ZRangeWithScores(ctx, "quotes", 0, 0)
	if err != nil {
		t.Fatalf("zrange with scores failed: %v", err)
	}
	if len(scored) != 1 || scored[0].Member != "first" || scored[0].Score != 1 {
		t.Fatalf("unexpected scored range: %v", scored)
	}

	popped, err := cache.ZPopMax(ctx, "quotes", 1)
	if err != nil {
		t.Fatalf("zpopmax failed: %v", err)
	}
	if len(popped) != 1 || popped[0].Member != "third" {
		t.Fatalf("expected third popped, got %v", popped)
	}

	removed, err := cache.ZRemRangeByScore(ctx, "quotes", "-inf", "1")
	if err != nil || !removed {
		t.Fatalf("zremrangebyscore failed: removed=%v err=%v", removed, err)
	}

	members, err = cache.ZRange(ctx, "quotes", 0, -1)
	if err != nil {
		t.Fatalf("zrange after removal failed: %v", err)
	}
	if len(members) != 1 || members[0] != "second" {
		t.Fatalf("expected only second left, got %v", members)
	}
}

func TestAwaitRespectsContext(t *testing.T) {
	cache, _ := startCache(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cache.Get(cancelled, "anything"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
