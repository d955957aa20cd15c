package rules

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/msg"
)

// Timer sends a fixed message on an interval, but only while chat is active:
// each tick checks the message counter accumulated since the last send and
// skips quiet periods.
type Timer struct {
	base
	platforms msg.Platform
	interval  uint64
	jitter    uint64
	msg       string
	msgCount  uint64
}

func newTimer(name string) *Timer {
	return &Timer{
		base:      base{name: name},
		platforms: msg.PlatformChat,
		msgCount:  1,
	}
}

func (t *Timer) Kind() string { return "Timer" }

func (t *Timer) fields() []Field {
	return []Field{
		t.enabledField(),
		platformsField("platforms", "Platforms", &t.platforms),
		uintField("interval", "Repetition interval (in seconds)", &t.interval, Positive),
		uintField("jitter", "Max random delay (in seconds)", &t.jitter, Positive),
		stringField("msg", "Message to send", &t.msg, NoConstraint),
		uintField("msg_count", "Min messages between repetitions", &t.msgCount, Positive),
	}
}

func (t *Timer) countKey(rc *Context) string {
	return fmt.Sprintf("%s_%s", rc.lockKey(t.Kind(), "count"), t.name)
}

// Chat only bumps the activity counter; the ticker goroutine does the sending.
func (t *Timer) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !t.enabled || t.msgCount == 0 {
		return Disabled(), nil
	}
	if _, err := rc.Cache.Incr(ctx, t.countKey(rc), 1, 0); err != nil {
		return RunRes{}, err
	}
	return Noop(), nil
}

func (t *Timer) Invoke(context.Context, *Context, *msg.Invocation) (RunRes, bool) {
	return RunRes{}, false
}

// Init spawns the ticker goroutine. It reports false when the timer is not
// runnable so the supervisor doesn't track it.
func (t *Timer) Init(ctx context.Context, cancel <-chan struct{}, rc *Context) bool {
	if !t.enabled || t.platforms == 0 || t.interval == 0 || t.msg == "" {
		return false
	}
	go t.tick(ctx, cancel, rc)
	return true
}

func (t *Timer) tick(ctx context.Context, cancel <-chan struct{}, rc *Context) {
	for {
		delay := time.Duration(t.interval) * time.Second
		if t.jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(t.jitter)+1)) * time.Second
		}
		select {
		case <-cancel:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if t.msgCount > 0 {
			prev, err := rc.Cache.SetGet(ctx, t.countKey(rc), "0", 0)
			if err != nil && !errors.Is(err, cache.ErrMiss) {
				rc.log().Error("timer count reset failed", "name", t.name, "error", err)
				continue
			}
			count, _ := strconv.ParseUint(prev, 10, 64)
			if count < t.msgCount {
				continue
			}
		}
		rc.Emit(ctx, msg.Pubsub(), rc.message(t.platforms, t.msg, false))
	}
}
