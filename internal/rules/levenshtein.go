package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/msg"
)

// LevenshteinFilter trips when a user repeats near-identical messages: each
// message is fetch-swapped against the previous one, and a streak of small
// edit distances within the burst window raises the configured action.
type LevenshteinFilter struct {
	base
	applyTo   msg.Permissions
	platforms msg.Platform
	action    msg.ModAction
	minDist   uint64
	minTimes  uint64
	burstRate uint64
}

func newLevenshteinFilter(name string) *LevenshteinFilter {
	return &LevenshteinFilter{
		base:      base{name: name},
		applyTo:   msg.PermNone,
		platforms: msg.PlatformChat,
	}
}

func (f *LevenshteinFilter) Kind() string { return "LevenshteinFilter" }

func (f *LevenshteinFilter) fields() []Field {
	return []Field{
		f.enabledField(),
		permsField("apply_to", "Apply to anyone below permission level", &f.applyTo),
		platformsField("platforms", "Platforms", &f.platforms),
		actionField("action", "Mod action", &f.action, RangeClosed(1, 86400)),
		uintField("min_dist", "Minimum allowable message similarity (0 means identical)", &f.minDist, Positive),
		uintField("min_times", "Mininum number of consecutive trips", &f.minTimes, Positive),
		uintField("burst_rate", "Burst rate (in seconds)", &f.burstRate, Positive),
	}
}

func (f *LevenshteinFilter) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !f.enabled || !f.platforms.Contains(rc.Platform) || rc.User.Perms > f.applyTo {
		return Disabled(), nil
	}
	lower := rc.Lowered(chat)

	// serialize per-user streak updates
	lockName := fmt.Sprintf("%s_%s_%s", rc.lockKey(f.Kind(), "lock"), f.name, rc.User.ID)
	if _, err := rc.Locker.Lock(ctx, lockName, 5*time.Second); err != nil {
		return RunRes{}, err
	}
	action, tripped := f.step(ctx, rc, lower.Text)
	if _, err := rc.Locker.Unlock(ctx, lockName); err != nil {
		return RunRes{}, err
	}

	if tripped {
		return Filtered(action), nil
	}
	return Ok(), nil
}

func (f *LevenshteinFilter) step(ctx context.Context, rc *Context, text string) (msg.ModAction, bool) {
	burst := time.Duration(f.burstRate) * time.Second

	msgKey := fmt.Sprintf("%s_%s_%s", rc.lockKey(f.Kind(), "prev_msg"), f.name, rc.User.ID)
	prev, err := rc.Cache.SetGet(ctx, msgKey, text, burst)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return msg.ModAction{}, false
	}

	countKey := fmt.Sprintf("%s_%s_%s", rc.lockKey(f.Kind(), "count"), f.name, rc.User.ID)

	dist := uint64(levenshtein.ComputeDistance(prev, text))
	if dist >= f.minDist {
		// streak broken
		if _, err := rc.Cache.Del(ctx, countKey); err != nil {
			rc.log().Error("streak reset failed", "name", f.name, "error", err)
		}
		return msg.ModAction{}, false
	}

	trips, err := rc.Cache.Incr(ctx, countKey, 1, burst)
	if err != nil {
		return msg.ModAction{}, false
	}
	if trips > f.minTimes {
		if _, err := rc.Cache.Del(ctx, countKey); err != nil {
			rc.log().Error("streak reset failed", "name", f.name, "error", err)
		}
		return f.action, true
	}
	return msg.ModAction{}, false
}

func (f *LevenshteinFilter) Invoke(context.Context, *Context, *msg.Invocation) (RunRes, bool) {
	return RunRes{}, false
}
