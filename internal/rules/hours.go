package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Hours tracks watch time from chat activity and answers time queries.
// Gaps longer than maxDiff between messages do not count as watching.
type Hours struct {
	base
	prefix          string
	autocorrect     bool
	platforms       msg.Platform
	perms           msg.Permissions
	ratelimitUser   uint64
	ratelimitUpdate uint64
	maxDiff         int64
}

func newHours(name string) *Hours {
	return &Hours{
		base:      base{name: name},
		prefix:    "!hours",
		platforms: msg.PlatformChat,
		perms:     msg.PermNone,
		maxDiff:   60 * 60 * 2,
	}
}

func (h *Hours) Kind() string { return "Hours" }

func (h *Hours) fields() []Field {
	return []Field{
		h.enabledField(),
		stringField("prefix", "Command prefix", &h.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &h.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &h.platforms),
		permsField("perms", "Permissions", &h.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &h.ratelimitUser, Positive),
		uintField("ratelimit_update", "Cooldown for adding points", &h.ratelimitUpdate, Positive),
		intField("max_diff", "Max. duration between messages (in seconds)", &h.maxDiff, Positive),
	}
}

func (h *Hours) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !h.enabled || !h.platforms.Contains(rc.Platform) {
		return Disabled(), nil
	}
	userAsked := false
	if m := prefixRegex.FindStringSubmatch(chat.Text); m != nil {
		if suggest, matched := checkAutocorrect(h.prefix, m[1], h.autocorrect); matched && !suggest {
			userAsked = true
		}
	}
	return h.run(ctx, rc, userAsked)
}

func (h *Hours) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !checkInvokePrefix(h.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	res, err := h.run(ctx, rc, true)
	if err != nil {
		rc.log().Error("hours invoke failed", "name", h.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (h *Hours) run(ctx context.Context, rc *Context, userAsked bool) (RunRes, error) {
	if !h.enabled || !h.platforms.Contains(rc.Platform) {
		return Disabled(), nil
	}

	if userAsked {
		if rc.User.Perms < h.perms {
			return RunRes{Kind: ResInsufficientPerms}, nil
		}
		limited, err := ratelimitUser(ctx, rc, h.ratelimitUser, h.Kind(), h.name)
		if err != nil {
			return RunRes{}, err
		}
		if limited {
			return Ratelimited(false), nil
		}
	} else if h.ratelimitUpdate > 0 {
		key := fmt.Sprintf("%s_%s", rc.lockKey(h.Kind(), "update_rate"), rc.User.ID)
		held, err := rc.Locker.Lock(ctx, key, time.Duration(h.ratelimitUpdate)*time.Second)
		if err != nil {
			return RunRes{}, err
		}
		if !held {
			return Ratelimited(false), nil
		}
	}

	watchtime, err := rc.Store.Hours(ctx, rc.Platform, rc.User.ID, h.maxDiff)
	if err != nil {
		return RunRes{}, err
	}

	if userAsked {
		total := uint64(watchtime)
		hours := total / 3600
		minutes := (total - hours*3600) / 60
		reply := fmt.Sprintf("%d hour%s %d minute%s", hours, plural(hours), minutes, plural(minutes))
		rc.Emit(ctx, msg.Pubsub(), rc.message(rc.Platform, reply, true))
		return Ok(), nil
	}

	return Noop(), nil
}

func (h *Hours) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !h.enabled || h.prefix == "" || !h.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	return ArgSpec{Prefix: unbangPrefix(h.prefix), Desc: descOf(h.Kind()), Perms: h.perms}, true
}
