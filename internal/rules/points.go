package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/msg"
)

// Points accumulates points per chat message and answers balance queries.
type Points struct {
	base
	prefix          string
	autocorrect     bool
	platforms       msg.Platform
	perms           msg.Permissions
	points          uint64
	donoMsg         string
	ratelimitUser   uint64
	ratelimitUpdate uint64
}

func newPoints(name string) *Points {
	return &Points{
		base:      base{name: name},
		prefix:    "!points",
		platforms: msg.PlatformChat,
		perms:     msg.PermNone,
		points:    5,
	}
}

func (p *Points) Kind() string { return "Points" }

func (p *Points) fields() []Field {
	return []Field{
		p.enabledField(),
		stringField("prefix", "Command prefix", &p.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &p.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &p.platforms),
		permsField("perms", "Permissions", &p.perms),
		uintField("points", "Points awarded per chat message", &p.points, Positive),
		stringField("dono_msg", "Message to send in response to donations", &p.donoMsg, NoConstraint),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &p.ratelimitUser, Positive),
		uintField("ratelimit_update", "Cooldown for adding points", &p.ratelimitUpdate, Positive),
	}
}

// Chat accumulates points on every message; only an exact prefix match turns
// the message into a balance query.
func (p *Points) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	userAsked := false
	if m := prefixRegex.FindStringSubmatch(chat.Text); m != nil {
		if suggest, matched := checkAutocorrect(p.prefix, m[1], p.autocorrect); matched && !suggest {
			userAsked = true
		}
	}
	return p.run(ctx, rc, userAsked)
}

func (p *Points) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !checkInvokePrefix(p.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	res, err := p.run(ctx, rc, true)
	if err != nil {
		rc.log().Error("points invoke failed", "name", p.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (p *Points) run(ctx context.Context, rc *Context, userAsked bool) (RunRes, error) {
	if !p.enabled || !p.platforms.Contains(rc.Platform) {
		return Disabled(), nil
	}

	if userAsked {
		if rc.User.Perms < p.perms {
			return RunRes{Kind: ResInsufficientPerms}, nil
		}
		limited, err := ratelimitUser(ctx, rc, p.ratelimitUser, p.Kind(), p.name)
		if err != nil {
			return RunRes{}, err
		}
		if limited {
			return Ratelimited(false), nil
		}
	} else if p.ratelimitUpdate > 0 {
		// accumulation has its own cooldown, keyed per user only
		key := fmt.Sprintf("%s_%s", rc.lockKey(p.Kind(), "update_rate"), rc.User.ID)
		held, err := rc.Locker.Lock(ctx, key, time.Duration(p.ratelimitUpdate)*time.Second)
		if err != nil {
			return RunRes{}, err
		}
		if !held {
			return Ratelimited(false), nil
		}
	}

	if p.points > 0 {
		if err := rc.Store.UpsertPoints(ctx, rc.Platform, rc.User.ID, rc.User.Name, int32(p.points)); err != nil {
			return RunRes{}, err
		}
	}

	if userAsked {
		balances, err := rc.Store.GetPoints(ctx, rc.Platform, rc.User.ID)
		if err != nil {
			return RunRes{}, err
		}
		rc.Emit(ctx, msg.Pubsub(), rc.message(rc.Platform, formatBalances(balances), true))
		return Ok(), nil
	}

	if rc.Meta != nil && rc.Meta.Kind == msg.MetaYoutube && p.donoMsg != "" {
		reply := strings.ReplaceAll(p.donoMsg, "{amount}", rc.Meta.Donation)
		rc.Emit(ctx, msg.Broadcast(), rc.message(rc.Platform, reply, true))
	}

	return Noop(), nil
}

func formatBalances(b db.Balances) string {
	var parts []string
	for _, entry := range []struct {
		platform msg.Platform
		points   *int32
	}{
		{msg.PlatformYoutube, b.Youtube},
		{msg.PlatformDiscord, b.Discord},
		{msg.PlatformTwitch, b.Twitch},
	} {
		if entry.points != nil {
			parts = append(parts, fmt.Sprintf("%d (%s)", *entry.points, entry.platform))
		}
	}
	return strings.Join(parts, ", ")
}

func (p *Points) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !p.enabled || p.prefix == "" || !p.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	return ArgSpec{Prefix: unbangPrefix(p.prefix), Desc: descOf(p.Kind()), Perms: p.perms}, true
}
