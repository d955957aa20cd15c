package rules

import (
	"context"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Quote replies with a canned message, optionally broadcast to every chat
// platform instead of just the one it was called from.
type Quote struct {
	base
	prefix        string
	autocorrect   bool
	platforms     msg.Platform
	perms         msg.Permissions
	ratelimitUser uint64
	ratelimit     uint64
	message       string
	broadcast     bool
	mentionCaller bool
}

func newQuote(name string) *Quote {
	return &Quote{
		base:          base{name: name},
		prefix:        "!quote",
		platforms:     msg.PlatformChat,
		perms:         msg.PermNone,
		message:       "<placeholder text - change me>",
		mentionCaller: true,
	}
}

func (q *Quote) Kind() string { return "Quote" }

func (q *Quote) fields() []Field {
	return []Field{
		q.enabledField(),
		stringField("prefix", "Command prefix", &q.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &q.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &q.platforms),
		permsField("perms", "Permissions", &q.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &q.ratelimitUser, Positive),
		uintField("ratelimit", "Cooldown per use (in seconds)", &q.ratelimit, Positive),
		stringField("message", "Message", &q.message, RangeClosed(1, 500)),
		boolField("broadcast", "Broadcast to all chat platforms", &q.broadcast, NoConstraint),
		boolField("mention_caller", "Mention caller", &q.mentionCaller, NoConstraint),
	}
}

func (q *Quote) canRun(rc *Context) bool {
	return q.enabled && q.message != "" && q.platforms.Contains(rc.Platform) && rc.User.Perms >= q.perms
}

func (q *Quote) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !q.canRun(rc) {
		return Disabled(), nil
	}
	m := prefixRegex.FindStringSubmatch(chat.Text)
	if m == nil {
		return Noop(), nil
	}
	suggest, matched := checkAutocorrect(q.prefix, m[1], q.autocorrect)
	if !matched {
		return Noop(), nil
	}
	if suggest {
		return Suggest(q.prefix), nil
	}

	limited, err := ratelimitGlobal(ctx, rc, q.ratelimit, q.ratelimitUser, q.Kind(), q.name)
	if err != nil {
		return RunRes{}, err
	}
	if limited {
		return Ratelimited(true), nil
	}
	return q.run(ctx, rc)
}

func (q *Quote) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !q.canRun(rc) || !checkInvokePrefix(q.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	limited, err := ratelimitGlobal(ctx, rc, q.ratelimit, q.ratelimitUser, q.Kind(), q.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("quote ratelimit failed", "name", q.name, "error", err)
		}
		return RunRes{}, false
	}
	res, err := q.run(ctx, rc)
	if err != nil {
		rc.log().Error("quote invoke failed", "name", q.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (q *Quote) run(ctx context.Context, rc *Context) (RunRes, error) {
	platform := rc.Platform
	if q.broadcast {
		platform = msg.PlatformChat
	}
	rc.Emit(ctx, msg.Broadcast(), rc.message(platform, q.message, q.mentionCaller))
	return Ok(), nil
}

func (q *Quote) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !q.enabled || q.prefix == "" || !q.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	return ArgSpec{
		Prefix: unbangPrefix(q.prefix),
		Desc:   descOf(q.Kind()),
		Perms:  q.perms,
	}, true
}
