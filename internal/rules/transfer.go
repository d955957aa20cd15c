package rules

import (
	"context"
	"fmt"
	"regexp"

	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/msg"
)

// "!transfer 100 from yt to discord"
var transferRegex = regexp.MustCompile(`^(\S+)\s(\d+|all)\sfrom\s(\S+)\sto\s(\S+)\s*`)

// Transfer moves points between a user's linked platform accounts.
type Transfer struct {
	base
	prefix        string
	autocorrect   bool
	platforms     msg.Platform
	perms         msg.Permissions
	ratelimitUser uint64
	minAmount     int64
	maxAmount     int64
}

func newTransfer(name string) *Transfer {
	return &Transfer{
		base:      base{name: name},
		prefix:    "!transfer",
		platforms: msg.PlatformChat,
		perms:     msg.PermNone,
		minAmount: 10,
		maxAmount: 10_000,
	}
}

func (t *Transfer) Kind() string { return "Transfer" }

func (t *Transfer) fields() []Field {
	return []Field{
		t.enabledField(),
		stringField("prefix", "Command prefix", &t.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &t.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &t.platforms),
		permsField("perms", "Permissions", &t.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &t.ratelimitUser, Positive),
		intField("min_amount", "Min amount", &t.minAmount, Positive),
		intField("max_amount", "Max amount", &t.maxAmount, Positive),
	}
}

func (t *Transfer) canRun(rc *Context) bool {
	return t.enabled && t.platforms.Contains(rc.Platform) && rc.User.Perms >= t.perms
}

func (t *Transfer) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !t.canRun(rc) {
		return Disabled(), nil
	}
	m := transferRegex.FindStringSubmatch(chat.Text)
	if m == nil {
		return Noop(), nil
	}
	suggest, matched := checkAutocorrect(t.prefix, m[1], t.autocorrect)
	if !matched {
		return Noop(), nil
	}
	if suggest {
		return Suggest(t.prefix), nil
	}
	amount, err := parseAmount(m[2])
	if err != nil {
		return RunRes{}, err
	}
	from, err := msg.ParsePlatform(m[3])
	if err != nil {
		return RunRes{}, err
	}
	to, err := msg.ParsePlatform(m[4])
	if err != nil {
		return RunRes{}, err
	}

	limited, err := ratelimitUser(ctx, rc, t.ratelimitUser, t.Kind(), t.name)
	if err != nil {
		return RunRes{}, err
	}
	if limited {
		return Ratelimited(false), nil
	}
	return t.run(ctx, rc, amount, from, to)
}

func (t *Transfer) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !t.canRun(rc) || !checkInvokePrefix(t.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	amount := int64(-1)
	if n, ok := inv.Args.Integer("amount"); ok {
		amount = n
	}
	fromName, ok := inv.Args.String("from")
	if !ok {
		return RunRes{}, false
	}
	toName, ok := inv.Args.String("to")
	if !ok {
		return RunRes{}, false
	}
	from, err := msg.ParsePlatform(fromName)
	if err != nil {
		return RunRes{}, false
	}
	to, err := msg.ParsePlatform(toName)
	if err != nil {
		return RunRes{}, false
	}

	limited, err := ratelimitUser(ctx, rc, t.ratelimitUser, t.Kind(), t.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("transfer ratelimit failed", "name", t.name, "error", err)
		}
		return RunRes{}, false
	}
	res, err := t.run(ctx, rc, int32(amount), from, to)
	if err != nil {
		rc.log().Error("transfer invoke failed", "name", t.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (t *Transfer) run(ctx context.Context, rc *Context, amount int32, from, to msg.Platform) (RunRes, error) {
	moved, err := rc.Store.Give(ctx, db.GiveOp{
		Amount: amount,
		From:   db.FromLinked(rc.Platform, from, rc.User.ID),
		To:     db.ToLinked(to),
		Min:    t.minAmount,
		Max:    t.maxAmount,
	})
	if err != nil {
		return RunRes{}, err
	}
	reply := fmt.Sprintf("transferred %d point%s from %s to %s", moved, plural(moved), from, to)
	rc.Emit(ctx, msg.Pubsub(), rc.message(rc.Platform, reply, true))
	return Ok(), nil
}

func (t *Transfer) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !t.enabled || t.prefix == "" || !t.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	return ArgSpec{
		Prefix: unbangPrefix(t.prefix),
		Desc:   descOf(t.Kind()),
		Perms:  t.perms,
		Args: []Arg{
			platformArg("from", "Platform to transfer from"),
			platformArg("to", "Platform to transfer to"),
			integerArg("amount", "Amount to transfer (leaving this blank means max)", t.minAmount, t.maxAmount, true),
		},
	}, true
}
