package rules

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/msg"
)

// "!give @name 50" or "!give name all"
var giveRegex = regexp.MustCompile(`^(\S+)\s@?(.+)\s(\d+|all)\s*`)

// Give moves points from the caller to another user on the same platform.
type Give struct {
	base
	prefix        string
	autocorrect   bool
	platforms     msg.Platform
	perms         msg.Permissions
	ratelimitUser uint64
	minAmount     int64
	maxAmount     int64
}

func newGive(name string) *Give {
	return &Give{
		base:      base{name: name},
		prefix:    "!give",
		platforms: msg.PlatformChat,
		perms:     msg.PermNone,
		minAmount: 10,
		maxAmount: 10_000,
	}
}

func (g *Give) Kind() string { return "Give" }

func (g *Give) fields() []Field {
	return []Field{
		g.enabledField(),
		stringField("prefix", "Command prefix", &g.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &g.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &g.platforms),
		permsField("perms", "Permissions", &g.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &g.ratelimitUser, Positive),
		intField("min_amount", "Min amount", &g.minAmount, Positive),
		intField("max_amount", "Max amount", &g.maxAmount, Positive),
	}
}

func (g *Give) canRun(rc *Context) bool {
	return g.enabled && g.platforms.Contains(rc.Platform) && rc.User.Perms >= g.perms
}

// parseAmount maps "all" to -1, the sentinel the store resolves to the full
// balance.
func parseAmount(raw string) (int32, error) {
	if raw == "all" {
		return -1, nil
	}
	amount, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return int32(amount), nil
}

func (g *Give) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !g.canRun(rc) {
		return Disabled(), nil
	}
	m := giveRegex.FindStringSubmatch(chat.Text)
	if m == nil {
		return Noop(), nil
	}
	suggest, matched := checkAutocorrect(g.prefix, m[1], g.autocorrect)
	if !matched {
		return Noop(), nil
	}
	if m[2] == rc.User.Name {
		return Noop(), nil
	}
	if suggest {
		return Suggest(g.prefix), nil
	}
	amount, err := parseAmount(m[3])
	if err != nil {
		return RunRes{}, err
	}

	limited, err := ratelimitUser(ctx, rc, g.ratelimitUser, g.Kind(), g.name)
	if err != nil {
		return RunRes{}, err
	}
	if limited {
		return Ratelimited(false), nil
	}
	return g.run(ctx, rc, amount, db.ToName(rc.Platform, m[2]), m[2])
}

func (g *Give) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !g.canRun(rc) || !checkInvokePrefix(g.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	to, ok := inv.Args["to"]
	if !ok || to.Kind != msg.ArgUser || to.User == nil {
		return RunRes{}, false
	}
	if to.User.ID == rc.User.ID {
		return RunRes{}, false
	}
	amount := int64(-1)
	if n, ok := inv.Args.Integer("amount"); ok {
		amount = n
	}

	limited, err := ratelimitUser(ctx, rc, g.ratelimitUser, g.Kind(), g.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("give ratelimit failed", "name", g.name, "error", err)
		}
		return RunRes{}, false
	}
	res, err := g.run(ctx, rc, int32(amount), db.ToUser(rc.Platform, to.User.ID, to.User.Name), to.User.Name)
	if err != nil {
		rc.log().Error("give invoke failed", "name", g.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (g *Give) run(ctx context.Context, rc *Context, amount int32, to db.GiveTarget, toName string) (RunRes, error) {
	given, err := rc.Store.Give(ctx, db.GiveOp{
		Amount: amount,
		From:   db.FromID(rc.Platform, rc.User.ID),
		To:     to,
		Min:    g.minAmount,
		Max:    g.maxAmount,
	})
	if err != nil {
		return RunRes{}, err
	}
	reply := fmt.Sprintf("gave %s %d point%s", toName, given, plural(given))
	rc.Emit(ctx, msg.Broadcast(), rc.message(rc.Platform, reply, true))
	return Ok(), nil
}

func (g *Give) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !g.enabled || g.prefix == "" || !g.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	return ArgSpec{
		Prefix: unbangPrefix(g.prefix),
		Desc:   descOf(g.Kind()),
		Perms:  g.perms,
		Args: []Arg{
			userArg("to", "Person to give to"),
			integerArg("amount", "Amount to give (leaving this blank means max)", g.minAmount, g.maxAmount, true),
		},
	}, true
}
