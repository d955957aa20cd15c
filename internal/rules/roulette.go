package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/msg"
)

// "!rr 100" or "!rr all"
var rrRegex = regexp.MustCompile(`^(\S+)\s(\d+|all)\s*`)

// RussianRoulette pools wagers in a short-lived game: the first wager opens
// the round, later ones join, and when the round ends each player either
// collects the payoff or eats the penalty.
type RussianRoulette struct {
	base
	prefix        string
	autocorrect   bool
	platforms     msg.Platform
	perms         msg.Permissions
	duration      uint64
	ratelimitUser uint64
	minAmount     int64
	maxAmount     int64
	winProbPct    uint64
	payoff        uint64
	penalty       msg.ModAction
}

func newRussianRoulette(name string) *RussianRoulette {
	return &RussianRoulette{
		base:       base{name: name},
		prefix:     "!rr",
		platforms:  msg.PlatformChat,
		perms:      msg.PermNone,
		duration:   10,
		minAmount:  10,
		maxAmount:  100_000,
		winProbPct: 33,
		payoff:     5,
		penalty:    msg.Timeout(300),
	}
}

func (r *RussianRoulette) Kind() string { return "RussianRoulette" }

func (r *RussianRoulette) fields() []Field {
	return []Field{
		r.enabledField(),
		stringField("prefix", "Command prefix", &r.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &r.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &r.platforms),
		permsField("perms", "Permissions", &r.perms),
		uintField("duration", "Duration (in seconds)", &r.duration, Positive),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &r.ratelimitUser, Positive),
		intField("min_amount", "Min amount", &r.minAmount, Positive),
		intField("max_amount", "Max amount", &r.maxAmount, Positive),
		uintField("win_prob_pct", "% chance of win", &r.winProbPct, RangeClosed(0, 100)),
		uintField("payoff", "Payoff (x wager)", &r.payoff, Positive),
		actionField("penalty", "Penalty on loss", &r.penalty, RangeClosed(1, 86400)),
	}
}

func (r *RussianRoulette) canRun(rc *Context) bool {
	return r.enabled && r.platforms.Contains(rc.Platform) && rc.User.Perms >= r.perms
}

func (r *RussianRoulette) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !r.canRun(rc) {
		return Disabled(), nil
	}
	m := rrRegex.FindStringSubmatch(chat.Text)
	if m == nil {
		return Noop(), nil
	}
	suggest, matched := checkAutocorrect(r.prefix, m[1], r.autocorrect)
	if !matched {
		return Noop(), nil
	}
	if suggest {
		return Suggest(r.prefix), nil
	}
	amount, err := parseAmount(m[2])
	if err != nil {
		return RunRes{}, err
	}

	limited, err := ratelimitUser(ctx, rc, r.ratelimitUser, r.Kind(), r.name)
	if err != nil {
		return RunRes{}, err
	}
	if limited {
		return Ratelimited(false), nil
	}
	return r.run(ctx, rc, amount)
}

func (r *RussianRoulette) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !r.canRun(rc) || !checkInvokePrefix(r.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	amount := int64(-1)
	if n, ok := inv.Args.Integer("amount"); ok {
		amount = n
	}

	limited, err := ratelimitUser(ctx, rc, r.ratelimitUser, r.Kind(), r.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("roulette ratelimit failed", "name", r.name, "error", err)
		}
		return RunRes{}, false
	}
	res, err := r.run(ctx, rc, int32(amount))
	if err != nil {
		rc.log().Error("roulette invoke failed", "name", r.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (r *RussianRoulette) run(ctx context.Context, rc *Context, amount int32) (RunRes, error) {
	// consume the wager up front
	staked, err := rc.Store.Give(ctx, db.GiveOp{
		Amount: amount,
		From:   db.FromID(rc.Platform, rc.User.ID),
		To:     db.ToSpend(),
		Min:    r.minAmount,
		Max:    r.maxAmount,
	})
	if err != nil {
		return RunRes{}, err
	}

	// [platform, user, winnings]
	heister, err := json.Marshal([]any{rc.Platform, rc.User, staked * int32(r.payoff)})
	if err != nil {
		return RunRes{}, err
	}

	memberKey := fmt.Sprintf("%s_%s", rc.lockKey(r.Kind(), "members"), r.name)
	activeKey := fmt.Sprintf("%s_%s", rc.lockKey(r.Kind(), "active"), r.name)

	joined, err := rc.Cache.HSet(ctx, memberKey, rc.User.ID, string(heister), true)
	if err != nil {
		if rerr := r.refund(ctx, rc, staked); rerr != nil {
			return RunRes{}, rerr
		}
		return RunRes{}, err
	}
	if !joined {
		// already in this round, hand the wager back
		if err := r.refund(ctx, rc, staked); err != nil {
			return RunRes{}, err
		}
		return Noop(), nil
	}

	starting, err := rc.Locker.Lock(ctx, activeKey, time.Duration(r.duration+5)*time.Second)
	if err != nil {
		if rerr := r.refund(ctx, rc, staked); rerr != nil {
			return RunRes{}, rerr
		}
		return RunRes{}, err
	}

	immunity := ""
	if rc.User.Perms >= msg.PermMod {
		immunity = "(immune) "
	}

	var reply string
	if starting {
		go r.handleEnd(rc, memberKey, activeKey)
		reply = fmt.Sprintf("%sstarted a game of russian roulette with the '%s' penalty for %d point%s!",
			immunity, r.penalty, staked, plural(staked))
	} else {
		reply = fmt.Sprintf("%sjoined the russian roulette game with %d point%s!",
			immunity, staked, plural(staked))
	}
	rc.Emit(ctx, msg.Pubsub(), rc.message(msg.PlatformChat, reply, true))
	return Ok(), nil
}

func (r *RussianRoulette) refund(ctx context.Context, rc *Context, amount int32) error {
	_, err := rc.Store.Give(ctx, db.GiveOp{
		Amount: amount,
		From:   db.FromNone(),
		To:     db.ToUser(rc.Platform, rc.User.ID, rc.User.Name),
	})
	return err
}

// handleEnd resolves the round after the wager window closes. It outlives the
// triggering chat event, so it runs on its own context.
func (r *RussianRoulette) handleEnd(rc *Context, memberKey, activeKey string) {
	time.Sleep(time.Duration(r.duration) * time.Second)

	ctx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	heisters, err := rc.Cache.HGetAll(ctx, memberKey)
	if err != nil {
		rc.log().Error("roulette end failed", "name", r.name, "error", err)
		return
	}

	winProb := float64(r.winProbPct) / 100.0

	type survivor struct {
		name   string
		amount int32
	}
	var survivors []survivor

	for _, raw := range heisters {
		var (
			platform msg.Platform
			user     msg.User
			winnings int32
		)
		if err := msg.UnmarshalTuple([]byte(raw), &platform, &user, &winnings); err != nil {
			rc.log().Error("bad heister entry", "name", r.name, "error", err)
			continue
		}
		if rand.Float64() < winProb {
			_, err := rc.Store.Give(ctx, db.GiveOp{
				Amount: winnings,
				From:   db.FromNone(),
				To:     db.ToUser(platform, user.ID, user.Name),
			})
			if err != nil {
				rc.log().Error("payoff failed", "name", r.name, "user", user.Name, "error", err)
				continue
			}
			survivors = append(survivors, survivor{user.Name, winnings})
		} else if user.Perms < msg.PermMod {
			reason := "RussianRoulette"
			LogModAction(rc.Store, rc.Logger, platform, user.ID, r.penalty, reason)
			rc.Emit(ctx, msg.Broadcast(), msg.Response{
				Platform: platform,
				Channel:  rc.Channel,
				Payload: msg.Payload{
					Kind: msg.PayloadModAction,
					Mod:  &msg.ModActionEvent{User: user, Action: r.penalty, Reason: reason},
				},
			})
		}
	}

	var reply string
	if len(survivors) == 0 {
		reply = "The game is over, there were no survivors monkaW"
	} else {
		var b strings.Builder
		b.WriteString("The game is over! Survivors: ")
		for i, s := range survivors {
			if i > 0 {
				if i == len(survivors)-1 {
					b.WriteString(" and ")
				} else {
					b.WriteString(", ")
				}
			}
			fmt.Fprintf(&b, "%s (%d)", s.name, s.amount)
		}
		reply = b.String()
	}

	if _, err := rc.Locker.Unlock(ctx, memberKey); err != nil {
		rc.log().Error("roulette unlock failed", "key", memberKey, "error", err)
	}
	if _, err := rc.Locker.Unlock(ctx, activeKey); err != nil {
		rc.log().Error("roulette unlock failed", "key", activeKey, "error", err)
	}

	rc.Emit(ctx, msg.Pubsub(), msg.Response{
		Platform: msg.PlatformChat,
		Channel:  rc.Channel,
		Payload: msg.Payload{
			Kind:    msg.PayloadMessage,
			Message: &msg.BotMessage{Text: reply},
		},
	})
}

func (r *RussianRoulette) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !r.enabled || r.prefix == "" || !r.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	desc := descOf(r.Kind())
	if platform.Contains(msg.PlatformDiscord) {
		desc = fmt.Sprintf("Win big (%dx) or get the penalty (%s)! *either way, there is no mod abuse 👀",
			r.payoff, r.penalty)
	}
	return ArgSpec{
		Prefix: unbangPrefix(r.prefix),
		Desc:   desc,
		Perms:  r.perms,
		Args: []Arg{
			integerArg("amount", "Amount to gamble (leaving this blank means max)", r.minAmount, r.maxAmount, true),
		},
	}, true
}
