package rules

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/msg"
)

// "!link" or "!link A1B2-C3D4"
var linkRegex = regexp.MustCompile(`^(\S+)(?:\s([[:xdigit:]]{4}-[[:xdigit:]]{4}))?\s*`)

var errInvalidLinkCode = errors.New("invalid link code")

// Link ties a stream-chat account to a discord account with a short-lived
// one-time code: the user requests a code on discord and redeems it in the
// stream's live chat.
type Link struct {
	base
	prefix        string
	autocorrect   bool
	platforms     msg.Platform
	perms         msg.Permissions
	ratelimitUser uint64
	expiry        uint64
}

func newLink(name string) *Link {
	return &Link{
		base:      base{name: name},
		prefix:    "!link",
		platforms: msg.PlatformChat,
		perms:     msg.PermNone,
		expiry:    30,
	}
}

func (l *Link) Kind() string { return "Link" }

func (l *Link) fields() []Field {
	return []Field{
		l.enabledField(),
		stringField("prefix", "Command prefix", &l.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &l.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &l.platforms),
		permsField("perms", "Permissions", &l.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &l.ratelimitUser, Positive),
		uintField("expiry", "Duration before code expires (in seconds)", &l.expiry, RangeClosed(10, 600)),
	}
}

func (l *Link) canRun(rc *Context) bool {
	return l.enabled && l.platforms.Contains(rc.Platform) && rc.User.Perms >= l.perms
}

func (l *Link) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !l.canRun(rc) {
		return Disabled(), nil
	}
	m := linkRegex.FindStringSubmatch(chat.Text)
	if m == nil {
		return Noop(), nil
	}
	suggest, matched := checkAutocorrect(l.prefix, m[1], l.autocorrect)
	if !matched {
		return Noop(), nil
	}
	if suggest {
		return Suggest(l.prefix), nil
	}
	var code *string
	if m[2] != "" {
		code = &m[2]
	}

	limited, err := ratelimitUser(ctx, rc, l.ratelimitUser, l.Kind(), l.name)
	if err != nil {
		return RunRes{}, err
	}
	if limited {
		return Ratelimited(false), nil
	}
	return l.run(ctx, rc, code)
}

func (l *Link) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !l.canRun(rc) || !checkInvokePrefix(l.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	limited, err := ratelimitUser(ctx, rc, l.ratelimitUser, l.Kind(), l.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("link ratelimit failed", "name", l.name, "error", err)
		}
		return RunRes{}, false
	}
	// slash invocations never carry a code; redemption happens in stream chat
	res, err := l.run(ctx, rc, nil)
	if err != nil {
		rc.log().Error("link invoke failed", "name", l.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (l *Link) run(ctx context.Context, rc *Context, code *string) (RunRes, error) {
	fromDiscord := rc.Platform.Contains(msg.PlatformDiscord)

	switch {
	case !fromDiscord && code == nil:
		reply := `DM Aussiebot with or type "!link" in the discord server`
		rc.Emit(ctx, msg.Broadcast(), rc.message(rc.Platform, reply, true))

	case fromDiscord && code == nil:
		otp, err := l.genOTP(ctx, rc)
		if err != nil {
			return RunRes{}, err
		}
		reply := fmt.Sprintf(
			"Type `!link %s` within %d sec(s) in the stream's live chat to link that account with your discord",
			otp, l.expiry)
		rc.Emit(ctx, msg.Broadcast(), rc.ping(rc.Platform, nil, *rc.User, reply))

	case !fromDiscord:
		discordID, err := l.redeemOTP(ctx, rc, *code)
		if err != nil {
			return RunRes{}, err
		}
		pinger := &msg.PlatformUser{Platform: rc.Platform, User: *rc.User}
		pingee := msg.User{ID: discordID, Perms: msg.PermNone}
		rc.Emit(ctx, msg.Broadcast(), rc.ping(msg.PlatformDiscord, pinger, pingee, "Successfully linked!"))

	default:
		// "!link <code>" on discord itself, nothing to redeem
	}
	return Ok(), nil
}

// genOTP allocates an unused code bound to the requesting discord account.
func (l *Link) genOTP(ctx context.Context, rc *Context) (string, error) {
	const maxRetry = 10

	for i := 0; i < maxRetry; i++ {
		var raw [4]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", err
		}
		code := fmt.Sprintf("%04X-%04X",
			binary.BigEndian.Uint16(raw[0:2]), binary.BigEndian.Uint16(raw[2:4]))
		key := fmt.Sprintf("%s_%s", rc.lockKey(l.Kind(), "otp"), code)

		set, err := rc.Cache.Set(ctx, key, rc.User.ID, time.Duration(l.expiry)*time.Second, true)
		if err != nil {
			rc.log().Error("otp set failed", "name", l.name, "error", err)
			continue
		}
		if !set {
			continue
		}
		return code, nil
	}
	return "", fmt.Errorf("failed to generate unique otp after %d tries", maxRetry)
}

// redeemOTP consumes a code and records the account link.
func (l *Link) redeemOTP(ctx context.Context, rc *Context, code string) (string, error) {
	key := fmt.Sprintf("%s_%s", rc.lockKey(l.Kind(), "otp"), code)

	discordID, err := rc.Cache.GetDel(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return "", errInvalidLinkCode
		}
		return "", err
	}
	if err := rc.Store.Link(ctx, rc.Platform, discordID, rc.User.ID); err != nil {
		return "", err
	}
	return discordID, nil
}

func (l *Link) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !l.enabled || l.prefix == "" || !l.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	var args []Arg
	if platform != msg.PlatformDiscord {
		args = []Arg{stringArg("code", "Code (if any, leave blank if on Discord)", true)}
	}
	return ArgSpec{
		Prefix: unbangPrefix(l.prefix),
		Desc:   descOf(l.Kind()),
		Hidden: true,
		Perms:  l.perms,
		Args:   args,
	}, true
}
