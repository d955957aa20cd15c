package rules

import (
	"context"
	"fmt"
	"regexp"

	"github.com/iamllama/aussiebot/internal/msg"
)

// "!ping" with an optional trailing message, capped at 200 chars
var pingRegex = regexp.MustCompile(`^(\S+)(?:\s(.{1,200}))?`)

// Ping forwards a notification to a configured person on another platform,
// e.g. poking the streamer on discord from youtube chat.
type Ping struct {
	base
	prefix         string
	autocorrect    bool
	platforms      msg.Platform
	perms          msg.Permissions
	ratelimitUser  uint64
	ratelimit      uint64
	pingeePlatform msg.Platform
	pingeeID       string
	pingeeName     string
}

func newPing(name string) *Ping {
	return &Ping{
		base:           base{name: name},
		prefix:         "!ping",
		platforms:      msg.PlatformChat,
		perms:          msg.PermNone,
		pingeePlatform: msg.PlatformDiscord,
	}
}

func (p *Ping) Kind() string { return "Ping" }

func (p *Ping) fields() []Field {
	return []Field{
		p.enabledField(),
		stringField("prefix", "Command prefix", &p.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &p.autocorrect, NoConstraint),
		platformsField("platforms", "Platforms", &p.platforms),
		permsField("perms", "Permissions", &p.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &p.ratelimitUser, Positive),
		uintField("ratelimit", "Cooldown per use (in seconds)", &p.ratelimit, Positive),
		platformsField("pingee_platform", "Target platform (choose one)", &p.pingeePlatform),
		stringField("pingee_id", "Target ID (Discord id etc.)", &p.pingeeID, NoConstraint),
		stringField("pingee_name", "Target name (Youtube name etc.)", &p.pingeeName, NoConstraint),
	}
}

// pingeeValid checks the target is addressable: stream platforms ping by
// name, discord pings by id.
func (p *Ping) pingeeValid() bool {
	switch p.pingeePlatform {
	case msg.PlatformYoutube, msg.PlatformTwitch:
		return p.pingeeName != ""
	case msg.PlatformDiscord:
		return p.pingeeID != ""
	}
	return false
}

func (p *Ping) canRun(rc *Context) bool {
	return p.enabled && p.pingeeValid() && p.platforms.Contains(rc.Platform) && rc.User.Perms >= p.perms
}

func (p *Ping) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !p.canRun(rc) {
		return Disabled(), nil
	}
	m := pingRegex.FindStringSubmatch(chat.Text)
	if m == nil {
		return Noop(), nil
	}
	suggest, matched := checkAutocorrect(p.prefix, m[1], p.autocorrect)
	if !matched {
		return Noop(), nil
	}
	if suggest {
		return Suggest(p.prefix), nil
	}
	var text *string
	if m[2] != "" {
		text = &m[2]
	}

	limited, err := ratelimitGlobal(ctx, rc, p.ratelimit, p.ratelimitUser, p.Kind(), p.name)
	if err != nil {
		return RunRes{}, err
	}
	if limited {
		return Ratelimited(true), nil
	}
	return p.run(ctx, rc, text)
}

func (p *Ping) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !p.canRun(rc) || !checkInvokePrefix(p.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	var text *string
	if s, ok := inv.Args.String("message"); ok {
		text = &s
	}

	limited, err := ratelimitGlobal(ctx, rc, p.ratelimit, p.ratelimitUser, p.Kind(), p.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("ping ratelimit failed", "name", p.name, "error", err)
		}
		return RunRes{}, false
	}
	res, err := p.run(ctx, rc, text)
	if err != nil {
		rc.log().Error("ping invoke failed", "name", p.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func (p *Ping) run(ctx context.Context, rc *Context, text *string) (RunRes, error) {
	rc.Emit(ctx, msg.Broadcast(), msg.Response{
		Platform: p.pingeePlatform,
		Channel:  rc.Channel,
		Payload: msg.Payload{
			Kind: msg.PayloadPing,
			Ping: &msg.Ping{
				Pinger: &msg.PlatformUser{Platform: rc.Platform, User: *rc.User},
				Pingee: msg.User{ID: p.pingeeID, Name: p.pingeeName, Perms: msg.PermNone},
				Text:   text,
				Meta:   rc.Meta,
			},
		},
	})
	return Ok(), nil
}

func (p *Ping) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !p.enabled || p.prefix == "" || !p.platforms.Contains(platform) {
		return ArgSpec{}, false
	}
	desc := descOf(p.Kind())
	if p.pingeeName != "" {
		if p.pingeePlatform == platform {
			desc = fmt.Sprintf("Ping %s", p.pingeeName)
		} else {
			desc = fmt.Sprintf("Ping %s on %s", p.pingeeName, p.pingeePlatform)
		}
	}
	return ArgSpec{
		Prefix: unbangPrefix(p.prefix),
		Desc:   desc,
		Hidden: true,
		Perms:  p.perms,
		Args:   []Arg{stringArg("message", "Message to send (if any)", true)},
	}, true
}
