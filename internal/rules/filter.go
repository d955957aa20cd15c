package rules

import (
	"context"
	"strings"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Filter trips on case-insensitive substring matches against the author name,
// author id and message text. Every configured test must match.
type Filter struct {
	base
	applyTo      msg.Permissions
	platforms    msg.Platform
	action       msg.ModAction
	userContains string
	msgContains  string
	idContains   string
}

func newFilter(name string) *Filter {
	return &Filter{
		base:      base{name: name},
		applyTo:   msg.PermNone,
		platforms: msg.PlatformChat,
	}
}

func (f *Filter) Kind() string { return "Filter" }

func (f *Filter) fields() []Field {
	return []Field{
		f.enabledField(),
		permsField("apply_to", "Apply to anyone below permission level", &f.applyTo),
		platformsField("platforms", "Platforms", &f.platforms),
		actionField("action", "Mod action", &f.action, RangeClosed(1, 86400)),
		stringField("user_contains", "Username contains", &f.userContains, NoConstraint),
		stringField("msg_contains", "Message contains", &f.msgContains, NoConstraint),
		stringField("id_contains", "User id contains", &f.idContains, NoConstraint),
	}
}

func (f *Filter) canRun(rc *Context) bool {
	return f.enabled && f.platforms.Contains(rc.Platform) && rc.User.Perms <= f.applyTo
}

// foldTests combines per-field test outcomes: tripped only when every
// configured test matched and at least one was configured. A nil outcome
// means the test is not configured.
func foldTests(outcomes ...*bool) bool {
	tripped := false
	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		if !*outcome {
			return false
		}
		tripped = true
	}
	return tripped
}

func testOutcome(configured, matched bool) *bool {
	if !configured {
		return nil
	}
	return &matched
}

func (f *Filter) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !f.canRun(rc) {
		return Disabled(), nil
	}
	lower := rc.Lowered(chat)
	tripped := foldTests(
		testOutcome(f.userContains != "", strings.Contains(lower.Name, f.userContains)),
		testOutcome(f.msgContains != "", strings.Contains(lower.Text, f.msgContains)),
		testOutcome(f.idContains != "", strings.Contains(lower.ID, f.idContains)),
	)
	if tripped {
		return Filtered(f.action), nil
	}
	return Ok(), nil
}

func (f *Filter) Invoke(context.Context, *Context, *msg.Invocation) (RunRes, bool) {
	return RunRes{}, false
}
