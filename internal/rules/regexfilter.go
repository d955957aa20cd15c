package rules

import (
	"context"

	"github.com/iamllama/aussiebot/internal/msg"
)

// RegexFilter trips on regex matches against the raw author name, author id
// and message text. Empty patterns are unconfigured; the fold semantics match
// Filter.
type RegexFilter struct {
	base
	applyTo     msg.Permissions
	platforms   msg.Platform
	action      msg.ModAction
	userPattern Pattern
	msgPattern  Pattern
	idPattern   Pattern
}

func newRegexFilter(name string) *RegexFilter {
	return &RegexFilter{
		base:      base{name: name},
		applyTo:   msg.PermNone,
		platforms: msg.PlatformChat,
	}
}

func (f *RegexFilter) Kind() string { return "RegexFilter" }

func (f *RegexFilter) fields() []Field {
	return []Field{
		f.enabledField(),
		permsField("apply_to", "Apply to anyone below permission level", &f.applyTo),
		platformsField("platforms", "Platforms", &f.platforms),
		actionField("action", "Mod action", &f.action, RangeClosed(1, 86400)),
		patternField("user_pattern", "Username matches", &f.userPattern, NoConstraint),
		patternField("msg_pattern", "Message matches", &f.msgPattern, NoConstraint),
		patternField("id_pattern", "User id matches", &f.idPattern, NoConstraint),
	}
}

func (f *RegexFilter) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !f.enabled || !f.platforms.Contains(rc.Platform) || rc.User.Perms > f.applyTo {
		return Disabled(), nil
	}
	tripped := foldTests(
		testOutcome(!f.userPattern.Empty(), f.userPattern.MatchString(chat.User.Name)),
		testOutcome(!f.msgPattern.Empty(), f.msgPattern.MatchString(chat.Text)),
		testOutcome(!f.idPattern.Empty(), f.idPattern.MatchString(chat.User.ID)),
	)
	if tripped {
		return Filtered(f.action), nil
	}
	return Ok(), nil
}

func (f *RegexFilter) Invoke(context.Context, *Context, *msg.Invocation) (RunRes, bool) {
	return RunRes{}, false
}
