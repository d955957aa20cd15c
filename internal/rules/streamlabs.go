package rules

import (
	"context"
	"regexp"
	"strconv"

	"github.com/iamllama/aussiebot/internal/msg"
)

// "Rolled 68, @Name won 4000 Points and now has 62456 Points"
var gambleRegex = regexp.MustCompile(`^Rolled (?:\d+), @(.+) (?:won|lost) (?:\d+) (?:\S+) and now has (\d+) (?:\S+)`)

// "@Name, you have 58456 Points."
var pointsRegex = regexp.MustCompile(`^@?(.+), you have (\d+) (?:\S+).`)

// Streamlabs scrapes point balances out of the streamlabs chatbot's replies,
// keeping the local ledger in sync while both bots run side by side.
type Streamlabs struct {
	base
	streamlabsID string
}

func newStreamlabs(name string) *Streamlabs {
	return &Streamlabs{
		base:         base{name: name},
		streamlabsID: "UCNL8jaJ9hId96P13QmQXNtA",
	}
}

func (s *Streamlabs) Kind() string { return "Streamlabs" }

func (s *Streamlabs) fields() []Field {
	return []Field{
		s.enabledField(),
		stringField("streamlabs_id", "Streamlabs' ID", &s.streamlabsID, NoConstraint),
	}
}

func (s *Streamlabs) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !s.enabled || s.streamlabsID == "" || rc.User.ID != s.streamlabsID {
		return Disabled(), nil
	}

	var m []string
	if m = gambleRegex.FindStringSubmatch(chat.Text); m == nil {
		m = pointsRegex.FindStringSubmatch(chat.Text)
	}
	if m != nil {
		points, err := strconv.ParseInt(m[2], 10, 32)
		if err != nil {
			return RunRes{}, err
		}
		if err := rc.Store.SetPoints(ctx, rc.Platform, m[1], int32(points)); err != nil {
			return RunRes{}, err
		}
	}
	return Noop(), nil
}

func (s *Streamlabs) Invoke(context.Context, *Context, *msg.Invocation) (RunRes, bool) {
	return RunRes{}, false
}
