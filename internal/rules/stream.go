package rules

import (
	"context"
	"strings"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Stream announces a stream going live on the configured platforms.
type Stream struct {
	base
	platforms msg.Platform
	message   string
}

func newStream(name string) *Stream {
	return &Stream{
		base:      base{name: name},
		platforms: msg.PlatformAnnounce,
		message:   "Hey @everyone <:PogChampGG:795488853091811389> <:PogChampGG:795488853091811389> <:PogChampGG:795488853091811389> today **AussieGG** brings you:\n{url}",
	}
}

func (s *Stream) Kind() string { return "Stream" }

func (s *Stream) fields() []Field {
	return []Field{
		s.enabledField(),
		platformsField("platforms", "Platforms to annouce on", &s.platforms),
		stringField("message", "Announcement message", &s.message, RangeClosed(1, 500)),
	}
}

func (s *Stream) Chat(context.Context, *Context, *msg.Chat) (RunRes, error) {
	return Noop(), nil
}

func (s *Stream) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !s.enabled || s.message == "" {
		return RunRes{}, false
	}
	switch inv.InvKindOf() {
	case msg.InvInit:
		return Noop(), true
	case msg.InvStreamEvent:
		if evt := inv.Kind.Stream; evt != nil && evt.Kind == msg.StreamStarted {
			s.announce(ctx, rc, evt.URL)
		}
		return Ok(), true
	}
	return RunRes{}, false
}

func (s *Stream) announce(ctx context.Context, rc *Context, url string) {
	text := strings.ReplaceAll(s.message, "{url}", url)
	text = strings.ReplaceAll(text, `\n`, "\n")
	rc.log().Info("announcing stream", "url", url)
	rc.Emit(ctx, msg.Pubsub(), msg.Response{
		Platform: s.platforms,
		Channel:  rc.Channel,
		Payload: msg.Payload{
			Kind:         msg.PayloadStreamAnnouncement,
			Announcement: &msg.StreamAnnouncement{URL: url, Text: text},
		},
	})
}
