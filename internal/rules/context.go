package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/lock"
	"github.com/iamllama/aussiebot/internal/msg"
)

// Context carries one event and the handles rules need to act on it. A fresh
// Context is built per event; the lowered cache must not be shared across
// events.
type Context struct {
	Platform msg.Platform
	Origin   msg.Location
	User     *msg.User
	Meta     *msg.ChatMeta

	Cache  *cache.Cache
	Locker *lock.Locker
	Store  *db.Store
	Out    chan<- msg.Outbound

	// Channel is the bot channel token, baked into cache keys and replies.
	Channel string
	Logger  *slog.Logger

	lowerOnce sync.Once
	lower     loweredChat
}

// loweredChat caches lowercase copies of the event fields the substring
// filters test.
type loweredChat struct {
	ID   string
	Name string
	Text string
}

// Lowered returns the lowercase view of the chat event, computing it once.
func (rc *Context) Lowered(chat *msg.Chat) loweredChat {
	rc.lowerOnce.Do(func() {
		rc.lower = loweredChat{
			ID:   strings.ToLower(chat.User.ID),
			Name: strings.ToLower(chat.User.Name),
			Text: strings.ToLower(chat.Text),
		}
	})
	return rc.lower
}

// Emit routes a response, giving up if the event context ends first.
func (rc *Context) Emit(ctx context.Context, loc msg.Location, resp msg.Response) {
	select {
	case rc.Out <- msg.Outbound{Loc: loc, Response: resp}:
	case <-ctx.Done():
	}
}

func (rc *Context) log() *slog.Logger {
	if rc.Logger == nil {
		return slog.Default()
	}
	return rc.Logger
}

// lockKey builds the shared `aussiebot_<channel>_<rule>_<lock>` key stem.
func (rc *Context) lockKey(kind, lock string) string {
	return fmt.Sprintf("aussiebot_%s_%s_%s", rc.Channel, strings.ToLower(kind), lock)
}

// message wraps reply text in an outbound envelope attributed to the event's
// author.
func (rc *Context) message(platform msg.Platform, text string, mention bool) msg.Response {
	var user *msg.PlatformUser
	if mention && rc.User != nil {
		user = &msg.PlatformUser{Platform: rc.Platform, User: *rc.User}
	}
	return msg.Response{
		Platform: platform,
		Channel:  rc.Channel,
		Payload: msg.Payload{
			Kind:    msg.PayloadMessage,
			Message: &msg.BotMessage{User: user, Text: text, Meta: rc.Meta},
		},
	}
}

// ping wraps a notification for pingee in an outbound envelope.
func (rc *Context) ping(platform msg.Platform, pinger *msg.PlatformUser, pingee msg.User, text string) msg.Response {
	return msg.Response{
		Platform: platform,
		Channel:  rc.Channel,
		Payload: msg.Payload{
			Kind: msg.PayloadPing,
			Ping: &msg.Ping{Pinger: pinger, Pingee: pingee, Text: &text, Meta: rc.Meta},
		},
	}
}
