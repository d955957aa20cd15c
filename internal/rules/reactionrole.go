package rules

import (
	"context"
	"fmt"

	"github.com/iamllama/aussiebot/internal/msg"
)

// ReactionRole lets users self-assign a role by reacting to a watched
// message with a configured emoji.
type ReactionRole struct {
	base
	emoji     string
	messageID string
	roleID    string
}

func newReactionRole(name string) *ReactionRole {
	return &ReactionRole{
		base:  base{name: name},
		emoji: "🤔",
	}
}

func (r *ReactionRole) Kind() string { return "ReactionRole" }

func (r *ReactionRole) fields() []Field {
	return []Field{
		r.enabledField(),
		stringField("emoji", "Emoji (or ID if custom)", &r.emoji, NoConstraint),
		stringField("message_id", "Message ID to watch for reactions on", &r.messageID, NoConstraint),
		stringField("role_id", "Role ID to add/remove", &r.roleID, NoConstraint),
	}
}

func (r *ReactionRole) Chat(context.Context, *Context, *msg.Chat) (RunRes, error) {
	return Noop(), nil
}

func (r *ReactionRole) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !r.enabled || r.roleID == "" {
		return RunRes{}, false
	}
	kind := inv.Kind
	if kind == nil || kind.Kind != msg.InvReaction ||
		kind.MessageID != r.messageID || kind.Emoji != r.emoji {
		return RunRes{}, false
	}

	var actionKind msg.DiscordActionKind
	switch inv.Cmd {
	case "@reaction_add":
		actionKind = msg.DiscordAddRole
	case "@reaction_rem":
		actionKind = msg.DiscordRemoveRole
	default:
		return RunRes{}, false
	}

	var guildID *string
	if inv.Meta != nil && inv.Meta.Kind == msg.MetaDiscordGuild {
		guildID = &inv.Meta.GuildID
	}

	reason := "ReactionRole"
	if r.name != "" {
		reason = fmt.Sprintf("ReactionRole (%s)", r.name)
	}

	rc.Emit(ctx, rc.Origin, msg.Response{
		Platform: rc.Platform,
		Channel:  rc.Channel,
		Payload: msg.Payload{
			Kind: msg.PayloadDiscord,
			Discord: &msg.DiscordAction{
				Kind: actionKind,
				Role: &msg.Role{
					UserID:  rc.User.ID,
					RoleID:  r.roleID,
					GuildID: guildID,
					Reason:  &reason,
				},
			},
		},
	})
	return Ok(), true
}
