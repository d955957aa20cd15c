package msg

import (
	"encoding/json"
	"fmt"
)

// User identifies the author of an event. Permission levels arrive from the
// adapters with every event.
type User struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Perms Permissions `json:"perms"`
}

// PlatformUser pairs a user with the platform an event originated on.
// Serialized as a two-element tuple.
type PlatformUser struct {
	Platform Platform
	User     User
}

func (p PlatformUser) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Platform, p.User})
}

func (p *PlatformUser) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &p.Platform, &p.User)
}

// Attachment is a platform file attachment, serialized as [name, url].
type Attachment struct {
	Name string
	URL  string
}

func (a Attachment) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{a.Name, a.URL})
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &a.Name, &a.URL)
}

// Interaction carries a correlated-reply token for platforms that demand
// replies within a deadline. It is opaque to the engine and echoed back on
// the response path.
type Interaction struct {
	Token     string
	ID        uint64
	Ephemeral bool
	DM        bool
}

func (i Interaction) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{i.Token, i.ID, i.Ephemeral, i.DM})
}

func (i *Interaction) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &i.Token, &i.ID, &i.Ephemeral, &i.DM)
}

// MetaKind discriminates the platform-specific metadata variants.
type MetaKind int

const (
	MetaYoutube MetaKind = iota + 1
	MetaDiscordChannel
	MetaDiscordChannelMedia
	MetaDiscordMedia
	MetaDiscordGuild
	MetaDiscordInteraction
)

// ChatMeta is optional platform-specific event metadata. Only the fields
// relevant to the Kind are populated.
type ChatMeta struct {
	Kind MetaKind

	// MetaYoutube: donation amount.
	Donation string
	// MetaDiscordChannel / MetaDiscordChannelMedia: origin channel.
	ChannelID   uint64
	ChannelName string
	// MetaDiscordChannelMedia / MetaDiscordMedia.
	Attachments []Attachment
	Stickers    []string
	// MetaDiscordGuild.
	GuildID string
	// MetaDiscordInteraction.
	Interaction *Interaction
}

func (m ChatMeta) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MetaYoutube:
		return MarshalTagged("Youtube", m.Donation)
	case MetaDiscordChannel:
		return MarshalTagged("Discord1", []any{m.ChannelID, m.ChannelName})
	case MetaDiscordChannelMedia:
		return MarshalTagged("Discord2", []any{m.ChannelID, m.ChannelName, m.Attachments, m.Stickers})
	case MetaDiscordMedia:
		return MarshalTagged("Discord3", []any{m.Attachments, m.Stickers})
	case MetaDiscordGuild:
		return MarshalTagged("Discord4", m.GuildID)
	case MetaDiscordInteraction:
		return MarshalTagged("DiscordInteraction", m.Interaction)
	}
	return nil, fmt.Errorf("invalid meta kind %d", m.Kind)
}

func (m *ChatMeta) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "Youtube":
		m.Kind = MetaYoutube
		return json.Unmarshal(inner, &m.Donation)
	case "Discord1":
		m.Kind = MetaDiscordChannel
		return UnmarshalTuple(inner, &m.ChannelID, &m.ChannelName)
	case "Discord2":
		m.Kind = MetaDiscordChannelMedia
		return UnmarshalTuple(inner, &m.ChannelID, &m.ChannelName, &m.Attachments, &m.Stickers)
	case "Discord3":
		m.Kind = MetaDiscordMedia
		return UnmarshalTuple(inner, &m.Attachments, &m.Stickers)
	case "Discord4":
		m.Kind = MetaDiscordGuild
		return json.Unmarshal(inner, &m.GuildID)
	case "DiscordInteraction":
		m.Kind = MetaDiscordInteraction
		m.Interaction = &Interaction{}
		return json.Unmarshal(inner, m.Interaction)
	}
	return fmt.Errorf("unknown chat meta %q", tag)
}

// Chat is a single chat message event from an adapter.
type Chat struct {
	User *User     `json:"user"`
	Text string    `json:"msg"`
	Meta *ChatMeta `json:"meta,omitempty"`
}

// StreamEventKind discriminates stream lifecycle events.
type StreamEventKind int

const (
	// StreamDetectStart: a platform has detected a stream start.
	StreamDetectStart StreamEventKind = iota + 1
	// StreamStarted: a chat platform has started following a stream.
	StreamStarted
	// StreamDetectStop: a platform has detected a stream stop.
	StreamDetectStop
	// StreamStopped: a chat platform has stopped following a stream.
	StreamStopped
)

type StreamEvent struct {
	Kind StreamEventKind
	URL  string
	// ID is the stream/video identifier, set for StreamStarted and
	// StreamStopped.
	ID string
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case StreamDetectStart:
		return MarshalTagged("DetectStart", e.URL)
	case StreamStarted:
		return MarshalTagged("Started", []string{e.URL, e.ID})
	case StreamDetectStop:
		return MarshalTagged("DetectStop", e.URL)
	case StreamStopped:
		return MarshalTagged("Stopped", e.ID)
	}
	return nil, fmt.Errorf("invalid stream event kind %d", e.Kind)
}

func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "DetectStart":
		e.Kind = StreamDetectStart
		return json.Unmarshal(inner, &e.URL)
	case "Started":
		e.Kind = StreamStarted
		return UnmarshalTuple(inner, &e.URL, &e.ID)
	case "DetectStop":
		e.Kind = StreamDetectStop
		return json.Unmarshal(inner, &e.URL)
	case "Stopped":
		e.Kind = StreamStopped
		return json.Unmarshal(inner, &e.ID)
	}
	return fmt.Errorf("unknown stream event %q", tag)
}

// StreamSignal tells adapters to start or stop following a stream.
type StreamSignal struct {
	Stop bool
	URL  string
}

func (s StreamSignal) MarshalJSON() ([]byte, error) {
	if s.Stop {
		return MarshalTagged("Stop", s.URL)
	}
	return MarshalTagged("Start", s.URL)
}

func (s *StreamSignal) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "Start":
		s.Stop = false
	case "Stop":
		s.Stop = true
	default:
		return fmt.Errorf("unknown stream signal %q", tag)
	}
	return json.Unmarshal(inner, &s.URL)
}

// InvKind discriminates invocation kinds.
type InvKind int

const (
	InvInvoke InvKind = iota + 1
	InvAutocomplete
	InvReaction
	InvStreamEvent
	InvInit
)

type InvocationKind struct {
	Kind InvKind
	// InvReaction.
	MessageID string
	Emoji     string
	// InvStreamEvent.
	Stream *StreamEvent
}

func (k InvocationKind) MarshalJSON() ([]byte, error) {
	switch k.Kind {
	case InvInvoke:
		return MarshalTagged("Invoke", nil)
	case InvAutocomplete:
		return MarshalTagged("Autocomplete", nil)
	case InvReaction:
		return MarshalTagged("Reaction", map[string]string{"message_id": k.MessageID, "emoji": k.Emoji})
	case InvStreamEvent:
		return MarshalTagged("StreamEvent", k.Stream)
	case InvInit:
		return MarshalTagged("Init", nil)
	}
	return nil, fmt.Errorf("invalid invocation kind %d", k.Kind)
}

func (k *InvocationKind) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "Invoke":
		k.Kind = InvInvoke
	case "Autocomplete":
		k.Kind = InvAutocomplete
	case "Reaction":
		k.Kind = InvReaction
		var fields struct {
			MessageID string `json:"message_id"`
			Emoji     string `json:"emoji"`
		}
		if err := json.Unmarshal(inner, &fields); err != nil {
			return err
		}
		k.MessageID = fields.MessageID
		k.Emoji = fields.Emoji
	case "StreamEvent":
		k.Kind = InvStreamEvent
		k.Stream = &StreamEvent{}
		return json.Unmarshal(inner, k.Stream)
	case "Init":
		k.Kind = InvInit
	default:
		return fmt.Errorf("unknown invocation kind %q", tag)
	}
	return nil
}

// Invocation is an explicit command call carrying an argument map, e.g. from
// a slash-style UI. A nil Kind implies InvInvoke.
type Invocation struct {
	User *User           `json:"user"`
	Cmd  string          `json:"cmd"`
	Args ArgMap          `json:"args"`
	Meta *ChatMeta       `json:"meta,omitempty"`
	Kind *InvocationKind `json:"kind,omitempty"`
}

// InvKindOf returns the effective invocation kind.
func (i *Invocation) InvKindOf() InvKind {
	if i.Kind == nil {
		return InvInvoke
	}
	return i.Kind.Kind
}

// Ping is a cross-platform notification with an optional reply intent.
type Ping struct {
	Pinger *PlatformUser `json:"pinger,omitempty"`
	Pingee User          `json:"pingee"`
	Text   *string       `json:"msg,omitempty"`
	Meta   *ChatMeta     `json:"meta,omitempty"`
}

// Choice is a key-value autocomplete choice, serialized as [key, value].
type Choice struct {
	Key   string
	Value string
}

func (c Choice) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{c.Key, c.Value})
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &c.Key, &c.Value)
}

type Autocomplete struct {
	Choices []Choice  `json:"choices"`
	Meta    *ChatMeta `json:"meta,omitempty"`
}

// Role describes a platform role mutation for the guild platform.
type Role struct {
	UserID  string  `json:"user_id"`
	RoleID  string  `json:"role_id"`
	GuildID *string `json:"guild_id,omitempty"`
	Reason  *string `json:"reason"`
}

// DiscordActionKind discriminates guild-platform-specific actions.
type DiscordActionKind int

const (
	DiscordAddRole DiscordActionKind = iota + 1
	DiscordRemoveRole
	DiscordStreamerID
)

type DiscordAction struct {
	Kind DiscordActionKind
	Role *Role
	// DiscordStreamerID.
	StreamerID string
}

func (d DiscordAction) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DiscordAddRole:
		return MarshalTagged("AddRole", d.Role)
	case DiscordRemoveRole:
		return MarshalTagged("RemoveRole", d.Role)
	case DiscordStreamerID:
		return MarshalTagged("StreamerId", d.StreamerID)
	}
	return nil, fmt.Errorf("invalid discord action kind %d", d.Kind)
}

func (d *DiscordAction) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "AddRole":
		d.Kind = DiscordAddRole
	case "RemoveRole":
		d.Kind = DiscordRemoveRole
	case "StreamerId":
		d.Kind = DiscordStreamerID
		return json.Unmarshal(inner, &d.StreamerID)
	default:
		return fmt.Errorf("unknown discord action %q", tag)
	}
	d.Role = &Role{}
	return json.Unmarshal(inner, d.Role)
}
