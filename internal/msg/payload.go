package msg

import (
	"encoding/json"
	"fmt"
)

// PayloadKind discriminates the payload union carried by Message and
// Response envelopes.
type PayloadKind int

const (
	PayloadChat PayloadKind = iota + 1
	PayloadInvokeCommand
	PayloadStreamEvent
	PayloadPing
	PayloadDumpConfig
	PayloadDumpSchema
	PayloadDumpLog
	PayloadDumpModActions
	PayloadDumpArgs
	PayloadConfigSaved
	PayloadConfigChanged
	PayloadModAction
	PayloadStreamSignal
	PayloadStreamAnnouncement
	PayloadMessage
	PayloadAutocorrect
	PayloadSchemaDump
	PayloadLogDump
	PayloadConfigDump
	PayloadModActionsDump
	PayloadArgsDump
	PayloadAutocomplete
	PayloadDiscord
	PayloadNotifyStart
)

// ModActionEvent is an emitted moderation verdict, serialized as
// [user, action, reason].
type ModActionEvent struct {
	User   User
	Action ModAction
	Reason string
}

func (e ModActionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.User, e.Action, e.Reason})
}

func (e *ModActionEvent) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &e.User, &e.Action, &e.Reason)
}

// StreamAnnouncement carries a stream URL and the rendered announcement text,
// serialized as [url, text].
type StreamAnnouncement struct {
	URL  string
	Text string
}

func (a StreamAnnouncement) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{a.URL, a.Text})
}

func (a *StreamAnnouncement) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &a.URL, &a.Text)
}

// BotMessage is the bot's user-facing reply.
type BotMessage struct {
	User *PlatformUser `json:"user,omitempty"`
	Text string        `json:"msg"`
	Meta *ChatMeta     `json:"meta,omitempty"`
}

// AutocorrectEvent lists prefix suggestions for a mistyped command,
// serialized as [user, suggestions].
type AutocorrectEvent struct {
	User        User
	Suggestions []string
}

func (e AutocorrectEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.User, e.Suggestions})
}

func (e *AutocorrectEvent) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &e.User, &e.Suggestions)
}

// PlatformLog pairs a platform with its stored chat lines, serialized as
// [platform, lines].
type PlatformLog struct {
	Platform Platform
	Lines    []string
}

func (l PlatformLog) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Platform, l.Lines})
}

func (l *PlatformLog) UnmarshalJSON(data []byte) error {
	return UnmarshalTuple(data, &l.Platform, &l.Lines)
}

// Payload is the tagged union of everything that can ride a Message or
// Response. Only the field matching Kind is populated. Dump bodies owned by
// other packages (schema, config, args, mod actions) are carried as
// pre-encoded JSON to keep the wire format theirs.
type Payload struct {
	Kind PayloadKind

	Chat         *Chat
	Invocation   *Invocation
	Stream       *StreamEvent
	Ping         *Ping
	Platform     Platform // DumpLog / DumpArgs argument
	Mod          *ModActionEvent
	Signal       *StreamSignal
	Announcement *StreamAnnouncement
	Message      *BotMessage
	Autocorrect  *AutocorrectEvent
	Log          []PlatformLog
	Complete     *Autocomplete
	Discord      *DiscordAction

	Schema     json.RawMessage
	Config     json.RawMessage
	ModActions json.RawMessage
	Args       json.RawMessage
}

func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PayloadChat:
		return MarshalTagged("Chat", p.Chat)
	case PayloadInvokeCommand:
		return MarshalTagged("InvokeCommand", p.Invocation)
	case PayloadStreamEvent:
		return MarshalTagged("StreamEvent", p.Stream)
	case PayloadPing:
		return MarshalTagged("Ping", p.Ping)
	case PayloadDumpConfig:
		return MarshalTagged("DumpConfig", nil)
	case PayloadDumpSchema:
		return MarshalTagged("DumpSchema", nil)
	case PayloadDumpLog:
		return MarshalTagged("DumpLog", p.Platform)
	case PayloadDumpModActions:
		return MarshalTagged("DumpModActions", nil)
	case PayloadDumpArgs:
		return MarshalTagged("DumpArgs", p.Platform)
	case PayloadConfigSaved:
		return MarshalTagged("ConfigSaved", nil)
	case PayloadConfigChanged:
		return MarshalTagged("ConfigChanged", nil)
	case PayloadModAction:
		return MarshalTagged("ModAction", p.Mod)
	case PayloadStreamSignal:
		return MarshalTagged("StreamSignal", p.Signal)
	case PayloadStreamAnnouncement:
		return MarshalTagged("StreamAnnouncement", p.Announcement)
	case PayloadMessage:
		return MarshalTagged("Message", p.Message)
	case PayloadAutocorrect:
		return MarshalTagged("Autocorrect", p.Autocorrect)
	case PayloadSchemaDump:
		return MarshalTagged("SchemaDump", p.Schema)
	case PayloadLogDump:
		return MarshalTagged("LogDump", p.Log)
	case PayloadConfigDump:
		return MarshalTagged("ConfigDump", p.Config)
	case PayloadModActionsDump:
		return MarshalTagged("ModActionsDump", p.ModActions)
	case PayloadArgsDump:
		return MarshalTagged("ArgsDump", p.Args)
	case PayloadAutocomplete:
		return MarshalTagged("Autocomplete", p.Complete)
	case PayloadDiscord:
		return MarshalTagged("Discord", p.Discord)
	case PayloadNotifyStart:
		return MarshalTagged("NotifyStart", nil)
	}
	return nil, fmt.Errorf("invalid payload kind %d", p.Kind)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "Chat":
		p.Kind = PayloadChat
		p.Chat = &Chat{}
		return json.Unmarshal(inner, p.Chat)
	case "InvokeCommand":
		p.Kind = PayloadInvokeCommand
		p.Invocation = &Invocation{}
		return json.Unmarshal(inner, p.Invocation)
	case "StreamEvent":
		p.Kind = PayloadStreamEvent
		p.Stream = &StreamEvent{}
		return json.Unmarshal(inner, p.Stream)
	case "Ping":
		p.Kind = PayloadPing
		p.Ping = &Ping{}
		return json.Unmarshal(inner, p.Ping)
	case "DumpConfig":
		p.Kind = PayloadDumpConfig
	case "DumpSchema":
		p.Kind = PayloadDumpSchema
	case "DumpLog":
		p.Kind = PayloadDumpLog
		return json.Unmarshal(inner, &p.Platform)
	case "DumpModActions":
		p.Kind = PayloadDumpModActions
	case "DumpArgs":
		p.Kind = PayloadDumpArgs
		return json.Unmarshal(inner, &p.Platform)
	case "ConfigSaved":
		p.Kind = PayloadConfigSaved
	case "ConfigChanged":
		p.Kind = PayloadConfigChanged
	case "ModAction":
		p.Kind = PayloadModAction
		p.Mod = &ModActionEvent{}
		return json.Unmarshal(inner, p.Mod)
	case "StreamSignal":
		p.Kind = PayloadStreamSignal
		p.Signal = &StreamSignal{}
		return json.Unmarshal(inner, p.Signal)
	case "StreamAnnouncement":
		p.Kind = PayloadStreamAnnouncement
		p.Announcement = &StreamAnnouncement{}
		return json.Unmarshal(inner, p.Announcement)
	case "Message":
		p.Kind = PayloadMessage
		p.Message = &BotMessage{}
		return json.Unmarshal(inner, p.Message)
	case "Autocorrect":
		p.Kind = PayloadAutocorrect
		p.Autocorrect = &AutocorrectEvent{}
		return json.Unmarshal(inner, p.Autocorrect)
	case "SchemaDump":
		p.Kind = PayloadSchemaDump
		p.Schema = append([]byte(nil), inner...)
	case "LogDump":
		p.Kind = PayloadLogDump
		return json.Unmarshal(inner, &p.Log)
	case "ConfigDump":
		p.Kind = PayloadConfigDump
		p.Config = append([]byte(nil), inner...)
	case "ModActionsDump":
		p.Kind = PayloadModActionsDump
		p.ModActions = append([]byte(nil), inner...)
	case "ArgsDump":
		p.Kind = PayloadArgsDump
		p.Args = append([]byte(nil), inner...)
	case "Autocomplete":
		p.Kind = PayloadAutocomplete
		p.Complete = &Autocomplete{}
		return json.Unmarshal(inner, p.Complete)
	case "Discord":
		p.Kind = PayloadDiscord
		p.Discord = &DiscordAction{}
		return json.Unmarshal(inner, p.Discord)
	case "NotifyStart":
		p.Kind = PayloadNotifyStart
	default:
		return fmt.Errorf("unknown payload %q", tag)
	}
	return nil
}

// Message is an inbound envelope from an adapter or operator session.
type Message struct {
	Platform Platform `json:"platform"`
	Channel  string   `json:"channel"`
	Payload  Payload  `json:"payload"`
}

// Response is an outbound envelope. Responses triggered by a received
// Message inherit its platform tag.
type Response struct {
	Platform Platform `json:"platform"`
	Channel  string   `json:"channel"`
	Payload  Payload  `json:"payload"`
}
