// Package rules implements the typed rule registry: the configurable chat
// commands, filters and timers the engine runs against every event, plus
// their schema, dump and argument-surface machinery.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Rule is one configured rule instance.
type Rule interface {
	// Kind returns the registry tag, e.g. "Points".
	Kind() string
	Name() string
	Enabled() bool

	// fields lists the config bindings in schema order, implicit enabled
	// flag first. The instance name is never a field.
	fields() []Field

	// Chat runs the rule against a chat message.
	Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error)
	// Invoke runs the rule against an explicit invocation; handled reports
	// whether the rule claimed it.
	Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (res RunRes, handled bool)
}

// Initializer is implemented by rules that spawn a background task on config
// install. It reports whether a task was spawned; the task must exit when
// cancel closes.
type Initializer interface {
	Init(ctx context.Context, cancel <-chan struct{}, rc *Context) bool
}

// ArgProvider is implemented by rules that expose a slash-style invocation
// surface.
type ArgProvider interface {
	ArgSpec(platform msg.Platform) (ArgSpec, bool)
}

// RuleType buckets rule kinds for the schema dump.
type RuleType int

const (
	TypeCommand RuleType = iota + 1
	TypeFilter
	TypeTimer
)

func (t RuleType) String() string {
	switch t {
	case TypeCommand:
		return "Command"
	case TypeFilter:
		return "Filter"
	case TypeTimer:
		return "Timer"
	}
	return fmt.Sprintf("RuleType(%d)", int(t))
}

func (t RuleType) MarshalJSON() ([]byte, error) {
	switch t {
	case TypeCommand, TypeFilter, TypeTimer:
		return json.Marshal(t.String())
	}
	return nil, fmt.Errorf("invalid rule type %d", int(t))
}

func (t *RuleType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "Command":
		*t = TypeCommand
	case "Filter":
		*t = TypeFilter
	case "Timer":
		*t = TypeTimer
	default:
		return fmt.Errorf("unknown rule type %q", name)
	}
	return nil
}

// base carries the implicit per-instance state every rule shares.
type base struct {
	name    string
	enabled bool
}

func (b *base) Name() string  { return b.name }
func (b *base) Enabled() bool { return b.enabled }

func (b *base) enabledField() Field {
	return boolField("enabled", "Enabled", &b.enabled, NoConstraint)
}

type kindSpec struct {
	tag  string
	desc string
	typ  RuleType
	make func(name string) Rule
}

// The registry, in declaration order. Schema dumps preserve this order.
var kindSpecs = []kindSpec{
	{"Points", "Accumulate and check points", TypeCommand, func(n string) Rule { return newPoints(n) }},
	{"Give", "Give and receive points", TypeCommand, func(n string) Rule { return newGive(n) }},
	{"Filter", "Filter chat based on username and message", TypeFilter, func(n string) Rule { return newFilter(n) }},
	{"RegexFilter", "Filter chat by matching username, id and/or message against regex patterns", TypeFilter, func(n string) Rule { return newRegexFilter(n) }},
	{"LevenshteinFilter", "Filter consecutive similar chat messages from the same user", TypeFilter, func(n string) Rule { return newLevenshteinFilter(n) }},
	{"Streamlabs", "Scrape points from streamlabs' chatbot", TypeCommand, func(n string) Rule { return newStreamlabs(n) }},
	{"Timer", "Send a message at preset intervals", TypeTimer, func(n string) Rule { return newTimer(n) }},
	{"Hours", "Accumulate and check watch time", TypeCommand, func(n string) Rule { return newHours(n) }},
	{"Log", "Log recent messages for inspection", TypeCommand, func(n string) Rule { return newLog(n) }},
	{"Link", "Link Youtube and Twitch to Discord", TypeCommand, func(n string) Rule { return newLink(n) }},
	{"Ping", "Ping someone on another platform", TypeCommand, func(n string) Rule { return newPing(n) }},
	{"Transfer", "Transfer points between platforms", TypeCommand, func(n string) Rule { return newTransfer(n) }},
	{"RussianRoulette", "Win big or get timed out/banned (either way, there is no mod abuse 👀)", TypeCommand, func(n string) Rule { return newRussianRoulette(n) }},
	{"Quote", "Quote something", TypeCommand, func(n string) Rule { return newQuote(n) }},
	{"MemeBank", "Store memes for future use", TypeCommand, func(n string) Rule { return newMemeBank(n) }},
	{"ReactionRole", "Let users self-assign a role by reacting to a message (Discord-specific)", TypeCommand, func(n string) Rule { return newReactionRole(n) }},
	{"Stream", "Announce a stream", TypeCommand, func(n string) Rule { return newStream(n) }},
}

func kindByTag(tag string) (kindSpec, bool) {
	for _, spec := range kindSpecs {
		if spec.tag == tag {
			return spec, true
		}
	}
	return kindSpec{}, false
}

func descOf(tag string) string {
	spec, _ := kindByTag(tag)
	return spec.desc
}

// KeyValue is one [key, value] config pair.
type KeyValue struct {
	Key   string
	Value Value
}

func (kv KeyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{kv.Key, kv.Value})
}

func (kv *KeyValue) UnmarshalJSON(data []byte) error {
	return msg.UnmarshalTuple(data, &kv.Key, &kv.Value)
}

// RuleDump is a serialized rule instance: [kind, name, [[key, value], ...]].
type RuleDump struct {
	Kind   string
	Name   string
	Values []KeyValue
}

func (d RuleDump) MarshalJSON() ([]byte, error) {
	values := d.Values
	if values == nil {
		values = []KeyValue{}
	}
	return json.Marshal([]any{d.Kind, d.Name, values})
}

func (d *RuleDump) UnmarshalJSON(data []byte) error {
	return msg.UnmarshalTuple(data, &d.Kind, &d.Name, &d.Values)
}

// New builds a rule instance from a dump. Unknown kinds return false.
// Unknown keys, mistyped values and constraint violations are logged and
// skipped, leaving the field at its default; they never fail the whole
// instance.
func New(dump RuleDump, logger *slog.Logger) (Rule, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	spec, ok := kindByTag(dump.Kind)
	if !ok {
		logger.Warn("skipping rule of unknown kind", "kind", dump.Kind, "name", dump.Name)
		return nil, false
	}
	rule := spec.make(dump.Name)
	fields := rule.fields()
	for _, kv := range dump.Values {
		field, ok := fieldByName(fields, kv.Key)
		if !ok {
			logger.Warn("skipping unknown config key", "kind", dump.Kind, "name", dump.Name, "key", kv.Key)
			continue
		}
		if !kv.Value.Verify(field.Constr) {
			logger.Warn("skipping config value that violates its constraint",
				"kind", dump.Kind, "name", dump.Name, "key", kv.Key)
			continue
		}
		if err := field.set(kv.Value); err != nil {
			logger.Warn("skipping unusable config value",
				"kind", dump.Kind, "name", dump.Name, "key", kv.Key, "error", err)
		}
	}
	return rule, true
}

func fieldByName(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Dump serializes a rule instance back into its config form.
func Dump(r Rule) RuleDump {
	fields := r.fields()
	values := make([]KeyValue, 0, len(fields))
	for _, f := range fields {
		values = append(values, KeyValue{Key: f.Name, Value: f.get()})
	}
	return RuleDump{Kind: r.Kind(), Name: r.Name(), Values: values}
}

// KeySchema describes one config key: [key, desc, default, constraint].
type KeySchema struct {
	Key        string
	Desc       string
	Default    Value
	Constraint Constraint
}

func (s KeySchema) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.Key, s.Desc, s.Default, s.Constraint})
}

func (s *KeySchema) UnmarshalJSON(data []byte) error {
	return msg.UnmarshalTuple(data, &s.Key, &s.Desc, &s.Default, &s.Constraint)
}

// RuleSchema describes one rule kind: [kind, desc, type, keys].
type RuleSchema struct {
	Kind string
	Desc string
	Type RuleType
	Keys []KeySchema
}

func (s RuleSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.Kind, s.Desc, s.Type, s.Keys})
}

func (s *RuleSchema) UnmarshalJSON(data []byte) error {
	return msg.UnmarshalTuple(data, &s.Kind, &s.Desc, &s.Type, &s.Keys)
}

// Schema dumps the full registry schema, built from default instances.
func Schema() []RuleSchema {
	schemas := make([]RuleSchema, 0, len(kindSpecs))
	for _, spec := range kindSpecs {
		instance := spec.make("")
		fields := instance.fields()
		keys := make([]KeySchema, 0, len(fields))
		for _, f := range fields {
			keys = append(keys, KeySchema{Key: f.Name, Desc: f.Desc, Default: f.get(), Constraint: f.Constr})
		}
		schemas = append(schemas, RuleSchema{Kind: spec.tag, Desc: spec.desc, Type: spec.typ, Keys: keys})
	}
	return schemas
}
