package rules

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/iamllama/aussiebot/internal/msg"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDumpInflateRoundTripAllKinds(t *testing.T) {
	for _, spec := range kindSpecs {
		rule := spec.make("instance")
		dump := Dump(rule)

		rebuilt, ok := New(dump, discard())
		if !ok {
			t.Fatalf("%s: New rejected its own dump", spec.tag)
		}
		if got := Dump(rebuilt); !reflect.DeepEqual(got, dump) {
			t.Fatalf("%s: dump changed across round trip:\n got %+v\nwant %+v", spec.tag, got, dump)
		}
	}
}

func TestNewAppliesDumpedValues(t *testing.T) {
	dump := RuleDump{
		Kind: "Points",
		Name: "pts",
		Values: []KeyValue{
			{"enabled", BoolValue(true)},
			{"prefix", StringValue("!bal")},
			{"points", NumberValue(7)},
		},
	}
	rule, ok := New(dump, discard())
	if !ok {
		t.Fatalf("New failed")
	}
	p, ok := rule.(*Points)
	if !ok {
		t.Fatalf("expected *Points, got %T", rule)
	}
	if !p.enabled || p.prefix != "!bal" || p.points != 7 {
		t.Fatalf("values not applied: %+v", p)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, ok := New(RuleDump{Kind: "Karaoke", Name: "x"}, discard()); ok {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestNewSkipsBadValuesKeepingDefaults(t *testing.T) {
	dump := RuleDump{
		Kind: "Points",
		Name: "pts",
		Values: []KeyValue{
			{"prefix", StringValue("")},       // violates NonEmpty
			{"points", NumberValue(-5)},       // violates Positive
			{"points", StringValue("many")},   // wrong type
			{"no_such_key", BoolValue(true)},  // unknown key
			{"dono_msg", StringValue("ty!")},  // fine
		},
	}
	rule, ok := New(dump, discard())
	if !ok {
		t.Fatalf("bad values must not fail the instance")
	}
	p := rule.(*Points)
	if p.prefix != "!points" {
		t.Fatalf("expected default prefix kept, got %q", p.prefix)
	}
	if p.points != 5 {
		t.Fatalf("expected default points kept, got %d", p.points)
	}
	if p.donoMsg != "ty!" {
		t.Fatalf("expected valid value applied, got %q", p.donoMsg)
	}
}

func TestSchemaShape(t *testing.T) {
	schemas := Schema()
	if len(schemas) != len(kindSpecs) {
		t.Fatalf("expected %d kinds, got %d", len(kindSpecs), len(schemas))
	}
	if schemas[0].Kind != "Points" {
		t.Fatalf("expected Points first, got %s", schemas[0].Kind)
	}
	for _, s := range schemas {
		if len(s.Keys) == 0 || s.Keys[0].Key != "enabled" {
			t.Fatalf("%s: expected enabled as first key", s.Kind)
		}
	}

	byKind := map[string]RuleSchema{}
	for _, s := range schemas {
		byKind[s.Kind] = s
	}
	if s := byKind["Filter"]; s.Type != TypeFilter {
		t.Fatalf("Filter bucketed as %v", s.Type)
	}
	if s := byKind["Timer"]; s.Type != TypeTimer {
		t.Fatalf("Timer bucketed as %v", s.Type)
	}
	if _, ok := byKind["LevenshteinFilter"]; !ok {
		t.Fatalf("LevenshteinFilter missing from schema")
	}
}

func TestConfigArgSpecs(t *testing.T) {
	give, _ := New(RuleDump{
		Kind: "Give",
		Name: "give",
		Values: []KeyValue{
			{"enabled", BoolValue(true)},
		},
	}, discard())
	off, _ := New(RuleDump{Kind: "Quote", Name: "quiet"}, discard())

	cfg := Config{Commands: []Rule{give, off}}

	specs := cfg.ArgSpecs(msg.PlatformDiscord)
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec (disabled rules excluded), got %d", len(specs))
	}
	if specs[0].Prefix != "give" {
		t.Fatalf("expected unbanged prefix, got %q", specs[0].Prefix)
	}
	if len(specs[0].Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(specs[0].Args))
	}
}
