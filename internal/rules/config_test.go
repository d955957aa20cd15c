package rules

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/iamllama/aussiebot/internal/msg"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	points, _ := New(RuleDump{
		Kind: "Points",
		Name: "pts",
		Values: []KeyValue{
			{"enabled", BoolValue(true)},
			{"points", NumberValue(3)},
		},
	}, discard())
	filter, _ := New(RuleDump{
		Kind: "Filter",
		Name: "spam",
		Values: []KeyValue{
			{"enabled", BoolValue(true)},
			{"msg_contains", StringValue("free nitro")},
			{"action", ActionValue(msg.Timeout(600))},
		},
	}, discard())
	timer, _ := New(RuleDump{
		Kind: "Timer",
		Name: "plug",
		Values: []KeyValue{
			{"enabled", BoolValue(true)},
			{"interval", NumberValue(900)},
			{"msg", StringValue("like and subscribe")},
		},
	}, discard())

	cfg := Config{
		Commands: []Rule{points},
		Filters:  []Rule{filter},
		Timers:   []Rule{timer},
	}

	if err := Save(dir, &cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(dir, discard())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !reflect.DeepEqual(loaded.Dump(), cfg.Dump()) {
		t.Fatalf("round trip changed config:\n got %+v\nwant %+v", loaded.Dump(), cfg.Dump())
	}
}

func TestLoadFileDropsUnknownKinds(t *testing.T) {
	dir := t.TempDir()
	contents := `[
  ["Quote", "greeting", [["enabled", {"Bool": true}]]],
  ["Karaoke", "sing", []]
]`
	if err := os.WriteFile(filepath.Join(dir, CommandsFile), []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rules, err := LoadFile(dir, CommandsFile, discard())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Kind() != "Quote" {
		t.Fatalf("expected only the known kind to survive, got %+v", rules)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(t.TempDir(), discard()); err == nil {
		t.Fatalf("expected missing config files to error")
	}
}
