package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Config file names inside the config directory.
const (
	CommandsFile = "cmds.json"
	FiltersFile  = "filters.json"
	TimersFile   = "timers.json"
)

// Config is the installed rule set, bucketed by when the engine runs each
// rule: filters gate every chat message, commands run after, timers run on a
// schedule.
type Config struct {
	Filters  []Rule
	Commands []Rule
	Timers   []Rule
}

// ConfigDump is the wire and file form of a full config.
type ConfigDump struct {
	Filters  []RuleDump `json:"filters"`
	Commands []RuleDump `json:"commands"`
	Timers   []RuleDump `json:"timers"`
}

// Dump serializes every installed rule.
func (c *Config) Dump() ConfigDump {
	return ConfigDump{
		Filters:  dumpAll(c.Filters),
		Commands: dumpAll(c.Commands),
		Timers:   dumpAll(c.Timers),
	}
}

func dumpAll(rules []Rule) []RuleDump {
	dumps := make([]RuleDump, 0, len(rules))
	for _, r := range rules {
		dumps = append(dumps, Dump(r))
	}
	return dumps
}

// Inflate rebuilds a config from its dump, dropping entries of unknown kind.
func Inflate(dump ConfigDump, logger *slog.Logger) Config {
	return Config{
		Filters:  inflateAll(dump.Filters, logger),
		Commands: inflateAll(dump.Commands, logger),
		Timers:   inflateAll(dump.Timers, logger),
	}
}

func inflateAll(dumps []RuleDump, logger *slog.Logger) []Rule {
	rules := make([]Rule, 0, len(dumps))
	for _, d := range dumps {
		if r, ok := New(d, logger); ok {
			rules = append(rules, r)
		}
	}
	return rules
}

// ArgSpecs collects the invocation surfaces of the installed commands for one
// platform.
func (c *Config) ArgSpecs(platform msg.Platform) []ArgSpec {
	var specs []ArgSpec
	for _, r := range c.Commands {
		provider, ok := r.(ArgProvider)
		if !ok {
			continue
		}
		if spec, ok := provider.ArgSpec(platform); ok {
			specs = append(specs, spec)
		}
	}
	return specs
}

// LoadFile reads one rule list from dir.
func LoadFile(dir, file string, logger *slog.Logger) ([]Rule, error) {
	contents, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	var dumps []RuleDump
	if err := json.Unmarshal(contents, &dumps); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return inflateAll(dumps, logger), nil
}

// SaveFile writes one rule list to dir, pretty-printed.
func SaveFile(dir, file string, rules []Rule) error {
	contents, err := json.MarshalIndent(dumpAll(rules), "", "  ")
	if err != nil {
		return fmt.Errorf("serialize %s: %w", file, err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), contents, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

// Load reads the full config from dir.
func Load(dir string, logger *slog.Logger) (Config, error) {
	var cfg Config
	var err error
	if cfg.Commands, err = LoadFile(dir, CommandsFile, logger); err != nil {
		return Config{}, err
	}
	if cfg.Filters, err = LoadFile(dir, FiltersFile, logger); err != nil {
		return Config{}, err
	}
	if cfg.Timers, err = LoadFile(dir, TimersFile, logger); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the full config to dir.
func Save(dir string, cfg *Config) error {
	if err := SaveFile(dir, CommandsFile, cfg.Commands); err != nil {
		return err
	}
	if err := SaveFile(dir, FiltersFile, cfg.Filters); err != nil {
		return err
	}
	return SaveFile(dir, TimersFile, cfg.Timers)
}
