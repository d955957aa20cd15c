package msg

import (
	"encoding/json"
	"fmt"
)

// ModActionKind orders moderation verdicts by severity.
type ModActionKind int

const (
	ModNone ModActionKind = iota
	ModWarn
	ModRemove
	ModTimeout
	ModKick
	ModBan
)

// ModAction is a severity-ordered moderation verdict. Seconds is meaningful
// only for ModTimeout.
type ModAction struct {
	Kind    ModActionKind
	Seconds uint32
}

func Timeout(seconds uint32) ModAction {
	return ModAction{Kind: ModTimeout, Seconds: seconds}
}

// Compare orders actions by severity; equal timeout kinds compare by duration.
func (a ModAction) Compare(b ModAction) int {
	switch {
	case a.Kind < b.Kind:
		return -1
	case a.Kind > b.Kind:
		return 1
	case a.Kind == ModTimeout && a.Seconds < b.Seconds:
		return -1
	case a.Kind == ModTimeout && a.Seconds > b.Seconds:
		return 1
	}
	return 0
}

func (a ModAction) String() string {
	switch a.Kind {
	case ModNone:
		return "None"
	case ModWarn:
		return "Warn"
	case ModRemove:
		return "Remove"
	case ModTimeout:
		return fmt.Sprintf("Timeout (%ds)", a.Seconds)
	case ModKick:
		return "Kick"
	case ModBan:
		return "Ban"
	}
	return fmt.Sprintf("ModAction(%d)", int(a.Kind))
}

var modActionNames = map[ModActionKind]string{
	ModNone:   "None",
	ModWarn:   "Warn",
	ModRemove: "Remove",
	ModKick:   "Kick",
	ModBan:    "Ban",
}

// Unit kinds serialize as bare strings, Timeout as {"Timeout": seconds}.
func (a ModAction) MarshalJSON() ([]byte, error) {
	if a.Kind == ModTimeout {
		return json.Marshal(map[string]uint32{"Timeout": a.Seconds})
	}
	name, ok := modActionNames[a.Kind]
	if !ok {
		return nil, fmt.Errorf("invalid mod action kind %d", a.Kind)
	}
	return json.Marshal(name)
}

func (a *ModAction) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for kind, n := range modActionNames {
			if n == name {
				*a = ModAction{Kind: kind}
				return nil
			}
		}
		return fmt.Errorf("invalid mod action %q", name)
	}
	var tagged map[string]uint32
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	seconds, ok := tagged["Timeout"]
	if !ok || len(tagged) != 1 {
		return fmt.Errorf("invalid mod action %s", data)
	}
	*a = ModAction{Kind: ModTimeout, Seconds: seconds}
	return nil
}
