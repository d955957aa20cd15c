package rules

import (
	"encoding/json"
	"fmt"

	"github.com/iamllama/aussiebot/internal/msg"
)

// ArgKindTag discriminates invocation argument schema kinds.
type ArgKindTag int

const (
	ArgKindString ArgKindTag = iota + 1
	ArgKindInteger
	ArgKindBool
	ArgKindUser
	ArgKindPlatform
	ArgKindSubCommandGroup
	ArgKindSubCommand
	ArgKindAutocomplete
)

// ArgKind describes the shape of one invocation argument.
type ArgKind struct {
	Kind     ArgKindTag
	Min, Max *int64 // ArgKindInteger bounds
	Sub      []Arg  // ArgKindSubCommand / ArgKindSubCommandGroup
}

func (k ArgKind) MarshalJSON() ([]byte, error) {
	switch k.Kind {
	case ArgKindString:
		return msg.MarshalTagged("String", nil)
	case ArgKindInteger:
		bounds := map[string]int64{}
		if k.Min != nil {
			bounds["min"] = *k.Min
		}
		if k.Max != nil {
			bounds["max"] = *k.Max
		}
		return msg.MarshalTagged("Integer", bounds)
	case ArgKindBool:
		return msg.MarshalTagged("Bool", nil)
	case ArgKindUser:
		return msg.MarshalTagged("User", nil)
	case ArgKindPlatform:
		return msg.MarshalTagged("Platform", nil)
	case ArgKindSubCommandGroup:
		return msg.MarshalTagged("SubCommandGroup", subArgs(k.Sub))
	case ArgKindSubCommand:
		return msg.MarshalTagged("SubCommand", subArgs(k.Sub))
	case ArgKindAutocomplete:
		return msg.MarshalTagged("Autocomplete", nil)
	}
	return nil, fmt.Errorf("invalid arg kind %d", k.Kind)
}

// subArgs keeps empty subcommand lists serialized as [] rather than null.
func subArgs(args []Arg) []Arg {
	if args == nil {
		return []Arg{}
	}
	return args
}

func (k *ArgKind) UnmarshalJSON(data []byte) error {
	tag, inner, err := msg.SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "String":
		k.Kind = ArgKindString
	case "Integer":
		k.Kind = ArgKindInteger
		var bounds map[string]int64
		if err := json.Unmarshal(inner, &bounds); err != nil {
			return err
		}
		if v, ok := bounds["min"]; ok {
			k.Min = &v
		}
		if v, ok := bounds["max"]; ok {
			k.Max = &v
		}
	case "Bool":
		k.Kind = ArgKindBool
	case "User":
		k.Kind = ArgKindUser
	case "Platform":
		k.Kind = ArgKindPlatform
	case "SubCommandGroup":
		k.Kind = ArgKindSubCommandGroup
		return json.Unmarshal(inner, &k.Sub)
	case "SubCommand":
		k.Kind = ArgKindSubCommand
		return json.Unmarshal(inner, &k.Sub)
	case "Autocomplete":
		k.Kind = ArgKindAutocomplete
	default:
		return fmt.Errorf("unknown arg kind %q", tag)
	}
	return nil
}

// Arg is one named invocation argument.
type Arg struct {
	Kind     ArgKind `json:"kind"`
	Optional bool    `json:"optional"`
	Name     string  `json:"name"`
	Desc     string  `json:"desc"`
}

func stringArg(name, desc string, optional bool) Arg {
	return Arg{Kind: ArgKind{Kind: ArgKindString}, Name: name, Desc: desc, Optional: optional}
}

func integerArg(name, desc string, min, max int64, optional bool) Arg {
	lo, hi := min, max
	return Arg{Kind: ArgKind{Kind: ArgKindInteger, Min: &lo, Max: &hi}, Name: name, Desc: desc, Optional: optional}
}

func userArg(name, desc string) Arg {
	return Arg{Kind: ArgKind{Kind: ArgKindUser}, Name: name, Desc: desc}
}

func platformArg(name, desc string) Arg {
	return Arg{Kind: ArgKind{Kind: ArgKindPlatform}, Name: name, Desc: desc}
}

func autocompleteArg(name, desc string) Arg {
	return Arg{Kind: ArgKind{Kind: ArgKindAutocomplete}, Name: name, Desc: desc}
}

func subCommand(name, desc string, optional bool, args ...Arg) Arg {
	return Arg{Kind: ArgKind{Kind: ArgKindSubCommand, Sub: args}, Name: name, Desc: desc, Optional: optional}
}

func subCommandGroup(name, desc string, optional bool, args ...Arg) Arg {
	return Arg{Kind: ArgKind{Kind: ArgKindSubCommandGroup, Sub: args}, Name: name, Desc: desc, Optional: optional}
}

// ArgSpec is one rule's invocation surface: the unbanged prefix, a
// description, whether replies should be ephemeral, the minimum permission
// level, and the argument list. Serialized as a tuple.
type ArgSpec struct {
	Prefix string
	Desc   string
	Hidden bool
	Perms  msg.Permissions
	Args   []Arg
}

func (s ArgSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.Prefix, s.Desc, s.Hidden, s.Perms, subArgs(s.Args)})
}

func (s *ArgSpec) UnmarshalJSON(data []byte) error {
	return msg.UnmarshalTuple(data, &s.Prefix, &s.Desc, &s.Hidden, &s.Perms, &s.Args)
}
