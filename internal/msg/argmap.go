package msg

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrArgMap reports a malformed or incomplete invocation argument map.
var ErrArgMap = errors.New("invalid argmap")

// ArgMap holds the named arguments of an invocation.
type ArgMap map[string]ArgValue

// ArgValueKind discriminates argument value variants.
type ArgValueKind int

const (
	ArgString ArgValueKind = iota + 1
	ArgInteger
	ArgBool
	ArgUser
	ArgPlatform
	ArgSubCommand
)

type ArgValue struct {
	Kind     ArgValueKind
	Str      string
	Int      int64
	Bool     bool
	User     *User
	Platform Platform
	Sub      ArgMap
}

func StringArg(s string) ArgValue  { return ArgValue{Kind: ArgString, Str: s} }
func IntegerArg(n int64) ArgValue  { return ArgValue{Kind: ArgInteger, Int: n} }
func SubCommandArg(m ArgMap) ArgValue {
	return ArgValue{Kind: ArgSubCommand, Sub: m}
}

// String returns the string payload, or false when the value is absent or of
// another kind.
func (m ArgMap) String(name string) (string, bool) {
	v, ok := m[name]
	if !ok || v.Kind != ArgString {
		return "", false
	}
	return v.Str, true
}

// Integer returns the integer payload, or false when absent or mistyped.
func (m ArgMap) Integer(name string) (int64, bool) {
	v, ok := m[name]
	if !ok || v.Kind != ArgInteger {
		return 0, false
	}
	return v.Int, true
}

// SubCommand returns the nested argument map for a subcommand argument.
func (m ArgMap) SubCommand(name string) (ArgMap, bool) {
	v, ok := m[name]
	if !ok || v.Kind != ArgSubCommand {
		return nil, false
	}
	return v.Sub, true
}

func (v ArgValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ArgString:
		return MarshalTagged("String", v.Str)
	case ArgInteger:
		return MarshalTagged("Integer", v.Int)
	case ArgBool:
		return MarshalTagged("Bool", v.Bool)
	case ArgUser:
		return MarshalTagged("User", v.User)
	case ArgPlatform:
		return MarshalTagged("Platform", v.Platform)
	case ArgSubCommand:
		return MarshalTagged("SubCommand", v.Sub)
	}
	return nil, fmt.Errorf("invalid arg value kind %d", v.Kind)
}

func (v *ArgValue) UnmarshalJSON(data []byte) error {
	tag, inner, err := SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "String":
		v.Kind = ArgString
		return json.Unmarshal(inner, &v.Str)
	case "Integer":
		v.Kind = ArgInteger
		return json.Unmarshal(inner, &v.Int)
	case "Bool":
		v.Kind = ArgBool
		return json.Unmarshal(inner, &v.Bool)
	case "User":
		v.Kind = ArgUser
		v.User = &User{}
		return json.Unmarshal(inner, v.User)
	case "Platform":
		v.Kind = ArgPlatform
		return json.Unmarshal(inner, &v.Platform)
	case "SubCommand":
		v.Kind = ArgSubCommand
		return json.Unmarshal(inner, &v.Sub)
	}
	return fmt.Errorf("unknown arg value %q", tag)
}
