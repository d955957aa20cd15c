package rules

import (
	"encoding/json"
	"fmt"

	"github.com/iamllama/aussiebot/internal/msg"
)

// ValueKind discriminates the typed configuration value union.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValuePermissions
	ValuePlatforms
	ValueRegex
	ValueModAction
)

// Value is a typed configuration field value. Only the member matching Kind
// is meaningful.
type Value struct {
	Kind   ValueKind
	Str    string // ValueString, ValueRegex
	Num    int64
	Bool   bool
	Bits   uint32 // ValuePermissions, ValuePlatforms
	Action msg.ModAction
}

func StringValue(s string) Value   { return Value{Kind: ValueString, Str: s} }
func NumberValue(n int64) Value    { return Value{Kind: ValueNumber, Num: n} }
func BoolValue(b bool) Value       { return Value{Kind: ValueBool, Bool: b} }
func RegexValue(pattern string) Value {
	return Value{Kind: ValueRegex, Str: pattern}
}

func PlatformsValue(p msg.Platform) Value {
	return Value{Kind: ValuePlatforms, Bits: uint32(p)}
}

func PermissionsValue(p msg.Permissions) Value {
	return Value{Kind: ValuePermissions, Bits: uint32(p)}
}

func ActionValue(a msg.ModAction) Value {
	return Value{Kind: ValueModAction, Action: a}
}

// Verify reports whether the value satisfies the constraint. Kinds a
// constraint cannot sensibly apply to pass vacuously.
func (v Value) Verify(c Constraint) bool {
	if c.Kind == ConstraintNone {
		return true
	}
	switch v.Kind {
	case ValueString, ValueRegex:
		switch c.Kind {
		case ConstraintNonEmpty:
			return v.Str != ""
		case ConstraintRangeClosed, ConstraintRangeHalfOpen:
			return c.contains(int64(len(v.Str)))
		}
	case ValueNumber:
		switch c.Kind {
		case ConstraintPositive:
			return v.Num >= 0
		case ConstraintNegative:
			return v.Num < 0
		case ConstraintRangeClosed, ConstraintRangeHalfOpen:
			return c.contains(v.Num)
		}
	case ValueBool:
		switch c.Kind {
		case ConstraintPositive:
			return v.Bool
		case ConstraintNegative:
			return !v.Bool
		}
	case ValueModAction:
		if v.Action.Kind == msg.ModTimeout {
			switch c.Kind {
			case ConstraintRangeClosed, ConstraintRangeHalfOpen:
				return c.contains(int64(v.Action.Seconds))
			}
		}
	}
	return true
}

// Unit variants serialize as bare strings, the rest as single-key objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNone:
		return msg.MarshalTagged("None", nil)
	case ValueString:
		return msg.MarshalTagged("String", v.Str)
	case ValueNumber:
		return msg.MarshalTagged("Number", v.Num)
	case ValueBool:
		return msg.MarshalTagged("Bool", v.Bool)
	case ValuePermissions:
		return msg.MarshalTagged("Permissions", v.Bits)
	case ValuePlatforms:
		return msg.MarshalTagged("Platforms", v.Bits)
	case ValueRegex:
		return msg.MarshalTagged("Regex", v.Str)
	case ValueModAction:
		return msg.MarshalTagged("ModAction", v.Action)
	}
	return nil, fmt.Errorf("invalid value kind %d", v.Kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	tag, inner, err := msg.SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "None":
		v.Kind = ValueNone
	case "String":
		v.Kind = ValueString
		return json.Unmarshal(inner, &v.Str)
	case "Number":
		v.Kind = ValueNumber
		return json.Unmarshal(inner, &v.Num)
	case "Bool":
		v.Kind = ValueBool
		return json.Unmarshal(inner, &v.Bool)
	case "Permissions":
		v.Kind = ValuePermissions
		return json.Unmarshal(inner, &v.Bits)
	case "Platforms":
		v.Kind = ValuePlatforms
		return json.Unmarshal(inner, &v.Bits)
	case "Regex":
		v.Kind = ValueRegex
		return json.Unmarshal(inner, &v.Str)
	case "ModAction":
		v.Kind = ValueModAction
		return json.Unmarshal(inner, &v.Action)
	default:
		return fmt.Errorf("unknown value %q", tag)
	}
	return nil
}
