package rules

import (
	"fmt"
	"regexp"

	"github.com/iamllama/aussiebot/internal/msg"
)

// Field binds one named config key to a struct member through typed
// accessors. Rules list their fields in schema order; the implicit enabled
// flag always comes first and the instance name is never listed.
type Field struct {
	Name   string
	Desc   string
	Constr Constraint

	get func() Value
	set func(Value) error
}

func typeError(field string, want string, got Value) error {
	return fmt.Errorf("field %s wants %s, got value kind %d", field, want, got.Kind)
}

func stringField(name, desc string, p *string, c Constraint) Field {
	return Field{Name: name, Desc: desc, Constr: c,
		get: func() Value { return StringValue(*p) },
		set: func(v Value) error {
			if v.Kind != ValueString {
				return typeError(name, "String", v)
			}
			*p = v.Str
			return nil
		},
	}
}

func boolField(name, desc string, p *bool, c Constraint) Field {
	return Field{Name: name, Desc: desc, Constr: c,
		get: func() Value { return BoolValue(*p) },
		set: func(v Value) error {
			if v.Kind != ValueBool {
				return typeError(name, "Bool", v)
			}
			*p = v.Bool
			return nil
		},
	}
}

func uintField(name, desc string, p *uint64, c Constraint) Field {
	return Field{Name: name, Desc: desc, Constr: c,
		get: func() Value { return NumberValue(int64(*p)) },
		set: func(v Value) error {
			if v.Kind != ValueNumber {
				return typeError(name, "Number", v)
			}
			if v.Num < 0 {
				return fmt.Errorf("field %s wants a non-negative number, got %d", name, v.Num)
			}
			*p = uint64(v.Num)
			return nil
		},
	}
}

func intField(name, desc string, p *int64, c Constraint) Field {
	return Field{Name: name, Desc: desc, Constr: c,
		get: func() Value { return NumberValue(*p) },
		set: func(v Value) error {
			if v.Kind != ValueNumber {
				return typeError(name, "Number", v)
			}
			*p = v.Num
			return nil
		},
	}
}

func platformsField(name, desc string, p *msg.Platform) Field {
	return Field{Name: name, Desc: desc,
		get: func() Value { return PlatformsValue(*p) },
		set: func(v Value) error {
			if v.Kind != ValuePlatforms {
				return typeError(name, "Platforms", v)
			}
			*p = msg.Platform(v.Bits)
			return nil
		},
	}
}

func permsField(name, desc string, p *msg.Permissions) Field {
	return Field{Name: name, Desc: desc,
		get: func() Value { return PermissionsValue(*p) },
		set: func(v Value) error {
			if v.Kind != ValuePermissions {
				return typeError(name, "Permissions", v)
			}
			*p = msg.Permissions(v.Bits)
			return nil
		},
	}
}

func actionField(name, desc string, p *msg.ModAction, c Constraint) Field {
	return Field{Name: name, Desc: desc, Constr: c,
		get: func() Value { return ActionValue(*p) },
		set: func(v Value) error {
			if v.Kind != ValueModAction {
				return typeError(name, "ModAction", v)
			}
			*p = v.Action
			return nil
		},
	}
}

// Pattern is a config regex field: the compiled matcher plus its source text.
// An empty source means the pattern is unset.
type Pattern struct {
	src string
	re  *regexp.Regexp
}

func (p *Pattern) compile(src string) error {
	if src == "" {
		p.src, p.re = "", nil
		return nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", src, err)
	}
	p.src, p.re = src, re
	return nil
}

func (p *Pattern) Empty() bool { return p.re == nil }

func (p *Pattern) MatchString(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

func patternField(name, desc string, p *Pattern, c Constraint) Field {
	return Field{Name: name, Desc: desc, Constr: c,
		get: func() Value { return RegexValue(p.src) },
		set: func(v Value) error {
			if v.Kind != ValueRegex {
				return typeError(name, "Regex", v)
			}
			return p.compile(v.Str)
		},
	}
}
