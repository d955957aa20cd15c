package rules

import (
	"encoding/json"
	"testing"

	"github.com/iamllama/aussiebot/internal/msg"
)

func TestValueVerify(t *testing.T) {
	cases := []struct {
		name   string
		value  Value
		constr Constraint
		want   bool
	}{
		{"no constraint always passes", StringValue(""), NoConstraint, true},
		{"non-empty string", StringValue("!points"), NonEmpty, true},
		{"empty string fails non-empty", StringValue(""), NonEmpty, false},
		{"string length in range", StringValue("abc"), RangeClosed(1, 5), true},
		{"string length out of range", StringValue("abcdef"), RangeClosed(1, 5), false},
		{"positive number", NumberValue(0), Positive, true},
		{"negative number fails positive", NumberValue(-1), Positive, false},
		{"negative number", NumberValue(-1), Negative, true},
		{"number in closed range", NumberValue(100), RangeClosed(10, 100), true},
		{"number out of half-open range", NumberValue(100), RangeHalfOpen(10, 100), false},
		{"true satisfies positive", BoolValue(true), Positive, true},
		{"false fails positive", BoolValue(false), Positive, false},
		{"timeout seconds in range", ActionValue(msg.Timeout(300)), RangeClosed(1, 86400), true},
		{"timeout seconds out of range", ActionValue(msg.Timeout(0)), RangeClosed(1, 86400), false},
		{"non-timeout action passes vacuously", ActionValue(msg.ModAction{Kind: msg.ModBan}), RangeClosed(1, 86400), true},
		{"platforms pass vacuously", PlatformsValue(msg.PlatformChat), Positive, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.value.Verify(tc.constr); got != tc.want {
				t.Fatalf("Verify(%+v, %+v) = %v, want %v", tc.value, tc.constr, got, tc.want)
			}
		})
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	values := []Value{
		{Kind: ValueNone},
		StringValue("!give"),
		NumberValue(-42),
		BoolValue(true),
		PermissionsValue(msg.PermMod),
		PlatformsValue(msg.PlatformChat),
		RegexValue(`^\d+$`),
		ActionValue(msg.Timeout(600)),
		ActionValue(msg.ModAction{Kind: msg.ModBan}),
	}
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %+v: %v", v, err)
		}
		var got Value
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if got != v {
			t.Fatalf("round trip of %s: got %+v, want %+v", raw, got, v)
		}
	}
}

func TestValueUnitVariantsAreBareStrings(t *testing.T) {
	raw, err := json.Marshal(Value{Kind: ValueNone})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"None"` {
		t.Fatalf(`expected "None", got %s`, raw)
	}

	raw, err = json.Marshal(StringValue("hi"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"String":"hi"}` {
		t.Fatalf(`expected {"String":"hi"}, got %s`, raw)
	}
}

func TestConstraintJSONRoundTrip(t *testing.T) {
	constraints := []Constraint{
		NoConstraint,
		NonEmpty,
		Positive,
		Negative,
		RangeClosed(10, 600),
		RangeHalfOpen(0, 100),
	}
	for _, c := range constraints {
		raw, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("marshal %+v: %v", c, err)
		}
		var got Constraint
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if got != c {
			t.Fatalf("round trip of %s: got %+v, want %+v", raw, got, c)
		}
	}
}
