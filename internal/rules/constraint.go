package rules

import (
	"encoding/json"
	"fmt"

	"github.com/iamllama/aussiebot/internal/msg"
)

// ConstraintKind discriminates config field constraints.
type ConstraintKind int

const (
	ConstraintNone ConstraintKind = iota
	ConstraintNonEmpty
	ConstraintPositive
	ConstraintNegative
	ConstraintRangeClosed
	ConstraintRangeHalfOpen
)

// Constraint bounds a config field value. Range constraints apply to numbers,
// string lengths and timeout durations.
type Constraint struct {
	Kind ConstraintKind
	// Min..Max, inclusive for ConstraintRangeClosed, half-open for
	// ConstraintRangeHalfOpen.
	Min, Max int64
}

var (
	NoConstraint = Constraint{}
	NonEmpty     = Constraint{Kind: ConstraintNonEmpty}
	Positive     = Constraint{Kind: ConstraintPositive}
	Negative     = Constraint{Kind: ConstraintNegative}
)

// RangeClosed constrains to Min <= v <= Max.
func RangeClosed(min, max int64) Constraint {
	return Constraint{Kind: ConstraintRangeClosed, Min: min, Max: max}
}

// RangeHalfOpen constrains to Min <= v < Max.
func RangeHalfOpen(min, max int64) Constraint {
	return Constraint{Kind: ConstraintRangeHalfOpen, Min: min, Max: max}
}

func (c Constraint) contains(v int64) bool {
	if c.Kind == ConstraintRangeHalfOpen {
		return v >= c.Min && v < c.Max
	}
	return v >= c.Min && v <= c.Max
}

type rangeBounds struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (c Constraint) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ConstraintNone:
		return msg.MarshalTagged("None", nil)
	case ConstraintNonEmpty:
		return msg.MarshalTagged("NonEmpty", nil)
	case ConstraintPositive:
		return msg.MarshalTagged("Positive", nil)
	case ConstraintNegative:
		return msg.MarshalTagged("Negative", nil)
	case ConstraintRangeClosed:
		return msg.MarshalTagged("RangeClosed", rangeBounds{Start: c.Min, End: c.Max})
	case ConstraintRangeHalfOpen:
		return msg.MarshalTagged("RangeHalfOpen", rangeBounds{Start: c.Min, End: c.Max})
	}
	return nil, fmt.Errorf("invalid constraint kind %d", c.Kind)
}

func (c *Constraint) UnmarshalJSON(data []byte) error {
	tag, inner, err := msg.SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "None":
		c.Kind = ConstraintNone
	case "NonEmpty":
		c.Kind = ConstraintNonEmpty
	case "Positive":
		c.Kind = ConstraintPositive
	case "Negative":
		c.Kind = ConstraintNegative
	case "RangeClosed", "RangeHalfOpen":
		if tag == "RangeClosed" {
			c.Kind = ConstraintRangeClosed
		} else {
			c.Kind = ConstraintRangeHalfOpen
		}
		var bounds rangeBounds
		if err := json.Unmarshal(inner, &bounds); err != nil {
			return err
		}
		c.Min, c.Max = bounds.Start, bounds.End
	default:
		return fmt.Errorf("unknown constraint %q", tag)
	}
	return nil
}
