package rules

import "github.com/iamllama/aussiebot/internal/msg"

// RunResKind discriminates rule run outcomes.
type RunResKind int

const (
	// ResOk: the rule matched and ran.
	ResOk RunResKind = iota + 1
	// ResNoop: nothing to do, e.g. an implicit per-message rule.
	ResNoop
	// ResFiltered: a filter tripped and demands a moderation action.
	ResFiltered
	// ResAutocorrect: the first token was close to the rule's prefix.
	ResAutocorrect
	// ResDisabled: the rule is off, out of platform, or out of reach.
	ResDisabled
	// ResRatelimited: a cooldown lock refused the run.
	ResRatelimited
	ResInsufficientPerms
	ResInvalidArgs
)

// RunRes is the outcome of running one rule against one event.
type RunRes struct {
	Kind   RunResKind
	Action msg.ModAction // ResFiltered
	Prefix string        // ResAutocorrect suggestion
	Global bool          // ResRatelimited: global vs per-user cooldown
}

func Ok() RunRes       { return RunRes{Kind: ResOk} }
func Noop() RunRes     { return RunRes{Kind: ResNoop} }
func Disabled() RunRes { return RunRes{Kind: ResDisabled} }

func Filtered(action msg.ModAction) RunRes {
	return RunRes{Kind: ResFiltered, Action: action}
}

func Suggest(prefix string) RunRes {
	return RunRes{Kind: ResAutocorrect, Prefix: prefix}
}

func Ratelimited(global bool) RunRes {
	return RunRes{Kind: ResRatelimited, Global: global}
}
