package rules

import (
	"context"
	"fmt"
	"regexp"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/iamllama/aussiebot/internal/msg"
)

// prefixRegex matches a message that is exactly one token, e.g. "!points".
var prefixRegex = regexp.MustCompile(`^(\S+)\s*$`)

// maxPrefixDistance is the edit-distance budget for prefix suggestions.
const maxPrefixDistance = 2

// checkAutocorrect matches the first token of a message against a rule
// prefix. matched is false when the token is neither the prefix nor close to
// it; suggest is true when it only matched within the edit-distance budget.
func checkAutocorrect(prefix, input string, autocorrect bool) (suggest, matched bool) {
	if prefix == input {
		return false, true
	}
	if !autocorrect {
		return false, false
	}
	if levenshtein.ComputeDistance(prefix, input) <= maxPrefixDistance {
		return true, true
	}
	return false, false
}

// unbangPrefix strips the leading sigil from a non-empty prefix, if any.
func unbangPrefix(prefix string) string {
	runes := []rune(prefix)
	if len(runes) > 0 && !unicode.IsLetter(runes[0]) && !unicode.IsDigit(runes[0]) {
		return string(runes[1:])
	}
	return prefix
}

// checkInvokePrefix reports whether an invocation names this rule's prefix.
func checkInvokePrefix(prefix, invokedCmd string) bool {
	return unbangPrefix(prefix) == invokedCmd
}

// ratelimitUser takes the per-user cooldown lock for one rule instance.
// Mods and above are never limited. Returns true when the run is refused.
func ratelimitUser(ctx context.Context, rc *Context, ttl uint64, kind, name string) (bool, error) {
	if rc.User.Perms >= msg.PermMod || ttl == 0 {
		return false, nil
	}
	key := fmt.Sprintf("%s_%s_%s", rc.lockKey(kind, "rate"), name, rc.User.ID)
	held, err := rc.Locker.Lock(ctx, key, time.Duration(ttl)*time.Second)
	if err != nil {
		return false, err
	}
	if !held {
		rc.log().Debug("rate-limited locally", "rule", kind, "name", name)
		return true, nil
	}
	return false, nil
}

// ratelimitGlobal composes a shared cooldown with a per-user one. When the
// per-user lock refuses after the shared lock was taken, the shared lock is
// released so the next caller is not penalized.
func ratelimitGlobal(ctx context.Context, rc *Context, global, perUser uint64, kind, name string) (bool, error) {
	if rc.User.Perms >= msg.PermMod || (global == 0 && perUser == 0) {
		return false, nil
	}
	globalKey := fmt.Sprintf("%s_%s", rc.lockKey(kind, "rate"), name)

	if global > 0 {
		held, err := rc.Locker.Lock(ctx, globalKey, time.Duration(global)*time.Second)
		if err != nil {
			return false, err
		}
		if !held {
			rc.log().Debug("rate-limited globally", "rule", kind, "name", name)
			return true, nil
		}
	}

	if perUser > 0 {
		userKey := fmt.Sprintf("%s_%s", globalKey, rc.User.ID)
		held, err := rc.Locker.Lock(ctx, userKey, time.Duration(perUser)*time.Second)
		if err != nil {
			return false, err
		}
		if !held {
			rc.log().Debug("rate-limited locally", "rule", kind, "name", name)
			if _, err := rc.Locker.Unlock(ctx, globalKey); err != nil {
				return true, err
			}
			return true, nil
		}
	}

	return false, nil
}

// plural returns "s" unless n is exactly one.
func plural[T int | int32 | int64 | uint64](n T) string {
	if n != 1 {
		return "s"
	}
	return ""
}
