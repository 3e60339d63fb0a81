package models

import (
	"math"
	"strconv"
	"strings"
	"time"

	dErrors "jitaccess/pkg/domain-errors"
)

// DefaultTTL is used when a requester does not ask for a specific window.
const DefaultTTL TTL = "1h"

// TTL is a grant duration written as <integer><unit>, unit h or m. "90m", "1h".
type TTL string

// ParseTTL validates the TTL grammar. Signs, whitespace, zero and other units are rejected.
func ParseTTL(raw string) (TTL, error) {
	if len(raw) < 2 {
		return "", invalidTTL(raw)
	}
	unit := raw[len(raw)-1]
	if unit != 'h' && unit != 'm' {
		return "", invalidTTL(raw)
	}
	digits := raw[:len(raw)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return "", invalidTTL(raw)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 || n > math.MaxInt64/int64(unitDuration(unit)) {
		return "", invalidTTL(raw)
	}
	return TTL(raw), nil
}

func unitDuration(unit byte) time.Duration {
	if unit == 'h' {
		return time.Hour
	}
	return time.Minute
}

func invalidTTL(raw string) error {
	return dErrors.New(dErrors.CodeValidation, "ttl "+strconv.Quote(raw)+" must match <integer><h|m>, for example 30m or 1h")
}

func (t TTL) String() string { return string(t) }

func (t TTL) IsZero() bool { return strings.TrimSpace(string(t)) == "" }

// Duration converts a parsed TTL. Unparsed or out-of-range values yield zero.
func (t TTL) Duration() time.Duration {
	if _, err := ParseTTL(string(t)); err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(string(t[:len(t)-1]), 10, 64)
	return time.Duration(n) * unitDuration(t[len(t)-1])
}

// Within reports whether the TTL fits under max. A zero max means unbounded;
// an unparsable TTL never fits a bound.
func (t TTL) Within(max time.Duration) bool {
	if max <= 0 {
		return true
	}
	d := t.Duration()
	return d > 0 && d <= max
}
