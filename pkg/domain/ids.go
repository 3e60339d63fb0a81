package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "jitaccess/pkg/domain-errors"
)

const (
	requestIDPrefix    = "req-"
	maxRequestIDLength = 128
	maxPrincipalLength = 254
)

// RequestID identifies an access request. It is opaque to callers: the
// generator emits "req-<uuid>" but any well-formed string is accepted at
// parse time so unknown ids surface as not-found rather than malformed.
type RequestID string

// NewRequestID returns a fresh, globally unique request id.
func NewRequestID() RequestID {
	return RequestID(requestIDPrefix + uuid.NewString())
}

// ParseRequestID validates a request id received from a trust boundary.
func ParseRequestID(s string) (RequestID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "request id is required")
	}
	if len(s) > maxRequestIDLength {
		return "", dErrors.New(dErrors.CodeValidation, "request id is too long")
	}
	if !utf8.ValidString(s) || strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", dErrors.New(dErrors.CodeValidation, "request id contains invalid characters")
	}
	return RequestID(s), nil
}

func (id RequestID) String() string {
	return string(id)
}

// IsNil returns true if the request id is empty.
func (id RequestID) IsNil() bool {
	return id == ""
}

// Principal is an identity string (usually an e-mail) of a requester or approver.
type Principal string

// ParsePrincipal validates a principal received from a trust boundary.
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "principal is required")
	}
	if len(s) > maxPrincipalLength {
		return "", dErrors.New(dErrors.CodeValidation, "principal is too long")
	}
	if !utf8.ValidString(s) || strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsControl(r) || unicode.IsSpace(r)
	}) >= 0 {
		return "", dErrors.New(dErrors.CodeValidation, "principal contains invalid characters")
	}
	return Principal(s), nil
}

func (p Principal) String() string {
	return string(p)
}

// IsNil returns true if the principal is empty.
func (p Principal) IsNil() bool {
	return p == ""
}
