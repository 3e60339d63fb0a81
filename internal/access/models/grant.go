package models

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
)

// maxGrantErrorLen bounds the enforcer failure text kept on the record.
const maxGrantErrorLen = 512

// PolicyGrant is the transient view submitted to the policy enforcer on approval.
// It is never persisted on its own.
type PolicyGrant struct {
	RequestID    id.RequestID
	Requester    id.Principal
	ActionName   string
	ActionParams json.RawMessage
	TTL          TTL
}

// CanClaimGrant checks whether another grant submission may start.
// Failed grants are always claimable; pending ones only when last touched
// before staleBefore, which means the previous submitter is presumed gone.
// Use with ApplyGrantClaim in Execute callbacks.
func (r *AccessRequest) CanClaimGrant(staleBefore time.Time) error {
	if r.Status != StatusApproved {
		return dErrors.New(dErrors.CodeValidation, "grant can only be retried on an approved request")
	}
	switch r.GrantStatus {
	case GrantStatusFailed:
		return nil
	case GrantStatusPending:
		if r.GrantUpdatedAt != nil && r.GrantUpdatedAt.Before(staleBefore) {
			return nil
		}
		return dErrors.New(dErrors.CodeAlreadyDecided, "grant submission already in progress")
	case GrantStatusActive:
		return dErrors.New(dErrors.CodeAlreadyDecided, "grant is already active")
	default:
		return dErrors.New(dErrors.CodeValidation, "request has no grant to retry")
	}
}

func (r *AccessRequest) ApplyGrantClaim(now time.Time) {
	r.GrantStatus = GrantStatusPending
	r.GrantAttempts++
	r.GrantError = ""
	r.GrantUpdatedAt = &now
}

// CanFinalizeGrant guards the pending -> active|failed step so only the
// submitter holding the claim records the outcome.
func (r *AccessRequest) CanFinalizeGrant(attempt int) error {
	if r.GrantStatus != GrantStatusPending || r.GrantAttempts != attempt {
		return dErrors.New(dErrors.CodeAlreadyDecided, "grant claim was superseded")
	}
	return nil
}

func (r *AccessRequest) ApplyGrantActive(now time.Time) {
	r.GrantStatus = GrantStatusActive
	r.GrantError = ""
	r.GrantUpdatedAt = &now
}

func (r *AccessRequest) ApplyGrantFailed(cause string, now time.Time) {
	r.GrantStatus = GrantStatusFailed
	r.GrantError = truncateUTF8(cause, maxGrantErrorLen)
	r.GrantUpdatedAt = &now
}

// truncateUTF8 drops invalid bytes and cuts s to at most n bytes without
// splitting a rune. Postgres TEXT rejects invalid UTF-8.
func truncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
