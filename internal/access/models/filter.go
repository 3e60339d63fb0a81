package models

import (
	"time"

	id "jitaccess/pkg/domain"
)

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Status        *Status
	ActionName    string
	Requester     id.Principal
	GrantStatus   *GrantStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Matches is the reference predicate shared by every store backend.
// CreatedAfter is inclusive and CreatedBefore exclusive.
func (f Filter) Matches(r *AccessRequest) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.ActionName != "" && r.ActionName != f.ActionName {
		return false
	}
	if !f.Requester.IsNil() && r.Requester != f.Requester {
		return false
	}
	if f.GrantStatus != nil && r.GrantStatus != *f.GrantStatus {
		return false
	}
	if !f.CreatedAfter.IsZero() && r.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}
