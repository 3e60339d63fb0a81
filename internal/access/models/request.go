package models

import (
	"encoding/json"
	"strings"
	"time"

	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
)

// Status is the decision state of an access request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// Only Pending may move, and only to a terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && (next == StatusApproved || next == StatusRejected)
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "status must be one of pending, approved, rejected")
	}
	return s, nil
}

// GrantStatus tracks the policy grant that follows an approval.
type GrantStatus string

const (
	GrantStatusNone    GrantStatus = "none"
	GrantStatusPending GrantStatus = "pending"
	GrantStatusActive  GrantStatus = "active"
	GrantStatusFailed  GrantStatus = "failed"
)

func (g GrantStatus) String() string { return string(g) }

func (g GrantStatus) IsValid() bool {
	switch g {
	case GrantStatusNone, GrantStatusPending, GrantStatusActive, GrantStatusFailed:
		return true
	}
	return false
}

func ParseGrantStatus(raw string) (GrantStatus, error) {
	g := GrantStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !g.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "grant_status must be one of none, pending, active, failed")
	}
	return g, nil
}

// DecisionAction is what an approver does with a pending request.
type DecisionAction int

const (
	DecisionApprove DecisionAction = iota + 1
	DecisionReject
)

func (a DecisionAction) String() string {
	switch a {
	case DecisionApprove:
		return "approve"
	case DecisionReject:
		return "reject"
	default:
		return "unknown"
	}
}

func ParseDecisionAction(raw string) (DecisionAction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve":
		return DecisionApprove, nil
	case "reject":
		return DecisionReject, nil
	default:
		return 0, dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
	}
}

// AccessRequest is the aggregate root of the approval workflow.
//
// Invariants:
//   - ID, Requester, ActionName, ActionParams, RequestedTTL and CreatedAt are immutable
//   - Status moves Pending -> Approved or Pending -> Rejected, never again
//   - Approver and DecidedAt are set iff Status != Pending
//   - GrantedTTL is set iff Status == Approved
//   - GrantStatus is none unless Status == Approved
type AccessRequest struct {
	ID           id.RequestID    `json:"id"`
	Requester    id.Principal    `json:"requester"`
	ActionName   string          `json:"action_name"`
	ActionParams json.RawMessage `json:"action_params"`
	RequestedTTL TTL             `json:"requested_ttl"`
	GrantedTTL   TTL             `json:"granted_ttl,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Status       Status          `json:"status"`
	Approver     id.Principal    `json:"approver,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`

	GrantStatus    GrantStatus `json:"grant_status"`
	GrantAttempts  int         `json:"grant_attempts"`
	GrantError     string      `json:"grant_error,omitempty"`
	GrantUpdatedAt *time.Time  `json:"grant_updated_at,omitempty"`
}

// NewAccessRequest builds a Pending request. Inputs are expected to be parsed already.
func NewAccessRequest(reqID id.RequestID, requester id.Principal, actionName string, params json.RawMessage, ttl TTL, reason string, now time.Time) (*AccessRequest, error) {
	if reqID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if requester.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "requester is required")
	}
	if strings.TrimSpace(actionName) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "action_name is required")
	}
	if ttl.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "ttl is required")
	}
	return &AccessRequest{
		ID:           reqID,
		Requester:    requester,
		ActionName:   actionName,
		ActionParams: params,
		RequestedTTL: ttl,
		Reason:       reason,
		Status:       StatusPending,
		CreatedAt:    now,
		GrantStatus:  GrantStatusNone,
	}, nil
}

func (r *AccessRequest) IsPending() bool {
	return r.Status == StatusPending
}

// Clone returns a deep copy so stores never hand out shared state.
func (r *AccessRequest) Clone() *AccessRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.ActionParams != nil {
		c.ActionParams = append(json.RawMessage(nil), r.ActionParams...)
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	if r.GrantUpdatedAt != nil {
		t := *r.GrantUpdatedAt
		c.GrantUpdatedAt = &t
	}
	return &c
}

// ApplyApproval moves a pending request to Approved and opens the grant.
// Callers guard the transition with the store's compare-and-transition.
func (r *AccessRequest) ApplyApproval(approver id.Principal, granted TTL, now time.Time) {
	r.Status = StatusApproved
	r.Approver = approver
	r.GrantedTTL = granted
	r.DecidedAt = &now
	r.GrantStatus = GrantStatusPending
	r.GrantAttempts = 1
	r.GrantError = ""
	r.GrantUpdatedAt = &now
}

func (r *AccessRequest) ApplyRejection(approver id.Principal, now time.Time) {
	r.Status = StatusRejected
	r.Approver = approver
	r.GrantedTTL = ""
	r.DecidedAt = &now
	r.GrantStatus = GrantStatusNone
}

// Grant derives the policy grant for an approved request.
func (r *AccessRequest) Grant() PolicyGrant {
	return PolicyGrant{
		RequestID:    r.ID,
		Requester:    r.Requester,
		ActionName:   r.ActionName,
		ActionParams: r.ActionParams,
		TTL:          r.GrantedTTL,
	}
}
