package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key actions on an access
// request. Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action    AuditEvent `json:"action"`
	Timestamp time.Time  `json:"timestamp"`
	// AccessRequestID is the id of the access request the event is about.
	AccessRequestID string `json:"access_request_id"`
	// Subject is the requester whose access is being changed.
	Subject string `json:"subject"`
	// ActorID is who performed the action when different from Subject (the approver).
	ActorID    string `json:"actor_id,omitempty"`
	ActionName string `json:"action_name,omitempty"`
	Decision   string `json:"decision,omitempty"`
	TTL        string `json:"ttl,omitempty"`
	Reason     string `json:"reason,omitempty"`
	// RequestID is the correlation id of the inbound call.
	RequestID string `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	EventAccessRequested AuditEvent = "access_requested"
	EventAccessApproved  AuditEvent = "access_approved"
	EventAccessRejected  AuditEvent = "access_rejected"
	EventGrantSubmitted  AuditEvent = "grant_submitted"
	EventGrantFailed     AuditEvent = "grant_failed"
	EventGrantRetried    AuditEvent = "grant_retried"
)

func (e AuditEvent) String() string {
	return string(e)
}

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher is what services depend on. Emit must not block on slow sinks.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}
