package service

import (
	"context"

	"jitaccess/internal/access/models"
	"jitaccess/pkg/platform/audit"
	"jitaccess/pkg/requestcontext"
)

// logAudit writes an audit log line and emits the matching audit event.
// Emission failures are logged and never fail the operation.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, req *models.AccessRequest, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes,
		"access_request_id", req.ID.String(),
		"requester", req.Requester.String(),
		"action_name", req.ActionName,
		"event", event.String(),
		"log_type", "audit",
	)
	s.logger.InfoContext(ctx, event.String(), args...)

	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:          event,
		Timestamp:       s.now(ctx),
		AccessRequestID: req.ID.String(),
		Subject:         req.Requester.String(),
		ActorID:         auditAttr(attributes, "approver"),
		ActionName:      req.ActionName,
		Decision:        auditAttr(attributes, "decision"),
		TTL:             auditAttr(attributes, "ttl"),
		Reason:          auditAttr(attributes, "reason"),
		RequestID:       requestID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"event", event.String(),
			"access_request_id", req.ID.String(),
			"error", err,
		)
	}
}

// auditAttr returns the string value that follows key in a slog-style
// key/value list.
func auditAttr(kv []any, key string) string {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			v, _ := kv[i+1].(string)
			return v
		}
	}
	return ""
}
