package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
	"jitaccess/pkg/platform/audit"
	"jitaccess/pkg/platform/sentinel"
)

const (
	maxActionNameLength = 128
	maxReasonLength     = 1024
)

// CreateRequest carries raw caller input; Create normalizes and validates it.
type CreateRequest struct {
	Requester    string
	ActionName   string
	ActionParams json.RawMessage
	RequestedTTL string
	Reason       string
}

// Create validates and persists a new Pending request, then notifies the
// approvers in the background. Notification problems never fail the call.
func (s *Service) Create(ctx context.Context, in CreateRequest) (id.RequestID, error) {
	ctx, span := s.tracer.Start(ctx, "access.Create")
	defer span.End()

	requester, err := id.ParsePrincipal(in.Requester)
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "requester: "+messageOf(err))
	}
	actionName, err := normalizeActionName(in.ActionName)
	if err != nil {
		return "", err
	}
	ttl, err := s.parseTTL(in.RequestedTTL)
	if err != nil {
		return "", err
	}
	params, err := normalizeParams(in.ActionParams)
	if err != nil {
		return "", err
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return "", dErrors.New(dErrors.CodeValidation, "reason is too long")
	}

	req, err := models.NewAccessRequest(id.NewRequestID(), requester, actionName, params, ttl, reason, s.now(ctx))
	if err != nil {
		return "", err
	}
	span.SetAttributes(
		attribute.String("access_request_id", req.ID.String()),
		attribute.String("action_name", actionName),
	)

	if err := s.store.Insert(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return "", dErrors.Wrap(err, dErrors.CodePersistence, "duplicate access request id")
		}
		return "", dErrors.Wrap(err, dErrors.CodePersistence, "failed to save access request")
	}

	s.logAudit(ctx, audit.EventAccessRequested, req,
		"ttl", ttl.String(),
		"reason", reason,
	)
	if s.metrics != nil {
		s.metrics.IncrementRequestsCreated()
	}
	s.notifyApprovers(ctx, req)
	return req.ID, nil
}

func (s *Service) parseTTL(raw string) (models.TTL, error) {
	ttl, err := models.ParseTTL(raw)
	if err != nil {
		return "", err
	}
	if !ttl.Within(s.maxTTL) {
		return "", dErrors.New(dErrors.CodeValidation, "ttl "+ttl.String()+" exceeds the maximum of "+s.maxTTL.String())
	}
	return ttl, nil
}

func normalizeActionName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", dErrors.New(dErrors.CodeValidation, "action_name is required")
	}
	if len(name) > maxActionNameLength {
		return "", dErrors.New(dErrors.CodeValidation, "action_name is too long")
	}
	if strings.IndexFunc(name, func(r rune) bool { return unicode.IsControl(r) || unicode.IsSpace(r) }) >= 0 {
		return "", dErrors.New(dErrors.CodeValidation, "action_name must not contain whitespace")
	}
	return name, nil
}

// normalizeParams keeps the payload opaque but insists it is JSON. Empty means {}.
func normalizeParams(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(trimmed) {
		return nil, dErrors.New(dErrors.CodeValidation, "action_params must be valid JSON")
	}
	return append(json.RawMessage(nil), trimmed...), nil
}

func messageOf(err error) string {
	if de, ok := dErrors.As(err); ok {
		return de.Message
	}
	return err.Error()
}
