package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
	"jitaccess/pkg/platform/audit"
)

// DecideRequest is an approver's verdict on a pending request.
type DecideRequest struct {
	ID          id.RequestID
	Action      models.DecisionAction
	Approver    id.Principal
	OverrideTTL string
}

// Decide applies an approval or rejection.
//
// The Pending -> Approved|Rejected transition is committed through the store's
// compare-and-transition before any external call, so only the single winner
// of a race ever reaches the policy enforcer. Losers get AlreadyDecided.
// An enforcer failure after approval returns ExternalService while the request
// stays Approved with its grant marked failed for RetryGrant/the reconciler.
func (s *Service) Decide(ctx context.Context, in DecideRequest) (*models.AccessRequest, error) {
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveDecide(start)
	}
	ctx, span := s.tracer.Start(ctx, "access.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("access_request_id", in.ID.String()),
		attribute.String("decision", in.Action.String()),
	)

	current, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return nil, s.recordSpanError(span, translateStoreError(err, "load access request"))
	}
	if in.Approver.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "approver is required")
	}

	var result *models.AccessRequest
	switch in.Action {
	case models.DecisionApprove:
		result, err = s.approve(ctx, current, in)
	case models.DecisionReject:
		result, err = s.reject(ctx, current, in)
	default:
		err = dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
	}
	if err != nil {
		return result, s.recordSpanError(span, err)
	}
	return result, nil
}

func (s *Service) approve(ctx context.Context, current *models.AccessRequest, in DecideRequest) (*models.AccessRequest, error) {
	granted := current.RequestedTTL
	if in.OverrideTTL != "" {
		ttl, err := s.parseTTL(in.OverrideTTL)
		if err != nil {
			return nil, err
		}
		granted = ttl
	}

	now := s.now(ctx)
	approved, err := s.store.CompareAndTransition(ctx, current.ID, models.StatusPending, func(r *models.AccessRequest) {
		r.ApplyApproval(in.Approver, granted, now)
	})
	if err != nil {
		return nil, s.decisionError(ctx, current, err)
	}

	s.logAudit(ctx, audit.EventAccessApproved, approved,
		"approver", in.Approver.String(),
		"decision", models.DecisionApprove.String(),
		"ttl", granted.String(),
	)
	if s.metrics != nil {
		s.metrics.IncrementDecision(models.DecisionApprove.String())
	}

	return s.submitGrant(ctx, approved)
}

func (s *Service) reject(ctx context.Context, current *models.AccessRequest, in DecideRequest) (*models.AccessRequest, error) {
	now := s.now(ctx)
	rejected, err := s.store.CompareAndTransition(ctx, current.ID, models.StatusPending, func(r *models.AccessRequest) {
		r.ApplyRejection(in.Approver, now)
	})
	if err != nil {
		return nil, s.decisionError(ctx, current, err)
	}

	s.logAudit(ctx, audit.EventAccessRejected, rejected,
		"approver", in.Approver.String(),
		"decision", models.DecisionReject.String(),
	)
	if s.metrics != nil {
		s.metrics.IncrementDecision(models.DecisionReject.String())
	}
	s.notifyRequester(ctx, rejected, fmt.Sprintf("Your access request %s for %s was rejected by %s.",
		rejected.ID, rejected.ActionName, rejected.Approver))
	return rejected, nil
}

func (s *Service) decisionError(ctx context.Context, current *models.AccessRequest, err error) error {
	translated := translateStoreError(err, "record decision")
	if dErrors.HasCode(translated, dErrors.CodeAlreadyDecided) {
		if s.metrics != nil {
			s.metrics.IncrementAlreadyDecided()
		}
		s.logger.InfoContext(ctx, "decision lost race or repeated",
			"access_request_id", current.ID.String(),
			"error", err,
		)
		return translated
	}
	if dErrors.HasCode(translated, dErrors.CodePersistence) {
		s.logger.ErrorContext(ctx, "failed to record decision",
			"access_request_id", current.ID.String(),
			"error", err,
		)
	}
	return translated
}

func (s *Service) recordSpanError(span spanRecorder, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}
