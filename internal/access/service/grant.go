package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jitaccess/internal/access/metrics"
	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
	"jitaccess/pkg/platform/audit"
)

type spanRecorder interface {
	RecordError(err error, options ...trace.EventOption)
	SetStatus(code codes.Code, description string)
}

// RetryGrant resubmits the policy grant of an approved request whose previous
// submission failed or went stale. The claim is taken through the store so
// concurrent retries (operator and reconciler) submit at most once.
func (s *Service) RetryGrant(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error) {
	ctx, span := s.tracer.Start(ctx, "access.RetryGrant")
	defer span.End()
	span.SetAttributes(attribute.String("access_request_id", reqID.String()))

	now := s.now(ctx)
	staleBefore := now.Add(-s.grantStaleAfter)
	claimed, err := s.store.Execute(ctx, reqID,
		func(r *models.AccessRequest) error { return r.CanClaimGrant(staleBefore) },
		func(r *models.AccessRequest) { r.ApplyGrantClaim(now) },
	)
	if err != nil {
		return nil, s.recordSpanError(span, translateStoreError(err, "claim grant"))
	}

	s.logAudit(ctx, audit.EventGrantRetried, claimed,
		"attempt", claimed.GrantAttempts,
		"ttl", claimed.GrantedTTL.String(),
	)
	result, err := s.submitGrant(ctx, claimed)
	if err != nil {
		return result, s.recordSpanError(span, err)
	}
	return result, nil
}

// submitGrant sends the grant for a request whose grant claim the caller holds,
// then records the outcome guarded by the claimed attempt number.
func (s *Service) submitGrant(ctx context.Context, req *models.AccessRequest) (*models.AccessRequest, error) {
	ctx, span := s.tracer.Start(ctx, "access.SubmitGrant")
	defer span.End()

	attempt := req.GrantAttempts
	submitErr := s.enforcer.SubmitGrant(ctx, req.Grant())

	// Outcome bookkeeping must land even if the caller went away mid-call.
	bookkeepingCtx := context.WithoutCancel(ctx)
	now := s.now(ctx)
	guard := func(r *models.AccessRequest) error { return r.CanFinalizeGrant(attempt) }

	if submitErr != nil {
		span.RecordError(submitErr)
		if s.metrics != nil {
			s.metrics.IncrementGrantSubmission(metrics.OutcomeFailure)
		}
		s.logger.ErrorContext(ctx, "policy grant submission failed",
			"access_request_id", req.ID.String(),
			"attempt", attempt,
			"error", submitErr,
		)
		failed, err := s.store.Execute(bookkeepingCtx, req.ID, guard, func(r *models.AccessRequest) {
			r.ApplyGrantFailed(submitErr.Error(), now)
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record grant failure",
				"access_request_id", req.ID.String(),
				"error", err,
			)
			failed = req
		}
		s.logAudit(ctx, audit.EventGrantFailed, failed,
			"approver", failed.Approver.String(),
			"ttl", failed.GrantedTTL.String(),
			"reason", submitErr.Error(),
		)
		return failed, dErrors.Wrap(submitErr, dErrors.CodeExternalService, "policy enforcer did not accept the grant")
	}

	if s.metrics != nil {
		s.metrics.IncrementGrantSubmission(metrics.OutcomeSuccess)
	}
	active, err := s.store.Execute(bookkeepingCtx, req.ID, guard, func(r *models.AccessRequest) {
		r.ApplyGrantActive(now)
	})
	if err != nil {
		// The enforcer has the grant; the stale pending record is left for the reconciler.
		s.logger.ErrorContext(ctx, "failed to record active grant",
			"access_request_id", req.ID.String(),
			"error", err,
		)
		active = req
	}
	s.logAudit(ctx, audit.EventGrantSubmitted, active,
		"approver", active.Approver.String(),
		"ttl", active.GrantedTTL.String(),
	)
	s.notifyRequester(ctx, active, fmt.Sprintf("Your access request %s for %s was approved by %s for %s.",
		active.ID, active.ActionName, active.Approver, active.GrantedTTL))
	return active, nil
}
