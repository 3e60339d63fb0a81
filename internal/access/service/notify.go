package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
)

// notificationTracker counts background deliveries so shutdown can wait for them.
type notificationTracker struct {
	wg sync.WaitGroup
}

func (t *notificationTracker) goDeliver(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

func (t *notificationTracker) wait() {
	t.wg.Wait()
}

func (s *Service) notifyApprovers(ctx context.Context, req *models.AccessRequest) {
	if s.notifier == nil {
		return
	}
	if len(s.approvers) == 0 {
		s.logger.WarnContext(ctx, "no approvers configured, request will wait for a manual decision",
			"access_request_id", req.ID.String(),
		)
		return
	}
	message := approvalSummary(req)
	for _, approver := range s.approvers {
		s.notify(ctx, req, approver, message)
	}
}

func (s *Service) notifyRequester(ctx context.Context, req *models.AccessRequest, message string) {
	if s.notifier == nil {
		return
	}
	s.notify(ctx, req, req.Requester, message)
}

// notify delivers in the background on a context detached from the caller's
// cancellation and bounded by the notify timeout.
func (s *Service) notify(ctx context.Context, req *models.AccessRequest, to id.Principal, message string) {
	detached := context.WithoutCancel(ctx)
	s.notifications.goDeliver(func() {
		nctx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()
		if err := s.deliver(nctx, to, message); err != nil {
			if s.metrics != nil {
				s.metrics.IncrementNotificationFailure()
			}
			s.logger.WarnContext(nctx, "notification failed",
				"access_request_id", req.ID.String(),
				"recipient", to.String(),
				"error", err,
			)
		}
	})
}

func (s *Service) deliver(ctx context.Context, to id.Principal, message string) error {
	address, err := s.notifier.ResolveAddress(ctx, to)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeExternalService, "resolve notification address")
	}
	if err := s.notifier.Send(ctx, address, message); err != nil {
		return dErrors.Wrap(err, dErrors.CodeExternalService, "send notification")
	}
	return nil
}

func approvalSummary(req *models.AccessRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Access request %s: %s asks to run %s for %s.", req.ID, req.Requester, req.ActionName, req.RequestedTTL)
	if req.Reason != "" {
		fmt.Fprintf(&b, " Reason: %s.", req.Reason)
	}
	if len(req.ActionParams) > 0 && string(req.ActionParams) != "{}" {
		fmt.Fprintf(&b, " Parameters: %s.", req.ActionParams)
	}
	fmt.Fprintf(&b, " Decide with: jitctl approve %s or jitctl reject %s", req.ID, req.ID)
	return b.String()
}
