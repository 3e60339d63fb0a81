package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	"jitaccess/pkg/platform/sentinel"
)

type requestStore interface {
	Insert(ctx context.Context, req *models.AccessRequest) error
	Get(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error)
	CompareAndTransition(ctx context.Context, reqID id.RequestID, expected models.Status, mutate func(*models.AccessRequest)) (*models.AccessRequest, error)
	Execute(ctx context.Context, reqID id.RequestID, validate func(*models.AccessRequest) error, mutate func(*models.AccessRequest)) (*models.AccessRequest, error)
	List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error)
}

// contractSuite runs the same behaviour checks against every backend.
// Embedding suites set store in SetupTest.
type contractSuite struct {
	suite.Suite
	store requestStore
	ctx   context.Context
}

func newRequest(requester id.Principal, action string) *models.AccessRequest {
	req, err := models.NewAccessRequest(id.NewRequestID(), requester, action,
		json.RawMessage(`{"namespace":"prod"}`), "1h", "deploy hotfix", time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		panic(err)
	}
	return req
}

func (s *contractSuite) TestInsertAndGet() {
	s.Run("round trips every field", func() {
		req := newRequest("alice@co", "rollout_restart_deployment")
		s.Require().NoError(s.store.Insert(s.ctx, req))

		got, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(req.ID, got.ID)
		s.Equal(req.Requester, got.Requester)
		s.Equal(req.ActionName, got.ActionName)
		s.JSONEq(string(req.ActionParams), string(got.ActionParams))
		s.Equal(req.RequestedTTL, got.RequestedTTL)
		s.Equal(models.StatusPending, got.Status)
		s.Equal(models.GrantStatusNone, got.GrantStatus)
		s.Equal("deploy hotfix", got.Reason)
		s.True(req.CreatedAt.Equal(got.CreatedAt))
		s.Nil(got.DecidedAt)
	})

	s.Run("rejects duplicate id", func() {
		req := newRequest("alice@co", "db_drop_table")
		s.Require().NoError(s.store.Insert(s.ctx, req))

		err := s.store.Insert(s.ctx, req)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, "req-missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *contractSuite) TestCompareAndTransition() {
	s.Run("applies mutation when status matches", func() {
		req := newRequest("alice@co", "rollout_restart_deployment")
		s.Require().NoError(s.store.Insert(s.ctx, req))

		now := time.Now().UTC().Truncate(time.Microsecond)
		updated, err := s.store.CompareAndTransition(s.ctx, req.ID, models.StatusPending, func(r *models.AccessRequest) {
			r.ApplyApproval("bob@co", "30m", now)
		})
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, updated.Status)

		got, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal(models.TTL("30m"), got.GrantedTTL)
		s.Equal(id.Principal("bob@co"), got.Approver)
		s.Equal(models.GrantStatusPending, got.GrantStatus)
		s.Require().NotNil(got.DecidedAt)
		s.True(now.Equal(*got.DecidedAt))
	})

	s.Run("leaves record untouched when status differs", func() {
		req := newRequest("alice@co", "rollout_restart_deployment")
		s.Require().NoError(s.store.Insert(s.ctx, req))
		_, err := s.store.CompareAndTransition(s.ctx, req.ID, models.StatusPending, func(r *models.AccessRequest) {
			r.ApplyRejection("bob@co", time.Now())
		})
		s.Require().NoError(err)

		called := false
		_, err = s.store.CompareAndTransition(s.ctx, req.ID, models.StatusPending, func(r *models.AccessRequest) {
			called = true
			r.ApplyApproval("carol@co", "1h", time.Now())
		})
		s.ErrorIs(err, sentinel.ErrInvalidState)
		s.False(called)

		got, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, got.Status)
		s.Equal(id.Principal("bob@co"), got.Approver)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.CompareAndTransition(s.ctx, "req-missing", models.StatusPending, func(*models.AccessRequest) {})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *contractSuite) TestExecuteValidationError() {
	req := newRequest("alice@co", "rollout_restart_deployment")
	s.Require().NoError(s.store.Insert(s.ctx, req))

	boom := errors.New("not allowed")
	_, err := s.store.Execute(s.ctx, req.ID, func(*models.AccessRequest) error { return boom }, func(r *models.AccessRequest) {
		r.Reason = "changed"
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal("deploy hotfix", got.Reason)
}

// TestConcurrentDecisions verifies exactly one of many racing transitions wins.
func (s *contractSuite) TestConcurrentDecisions() {
	req := newRequest("alice@co", "rollout_restart_deployment")
	s.Require().NoError(s.store.Insert(s.ctx, req))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, conflictCount, otherErrors atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.store.CompareAndTransition(s.ctx, req.ID, models.StatusPending, func(r *models.AccessRequest) {
				if idx%2 == 0 {
					r.ApplyApproval("bob@co", "1h", time.Now())
				} else {
					r.ApplyRejection("carol@co", time.Now())
				}
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				conflictCount.Add(1)
			default:
				otherErrors.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one transition should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should observe a decided request")
	s.Equal(int32(0), otherErrors.Load())
}

func (s *contractSuite) TestListFiltersInInsertionOrder() {
	r1 := newRequest("alice@co", "rollout_restart_deployment")
	r2 := newRequest("bob@co", "db_drop_table")
	r3 := newRequest("alice@co", "db_drop_table")
	for _, r := range []*models.AccessRequest{r1, r2, r3} {
		s.Require().NoError(s.store.Insert(s.ctx, r))
	}
	_, err := s.store.CompareAndTransition(s.ctx, r2.ID, models.StatusPending, func(r *models.AccessRequest) {
		r.ApplyApproval("carol@co", "1h", time.Now())
	})
	s.Require().NoError(err)

	all, err := s.store.List(s.ctx, models.Filter{})
	s.Require().NoError(err)
	s.Equal([]id.RequestID{r1.ID, r2.ID, r3.ID}, idsOf(all))

	pending := models.StatusPending
	got, err := s.store.List(s.ctx, models.Filter{Status: &pending})
	s.Require().NoError(err)
	s.Equal([]id.RequestID{r1.ID, r3.ID}, idsOf(got))

	got, err = s.store.List(s.ctx, models.Filter{ActionName: "db_drop_table"})
	s.Require().NoError(err)
	s.Equal([]id.RequestID{r2.ID, r3.ID}, idsOf(got))

	grantPending := models.GrantStatusPending
	got, err = s.store.List(s.ctx, models.Filter{GrantStatus: &grantPending})
	s.Require().NoError(err)
	s.Equal([]id.RequestID{r2.ID}, idsOf(got))

	got, err = s.store.List(s.ctx, models.Filter{Requester: "alice@co", Status: &pending, ActionName: "db_drop_table"})
	s.Require().NoError(err)
	s.Equal([]id.RequestID{r3.ID}, idsOf(got))

	got, err = s.store.List(s.ctx, models.Filter{CreatedBefore: r1.CreatedAt.Add(-time.Hour)})
	s.Require().NoError(err)
	s.Empty(got)
}

func idsOf(reqs []*models.AccessRequest) []id.RequestID {
	out := make([]id.RequestID, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.ID)
	}
	return out
}
