package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"jitaccess/internal/access/metrics"
	"jitaccess/internal/access/models"
	portmocks "jitaccess/internal/access/ports/mocks"
	"jitaccess/internal/access/service/mocks"
	"jitaccess/internal/access/store"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
	"jitaccess/pkg/platform/audit"
	auditmemory "jitaccess/pkg/platform/audit/store/memory"
)

// =============================================================================
// Access Service Test Suite
// =============================================================================
// The service is exercised against the real in-memory store so the
// compare-and-transition arbitration is the production code path. The policy
// enforcer and notification channel are gomock doubles; a test that sets no
// SubmitGrant expectation fails on any enforcer call.

type AccessServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *store.InMemory
	enforcer *portmocks.MockPolicyEnforcer
	notifier *portmocks.MockNotificationChannel
	auditLog *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	now      time.Time
	service  *Service
	ctx      context.Context
}

func TestAccessServiceSuite(t *testing.T) {
	suite.Run(t, new(AccessServiceSuite))
}

func (s *AccessServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemory()
	s.enforcer = portmocks.NewMockPolicyEnforcer(s.ctrl)
	s.notifier = portmocks.NewMockNotificationChannel(s.ctrl)
	s.auditLog = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.ctx = context.Background()
	s.service = s.newService()
}

func (s *AccessServiceSuite) TearDownTest() {
	s.service.Wait()
	s.ctrl.Finish()
}

func (s *AccessServiceSuite) newService(extra ...Option) *Service {
	opts := []Option{
		WithEnforcer(s.enforcer),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.auditLog),
		WithClock(func() time.Time { return s.now }),
	}
	svc, err := New(s.store, append(opts, extra...)...)
	s.Require().NoError(err)
	return svc
}

func (s *AccessServiceSuite) create(requester, action, ttl string) id.RequestID {
	reqID, err := s.service.Create(s.ctx, CreateRequest{
		Requester:    requester,
		ActionName:   action,
		ActionParams: json.RawMessage(`{}`),
		RequestedTTL: ttl,
	})
	s.Require().NoError(err)
	return reqID
}

func (s *AccessServiceSuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "unexpected error: %v", err)
}

// =============================================================================
// Constructor
// =============================================================================

func (s *AccessServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, WithEnforcer(s.enforcer))
		s.ErrorContains(err, "store is required")
	})

	s.Run("missing enforcer returns error", func() {
		_, err := New(s.store)
		s.ErrorContains(err, "policy enforcer is required")
	})

	s.Run("applies defaults", func() {
		svc, err := New(s.store, WithEnforcer(s.enforcer))
		s.Require().NoError(err)
		s.Equal(defaultMaxTTL, svc.maxTTL)
		s.Equal(defaultGrantStaleAfter, svc.GrantStaleAfter())
		s.NotNil(svc.logger)
	})
}

// =============================================================================
// Create
// =============================================================================

func (s *AccessServiceSuite) TestCreateThenDescribeIsPending() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")

	got, err := s.service.Describe(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
	s.Equal("rollout_restart_deployment", got.ActionName)
	s.Equal(models.TTL("1h"), got.RequestedTTL)
	s.Equal(id.Principal("alice@co"), got.Requester)
	s.True(got.Approver.IsNil())
	s.True(got.GrantedTTL.IsZero())
	s.Nil(got.DecidedAt)
	s.Equal(s.now, got.CreatedAt)
	s.True(strings.HasPrefix(reqID.String(), "req-"))
	s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.RequestsCreated))
}

func (s *AccessServiceSuite) TestCreateRejectsMalformedInput() {
	cases := []struct {
		name string
		in   CreateRequest
	}{
		{"ttl abc", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table", RequestedTTL: "abc"}},
		{"ttl 5x", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table", RequestedTTL: "5x"}},
		{"empty ttl", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table"}},
		{"ttl above max", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table", RequestedTTL: "25h"}},
		{"ttl overflowing duration", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table", RequestedTTL: "3000000h"}},
		{"ttl at duration limit", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table", RequestedTTL: "2562047h"}},
		{"missing requester", CreateRequest{ActionName: "db_drop_table", RequestedTTL: "1h"}},
		{"missing action", CreateRequest{Requester: "bob@co", ActionName: "  ", RequestedTTL: "1h"}},
		{"invalid params", CreateRequest{Requester: "bob@co", ActionName: "db_drop_table", RequestedTTL: "1h", ActionParams: json.RawMessage(`{"a":`)}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Create(s.ctx, tc.in)
			s.requireCode(err, dErrors.CodeValidation)
		})
	}

	all, err := s.service.List(s.ctx, models.Filter{})
	s.Require().NoError(err)
	s.Empty(all, "nothing is persisted on validation failure")
}

func (s *AccessServiceSuite) TestCreateNormalizesInput() {
	reqID, err := s.service.Create(s.ctx, CreateRequest{
		Requester:    "  alice@co ",
		ActionName:   " rollout_restart_deployment ",
		RequestedTTL: "30m",
		Reason:       "  incident 42 ",
	})
	s.Require().NoError(err)

	got, err := s.service.Describe(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(id.Principal("alice@co"), got.Requester)
	s.Equal("rollout_restart_deployment", got.ActionName)
	s.JSONEq(`{}`, string(got.ActionParams))
	s.Equal("incident 42", got.Reason)
}

func (s *AccessServiceSuite) TestCreateNotifiesApprovers() {
	svc := s.newService(WithNotifier(s.notifier), WithApprovers("ops@co", "sre@co"))
	s.service = svc

	var sent sync.Map
	s.notifier.EXPECT().ResolveAddress(gomock.Any(), id.Principal("ops@co")).Return("U-OPS", nil)
	s.notifier.EXPECT().ResolveAddress(gomock.Any(), id.Principal("sre@co")).Return("U-SRE", nil)
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).
		DoAndReturn(func(_ context.Context, address, message string) error {
			sent.Store(address, message)
			return nil
		})

	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	svc.Wait()

	for _, address := range []string{"U-OPS", "U-SRE"} {
		msg, ok := sent.Load(address)
		s.Require().True(ok, "approver %s notified", address)
		s.Contains(msg, reqID.String())
		s.Contains(msg, "rollout_restart_deployment")
	}
}

func (s *AccessServiceSuite) TestCreateSucceedsWhenNotificationFails() {
	svc := s.newService(WithNotifier(s.notifier), WithApprovers("ops@co"))
	s.service = svc
	s.notifier.EXPECT().ResolveAddress(gomock.Any(), gomock.Any()).Return("", errors.New("users_not_found"))

	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	svc.Wait()

	_, err := svc.Describe(s.ctx, reqID)
	s.NoError(err)
	s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.NotificationFailures))
}

func (s *AccessServiceSuite) TestCreateNotificationOutlivesCallerContext() {
	svc := s.newService(WithNotifier(s.notifier), WithApprovers("ops@co"))
	s.service = svc

	ctx, cancel := context.WithCancel(s.ctx)
	delivered := make(chan error, 1)
	s.notifier.EXPECT().ResolveAddress(gomock.Any(), gomock.Any()).Return("U-OPS", nil)
	s.notifier.EXPECT().Send(gomock.Any(), "U-OPS", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string) error {
			delivered <- ctx.Err()
			return nil
		})

	_, err := svc.Create(ctx, CreateRequest{Requester: "alice@co", ActionName: "deploy", RequestedTTL: "1h"})
	cancel()
	s.Require().NoError(err)
	svc.Wait()
	s.NoError(<-delivered)
}

// =============================================================================
// Decide
// =============================================================================

func (s *AccessServiceSuite) TestApproveWithOverrideTTL() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")

	var submitted []models.PolicyGrant
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, g models.PolicyGrant) error {
			submitted = append(submitted, g)
			return nil
		}).Times(1)

	res, err := s.service.Decide(s.ctx, DecideRequest{
		ID: reqID, Action: models.DecisionApprove, Approver: "bob@co", OverrideTTL: "30m",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, res.Status)
	s.Equal(models.GrantStatusActive, res.GrantStatus)

	got, err := s.service.Describe(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.Equal(models.TTL("30m"), got.GrantedTTL)
	s.Equal(models.TTL("1h"), got.RequestedTTL)
	s.Equal(id.Principal("bob@co"), got.Approver)
	s.Require().NotNil(got.DecidedAt)

	s.Require().Len(submitted, 1)
	s.Equal(models.TTL("30m"), submitted[0].TTL)
	s.Equal(id.Principal("alice@co"), submitted[0].Requester)
	s.Equal("rollout_restart_deployment", submitted[0].ActionName)
	s.Equal(reqID, submitted[0].RequestID)
}

func (s *AccessServiceSuite) TestApproveWithoutOverrideGrantsRequestedTTL() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "2h")
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Cond(func(g models.PolicyGrant) bool {
		return g.TTL == "2h"
	})).Return(nil)

	res, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co"})
	s.Require().NoError(err)
	s.Equal(models.TTL("2h"), res.GrantedTTL)
}

func (s *AccessServiceSuite) TestInvalidOverrideLeavesRequestPending() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")

	for _, ttl := range []string{"abc", "0m", "48h", "3000000h", "2562047h"} {
		_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co", OverrideTTL: ttl})
		s.requireCode(err, dErrors.CodeValidation)
	}

	got, err := s.service.Describe(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
}

func (s *AccessServiceSuite) TestDecisionAfterApprovalIsAlreadyDecided() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co", OverrideTTL: "30m"})
	s.Require().NoError(err)

	_, err = s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionReject, Approver: "carol@co"})
	s.requireCode(err, dErrors.CodeAlreadyDecided)

	_, err = s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "carol@co"})
	s.requireCode(err, dErrors.CodeAlreadyDecided)

	got, err := s.service.Describe(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(id.Principal("bob@co"), got.Approver)
	s.Equal(models.TTL("30m"), got.GrantedTTL)
	s.Equal(float64(2), promtestutil.ToFloat64(s.metrics.AlreadyDecided))
}

func (s *AccessServiceSuite) TestRejectNeverSubmitsGrant() {
	reqID := s.create("alice@co", "db_drop_table", "1h")

	res, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionReject, Approver: "bob@co"})
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, res.Status)
	s.Equal(id.Principal("bob@co"), res.Approver)
	s.True(res.GrantedTTL.IsZero())
	s.Equal(models.GrantStatusNone, res.GrantStatus)
	s.Require().NotNil(res.DecidedAt)

	_, err = s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "carol@co"})
	s.requireCode(err, dErrors.CodeAlreadyDecided)
}

func (s *AccessServiceSuite) TestRejectNotifiesRequester() {
	svc := s.newService(WithNotifier(s.notifier))
	s.service = svc
	reqID := s.create("alice@co", "db_drop_table", "1h")

	s.notifier.EXPECT().ResolveAddress(gomock.Any(), id.Principal("alice@co")).Return("U-ALICE", nil)
	s.notifier.EXPECT().Send(gomock.Any(), "U-ALICE", gomock.Cond(func(msg string) bool {
		return strings.Contains(msg, "rejected") && strings.Contains(msg, reqID.String())
	})).Return(nil)

	_, err := svc.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionReject, Approver: "bob@co"})
	s.Require().NoError(err)
	svc.Wait()
}

func (s *AccessServiceSuite) TestUnknownIDIsNotFound() {
	_, err := s.service.Describe(s.ctx, "req-missing")
	s.requireCode(err, dErrors.CodeNotFound)

	_, err = s.service.Decide(s.ctx, DecideRequest{ID: "req-missing", Action: models.DecisionApprove})
	s.requireCode(err, dErrors.CodeNotFound)

	_, err = s.service.RetryGrant(s.ctx, "req-missing")
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *AccessServiceSuite) TestDecideValidation() {
	reqID := s.create("alice@co", "db_drop_table", "1h")

	_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove})
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.Decide(s.ctx, DecideRequest{ID: reqID, Approver: "bob@co"})
	s.requireCode(err, dErrors.CodeValidation)
}

// TestConcurrentApproveAndReject verifies exactly one decision wins the race
// and the enforcer is called at most once.
func (s *AccessServiceSuite) TestConcurrentApproveAndReject() {
	const rounds = 25
	var enforcerCalls atomic.Int32
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, models.PolicyGrant) error {
			enforcerCalls.Add(1)
			return nil
		}).AnyTimes()

	for round := 0; round < rounds; round++ {
		reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
		before := enforcerCalls.Load()

		var wg sync.WaitGroup
		var successes, alreadyDecided atomic.Int32
		var approved atomic.Bool
		decide := func(action models.DecisionAction, approver id.Principal) {
			defer wg.Done()
			_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: action, Approver: approver})
			switch {
			case err == nil:
				successes.Add(1)
				approved.Store(action == models.DecisionApprove)
			case dErrors.HasCode(err, dErrors.CodeAlreadyDecided):
				alreadyDecided.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}
		wg.Add(2)
		go decide(models.DecisionApprove, "bob@co")
		go decide(models.DecisionReject, "carol@co")
		wg.Wait()

		s.Equal(int32(1), successes.Load(), "exactly one decision succeeds")
		s.Equal(int32(1), alreadyDecided.Load(), "the loser sees AlreadyDecided")

		calls := enforcerCalls.Load() - before
		if approved.Load() {
			s.Equal(int32(1), calls)
		} else {
			s.Equal(int32(0), calls)
		}
	}
}

func (s *AccessServiceSuite) TestManyConcurrentApprovalsSubmitOnce() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	const goroutines = 30
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co"}); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), successes.Load())
}

// =============================================================================
// Grant failures and retry
// =============================================================================

func (s *AccessServiceSuite) TestEnforcerFailureKeepsApproval() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(errors.New("enforcer returned 503"))

	res, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co"})
	s.requireCode(err, dErrors.CodeExternalService)
	s.Require().NotNil(res)

	got, err := s.service.Describe(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status, "approval is not rolled back")
	s.Equal(models.GrantStatusFailed, got.GrantStatus)
	s.Equal(1, got.GrantAttempts)
	s.Contains(got.GrantError, "503")

	_, err = s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co"})
	s.requireCode(err, dErrors.CodeAlreadyDecided)
}

func (s *AccessServiceSuite) TestRetryGrantAfterFailure() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	gomock.InOrder(
		s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(errors.New("connection refused")),
		s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(nil),
	)

	_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co"})
	s.requireCode(err, dErrors.CodeExternalService)

	res, err := s.service.RetryGrant(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.GrantStatusActive, res.GrantStatus)
	s.Equal(2, res.GrantAttempts)
	s.Empty(res.GrantError)

	_, err = s.service.RetryGrant(s.ctx, reqID)
	s.requireCode(err, dErrors.CodeAlreadyDecided)
}

func (s *AccessServiceSuite) TestRetryGrantGuards() {
	s.Run("pending request has no grant", func() {
		reqID := s.create("alice@co", "deploy", "1h")
		_, err := s.service.RetryGrant(s.ctx, reqID)
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("rejected request has no grant", func() {
		reqID := s.create("alice@co", "deploy", "1h")
		_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionReject, Approver: "bob@co"})
		s.Require().NoError(err)
		_, err = s.service.RetryGrant(s.ctx, reqID)
		s.requireCode(err, dErrors.CodeValidation)
	})
}

func (s *AccessServiceSuite) TestRetryGrantReclaimsOnlyStalePending() {
	reqID := s.create("alice@co", "deploy", "1h")
	// Simulate a submitter that died after the approval transition.
	_, err := s.store.CompareAndTransition(s.ctx, reqID, models.StatusPending, func(r *models.AccessRequest) {
		r.ApplyApproval("bob@co", "1h", s.now)
	})
	s.Require().NoError(err)

	_, err = s.service.RetryGrant(s.ctx, reqID)
	s.requireCode(err, dErrors.CodeAlreadyDecided)

	s.now = s.now.Add(defaultGrantStaleAfter + time.Second)
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.service.RetryGrant(s.ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.GrantStatusActive, res.GrantStatus)
}

// =============================================================================
// Store failures
// =============================================================================

func (s *AccessServiceSuite) TestPersistenceFailures() {
	mockStore := mocks.NewMockStore(s.ctrl)
	svc, err := New(mockStore,
		WithEnforcer(s.enforcer),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	dbDown := errors.New("connection reset by peer")

	s.Run("insert failure", func() {
		mockStore.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(dbDown)
		_, err := svc.Create(s.ctx, CreateRequest{Requester: "alice@co", ActionName: "deploy", RequestedTTL: "1h"})
		s.requireCode(err, dErrors.CodePersistence)
		s.ErrorIs(err, dbDown)
	})

	s.Run("transition failure aborts before enforcer", func() {
		pending, err := models.NewAccessRequest("req-1", "alice@co", "deploy", json.RawMessage(`{}`), "1h", "", s.now)
		s.Require().NoError(err)
		mockStore.EXPECT().Get(gomock.Any(), id.RequestID("req-1")).Return(pending, nil)
		mockStore.EXPECT().CompareAndTransition(gomock.Any(), id.RequestID("req-1"), models.StatusPending, gomock.Any()).Return(nil, dbDown)

		_, err = svc.Decide(s.ctx, DecideRequest{ID: "req-1", Action: models.DecisionApprove, Approver: "bob@co"})
		s.requireCode(err, dErrors.CodePersistence)
	})

	s.Run("lookup failure", func() {
		mockStore.EXPECT().Get(gomock.Any(), id.RequestID("req-2")).Return(nil, dbDown)
		_, err := svc.Describe(s.ctx, "req-2")
		s.requireCode(err, dErrors.CodePersistence)
	})

	s.Run("list failure", func() {
		mockStore.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, dbDown)
		_, err := svc.List(s.ctx, models.Filter{})
		s.requireCode(err, dErrors.CodePersistence)
	})
}

// =============================================================================
// Audit trail
// =============================================================================

func (s *AccessServiceSuite) TestAuditTrail() {
	reqID := s.create("alice@co", "rollout_restart_deployment", "1h")
	s.enforcer.EXPECT().SubmitGrant(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.service.Decide(s.ctx, DecideRequest{ID: reqID, Action: models.DecisionApprove, Approver: "bob@co", OverrideTTL: "30m"})
	s.Require().NoError(err)

	events, err := s.auditLog.ListByAccessRequest(s.ctx, reqID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(audit.EventAccessRequested, events[0].Action)
	s.Equal(audit.EventAccessApproved, events[1].Action)
	s.Equal("bob@co", events[1].ActorID)
	s.Equal("approve", events[1].Decision)
	s.Equal("30m", events[1].TTL)
	s.Equal(audit.EventGrantSubmitted, events[2].Action)
	for _, e := range events {
		s.Equal("alice@co", e.Subject)
	}
}

func (s *AccessServiceSuite) TestAuditFailureDoesNotFailRequest() {
	publisher := mocks.NewMockAuditPublisher(s.ctrl)
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker unavailable")).AnyTimes()
	s.service = s.newService(WithAuditPublisher(publisher))

	_, err := s.service.Create(s.ctx, CreateRequest{Requester: "alice@co", ActionName: "deploy", RequestedTTL: "1h"})
	s.NoError(err)
}

func (s *AccessServiceSuite) TestListFilters() {
	r1 := s.create("alice@co", "deploy", "1h")
	r2 := s.create("bob@co", "db_drop_table", "1h")
	_, err := s.service.Decide(s.ctx, DecideRequest{ID: r2, Action: models.DecisionReject, Approver: "carol@co"})
	s.Require().NoError(err)

	pending := models.StatusPending
	got, err := s.service.List(s.ctx, models.Filter{Status: &pending})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(r1, got[0].ID)

	got, err = s.service.List(s.ctx, models.Filter{ActionName: "db_drop_table"})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(r2, got[0].ID)
}
