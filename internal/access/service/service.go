package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"jitaccess/internal/access/metrics"
	"jitaccess/internal/access/models"
	"jitaccess/internal/access/ports"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
	"jitaccess/pkg/platform/audit"
	"jitaccess/pkg/platform/sentinel"
	"jitaccess/pkg/requestcontext"
)

const (
	defaultMaxTTL          = 24 * time.Hour
	defaultNotifyTimeout   = 10 * time.Second
	defaultGrantStaleAfter = 2 * time.Minute
)

// Store is the persistence contract the service relies on. CompareAndTransition
// and Execute must be atomic per id; they arbitrate concurrent decisions.
type Store interface {
	Insert(ctx context.Context, req *models.AccessRequest) error
	Get(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error)
	CompareAndTransition(ctx context.Context, reqID id.RequestID, expected models.Status, mutate func(*models.AccessRequest)) (*models.AccessRequest, error)
	Execute(ctx context.Context, reqID id.RequestID, validate func(*models.AccessRequest) error, mutate func(*models.AccessRequest)) (*models.AccessRequest, error)
	List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the access request lifecycle. It is the only component
// that talks to the store, the notification channel and the policy enforcer together.
type Service struct {
	store           Store
	notifier        ports.NotificationChannel
	enforcer        ports.PolicyEnforcer
	logger          *slog.Logger
	metrics         *metrics.Metrics
	auditPublisher  AuditPublisher
	tracer          trace.Tracer
	approvers       []id.Principal
	maxTTL          time.Duration
	notifyTimeout   time.Duration
	grantStaleAfter time.Duration
	clock           func() time.Time

	notifications notificationTracker
}

type Option func(*Service)

func WithNotifier(n ports.NotificationChannel) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithEnforcer(e ports.PolicyEnforcer) Option {
	return func(s *Service) {
		s.enforcer = e
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithApprovers sets who is notified when a request is created.
func WithApprovers(approvers ...id.Principal) Option {
	return func(s *Service) {
		s.approvers = append([]id.Principal(nil), approvers...)
	}
}

// WithMaxTTL caps requested and override TTLs. Zero disables the cap.
func WithMaxTTL(d time.Duration) Option {
	return func(s *Service) {
		s.maxTTL = d
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithGrantStaleAfter sets how long a pending grant may sit before RetryGrant may reclaim it.
func WithGrantStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.grantStaleAfter = d
		}
	}
}

// WithClock overrides the time source. Without it the request-scoped time is used.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New constructs a Service. A store and a policy enforcer are required.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access request store is required")
	}
	s := &Service{
		store:           store,
		maxTTL:          defaultMaxTTL,
		notifyTimeout:   defaultNotifyTimeout,
		grantStaleAfter: defaultGrantStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.enforcer == nil {
		return nil, errors.New("policy enforcer is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("jitaccess/access")
	}
	return s, nil
}

// Describe returns a single request.
func (s *Service) Describe(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error) {
	req, err := s.store.Get(ctx, reqID)
	if err != nil {
		return nil, translateStoreError(err, "load access request")
	}
	return req, nil
}

// List returns requests matching filter in insertion order.
func (s *Service) List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error) {
	reqs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list access requests")
	}
	return reqs, nil
}

// GrantStaleAfter exposes the reclaim threshold so the reconciler picks the same candidates.
func (s *Service) GrantStaleAfter() time.Duration {
	return s.grantStaleAfter
}

// Wait blocks until in-flight notifications finished. Call it on shutdown.
func (s *Service) Wait() {
	s.notifications.wait()
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

// translateStoreError maps store sentinels onto domain codes. Domain errors
// raised by validate callbacks pass through untouched.
func translateStoreError(err error, action string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "access request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeAlreadyDecided, "access request has already been decided")
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, "failed to "+action)
}
