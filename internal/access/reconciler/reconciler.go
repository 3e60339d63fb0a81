// Package reconciler retries policy grants that failed or stalled after an
// approval, so an approved request does not silently stay without a grant.
package reconciler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
)

// GrantService is the slice of the access service the reconciler drives.
type GrantService interface {
	List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error)
	RetryGrant(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error)
}

type Config struct {
	// Interval between passes. Zero disables the background loop.
	Interval time.Duration
	// StaleAfter is how long a pending grant may sit before it is reclaimed.
	StaleAfter time.Duration
	// MaxAttempts stops retrying once a grant has been submitted this many times.
	MaxAttempts int
	// Concurrency bounds parallel RetryGrant calls per pass.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		StaleAfter:  2 * time.Minute,
		MaxAttempts: 5,
		Concurrency: 4,
	}
}

// Result summarizes one pass.
type Result struct {
	Candidates int
	Succeeded  int
	Failed     int
	Exhausted  int
}

type Reconciler struct {
	service GrantService
	cfg     Config
	logger  *slog.Logger
	clock   func() time.Time
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		r.clock = clock
	}
}

func New(service GrantService, cfg Config, opts ...Option) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	r := &Reconciler{service: service, cfg: cfg, logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a pass every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		r.logger.InfoContext(ctx, "grant reconciler disabled")
		return nil
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "grant reconciliation pass failed", "error", err)
			}
		}
	}
}

// RunOnce retries every eligible grant once. Individual retry failures are
// logged and counted; only a failure to list candidates is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	candidates, exhausted, err := r.candidates(ctx)
	if err != nil {
		return Result{}, err
	}

	var succeeded, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, req := range candidates {
		g.Go(func() error {
			if _, err := r.service.RetryGrant(gctx, req.ID); err != nil {
				failed.Add(1)
				level := slog.LevelWarn
				if dErrors.HasCode(err, dErrors.CodeAlreadyDecided) {
					// Someone else holds or finished the claim.
					level = slog.LevelDebug
				}
				r.logger.Log(gctx, level, "grant retry failed",
					"access_request_id", req.ID.String(),
					"attempts", req.GrantAttempts,
					"error", err,
				)
				return nil
			}
			succeeded.Add(1)
			r.logger.InfoContext(gctx, "grant retry succeeded",
				"access_request_id", req.ID.String(),
			)
			return nil
		})
	}
	_ = g.Wait()

	return Result{
		Candidates: len(candidates),
		Succeeded:  int(succeeded.Load()),
		Failed:     int(failed.Load()),
		Exhausted:  exhausted,
	}, nil
}

func (r *Reconciler) candidates(ctx context.Context) ([]*models.AccessRequest, int, error) {
	approved := models.StatusApproved
	var out []*models.AccessRequest
	exhausted := 0
	staleBefore := r.clock().Add(-r.cfg.StaleAfter)

	for _, gs := range []models.GrantStatus{models.GrantStatusFailed, models.GrantStatusPending} {
		grantStatus := gs
		reqs, err := r.service.List(ctx, models.Filter{Status: &approved, GrantStatus: &grantStatus})
		if err != nil {
			return nil, 0, err
		}
		for _, req := range reqs {
			if gs == models.GrantStatusPending && (req.GrantUpdatedAt == nil || !req.GrantUpdatedAt.Before(staleBefore)) {
				continue
			}
			if r.cfg.MaxAttempts > 0 && req.GrantAttempts >= r.cfg.MaxAttempts {
				exhausted++
				r.logger.WarnContext(ctx, "grant retries exhausted, operator action required",
					"access_request_id", req.ID.String(),
					"attempts", req.GrantAttempts,
					"grant_error", req.GrantError,
				)
				continue
			}
			out = append(out, req)
		}
	}
	return out, exhausted, nil
}
