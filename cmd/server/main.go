package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"jitaccess/internal/access/handler"
	accessmetrics "jitaccess/internal/access/metrics"
	"jitaccess/internal/access/reconciler"
	"jitaccess/internal/access/service"
	"jitaccess/internal/platform/config"
	"jitaccess/internal/platform/httpserver"
	"jitaccess/internal/platform/logger"
	"jitaccess/internal/platform/metrics"
	"jitaccess/internal/platform/middleware"
	id "jitaccess/pkg/domain"
	"jitaccess/pkg/platform/httputil"
	"jitaccess/pkg/platform/middleware/auth"
	"jitaccess/pkg/platform/middleware/metadata"
	request "jitaccess/pkg/platform/middleware/request"
	"jitaccess/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies and owns the process lifecycle.
// Business logic lives in internal/access.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jitaccess: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("jitaccess stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("jitaccess stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(reg)

	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := buildNotifier(cfg.Notifications, log)
	if err != nil {
		return err
	}
	enforcer, err := buildEnforcer(cfg.Enforcer)
	if err != nil {
		return err
	}
	trail, err := buildAuditTrail(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer trail.close()

	approvers := make([]id.Principal, 0, len(cfg.Notifications.Approvers))
	for _, raw := range cfg.Notifications.Approvers {
		p, err := id.ParsePrincipal(raw)
		if err != nil {
			return fmt.Errorf("notifications.approvers: %w", err)
		}
		approvers = append(approvers, p)
	}

	opts := []service.Option{
		service.WithEnforcer(enforcer),
		service.WithLogger(log),
		service.WithMetrics(accessmetrics.New(reg)),
		service.WithAuditPublisher(trail.queue),
		service.WithApprovers(approvers...),
		service.WithMaxTTL(cfg.Access.MaxTTL),
		service.WithNotifyTimeout(cfg.Notifications.Timeout),
		service.WithGrantStaleAfter(cfg.Reconciler.StaleAfter),
	}
	if notifier != nil {
		opts = append(opts, service.WithNotifier(notifier))
	}
	svc, err := service.New(store, opts...)
	if err != nil {
		return fmt.Errorf("build access service: %w", err)
	}

	rec := reconciler.New(svc, reconciler.Config{
		Interval:    cfg.Reconciler.Interval,
		StaleAfter:  cfg.Reconciler.StaleAfter,
		MaxAttempts: cfg.Reconciler.MaxAttempts,
		Concurrency: cfg.Reconciler.Concurrency,
	}, reconciler.WithLogger(log))

	router := newRouter(cfg, log, httpMetrics, reg, handler.New(svc, log))
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout)

	// The audit worker outlives the server so events of draining requests are kept.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = trail.worker.Run(workerCtx)
	}()

	log.Info("starting jitaccess",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"notifications", cfg.Notifications.Channel,
		"approvers", len(approvers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, nil, cfg.Server.ShutdownTimeout, log)
	})
	g.Go(func() error {
		if err := rec.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	err = g.Wait()

	svc.Wait()
	stopWorker()
	<-workerDone
	if dropped := trail.queue.Dropped(); dropped > 0 {
		log.Warn("audit events dropped", "count", dropped)
	}
	return err
}

func newRouter(cfg *config.Config, log *slog.Logger, m *metrics.Metrics, reg *prometheus.Registry, h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(log, m))
	r.Use(middleware.Recovery(log, m))
	r.Use(requesttime.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(reg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		if cfg.Server.JWTSecret != "" {
			verifier := auth.NewTokenVerifier(cfg.Server.JWTSecret, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
			r.Use(auth.RequireBearer(verifier, log))
		} else {
			r.Use(auth.RequirePrincipalWith(auth.NewTokenMatcher(cfg.Server.APIToken, cfg.Server.APITokenHash), log))
		}
		h.Register(r)
	})
	return r
}
