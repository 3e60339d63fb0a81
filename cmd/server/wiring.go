package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"jitaccess/internal/access/adapters/enforcer"
	"jitaccess/internal/access/adapters/logchannel"
	slackchannel "jitaccess/internal/access/adapters/slack"
	"jitaccess/internal/access/adapters/telegram"
	"jitaccess/internal/access/ports"
	"jitaccess/internal/access/service"
	accessstore "jitaccess/internal/access/store"
	"jitaccess/internal/platform/config"
	"jitaccess/internal/platform/postgres"
	"jitaccess/internal/platform/redis"
	"jitaccess/pkg/platform/audit"
	"jitaccess/pkg/platform/audit/publishers/kafka"
	auditmemory "jitaccess/pkg/platform/audit/store/memory"
	"jitaccess/pkg/platform/audit/worker"
)

const logChannelHistory = 100

func buildStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (service.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Store)
		if err != nil {
			return nil, nil, err
		}
		store := accessstore.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate access request schema: %w", err)
		}
		log.Info("using postgres request store", "driver", cfg.Store.Driver)
		return store, func() { _ = db.Close() }, nil
	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using redis request store")
		return accessstore.NewRedis(client.Client), func() { _ = client.Close() }, nil
	default:
		log.Warn("using in-memory request store, requests are lost on restart")
		return accessstore.NewInMemory(), func() {}, nil
	}
}

// buildNotifier returns nil for the "none" channel.
func buildNotifier(cfg config.NotificationsConfig, log *slog.Logger) (ports.NotificationChannel, error) {
	switch cfg.Channel {
	case config.ChannelSlack:
		var opts []slack.Option
		if cfg.SlackAPIURL != "" {
			opts = append(opts, slack.OptionAPIURL(cfg.SlackAPIURL))
		}
		return slackchannel.New(cfg.SlackToken, opts...)
	case config.ChannelTelegram:
		directory, err := telegram.ParseDirectory(cfg.TelegramDirectory)
		if err != nil {
			return nil, err
		}
		return telegram.New(cfg.TelegramToken, cfg.TelegramEndpoint, directory, nil)
	case config.ChannelLog:
		return logchannel.New(log, logChannelHistory), nil
	default:
		return nil, nil
	}
}

func buildEnforcer(cfg config.EnforcerConfig) (*enforcer.HTTPClient, error) {
	return enforcer.New(cfg.URL,
		enforcer.WithPath(cfg.Path),
		enforcer.WithTimeout(cfg.Timeout),
		enforcer.WithAuthToken(cfg.Token),
	)
}

// auditTrail is the async audit pipeline: services emit into queue, worker
// persists into the configured sink.
type auditTrail struct {
	queue  *worker.Queue
	worker *worker.Worker
	close  func()
}

// memorySink never grows without bound; a non-positive limit falls back to
// the default.
func memorySink(cfg config.AuditConfig) *auditmemory.InMemoryStore {
	limit := cfg.MemoryLimit
	if limit <= 0 {
		limit = defaultAuditMemoryLimit
	}
	return auditmemory.NewInMemoryStore(auditmemory.WithLimit(limit))
}

const defaultAuditMemoryLimit = 10000

func buildAuditTrail(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*auditTrail, error) {
	var sink audit.Store
	closeSink := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafka.New(cfg.KafkaBrokers, kafka.WithTopic(cfg.Topic), kafka.WithLogger(log))
		if err != nil {
			return nil, err
		}
		if err := pub.EnsureTopic(ctx, cfg.Partitions, cfg.ReplicationFactor); err != nil {
			pub.Close()
			return nil, err
		}
		log.Info("publishing audit events to kafka", "topic", cfg.Topic)
		sink = pub
		closeSink = pub.Close
	} else {
		log.Info("keeping audit events in memory", "memory_limit", cfg.MemoryLimit)
		sink = memorySink(cfg)
	}
	queue := worker.NewQueue(cfg.QueueSize, log)
	return &auditTrail{
		queue:  queue,
		worker: worker.NewWorker(sink, queue.Inbox(), log),
		close:  closeSink,
	}, nil
}
