package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/cache/rediscache"
	"github.com/BearBump/TrackSync/internal/extractor"
	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/breaker"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/sswhttp"
	"github.com/BearBump/TrackSync/internal/integrations/ownerapi"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/normalizer"
	"github.com/BearBump/TrackSync/internal/occurrence"
	"github.com/BearBump/TrackSync/internal/services/scheduler"
	"github.com/BearBump/TrackSync/internal/services/syncer"
	"github.com/pkg/errors"
)

const (
	defaultShipmentSyncedTopic = "tracking.shipment.synced"
	defaultSyncCompletedTopic  = "tracking.sync.completed"
	defaultReportTTL           = 7 * 24 * time.Hour
)

type reportStore interface {
	syncer.ReportStore
	reportReader
	Ping(ctx context.Context) error
}

type closableProducer interface {
	syncer.Producer
	Close() error
}

type triggerConsumer interface {
	Listen(ctx context.Context, handle func(messages.SyncRequested) error) error
	Close() error
}

type syncFactories struct {
	newOwnerAPI        func(cfg *config.Config) syncer.OwnerAPI
	newCarrierClient   func(cfg *config.Config) carrier.Client
	newRedis           func(cfg *config.Config) (rl syncer.RateLimiter, store reportStore, closeFn func())
	newProducer        func(cfg *config.Config) closableProducer
	newTriggerConsumer func(cfg *config.Config) triggerConsumer
}

func defaultSyncFactories() syncFactories {
	return syncFactories{
		newOwnerAPI: func(cfg *config.Config) syncer.OwnerAPI {
			return ownerapi.New(cfg.API.BaseURL, cfg.API.APIKey, config.Seconds(cfg.API.TimeoutSeconds)).
				WithPendingLimit(cfg.API.PendingLimit)
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			var c carrier.Client
			// fake нужен для локального запуска без доступа к сайту перевозчика
			if cfg.Carrier.Mode == "fake" {
				c = fake.New()
			} else {
				c = sswhttp.New(cfg.Carrier.BaseURL, config.Seconds(cfg.Carrier.TimeoutSeconds)).
					WithUserAgent(cfg.Carrier.UserAgent)
			}
			if !cfg.Carrier.Breaker.Enabled {
				return c
			}
			bc := breaker.DefaultConfig()
			if n := cfg.Carrier.Breaker.FailureThreshold; n > 0 {
				bc.FailureThreshold = uint32(n)
			}
			if d := config.Seconds(cfg.Carrier.Breaker.OpenTimeoutSeconds); d > 0 {
				bc.OpenTimeout = d
			}
			return breaker.Wrap(c, bc)
		},
		newRedis: func(cfg *config.Config) (syncer.RateLimiter, reportStore, func()) {
			rdb := rediscache.NewClient(cfg.Redis.Addr())
			ttl := config.Seconds(cfg.Redis.ReportTTLSeconds)
			if ttl <= 0 {
				ttl = defaultReportTTL
			}
			return rediscache.NewRateLimiter(rdb), rediscache.NewReportStore(rdb, ttl), func() { _ = rdb.Close() }
		},
		newProducer: func(cfg *config.Config) closableProducer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newTriggerConsumer: func(cfg *config.Config) triggerConsumer {
			if cfg.Kafka.SyncRequestedTopicName == "" {
				return nil
			}
			return kafka.NewTriggerConsumer(cfg.Kafka.Brokers(), cfg.Kafka.SyncRequestedTopicName, cfg.Kafka.ConsumerGroup)
		},
	}
}

type syncApp struct {
	syncer    *syncer.Syncer
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	store     reportStore
	consumer  triggerConsumer
	closers   []func()
}

func (a *syncApp) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildSyncApp(cfg *config.Config, f syncFactories) (*syncApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog := occurrence.Default()
	if p := cfg.Carrier.OccurrenceCatalogPath; p != "" {
		var err error
		if catalog, err = occurrence.Load(p); err != nil {
			return nil, errors.Wrap(err, "load occurrence catalog")
		}
	}

	app := &syncApp{metrics: metrics.New()}
	app.syncer = syncer.New(f.newOwnerAPI(cfg), f.newCarrierClient(cfg),
		extractor.New(catalog, cfg.Carrier.Location()), normalizer.New(catalog)).
		WithSettings(cfg.Sync.Workers, config.Seconds(cfg.Sync.RunBudgetSeconds)).
		WithRetryPolicy(retryPolicy(cfg.Sync)).
		WithMetrics(app.metrics)

	if cfg.Redis.Enabled() {
		rl, store, closeFn := f.newRedis(cfg)
		app.closers = append(app.closers, closeFn)
		app.store = store
		app.syncer.WithReportStore(store)
		if cfg.Redis.RateLimitPerMinute > 0 {
			app.syncer.WithRateLimiter(rl, int64(cfg.Redis.RateLimitPerMinute))
		}
	}

	if cfg.Kafka.Enabled() {
		producer := f.newProducer(cfg)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		app.syncer.WithProducer(producer, syncer.Topics{
			ShipmentSynced: orDefault(cfg.Kafka.ShipmentSyncedTopicName, defaultShipmentSyncedTopic),
			RunCompleted:   orDefault(cfg.Kafka.SyncCompletedTopicName, defaultSyncCompletedTopic),
		})
		if c := f.newTriggerConsumer(cfg); c != nil {
			app.consumer = c
			app.closers = append(app.closers, func() { _ = c.Close() })
		}
	}

	sched, err := scheduler.New(app.syncer, cfg.Sync.Schedule)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.scheduler = sched.WithRunOnStart(cfg.Sync.RunOnStart)
	return app, nil
}

// RunTrackSync работает до отмены ctx: cron-расписание, ops HTTP и, если
// настроен Kafka, слушатель внеплановых запусков.
func RunTrackSync(ctx context.Context, cfg *config.Config, f syncFactories, httpOpts syncHTTPOpts) error {
	app, err := buildSyncApp(cfg, f)
	if err != nil {
		return err
	}
	defer app.Close()

	httpOpts.syncer = app.syncer
	httpOpts.scheduler = app.scheduler
	httpOpts.metrics = app.metrics.Handler()
	httpOpts.cfg = cfg
	if app.store != nil {
		httpOpts.reports = app.store
		httpOpts.ready = app.store.Ping
	}

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- app.scheduler.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runSyncHTTPServer(ctx, httpOpts)
	}()

	if app.consumer != nil {
		go func() {
			slog.Info("sync trigger consumer started", "topic", cfg.Kafka.SyncRequestedTopicName)
			err := app.consumer.Listen(ctx, func(req messages.SyncRequested) error {
				slog.Info("sync requested", "by", req.RequestedBy)
				app.scheduler.Trigger()
				return nil
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("sync trigger consumer stopped", "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		<-schedErr
		return ctx.Err()
	case err := <-schedErr:
		return err
	case err := <-httpErr:
		if ctx.Err() != nil {
			<-schedErr
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("ops HTTP server stopped")
		}
		return err
	}
}

// RunOnce делает один прогон и выходит: режим внешнего cron (CronJob).
func RunOnce(ctx context.Context, cfg *config.Config, f syncFactories) (*models.RunReport, error) {
	app, err := buildSyncApp(cfg, f)
	if err != nil {
		return nil, err
	}
	defer app.Close()

	return app.syncer.RunOnce(ctx)
}

func retryPolicy(sc config.SyncConfig) syncer.RetryPolicy {
	p := syncer.DefaultRetryPolicy()
	if sc.CarrierRetries != nil && *sc.CarrierRetries >= 0 {
		p.CarrierRetries = uint64(*sc.CarrierRetries)
	}
	if sc.APIRetries != nil && *sc.APIRetries >= 0 {
		p.APIRetries = uint64(*sc.APIRetries)
	}
	if sc.RetryInitialMillis > 0 {
		p.InitialInterval = time.Duration(sc.RetryInitialMillis) * time.Millisecond
	}
	if sc.RetryMaxIntervalSec > 0 {
		p.MaxInterval = config.Seconds(sc.RetryMaxIntervalSec)
	}
	return p
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
