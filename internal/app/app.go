package app

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/promotion"
	"github.com/xenking/preorder/internal/domain/retention"
	"github.com/xenking/preorder/internal/handler"
	"github.com/xenking/preorder/internal/mirror"
	"github.com/xenking/preorder/internal/storage/memory"
	"github.com/xenking/preorder/internal/storage/postgres"
	"github.com/xenking/preorder/pkg/health"
	"github.com/xenking/preorder/pkg/httpmiddleware"
)

const serviceName = "preorder-api"

// stores groups the storage backends selected by Storage.Driver.
type stores struct {
	orders     order.Store
	promotions promotion.Repository
	apikeys    auth.Repository
	// pinger is nil for the memory driver.
	pinger health.Pinger
	close  func()
}

// Run creates all dependencies, starts the HTTP server, the mirror worker and
// the retention scheduler, and handles graceful shutdown. It is the single
// wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("mirror", cfg.Mirror.Sink),
	)

	st, err := openStores(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	meter := m.MeterProvider().Meter(serviceName)
	tracer := m.TracerProvider().Tracer(serviceName)

	// Outbound mirror. The queue outlives request handling so events published
	// by in-flight requests during shutdown are still delivered.
	sink, closeSink, err := openSink(ctx, lg, cfg.Mirror)
	if err != nil {
		return err
	}
	defer closeSink()

	var (
		events order.EventPublisher
		queue  *mirror.Queue
	)
	if sink != nil {
		queue, err = mirror.NewQueue(sink, mirror.Config{
			QueueSize:  cfg.Mirror.QueueSize,
			MaxRetries: cfg.Mirror.MaxRetries,
			Timeout:    cfg.Mirror.Timeout,
		}, lg.Named("mirror"), meter)
		if err != nil {
			return errors.Wrap(err, "create mirror queue")
		}
		events = queue
	}

	// Domain services.
	orderService, err := order.NewService(order.ServiceDeps{
		Orders:     st.orders,
		Promotions: st.promotions,
		Events:     events,
		Meter:      meter,
		Tracer:     tracer,
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	promotionService := promotion.NewService(st.promotions)

	policy, err := retention.New(orderService, cfg.Retention.Policy(), meter)
	if err != nil {
		return errors.Wrap(err, "create retention policy")
	}
	var scheduler *retention.Scheduler
	if cfg.Retention.Enabled {
		scheduler = retention.NewScheduler(policy, cfg.Retention.Interval, cfg.Retention.Timeout)
	}

	// Health check service.
	healthSvc := health.New()
	if st.pinger != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(st.pinger))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	if scheduler != nil {
		// Two missed intervals before the process is considered stuck.
		maxAge := 2*cfg.Retention.Interval + cfg.Retention.Timeout
		healthSvc.AddLivenessCheck("retention", time.Second, scheduler.StalenessCheck(maxAge))
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(handler.Deps{
		Orders:     orderService,
		Promotions: promotionService,
		Sweeper:    policy,
		APIKeys:    st.apikeys,
		Pepper:     []byte(cfg.APIKeyPepper),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Location"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isProbe,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Workers run on a context detached from the signal so the mirror can
	// drain after the server has stopped accepting requests.
	workCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)
	if queue != nil {
		g.Go(func() error {
			return queue.Run(workCtx)
		})
	}
	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		stopWorkers()
		return nil
	})

	return g.Wait()
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// openStores connects the configured storage driver.
func openStores(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	switch cfg.Storage.Driver {
	case DriverMemory:
		lg.Warn("Using in-memory storage, orders are lost on restart")
		var keys []auth.APIKeyInfo
		if cfg.Storage.OperatorAPIKey != "" {
			keys = append(keys, auth.APIKeyInfo{
				ID:      "config",
				KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.Storage.OperatorAPIKey),
				Name:    "operator",
			})
		}
		return &stores{
			orders:     memory.NewOrderStore(),
			promotions: memory.NewPromotionStore(promotion.Default()),
			apikeys:    memory.NewAPIKeyStore(keys...),
			close:      func() {},
		}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &stores{
			orders:     postgres.NewOrderRepository(pool),
			promotions: postgres.NewPromotionRepository(pool),
			apikeys:    postgres.NewAPIKeyRepository(pool),
			pinger:     pool,
			close:      pool.Close,
		}, nil
	}
}

// openSink builds the mirror sink. A nil sink disables mirroring.
func openSink(ctx context.Context, lg *zap.Logger, cfg MirrorConfig) (mirror.Sink, func(), error) {
	noop := func() {}
	switch cfg.Sink {
	case SinkLog:
		return mirror.NewLogSink(lg.Named("mirror")), noop, nil
	case SinkWebhook:
		sink, err := mirror.NewWebhookSink(cfg.WebhookURL, nil)
		if err != nil {
			return nil, noop, errors.Wrap(err, "create webhook sink")
		}
		return sink, noop, nil
	case SinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, noop, errors.Wrap(err, "create pubsub client")
		}
		topic := client.Topic(cfg.PubSubTopic)
		sink, err := mirror.NewPubSubSink(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, errors.Wrap(err, "create pubsub sink")
		}
		return sink, func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				lg.Warn("Close pubsub client", zap.Error(err))
			}
		}, nil
	default:
		return nil, noop, nil
	}
}
