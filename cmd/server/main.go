package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"concytec/internal/authz"
	"concytec/internal/concytec/lock"
	concytec "concytec/internal/concytec/service"
	"concytec/internal/graph/index"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/graph/store"
	"concytec/internal/platform/config"
	"concytec/internal/platform/httpserver"
	"concytec/internal/platform/logger"
	"concytec/internal/platform/metrics"
	redisclient "concytec/internal/platform/redis"
	profile "concytec/internal/profile/service"
	"concytec/internal/source"
	audit "concytec/pkg/platform/audit"
	auditpublisher "concytec/pkg/platform/audit/publisher"
	"concytec/pkg/platform/audit/publishers/kafka"
	auditmemory "concytec/pkg/platform/audit/store/memory"
	auditpostgres "concytec/pkg/platform/audit/store/postgres"
	"concytec/pkg/platform/audit/worker"
)

// main wires the graph, the workflow engines and their infrastructure, then
// serves the operations endpoints until interrupted. The engines are driven
// in-process by the repository; this binary owns their lifecycle.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	srv := httpserver.New(cfg.Addr, httpserver.NewOpsRouter(app.gatherer, app.checks...))
	go func() {
		log.Info("starting concytec workflow service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()
	for _, run := range app.background {
		go func() {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("background worker stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

type app struct {
	workflow   *concytec.Service
	profiles   *profile.Service
	gatherer   prometheus.Gatherer
	checks     []httpserver.Check
	background []func(ctx context.Context) error
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.gatherer = reg
	m := metrics.New(reg)

	routing, err := loadRouting(cfg)
	if err != nil {
		return nil, err
	}
	vocabulary := registry.DefaultVocabulary()
	if cfg.VocabularyFile != "" {
		if vocabulary, err = registry.LoadVocabulary(cfg.VocabularyFile); err != nil {
			return nil, err
		}
	}

	var (
		graphStore graphsvc.Store
		txRunner   graphsvc.TxRunner
		auditStore audit.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err := openPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: db.PingContext})

		tx := store.NewPostgresTx(db, cfg.Postgres.TxTimeout)
		outbox := auditpostgres.New(db)
		graphStore, txRunner, auditStore = store.NewPostgres(db), tx, outbox

		if len(cfg.Kafka.Brokers) > 0 {
			sink, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, sink.Close)
			if err := sink.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replicas); err != nil {
				return nil, err
			}
			a.checks = append(a.checks, httpserver.Check{Name: "kafka", Fn: sink.Ping})
			relay := worker.NewWorker(outbox, sink, tx,
				worker.WithLogger(log),
				worker.WithInterval(cfg.Kafka.RelayInterval),
				worker.WithBatchSize(cfg.Kafka.RelayBatch),
			)
			a.background = append(a.background, relay.Run)
		}
	} else {
		log.Warn("no database configured, keeping the graph in memory")
		graphStore = store.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	var (
		indexer index.Indexer = index.NewInMemory()
		locker  lock.Locker   = lock.NewSharded(lock.WithWaitTimeout(cfg.Locks.WaitTimeout), lock.WithShardedMetrics(m))
	)
	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: rc.Health})
		indexer = index.NewRedis(rc.Client, index.WithPrefix(cfg.Index.Prefix))
		locker = lock.NewRedis(rc.Client,
			lock.WithLease(cfg.Locks.TTL, cfg.Locks.WaitTimeout, cfg.Locks.RetryBackoff),
			lock.WithRedisLogger(log),
			lock.WithRedisMetrics(m),
		)
	}

	sync := index.NewSynchronizer(graphStore, indexer,
		index.WithLogger(log),
		index.WithMetrics(m),
		index.WithConcurrency(cfg.Index.Concurrency),
	)
	graph, err := graphsvc.New(graphStore,
		graphsvc.WithTx(txRunner),
		graphsvc.WithIndexSync(sync),
		graphsvc.WithLogger(log),
		graphsvc.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	if err := registry.Seed(ctx, graph, vocabulary); err != nil {
		return nil, fmt.Errorf("seed relationship vocabulary: %w", err)
	}
	types, err := registry.Resolve(ctx, graph)
	if err != nil {
		return nil, fmt.Errorf("resolve relationship vocabulary: %w", err)
	}

	publisher := auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithLogger(log),
		auditpublisher.WithSampler(auditpublisher.NewSampler(cfg.Audit.OperationsSampleRate)),
	)
	a.closers = append(a.closers, publisher.Close)

	a.workflow, err = concytec.New(graph, types, routing,
		concytec.WithLogger(log),
		concytec.WithAuditPublisher(publisher),
		concytec.WithMetrics(m),
		concytec.WithLocker(locker),
	)
	if err != nil {
		return nil, err
	}

	// The CV entity cleanup needs the service it is registered on.
	cleanup := &profile.DeleteCvEntitiesAction{}
	profileOpts := []profile.Option{
		profile.WithLogger(log),
		profile.WithAuditPublisher(publisher),
		profile.WithMetrics(m),
		profile.WithLocker(locker),
		profile.WithSourceImporter(newSources(cfg, log, m)),
		profile.WithAfterDeleteActions(cleanup),
	}
	if routing.ItemURIBase != "" {
		resolver, err := source.NewURIResolver(routing.ItemURIBase)
		if err != nil {
			return nil, err
		}
		profileOpts = append(profileOpts, profile.WithItemResolver(resolver))
	}
	a.profiles, err = profile.New(graph, a.workflow, types, routing, authz.New(authz.WithLogger(log)), profileOpts...)
	if err != nil {
		return nil, err
	}
	cleanup.Service = a.profiles

	log.Info("workflow engines ready",
		"shadow_routes", len(routing.ShadowRoutes),
		"hard_delete_profiles", routing.HardDeleteProfiles,
	)
	return a, nil
}

func loadRouting(cfg config.Server) (config.RoutingConfig, error) {
	if cfg.RoutingFile == "" {
		return config.RoutingConfig{}, errors.New("CONCYTEC_ROUTING_FILE is required")
	}
	return config.LoadRouting(cfg.RoutingFile)
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newSources(cfg config.Server, log *slog.Logger, m *metrics.Metrics) *source.Registry {
	sources := source.NewRegistry(log)
	for _, s := range cfg.Sources {
		p := source.NewHTTPProvider(s.ID, s.Host,
			source.WithHTTPClient(&http.Client{Timeout: s.Timeout}),
			source.WithAPIKey(s.APIKey),
			source.WithMetrics(m),
		)
		if err := sources.Register(p); err != nil {
			log.Warn("skipping source provider", "provider", s.ID, "error", err)
		}
	}
	return sources
}
