package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"bolagsdata/internal/adapters/archive"
	httpadapter "bolagsdata/internal/adapters/http"
	pg "bolagsdata/internal/adapters/postgres"
	"bolagsdata/internal/adapters/rediscache"
	"bolagsdata/internal/adapters/requestlog"
	"bolagsdata/internal/adapters/sqlite"
	"bolagsdata/internal/config"
	"bolagsdata/internal/logging"
	ports "bolagsdata/internal/ports"
	"bolagsdata/internal/registry"
	"bolagsdata/internal/resilience"
	cachesvc "bolagsdata/internal/services/cache"
	compsvc "bolagsdata/internal/services/companies"
	finsvc "bolagsdata/internal/services/financials"
	prefetchsvc "bolagsdata/internal/services/prefetch"
	statussvc "bolagsdata/internal/services/status"
	prefetchworker "bolagsdata/internal/workers/prefetchrunner"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat, "bolagsdata")
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.Database.URL, pg.Options{MaxConns: int32(cfg.Database.MaxConns)})
	if err != nil {
		logger.Error("db connect error", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx, logger); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	// Cache store
	var store ports.CacheStore = db.CacheStore()
	if cfg.Cache.Backend == config.BackendRedis {
		rdb, err := rediscache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logger.Error("redis connect error", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = rediscache.New(rdb, "")
	}

	// Request log: always the relational table, plus the stream when configured.
	sinks := requestlog.Fanout{db.RequestLog()}
	if len(cfg.RequestLog.KafkaBrokers) > 0 {
		k, err := requestlog.NewKafkaSink(cfg.RequestLog.KafkaBrokers, cfg.RequestLog.KafkaTopic)
		if err != nil {
			logger.Error("kafka sink", "error", err)
			os.Exit(1)
		}
		defer k.Close()
		sinks = append(sinks, k)
	} else {
		sinks = append(sinks, requestlog.LogSink{Logger: logger})
	}

	var replica ports.ReplicaReader = db.Replica()
	if cfg.Replica.Backend == config.BackendSQLite {
		lite, err := sqlite.Open(ctx, cfg.Replica.SQLitePath)
		if err != nil {
			logger.Error("sqlite replica", "error", err)
			os.Exit(1)
		}
		defer lite.Close()
		replica = lite
	}

	archiveStore, err := archive.NewFS(cfg.Archive.Dir)
	if err != nil {
		logger.Error("archive", "error", err)
		os.Exit(1)
	}

	// Resilience: the authorization endpoint and the data API each get their
	// own limiter and breaker.
	clock := clockwork.NewRealClock()
	rate := resilience.LimiterSettings{
		PerMinute:   cfg.RateLimit.PerMinute,
		BurstMax:    cfg.RateLimit.BurstMax,
		BurstWindow: cfg.RateLimit.BurstWindow,
		JitterMax:   cfg.RateLimit.JitterMax,
	}
	trip := resilience.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	}
	authRate, apiRate := rate, rate
	authRate.Name, apiRate.Name = "registry-auth", "registry"
	authTrip, apiTrip := trip, trip
	authTrip.Name, apiTrip.Name = "registry-auth", "registry"

	authLimiter := resilience.NewLimiter(authRate, clock)
	apiLimiter := resilience.NewLimiter(apiRate, clock)
	authBreaker := resilience.NewBreaker(authTrip, clock, logger)
	apiBreaker := resilience.NewBreaker(apiTrip, clock, logger)

	httpClient := &http.Client{}
	tokens := registry.NewTokenManager(registry.TokenSettings{
		TokenURL:     cfg.Registry.TokenURL,
		ClientID:     cfg.Registry.ClientID,
		ClientSecret: cfg.Registry.ClientSecret,
		Scopes:       cfg.Registry.Scopes,
		Margin:       cfg.Registry.TokenMargin,
		Timeout:      cfg.Registry.Timeout,
	}, httpClient, clock, authLimiter, authBreaker, logger)
	client := registry.NewClient(registry.ClientSettings{
		BaseURL:     cfg.Registry.BaseURL,
		Timeout:     cfg.Registry.Timeout,
		MaxRetries:  uint64(max(cfg.Registry.MaxRetries, 0)),
		BackoffBase: cfg.Registry.BackoffBase,
	}, httpClient, tokens, apiLimiter, apiBreaker, logger)

	// Services
	cache := cachesvc.New(store, sinks, clock, logger)
	companies := compsvc.New(cache, client, replica, compsvc.TTLs{
		Identity:  cfg.Cache.IdentityTTL,
		Documents: cfg.Cache.DocumentsTTL,
	}, logger)
	financials := finsvc.New(cache, companies, client, archiveStore, cfg.Cache.FinancialsTTL, logger)
	jobs := db.Jobs()
	prefetch := prefetchsvc.New(jobs)
	status := statussvc.New(
		[]*resilience.Breaker{apiBreaker, authBreaker},
		[]*resilience.Limiter{apiLimiter, authLimiter},
		tokens,
	)

	srv := httpadapter.New(httpadapter.Deps{
		Companies:  companies,
		Financials: financials,
		Prefetch:   prefetch,
		Status:     status,
		Health:     db,
		Logger:     logger,
	})
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	// Optional background prefetch workers
	workersDone := make(chan struct{})
	if cfg.Prefetch.Workers > 0 {
		go func() {
			defer close(workersDone)
			prefetchworker.Run(ctx, jobs, prefetchworker.FinancialsProcessor{Financials: financials},
				cfg.Prefetch.Workers, cfg.Prefetch.PollInterval, logger)
		}()
		logger.Info("prefetch workers started", "workers", cfg.Prefetch.Workers)
	} else {
		close(workersDone)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	logger.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env,
		"cache_backend", cfg.Cache.Backend, "replica_backend", cfg.Replica.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	cancel()
	<-workersDone
	cache.Drain()
	logger.Info("stopped")
}
