// Package main wires together the harvest/enrich/deliver pipeline binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/admin"
	"github.com/orbitfeed/orbitfeed/internal/clock/system"
	"github.com/orbitfeed/orbitfeed/internal/config"
	"github.com/orbitfeed/orbitfeed/internal/deliver"
	"github.com/orbitfeed/orbitfeed/internal/enrich"
	"github.com/orbitfeed/orbitfeed/internal/enrich/mlserver"
	collyfetcher "github.com/orbitfeed/orbitfeed/internal/fetcher/colly"
	"github.com/orbitfeed/orbitfeed/internal/logging"
	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/reconcile"
	"github.com/orbitfeed/orbitfeed/internal/scheduler"
	"github.com/orbitfeed/orbitfeed/internal/scrape"
	"github.com/orbitfeed/orbitfeed/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		Timeout:        cfg.FetchTimeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		PerHostRPS:     cfg.HTTP.PerHostRPS,
	}, logger.Named("fetcher"))

	// One shared model-server client; the HTTP client pools connections.
	mlClient := mlserver.NewClient(
		cfg.Enrichment.Endpoint,
		cfg.Enrichment.APIKey,
		time.Duration(cfg.Enrichment.TimeoutSeconds)*time.Second,
	)
	engine := enrich.NewEngine(enrich.EngineConfig{
		ChunkWords: cfg.Enrichment.ChunkWords,
		MinWords:   cfg.Enrichment.MinWords,
		SummaryMin: cfg.Enrichment.SummaryMin,
		SummaryMax: cfg.Enrichment.SummaryMax,
		SourceLang: cfg.Enrichment.SourceLang,
		TargetLang: cfg.Enrichment.TargetLang,
	}, mlClient, mlClient, logger.Named("enrich"))

	sources := scrape.FromConfig(cfg.Sources)
	firstBlockOnly := make(map[string]bool, len(sources))
	for _, src := range sources {
		firstBlockOnly[src.Name] = src.FirstBlockOnly
	}

	crawl := scheduler.New(scheduler.Config{
		FastPages:        cfg.Crawl.FastPages,
		FastInterval:     cfg.Crawl.FastInterval,
		BackfillInterval: cfg.Crawl.BackfillInterval,
	}, fetcher, store, sources,
		collyfetcher.NewPacer(
			time.Duration(cfg.Crawl.InsertPaceMinMs)*time.Millisecond,
			time.Duration(cfg.Crawl.InsertPaceMaxMs)*time.Millisecond),
		collyfetcher.NewPacer(
			time.Duration(cfg.Crawl.BackfillPaceMinMs)*time.Millisecond,
			time.Duration(cfg.Crawl.BackfillPaceMaxMs)*time.Millisecond),
		logger.Named("scheduler"))

	enricher := enrich.NewWorker(enrich.WorkerConfig{
		Interval:       cfg.Enrichment.Interval,
		FirstBlockOnly: firstBlockOnly,
	}, store, engine, enrich.NewTagger(cfg.Enrichment.Keywords), logger.Named("enrich"))

	deliveryCfg := deliver.Config{
		ChatID:           cfg.Delivery.ChatID,
		ArticleInterval:  cfg.Delivery.ArticleInterval,
		LiveFeedInterval: cfg.Delivery.LiveFeedInterval,
		GracePeriod:      cfg.Delivery.GracePeriod,
		SuppressedTags:   cfg.Delivery.SuppressedTags,
	}
	messenger := deliver.NewHTTPMessenger(cfg.Delivery.Endpoint, cfg.FetchTimeout(), logger.Named("messenger"))
	renderer := deliver.NewRenderer(engine.Translate)
	articleDelivery := deliver.NewArticleWorker(deliveryCfg, store, messenger, renderer, clock, logger.Named("deliver"))
	liveDelivery := deliver.NewLiveFeedWorker(deliveryCfg, store, messenger, renderer, clock, logger.Named("deliver"))

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("loop started", zap.String("loop", name))
			fn(ctx)
		}()
	}

	run("crawl-fast", crawl.RunFast)
	run("crawl-backfill", crawl.RunBackfill)
	run("enrich", enricher.Run)
	run("deliver-articles", articleDelivery.Run)
	run("deliver-live-feed", liveDelivery.Run)

	if cfg.LiveFeed.URL != "" {
		walker := scheduler.NewLiveFeedWalker(scheduler.LiveFeedConfig{
			URL:        cfg.LiveFeed.URL,
			Interval:   cfg.LiveFeed.Interval,
			WindowDays: cfg.LiveFeed.WindowDays,
		}, fetcher, store, engine.Translate, clock, logger.Named("livefeed"))
		run("live-feed-walk", walker.Run)
	}

	reconciler := reconcile.NewJob(store, logger.Named("reconcile"))
	cronRunner, err := reconciler.Schedule(ctx, cfg.Reconcile.Schedule)
	if err != nil {
		logger.Fatal("reconcile schedule invalid", zap.Error(err))
	}

	var srv *http.Server
	if cfg.Admin.Enabled {
		adminServer := admin.NewServer(admin.Config{APIKey: cfg.Admin.APIKey}, store, logger.Named("admin"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:           adminServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin server started", zap.Int("port", cfg.Admin.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	cronCtx := cronRunner.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", zap.Error(err))
		}
	}
	wg.Wait()
	<-cronCtx.Done()
	logger.Info("shutdown complete")
}
