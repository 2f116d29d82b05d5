// Package main wires together the scraper service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/performa-app/performa-crawler/internal/api"
	"github.com/performa-app/performa-crawler/internal/clock/system"
	"github.com/performa-app/performa-crawler/internal/config"
	"github.com/performa-app/performa-crawler/internal/fetch"
	"github.com/performa-app/performa-crawler/internal/httpcache"
	"github.com/performa-app/performa-crawler/internal/logging"
	"github.com/performa-app/performa-crawler/internal/metrics"
	"github.com/performa-app/performa-crawler/internal/ratelimit"
	"github.com/performa-app/performa-crawler/internal/robots"
	"github.com/performa-app/performa-crawler/internal/run"
	"github.com/performa-app/performa-crawler/internal/scrape"
	"github.com/performa-app/performa-crawler/internal/storage/memory"
	"github.com/performa-app/performa-crawler/internal/storage/postgres"
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
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	var store scrape.CatalogStore
	if cfg.DB.Enabled {
		pgStore, err := postgres.NewCatalog(ctx, postgres.CatalogConfig{
			DSN:         cfg.DB.DSN,
			TablePrefix: cfg.DB.TablePrefix,
			MaxConns:    cfg.DB.MaxConns,
		})
		if err != nil {
			logger.Fatal("postgres catalog init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		store = memory.NewCatalog()
	}

	robotsAgent := robots.NewAgent(robots.Config{
		UserAgent: cfg.Crawler.UserAgent,
		TTL:       cfg.Robots.TTL,
		Respect:   cfg.Robots.Respect,
	}, nil, clock, logger.Named("robots"))

	limiter := ratelimit.New(ratelimit.Config{
		MinDelay: cfg.Crawler.MinDelay,
	}, logger.Named("ratelimit"))

	cache := httpcache.New(httpcache.Config{
		MaxEntries:      cfg.Cache.MaxEntries,
		MaxAge:          cfg.Cache.MaxAge,
		FreshnessWindow: cfg.Cache.FreshnessWindow,
	}, clock)

	fetcher := fetch.New(fetch.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout,
	}, nil, robotsAgent, limiter, cache, clock,
		fetch.NewRetryPolicy(cfg.Crawler.MaxRetries, 250*time.Millisecond, 5*time.Second),
		logger.Named("fetch"),
	)

	tracker := run.NewTracker(clock)
	orchestrator := run.NewOrchestrator(fetcher, store, tracker, run.Source{
		BaseURL:    cfg.Source.BaseURL,
		LeaguePath: cfg.Source.LeaguePath,
		League:     cfg.Source.League,
	}, run.Config{
		Workers:   cfg.Crawler.Concurrency,
		Supersede: cfg.Crawler.Supersede,
	}, logger.Named("run"))

	apiServer := api.NewServer(ctx, orchestrator, tracker, store, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
