// Package main runs the JPYC on-chain data service:
// - serves the cached snapshot immediately and revalidates it in the background
// - refreshes on a schedule
// - exposes REST, websocket, health and metrics endpoints
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jpyc-onchain-lab/internal/api"
	"jpyc-onchain-lab/internal/app"
	"jpyc-onchain-lab/internal/config"
	"jpyc-onchain-lab/internal/errclass"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/onchain"
	"jpyc-onchain-lab/internal/ratelimit"
)

func main() {
	config.LoadEnvFile(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP listen address")
	refreshInterval := flag.Duration("refresh-interval", cfg.CacheTTL, "Scheduled refresh interval (0 disables)")
	refreshLimit := flag.Int("refresh-limit", 6, "Manual refreshes allowed per minute")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)
	if len(cfg.InvalidBlacklist) > 0 {
		logger.Printf("Ignoring invalid blacklist entries: %v", cfg.InvalidBlacklist)
	}
	logger.Printf("Blacklist: %d addresses", cfg.Blacklist.Len())

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	recorder := observability.NewRecorder(observability.DefaultRecorderCapacity)
	upstreams := app.NewUpstreams(cfg, recorder, log.New(os.Stdout, "[upstream] ", log.LstdFlags|log.Lshortfile))
	snapshotCache := app.NewCache(stores, cfg, log.New(os.Stdout, "[cache] ", log.LstdFlags|log.Lshortfile))

	serviceLogger := log.New(os.Stdout, "[onchain] ", log.LstdFlags|log.Lshortfile)
	service := onchain.NewService(onchain.Options{
		Fetcher:    upstreams.Engine,
		Cache:      snapshotCache,
		CacheTTL:   cfg.CacheTTL,
		History:    stores.History,
		Classifier: errclass.New(errclass.WithLogger(serviceLogger)),
		Logger:     serviceLogger,
	})

	server := api.New(api.Options{
		Snapshots:      service,
		Prices:         upstreams.Prices,
		History:        stores.History,
		RefreshLimiter: ratelimit.New(ratelimit.Config{MaxRequests: *refreshLimit, Window: time.Minute}),
		Upstream:       upstreams.Limiter,
		Recorder:       recorder,
		DurableEnabled: snapshotCache.DurableEnabled,
		Logger:         log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
	})

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	// A failed first fetch leaves the service in its error state; the API
	// still starts so clients can see it and trigger a refresh.
	go func() {
		if err := service.Start(ctx); err != nil {
			logger.Printf("Initial fetch failed: %v", err)
		}
		runScheduler(ctx, service, *refreshInterval, logger)
	}()

	err = server.Run(ctx, *httpAddr)
	service.Close()
	service.Wait()
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// runScheduler refreshes the snapshot every interval until ctx is done.
func runScheduler(ctx context.Context, service *onchain.Service, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		return
	}
	logger.Printf("Starting refresh scheduler (interval: %v)...", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if _, err := service.Refresh(ctx); err != nil {
				logger.Printf("Scheduled refresh failed: %v", err)
				continue
			}
			logger.Printf("Scheduled refresh completed in %v", time.Since(start))
		}
	}
}
