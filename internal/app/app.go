// Package app assembles configured components for the binaries.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"jpyc-onchain-lab/internal/aggregation"
	"jpyc-onchain-lab/internal/cache"
	"jpyc-onchain-lab/internal/chain"
	"jpyc-onchain-lab/internal/coingecko"
	"jpyc-onchain-lab/internal/config"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/explorer"
	"jpyc-onchain-lab/internal/moralis"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/ratelimit"
	"jpyc-onchain-lab/internal/retry"
	"jpyc-onchain-lab/internal/serializer"
	"jpyc-onchain-lab/internal/storage"
	chstore "jpyc-onchain-lab/internal/storage/clickhouse"
	"jpyc-onchain-lab/internal/storage/memory"
	pgstore "jpyc-onchain-lab/internal/storage/postgres"
	redisstore "jpyc-onchain-lab/internal/storage/redis"
)

// Stores holds the durable cache tier and the snapshot history.
// Durable is nil when the durable tier is disabled.
type Stores struct {
	Durable storage.DurableStore
	History storage.SnapshotHistoryStore
}

// OpenStores connects the backends selected by cfg. The returned cleanup
// closes every opened connection.
func OpenStores(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	stores := &Stores{}

	switch cfg.DurableBackend {
	case config.BackendMemory:
		stores.Durable = memory.NewDurableStore(0)
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := pool.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.Durable = pgstore.NewDurableStore(pool)
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		stores.Durable = redisstore.NewDurableStore(client, "")
	case config.BackendNone:
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := chstore.Open(ctx, cfg.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		if err := conn.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.History = chstore.NewSnapshotHistoryStore(conn)
	} else {
		stores.History = memory.NewSnapshotHistoryStore()
	}

	logger.Printf("Durable tier: %s, history: %s", cfg.DurableBackend, historyKind(cfg))
	return stores, cleanup, nil
}

func historyKind(cfg *config.Config) string {
	if cfg.ClickHouseDSN != "" {
		return "clickhouse"
	}
	return "memory"
}

// NewCache creates the snapshot cache over the durable tier.
func NewCache(stores *Stores, cfg *config.Config, logger *log.Logger) *cache.Store[domain.OnChainState] {
	return cache.New[domain.OnChainState](cache.Options{
		Durable:    stores.Durable,
		DefaultTTL: cfg.CacheTTL,
		Codec:      serializer.New(logger),
		Logger:     logger,
	})
}

// Upstreams are the shared outbound clients.
type Upstreams struct {
	Limiter *ratelimit.Limiter
	HTTP    *http.Client
	Gateway *chain.Gateway
	Prices  *coingecko.Service
	Engine  *aggregation.Engine
}

// NewUpstreams builds the gateway, REST clients and aggregation engine.
// Every outbound request passes through one limiter keyed by chain or host.
func NewUpstreams(cfg *config.Config, recorder *observability.Recorder, logger *log.Logger) *Upstreams {
	limiter := ratelimit.New(cfg.RateLimit)
	httpClient := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: ratelimit.NewTransport(limiter, ratelimit.HostKey, nil),
	}

	gateway := chain.NewGateway(cfg.RPCURLs,
		chain.WithTimeout(cfg.RequestTimeout),
		chain.WithLimiter(limiter),
		chain.WithLogger(logger),
	)

	explorers := make(map[domain.Chain]aggregation.Explorer)
	for c, ec := range explorer.DefaultConfigs(cfg.ExplorerKeys) {
		if ec.APIKey == "" {
			continue
		}
		explorers[c] = explorer.New(c, ec, explorer.WithHTTPClient(httpClient))
	}

	var index aggregation.HolderIndex
	if cfg.MoralisKey != "" {
		index = moralis.New(cfg.MoralisKey, moralis.WithHTTPClient(httpClient))
	}

	retryCfg := retry.DefaultConfig()
	engine := aggregation.NewEngine(aggregation.Options{
		RPC:         gateway,
		Explorers:   explorers,
		Index:       index,
		Blacklist:   cfg.Blacklist,
		RetryConfig: &retryCfg,
		Logger:      logger,
		Recorder:    recorder,
	})

	prices := coingecko.NewService(coingecko.NewClient(coingecko.WithHTTPClient(httpClient)), cfg.PriceTTL, logger)

	return &Upstreams{
		Limiter: limiter,
		HTTP:    httpClient,
		Gateway: gateway,
		Prices:  prices,
		Engine:  engine,
	}
}
