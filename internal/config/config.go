// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"jpyc-onchain-lab/internal/blacklist"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/ratelimit"
)

// Durable cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

const (
	DefaultCacheTTL       = 30 * time.Minute
	DefaultPriceTTL       = time.Minute
	DefaultRequestTimeout = 10 * time.Second
	DefaultHTTPAddr       = ":8080"
)

var publicRPC = map[domain.Chain]string{
	domain.ChainEthereum:  "https://rpc.ankr.com/eth",
	domain.ChainPolygon:   "https://polygon.drpc.org",
	domain.ChainAvalanche: "https://avalanche.public-rpc.com",
}

var alchemyHosts = map[domain.Chain]string{
	domain.ChainEthereum:  "eth-mainnet",
	domain.ChainPolygon:   "polygon-mainnet",
	domain.ChainAvalanche: "avax-mainnet",
}

var rpcEnv = map[domain.Chain]string{
	domain.ChainEthereum:  "JPYC_ETHEREUM_RPC_URL",
	domain.ChainPolygon:   "JPYC_POLYGON_RPC_URL",
	domain.ChainAvalanche: "JPYC_AVALANCHE_RPC_URL",
}

var explorerKeyEnv = map[domain.Chain]string{
	domain.ChainEthereum:  "JPYC_ETHERSCAN_API_KEY",
	domain.ChainPolygon:   "JPYC_POLYGONSCAN_API_KEY",
	domain.ChainAvalanche: "JPYC_SNOWTRACE_API_KEY",
}

// Config is the resolved service configuration.
type Config struct {
	RPCURLs      map[domain.Chain]string
	ExplorerKeys map[domain.Chain]string
	MoralisKey   string

	Blacklist        blacklist.Set
	InvalidBlacklist []string

	CacheTTL       time.Duration
	PriceTTL       time.Duration
	RequestTimeout time.Duration
	RateLimit      ratelimit.Config

	DurableBackend string
	PostgresDSN    string
	RedisURL       string
	ClickHouseDSN  string

	HTTPAddr string
}

// Load reads the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup. Malformed numbers and
// durations fall back to defaults; an unknown backend is an error.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		RPCURLs:       make(map[domain.Chain]string),
		ExplorerKeys:  make(map[domain.Chain]string),
		MoralisKey:    get("JPYC_MORALIS_API_KEY"),
		PostgresDSN:   get("POSTGRES_DSN"),
		RedisURL:      get("REDIS_URL"),
		ClickHouseDSN: get("CLICKHOUSE_DSN"),
		HTTPAddr:      get("JPYC_HTTP_ADDR"),
	}

	alchemyKey := get("JPYC_ALCHEMY_API_KEY")
	for _, c := range domain.AllChains() {
		cfg.RPCURLs[c] = resolveRPC(c, get(rpcEnv[c]), alchemyKey)
		if key := get(explorerKeyEnv[c]); key != "" {
			cfg.ExplorerKeys[c] = key
		}
	}

	cfg.Blacklist, cfg.InvalidBlacklist = blacklist.FromEnv(lookup)

	cfg.CacheTTL = durationEnv(get, "JPYC_CACHE_TTL", DefaultCacheTTL, time.Second, 24*time.Hour)
	cfg.PriceTTL = durationEnv(get, "JPYC_PRICE_TTL", DefaultPriceTTL, time.Second, time.Hour)
	cfg.RequestTimeout = durationEnv(get, "JPYC_REQUEST_TIMEOUT", DefaultRequestTimeout, 100*time.Millisecond, 2*time.Minute)

	def := ratelimit.DefaultConfig()
	cfg.RateLimit = ratelimit.Config{
		MaxRequests: intEnv(get, "JPYC_RATE_LIMIT_MAX", def.MaxRequests, 1, 10_000),
		Window:      durationEnv(get, "JPYC_RATE_LIMIT_WINDOW", def.Window, 10*time.Millisecond, time.Hour),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	cfg.DurableBackend = strings.ToLower(get("JPYC_DURABLE_BACKEND"))
	switch cfg.DurableBackend {
	case "":
		cfg.DurableBackend = BackendMemory
	case BackendMemory, BackendNone:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("JPYC_DURABLE_BACKEND=postgres requires POSTGRES_DSN")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("JPYC_DURABLE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unknown JPYC_DURABLE_BACKEND %q", cfg.DurableBackend)
	}

	return cfg, nil
}

// resolveRPC picks an explicit override, else an Alchemy URL when a key is
// set, else the public endpoint.
func resolveRPC(c domain.Chain, override, alchemyKey string) string {
	if override != "" {
		return override
	}
	if alchemyKey != "" {
		return fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", alchemyHosts[c], alchemyKey)
	}
	return publicRPC[c]
}

func intEnv(get func(string) string, key string, fallback, min, max int) int {
	value := get(key)
	if value == "" {
		return fallback
	}
	num, err := strconv.Atoi(value)
	if err != nil || num < 0 {
		return fallback
	}
	return clamp(num, min, max)
}

func durationEnv(get func(string) string, key string, fallback, min, max time.Duration) time.Duration {
	value := get(key)
	if value == "" {
		return fallback
	}
	dur, err := time.ParseDuration(value)
	if err != nil || dur < 0 {
		return fallback
	}
	return clamp(dur, min, max)
}

func clamp[T int | time.Duration](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// LoadEnvFile sets variables from a dotenv file at path without overriding
// variables already present. A missing file is ignored.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
