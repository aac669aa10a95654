package coingecko

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"jpyc-onchain-lab/internal/domain"
)

// DefaultCacheTTL is how long a fetched price is served without refetching.
const DefaultCacheTTL = time.Minute

const maxCachedIDs = 16

// Fetcher is the upstream used by Service.
type Fetcher interface {
	FetchPrice(ctx context.Context, id string) (domain.PriceData, error)
}

// Service caches prices and coalesces concurrent fetches per id.
type Service struct {
	fetcher Fetcher
	cache   *expirable.LRU[string, domain.PriceData]
	group   singleflight.Group
	logger  *log.Logger

	mu   sync.Mutex
	last map[string]domain.PriceData
}

// NewService creates a Service. ttl <= 0 uses DefaultCacheTTL.
func NewService(f Fetcher, ttl time.Duration, logger *log.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		fetcher: f,
		cache:   expirable.NewLRU[string, domain.PriceData](maxCachedIDs, nil, ttl),
		logger:  logger,
		last:    make(map[string]domain.PriceData),
	}
}

// Price returns the token price.
func (s *Service) Price(ctx context.Context) (domain.PriceData, error) {
	return s.PriceFor(ctx, domain.CoinGeckoID)
}

// PriceFor returns the cached price for id, fetching it if expired. When the
// upstream fails the last known price is returned, if any.
func (s *Service) PriceFor(ctx context.Context, id string) (domain.PriceData, error) {
	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		if p, ok := s.cache.Get(id); ok {
			return p, nil
		}
		p, err := s.fetcher.FetchPrice(ctx, id)
		if err != nil {
			return domain.PriceData{}, err
		}
		s.cache.Add(id, p)
		s.mu.Lock()
		s.last[id] = p
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		s.mu.Lock()
		stale, ok := s.last[id]
		s.mu.Unlock()
		if ok {
			s.logger.Printf("coingecko: serving stale price for %s: %v", id, err)
			return stale, nil
		}
		return domain.PriceData{}, err
	}
	return v.(domain.PriceData), nil
}
