// Package onchain owns the current OnChainState: it serves cached data
// immediately, revalidates it in the background and coalesces concurrent
// fetches into one upstream cycle.
package onchain

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"jpyc-onchain-lab/internal/cache"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/errclass"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/storage"
)

const (
	DefaultCacheKey = "jpyc-onchain-data"
	DefaultCacheTTL = 30 * time.Minute
	// DefaultFetchTimeout bounds one shared upstream cycle.
	DefaultFetchTimeout = 2 * time.Minute

	fetchOperation = "fetchOnChainState"
)

// State is the display state of the service.
type State string

const (
	StateLoading      State = "loading"
	StateStaleDisplay State = "stale"
	StateFresh        State = "fresh"
	StateError        State = "error"
)

var allStates = []string{string(StateLoading), string(StateStaleDisplay), string(StateFresh), string(StateError)}

// Fetcher produces a fresh snapshot. Implemented by *aggregation.Engine.
type Fetcher interface {
	Fetch(ctx context.Context) (*domain.OnChainState, error)
}

// View is what consumers observe.
type View struct {
	State       State               `json:"state"`
	Data        domain.OnChainState `json:"data"`
	LastSuccess time.Time           `json:"lastSuccess,omitempty"`
	LastError   string              `json:"lastError,omitempty"`
}

// Options for creating Service.
type Options struct {
	// Required
	Fetcher Fetcher

	// Nil Cache uses a memory-only store.
	Cache    *cache.Store[domain.OnChainState]
	CacheKey string
	CacheTTL time.Duration

	// FetchTimeout bounds a shared fetch independently of any caller.
	FetchTimeout time.Duration

	// Optional
	History    storage.SnapshotHistoryStore
	Classifier *errclass.Classifier
	Logger     *log.Logger
	Now        func() time.Time
}

// Service is the stale-while-revalidate owner of the snapshot.
type Service struct {
	fetcher    Fetcher
	cache      *cache.Store[domain.OnChainState]
	key        string
	ttl        time.Duration
	history    storage.SnapshotHistoryStore
	classifier *errclass.Classifier
	logger     *log.Logger
	now        func() time.Time

	fetchTimeout time.Duration
	root         context.Context
	stop         context.CancelFunc

	group singleflight.Group
	bg    sync.WaitGroup

	mu          sync.RWMutex
	state       State
	data        domain.OnChainState
	hasData     bool
	lastSuccess time.Time
	lastErr     error
	subs        map[int]chan View
	nextSub     int
}

// NewService creates a Service in StateLoading.
func NewService(opts Options) *Service {
	s := &Service{
		fetcher:    opts.Fetcher,
		cache:      opts.Cache,
		key:        opts.CacheKey,
		ttl:        opts.CacheTTL,
		history:    opts.History,
		classifier: opts.Classifier,
		logger:     opts.Logger,
		now:        opts.Now,
		state:      StateLoading,
		data:       domain.OnChainState{IsLoading: true, Holders: []domain.HolderSnapshot{}},
		subs:       make(map[int]chan View),

		fetchTimeout: opts.FetchTimeout,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cache == nil {
		s.cache = cache.New[domain.OnChainState](cache.Options{Logger: s.logger, Now: s.now})
	}
	if s.key == "" {
		s.key = DefaultCacheKey
	}
	if s.ttl <= 0 {
		s.ttl = DefaultCacheTTL
	}
	if s.classifier == nil {
		s.classifier = errclass.New(errclass.WithLogger(s.logger))
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = DefaultFetchTimeout
	}
	s.root, s.stop = context.WithCancel(context.Background())
	return s
}

// Start loads the cached snapshot. On a hit the service enters
// StateStaleDisplay and revalidates in the background; on a miss it enters
// StateLoading and fetches in the foreground, returning that fetch's error.
func (s *Service) Start(ctx context.Context) error {
	if cached, ok := s.cache.Get(ctx, s.key); ok {
		cached.IsStale = true
		cached.IsLoading = false
		s.mu.Lock()
		s.data = cached
		s.hasData = true
		s.setStateLocked(StateStaleDisplay)
		s.mu.Unlock()

		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.fetch(ctx); err != nil {
				s.logger.Printf("background revalidation failed: %v", err)
			}
		}()
		return nil
	}

	s.mu.Lock()
	s.data.IsLoading = true
	s.setStateLocked(StateLoading)
	s.mu.Unlock()
	return s.fetch(ctx)
}

// Refresh re-enters StateLoading and fetches in the foreground regardless
// of cache freshness. Existing data stays visible while loading.
func (s *Service) Refresh(ctx context.Context) (View, error) {
	s.mu.Lock()
	s.data.IsLoading = true
	s.setStateLocked(StateLoading)
	s.mu.Unlock()

	err := s.fetch(ctx)
	return s.Snapshot(), err
}

// Wait blocks until background revalidations started by Start finish.
func (s *Service) Wait() {
	s.bg.Wait()
}

// Close cancels any in-flight shared fetch. The service stays readable.
func (s *Service) Close() {
	s.stop()
}

// fetch runs at most one upstream cycle at a time; concurrent callers share
// its result. The cycle runs under the service's own context, so a caller
// that gives up returns ctx.Err() without failing the others.
func (s *Service) fetch(ctx context.Context) error {
	ch := s.group.DoChan(s.key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(s.root, s.fetchTimeout)
		defer cancel()
		return nil, s.runFetch(fctx)
	})
	select {
	case r := <-ch:
		if r.Shared {
			observability.RecordCoalescedFetch()
		}
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runFetch(ctx context.Context) error {
	st, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	fresh := *st
	fresh.IsLoading = false
	fresh.IsStale = false
	fresh.Error = ""
	if fresh.Holders == nil {
		fresh.Holders = []domain.HolderSnapshot{}
	}
	s.cache.Set(ctx, s.key, fresh, s.ttl)

	if s.history != nil {
		if herr := s.history.Insert(ctx, domain.NewSupplySnapshot(&fresh)); herr != nil {
			observability.RecordHistoryFailure()
			s.logger.Printf("snapshot history insert failed: %v", herr)
		}
	}

	now := s.now()
	observability.UpdateLastSuccessfulFetch(float64(now.Unix()))

	s.mu.Lock()
	s.data = fresh
	s.hasData = true
	s.lastSuccess = now
	s.lastErr = nil
	s.setStateLocked(StateFresh)
	s.mu.Unlock()
	return nil
}

// fail keeps existing data on screen. Only a service without data enters
// StateError.
func (s *Service) fail(err error) {
	appErr := s.classifier.Handle(err, fetchOperation)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if !s.hasData {
		s.data = domain.OnChainState{Error: appErr.UserMessage, Holders: []domain.HolderSnapshot{}}
		s.setStateLocked(StateError)
		return
	}
	s.data.IsLoading = false
	if s.data.IsStale {
		s.setStateLocked(StateStaleDisplay)
	} else {
		s.setStateLocked(StateFresh)
	}
}

// Snapshot returns the current view. A missing holder count falls back to
// the number of listed holders.
func (s *Service) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Service) viewLocked() View {
	d := s.data
	d.Holders = append([]domain.HolderSnapshot{}, s.data.Holders...)
	if s.hasData && d.HoldersCount == nil {
		n := int64(len(d.Holders))
		d.HoldersCount = &n
	}
	v := View{State: s.state, Data: d, LastSuccess: s.lastSuccess}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	return v
}

// setStateLocked records the transition and notifies subscribers.
// s.mu must be held for writing.
func (s *Service) setStateLocked(st State) {
	s.state = st
	observability.SetServiceState(string(st), allStates)
	v := s.viewLocked()
	for _, ch := range s.subs {
		publish(ch, v)
	}
}

// publish delivers v, replacing an undelivered older view.
func publish(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel receiving the current view and every later
// transition. Slow readers only see the latest view. The returned function
// unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.viewLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Errors returns the classified fetch failures retained by the service.
func (s *Service) Errors() []*errclass.AppError {
	return s.classifier.Log()
}
