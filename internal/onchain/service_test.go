package onchain

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jpyc-onchain-lab/internal/cache"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/errclass"
	"jpyc-onchain-lab/internal/storage/memory"
)

type stubFetcher struct {
	mu    sync.Mutex
	state *domain.OnChainState
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *stubFetcher) set(st *domain.OnChainState, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.err = st, err
}

func (f *stubFetcher) Fetch(ctx context.Context) (*domain.OnChainState, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.state
	return &cp, nil
}

func stateWithTotal(total int64) *domain.OnChainState {
	return &domain.OnChainState{
		TotalSupplyRaw:    big.NewInt(total),
		CirculatingSupply: big.NewInt(total),
		BlacklistedSupply: new(big.Int),
		Decimals:          18,
		Holders: []domain.HolderSnapshot{
			{Address: "0x1000000000000000000000000000000000000001", Chain: domain.ChainEthereum, BalanceRaw: big.NewInt(1), Rank: 1},
		},
		Distribution: []domain.ChainShare{{Chain: domain.ChainEthereum, SupplyRaw: big.NewInt(total)}},
		FetchedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newService(f Fetcher, c *cache.Store[domain.OnChainState], opts Options) *Service {
	opts.Fetcher = f
	opts.Cache = c
	opts.Logger = quiet()
	opts.Classifier = errclass.New(errclass.WithLogger(quiet()))
	return NewService(opts)
}

func sharedCache(durable *memory.DurableStore) *cache.Store[domain.OnChainState] {
	return cache.New[domain.OnChainState](cache.Options{Durable: durable, Logger: quiet()})
}

// seed writes a snapshot the way a previous process would have.
func seed(t *testing.T, durable *memory.DurableStore, total int64) {
	t.Helper()
	sharedCache(durable).Set(context.Background(), DefaultCacheKey, *stateWithTotal(total), time.Hour)
}

func TestScenarioC_RevalidationSuccess(t *testing.T) {
	durable := memory.NewDurableStore(0)
	seed(t, durable, 100)

	f := &stubFetcher{delay: 20 * time.Millisecond}
	f.set(stateWithTotal(200), nil)
	s := newService(f, sharedCache(durable), Options{})

	require.NoError(t, s.Start(context.Background()))
	first := s.Snapshot()
	assert.Equal(t, StateStaleDisplay, first.State)
	assert.True(t, first.Data.IsStale)
	assert.Equal(t, "100", first.Data.TotalSupplyRaw.String())

	s.Wait()
	after := s.Snapshot()
	assert.Equal(t, StateFresh, after.State)
	assert.False(t, after.Data.IsStale)
	assert.Equal(t, "200", after.Data.TotalSupplyRaw.String())
}

func TestScenarioC_RevalidationFailureKeepsCache(t *testing.T) {
	durable := memory.NewDurableStore(0)
	seed(t, durable, 100)

	f := &stubFetcher{}
	f.set(nil, errors.New("network down"))
	s := newService(f, sharedCache(durable), Options{})

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	v := s.Snapshot()
	assert.Equal(t, StateStaleDisplay, v.State)
	assert.True(t, v.Data.IsStale)
	assert.Equal(t, "100", v.Data.TotalSupplyRaw.String())
	assert.Equal(t, "network down", v.LastError)
	require.Len(t, s.Errors(), 1)
	assert.Equal(t, errclass.SystemError, s.Errors()[0].Type)
}

func TestStart_CacheMissFetchesInForeground(t *testing.T) {
	f := &stubFetcher{}
	f.set(stateWithTotal(300), nil)
	history := memory.NewSnapshotHistoryStore()
	s := newService(f, nil, Options{History: history})

	assert.Equal(t, StateLoading, s.State())
	require.NoError(t, s.Start(context.Background()))

	v := s.Snapshot()
	assert.Equal(t, StateFresh, v.State)
	assert.False(t, v.Data.IsLoading)
	assert.Equal(t, "300", v.Data.TotalSupplyRaw.String())

	latest, err := history.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "300", latest.TotalSupply.String())
}

func TestStart_CacheMissFailureEntersError(t *testing.T) {
	f := &stubFetcher{}
	f.set(nil, errors.New("something odd"))
	s := newService(f, nil, Options{})

	err := s.Start(context.Background())
	require.Error(t, err)

	v := s.Snapshot()
	assert.Equal(t, StateError, v.State)
	assert.Equal(t, errclass.UserMessage(errclass.UnknownError), v.Data.Error)
	assert.Empty(t, v.Data.Holders)
	assert.Nil(t, v.Data.HoldersCount)
}

func TestRefresh_FailureKeepsFreshData(t *testing.T) {
	f := &stubFetcher{}
	f.set(stateWithTotal(10), nil)
	s := newService(f, nil, Options{})
	require.NoError(t, s.Start(context.Background()))

	f.set(nil, errors.New("timeout"))
	v, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFresh, v.State)
	assert.False(t, v.Data.IsLoading)
	assert.Equal(t, "10", v.Data.TotalSupplyRaw.String())
}

func TestRefresh_IgnoresCacheFreshness(t *testing.T) {
	f := &stubFetcher{}
	f.set(stateWithTotal(1), nil)
	s := newService(f, nil, Options{})
	require.NoError(t, s.Start(context.Background()))

	f.set(stateWithTotal(2), nil)
	v, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", v.Data.TotalSupplyRaw.String())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestRefresh_CoalescesConcurrentCallers(t *testing.T) {
	f := &stubFetcher{delay: 50 * time.Millisecond}
	f.set(stateWithTotal(5), nil)
	s := newService(f, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestSnapshot_HoldersCountFallsBackToListLength(t *testing.T) {
	f := &stubFetcher{}
	f.set(stateWithTotal(5), nil)
	s := newService(f, nil, Options{})
	require.NoError(t, s.Start(context.Background()))

	v := s.Snapshot()
	require.NotNil(t, v.Data.HoldersCount)
	assert.Equal(t, int64(1), *v.Data.HoldersCount)
}

func TestSubscribe_ReceivesTransitions(t *testing.T) {
	f := &stubFetcher{}
	f.set(stateWithTotal(5), nil)
	s := newService(f, nil, Options{})

	ch, unsubscribe := s.Subscribe()
	initial := <-ch
	assert.Equal(t, StateLoading, initial.State)

	require.NoError(t, s.Start(context.Background()))

	var last View
	require.Eventually(t, func() bool {
		select {
		case last = <-ch:
		default:
		}
		return last.State == StateFresh
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	unsubscribe()
}

// gatedFetcher blocks until release is closed or its context ends.
type gatedFetcher struct {
	state   *domain.OnChainState
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedFetcher(st *domain.OnChainState) *gatedFetcher {
	return &gatedFetcher{state: st, started: make(chan struct{}), release: make(chan struct{})}
}

func (f *gatedFetcher) Fetch(ctx context.Context) (*domain.OnChainState, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
		cp := *f.state
		return &cp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRefresh_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	f := newGatedFetcher(stateWithTotal(700))
	s := newService(f, nil, Options{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctxA)
		errA <- err
	}()
	<-f.started

	errB := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		errB <- err
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	assert.NotEqual(t, StateError, s.State())

	close(f.release)
	require.NoError(t, <-errB)

	v := s.Snapshot()
	assert.Equal(t, StateFresh, v.State)
	assert.Equal(t, "700", v.Data.TotalSupplyRaw.String())
	assert.Empty(t, v.LastError)
}

func TestClose_CancelsInFlightFetch(t *testing.T) {
	f := newGatedFetcher(stateWithTotal(1))
	s := newService(f, nil, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		errc <- err
	}()
	<-f.started

	s.Close()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, StateError, s.State())
}

func TestRefresh_FetchTimeoutBoundsSharedFetch(t *testing.T) {
	f := newGatedFetcher(stateWithTotal(1))
	s := newService(f, nil, Options{FetchTimeout: 20 * time.Millisecond})

	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
