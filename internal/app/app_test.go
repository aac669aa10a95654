package app

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jpyc-onchain-lab/internal/config"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/storage/memory"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	return cfg
}

func TestOpenStores_Memory(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	cfg := testConfig(t, nil)

	stores, cleanup, err := OpenStores(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.DurableStore{}, stores.Durable)
	assert.IsType(t, &memory.SnapshotHistoryStore{}, stores.History)
	assert.True(t, NewCache(stores, cfg, logger).DurableEnabled())
}

func TestOpenStores_DurableDisabled(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	cfg := testConfig(t, map[string]string{"JPYC_DURABLE_BACKEND": "none"})

	stores, cleanup, err := OpenStores(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, stores.Durable)
	assert.False(t, NewCache(stores, cfg, logger).DurableEnabled())
}

func TestNewUpstreams(t *testing.T) {
	cfg := testConfig(t, map[string]string{"JPYC_ETHERSCAN_API_KEY": "k"})
	up := NewUpstreams(cfg, observability.NewRecorder(10), log.New(io.Discard, "", 0))

	require.NotNil(t, up.Engine)
	require.NotNil(t, up.Prices)
	assert.Equal(t, cfg.RequestTimeout, up.HTTP.Timeout)
	assert.Equal(t, cfg.RateLimit, up.Limiter.Config())
}
