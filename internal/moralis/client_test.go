package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var doc map[string]any
	require.NoError(t, dec.Decode(&doc))
	return doc
}

func TestExtract_Strategies(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		count  *int64
		change *int64
	}{
		{"top level", `{"total": 1500, "total_change_24h": 12}`, ptr(1500), ptr(12)},
		{"string numbers", `{"total": "1500", "total_change_24h": "-3"}`, ptr(1500), ptr(-3)},
		{"page total", `{"page_total": 42}`, ptr(42), nil},
		{"pagination", `{"pagination": {"total": 77}}`, ptr(77), nil},
		{"summary total holders", `{"summary": {"total_holders": 900, "total_holders_change_24h": 4}}`, ptr(900), ptr(4)},
		{"derived change", `{"total": 1000, "total_24h": 990}`, ptr(1000), ptr(10)},
		{"derived from summary", `{"summary": {"total": 50, "total_holders_24h": 55}}`, ptr(50), ptr(-5)},
		{"earlier strategy wins", `{"total": 10, "summary": {"total": 99}}`, ptr(10), nil},
		{"blank string skipped", `{"total": " ", "page_total": 8}`, ptr(8), nil},
		{"nothing usable", `{"result": []}`, nil, nil},
		{"previous without total", `{"total_24h": 5}`, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Extract(decode(t, tt.body))
			assert.Equal(t, tt.count, s.Count)
			assert.Equal(t, tt.change, s.Change)
		})
	}
}

func TestClient_HolderSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/erc20/0xabc/holders", r.URL.Path)
		assert.Equal(t, "0x89", r.URL.Query().Get("chain"))
		assert.Equal(t, "total_change_24h", r.URL.Query().Get("include"))
		w.Write([]byte(`{"total": 321, "total_change_24h": 7}`))
	}))
	defer srv.Close()

	c := New("key", WithBaseURL(srv.URL+"/"))
	s, err := c.HolderSummary(context.Background(), "0x89", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, ptr(321), s.Count)
	assert.Equal(t, ptr(7), s.Change)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "Invalid key"}`))
	}))
	defer srv.Close()

	_, err := New("bad", WithBaseURL(srv.URL)).HolderSummary(context.Background(), "0x1", "0xabc")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.HTTPStatus())
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestClient_NoKey(t *testing.T) {
	_, err := New("").HolderSummary(context.Background(), "0x1", "0xabc")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func ptr(v int64) *int64 { return &v }
