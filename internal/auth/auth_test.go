package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtri/llm-router/internal/metrics"
	"github.com/vmtri/llm-router/internal/pricing"
)

func TestStaticStore(t *testing.T) {
	store := NewStaticStore("test-key")

	key, err := store.GetByHash(context.Background(), HashKey("test-key"))
	require.NoError(t, err)
	assert.Equal(t, "static", key.ID)
	assert.True(t, key.Active)

	_, err = store.GetByHash(context.Background(), HashKey("wrong-key"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.Error(t, store.Create(context.Background(), &APIKey{}))
	assert.Error(t, store.Revoke(context.Background(), "static"))
}

func TestHashKey(t *testing.T) {
	// hex sha256 of "abc"
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashKey("abc"))
	assert.Len(t, HashKey(""), 64)
}

func newAuthedServer(collector *metrics.Collector) (http.Handler, *string) {
	var seenKeyID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKeyID = GetKeyID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := NewMiddleware(NewStaticStore("test-key"), nil, collector, slog.New(slog.DiscardHandler))
	return mw(inner), &seenKeyID
}

func TestMiddleware_ValidKey(t *testing.T) {
	collector := metrics.NewCollector(pricing.Rates{})
	handler, seenKeyID := newAuthedServer(collector)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "static", *seenKeyID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Zero(t, collector.Snapshot().TotalRequests)
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"wrong key", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := metrics.NewCollector(pricing.Rates{})
			handler, _ := newAuthedServer(collector)

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			snap := collector.Snapshot()
			require.Len(t, snap.Requests, 1)
			assert.Equal(t, "unknown", snap.Requests[0].Model)
			assert.Equal(t, "401", snap.Requests[0].StatusCode)
			assert.Equal(t, uint64(1), snap.Requests[0].Count)
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetKeyID(ctx))
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithKeyID(ctx, "key-1")
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "key-1", GetKeyID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
}
