package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliolivre/storefront/pkg/ratelimit"
)

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)

	limiter, err := ratelimit.New(store, 3, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "ip-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 3-(i+1), res.Remaining)
	}

	res, err := limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter(), time.Duration(0))

	// Other keys are unaffected.
	res, err = limiter.Allow(ctx, "ip-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_WindowReset(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)

	limiter, err := ratelimit.New(store, 1, 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_InvalidConfig(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)

	_, err := ratelimit.New(store, 0, time.Minute)
	require.Error(t, err)

	_, err = ratelimit.New(store, 10, 0)
	require.Error(t, err)

	_, err = ratelimit.New(nil, 10, time.Minute)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)

	limiter, err := ratelimit.New(store, 2, time.Minute)
	require.NoError(t, err)

	handler := ratelimit.Middleware(limiter, func(r *http.Request) string {
		return r.RemoteAddr
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/download/abc", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	do()
	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
