package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/kgraph/internal/resilience"
)

func testGuard() *resilience.Guard {
	return resilience.New("test-embed", resilience.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Second,
		MaxRetries:       0,
		RetryDelay:       time.Millisecond,
	}, nil)
}

func TestCacheEvictsWhenFull(t *testing.T) {
	c := NewCache(8)
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("text-%d", i), []float64{float64(i)})
	}
	require.Equal(t, 8, c.Len())

	c.Set("one-more", []float64{9})
	assert.Less(t, c.Len(), 8, "a quarter of the entries should be evicted")
	assert.Equal(t, []float64{9}, c.Get("one-more"))
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(10)
	assert.Nil(t, c.Get("missing"))

	c.Set("hello", []float64{0.1, 0.2})
	assert.Equal(t, []float64{0.1, 0.2}, c.Get("hello"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestEmbedCachesResults(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model", nil, testGuard(), nil)

	first, err := c.Embed(context.Background(), "some text")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "some text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestEmbedServesCacheWhenCircuitOpen(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"embedding":[1,0]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model", nil, testGuard(), nil)

	vec, err := c.Embed(context.Background(), "known text")
	require.NoError(t, err)

	// Trip the circuit with uncached texts.
	healthy = false
	c.Embed(context.Background(), "other-1")
	c.Embed(context.Background(), "other-2")

	// Cache hits short-circuit before the breaker, so the known text still
	// resolves.
	got, err := c.Embed(context.Background(), "known text")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// Unknown text fails with the unavailable sentinel.
	_, err = c.Embed(context.Background(), "never seen")
	assert.ErrorIs(t, err, resilience.ErrUnavailable)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}), "length mismatch")
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{0, 0}), "zero vector")
}
