// Package embed generates text embeddings via an Ollama-compatible endpoint.
// Results are cached by content hash; when the circuit is open a cached
// vector for the same text is served instead of failing.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/resilience"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Client is the HTTP implementation of Embedder.
type Client struct {
	baseURL string
	model   string
	guard   *resilience.Guard
	cache   *Cache
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates an embedding client. Empty baseURL and model fall back
// to a local Ollama instance with nomic-embed-text (768 dims). The guard is
// required and must be distinct from the chat guard; a nil cache gets the
// default size.
func NewClient(baseURL, model string, cache *Cache, guard *resilience.Guard, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if cache == nil {
		cache = NewCache(10000)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		guard:   guard,
		cache:   cache,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding for text. Cached vectors are returned without
// touching the network or the circuit breaker.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	if cached := c.cache.Get(text); cached != nil {
		return cached, nil
	}

	var embedding []float64
	err := c.guard.Do(ctx, func() error {
		body, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("embedding request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("embedding error (status %d): %s", resp.StatusCode, string(b))
		}

		var result embeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(result.Embedding) == 0 {
			return fmt.Errorf("empty embedding returned")
		}
		embedding = result.Embedding
		return nil
	})
	if err != nil {
		// The cache is consulted again here: another caller may have filled
		// it while we were blocked, and a stale vector beats no vector when
		// the circuit is open.
		if cached := c.cache.Get(text); cached != nil {
			c.log.Warn("embedding service unavailable, serving cached vector",
				zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	c.cache.Set(text, embedding)
	return embedding, nil
}

// Cosine computes cosine similarity between two vectors (-1 to 1). Length
// mismatches and zero vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
