package similarity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/david/grant-matcher/internal/ai"
)

// ErrUnavailable is returned when no embedding backend is configured.
var ErrUnavailable = errors.New("embedding backend unavailable")

const (
	defaultCacheSize = 2048
	// embedTimeout bounds a shared backend call, which outlives any single
	// caller's context.
	embedTimeout = 30 * time.Second
)

// Engine computes dense-embedding similarity on top of an optional Embedder.
// It is safe for concurrent use; identical texts are embedded once.
type Engine struct {
	embedder ai.Embedder
	logger   *zap.Logger

	mu    sync.Mutex
	cache *lru.Cache
	group singleflight.Group
}

// NewEngine wraps embedder. A nil embedder yields an engine whose embedding
// calls fail with ErrUnavailable.
func NewEngine(embedder ai.Embedder, cacheSize int, logger *zap.Logger) *Engine {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		embedder: embedder,
		logger:   logger,
		cache:    lru.New(cacheSize),
	}
}

func (e *Engine) Available() bool {
	return e != nil && e.embedder != nil
}

// Embed returns the embedding of text, memoized.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Available() {
		return nil, ErrUnavailable
	}
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}

	e.mu.Lock()
	if v, ok := e.cache.Get(text); ok {
		e.mu.Unlock()
		return v.([]float32), nil
	}
	e.mu.Unlock()

	ch := e.group.DoChan(text, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), embedTimeout)
		defer cancel()
		vec, err := e.embedder.GenerateEmbedding(callCtx, text)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cache.Add(text, vec)
		e.mu.Unlock()
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("embed: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("embed: %w", res.Err)
		}
		return res.Val.([]float32), nil
	}
}

// Similarity embeds both texts and returns their cosine.
func (e *Engine) Similarity(ctx context.Context, a, b string) (float64, error) {
	vecA, err := e.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	return e.SimilarityToVector(ctx, vecA, b)
}

// SimilarityToVector compares a precomputed vector against the embedding of text.
func (e *Engine) SimilarityToVector(ctx context.Context, vec []float32, text string) (float64, error) {
	vecB, err := e.Embed(ctx, text)
	if err != nil {
		return 0, err
	}
	if len(vec) != len(vecB) {
		e.logger.Debug("embedding dimension mismatch",
			zap.Int("left", len(vec)), zap.Int("right", len(vecB)))
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(vec), len(vecB))
	}
	return Cosine(vec, vecB), nil
}
