package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/similarity"
	"github.com/david/grant-matcher/internal/textnorm"
)

// EmbeddingStore is the slice of the grant store the indexer needs.
type EmbeddingStore interface {
	GrantsMissingEmbeddings(ctx context.Context, force bool, limit int) ([]models.Grant, error)
	UpdateGrantEmbedding(ctx context.Context, linkHash string, embedding []float32) error
}

// IndexReport summarizes one embedding run.
type IndexReport struct {
	Candidates int      `json:"candidates"`
	Embedded   int      `json:"embedded"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	Elapsed    string   `json:"elapsed"`
}

// Indexer precomputes grant embeddings so matching does not have to embed
// every grant per request.
type Indexer struct {
	Store      EmbeddingStore
	Normalizer *textnorm.Normalizer
	Similarity *similarity.Engine
	// Limiter paces calls to the embedding backend. Nil means unlimited.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// NewIndexer paces the backend at perSecond requests; zero or less disables pacing.
func NewIndexer(store EmbeddingStore, normalizer *textnorm.Normalizer, sim *similarity.Engine, perSecond float64, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Indexer{Store: store, Normalizer: normalizer, Similarity: sim, Limiter: limiter, Logger: logger}
}

// Run embeds up to limit grants. With force set, grants that already carry an
// embedding are re-embedded too. Per-grant failures are counted, not fatal.
func (ix *Indexer) Run(ctx context.Context, force bool, limit int) (IndexReport, error) {
	start := time.Now()
	var report IndexReport
	if !ix.Similarity.Available() {
		return report, similarity.ErrUnavailable
	}

	grants, err := ix.Store.GrantsMissingEmbeddings(ctx, force, limit)
	if err != nil {
		return report, fmt.Errorf("load grants to embed: %w", err)
	}
	report.Candidates = len(grants)

	for _, g := range grants {
		if ix.Limiter != nil {
			if err := ix.Limiter.Wait(ctx); err != nil {
				return report, fmt.Errorf("embedding run interrupted: %w", err)
			}
		}
		if err := ix.embedOne(ctx, g); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", g.LinkHash, err))
			ix.Logger.Warn("grant embedding failed", zap.String(logging.FieldLinkHash, g.LinkHash), zap.Error(err))
			continue
		}
		report.Embedded++
	}

	report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	ix.Logger.Info("embedding run finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("embedded", report.Embedded),
		zap.Int("failed", report.Failed),
		zap.String("elapsed", report.Elapsed),
	)
	return report, nil
}

func (ix *Indexer) embedOne(ctx context.Context, g models.Grant) error {
	text := ix.Normalizer.Normalize(CompositeText(g)).Text
	if text == "" {
		return errors.New("grant has no text to embed")
	}
	vec, err := ix.Similarity.Embed(ctx, text)
	if err != nil {
		return err
	}
	return ix.Store.UpdateGrantEmbedding(ctx, g.LinkHash, vec)
}
