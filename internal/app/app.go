// Package app wires configuration into the matching stack shared by the
// server and the command line tools.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/ai"
	"github.com/david/grant-matcher/internal/config"
	"github.com/david/grant-matcher/internal/db"
	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/matching"
	"github.com/david/grant-matcher/internal/similarity"
	"github.com/david/grant-matcher/internal/textnorm"
	"github.com/david/grant-matcher/internal/website"
)

const pingTimeout = 5 * time.Second

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Pool       *pgxpool.Pool
	Store      *db.Store
	Normalizer *textnorm.Normalizer
	Similarity *similarity.Engine
	Service    *matching.Service
	Indexer    *matching.Indexer
	Extractor  *website.Extractor
}

// New connects to the database, applies migrations and builds the matching
// stack. Missing optional capabilities are logged once and degrade quality
// instead of failing startup.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := db.NewStore(pool)
	normalizer := NewNormalizer(cfg, logger)
	sim := similarity.NewEngine(NewEmbedder(ctx, cfg, logger), cfg.Embeddings.CacheSize, logger)
	svc := NewService(cfg, store, normalizer, sim, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Store:      store,
		Normalizer: normalizer,
		Similarity: sim,
		Service:    svc,
		Indexer:    matching.NewIndexer(store, normalizer, sim, cfg.Embeddings.RatePerSecond, logger),
		Extractor: website.NewExtractor(website.Options{
			MaxTextLength: cfg.Website.MaxTextLength,
			Timeout:       time.Duration(cfg.Website.TimeoutSeconds) * time.Second,
			MaxRetries:    cfg.Website.MaxRetries,
		}, logger),
	}, nil
}

// Open loads the configuration at configPath (optional), builds the process
// logger and then the App. Tools use it; the server wires the pieces itself.
func Open(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// NewNormalizer builds the linguistic pipeline when enabled. A pipeline that
// fails to load leaves the normalizer in degraded mode.
func NewNormalizer(cfg *config.Config, logger *zap.Logger) *textnorm.Normalizer {
	var pipeline textnorm.Pipeline
	if cfg.NLP.Enabled {
		p, err := textnorm.NewProsePipeline()
		if err != nil {
			logger.Warn("linguistic pipeline unavailable, using degraded normalization", zap.Error(err))
		} else {
			pipeline = p
		}
	} else {
		logger.Info("linguistic pipeline disabled")
	}
	return textnorm.NewNormalizer(pipeline, textnorm.KeywordPolicy(cfg.NLP.KeywordPolicy), logger)
}

// NewEmbedder returns the Ollama client when embeddings are enabled and the
// model answers, nil otherwise.
func NewEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger) ai.Embedder {
	if !cfg.Embeddings.Enabled {
		logger.Info("embeddings disabled")
		return nil
	}
	client := ai.NewOllamaClient(cfg.Ollama.Host, cfg.Ollama.EmbedModel,
		time.Duration(cfg.Ollama.TimeoutSeconds)*time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("embedding model unavailable, embedding similarity disabled",
			zap.String("host", cfg.Ollama.Host),
			zap.String("model", cfg.Ollama.EmbedModel),
			zap.Error(err))
		return nil
	}
	return client
}

// NewService builds the match service from the configured weights and policy.
func NewService(cfg *config.Config, catalog matching.Catalog, normalizer *textnorm.Normalizer, sim *similarity.Engine, logger *zap.Logger) *matching.Service {
	svc := matching.NewService(catalog, normalizer, sim, Weights(cfg), cfg.Matching.GeoSimilarityThreshold, logger)
	if b := cfg.Matching.EstimatedBudget; b > 0 {
		svc.EstimatedBudget = &b
	}
	return svc
}

func Weights(cfg *config.Config) matching.Weights {
	w := cfg.Matching.Weights
	return matching.Weights{
		EmbeddingSim:          w.EmbeddingSim,
		TFIDFSim:              w.TFIDFSim,
		KeywordOverlap:        w.KeywordOverlap,
		SectorMatch:           w.SectorMatch,
		TargetPopulationMatch: w.TargetPopulationMatch,
		GeographicMatchBoost:  w.GeographicMatchBoost,
	}
}
