package matching

import (
	"context"

	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/similarity"
	"github.com/david/grant-matcher/internal/textnorm"
)

// Profile is the normalized view of one NGO for one match request. It is not
// modified after NewProfile returns.
type Profile struct {
	RawText         string
	NormalizedText  string
	Keywords        textnorm.KeywordSet
	Locations       []string
	EstimatedBudget *float64
	Embedding       []float32
}

// NewProfile normalizes raw, extracts locations and embeds the normalized text
// once. Embedding failures leave Embedding nil.
func NewProfile(ctx context.Context, normalizer *textnorm.Normalizer, sim *similarity.Engine, raw string, budget *float64, logger *zap.Logger) Profile {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := normalizer.Profile(raw)
	p := Profile{
		RawText:         raw,
		NormalizedText:  res.Text,
		Keywords:        res.Keywords,
		Locations:       res.Locations,
		EstimatedBudget: budget,
	}
	if p.Keywords == nil {
		p.Keywords = textnorm.KeywordSet{}
	}

	if sim.Available() && p.NormalizedText != "" {
		vec, err := sim.Embed(ctx, p.NormalizedText)
		if err != nil {
			logger.Warn("ngo embedding failed, embedding signal disabled", zap.Error(err))
		} else {
			p.Embedding = vec
		}
	}
	return p
}
