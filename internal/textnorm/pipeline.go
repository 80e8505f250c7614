package textnorm

import (
	"fmt"
	"strings"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/jdkato/prose/v2"
)

// Token is one analyzed word. Text and Lemma are lowercase.
type Token struct {
	Text  string
	Lemma string
	Tag   string
}

// Analysis is the output of a linguistic pipeline run.
type Analysis struct {
	Tokens    []Token
	Locations []string
}

// Pipeline tokenizes, lemmatizes and POS-tags text, and optionally recognizes
// location entities. Implementations must be safe for concurrent use.
type Pipeline interface {
	Analyze(text string, withEntities bool) (Analysis, error)
}

// ProsePipeline combines the prose tokenizer, tagger and NER with the golem
// English lemmatizer.
type ProsePipeline struct {
	model      *prose.Model
	lemmatizer *golem.Lemmatizer
}

// NewProsePipeline loads the tagger, entity model and lemma dictionary. It is
// expensive; build it once at startup.
func NewProsePipeline() (*ProsePipeline, error) {
	lemmatizer, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("load english lemmatizer: %w", err)
	}
	return &ProsePipeline{
		model:      prose.ModelFromData("en"),
		lemmatizer: lemmatizer,
	}, nil
}

func (p *ProsePipeline) Analyze(text string, withEntities bool) (Analysis, error) {
	doc, err := prose.NewDocument(text,
		prose.UsingModel(p.model),
		prose.WithSegmentation(false),
		prose.WithExtraction(withEntities),
	)
	if err != nil {
		return Analysis{}, fmt.Errorf("prose analyze: %w", err)
	}

	tokens := doc.Tokens()
	out := Analysis{Tokens: make([]Token, 0, len(tokens))}
	for _, tok := range tokens {
		lower := strings.ToLower(tok.Text)
		lemma := strings.ToLower(p.lemmatizer.Lemma(lower))
		if lemma == "" {
			lemma = lower
		}
		out.Tokens = append(out.Tokens, Token{Text: lower, Lemma: lemma, Tag: tok.Tag})
	}

	if withEntities {
		seen := make(map[string]bool)
		for _, ent := range doc.Entities() {
			if ent.Label != "GPE" {
				continue
			}
			name := strings.TrimSpace(ent.Text)
			key := strings.ToLower(name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			out.Locations = append(out.Locations, name)
		}
	}
	return out, nil
}
