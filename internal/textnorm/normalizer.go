package textnorm

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// KeywordPolicy selects which lemmas become keywords in linguistic mode.
type KeywordPolicy string

const (
	// KeywordsAll keeps every non-stop alphabetic lemma.
	KeywordsAll KeywordPolicy = "all"
	// KeywordsNounsAdjectives keeps nouns, proper nouns and adjectives only.
	KeywordsNounsAdjectives KeywordPolicy = "nouns_adjectives"
)

var (
	nonAlnumRegex = regexp.MustCompile(`[^a-z0-9\s]+`)
	wordRegex     = regexp.MustCompile(`\b\w+\b`)
	stripAccents  = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	htmlPolicy    = bluemonday.StrictPolicy()
)

// Result is normalized text plus its keyword set. Locations is only filled by
// Profile.
type Result struct {
	Text      string
	Keywords  KeywordSet
	Locations []string
}

// Normalizer reduces free text to a canonical lemma representation. A nil
// pipeline runs in degraded regex mode. Normalize never fails.
type Normalizer struct {
	pipeline Pipeline
	policy   KeywordPolicy
	logger   *zap.Logger
}

func NewNormalizer(pipeline Pipeline, policy KeywordPolicy, logger *zap.Logger) *Normalizer {
	if policy == "" {
		policy = KeywordsAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{pipeline: pipeline, policy: policy, logger: logger}
}

// Degraded reports whether the linguistic pipeline is missing.
func (n *Normalizer) Degraded() bool {
	return n == nil || n.pipeline == nil
}

// Normalize returns the clean text and keyword set of raw.
func (n *Normalizer) Normalize(raw string) Result {
	return n.run(raw, false)
}

// Profile is Normalize plus location entity extraction.
func (n *Normalizer) Profile(raw string) Result {
	return n.run(raw, true)
}

func (n *Normalizer) run(raw string, withEntities bool) Result {
	text := StripHTML(raw)
	if strings.TrimSpace(text) == "" {
		return Result{Keywords: KeywordSet{}}
	}

	if !n.Degraded() {
		res, err := n.linguistic(text, withEntities)
		if err == nil {
			return res
		}
		n.logger.Warn("linguistic pipeline failed, using regex fallback", zap.Error(err))
	}
	return degraded(text)
}

func (n *Normalizer) linguistic(text string, withEntities bool) (res Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pipeline panic: %v", recovered)
		}
	}()

	analysis, err := n.pipeline.Analyze(text, withEntities)
	if err != nil {
		return Result{}, err
	}

	lemmas := make([]string, 0, len(analysis.Tokens))
	keywords := KeywordSet{}
	for _, tok := range analysis.Tokens {
		if IsStopWord(tok.Text) || IsStopWord(tok.Lemma) || !isAlpha(tok.Lemma) {
			continue
		}
		lemmas = append(lemmas, tok.Lemma)
		if n.policy == KeywordsNounsAdjectives && !isNounOrAdjective(tok.Tag) {
			continue
		}
		keywords[tok.Lemma] = struct{}{}
	}

	return Result{
		Text:      strings.Join(lemmas, " "),
		Keywords:  keywords,
		Locations: analysis.Locations,
	}, nil
}

func degraded(text string) Result {
	text = strings.ToLower(text)
	text = nonAlnumRegex.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	return Result{
		Text:     text,
		Keywords: NewKeywordSet(wordRegex.FindAllString(text, -1)...),
	}
}

// StripHTML removes markup, decodes entities and folds accents.
func StripHTML(raw string) string {
	if raw == "" {
		return ""
	}
	// Tags separate words even when the markup has no whitespace.
	text := html.UnescapeString(htmlPolicy.Sanitize(strings.ReplaceAll(raw, "<", " <")))
	if folded, _, err := transform.String(stripAccents, text); err == nil {
		text = folded
	}
	return text
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isNounOrAdjective(tag string) bool {
	return strings.HasPrefix(tag, "NN") || strings.HasPrefix(tag, "JJ")
}
