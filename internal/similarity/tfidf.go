package similarity

import (
	"math"
	"regexp"
	"strings"

	"github.com/david/grant-matcher/internal/textnorm"
)

// tokens of two or more word characters
var tfidfTokenRegex = regexp.MustCompile(`\b\w\w+\b`)

// TFIDF fits a vectorizer on exactly the two documents and returns the cosine
// of their tf-idf vectors. idf is smoothed as ln((1+n)/(1+df))+1, so terms
// shared by both documents still carry weight. An empty vocabulary yields 0.
func TFIDF(a, b string) float64 {
	tfA, tfB := termCounts(a), termCounts(b)
	if len(tfA) == 0 || len(tfB) == 0 {
		return 0
	}

	const n = 2.0
	idf := func(term string) float64 {
		df := 0.0
		if _, ok := tfA[term]; ok {
			df++
		}
		if _, ok := tfB[term]; ok {
			df++
		}
		return math.Log((1+n)/(1+df)) + 1
	}

	weigh := func(tf map[string]float64) map[string]float64 {
		vec := make(map[string]float64, len(tf))
		var norm float64
		for term, count := range tf {
			w := count * idf(term)
			vec[term] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		for term := range vec {
			vec[term] /= norm
		}
		return vec
	}

	vecA, vecB := weigh(tfA), weigh(tfB)
	if len(vecA) > len(vecB) {
		vecA, vecB = vecB, vecA
	}
	var dot float64
	for term, w := range vecA {
		dot += w * vecB[term]
	}
	return clamp01(dot)
}

func termCounts(doc string) map[string]float64 {
	counts := make(map[string]float64)
	for _, tok := range tfidfTokenRegex.FindAllString(strings.ToLower(doc), -1) {
		if textnorm.IsStopWord(tok) {
			continue
		}
		counts[tok]++
	}
	return counts
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
