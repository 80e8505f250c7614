package textnorm

import "sort"

// KeywordSet is a set of normalized keywords.
type KeywordSet map[string]struct{}

// NewKeywordSet builds a set from words, skipping empty entries.
func NewKeywordSet(words ...string) KeywordSet {
	set := make(KeywordSet, len(words))
	for _, w := range words {
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func (s KeywordSet) Has(word string) bool {
	_, ok := s[word]
	return ok
}

func (s KeywordSet) Len() int { return len(s) }

// IntersectionSize counts the keywords present in both sets.
func (s KeywordSet) IntersectionSize(other KeywordSet) int {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for w := range small {
		if large.Has(w) {
			n++
		}
	}
	return n
}

// Sorted returns the keywords in lexical order.
func (s KeywordSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for w := range s {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
