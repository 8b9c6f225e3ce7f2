package memory

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a vector for similarity ranking. Implementations
// wrap whatever embedding backend is configured; the store itself never
// talks to one directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// cosine returns the cosine similarity of two vectors, clamped to [0, 1].
// Mismatched or empty vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// tokenize splits text into lowercase terms, dropping stopwords and
// single-character tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// lexicalSimilarity is the fallback when no embedding backend is
// configured: the fraction of query terms present in the content.
func lexicalSimilarity(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentSet := make(map[string]bool)
	for _, t := range tokenize(content) {
		contentSet[t] = true
	}

	matched := 0
	for _, t := range queryTokens {
		if contentSet[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"this": true, "that": true, "it": true, "as": true, "if": true,
}
