// Package similarity provides vector similarity primitives for speaker
// embedding comparison.
package similarity

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Cosine calculates cosine similarity between two vectors.
// Formula: cos(θ) = (A·B) / (||A|| * ||B||)
// Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	return floats.Dot(a, b) / (normA * normB)
}

// Match is one scored candidate pairing between a query vector and an
// indexed vector.
type Match struct {
	Key        string
	Similarity float64
}

// RankAgainst scores the query vector against every entry in the index
// and returns matches at or above threshold, sorted by similarity in
// descending order. Ties keep a stable key order so repeated calls rank
// identically.
func RankAgainst(query []float64, index map[string][]float64, threshold float64) []Match {
	matches := make([]Match, 0, len(index))
	for key, vec := range index {
		sim := Cosine(query, vec)
		if sim >= threshold {
			matches = append(matches, Match{Key: key, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Key < matches[j].Key
	})

	return matches
}
