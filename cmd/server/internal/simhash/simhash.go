// Package simhash fingerprints short transcript snippets so the stitcher
// can recognize text that was transcribed twice inside a chunk overlap
// region. Fingerprints tolerate small wording differences between the two
// transcriptions of the same audio, which exact string comparison cannot.
package simhash

import (
	"strings"

	"github.com/go-dedup/simhash"
)

// Threshold is the maximum Hamming distance at which two snippets count
// as the same utterance. Bigram fingerprints of one-word rewordings land
// around distance 10-12, while unrelated sentences hash near the random
// expectation of 32 bits, so 16 separates the two populations.
const Threshold = 16

// snippetFeatureSet implements simhash.FeatureSet over word bigrams.
// Word-level features fit transcript text; a recognizer rarely changes
// two adjacent words at once.
type snippetFeatureSet struct {
	text string
}

func (s snippetFeatureSet) GetFeatures() []simhash.Feature {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s.text)))
	if len(words) == 0 {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0, len(words))
	if len(words) == 1 {
		features = append(features, simhash.NewFeature([]byte(words[0])))
		return features
	}
	for i := 0; i+1 < len(words); i++ {
		features = append(features, simhash.NewFeature([]byte(words[i]+" "+words[i+1])))
	}
	return features
}

// Fingerprint computes the 64-bit SimHash of a transcript snippet.
func Fingerprint(text string) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(snippetFeatureSet{text: text})
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// IsNearDuplicate reports whether two snippets are close enough to be the
// same utterance. Empty snippets never match anything.
func IsNearDuplicate(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	return HammingDistance(Fingerprint(a), Fingerprint(b)) <= Threshold
}
