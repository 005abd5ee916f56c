package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider computes bag-of-words embeddings on the CPU with the
// hashing trick: each token is hashed into a dimension bucket with a
// hash-derived sign, and the result is L2-normalised. No model files or
// network access are needed, and identical text always produces the
// identical vector.
type LocalProvider struct {
	dimensions int
}

// NewLocalProvider creates a CPU provider of the given width.
func NewLocalProvider(dimensions int) *LocalProvider {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &LocalProvider{dimensions: dimensions}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Dimensions() int { return p.dimensions }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// normalize scales vec to unit length in place. The zero vector, from
// text with no tokens, is left untouched.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
