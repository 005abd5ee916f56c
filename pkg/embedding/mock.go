package embedding

import (
	"context"
	"crypto/sha256"
)

// MockProvider produces deterministic hash-seeded vectors. It never
// fails, which makes it the fallback behind the circuit breaker as well
// as the default for development and tests.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a deterministic provider of the given width.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &MockProvider{dimensions: dimensions}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Dimensions() int { return p.dimensions }

// Embed hashes the text and tiles the digest bytes, scaled to [0,1],
// across the configured dimensions.
func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, p.dimensions)
	for i := range vec {
		vec[i] = float32(digest[i%len(digest)]) / 255
	}
	return vec, nil
}
