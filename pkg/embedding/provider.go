// Package embedding turns message text into fixed-dimension vectors.
//
// Provider is the sole abstraction: mock (hash-seeded, always succeeds),
// local (CPU feature hashing), and openai (remote API). Every provider
// returns exactly the configured number of dimensions, padding or
// truncating as needed, so callers and the vector column never disagree
// about width.
package embedding

import (
	"context"
	"fmt"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Provider generates an embedding vector for a piece of text.
type Provider interface {
	// Name identifies the provider ("mock", "local", "openai").
	Name() string

	// Dimensions returns the vector width this provider produces.
	Dimensions() int

	// Embed returns a vector of exactly Dimensions() values.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures the primary provider.
type Config struct {
	Provider   string       `mapstructure:"provider"`
	Dimensions int          `mapstructure:"dimensions"`
	OpenAI     OpenAIConfig `mapstructure:"openai"`
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config, logger observability.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockProvider(cfg.Dimensions), nil
	case "local":
		return NewLocalProvider(cfg.Dimensions), nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, cfg.Dimensions, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// fit pads with zeros or truncates so the vector has exactly dims values.
func fit(vec []float32, dims int) []float32 {
	if len(vec) == dims {
		return vec
	}
	if len(vec) > dims {
		return vec[:dims]
	}
	out := make([]float32, dims)
	copy(out, vec)
	return out
}
