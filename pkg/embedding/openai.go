package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// maxEmbedAttempts bounds remote calls per Embed, transient errors only.
const maxEmbedAttempts = 3

// OpenAIConfig holds settings for the OpenAI-compatible remote provider.
type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// OpenAIProvider calls the OpenAI embeddings API. Transient failures
// (429, 5xx, network errors) are retried with exponential backoff; other
// failures surface immediately.
type OpenAIProvider struct {
	config     OpenAIConfig
	dimensions int
	httpClient *http.Client
	logger     observability.Logger

	retryBase time.Duration
	retryCap  time.Duration
}

type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// apiError is a non-2xx response from the embeddings endpoint.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("openai embeddings API returned %d: %s", e.Status, e.Message)
}

func (e *apiError) retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewOpenAIProvider creates a remote provider. The API key is required.
func NewOpenAIProvider(cfg OpenAIConfig, dimensions int, logger observability.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai provider requires an API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &OpenAIProvider{
		config:     cfg,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		retryBase:  time.Second,
		retryCap:   5 * time.Second,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// Embed requests a vector from the API, padding or truncating the result
// to the configured dimensions.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryBase
	b.MaxInterval = p.retryCap
	b.MaxElapsedTime = 0

	op := func() error {
		out, err := p.doRequest(ctx, text)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			p.logger.Debug("Retrying embedding request", map[string]interface{}{
				"provider": "openai",
				"error":    err.Error(),
			})
			return err
		}
		vec = out
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxEmbedAttempts-1), ctx)); err != nil {
		return nil, err
	}
	return fit(vec, p.dimensions), nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(openAIRequest{Input: text, Model: p.config.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		message := string(body)
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, &apiError{Status: resp.StatusCode, Message: message}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("no embedding data in response")
	}
	return parsed.Data[0].Embedding, nil
}

// isRetryable reports whether the request should be attempted again.
// Context cancellation is the caller's decision and is never retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	// Network-level failures.
	return true
}
