package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/models"
)

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, testConfig(), Services{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t, testConfig(), Services{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}

func TestServer_RequestIDHonored(t *testing.T) {
	msgs := new(MockMessageService)
	srv := newTestServer(t, testConfig(), Services{Messages: msgs})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/not-a-uuid?tenant_id=acme", nil)
	req.Header.Set("x-request-id", "trace-123")
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "trace-123", w.Header().Get("X-Request-ID"))

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "trace-123", envelope["request_id"])
}

func TestServer_RequestTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.RequestMaxBytes = 32
	srv := newTestServer(t, cfg, Services{Messages: new(MockMessageService)})

	w := httptest.NewRecorder()
	body := bytes.Repeat([]byte("x"), 128)
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "Request too large")
}

func TestServer_GlobalRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRateLimit = "1/minute"
	retention := new(MockRetentionService)
	policy := &models.RetentionPolicy{ID: 1, TenantID: "acme", MaxAgeDays: 30}
	retention.On("GetPolicy", mock.Anything, "acme").Return(policy, nil)
	srv := newTestServer(t, cfg, Services{Retention: retention})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/retention/policy?tenant_id=acme", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/retention/policy?tenant_id=acme", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// Liveness is wired outside the limiter.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/healthz", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_TenantRateLimitIsolation(t *testing.T) {
	cfg := testConfig()
	cfg.TenantRateLimit = "1/minute"
	retention := new(MockRetentionService)
	retention.On("GetPolicy", mock.Anything, "acme").Return(&models.RetentionPolicy{TenantID: "acme"}, nil)
	retention.On("GetPolicy", mock.Anything, "globex").Return(&models.RetentionPolicy{TenantID: "globex"}, nil)
	srv := newTestServer(t, cfg, Services{Retention: retention})

	get := func(tenant string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/v1/retention/policy?tenant_id="+tenant, nil)
		srv.Router().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("acme"))
	assert.Equal(t, http.StatusTooManyRequests, get("acme"))
	// One tenant exhausting its window must not touch another's.
	assert.Equal(t, http.StatusOK, get("globex"))
}

func TestServer_APIKeyOnMutations(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "sekret"
	msgs := new(MockMessageService)
	id := uuid.New()
	msgs.On("Fetch", mock.Anything, "acme", id).Return(&models.Message{ID: id, TenantID: "acme"}, nil)
	msgs.On("Ingest", mock.Anything, mock.Anything).Return(&models.Message{ID: uuid.New(), TenantID: "acme"}, nil)
	srv := newTestServer(t, cfg, Services{Messages: msgs})

	w := httptest.NewRecorder()
	body := []byte(`{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"hello"}`)
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/messages/"+id.String()+"?tenant_id=acme", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "sekret")
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 25 * time.Millisecond
	msgs := new(MockMessageService)
	msgs.On("Retrieve", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)
	srv := newTestServer(t, cfg, Services{Messages: msgs})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/memory/search?tenant_id=acme&query=deploy", nil)
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "Request timeout")
}

func TestServer_PanicRecovered(t *testing.T) {
	health := new(MockHealthService)
	health.On("Check", mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).
		Return((*models.HealthReport)(nil))
	srv := newTestServer(t, testConfig(), Services{Health: health})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/admin/health", nil)
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNewServer_BadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRateLimit = "a lot"
	_, err := NewServer(cfg, Services{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rate limit")
}
