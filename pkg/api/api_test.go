package api

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/middleware"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/services"
)

// MockMessageService mocks services.MessageService
type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Ingest(ctx context.Context, payload *models.MessageCreate) (*models.Message, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageService) BatchCreate(ctx context.Context, payload *models.MessageBatchCreate) (*models.MessageBatchCreateResponse, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageBatchCreateResponse), args.Error(1)
}

func (m *MockMessageService) Retrieve(ctx context.Context, params *models.SearchParams) (*models.SearchResponse, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SearchResponse), args.Error(1)
}

func (m *MockMessageService) Fetch(ctx context.Context, tenantID string, id uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageService) Update(ctx context.Context, tenantID string, id uuid.UUID, payload *models.MessageUpdate) (*models.Message, error) {
	args := m.Called(ctx, tenantID, id, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageService) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockMessageService) BatchUpdate(ctx context.Context, tenantID string, payload *models.MessageBatchUpdate) (*models.MessageBatchUpdateResponse, error) {
	args := m.Called(ctx, tenantID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageBatchUpdateResponse), args.Error(1)
}

func (m *MockMessageService) BatchDelete(ctx context.Context, tenantID string, payload *models.MessageBatchDelete) (*models.MessageBatchDeleteResponse, error) {
	args := m.Called(ctx, tenantID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageBatchDeleteResponse), args.Error(1)
}

// MockRetentionService mocks services.RetentionService
type MockRetentionService struct {
	mock.Mock
}

func (m *MockRetentionService) Apply(ctx context.Context, tenantID string, dryRun bool) (*models.RetentionExecutionResult, error) {
	args := m.Called(ctx, tenantID, dryRun)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionExecutionResult), args.Error(1)
}

func (m *MockRetentionService) RunPolicy(ctx context.Context, req *models.RetentionRunRequest) (*models.RetentionRunResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionRunResponse), args.Error(1)
}

func (m *MockRetentionService) GetPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionPolicy), args.Error(1)
}

func (m *MockRetentionService) UpdatePolicy(ctx context.Context, tenantID string, payload *models.RetentionPolicyUpdate) (*models.RetentionPolicy, error) {
	args := m.Called(ctx, tenantID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionPolicy), args.Error(1)
}

func (m *MockRetentionService) CreateRule(ctx context.Context, tenantID string, payload *models.RetentionRuleCreate) (*models.RetentionRule, error) {
	args := m.Called(ctx, tenantID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionRule), args.Error(1)
}

func (m *MockRetentionService) GetRule(ctx context.Context, tenantID string, id int64) (*models.RetentionRule, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionRule), args.Error(1)
}

func (m *MockRetentionService) ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*models.RetentionRule, error) {
	args := m.Called(ctx, tenantID, enabledOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RetentionRule), args.Error(1)
}

func (m *MockRetentionService) UpdateRule(ctx context.Context, tenantID string, id int64, payload *models.RetentionRuleUpdate) (*models.RetentionRule, error) {
	args := m.Called(ctx, tenantID, id, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionRule), args.Error(1)
}

func (m *MockRetentionService) DeleteRule(ctx context.Context, tenantID string, id int64) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

// MockHealthService mocks services.HealthService
type MockHealthService struct {
	mock.Mock
}

func (m *MockHealthService) Check(ctx context.Context) *models.HealthReport {
	args := m.Called(ctx)
	return args.Get(0).(*models.HealthReport)
}

// Helper to set up Gin and the message handlers, mirroring the server's
// route layout including the /memory/search alias.
func setupMessageAPI(svc services.MessageService, async bool, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	a := NewMessageAPI(svc, async)
	v1 := r.Group("/v1")
	a.RegisterRoutes(v1, APIKeyAuth(apiKey))
	memory := v1.Group("/memory")
	memory.Use(APIKeyAuth(apiKey))
	memory.GET("/search", a.search)
	return r
}

func setupRetentionAPI(svc services.RetentionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	NewRetentionAPI(svc).RegisterRoutes(r.Group("/v1"))
	return r
}

func setupAdminAPI(retention services.RetentionService, health services.HealthService, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	NewAdminAPI(retention, health).RegisterRoutes(r.Group("/v1"), APIKeyAuth(apiKey))
	return r
}

func testConfig() Config {
	return Config{
		ListenAddress:   ":0",
		RequestTimeout:  5 * time.Second,
		RequestMaxBytes: 1 << 20,
		GlobalRateLimit: "1000/minute",
		TenantRateLimit: "1000/minute",
	}
}

// newTestServer builds the full server with its middleware stack and
// stops the limiter janitor when the test finishes.
func newTestServer(t *testing.T, cfg Config, svc Services) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv, err := NewServer(cfg, svc, observability.NewNoopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(srv.limiter.Stop)
	return srv
}
