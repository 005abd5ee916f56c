package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/models"
)

func TestCreateMessage_Sync(t *testing.T) {
	svc := new(MockMessageService)
	msg := &models.Message{ID: uuid.New(), TenantID: "acme", ConversationID: "conv-1", Role: "user", Content: "remember the deployment window"}
	svc.On("Ingest", mock.Anything, mock.MatchedBy(func(p *models.MessageCreate) bool {
		return p.TenantID == "acme" && p.ConversationID == "conv-1" && p.Role == "user"
	})).Return(msg, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"remember the deployment window"}`)
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, msg.ID, got.ID)
}

func TestCreateMessage_AsyncAccepted(t *testing.T) {
	svc := new(MockMessageService)
	msg := &models.Message{ID: uuid.New(), TenantID: "acme", EmbeddingStatus: models.EmbeddingStatusPending}
	svc.On("Ingest", mock.Anything, mock.Anything).Return(msg, nil)

	r := setupMessageAPI(svc, true, "")
	w := httptest.NewRecorder()
	body := []byte(`{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"hello"}`)
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCreateMessage_ValidationError(t *testing.T) {
	svc := new(MockMessageService)
	svc.On("Ingest", mock.Anything, mock.Anything).Return(nil, models.NewValidationError("content must not be empty"))

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"  "}`)
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "content must not be empty", envelope["detail"])
	assert.NotEmpty(t, envelope["request_id"])
}

func TestCreateMessage_MalformedJSON(t *testing.T) {
	svc := new(MockMessageService)
	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBufferString(`{"tenant_id":`))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestBatchCreate_Clean(t *testing.T) {
	svc := new(MockMessageService)
	resp := &models.MessageBatchCreateResponse{
		Created: []*models.Message{{ID: uuid.New()}, {ID: uuid.New()}},
		Errors:  []models.BatchError{},
	}
	svc.On("BatchCreate", mock.Anything, mock.MatchedBy(func(p *models.MessageBatchCreate) bool {
		return len(p.Messages) == 2
	})).Return(resp, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"messages":[
		{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"first"},
		{"tenant_id":"acme","conversation_id":"conv-1","role":"assistant","content":"second"}
	]}`)
	req, _ := http.NewRequest("POST", "/v1/messages/batch", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestBatchCreate_PartialFailure(t *testing.T) {
	svc := new(MockMessageService)
	idx := 1
	resp := &models.MessageBatchCreateResponse{
		Created: []*models.Message{{ID: uuid.New()}},
		Errors:  []models.BatchError{{Index: &idx, Error: "role must be one of user, assistant, system"}},
	}
	svc.On("BatchCreate", mock.Anything, mock.Anything).Return(resp, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"messages":[
		{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"first"},
		{"tenant_id":"acme","conversation_id":"conv-1","role":"robot","content":"second"}
	]}`)
	req, _ := http.NewRequest("POST", "/v1/messages/batch", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMultiStatus, w.Code)

	var got models.MessageBatchCreateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Created, 1)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, 1, *got.Errors[0].Index)
}

func TestGetMessage_Success(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	msg := &models.Message{ID: id, TenantID: "acme"}
	svc.On("Fetch", mock.Anything, "acme", id).Return(msg, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/"+id.String()+"?tenant_id=acme", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetMessage_TenantFromHeader(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	svc.On("Fetch", mock.Anything, "globex", id).Return(&models.Message{ID: id, TenantID: "globex"}, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/"+id.String(), nil)
	req.Header.Set("X-Tenant-ID", "globex")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertCalled(t, "Fetch", mock.Anything, "globex", id)
}

func TestGetMessage_BadID(t *testing.T) {
	svc := new(MockMessageService)
	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/not-a-uuid?tenant_id=acme", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid message id")
	svc.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMessage_ForeignTenant(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	svc.On("Fetch", mock.Anything, "intruder", id).Return(nil, models.NewForbiddenError("message belongs to another tenant"))

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/"+id.String()+"?tenant_id=intruder", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMessage_NotFound(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	svc.On("Fetch", mock.Anything, "acme", id).Return(nil, models.NewNotFoundError("Message"))

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/"+id.String()+"?tenant_id=acme", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Message not found")
}

func TestUpdateMessage_Success(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	updated := &models.Message{ID: id, TenantID: "acme", Content: "revised"}
	svc.On("Update", mock.Anything, "acme", id, mock.MatchedBy(func(p *models.MessageUpdate) bool {
		return p.Content != nil && *p.Content == "revised"
	})).Return(updated, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"content":"revised"}`)
	req, _ := http.NewRequest("PUT", "/v1/messages/"+id.String()+"?tenant_id=acme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteMessage_Success(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	svc.On("Delete", mock.Anything, "acme", id).Return(nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/v1/messages/"+id.String()+"?tenant_id=acme", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestBatchUpdate_ReportsPerItemErrors(t *testing.T) {
	svc := new(MockMessageService)
	missing := uuid.New()
	resp := &models.MessageBatchUpdateResponse{
		Updated: []*models.Message{{ID: uuid.New()}},
		Errors:  []models.BatchError{{MessageID: missing.String(), Error: "Message not found"}},
	}
	svc.On("BatchUpdate", mock.Anything, "acme", mock.Anything).Return(resp, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"updates":[
		{"message_id":"` + uuid.NewString() + `","update":{"archived":true}},
		{"message_id":"` + missing.String() + `","update":{"archived":true}}
	]}`)
	req, _ := http.NewRequest("POST", "/v1/messages/batch/update?tenant_id=acme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.MessageBatchUpdateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Errors, 1)
	assert.Equal(t, missing.String(), got.Errors[0].MessageID)
}

func TestBatchDelete_Success(t *testing.T) {
	svc := new(MockMessageService)
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	resp := &models.MessageBatchDeleteResponse{Deleted: ids, Errors: []models.BatchError{}}
	svc.On("BatchDelete", mock.Anything, "acme", mock.MatchedBy(func(p *models.MessageBatchDelete) bool {
		return len(p.MessageIDs) == 2
	})).Return(resp, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	body := []byte(`{"message_ids":["` + ids[0].String() + `","` + ids[1].String() + `"]}`)
	req, _ := http.NewRequest("POST", "/v1/messages/batch/delete?tenant_id=acme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearch_BindsQueryParams(t *testing.T) {
	svc := new(MockMessageService)
	resp := &models.SearchResponse{Total: 1, Items: []models.SearchResult{{MessageID: uuid.New(), Score: 0.91, Content: "deploy friday"}}}
	svc.On("Retrieve", mock.Anything, mock.MatchedBy(func(p *models.SearchParams) bool {
		return p.TenantID == "acme" && p.Query == "deploy" && p.TopK == 3 && p.ConversationID == "conv-1"
	})).Return(resp, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/memory/search?tenant_id=acme&query=deploy&top_k=3&conversation_id=conv-1", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Total)
}

func TestSearch_TenantFromHeader(t *testing.T) {
	svc := new(MockMessageService)
	svc.On("Retrieve", mock.Anything, mock.MatchedBy(func(p *models.SearchParams) bool {
		return p.TenantID == "acme"
	})).Return(&models.SearchResponse{Total: 0, Items: []models.SearchResult{}}, nil)

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/memory/search?query=deploy", nil)
	req.Header.Set("X-Tenant-ID", "acme")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearch_BadTopK(t *testing.T) {
	svc := new(MockMessageService)
	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/memory/search?tenant_id=acme&query=deploy&top_k=lots", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid query parameters")
	svc.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestSearch_StoreError(t *testing.T) {
	svc := new(MockMessageService)
	svc.On("Retrieve", mock.Anything, mock.Anything).Return(nil, models.NewStoreError(assert.AnError))

	r := setupMessageAPI(svc, false, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/memory/search?tenant_id=acme&query=deploy", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Database error")
}

func TestSearch_RequiresAPIKey(t *testing.T) {
	svc := new(MockMessageService)
	r := setupMessageAPI(svc, false, "sekret")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/memory/search?tenant_id=acme&query=deploy", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API key")
}

func TestGetMessage_OpenWithoutAPIKey(t *testing.T) {
	svc := new(MockMessageService)
	id := uuid.New()
	svc.On("Fetch", mock.Anything, "acme", id).Return(&models.Message{ID: id, TenantID: "acme"}, nil)

	// Reads stay open when a key is configured; only mutations are guarded.
	r := setupMessageAPI(svc, false, "sekret")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/messages/"+id.String()+"?tenant_id=acme", nil)

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateMessage_RejectedWithoutAPIKey(t *testing.T) {
	svc := new(MockMessageService)
	r := setupMessageAPI(svc, false, "sekret")
	w := httptest.NewRecorder()
	body := []byte(`{"tenant_id":"acme","conversation_id":"conv-1","role":"user","content":"hello"}`)
	req, _ := http.NewRequest("POST", "/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}
