package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/embedding"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
	"github.com/recallmesh/recallmesh/pkg/retrieval"
)

// MessageService owns the message lifecycle: ingest with importance
// scoring and embedding, ranked retrieval, scoped reads and writes, and
// the batch variants of each.
type MessageService interface {
	// Ingest stores a message. In async mode the message comes back
	// with a pending embedding and a queued job; otherwise it is
	// embedded inline and an embedding failure still keeps the row.
	Ingest(ctx context.Context, payload *models.MessageCreate) (*models.Message, error)
	BatchCreate(ctx context.Context, payload *models.MessageBatchCreate) (*models.MessageBatchCreateResponse, error)

	// Retrieve embeds the query and returns candidates ranked by
	// similarity, importance and recency.
	Retrieve(ctx context.Context, params *models.SearchParams) (*models.SearchResponse, error)

	// Fetch returns a message by id; a foreign tenant is rejected.
	Fetch(ctx context.Context, tenantID string, id uuid.UUID) (*models.Message, error)
	Update(ctx context.Context, tenantID string, id uuid.UUID, payload *models.MessageUpdate) (*models.Message, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error

	BatchUpdate(ctx context.Context, tenantID string, payload *models.MessageBatchUpdate) (*models.MessageBatchUpdateResponse, error)
	BatchDelete(ctx context.Context, tenantID string, payload *models.MessageBatchDelete) (*models.MessageBatchDeleteResponse, error)
}

// MessageServiceConfig tunes ingest and retrieval behaviour.
type MessageServiceConfig struct {
	// AsyncEmbeddings defers embedding to the job queue; ingest returns
	// a pending message immediately.
	AsyncEmbeddings bool
	// VectorSearch pushes candidate ordering into the database when the
	// pgvector extension is installed.
	VectorSearch bool
	// MaxResults caps top_k and bounds the candidate fetch.
	MaxResults int
	// SearchTTL is the result cache lifetime.
	SearchTTL time.Duration
}

type messageService struct {
	repos    *repository.Repositories
	provider embedding.Provider
	store    cache.Cache
	scorer   *retrieval.ImportanceScorer
	ranker   *retrieval.Ranker
	logger   observability.Logger

	asyncEmbeddings bool
	vectorSearch    bool
	maxResults      int
	searchTTL       time.Duration

	now func() time.Time
}

// NewMessageService creates the message service.
func NewMessageService(repos *repository.Repositories, provider embedding.Provider, store cache.Cache, cfg MessageServiceConfig, logger observability.Logger) MessageService {
	if store == nil {
		store = cache.NewNoopCache()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 8
	}
	return &messageService{
		repos:           repos,
		provider:        provider,
		store:           store,
		scorer:          retrieval.NewImportanceScorer(),
		ranker:          retrieval.DefaultRanker(),
		logger:          logger,
		asyncEmbeddings: cfg.AsyncEmbeddings,
		vectorSearch:    cfg.VectorSearch,
		maxResults:      cfg.MaxResults,
		searchTTL:       cfg.SearchTTL,
		now:             time.Now,
	}
}

func (s *messageService) Ingest(ctx context.Context, payload *models.MessageCreate) (*models.Message, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	metadata, err := models.SanitizeMetadata(payload.Metadata)
	if err != nil {
		return nil, err
	}

	// An explicit override replaces the computed score entirely.
	var importance float64
	if payload.ImportanceOverride != nil {
		importance = retrieval.Clamp01(*payload.ImportanceOverride)
	} else {
		importance = s.scorer.Score(s.now().UTC(), payload.Role, nil)
	}

	msg := &models.Message{
		TenantID:        payload.TenantID,
		ConversationID:  payload.ConversationID,
		Role:            payload.Role,
		Content:         payload.Content,
		Metadata:        metadata,
		ImportanceScore: &importance,
		EmbeddingStatus: models.EmbeddingStatusPending,
	}

	if s.asyncEmbeddings {
		// Row and job commit together so a crash cannot leave a
		// pending message that no worker will ever pick up.
		err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
			if err := tx.Messages.Create(ctx, msg); err != nil {
				return err
			}
			_, err := tx.Jobs.Enqueue(ctx, msg.ID)
			return err
		})
		if err != nil {
			return nil, models.NewStoreError(err)
		}
	} else {
		if err := s.repos.Messages.Create(ctx, msg); err != nil {
			return nil, models.NewStoreError(err)
		}
		stored, err := s.embedInline(ctx, msg)
		if err != nil {
			return nil, err
		}
		msg = stored
	}

	s.invalidateSearch(ctx, msg.TenantID, msg.ConversationID)
	return msg, nil
}

// embedInline embeds msg.Content and persists the vector. An embedding
// failure keeps the message with a failed status; only storage errors
// fail the call.
func (s *messageService) embedInline(ctx context.Context, msg *models.Message) (*models.Message, error) {
	status := models.EmbeddingStatusCompleted
	var vecRef *pgvector.Vector
	vec, err := s.provider.Embed(ctx, msg.Content)
	if err != nil {
		s.logger.Warn("Embedding failed, keeping message without vector", map[string]interface{}{
			"message_id": msg.ID.String(),
			"error":      err.Error(),
		})
		status = models.EmbeddingStatusFailed
	} else {
		v := pgvector.NewVector(vec)
		vecRef = &v
	}

	stored, err := s.repos.Messages.SetEmbedding(ctx, msg.ID, vecRef, msg.ImportanceScore, status)
	if err != nil {
		return nil, repoError(err, "message")
	}
	return stored, nil
}

func (s *messageService) BatchCreate(ctx context.Context, payload *models.MessageBatchCreate) (*models.MessageBatchCreateResponse, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	resp := &models.MessageBatchCreateResponse{
		Created: []*models.Message{},
		Errors:  []models.BatchError{},
	}
	for i := range payload.Messages {
		msg, err := s.Ingest(ctx, &payload.Messages[i])
		if err != nil {
			idx := i
			resp.Errors = append(resp.Errors, models.BatchError{Index: &idx, Error: models.DetailOf(err)})
			continue
		}
		resp.Created = append(resp.Created, msg)
	}
	return resp, nil
}

func (s *messageService) Retrieve(ctx context.Context, params *models.SearchParams) (*models.SearchResponse, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := cache.SearchKey(params.TenantID, params.ConversationID, params.Query, params.TopK, params.CandidateLimit, params.ImportanceMin)
	var cached models.SearchResponse
	if err := s.store.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Debug("Search cache read failed", map[string]interface{}{"error": err.Error()})
	}

	queryVec, err := s.provider.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	topK := params.TopK
	if topK > s.maxResults {
		topK = s.maxResults
	}
	candidateLimit := params.CandidateLimit
	if bound := s.maxResults * 10; candidateLimit > bound {
		candidateLimit = bound
	}

	q := repository.CandidateQuery{
		TenantID:       params.TenantID,
		ConversationID: params.ConversationID,
		ImportanceMin:  params.ImportanceMin,
		Limit:          candidateLimit,
	}
	var candidates []*models.Message
	if s.vectorSearch {
		candidates, err = s.repos.Messages.SearchSimilar(ctx, q, pgvector.NewVector(queryVec))
	} else {
		candidates, err = s.repos.Messages.ListActive(ctx, q)
	}
	if err != nil {
		return nil, models.NewStoreError(err)
	}

	ranked := s.ranker.Rank(queryVec, candidates, topK)
	resp := &models.SearchResponse{Items: make([]models.SearchResult, 0, len(ranked))}
	for _, hit := range ranked {
		resp.Items = append(resp.Items, models.SearchResult{
			MessageID:  hit.Message.ID,
			Score:      hit.Score,
			Similarity: hit.Similarity,
			Decay:      hit.Decay,
			Content:    hit.Message.Content,
			Role:       hit.Message.Role,
			Metadata:   hit.Message.Metadata,
			CreatedAt:  hit.Message.CreatedAt,
			Importance: hit.Message.ImportanceScore,
		})
	}
	resp.Total = len(resp.Items)

	if err := s.store.Set(ctx, key, resp, s.searchTTL); err != nil {
		s.logger.Debug("Search cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return resp, nil
}

func (s *messageService) Fetch(ctx context.Context, tenantID string, id uuid.UUID) (*models.Message, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	msg, err := s.repos.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "message")
	}
	if msg.TenantID != tenantID {
		return nil, models.NewForbiddenError("message belongs to a different tenant")
	}
	return msg, nil
}

// fetchScoped loads a message constrained to the tenant; a foreign
// message is reported as absent rather than forbidden.
func (s *messageService) fetchScoped(ctx context.Context, tenantID string, id uuid.UUID) (*models.Message, error) {
	msg, err := s.repos.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "message")
	}
	if msg.TenantID != tenantID {
		return nil, models.NewNotFoundError("message")
	}
	return msg, nil
}

func (s *messageService) Update(ctx context.Context, tenantID string, id uuid.UUID, payload *models.MessageUpdate) (*models.Message, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	msg, err := s.fetchScoped(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.applyUpdate(ctx, msg, payload)
}

// applyUpdate mutates msg according to a validated payload and
// persists it. A content change re-embeds: queued in async mode,
// inline otherwise.
func (s *messageService) applyUpdate(ctx context.Context, msg *models.Message, payload *models.MessageUpdate) (*models.Message, error) {
	if payload.Archived != nil && !*payload.Archived && msg.Archived {
		return nil, models.NewValidationError("archived messages cannot be unarchived")
	}

	contentChanged := payload.HasContentChange()
	if contentChanged {
		msg.Content = *payload.Content
	}
	if payload.Metadata != nil {
		metadata, err := models.SanitizeMetadata(payload.Metadata)
		if err != nil {
			return nil, err
		}
		msg.Metadata = metadata
	}
	if payload.ImportanceOverride != nil {
		var score float64
		if contentChanged {
			// Fresh content means a fresh score; the override feeds
			// in as the explicit signal.
			score = s.scorer.Score(msg.CreatedAt, msg.Role, payload.ImportanceOverride)
		} else {
			score = retrieval.Clamp01(*payload.ImportanceOverride)
		}
		msg.ImportanceScore = &score
	}

	switch {
	case contentChanged && s.asyncEmbeddings:
		msg.Embedding = nil
		msg.EmbeddingStatus = models.EmbeddingStatusPending
		err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
			if err := tx.Messages.Update(ctx, msg); err != nil {
				return err
			}
			_, err := tx.Jobs.Enqueue(ctx, msg.ID)
			return err
		})
		if err != nil {
			return nil, repoError(err, "message")
		}
	case contentChanged:
		vec, embErr := s.provider.Embed(ctx, msg.Content)
		if embErr != nil {
			s.logger.Warn("Embedding failed, keeping message without vector", map[string]interface{}{
				"message_id": msg.ID.String(),
				"error":      embErr.Error(),
			})
			msg.Embedding = nil
			msg.EmbeddingStatus = models.EmbeddingStatusFailed
		} else {
			v := pgvector.NewVector(vec)
			msg.Embedding = &v
			msg.EmbeddingStatus = models.EmbeddingStatusCompleted
		}
		if err := s.repos.Messages.Update(ctx, msg); err != nil {
			return nil, repoError(err, "message")
		}
	default:
		if err := s.repos.Messages.Update(ctx, msg); err != nil {
			return nil, repoError(err, "message")
		}
	}

	if payload.Archived != nil && *payload.Archived && !msg.Archived {
		if _, err := s.repos.Retention.MoveToArchive(ctx, []*models.Message{msg}, "manual"); err != nil {
			return nil, models.NewStoreError(err)
		}
		refreshed, err := s.repos.Messages.GetByID(ctx, msg.ID)
		if err != nil {
			return nil, repoError(err, "message")
		}
		msg = refreshed
	}

	s.invalidateSearch(ctx, msg.TenantID, msg.ConversationID)
	return msg, nil
}

func (s *messageService) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return err
	}
	msg, err := s.fetchScoped(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repos.Messages.Delete(ctx, msg.ID); err != nil {
		return repoError(err, "message")
	}
	s.invalidateSearch(ctx, msg.TenantID, msg.ConversationID)
	return nil
}

func (s *messageService) BatchUpdate(ctx context.Context, tenantID string, payload *models.MessageBatchUpdate) (*models.MessageBatchUpdateResponse, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(payload.Updates))
	for _, item := range payload.Updates {
		ids = append(ids, item.MessageID)
	}
	msgs, err := s.repos.Messages.GetByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, models.NewStoreError(err)
	}
	byID := make(map[uuid.UUID]*models.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	resp := &models.MessageBatchUpdateResponse{
		Updated: []*models.Message{},
		Errors:  []models.BatchError{},
	}
	for i := range payload.Updates {
		item := &payload.Updates[i]
		msg, ok := byID[item.MessageID]
		if !ok {
			resp.Errors = append(resp.Errors, models.BatchError{
				MessageID: item.MessageID.String(),
				Error:     "message not found or access denied",
			})
			continue
		}
		if err := item.Update.Validate(); err != nil {
			resp.Errors = append(resp.Errors, models.BatchError{
				MessageID: item.MessageID.String(),
				Error:     models.DetailOf(err),
			})
			continue
		}
		updated, err := s.applyUpdate(ctx, msg, &item.Update)
		if err != nil {
			resp.Errors = append(resp.Errors, models.BatchError{
				MessageID: item.MessageID.String(),
				Error:     models.DetailOf(err),
			})
			continue
		}
		resp.Updated = append(resp.Updated, updated)
	}
	return resp, nil
}

func (s *messageService) BatchDelete(ctx context.Context, tenantID string, payload *models.MessageBatchDelete) (*models.MessageBatchDeleteResponse, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	deleted, err := s.repos.Messages.DeleteBatch(ctx, tenantID, payload.MessageIDs)
	if err != nil {
		return nil, models.NewStoreError(err)
	}
	if deleted == nil {
		deleted = []uuid.UUID{}
	}

	deletedSet := make(map[uuid.UUID]struct{}, len(deleted))
	for _, id := range deleted {
		deletedSet[id] = struct{}{}
	}
	resp := &models.MessageBatchDeleteResponse{
		Deleted: deleted,
		Errors:  []models.BatchError{},
	}
	for _, id := range payload.MessageIDs {
		if _, ok := deletedSet[id]; !ok {
			resp.Errors = append(resp.Errors, models.BatchError{
				MessageID: id.String(),
				Error:     "message not found or access denied",
			})
		}
	}

	if len(deleted) > 0 {
		// The deleted rows may span many conversations; drop the
		// tenant's whole search family.
		if _, err := s.store.DeletePrefix(ctx, cache.TenantSearchPrefix(tenantID)); err != nil {
			s.logger.Debug("Search cache invalidation failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return resp, nil
}

// invalidateSearch drops cached results that could contain the
// conversation's messages: the scoped family and the tenant's unscoped
// family.
func (s *messageService) invalidateSearch(ctx context.Context, tenantID, conversationID string) {
	for _, prefix := range []string{
		cache.SearchPrefix(tenantID, conversationID),
		cache.SearchPrefix(tenantID, ""),
	} {
		if _, err := s.store.DeletePrefix(ctx, prefix); err != nil {
			s.logger.Debug("Search cache invalidation failed", map[string]interface{}{
				"prefix": prefix,
				"error":  err.Error(),
			})
		}
	}
}
