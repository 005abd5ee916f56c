// Package services implements the application core between the HTTP
// layer and the repositories: message ingest and retrieval, lifecycle
// retention, and health reporting.
//
// Services validate their inputs, classify failures as
// models.ServiceError values so the transport can map them to status
// codes without string matching, and own the cache invalidation rules
// for every write path.
package services

import (
	"errors"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
)

// Services bundles the application services handed to the HTTP layer.
type Services struct {
	Messages  MessageService
	Retention RetentionService
	Health    HealthService
}

// repoError maps a repository failure onto a client-facing error code:
// a missing row becomes NOT_FOUND, anything else STORE_ERROR.
func repoError(err error, resource string) error {
	if errors.Is(err, database.ErrNotFound) {
		return models.NewNotFoundError(resource)
	}
	return models.NewStoreError(err)
}
