// Package pastes persists clipboard entries, local and received.
package pastes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/models"
)

type Repository interface {
	// Create stores p and assigns p.ID. A remote paste that was already
	// received keeps its existing row and returns common.ErrorAlreadyExists
	// wrapped with the stored id set on p.
	Create(ctx context.Context, p *models.PasteItem) error
	// Get returns common.ErrorNotFound for unknown ids.
	Get(ctx context.Context, id int64) (*models.PasteItem, error)
	// GetRemote finds a received paste by its origin device and origin id.
	GetRemote(ctx context.Context, appInstanceID string, remotePasteID int64) (*models.PasteItem, error)
	Update(ctx context.Context, id int64, fn func(p *models.PasteItem) error) (*models.PasteItem, error)
	Delete(ctx context.Context, id int64) error
	// List returns the newest pastes first.
	List(ctx context.Context, limit int) ([]*models.PasteItem, error)
	// ListCleanupCandidates returns non-favorite pastes created before
	// olderThan, plus the oldest non-favorite pastes beyond the newest
	// maxPastes. A zero olderThan or maxPastes disables that rule.
	ListCleanupCandidates(ctx context.Context, olderThan time.Time, maxPastes int) ([]*models.PasteItem, error)
}
