// Package tasks persists PasteTask rows for the task executor.
package tasks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/models"
)

type Repository interface {
	// Create assigns a fresh id, sets status pending and stores t.
	Create(ctx context.Context, t *models.PasteTask) error
	// Get returns common.ErrorNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.PasteTask, error)
	// Update applies fn to the stored task inside one transaction. fn must
	// not touch the database.
	Update(ctx context.Context, id string, fn func(t *models.PasteTask) error) (*models.PasteTask, error)
	List(ctx context.Context, limit int) ([]*models.PasteTask, error)
	ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]*models.PasteTask, error)
	ListByPaste(ctx context.Context, pasteID int64) ([]*models.PasteTask, error)
	// DeleteFinishedBefore removes succeeded and failed tasks last modified
	// before t and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}
