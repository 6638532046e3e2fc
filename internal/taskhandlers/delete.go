package taskhandlers

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"go.uber.org/multierr"
)

// deleteHandler removes a paste, waiting until DeleteAt for delayed deletes.
type deleteHandler struct {
	d Deps
}

func (h *deleteHandler) Run(ctx context.Context, t *models.PasteTask) error {
	id, err := pasteID(t)
	if err != nil {
		return err
	}
	if dd := t.Extra.DelayedDelete; dd != nil {
		if wait := dd.DeleteAt.Sub(h.d.Now()); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	err = h.d.Pastes.Delete(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}

func (h *deleteHandler) NeedRetry(*models.PasteTask, error) bool { return false }

// cleanupHandler enforces paste retention and purges old finished tasks.
type cleanupHandler struct {
	d   Deps
	log logging.Logger
}

func (h *cleanupHandler) Run(ctx context.Context, _ *models.PasteTask) error {
	var cutoff time.Time
	if h.d.RetentionDays > 0 {
		cutoff = h.d.Now().AddDate(0, 0, -h.d.RetentionDays)
	}
	if cutoff.IsZero() && h.d.MaxPastes <= 0 {
		return nil
	}
	candidates, err := h.d.Pastes.CleanupCandidates(ctx, cutoff, h.d.MaxPastes)
	if err != nil {
		return err
	}
	var errs error
	for _, p := range candidates {
		if err := h.d.Pastes.Delete(ctx, p.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	var purged int64
	if !cutoff.IsZero() {
		purged, err = h.d.Tasks.DeleteFinishedBefore(ctx, cutoff)
		errs = multierr.Append(errs, err)
	}
	h.log.Info(ctx, "cleanup finished", "pastes", len(candidates), "tasks", purged)
	return errs
}

func (h *cleanupHandler) NeedRetry(*models.PasteTask, error) bool { return false }
