package taskhandlers

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"go.uber.org/multierr"
)

// syncHandler pushes a paste to one peer, or to every connected peer that
// allows sending. Peers that failed are kept in SyncFails and are the only
// ones a retry visits.
type syncHandler struct {
	d   Deps
	log logging.Logger
}

func (h *syncHandler) Run(ctx context.Context, t *models.PasteTask) error {
	id, err := pasteID(t)
	if err != nil {
		return err
	}
	if t.Extra.Sync == nil {
		t.Extra = models.NewSyncExtra("")
	}
	paste, data, err := h.d.Pastes.PasteData(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	targets, err := h.targets(ctx, t.Extra.Sync)
	if err != nil {
		return err
	}

	var (
		errs  error
		fails []string
	)
	for _, peerID := range targets {
		if peerID == paste.AppInstanceID {
			continue
		}
		if err := h.send(ctx, peerID, data); err != nil {
			fails = append(fails, peerID)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", peerID, err))
			continue
		}
		h.log.Debug(ctx, "paste sent", "paste_id", id, "to", peerID)
	}
	t.Extra.Sync.SyncFails = fails
	return errs
}

func (h *syncHandler) targets(ctx context.Context, extra *models.SyncExtra) ([]string, error) {
	if len(extra.SyncFails) > 0 {
		return slices.Clone(extra.SyncFails), nil
	}
	if extra.AppInstanceID != "" {
		return []string{extra.AppInstanceID}, nil
	}
	list, err := h.d.Peers.List(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range list {
		if p.State == models.SyncStateConnected && p.AllowSend {
			ids = append(ids, p.AppInstanceID)
		}
	}
	return ids, nil
}

func (h *syncHandler) send(ctx context.Context, peerID string, data models.PasteData) error {
	rec, err := h.d.Peers.Get(ctx, peerID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.AllowSend {
		return nil
	}
	target, sess, err := connected(ctx, h.d, peerID)
	if err != nil {
		return err
	}
	return h.d.Client.SendPaste(ctx, target, sess, data)
}

// NeedRetry retries when every failure was a transport failure.
func (h *syncHandler) NeedRetry(_ *models.PasteTask, err error) bool {
	for _, e := range multierr.Errors(err) {
		if !transient(e) {
			return false
		}
	}
	return err != nil
}
