package taskhandlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/filechunk"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/services"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
)

// pullFileHandler pulls the files of a received paste chunk by chunk. Every
// written chunk is recorded in PullChunks right away, so a retry or a
// restart only pulls what is missing.
type pullFileHandler struct {
	d   Deps
	log logging.Logger
}

func (h *pullFileHandler) Run(ctx context.Context, t *models.PasteTask) error {
	id, err := pasteID(t)
	if err != nil {
		return err
	}
	extra := t.Extra.Pull
	if extra == nil {
		return fmt.Errorf("pull_file task %s without pull info: %w", t.ID, common.ErrInvalidRequest)
	}
	paste, err := h.d.Pastes.Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if paste.State == models.PasteStateLoaded {
		return nil
	}

	chunkSize := extra.ChunkSize
	if chunkSize <= 0 {
		chunkSize = h.d.Pastes.ChunkSize()
	}
	idx, err := services.Index(paste, chunkSize)
	if err != nil {
		return err
	}
	if len(extra.PullChunks) != idx.ChunkCount() {
		extra.PullChunks = make([]bool, idx.ChunkCount())
	}

	target, sess, err := connected(ctx, h.d, extra.FromAppInstanceID)
	if err != nil {
		return err
	}
	for i, done := range extra.PullChunks {
		if done {
			continue
		}
		chunk, err := idx.Chunk(i)
		if err != nil {
			return err
		}
		data, err := h.d.Client.PullFile(ctx, target, sess, wire.PullFileRequest{ID: extra.RemotePasteID, ChunkIndex: i})
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if err := filechunk.WriteChunk(chunk, data); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		h.d.Metrics.ChunkTransferred("in", len(data))
		extra.PullChunks[i] = true
		if err := h.saveProgress(ctx, t.ID, extra); err != nil {
			return err
		}
	}

	h.log.Info(ctx, "paste files pulled", "paste_id", id, "chunks", idx.ChunkCount(), "bytes", idx.TotalSize())
	return h.d.Pastes.MarkLoaded(ctx, id)
}

func (h *pullFileHandler) saveProgress(ctx context.Context, taskID string, extra *models.PullExtra) error {
	progress := *extra
	progress.PullChunks = append([]bool(nil), extra.PullChunks...)
	_, err := h.d.Tasks.Update(ctx, taskID, func(t *models.PasteTask) error {
		t.Extra.Pull = &progress
		return nil
	})
	return err
}

func (h *pullFileHandler) NeedRetry(_ *models.PasteTask, err error) bool {
	return transient(err)
}

// pullIconHandler fetches the icon of the application a paste was copied in.
type pullIconHandler struct {
	d Deps
}

func (h *pullIconHandler) Run(ctx context.Context, t *models.PasteTask) error {
	extra := t.Extra.Pull
	if extra == nil || extra.IconSource == "" {
		return fmt.Errorf("pull_icon task %s without source: %w", t.ID, common.ErrInvalidRequest)
	}
	if _, err := h.d.Pastes.Icon(ctx, extra.IconSource); err == nil {
		return nil
	}
	target, sess, err := connected(ctx, h.d, extra.FromAppInstanceID)
	if err != nil {
		return err
	}
	data, err := h.d.Client.PullIcon(ctx, target, sess, wire.PullIconRequest{Source: extra.IconSource})
	if err != nil {
		return err
	}
	return h.d.Pastes.SaveIcon(extra.IconSource, data)
}

func (h *pullIconHandler) NeedRetry(_ *models.PasteTask, err error) bool {
	return transient(err)
}
