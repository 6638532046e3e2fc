package peerserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
)

func (s *Server) paste(ctx context.Context, peerID string, plaintext []byte) ([]byte, error) {
	var data models.PasteData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}
	if data.AppInstanceID == "" {
		data.AppInstanceID = peerID
	}
	if err := s.pastes.ReceivePaste(ctx, peerID, data); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) pullFile(ctx context.Context, peerID string, plaintext []byte) ([]byte, error) {
	var req wire.PullFileRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}
	var buf bytes.Buffer
	if err := s.files.ReadChunk(ctx, &buf, req.ID, req.ChunkIndex); err != nil {
		s.log.Warn(ctx, "pull file chunk failed", "caller", peerID, "paste_id", req.ID, "chunk", req.ChunkIndex, "error", err)
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) pullIcon(ctx context.Context, peerID string, plaintext []byte) ([]byte, error) {
	var req wire.PullIconRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}
	return s.files.Icon(ctx, req.Source)
}
