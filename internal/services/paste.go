// Package services holds the paste use cases: adding local pastes,
// receiving pastes from peers and serving their files and icons.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/filechunk"
	"github.com/dmitrijs2005/gophpaste/internal/filex"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/metrics"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/pastes"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/peers"
	taskrepo "github.com/dmitrijs2005/gophpaste/internal/repositories/tasks"
	"go.uber.org/multierr"
)

// Submitter queues task ids for execution.
type Submitter interface {
	SubmitTask(ctx context.Context, id string) error
}

type PasteService struct {
	selfID    string
	pastes    pastes.Repository
	tasks     taskrepo.Repository
	peers     peers.Repository
	exec      Submitter
	layout    filex.Layout
	chunkSize int64
	log       logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewPasteService(selfID string, pasteRepo pastes.Repository, taskRepo taskrepo.Repository, peerRepo peers.Repository,
	exec Submitter, layout filex.Layout, chunkSize int64, log logging.Logger, m *metrics.Metrics) *PasteService {
	return &PasteService{
		selfID:    selfID,
		pastes:    pasteRepo,
		tasks:     taskRepo,
		peers:     peerRepo,
		exec:      exec,
		layout:    layout,
		chunkSize: chunkSize,
		log:       log.With("module", "pastes"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *PasteService) Layout() filex.Layout { return s.layout }

func (s *PasteService) ChunkSize() int64 { return s.chunkSize }

func hashOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// classify picks the paste type of copied text.
func classify(text string) models.PasteType {
	t := strings.TrimSpace(text)
	if u, err := url.Parse(t); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && !strings.ContainsAny(t, " \n") {
		return models.PasteTypeURL
	}
	if strings.HasPrefix(t, "<") && strings.HasSuffix(t, ">") && strings.Contains(t, "</") {
		return models.PasteTypeHTML
	}
	return models.PasteTypeText
}

// AddText stores copied text and schedules its sync to every peer.
func (s *PasteService) AddText(ctx context.Context, text, source string) (*models.PasteItem, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", common.ErrInvalidRequest)
	}
	p := &models.PasteItem{
		AppInstanceID: s.selfID,
		Type:          classify(text),
		Text:          text,
		Hash:          hashOf(text),
		Size:          int64(len(text)),
		Source:        source,
		State:         models.PasteStateLoaded,
		CreateTime:    s.now(),
	}
	return p, s.addLocal(ctx, p)
}

// AddFiles stores a files paste referencing local paths and schedules its
// sync. Files are read when peers pull them.
func (s *PasteService) AddFiles(ctx context.Context, paths []string, source string) (*models.PasteItem, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrInvalidRequest)
	}
	p := &models.PasteItem{
		AppInstanceID: s.selfID,
		Type:          models.PasteTypeFiles,
		Source:        source,
		State:         models.PasteStateLoaded,
		CreateTime:    s.now(),
	}
	parts := make([]string, 0, 2*len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", common.ErrInvalidRequest, path)
		}
		p.Files = append(p.Files, models.PasteFile{Name: fi.Name(), Size: fi.Size(), Path: abs})
		p.Size += fi.Size()
		parts = append(parts, fi.Name(), fmt.Sprint(fi.Size()))
	}
	p.Hash = hashOf(parts...)
	return p, s.addLocal(ctx, p)
}

func (s *PasteService) addLocal(ctx context.Context, p *models.PasteItem) error {
	if err := s.pastes.Create(ctx, p); err != nil {
		return fmt.Errorf("saving paste: %w", err)
	}
	var kinds []newTask
	kinds = append(kinds, newTask{models.TaskTypeSync, models.NewSyncExtra("")})
	if p.Type == models.PasteTypeHTML {
		kinds = append(kinds, newTask{models.TaskTypeRender, models.NewBaseExtra()})
	}
	return s.schedule(ctx, &p.ID, kinds...)
}

type newTask struct {
	typ   models.TaskType
	extra models.ExtraInfo
}

// schedule creates and submits tasks. Submission failures are logged; the
// tasks stay pending and are picked up by recovery.
func (s *PasteService) schedule(ctx context.Context, pasteID *int64, list ...newTask) error {
	var errs error
	for _, nt := range list {
		t := &models.PasteTask{PasteID: pasteID, Type: nt.typ, Extra: nt.extra}
		if err := s.tasks.Create(ctx, t); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("create %s task: %w", nt.typ, err))
			continue
		}
		if err := s.exec.SubmitTask(ctx, t.ID); err != nil {
			s.log.Warn(ctx, "submit task", "task_id", t.ID, "type", nt.typ, "error", err)
		}
	}
	return errs
}

// ReceivePaste stores a paste pushed by peerID and schedules the follow-up
// work: pulling its files, rendering HTML, fetching the source icon.
// Receiving the same paste twice is a no-op.
func (s *PasteService) ReceivePaste(ctx context.Context, peerID string, data models.PasteData) error {
	rec, err := s.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	if !rec.AllowReceive {
		return common.ErrReceiveNotAllowed
	}
	if data.AppInstanceID == "" {
		data.AppInstanceID = peerID
	}

	p := data.RemotePaste()
	for i := range p.Files {
		p.Files[i].Path = s.layout.PasteFile(p.AppInstanceID, p.RemotePasteID, i, p.Files[i].Name)
	}
	if err := s.pastes.Create(ctx, p); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			s.log.Debug(ctx, "paste already received", "from", peerID, "remote_paste_id", data.PasteID)
			return nil
		}
		return err
	}
	s.log.Info(ctx, "paste received", "from", peerID, "paste_id", p.ID, "type", p.Type)

	var follow []newTask
	if p.State == models.PasteStateLoading {
		extra := models.NewPullExtra(peerID, data.PasteID)
		extra.Pull.ChunkSize = data.ChunkSize
		follow = append(follow, newTask{models.TaskTypePullFile, extra})
	}
	if p.Type == models.PasteTypeHTML {
		follow = append(follow, newTask{models.TaskTypeRender, models.NewBaseExtra()})
	}
	if p.Source != "" {
		if _, err := os.Stat(s.layout.IconFile(p.Source)); err != nil {
			extra := models.NewPullExtra(peerID, 0)
			extra.Pull.IconSource = p.Source
			follow = append(follow, newTask{models.TaskTypePullIcon, extra})
		}
	}
	return s.schedule(ctx, &p.ID, follow...)
}

// PasteData returns the wire form of a paste, with the chunk size its files
// are served with.
func (s *PasteService) PasteData(ctx context.Context, id int64) (*models.PasteItem, models.PasteData, error) {
	p, err := s.pastes.Get(ctx, id)
	if err != nil {
		return nil, models.PasteData{}, err
	}
	data := p.ToPasteData()
	if p.Type.HasFiles() {
		data.ChunkSize = s.chunkSize
	}
	return p, data, nil
}

// Index builds the chunk index of a paste's files.
func Index(p *models.PasteItem, chunkSize int64) (*filechunk.FilesIndex, error) {
	b := filechunk.NewFilesIndexBuilder(chunkSize)
	for _, f := range p.Files {
		b.AddFile(f.Path, f.Size)
	}
	return b.Build()
}

// ReadChunk writes chunk chunkIndex of a local paste's files to w.
func (s *PasteService) ReadChunk(ctx context.Context, w io.Writer, pasteID int64, chunkIndex int) error {
	p, err := s.pastes.Get(ctx, pasteID)
	if err != nil {
		return err
	}
	if !p.Type.HasFiles() || p.State != models.PasteStateLoaded {
		return fmt.Errorf("paste %d: %w", pasteID, common.ErrPullChunkFail)
	}
	idx, err := Index(p, s.chunkSize)
	if err != nil {
		return err
	}
	c, err := idx.Chunk(chunkIndex)
	if err != nil {
		return err
	}
	n, err := filechunk.ReadChunk(w, c)
	s.metrics.ChunkTransferred("out", int(n))
	return err
}

// Icon returns the cached icon of a source application.
func (s *PasteService) Icon(_ context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", common.ErrInvalidRequest)
	}
	b, err := os.ReadFile(s.layout.IconFile(source))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("icon %s: %w", source, common.ErrorNotFound)
	}
	return b, err
}

// SaveIcon caches icon bytes for a source application.
func (s *PasteService) SaveIcon(source string, data []byte) error {
	path := s.layout.IconFile(source)
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o660)
}

// Delete removes a paste. Files this device received are removed too;
// files of local pastes belong to the user and are kept.
func (s *PasteService) Delete(ctx context.Context, id int64) error {
	p, err := s.pastes.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.pastes.Delete(ctx, id); err != nil {
		return err
	}
	if p.Remote && len(p.Files) > 0 {
		dir := s.layout.PasteDir(p.AppInstanceID, p.RemotePasteID)
		if s.layout.Owns(dir) {
			if err := os.RemoveAll(dir); err != nil {
				s.log.Warn(ctx, "remove paste files", "paste_id", id, "error", err)
			}
		}
	}
	return nil
}

// ScheduleDelete deletes a paste at a later time.
func (s *PasteService) ScheduleDelete(ctx context.Context, id int64, at time.Time) error {
	return s.schedule(ctx, &id, newTask{models.TaskTypeDelete, models.NewDelayedDeleteExtra(at)})
}

// ScheduleCleanup queues one retention pass.
func (s *PasteService) ScheduleCleanup(ctx context.Context) error {
	return s.schedule(ctx, nil, newTask{models.TaskTypeCleanup, models.NewBaseExtra()})
}

func (s *PasteService) List(ctx context.Context, limit int) ([]*models.PasteItem, error) {
	return s.pastes.List(ctx, limit)
}

func (s *PasteService) Get(ctx context.Context, id int64) (*models.PasteItem, error) {
	return s.pastes.Get(ctx, id)
}

// SetFavorite marks a paste as exempt from cleanup.
func (s *PasteService) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	_, err := s.pastes.Update(ctx, id, func(p *models.PasteItem) error {
		p.Favorite = favorite
		return nil
	})
	return err
}

// MarkLoaded records that every file of a received paste is present.
func (s *PasteService) MarkLoaded(ctx context.Context, id int64) error {
	_, err := s.pastes.Update(ctx, id, func(p *models.PasteItem) error {
		p.State = models.PasteStateLoaded
		return nil
	})
	return err
}

// SetPreview stores the plain-text preview of a paste.
func (s *PasteService) SetPreview(ctx context.Context, id int64, preview string) error {
	_, err := s.pastes.Update(ctx, id, func(p *models.PasteItem) error {
		p.Preview = preview
		return nil
	})
	return err
}

// CleanupCandidates returns the pastes retention wants gone.
func (s *PasteService) CleanupCandidates(ctx context.Context, olderThan time.Time, maxPastes int) ([]*models.PasteItem, error) {
	return s.pastes.ListCleanupCandidates(ctx, olderThan, maxPastes)
}
