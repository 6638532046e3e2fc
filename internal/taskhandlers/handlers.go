// Package taskhandlers implements the work behind every PasteTask type.
package taskhandlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/metrics"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/peerclient"
	"github.com/dmitrijs2005/gophpaste/internal/services"
	"github.com/dmitrijs2005/gophpaste/internal/tasks"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
)

// PeerDirectory reads PeerRecords.
type PeerDirectory interface {
	Get(ctx context.Context, appInstanceID string) (*models.PeerRecord, error)
	List(ctx context.Context) ([]*models.PeerRecord, error)
}

// Sessions returns the session of a trusted peer.
type Sessions interface {
	Session(ctx context.Context, peerID string) (*cryptox.Session, error)
}

// Transport is the outbound peer API the handlers use.
type Transport interface {
	SendPaste(ctx context.Context, t peerclient.Target, sess *cryptox.Session, data models.PasteData) error
	PullFile(ctx context.Context, t peerclient.Target, sess *cryptox.Session, req wire.PullFileRequest) ([]byte, error)
	PullIcon(ctx context.Context, t peerclient.Target, sess *cryptox.Session, req wire.PullIconRequest) ([]byte, error)
}

// TaskStore persists progress of a running task.
type TaskStore interface {
	Update(ctx context.Context, id string, fn func(t *models.PasteTask) error) (*models.PasteTask, error)
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}

type Deps struct {
	Peers    PeerDirectory
	Sessions Sessions
	Client   Transport
	Pastes   *services.PasteService
	Tasks    TaskStore
	Log      logging.Logger
	Metrics  *metrics.Metrics
	// RetentionDays and MaxPastes drive the cleanup task. Zero disables a rule.
	RetentionDays int
	MaxPastes     int
	Now           func() time.Time
}

// Register installs a handler for every task type.
func Register(e *tasks.Executor, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log.With("module", "taskhandlers")
	e.Register(models.TaskTypeSync, &syncHandler{d: d, log: log})
	e.Register(models.TaskTypePullFile, &pullFileHandler{d: d, log: log})
	e.Register(models.TaskTypePullIcon, &pullIconHandler{d: d})
	e.Register(models.TaskTypeDelete, &deleteHandler{d: d})
	e.Register(models.TaskTypeCleanup, &cleanupHandler{d: d, log: log})
	e.Register(models.TaskTypeRender, &renderHandler{d: d})
}

// connected returns the address and session of a peer that can be talked to.
func connected(ctx context.Context, d Deps, peerID string) (peerclient.Target, *cryptox.Session, error) {
	rec, err := d.Peers.Get(ctx, peerID)
	if err != nil {
		return peerclient.Target{}, nil, err
	}
	if rec.State != models.SyncStateConnected || rec.ConnectHostAddress == "" {
		return peerclient.Target{}, nil, fmt.Errorf("peer %s is %s: %w", peerID, rec.State, common.ErrPeerUnreachable)
	}
	sess, err := d.Sessions.Session(ctx, peerID)
	if err != nil {
		return peerclient.Target{}, nil, err
	}
	return peerclient.TargetOf(rec), sess, nil
}

func pasteID(t *models.PasteTask) (int64, error) {
	if t.PasteID == nil {
		return 0, fmt.Errorf("%s task %s without paste: %w", t.Type, t.ID, common.ErrInvalidRequest)
	}
	return *t.PasteID, nil
}

// transient reports errors a later attempt may not hit.
func transient(err error) bool {
	return errors.Is(err, common.ErrPeerUnreachable) || errors.Is(err, common.ErrPullChunkFail)
}
