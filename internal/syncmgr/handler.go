package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/peerclient"
)

// Handler drives the connection state of one peer.
type Handler struct {
	peerID string
	m      *Manager
	// attempted is cleared whenever the peer's advertised info changes, so
	// ResolvePending retries it.
	attempted atomic.Bool
}

func newHandler(m *Manager, peerID string) *Handler {
	return &Handler{peerID: peerID, m: m}
}

func (h *Handler) PeerID() string { return h.peerID }

// Attempted reports whether a resolve ran since the peer info last changed.
func (h *Handler) Attempted() bool { return h.attempted.Load() }

func (h *Handler) markDirty() { h.attempted.Store(false) }

// Record loads the current PeerRecord.
func (h *Handler) Record(ctx context.Context) (*models.PeerRecord, error) {
	return h.m.peers.Get(ctx, h.peerID)
}

// Resolve runs one resolve cycle. Concurrent calls for the same peer share a
// single in-flight cycle and its result. A caller whose ctx ends stops
// waiting, but the shared cycle runs on until CycleTimeout.
func (h *Handler) Resolve(ctx context.Context) (models.SyncState, error) {
	ch := h.m.flight.DoChan(h.peerID, func() (any, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.m.cfg.CycleTimeout)
		defer cancel()
		return h.resolve(cycleCtx)
	})
	select {
	case res := <-ch:
		state, _ := res.Val.(models.SyncState)
		return state, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *Handler) resolve(ctx context.Context) (models.SyncState, error) {
	defer h.attempted.Store(true)

	rec, err := h.m.peers.Update(ctx, h.peerID, func(p *models.PeerRecord) error {
		return Transition(p, models.SyncStateConnecting)
	})
	if err != nil {
		return "", err
	}

	host, err := h.m.probe(ctx, rec)
	if err != nil {
		h.m.log.Debug(ctx, "peer unreachable", "app_instance_id", h.peerID, "error", err)
		if _, uerr := h.setState(ctx, models.SyncStateDisconnected, nil); uerr != nil {
			return "", uerr
		}
		return models.SyncStateDisconnected, err
	}

	next, verr := h.verify(ctx, rec, peerclient.Target{AppInstanceID: h.peerID, Host: host.HostAddress, Port: rec.Port})
	if _, err := h.setState(ctx, next, &host); err != nil {
		return "", err
	}
	return next, verr
}

// verify decides the state of a reachable peer from its trust status. A
// peer that failed an identity check stays UNMATCHED until it is paired
// again.
func (h *Handler) verify(ctx context.Context, rec *models.PeerRecord, t peerclient.Target) (models.SyncState, error) {
	sess, err := h.m.hs.Session(ctx, h.peerID)
	if errors.Is(err, common.ErrNotTrusted) {
		if rec.Unmatched {
			return models.SyncStateUnmatched, nil
		}
		return models.SyncStateUnverified, nil
	}
	if err != nil {
		return models.SyncStateDisconnected, err
	}

	err = h.m.client.Heartbeat(ctx, t, sess, h.m.OwnSyncInfo(ctx))
	switch {
	case err == nil:
		return models.SyncStateConnected, nil
	case errors.Is(err, common.ErrDecryptFail), errors.Is(err, common.ErrNotTrusted):
		h.m.log.Warn(ctx, "peer rejected our session", "app_instance_id", h.peerID, "error", err)
		if ierr := h.m.hs.Invalidate(ctx, h.peerID); ierr != nil {
			return models.SyncStateUnmatched, ierr
		}
		return models.SyncStateUnmatched, err
	default:
		return models.SyncStateDisconnected, err
	}
}

// setState stores the outcome of a cycle, and the address that answered.
// Reaching UNMATCHED marks the record so later cycles keep that state.
func (h *Handler) setState(ctx context.Context, state models.SyncState, host *models.HostInfo) (*models.PeerRecord, error) {
	rec, err := h.m.peers.Update(ctx, h.peerID, func(p *models.PeerRecord) error {
		if host != nil {
			p.ConnectHostAddress = host.HostAddress
			p.ConnectNetworkPrefixLength = host.NetworkPrefixLength
		}
		if state == models.SyncStateUnmatched {
			p.Unmatched = true
		}
		return Transition(p, state)
	})
	if err != nil {
		return nil, fmt.Errorf("set state %s of %s: %w", state, h.peerID, err)
	}
	h.m.log.Debug(ctx, "peer state", "app_instance_id", h.peerID, "state", state)
	return rec, nil
}

// Heartbeat checks a CONNECTED peer. An unreachable peer is resolved again;
// a peer that cannot open our session becomes UNMATCHED.
func (h *Handler) Heartbeat(ctx context.Context) error {
	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	if rec.State != models.SyncStateConnected {
		return nil
	}
	sess, err := h.m.hs.Session(ctx, h.peerID)
	if err != nil {
		_, rerr := h.Resolve(ctx)
		return rerr
	}
	err = h.m.client.Heartbeat(ctx, peerclient.TargetOf(rec), sess, h.m.OwnSyncInfo(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrDecryptFail), errors.Is(err, common.ErrNotTrusted):
		if ierr := h.m.hs.Invalidate(ctx, h.peerID); ierr != nil {
			return ierr
		}
		_, uerr := h.setState(ctx, models.SyncStateUnmatched, nil)
		if uerr != nil {
			return uerr
		}
		return err
	default:
		_, rerr := h.Resolve(ctx)
		return rerr
	}
}
