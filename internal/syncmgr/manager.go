// Package syncmgr owns the per-peer handlers and the connection lifecycle of
// every known peer: resolve cycles, heartbeats, pairing and trust, and the
// verify queue shown to the user.
package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
	"github.com/dmitrijs2005/gophpaste/internal/handshake"
	"github.com/dmitrijs2005/gophpaste/internal/keylock"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/metrics"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/peerclient"
	"github.com/dmitrijs2005/gophpaste/internal/platform"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/peers"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// PeerClient is the outbound transport used by the manager.
type PeerClient interface {
	Telnet(ctx context.Context, t peerclient.Target) error
	SyncInfo(ctx context.Context, t peerclient.Target) (wire.SyncInfo, error)
	ShowToken(ctx context.Context, t peerclient.Target) error
	Pair(ctx context.Context, t peerclient.Target, req wire.PairingRequest) (wire.PairingResponse, []byte, error)
	Trust(ctx context.Context, t peerclient.Target, req wire.TrustRequest) (wire.TrustResponse, error)
	Heartbeat(ctx context.Context, t peerclient.Target, sess *cryptox.Session, own wire.SyncInfo) error
	NotifyExit(ctx context.Context, t peerclient.Target) error
	NotifyRemove(ctx context.Context, t peerclient.Target) error
}

// ResolveMode selects the peers a resolve cycle visits.
type ResolveMode int

const (
	// ResolveAll visits every peer that is not CONNECTED.
	ResolveAll ResolveMode = iota
	// ResolvePending visits peers not attempted since their info changed.
	ResolvePending
)

type Config struct {
	AppVersion        string
	Port              int
	ResolveInterval   time.Duration
	HeartbeatInterval time.Duration
	// Parallelism bounds concurrent resolves within one cycle.
	Parallelism int
	// CycleTimeout bounds one resolve cycle of a peer. The cycle does not
	// stop when the caller that started it gives up.
	CycleTimeout time.Duration
}

type Manager struct {
	selfID   string
	peers    peers.Repository
	hs       *handshake.Service
	client   PeerClient
	platform platform.Provider
	cfg      Config
	log      logging.Logger
	metrics  *metrics.Metrics

	locks  *keylock.KeyedMutex
	flight singleflight.Group

	mu       sync.RWMutex
	handlers map[string]*Handler

	verifyMu    sync.Mutex
	verifyQueue []string
	verifyShown map[string]bool
	verifyCh    chan struct{}

	kick chan struct{}
}

func New(hs *handshake.Service, repo peers.Repository, client PeerClient, p platform.Provider, cfg Config, log logging.Logger, m *metrics.Metrics) *Manager {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 30 * time.Second
	}
	return &Manager{
		selfID:      hs.SelfID(),
		peers:       repo,
		hs:          hs,
		client:      client,
		platform:    p,
		cfg:         cfg,
		log:         log.With("module", "syncmgr"),
		metrics:     m,
		locks:       keylock.New(),
		handlers:    make(map[string]*Handler),
		verifyShown: make(map[string]bool),
		verifyCh:    make(chan struct{}),
		kick:        make(chan struct{}, 1),
	}
}

func (m *Manager) SelfID() string { return m.selfID }

// OwnSyncInfo is what this device advertises.
func (m *Manager) OwnSyncInfo(ctx context.Context) wire.SyncInfo {
	return wire.SyncInfo{
		AppInfo: wire.AppInfo{
			AppInstanceID: m.selfID,
			AppVersion:    m.cfg.AppVersion,
			UserName:      m.platform.UserName(),
		},
		EndpointInfo: wire.EndpointInfo{
			DeviceID:     m.platform.DeviceID(),
			DeviceName:   m.platform.DeviceName(),
			Platform:     m.platform.Platform(),
			HostInfoList: m.platform.LocalAddresses(),
			Port:         m.cfg.Port,
		},
	}
}

// SyncHandlers returns a snapshot of the handler set.
func (m *Manager) SyncHandlers() map[string]*Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Handler, len(m.handlers))
	for id, h := range m.handlers {
		out[id] = h
	}
	return out
}

func (m *Manager) handler(peerID string) (*Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[peerID]
	return h, ok
}

func (m *Manager) addHandler(peerID string) *Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[peerID]
	if !ok {
		h = newHandler(m, peerID)
		m.handlers[peerID] = h
	}
	return h
}

func (m *Manager) removeHandler(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, peerID)
}

// Reconcile makes the handler set match the PeerRecord table.
func (m *Manager) Reconcile(ctx context.Context) error {
	records, err := m.peers.List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(records))
	counts := make(map[string]int)
	for _, r := range records {
		known[r.AppInstanceID] = true
		counts[string(r.State)]++
		m.addHandler(r.AppInstanceID)
	}
	m.mu.Lock()
	for id := range m.handlers {
		if !known[id] {
			delete(m.handlers, id)
		}
	}
	m.mu.Unlock()
	m.metrics.SetPeerStates(counts)
	return nil
}

// ListPeers returns every PeerRecord.
func (m *Manager) ListPeers(ctx context.Context) ([]*models.PeerRecord, error) {
	return m.peers.List(ctx)
}

// ConnectedPeers returns CONNECTED peers, optionally only those we may send to.
func (m *Manager) ConnectedPeers(ctx context.Context, allowSendOnly bool) ([]*models.PeerRecord, error) {
	records, err := m.peers.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.PeerRecord
	for _, r := range records {
		if r.State != models.SyncStateConnected || (allowSendOnly && !r.AllowSend) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// probe returns the first candidate host answering telnet with peer's id.
func (m *Manager) probe(ctx context.Context, p *models.PeerRecord) (models.HostInfo, error) {
	var errs error
	for _, h := range p.CandidateHosts() {
		t := peerclient.Target{AppInstanceID: p.AppInstanceID, Host: h.HostAddress, Port: p.Port}
		err := m.client.Telnet(ctx, t)
		if err == nil {
			return h, nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		return models.HostInfo{}, fmt.Errorf("%w: no known address", common.ErrPeerUnreachable)
	}
	return models.HostInfo{}, fmt.Errorf("%w: %v", common.ErrPeerUnreachable, errs)
}

// target returns an address to reach p, probing when none is known yet.
func (m *Manager) target(ctx context.Context, p *models.PeerRecord) (peerclient.Target, error) {
	if p.ConnectHostAddress != "" {
		return peerclient.TargetOf(p), nil
	}
	h, err := m.probe(ctx, p)
	if err != nil {
		return peerclient.Target{}, err
	}
	return peerclient.Target{AppInstanceID: p.AppInstanceID, Host: h.HostAddress, Port: p.Port}, nil
}

// ResolveSync runs a resolve cycle for one peer. Transport failures are
// returned; the peer's state reflects the cycle's outcome.
func (m *Manager) ResolveSync(ctx context.Context, peerID string) (models.SyncState, error) {
	h, ok := m.handler(peerID)
	if !ok {
		return "", fmt.Errorf("peer %s: %w", peerID, common.ErrorNotFound)
	}
	return h.Resolve(ctx)
}

// ResolveSyncs resolves the peers selected by mode, a bounded number at a
// time, and returns the combined errors.
func (m *Manager) ResolveSyncs(ctx context.Context, mode ResolveMode) error {
	var targets []*Handler
	for _, h := range m.SyncHandlers() {
		if mode == ResolvePending {
			if !h.Attempted() {
				targets = append(targets, h)
			}
			continue
		}
		rec, err := h.Record(ctx)
		if err != nil {
			continue
		}
		if rec.State != models.SyncStateConnected {
			targets = append(targets, h)
		}
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for _, h := range targets {
		g.Go(func() error {
			if _, err := h.Resolve(gctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", h.PeerID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// UpdateSyncInfo merges an advertisement. A new peer gets a CONNECTING
// record and a handler; known peers get their info merged with host
// addresses deduplicated. Either way a pending resolve is scheduled.
func (m *Manager) UpdateSyncInfo(ctx context.Context, info wire.SyncInfo) error {
	peerID := info.AppInfo.AppInstanceID
	if peerID == "" || peerID == m.selfID {
		return nil
	}
	unlock := m.locks.Lock(peerID)
	defer unlock()

	_, err := m.peers.Get(ctx, peerID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		if err := m.peers.Upsert(ctx, info.PeerRecord()); err != nil {
			return err
		}
		m.log.Info(ctx, "new peer", "app_instance_id", peerID, "device_name", info.EndpointInfo.DeviceName)
	case err != nil:
		return err
	default:
		_, err = m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
			mergeInfo(p, info)
			return nil
		})
		if err != nil {
			return err
		}
	}
	m.addHandler(peerID).markDirty()
	m.Kick()
	return nil
}

func mergeInfo(p *models.PeerRecord, info wire.SyncInfo) {
	p.AppVersion = info.AppInfo.AppVersion
	p.UserName = info.AppInfo.UserName
	p.DeviceID = info.EndpointInfo.DeviceID
	p.DeviceName = info.EndpointInfo.DeviceName
	p.Platform = info.EndpointInfo.Platform
	p.HostInfoList = models.MergeHostInfo(p.HostInfoList, info.EndpointInfo.HostInfoList)
	if info.EndpointInfo.Port > 0 {
		p.Port = info.EndpointInfo.Port
	}
}

// Kick asks the run loop for a pending resolve cycle without waiting.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// ensurePeer returns the record of a caller, creating one from the request
// address for a peer that has not been discovered yet.
func (m *Manager) ensurePeer(ctx context.Context, peerID string) (*models.PeerRecord, error) {
	unlock := m.locks.Lock(peerID)
	defer unlock()

	rec, err := m.peers.Get(ctx, peerID)
	if !errors.Is(err, common.ErrorNotFound) {
		return rec, err
	}
	caller, ok := wire.CallerFrom(ctx)
	if !ok || caller.Host == "" || caller.Port == 0 {
		return nil, fmt.Errorf("peer %s: %w", peerID, common.ErrorNotFound)
	}
	rec = &models.PeerRecord{
		AppInstanceID:      peerID,
		HostInfoList:       []models.HostInfo{{HostAddress: caller.Host}},
		Port:               caller.Port,
		ConnectHostAddress: caller.Host,
		State:              models.SyncStateConnecting,
		AllowSend:          true,
		AllowReceive:       true,
	}
	if info, err := m.client.SyncInfo(ctx, peerclient.TargetOf(rec)); err == nil && info.AppInfo.AppInstanceID == peerID {
		mergeInfo(rec, info)
	}
	if err := m.peers.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	m.addHandler(peerID)
	m.log.Info(ctx, "peer created from incoming request", "app_instance_id", peerID, "host", caller.Host)
	return rec, nil
}

// MarkExit records that a peer left the network.
func (m *Manager) MarkExit(ctx context.Context, peerID string) error {
	_, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		return Transition(p, models.SyncStateDisconnected)
	})
	if err == nil {
		m.log.Info(ctx, "peer exited", "app_instance_id", peerID)
	}
	return err
}

// NotifyExit tells every reachable peer that this device is leaving.
func (m *Manager) NotifyExit(ctx context.Context) error {
	records, err := m.peers.List(ctx)
	if err != nil {
		return err
	}
	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range records {
		if r.ConnectHostAddress == "" || r.State == models.SyncStateDisconnected {
			continue
		}
		g.Go(func() error {
			if err := m.client.NotifyExit(gctx, peerclient.TargetOf(r)); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// RemoveSyncHandler forgets a peer at the user's request: the peer is told,
// then its record, handler and trust are deleted.
func (m *Manager) RemoveSyncHandler(ctx context.Context, peerID string) error {
	unlock := m.locks.Lock(peerID)
	defer unlock()

	rec, err := m.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	if rec.ConnectHostAddress != "" {
		if err := m.client.NotifyRemove(ctx, peerclient.TargetOf(rec)); err != nil {
			m.log.Warn(ctx, "notify remove failed", "app_instance_id", peerID, "error", err)
		}
	}
	var errs error
	errs = multierr.Append(errs, m.hs.Invalidate(ctx, peerID))
	if err := m.peers.Delete(ctx, peerID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		errs = multierr.Append(errs, err)
	}
	m.removeHandler(peerID)
	m.dropVerify(peerID)
	return errs
}

// RemovedByPeer handles a peer that removed us: its trust is dropped and the
// peer waits for verification again.
func (m *Manager) RemovedByPeer(ctx context.Context, peerID string) error {
	if err := m.hs.Invalidate(ctx, peerID); err != nil {
		return err
	}
	_, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		return moveTo(p, models.SyncStateUnverified)
	})
	return err
}

func (m *Manager) UpdateAllowSend(ctx context.Context, peerID string, allow bool) error {
	_, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		p.AllowSend = allow
		return nil
	})
	return err
}

func (m *Manager) UpdateAllowReceive(ctx context.Context, peerID string, allow bool) error {
	_, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		p.AllowReceive = allow
		return nil
	})
	return err
}

func (m *Manager) UpdateNoteName(ctx context.Context, peerID, name string) error {
	_, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		p.NoteName = name
		return nil
	})
	return err
}

// Session returns the session with a trusted peer.
func (m *Manager) Session(ctx context.Context, peerID string) (*cryptox.Session, error) {
	return m.hs.Session(ctx, peerID)
}

// AcceptHeartbeat handles a verified heartbeat: the sender's info is merged
// and a peer we did not consider connected is resolved.
func (m *Manager) AcceptHeartbeat(ctx context.Context, peerID string, info wire.SyncInfo) error {
	rec, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		mergeInfo(p, info)
		return nil
	})
	if err != nil {
		return err
	}
	if rec.State != models.SyncStateConnected {
		m.addHandler(peerID).markDirty()
		m.Kick()
	}
	return nil
}
