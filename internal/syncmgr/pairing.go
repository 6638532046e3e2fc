package syncmgr

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophpaste/internal/handshake"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
)

// VerifyRequest is a pairing waiting for the local user. Shown entries
// carry the token this device displays to the user; the others wait for the
// user to type the token shown by the peer.
type VerifyRequest struct {
	AppInstanceID string
	DeviceName    string
	Shown         bool
	Token         int
}

// ToVerify asks a peer to show a pairing token to its user and keeps the
// peer in the verify queue until it is trusted or ignored.
func (m *Manager) ToVerify(ctx context.Context, peerID string) error {
	rec, err := m.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	t, err := m.target(ctx, rec)
	if err != nil {
		return err
	}
	if err := m.client.ShowToken(ctx, t); err != nil {
		return fmt.Errorf("show token on %s: %w", peerID, err)
	}
	m.enqueueVerify(peerID, false)
	return nil
}

// Pair sends the token the user read off the peer's screen. On success both
// sides hold a pending pairing and the peer is UNVERIFIED.
func (m *Manager) Pair(ctx context.Context, peerID string, token int) error {
	rec, err := m.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	t, err := m.target(ctx, rec)
	if err != nil {
		return err
	}
	req := m.hs.NewPairingRequest(token)
	resp, sig, err := m.client.Pair(ctx, t, req)
	if err != nil {
		return fmt.Errorf("pair with %s: %w", peerID, err)
	}
	changed, err := m.hs.CompletePair(ctx, peerID, req, resp, sig)
	if err != nil {
		return fmt.Errorf("pair with %s: %w", peerID, err)
	}
	if changed {
		m.log.Warn(ctx, "peer identity changed", "app_instance_id", peerID)
		return m.settle(ctx, peerID, models.SyncStateUnmatched, t.Host)
	}
	return m.settle(ctx, peerID, models.SyncStateUnverified, t.Host)
}

// TrustByToken confirms a pending pairing with the token the user entered.
// Both sides persist each other's identity and the peer becomes CONNECTED.
func (m *Manager) TrustByToken(ctx context.Context, peerID string, token int) error {
	req, err := m.hs.NewTrustRequest(peerID, token)
	if err != nil {
		return err
	}
	rec, err := m.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	t, err := m.target(ctx, rec)
	if err != nil {
		return err
	}
	resp, err := m.client.Trust(ctx, t, req)
	if err != nil {
		return fmt.Errorf("trust %s: %w", peerID, err)
	}
	if err := m.hs.CompleteTrust(ctx, peerID, resp); err != nil {
		return fmt.Errorf("trust %s: %w", peerID, err)
	}
	m.dropVerify(peerID)
	return m.settle(ctx, peerID, models.SyncStateConnected, t.Host)
}

// ShowToken issues a token for peerID and queues it for the local user.
func (m *Manager) ShowToken(ctx context.Context, peerID string) error {
	if _, err := m.ensurePeer(ctx, peerID); err != nil {
		return err
	}
	m.hs.IssueToken(ctx, peerID)
	m.log.Info(ctx, "pairing token issued", "app_instance_id", peerID)
	m.enqueueVerify(peerID, true)
	return nil
}

// AcceptPair answers a PairingRequest received from peerID.
func (m *Manager) AcceptPair(ctx context.Context, peerID string, req wire.PairingRequest) (*handshake.PairResult, error) {
	if _, err := m.ensurePeer(ctx, peerID); err != nil {
		return nil, err
	}
	res, err := m.hs.HandlePair(ctx, peerID, req)
	if err != nil {
		return nil, err
	}
	next := models.SyncStateUnverified
	if res.IdentityChanged {
		m.log.Warn(ctx, "peer identity changed", "app_instance_id", peerID)
		next = models.SyncStateUnmatched
	}
	if err := m.settle(ctx, peerID, next, callerHost(ctx)); err != nil {
		return nil, err
	}
	return res, nil
}

// AcceptTrust answers a TrustRequest received from peerID.
func (m *Manager) AcceptTrust(ctx context.Context, peerID string, req wire.TrustRequest) (wire.TrustResponse, error) {
	if _, err := m.ensurePeer(ctx, peerID); err != nil {
		return wire.TrustResponse{}, err
	}
	resp, err := m.hs.HandleTrust(ctx, peerID, req)
	if err != nil {
		return resp, err
	}
	m.dropVerify(peerID)
	if err := m.settle(ctx, peerID, models.SyncStateConnected, callerHost(ctx)); err != nil {
		return wire.TrustResponse{}, err
	}
	return resp, nil
}

func callerHost(ctx context.Context) string {
	c, _ := wire.CallerFrom(ctx)
	return c.Host
}

// settle moves a peer to state after a handshake step over host. A
// successful step clears the unmatched mark; an identity change sets it.
func (m *Manager) settle(ctx context.Context, peerID string, state models.SyncState, host string) error {
	_, err := m.peers.Update(ctx, peerID, func(p *models.PeerRecord) error {
		if host != "" {
			p.ConnectHostAddress = host
			p.HostInfoList = models.MergeHostInfo(p.HostInfoList, []models.HostInfo{{HostAddress: host}})
		}
		p.Unmatched = state == models.SyncStateUnmatched
		return moveTo(p, state)
	})
	if err != nil {
		return fmt.Errorf("settle %s as %s: %w", peerID, state, err)
	}
	m.log.Info(ctx, "peer state", "app_instance_id", peerID, "state", state)
	return nil
}

// enqueueVerify adds peerID to the verify queue and wakes WaitToVerify.
func (m *Manager) enqueueVerify(peerID string, shown bool) {
	m.verifyMu.Lock()
	defer m.verifyMu.Unlock()
	if _, ok := m.verifyShown[peerID]; !ok {
		m.verifyQueue = append(m.verifyQueue, peerID)
	}
	m.verifyShown[peerID] = m.verifyShown[peerID] || shown
	close(m.verifyCh)
	m.verifyCh = make(chan struct{})
}

// IgnoreVerify dismisses a pairing attempt. A shown token stops working.
func (m *Manager) IgnoreVerify(peerID string) {
	m.hs.Cancel(peerID)
	m.dropVerify(peerID)
}

func (m *Manager) dropVerify(peerID string) {
	m.verifyMu.Lock()
	defer m.verifyMu.Unlock()
	delete(m.verifyShown, peerID)
	m.verifyQueue = slices.DeleteFunc(m.verifyQueue, func(id string) bool { return id == peerID })
}

// VerifyQueue returns the live verify requests in arrival order. Shown
// entries whose token expired are dropped.
func (m *Manager) VerifyQueue(ctx context.Context) []VerifyRequest {
	m.verifyMu.Lock()
	ids := slices.Clone(m.verifyQueue)
	shown := make(map[string]bool, len(ids))
	for _, id := range ids {
		shown[id] = m.verifyShown[id]
	}
	m.verifyMu.Unlock()

	out := make([]VerifyRequest, 0, len(ids))
	for _, id := range ids {
		vr := VerifyRequest{AppInstanceID: id, Shown: shown[id]}
		if vr.Shown {
			token, ok := m.hs.Token(id)
			if !ok {
				m.dropVerify(id)
				continue
			}
			vr.Token = token
		}
		if rec, err := m.peers.Get(ctx, id); err == nil {
			vr.DeviceName = rec.DeviceName
		}
		out = append(out, vr)
	}
	return out
}

// WaitToVerify blocks until at least one verify request is live.
func (m *Manager) WaitToVerify(ctx context.Context) ([]VerifyRequest, error) {
	for {
		m.verifyMu.Lock()
		ch := m.verifyCh
		m.verifyMu.Unlock()

		if q := m.VerifyQueue(ctx); len(q) > 0 {
			return q, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}
