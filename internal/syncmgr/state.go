package syncmgr

import (
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
)

// transitions lists the legal targets of every state. Self-transitions are
// always legal and not listed. DISCONNECTED only leads to CONNECTING, so a
// peer is never CONNECTED without a handshake attempt in between.
var transitions = map[models.SyncState][]models.SyncState{
	models.SyncStateDisconnected: {models.SyncStateConnecting},
	models.SyncStateConnecting: {
		models.SyncStateConnected, models.SyncStateUnverified,
		models.SyncStateUnmatched, models.SyncStateDisconnected,
	},
	models.SyncStateConnected: {
		models.SyncStateConnecting, models.SyncStateDisconnected, models.SyncStateUnmatched,
	},
	models.SyncStateUnverified: {
		models.SyncStateConnecting, models.SyncStateConnected,
		models.SyncStateUnmatched, models.SyncStateDisconnected,
	},
	models.SyncStateUnmatched: {
		models.SyncStateConnecting, models.SyncStateConnected,
		models.SyncStateUnverified, models.SyncStateDisconnected,
	},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to models.SyncState) bool {
	if from == to {
		return to.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves p to state to or fails with common.ErrIllegalTransition.
func Transition(p *models.PeerRecord, to models.SyncState) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("%s -> %s: %w", p.State, to, common.ErrIllegalTransition)
	}
	p.State = to
	return nil
}

// moveTo is Transition, passing through CONNECTING when to is not directly
// reachable. Both steps are validated.
func moveTo(p *models.PeerRecord, to models.SyncState) error {
	if !CanTransition(p.State, to) {
		if err := Transition(p, models.SyncStateConnecting); err != nil {
			return err
		}
	}
	return Transition(p, to)
}
