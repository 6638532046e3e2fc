package syncmgr

import (
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []models.SyncState{
	models.SyncStateConnected, models.SyncStateConnecting, models.SyncStateDisconnected,
	models.SyncStateUnmatched, models.SyncStateUnverified,
}

func TestCanTransition_NeverDisconnectedToConnected(t *testing.T) {
	assert.False(t, CanTransition(models.SyncStateDisconnected, models.SyncStateConnected))

	p := &models.PeerRecord{State: models.SyncStateDisconnected}
	require.ErrorIs(t, Transition(p, models.SyncStateConnected), common.ErrIllegalTransition)
	assert.Equal(t, models.SyncStateDisconnected, p.State)
}

func TestCanTransition_SelfAlwaysAllowed(t *testing.T) {
	for _, s := range allStates {
		assert.True(t, CanTransition(s, s), s)
	}
	assert.False(t, CanTransition("BOGUS", "BOGUS"))
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[[2]models.SyncState]bool{}
	for from, tos := range transitions {
		for _, to := range tos {
			allowed[[2]models.SyncState{from, to}] = true
		}
	}
	for _, from := range allStates {
		for _, to := range allStates {
			if from == to {
				continue
			}
			assert.Equal(t, allowed[[2]models.SyncState{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, CanTransition(models.SyncStateUnverified, models.SyncStateConnected))
	assert.False(t, CanTransition(models.SyncStateConnected, models.SyncStateUnverified))
}

// Any sequence of legal transitions that starts DISCONNECTED and ends
// CONNECTED passes CONNECTING.
func TestTransition_ConnectedAlwaysPassesConnecting(t *testing.T) {
	var walk func(state models.SyncState, sawConnecting bool, depth int)
	walk = func(state models.SyncState, sawConnecting bool, depth int) {
		if state == models.SyncStateConnected {
			assert.True(t, sawConnecting)
			return
		}
		if depth == 0 {
			return
		}
		for _, next := range transitions[state] {
			walk(next, sawConnecting || next == models.SyncStateConnecting, depth-1)
		}
	}
	walk(models.SyncStateDisconnected, false, 6)
}

func TestMoveTo_GoesThroughConnecting(t *testing.T) {
	p := &models.PeerRecord{State: models.SyncStateConnected}
	require.NoError(t, moveTo(p, models.SyncStateUnverified))
	assert.Equal(t, models.SyncStateUnverified, p.State)

	p = &models.PeerRecord{State: models.SyncStateDisconnected}
	require.NoError(t, moveTo(p, models.SyncStateUnverified))
	assert.Equal(t, models.SyncStateUnverified, p.State)
}
