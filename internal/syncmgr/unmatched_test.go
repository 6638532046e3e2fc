package syncmgr

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_RejectedSessionStaysUnmatched(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "A")
	b := newNode(t, "B")
	connect(t, a, b)

	// A forgot B, so B's session no longer opens on A.
	require.NoError(t, a.m.hs.Invalidate(ctx, "B"))

	st, err := b.m.ResolveSync(ctx, "A")
	require.ErrorIs(t, err, common.ErrNotTrusted)
	assert.Equal(t, models.SyncStateUnmatched, st)
	assert.True(t, record(t, b, "A").Unmatched)

	for i := 0; i < 2; i++ {
		st, err = b.m.ResolveSync(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStateUnmatched, st)
		assert.Equal(t, models.SyncStateUnmatched, state(t, b, "A"))
	}

	require.NoError(t, b.m.ToVerify(ctx, "A"))
	token := shownToken(t, a, "B")
	require.NoError(t, b.m.Pair(ctx, "A", token))
	assert.Equal(t, models.SyncStateUnverified, state(t, b, "A"))
	assert.False(t, record(t, b, "A").Unmatched)

	require.NoError(t, a.m.TrustByToken(ctx, "B", token))
	st, err = b.m.ResolveSync(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateConnected, st)
}

func TestResolve_UnverifiedPeerWithStaleTrustBecomesUnmatched(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "A")
	b := newNode(t, "B")
	connect(t, a, b)

	_, err := b.peers.Update(ctx, "A", func(p *models.PeerRecord) error {
		p.State = models.SyncStateUnverified
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, a.m.hs.Invalidate(ctx, "B"))

	st, err := b.m.ResolveSync(ctx, "A")
	require.ErrorIs(t, err, common.ErrNotTrusted)
	assert.Equal(t, models.SyncStateUnmatched, st)
	_, err = b.m.Session(ctx, "A")
	assert.ErrorIs(t, err, common.ErrNotTrusted)
}

func TestHeartbeat_RejectedSessionBecomesUnmatched(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "A")
	b := newNode(t, "B")
	connect(t, a, b)

	require.NoError(t, b.m.hs.Invalidate(ctx, "A"))

	h := a.m.SyncHandlers()["B"]
	require.NotNil(t, h)
	err := h.Heartbeat(ctx)
	require.ErrorIs(t, err, common.ErrNotTrusted)

	rec := record(t, a, "B")
	assert.Equal(t, models.SyncStateUnmatched, rec.State)
	assert.True(t, rec.Unmatched)

	st, err := a.m.ResolveSync(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateUnmatched, st)
}

func TestPair_NewIdentityOnInitiatorSideIsUnmatched(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "A")
	b := newNode(t, "B")
	connect(t, a, b)

	// B reinstalled under the same instance id.
	b2 := newNode(t, "B")
	introduce(t, a, b2)
	introduce(t, b2, a)

	require.NoError(t, a.m.ToVerify(ctx, "B"))
	token := shownToken(t, b2, "A")
	require.NoError(t, a.m.Pair(ctx, "B", token))

	rec := record(t, a, "B")
	assert.Equal(t, models.SyncStateUnmatched, rec.State)
	assert.True(t, rec.Unmatched)
	assert.Equal(t, models.SyncStateUnverified, state(t, b2, "A"))

	st, err := a.m.ResolveSync(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateUnmatched, st)

	require.NoError(t, a.m.TrustByToken(ctx, "B", token))
	rec = record(t, a, "B")
	assert.Equal(t, models.SyncStateConnected, rec.State)
	assert.False(t, rec.Unmatched)
	assert.Equal(t, models.SyncStateConnected, state(t, b2, "A"))
}

func TestAcceptPair_NewIdentityOnVerifierSideIsUnmatched(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "A")
	b := newNode(t, "B")
	connect(t, a, b)

	b2 := newNode(t, "B")
	introduce(t, a, b2)
	introduce(t, b2, a)

	require.NoError(t, b2.m.ToVerify(ctx, "A"))
	token := shownToken(t, a, "B")
	require.NoError(t, b2.m.Pair(ctx, "A", token))

	rec := record(t, a, "B")
	assert.Equal(t, models.SyncStateUnmatched, rec.State)
	assert.True(t, rec.Unmatched)
	assert.Equal(t, models.SyncStateUnverified, state(t, b2, "A"))

	// The token A shows still confirms the new identity.
	require.NoError(t, b2.m.TrustByToken(ctx, "A", token))
	assert.Equal(t, models.SyncStateConnected, state(t, a, "B"))
	assert.False(t, record(t, a, "B").Unmatched)
	assert.Equal(t, models.SyncStateConnected, state(t, b2, "A"))
}

func TestAcceptPair_TokenUsedOnce(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "A")
	b := newNode(t, "B")
	intruder := newNode(t, "B")
	introduce(t, b, a)
	introduce(t, intruder, a)

	require.NoError(t, b.m.ToVerify(ctx, "A"))
	token := shownToken(t, a, "B")
	require.NoError(t, b.m.Pair(ctx, "A", token))

	err := intruder.m.Pair(ctx, "A", token)
	require.ErrorIs(t, err, common.ErrTokenInvalid)

	require.NoError(t, a.m.TrustByToken(ctx, "B", token))
	assert.Equal(t, models.SyncStateConnected, state(t, b, "A"))
}

func TestResolve_CallerCancelDoesNotAbortSharedCycle(t *testing.T) {
	a := newNode(t, "A")
	b := newNode(t, "B")
	introduce(t, a, b)

	arrived := make(chan struct{})
	release := make(chan struct{})
	var arrivedOnce, releaseOnce sync.Once
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	b.handler.mu.RLock()
	inner := b.handler.h
	b.handler.mu.RUnlock()
	b.handler.set(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == wire.PathTelnet {
			arrivedOnce.Do(func() { close(arrived) })
			<-release
		}
		inner.ServeHTTP(w, r)
	}))

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := a.m.ResolveSync(ctx1, "B")
		first <- err
	}()

	select {
	case <-arrived:
	case <-time.After(3 * time.Second):
		t.Fatal("resolve cycle did not reach the peer")
	}

	type result struct {
		st  models.SyncState
		err error
	}
	second := make(chan result, 1)
	go func() {
		st, err := a.m.ResolveSync(context.Background(), "B")
		second <- result{st, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel1()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	releaseOnce.Do(func() { close(release) })
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, models.SyncStateUnverified, res.st)
	case <-time.After(3 * time.Second):
		t.Fatal("shared cycle did not finish")
	}
}
