package peers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx/dbxtest"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPeer(id string) *models.PeerRecord {
	return &models.PeerRecord{
		AppInstanceID: id,
		AppVersion:    "1.0.0",
		UserName:      "alice",
		DeviceID:      "dev-" + id,
		DeviceName:    "laptop",
		Platform:      models.Platform{Name: "linux", Arch: "amd64", BitMode: 64, Version: "6.1"},
		HostInfoList:  []models.HostInfo{{NetworkPrefixLength: 24, HostAddress: "192.168.1.10"}},
		Port:          13129,
		State:         models.SyncStateConnecting,
		AllowSend:     true,
		AllowReceive:  true,
	}
}

func TestUpsertGet_RoundTrip(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()

	p := newPeer("a")
	require.NoError(t, r.Upsert(ctx, p))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, p.Platform, got.Platform)
	assert.Equal(t, p.HostInfoList, got.HostInfoList)
	assert.Equal(t, models.SyncStateConnecting, got.State)
	assert.True(t, got.AllowSend)
	assert.False(t, got.CreateTime.IsZero())
}

func TestUpdate_UnmatchedFlagPersists(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, newPeer("a")))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Unmatched)

	_, err = r.Update(ctx, "a", func(p *models.PeerRecord) error {
		p.State = models.SyncStateUnmatched
		p.Unmatched = true
		return nil
	})
	require.NoError(t, err)

	got, err = r.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Unmatched)
	assert.Equal(t, models.SyncStateUnmatched, got.State)
}

func TestGet_NotFound(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdate_ModifyTimeNeverGoesBack(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	require.NoError(t, r.Upsert(ctx, newPeer("a")))

	// clock jumps backwards
	clock = clock.Add(-time.Hour)
	updated, err := r.Update(ctx, "a", func(p *models.PeerRecord) error {
		p.State = models.SyncStateConnected
		p.ModifyTime = time.Time{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), updated.ModifyTime)

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateConnected, got.State)
	assert.Equal(t, updated.ModifyTime, got.ModifyTime)
}

func TestUpdate_FnErrorAbortsWrite(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, newPeer("a")))

	boom := errors.New("boom")
	_, err := r.Update(ctx, "a", func(p *models.PeerRecord) error {
		p.State = models.SyncStateUnmatched
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateConnecting, got.State)
}

func TestUpdate_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, newPeer("a")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Update(ctx, "a", func(p *models.PeerRecord) error {
				p.Port++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 13129+20, got.Port)
}

func TestDelete_AndWatch(t *testing.T) {
	r := NewSQLiteRepository(dbxtest.OpenDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := r.Watch(ctx)
	require.NoError(t, r.Upsert(ctx, newPeer("a")))
	require.NoError(t, r.Delete(ctx, "a"))
	require.ErrorIs(t, r.Delete(ctx, "a"), common.ErrorNotFound)

	ev := <-events
	assert.Equal(t, watch.OpUpsert, ev.Op)
	assert.Equal(t, "a", ev.Value.AppInstanceID)
	ev = <-events
	assert.Equal(t, watch.OpDelete, ev.Op)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM peers").WillReturnError(errors.New("disk I/O error"))

	r := NewSQLiteRepository(db)
	_, err = r.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select peers")
	require.NoError(t, mock.ExpectationsWereMet())
}
