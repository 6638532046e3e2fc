package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func info(id string) wire.SyncInfo {
	return wire.SyncInfo{
		AppInfo: wire.AppInfo{AppInstanceID: id},
		EndpointInfo: wire.EndpointInfo{
			DeviceName:   "device " + id,
			HostInfoList: []models.HostInfo{{HostAddress: "10.0.0." + id}},
			Port:         8372,
		},
	}
}

func newTestService(t *testing.T, bus *Bus, id string) *Service {
	t.Helper()
	s := New(bus.Endpoint(), func(context.Context) wire.SyncInfo { return info(id) },
		Config{Interval: 20 * time.Millisecond}, logging.NewNopLogger())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearch_FindsRegisteredDevices(t *testing.T) {
	bus := NewBus()
	a := newTestService(t, bus, "1")
	b := newTestService(t, bus, "2")
	c := newTestService(t, bus, "3")
	ctx := context.Background()
	b.RegisterService(ctx)
	c.RegisterService(ctx)

	found := a.Search(ctx, 150*time.Millisecond)
	ids := make([]string, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.AppInfo.AppInstanceID)
	}
	assert.ElementsMatch(t, []string{"2", "3"}, ids)
}

func TestSearch_NoAnswersIsEmpty(t *testing.T) {
	bus := NewBus()
	a := newTestService(t, bus, "1")
	newTestService(t, bus, "2")

	found := a.Search(context.Background(), 50*time.Millisecond)
	assert.NotNil(t, found)
	assert.Empty(t, found)
}

func TestSearch_IgnoresOwnAnnouncements(t *testing.T) {
	bus := NewBus()
	a := newTestService(t, bus, "1")
	a.RegisterService(context.Background())

	assert.Empty(t, a.Search(context.Background(), 60*time.Millisecond))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) has(kind Kind, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Info.AppInfo.AppInstanceID == id {
			return true
		}
	}
	return false
}

func TestBrowse_AnnounceAndBye(t *testing.T) {
	bus := NewBus()
	a := newTestService(t, bus, "1")
	b := newTestService(t, bus, "2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- a.Browse(ctx, rec.add) }()
	// Browse subscribes asynchronously; give it a moment before b talks.
	time.Sleep(20 * time.Millisecond)

	b.RegisterService(ctx)
	assert.Eventually(t, func() bool { return rec.has(KindAnnounce, "2") }, time.Second, 10*time.Millisecond)

	b.UnregisterService(ctx)
	assert.Eventually(t, func() bool { return rec.has(KindBye, "2") }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMalformedPacketsIgnored(t *testing.T) {
	bus := NewBus()
	a := newTestService(t, bus, "1")
	b := newTestService(t, bus, "2")
	b.RegisterService(context.Background())

	raw := bus.Endpoint()
	defer raw.Close()
	require.NoError(t, raw.Send([]byte("not json")))
	payload, err := json.Marshal(Announcement{Kind: KindAnnounce})
	require.NoError(t, err)
	require.NoError(t, raw.Send(payload))

	found := a.Search(context.Background(), 100*time.Millisecond)
	require.Len(t, found, 1)
	assert.Equal(t, "device 2", found[0].EndpointInfo.DeviceName)
}

func TestClose_StopsGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	a := New(bus.Endpoint(), func(context.Context) wire.SyncInfo { return info("1") },
		Config{Interval: 10 * time.Millisecond}, logging.NewNopLogger())
	a.RegisterService(context.Background())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, a.Close())
	// the announce ticker exits asynchronously after cancel
	time.Sleep(20 * time.Millisecond)
}

func TestBus_ClosedEndpoint(t *testing.T) {
	bus := NewBus()
	e := bus.Endpoint()
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Send([]byte("x")), ErrClosed)
	_, err := e.Recv()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewMulticast_RejectsUnicastGroup(t *testing.T) {
	_, err := NewMulticast("10.0.0.1", 0)
	assert.Error(t, err)
}
