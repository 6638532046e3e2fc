package peerclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targetOf(t *testing.T, srv *httptest.Server, id string) Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Target{AppInstanceID: id, Host: host, Port: port}
}

// dropFirst closes the connection of the first n requests without answering.
func dropFirst(n int32, calls *atomic.Int32, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		next(w, r)
	}
}

func syncInfoHandler(w http.ResponseWriter, r *http.Request) {
	wire.WriteJSON(w, http.StatusOK, wire.SyncInfo{AppInfo: wire.AppInfo{AppInstanceID: r.Header.Get(common.TargetAppInstanceIDHeaderName)}})
}

func TestDo_RetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(dropFirst(2, &calls, syncInfoHandler))
	defer srv.Close()

	c := New("ME", Config{Timeout: time.Second, Retries: 3, Backoff: time.Millisecond}, logging.NewNopLogger())
	info, err := c.SyncInfo(context.Background(), targetOf(t, srv, "PEER"))
	require.NoError(t, err)
	assert.Equal(t, "PEER", info.AppInfo.AppInstanceID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(dropFirst(10, &calls, syncInfoHandler))
	defer srv.Close()

	c := New("ME", Config{Timeout: time.Second, Retries: 2, Backoff: time.Millisecond}, logging.NewNopLogger())
	_, err := c.SyncInfo(context.Background(), targetOf(t, srv, "PEER"))
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_FailResponseIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		wire.WriteFail(w, common.ErrNotTrusted)
	}))
	defer srv.Close()

	c := New("ME", Config{Timeout: time.Second, Retries: 3, Backoff: time.Millisecond}, logging.NewNopLogger())
	err := c.ShowToken(context.Background(), targetOf(t, srv, "PEER"))
	assert.ErrorIs(t, err, common.ErrNotTrusted)
	assert.False(t, IsUnreachable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_SendsIdentityHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New("ME", Config{Port: 9999, Timeout: time.Second}, logging.NewNopLogger())
	require.NoError(t, c.NotifyExit(context.Background(), targetOf(t, srv, "PEER")))
	assert.Equal(t, "ME", got.Get(common.AppInstanceIDHeaderName))
	assert.Equal(t, "PEER", got.Get(common.TargetAppInstanceIDHeaderName))
	assert.Equal(t, "9999", got.Get(common.PortHeaderName))
	assert.Empty(t, got.Get(common.SecureHeaderName))
}

func TestTelnet_NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(dropFirst(1, &calls, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wire.TelnetResponse{AppInstanceID: "PEER"})
	}))
	defer srv.Close()

	c := New("ME", Config{Timeout: time.Second, Retries: 3, Backoff: time.Millisecond}, logging.NewNopLogger())
	err := c.Telnet(context.Background(), targetOf(t, srv, "PEER"))
	assert.True(t, IsUnreachable(err))
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, c.Telnet(context.Background(), targetOf(t, srv, "PEER")))
}

func TestTargetOf(t *testing.T) {
	p := &models.PeerRecord{AppInstanceID: "X", ConnectHostAddress: "10.1.1.1", Port: 8080}
	tg := TargetOf(p)
	assert.Equal(t, Target{AppInstanceID: "X", Host: "10.1.1.1", Port: 8080}, tg)
	assert.Equal(t, "http://10.1.1.1:8080", tg.baseURL())
}
