// Package peerserver serves the HTTP endpoints other devices call.
package peerserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
	"github.com/dmitrijs2005/gophpaste/internal/handshake"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SyncBackend is the part of the sync engine the peer endpoints drive.
type SyncBackend interface {
	SelfID() string
	OwnSyncInfo(ctx context.Context) wire.SyncInfo
	ShowToken(ctx context.Context, peerID string) error
	AcceptPair(ctx context.Context, peerID string, req wire.PairingRequest) (*handshake.PairResult, error)
	AcceptTrust(ctx context.Context, peerID string, req wire.TrustRequest) (wire.TrustResponse, error)
	// AcceptHeartbeat is called with the decrypted SyncInfo of a trusted peer.
	AcceptHeartbeat(ctx context.Context, peerID string, info wire.SyncInfo) error
	MarkExit(ctx context.Context, peerID string) error
	RemovedByPeer(ctx context.Context, peerID string) error
	Session(ctx context.Context, peerID string) (*cryptox.Session, error)
}

// PasteSink stores pastes pushed by peers.
type PasteSink interface {
	ReceivePaste(ctx context.Context, peerID string, data models.PasteData) error
}

// FileSource serves chunk and icon bytes of local pastes.
type FileSource interface {
	ReadChunk(ctx context.Context, w io.Writer, pasteID int64, chunkIndex int) error
	Icon(ctx context.Context, source string) ([]byte, error)
}

type Server struct {
	sync   SyncBackend
	pastes PasteSink
	files  FileSource
	log    logging.Logger
}

func New(sync SyncBackend, pastes PasteSink, files FileSource, log logging.Logger) *Server {
	return &Server{sync: sync, pastes: pastes, files: files, log: log.With("module", "peerserver")}
}

// Router builds the chi router of every peer route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get(wire.PathTelnet, s.telnet)
	r.Group(func(r chi.Router) {
		r.Use(s.requireCaller)
		r.Get(wire.PathSyncInfo, s.syncInfo)
		r.Post(wire.PathShowToken, s.showToken)
		r.Post(wire.PathPair, s.pair)
		r.Post(wire.PathTrust, s.trust)
		r.Post(wire.PathHeartbeat, s.heartbeat)
		r.Post(wire.PathNotifyExit, s.notifyExit)
		r.Post(wire.PathNotifyRemove, s.notifyRemove)
		r.Post(wire.PathPaste, s.secure(s.paste))
		r.Post(wire.PathPullFile, s.secure(s.pullFile))
		r.Post(wire.PathPullIcon, s.secure(s.pullIcon))
	})
	return r
}

// NewHTTPServer wraps the router with sane timeouts.
func (s *Server) NewHTTPServer(addr string, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: timeout,
	}
}

func callerID(ctx context.Context) string {
	c, _ := wire.CallerFrom(ctx)
	return c.AppInstanceID
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "peer request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"caller", r.Header.Get(common.AppInstanceIDHeaderName), "duration", time.Since(start))
	})
}

// requireCaller rejects requests without a caller id or aimed at another
// instance listening on the same address.
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(common.AppInstanceIDHeaderName)
		if caller == "" {
			wire.WriteFail(w, fmt.Errorf("%w: missing %s header", common.ErrInvalidRequest, common.AppInstanceIDHeaderName))
			return
		}
		if target := r.Header.Get(common.TargetAppInstanceIDHeaderName); target != "" && target != s.sync.SelfID() {
			wire.WriteFail(w, common.ErrInstanceMismatch)
			return
		}
		c := wire.Caller{AppInstanceID: caller}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			c.Host = host
		}
		c.Port, _ = strconv.Atoi(r.Header.Get(common.PortHeaderName))
		next.ServeHTTP(w, r.WithContext(wire.WithCaller(r.Context(), c)))
	})
}

// maxSecureBody bounds sealed request bodies, which may carry paste text.
const maxSecureBody = 64 << 20

type secureFunc func(ctx context.Context, peerID string, plaintext []byte) ([]byte, error)

// secure opens the sealed request body with the caller's session and seals
// the handler's reply with the same session.
func (s *Server) secure(fn secureFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		peerID := callerID(ctx)
		if r.Header.Get(common.SecureHeaderName) != "1" {
			wire.WriteFail(w, fmt.Errorf("%w: plaintext body on secure route", common.ErrInvalidRequest))
			return
		}
		sess, err := s.sync.Session(ctx, peerID)
		if err != nil {
			wire.WriteFail(w, err)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSecureBody))
		if err != nil {
			wire.WriteFail(w, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
			return
		}
		plaintext, err := sess.Open(body)
		if err != nil {
			s.log.Warn(ctx, "cannot open request", "caller", peerID, "path", r.URL.Path, "error", err)
			wire.WriteFail(w, err)
			return
		}
		out, err := fn(ctx, peerID, plaintext)
		if err != nil {
			wire.WriteFail(w, err)
			return
		}
		sealed, err := sess.Seal(out)
		if err != nil {
			s.log.Error(ctx, "cannot seal reply", "caller", peerID, "error", err)
			wire.WriteFail(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(sealed)
	}
}

func (s *Server) telnet(w http.ResponseWriter, r *http.Request) {
	wire.WriteJSON(w, http.StatusOK, wire.TelnetResponse{AppInstanceID: s.sync.SelfID()})
}

func (s *Server) syncInfo(w http.ResponseWriter, r *http.Request) {
	wire.WriteJSON(w, http.StatusOK, s.sync.OwnSyncInfo(r.Context()))
}

func (s *Server) showToken(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.ShowToken(r.Context(), callerID(r.Context())); err != nil {
		wire.WriteFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pair(w http.ResponseWriter, r *http.Request) {
	var req wire.PairingRequest
	if err := wire.DecodeJSON(r, &req); err != nil {
		wire.WriteFail(w, err)
		return
	}
	res, err := s.sync.AcceptPair(r.Context(), callerID(r.Context()), req)
	if err != nil {
		wire.WriteFail(w, err)
		return
	}
	w.Header().Set(common.SignatureHeaderName, base64.StdEncoding.EncodeToString(res.Signature))
	wire.WriteJSON(w, http.StatusOK, res.Response)
}

func (s *Server) trust(w http.ResponseWriter, r *http.Request) {
	var req wire.TrustRequest
	if err := wire.DecodeJSON(r, &req); err != nil {
		wire.WriteFail(w, err)
		return
	}
	resp, err := s.sync.AcceptTrust(r.Context(), callerID(r.Context()), req)
	if err != nil {
		wire.WriteFail(w, err)
		return
	}
	wire.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peerID := callerID(ctx)
	var req wire.HeartbeatRequest
	if err := wire.DecodeJSON(r, &req); err != nil {
		wire.WriteFail(w, err)
		return
	}
	sess, err := s.sync.Session(ctx, peerID)
	if err != nil {
		wire.WriteFail(w, err)
		return
	}
	var info wire.SyncInfo
	if err := sess.OpenJSON(req.Data, &info); err != nil {
		s.log.Warn(ctx, "heartbeat decrypt failed", "caller", peerID, "error", err)
		wire.WriteFail(w, err)
		return
	}
	if info.AppInfo.AppInstanceID != peerID {
		wire.WriteFail(w, common.ErrInstanceMismatch)
		return
	}
	if err := s.sync.AcceptHeartbeat(ctx, peerID, info); err != nil {
		wire.WriteFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) notifyExit(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.MarkExit(r.Context(), callerID(r.Context())); err != nil {
		wire.WriteFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) notifyRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.RemovedByPeer(r.Context(), callerID(r.Context())); err != nil {
		wire.WriteFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
