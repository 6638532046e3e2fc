// Package peerclient calls the HTTP endpoints of other devices.
//
// Only transport failures are retried, with a bounded backoff. A peer that
// answers with a FailResponse yields a *wire.FailError, which unwraps to the
// matching sentinel of package common.
package peerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
	"github.com/sethvargo/go-retry"
)

// Target addresses one peer on one host.
type Target struct {
	AppInstanceID string
	Host          string
	Port          int
}

func (t Target) baseURL() string {
	return "http://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TargetOf addresses p on its last known connect address.
func TargetOf(p *models.PeerRecord) Target {
	return Target{AppInstanceID: p.AppInstanceID, Host: p.ConnectHostAddress, Port: p.Port}
}

type Config struct {
	// Port is the local listening port announced to callees.
	Port    int
	Timeout time.Duration
	// Retries is the number of extra attempts after a transport error.
	Retries uint64
	Backoff time.Duration
}

type Client struct {
	selfID string
	http   *http.Client
	cfg    Config
	log    logging.Logger
}

func New(selfID string, cfg Config, log logging.Logger) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Client{
		selfID: selfID,
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log.With("module", "peerclient"),
	}
}

type request struct {
	method  string
	path    string
	body    []byte
	secure  bool
	retries uint64
}

// do sends r and returns the response body of a 2xx reply together with its
// headers.
func (c *Client) do(ctx context.Context, t Target, r request) ([]byte, http.Header, error) {
	var (
		body   []byte
		header http.Header
	)
	backoff := retry.WithMaxRetries(r.retries, retry.NewExponential(c.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, r.method, t.baseURL()+r.path, bytes.NewReader(r.body))
		if err != nil {
			return err
		}
		req.Header.Set(common.AppInstanceIDHeaderName, c.selfID)
		req.Header.Set(common.TargetAppInstanceIDHeaderName, t.AppInstanceID)
		if c.cfg.Port > 0 {
			req.Header.Set(common.PortHeaderName, strconv.Itoa(c.cfg.Port))
		}
		if r.secure {
			req.Header.Set(common.SecureHeaderName, "1")
			req.Header.Set("Content-Type", "application/octet-stream")
		} else if r.body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Debug(ctx, "peer request failed", "path", r.path, "host", t.Host, "error", err)
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrPeerUnreachable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			return wire.ReadFail(resp)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrPeerUnreachable, err))
		}
		header = resp.Header
		return nil
	})
	return body, header, err
}

func (c *Client) doJSON(ctx context.Context, t Target, method, path string, in, out any) (http.Header, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return nil, err
		}
	}
	body, header, err := c.do(ctx, t, request{method: method, path: path, body: payload, retries: c.cfg.Retries})
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return header, nil
}

// doSecure seals in with sess and returns the opened response body.
func (c *Client) doSecure(ctx context.Context, t Target, sess *cryptox.Session, path string, in any) ([]byte, error) {
	payload, err := sess.SealJSON(in)
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(ctx, t, request{method: http.MethodPost, path: path, body: payload, secure: true, retries: c.cfg.Retries})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return sess.Open(body)
}

// Telnet probes one host. It fails with common.ErrInstanceMismatch when a
// different instance answers. It is never retried: the caller probes the
// next address instead.
func (c *Client) Telnet(ctx context.Context, t Target) error {
	body, _, err := c.do(ctx, t, request{method: http.MethodGet, path: wire.PathTelnet})
	if err != nil {
		return err
	}
	var tr wire.TelnetResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("decode telnet response: %w", err)
	}
	if tr.AppInstanceID != t.AppInstanceID {
		return fmt.Errorf("%w: want %s, got %s", common.ErrInstanceMismatch, t.AppInstanceID, tr.AppInstanceID)
	}
	return nil
}

func (c *Client) SyncInfo(ctx context.Context, t Target) (wire.SyncInfo, error) {
	var info wire.SyncInfo
	_, err := c.doJSON(ctx, t, http.MethodGet, wire.PathSyncInfo, nil, &info)
	return info, err
}

// ShowToken asks the peer to display a pairing token to its user.
func (c *Client) ShowToken(ctx context.Context, t Target) error {
	_, err := c.doJSON(ctx, t, http.MethodPost, wire.PathShowToken, nil, nil)
	return err
}

// Pair sends a PairingRequest and returns the response with its signature.
func (c *Client) Pair(ctx context.Context, t Target, req wire.PairingRequest) (wire.PairingResponse, []byte, error) {
	var resp wire.PairingResponse
	header, err := c.doJSON(ctx, t, http.MethodPost, wire.PathPair, req, &resp)
	if err != nil {
		return resp, nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(header.Get(common.SignatureHeaderName))
	if err != nil {
		return resp, nil, fmt.Errorf("%w: %v", common.ErrSignatureInvalid, err)
	}
	return resp, sig, nil
}

func (c *Client) Trust(ctx context.Context, t Target, req wire.TrustRequest) (wire.TrustResponse, error) {
	var resp wire.TrustResponse
	_, err := c.doJSON(ctx, t, http.MethodPost, wire.PathTrust, req, &resp)
	return resp, err
}

// Heartbeat sends own SyncInfo sealed with sess. A peer that cannot open it
// answers DECRYPT_FAIL or NOT_TRUSTED.
func (c *Client) Heartbeat(ctx context.Context, t Target, sess *cryptox.Session, own wire.SyncInfo) error {
	data, err := sess.SealJSON(own)
	if err != nil {
		return err
	}
	_, err = c.doJSON(ctx, t, http.MethodPost, wire.PathHeartbeat, wire.HeartbeatRequest{Data: data}, nil)
	return err
}

func (c *Client) NotifyExit(ctx context.Context, t Target) error {
	_, _, err := c.do(ctx, t, request{method: http.MethodPost, path: wire.PathNotifyExit})
	return err
}

func (c *Client) NotifyRemove(ctx context.Context, t Target) error {
	_, _, err := c.do(ctx, t, request{method: http.MethodPost, path: wire.PathNotifyRemove})
	return err
}

// SendPaste pushes a paste to the peer.
func (c *Client) SendPaste(ctx context.Context, t Target, sess *cryptox.Session, data models.PasteData) error {
	_, err := c.doSecure(ctx, t, sess, wire.PathPaste, data)
	return err
}

// PullFile fetches one decrypted chunk.
func (c *Client) PullFile(ctx context.Context, t Target, sess *cryptox.Session, req wire.PullFileRequest) ([]byte, error) {
	return c.doSecure(ctx, t, sess, wire.PathPullFile, req)
}

// PullIcon fetches the decrypted icon bytes of a source application.
func (c *Client) PullIcon(ctx context.Context, t Target, sess *cryptox.Session, req wire.PullIconRequest) ([]byte, error) {
	return c.doSecure(ctx, t, sess, wire.PathPullIcon, req)
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, common.ErrPeerUnreachable)
}
