// Package handshake turns a reachable peer into a trusted one.
//
// The device that is paired to shows a 6-digit token (IssueToken). The
// initiator sends a PairingRequest carrying the token; both sides then hold a
// Pending pairing and report the peer as UNVERIFIED. Confirming the same
// token on either side (NewTrustRequest/HandleTrust/CompleteTrust) exchanges
// signed identities, persists them and derives the session used for all
// later wire traffic.
package handshake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/metrics"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/trust"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
)

type Config struct {
	// Freshness bounds the age of PairingRequest and TrustRequest timestamps.
	Freshness time.Duration
	// TokenTTL bounds how long a shown token and a pending pairing live.
	TokenTTL time.Duration
}

type Service struct {
	selfID   string
	identity *cryptox.Identity
	cryptPub []byte

	trust    trust.Repository
	cache    *pairingCache
	sessions *SessionStore

	cfg     Config
	log     logging.Logger
	metrics *metrics.Metrics

	now      func() time.Time
	newToken func() int
}

func NewService(selfID string, identity *cryptox.Identity, repo trust.Repository, cfg Config, log logging.Logger, m *metrics.Metrics) (*Service, error) {
	cryptPub, err := identity.CryptPublic()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Service{
		selfID:   selfID,
		identity: identity,
		cryptPub: cryptPub,
		trust:    repo,
		cache:    newPairingCache(cfg.TokenTTL),
		sessions: NewSessionStore(),
		cfg:      cfg,
		log:      log.With("module", "handshake"),
		metrics:  m,
		now:      time.Now,
		newToken: randomToken,
	}, nil
}

func (s *Service) SelfID() string { return s.selfID }

// IssueToken creates the token shown to the local user for peerID. A second
// call replaces the previous token.
func (s *Service) IssueToken(ctx context.Context, peerID string) int {
	token := s.newToken()
	s.cache.issue(peerID, token)
	s.log.Info(ctx, "pairing token issued", "app_instance_id", peerID, "token", token)
	return token
}

// Token returns the live token shown for peerID.
func (s *Service) Token(peerID string) (int, bool) {
	return s.cache.liveToken(peerID)
}

// Pending returns the pending pairing with peerID.
func (s *Service) Pending(peerID string) (*Pending, bool) {
	return s.cache.getPending(peerID)
}

// PendingPeers lists peers with a pending pairing.
func (s *Service) PendingPeers() []string {
	return s.cache.pendingIDs()
}

// NewPairingRequest builds the initiator's request for a token read from
// the other device.
func (s *Service) NewPairingRequest(token int) wire.PairingRequest {
	return wire.PairingRequest{
		SignPublicKey:  s.identity.SignPublic(),
		CryptPublicKey: s.cryptPub,
		Token:          token,
		Timestamp:      s.now().UnixMilli(),
	}
}

func (s *Service) ownResponse() wire.PairingResponse {
	return wire.PairingResponse{
		IdentityKey:    s.identity.SignPublic(),
		CryptPublicKey: s.cryptPub,
		Timestamp:      s.now().UnixMilli(),
	}
}

func (s *Service) sign(v any) ([]byte, error) {
	b, err := wire.SigningBytes(v)
	if err != nil {
		return nil, err
	}
	return s.identity.Sign(b), nil
}

func verify(pub []byte, v any, sig []byte) error {
	b, err := wire.SigningBytes(v)
	if err != nil {
		return err
	}
	return cryptox.Verify(pub, b, sig)
}

// PairResult is the verifier's answer to a PairingRequest.
type PairResult struct {
	Response  wire.PairingResponse
	Signature []byte
	// IdentityChanged is set when peerID was trusted with other keys. That
	// trust has been dropped.
	IdentityChanged bool
}

// HandlePair validates a PairingRequest received from peerID. A stale
// timestamp fails with ErrPairingExpired before the token is looked at.
func (s *Service) HandlePair(ctx context.Context, peerID string, req wire.PairingRequest) (res *PairResult, err error) {
	defer func() { s.metrics.Handshake("pair_in", err) }()

	if !fresh(req.Timestamp, s.now(), s.cfg.Freshness) {
		return nil, common.ErrPairingExpired
	}
	token, ok := s.cache.liveToken(peerID)
	if !ok || token != req.Token {
		return nil, common.ErrTokenInvalid
	}
	if len(req.SignPublicKey) == 0 || len(req.CryptPublicKey) == 0 {
		return nil, fmt.Errorf("%w: missing public keys", common.ErrInvalidRequest)
	}

	// The shown token admits one pairing. Only a resend of that same
	// pairing is answered again.
	pending := &Pending{
		Token:          req.Token,
		SignPublicKey:  req.SignPublicKey,
		CryptPublicKey: req.CryptPublicKey,
		Issuer:         true,
	}
	if prev, ok := s.cache.claim(peerID, pending); !ok {
		if !prev.Issuer || prev.Token != req.Token ||
			!bytes.Equal(prev.SignPublicKey, req.SignPublicKey) || !bytes.Equal(prev.CryptPublicKey, req.CryptPublicKey) {
			s.log.Warn(ctx, "pairing token reused", "app_instance_id", peerID)
			return nil, fmt.Errorf("%w: token already used", common.ErrTokenInvalid)
		}
	}

	changed, err := s.dropIfChanged(ctx, peerID, req.SignPublicKey, req.CryptPublicKey)
	if err != nil {
		s.cache.release(peerID)
		return nil, err
	}

	resp := s.ownResponse()
	sig, err := s.sign(resp)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "pairing accepted", "app_instance_id", peerID, "identity_changed", changed)
	return &PairResult{Response: resp, Signature: sig, IdentityChanged: changed}, nil
}

// CompletePair checks the verifier's signed answer on the initiator side and
// records the pending pairing. It reports whether a previous trust with
// other keys was dropped.
func (s *Service) CompletePair(ctx context.Context, peerID string, req wire.PairingRequest, resp wire.PairingResponse, sig []byte) (changed bool, err error) {
	defer func() { s.metrics.Handshake("pair_out", err) }()

	if err := verify(resp.IdentityKey, resp, sig); err != nil {
		return false, err
	}
	if !fresh(resp.Timestamp, s.now(), s.cfg.Freshness) {
		return false, common.ErrPairingExpired
	}
	changed, err = s.dropIfChanged(ctx, peerID, resp.IdentityKey, resp.CryptPublicKey)
	if err != nil {
		return false, err
	}
	s.cache.setPending(peerID, &Pending{
		Token:          req.Token,
		SignPublicKey:  resp.IdentityKey,
		CryptPublicKey: resp.CryptPublicKey,
	})
	return changed, nil
}

// checkToken verifies token against the pending pairing and, on the issuing
// side, against the still-live shown token.
func (s *Service) checkToken(peerID string, token int) (*Pending, error) {
	p, ok := s.cache.getPending(peerID)
	if !ok {
		return nil, common.ErrNoPendingPairing
	}
	if p.Token != token {
		return nil, common.ErrTokenInvalid
	}
	if p.Issuer {
		live, ok := s.cache.liveToken(peerID)
		if !ok || live != token {
			return nil, common.ErrTokenInvalid
		}
	}
	return p, nil
}

// NewTrustRequest starts the trust step after the local user confirmed token.
func (s *Service) NewTrustRequest(peerID string, token int) (wire.TrustRequest, error) {
	if _, err := s.checkToken(peerID, token); err != nil {
		return wire.TrustRequest{}, err
	}
	req := s.NewPairingRequest(token)
	sig, err := s.sign(req)
	if err != nil {
		return wire.TrustRequest{}, err
	}
	return wire.TrustRequest{PairingRequest: req, Signature: sig}, nil
}

// HandleTrust validates a TrustRequest from peerID, persists its identity
// and answers with the local identity.
func (s *Service) HandleTrust(ctx context.Context, peerID string, req wire.TrustRequest) (resp wire.TrustResponse, err error) {
	defer func() { s.metrics.Handshake("trust_in", err) }()

	pr := req.PairingRequest
	if !fresh(pr.Timestamp, s.now(), s.cfg.Freshness) {
		return resp, common.ErrPairingExpired
	}
	if err := verify(pr.SignPublicKey, pr, req.Signature); err != nil {
		return resp, err
	}
	p, err := s.checkToken(peerID, pr.Token)
	if err != nil {
		return resp, err
	}
	if !bytes.Equal(p.SignPublicKey, pr.SignPublicKey) || !bytes.Equal(p.CryptPublicKey, pr.CryptPublicKey) {
		return resp, common.ErrIdentityChanged
	}
	if err := s.persist(ctx, peerID, pr.SignPublicKey, pr.CryptPublicKey); err != nil {
		return resp, err
	}

	own := s.ownResponse()
	sig, err := s.sign(own)
	if err != nil {
		return resp, err
	}
	return wire.TrustResponse{PairingResponse: own, Signature: sig}, nil
}

// CompleteTrust checks the remote's TrustResponse and persists its identity.
func (s *Service) CompleteTrust(ctx context.Context, peerID string, resp wire.TrustResponse) (err error) {
	defer func() { s.metrics.Handshake("trust_out", err) }()

	p, ok := s.cache.getPending(peerID)
	if !ok {
		return common.ErrNoPendingPairing
	}
	pr := resp.PairingResponse
	if err := verify(p.SignPublicKey, pr, resp.Signature); err != nil {
		return err
	}
	if !bytes.Equal(p.SignPublicKey, pr.IdentityKey) || !bytes.Equal(p.CryptPublicKey, pr.CryptPublicKey) {
		return common.ErrIdentityChanged
	}
	if !fresh(pr.Timestamp, s.now(), s.cfg.Freshness) {
		return common.ErrPairingExpired
	}
	return s.persist(ctx, peerID, pr.IdentityKey, pr.CryptPublicKey)
}

// persist stores the identity, replaces the session and consumes the token
// and the pending pairing.
func (s *Service) persist(ctx context.Context, peerID string, signPub, cryptPub []byte) error {
	sess, err := cryptox.DeriveSession(s.identity, cryptPub, s.selfID, peerID)
	if err != nil {
		return err
	}
	err = s.trust.Put(ctx, &models.TrustedIdentity{
		AppInstanceID:  peerID,
		SignPublicKey:  signPub,
		CryptPublicKey: cryptPub,
	})
	if err != nil {
		return err
	}
	s.sessions.Put(peerID, sess)
	s.cache.consume(peerID)
	s.log.Info(ctx, "peer trusted", "app_instance_id", peerID, "session", sess.Fingerprint())
	return nil
}

func (s *Service) dropIfChanged(ctx context.Context, peerID string, signPub, cryptPub []byte) (bool, error) {
	trusted, err := s.trust.Get(ctx, peerID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if trusted.SameKeys(signPub, cryptPub) {
		return false, nil
	}
	s.log.Warn(ctx, "peer identity changed, dropping trust", "app_instance_id", peerID)
	return true, s.dropTrust(ctx, peerID)
}

// Session returns the session with a trusted peer, deriving it from the
// stored identity on first use. Untrusted peers yield ErrNotTrusted.
func (s *Service) Session(ctx context.Context, peerID string) (*cryptox.Session, error) {
	if sess, ok := s.sessions.Get(peerID); ok {
		return sess, nil
	}
	trusted, err := s.trust.Get(ctx, peerID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotTrusted
	}
	if err != nil {
		return nil, err
	}
	sess, err := cryptox.DeriveSession(s.identity, trusted.CryptPublicKey, s.selfID, peerID)
	if err != nil {
		return nil, err
	}
	s.sessions.Put(peerID, sess)
	return sess, nil
}

// IsTrusted reports whether a trusted identity is stored for peerID.
func (s *Service) IsTrusted(ctx context.Context, peerID string) bool {
	_, err := s.Session(ctx, peerID)
	return err == nil
}

// Cancel drops the shown token and the pending pairing with peerID but
// keeps any established trust.
func (s *Service) Cancel(peerID string) {
	s.cache.consume(peerID)
}

// Invalidate forgets every trust artifact of peerID.
func (s *Service) Invalidate(ctx context.Context, peerID string) error {
	s.cache.consume(peerID)
	return s.dropTrust(ctx, peerID)
}

// dropTrust forgets the stored identity and session of peerID but keeps a
// pairing in progress.
func (s *Service) dropTrust(ctx context.Context, peerID string) error {
	s.sessions.Delete(peerID)
	if err := s.trust.Delete(ctx, peerID); err != nil {
		return fmt.Errorf("invalidate %s: %w", peerID, err)
	}
	return nil
}
