package handshake

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/patrickmn/go-cache"
)

// Pending is a pairing that completed the pair step and waits for the user
// to confirm the token on one side.
type Pending struct {
	Token int
	// SignPublicKey and CryptPublicKey are the remote peer's keys.
	SignPublicKey  []byte
	CryptPublicKey []byte
	// Issuer is true on the device that showed the token.
	Issuer bool
}

// pairingCache keeps issued tokens and pending pairings, both keyed by peer
// id and both expiring after the token TTL.
type pairingCache struct {
	tokens  *cache.Cache
	pending *cache.Cache
}

func newPairingCache(ttl time.Duration) *pairingCache {
	return &pairingCache{
		tokens:  cache.New(ttl, ttl),
		pending: cache.New(ttl, ttl),
	}
}

// issue replaces the token shown for peerID. A pending pairing made with
// an older token is dropped.
func (c *pairingCache) issue(peerID string, token int) {
	c.tokens.SetDefault(peerID, token)
	c.pending.Delete(peerID)
}

// liveToken returns the token shown for peerID, if it has not expired.
func (c *pairingCache) liveToken(peerID string) (int, bool) {
	v, ok := c.tokens.Get(peerID)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func (c *pairingCache) consume(peerID string) {
	c.tokens.Delete(peerID)
	c.pending.Delete(peerID)
}

func (c *pairingCache) setPending(peerID string, p *Pending) {
	c.pending.SetDefault(peerID, p)
}

// claim stores p as the pending pairing of peerID unless one exists. When
// one does, it is returned with false.
func (c *pairingCache) claim(peerID string, p *Pending) (*Pending, bool) {
	for {
		if err := c.pending.Add(peerID, p, cache.DefaultExpiration); err == nil {
			return p, true
		}
		if prev, ok := c.getPending(peerID); ok {
			return prev, false
		}
	}
}

func (c *pairingCache) release(peerID string) {
	c.pending.Delete(peerID)
}

func (c *pairingCache) getPending(peerID string) (*Pending, bool) {
	v, ok := c.pending.Get(peerID)
	if !ok {
		return nil, false
	}
	return v.(*Pending), true
}

func (c *pairingCache) pendingIDs() []string {
	items := c.pending.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids
}

// randomToken returns a uniformly distributed 6-digit number.
func randomToken() int {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		panic(err)
	}
	return int(n.Int64()) + 100000
}

// fresh reports whether a millisecond timestamp lies within window of now,
// in either direction.
func fresh(ts int64, now time.Time, window time.Duration) bool {
	d := now.Sub(time.UnixMilli(ts))
	if d < 0 {
		d = -d
	}
	return d <= window
}
