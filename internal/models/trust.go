package models

import (
	"bytes"
	"time"
)

// TrustedIdentity is the persisted half of a TrustedSession: the public keys
// a peer proved during a successful trust exchange.
type TrustedIdentity struct {
	AppInstanceID  string
	SignPublicKey  []byte
	CryptPublicKey []byte
	CreateTime     time.Time
}

// SameKeys reports whether both identities carry identical key material.
func (t *TrustedIdentity) SameKeys(sign, crypt []byte) bool {
	return bytes.Equal(t.SignPublicKey, sign) && bytes.Equal(t.CryptPublicKey, crypt)
}
