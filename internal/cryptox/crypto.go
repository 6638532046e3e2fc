// Package cryptox holds the device identity keys and the per-peer AEAD
// sessions used on the wire.
package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Identity is the long-term key material of one device: an Ed25519 signing
// key and an X25519 key for session agreement.
type Identity struct {
	SignPrivate  ed25519.PrivateKey
	CryptPrivate []byte
}

// GenerateIdentity creates a fresh identity from crypto/rand.
func GenerateIdentity() (*Identity, error) {
	_, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	cryptPriv := common.GenerateRandByteArray(curve25519.ScalarSize)
	return &Identity{SignPrivate: signPriv, CryptPrivate: cryptPriv}, nil
}

// SignPublic returns the Ed25519 public key.
func (id *Identity) SignPublic() []byte {
	return []byte(id.SignPrivate.Public().(ed25519.PublicKey))
}

// CryptPublic returns the X25519 public key.
func (id *Identity) CryptPublic() ([]byte, error) {
	return curve25519.X25519(id.CryptPrivate, curve25519.Basepoint)
}

// Sign signs msg with the identity's signing key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.SignPrivate, msg)
}

// Wipe zeroes the private key material.
func (id *Identity) Wipe() {
	common.WipeByteArray(id.SignPrivate)
	common.WipeByteArray(id.CryptPrivate)
}

// Verify checks sig over msg against an Ed25519 public key. It returns
// common.ErrSignatureInvalid on any mismatch, including malformed keys.
func Verify(pub, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return common.ErrSignatureInvalid
	}
	return nil
}

// Session is an XChaCha20-Poly1305 channel shared by exactly two devices.
type Session struct {
	key []byte
}

// DeriveSession agrees a session key with a peer. Both sides derive the same
// key because the instance ids are sorted before being mixed in.
func DeriveSession(own *Identity, peerCryptPublic []byte, ownID, peerID string) (*Session, error) {
	shared, err := curve25519.X25519(own.CryptPrivate, peerCryptPublic)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	defer common.WipeByteArray(shared)

	ids := []string{ownID, peerID}
	sort.Strings(ids)
	info := []byte("gophpaste-session|" + ids[0] + "|" + ids[1])

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return &Session{key: key}, nil
}

// Fingerprint is a short stable digest of the session key, safe to log.
func (s *Session) Fingerprint() string {
	sum := sha256.Sum256(s.key)
	return fmt.Sprintf("%x", sum[:4])
}

// Seal encrypts plaintext. The random nonce is prepended to the result.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptFail, err)
	}
	nonce := common.GenerateRandByteArray(aead.NonceSize())
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. Tampered or foreign ciphertext yields common.ErrDecryptFail.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptFail, err)
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryptFail)
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptFail, err)
	}
	return plaintext, nil
}

// SealJSON serializes v to JSON and encrypts it.
//
// Example:
//
//	ct, err := session.SealJSON(models.PasteData{Text: "hello"})
//	if err != nil {
//	    return err
//	}
func (s *Session) SealJSON(v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptFail, err)
	}
	return s.Seal(plaintext)
}

// OpenJSON decrypts ciphertext and unmarshals the JSON into v.
func (s *Session) OpenJSON(ciphertext []byte, v any) error {
	plaintext, err := s.Open(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryptFail, err)
	}
	return nil
}
