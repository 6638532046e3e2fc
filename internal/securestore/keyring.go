// Package securestore keeps the device identity keys outside the database,
// in the OS keyring when one is available and in a 0600 file otherwise.
package securestore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
	"github.com/zalando/go-keyring"
)

const (
	serviceName  = "gophpaste"
	identityUser = "identity-v1"
)

// ErrNotFound is returned by a Backend for missing entries.
var ErrNotFound = keyring.ErrNotFound

// Backend is a minimal secret store.
type Backend interface {
	Get(service, user string) (string, error)
	Set(service, user, value string) error
	Delete(service, user string) error
}

type keyringBackend struct{}

func (keyringBackend) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (keyringBackend) Set(service, user, value string) error {
	return keyring.Set(service, user, value)
}
func (keyringBackend) Delete(service, user string) error { return keyring.Delete(service, user) }

// Store loads and persists the device Identity.
type Store struct {
	backend Backend
	// scope separates identities of several instances sharing one keyring.
	scope string
}

// New picks the OS keyring when it answers, and falls back to a file store
// under dataDir when it does not (headless Linux without a secret service).
func New(dataDir, scope string) *Store {
	if _, err := keyring.Get(serviceName, "probe"); err == nil || errors.Is(err, keyring.ErrNotFound) {
		return &Store{backend: keyringBackend{}, scope: scope}
	}
	return &Store{backend: newFileBackend(dataDir), scope: scope}
}

// NewWithBackend uses b as the secret store.
func NewWithBackend(b Backend, scope string) *Store {
	return &Store{backend: b, scope: scope}
}

type identityBlob struct {
	Sign  string `json:"sign"`
	Crypt string `json:"crypt"`
}

func (s *Store) user() string {
	if s.scope == "" {
		return identityUser
	}
	return identityUser + ":" + s.scope
}

// LoadIdentity returns ErrNotFound when no identity was stored yet.
func (s *Store) LoadIdentity() (*cryptox.Identity, error) {
	v, err := s.backend.Get(serviceName, s.user())
	if err != nil {
		return nil, err
	}
	var blob identityBlob
	if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &blob); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	sign, err := base64.RawStdEncoding.DecodeString(blob.Sign)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	crypt, err := base64.RawStdEncoding.DecodeString(blob.Crypt)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return &cryptox.Identity{SignPrivate: sign, CryptPrivate: crypt}, nil
}

// LoadOrCreateIdentity returns the stored identity or generates and stores
// a new one.
func (s *Store) LoadOrCreateIdentity() (*cryptox.Identity, error) {
	id, err := s.LoadIdentity()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err = cryptox.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(identityBlob{
		Sign:  base64.RawStdEncoding.EncodeToString(id.SignPrivate),
		Crypt: base64.RawStdEncoding.EncodeToString(id.CryptPrivate),
	})
	if err != nil {
		return nil, err
	}
	if err := s.backend.Set(serviceName, s.user(), string(raw)); err != nil {
		return nil, fmt.Errorf("store identity: %w", err)
	}
	return id, nil
}

// DeleteIdentity removes the stored identity; a missing one is not an error.
func (s *Store) DeleteIdentity() error {
	err := s.backend.Delete(serviceName, s.user())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
