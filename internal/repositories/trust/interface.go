// Package trust persists the identities of peers this device trusts.
package trust

import (
	"context"

	"github.com/dmitrijs2005/gophpaste/internal/models"
)

// Repository stores at most one TrustedIdentity per app instance id.
type Repository interface {
	// Get returns common.ErrorNotFound for untrusted peers.
	Get(ctx context.Context, appInstanceID string) (*models.TrustedIdentity, error)
	// Put replaces any identity stored for the same peer.
	Put(ctx context.Context, identity *models.TrustedIdentity) error
	Delete(ctx context.Context, appInstanceID string) error
	List(ctx context.Context) ([]*models.TrustedIdentity, error)
}
