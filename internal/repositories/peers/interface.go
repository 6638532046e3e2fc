// Package peers persists PeerRecord rows, one per remote device instance.
//
// All mutations of an existing record go through Update, which runs the
// read-modify-write inside one transaction while holding the record's key
// lock. ModifyTime never moves backwards.
package peers

import (
	"context"

	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/watch"
)

// Event is a change notification for one peer.
type Event = watch.Event[models.PeerRecord]

type Repository interface {
	// Get returns common.ErrorNotFound when the peer is unknown.
	Get(ctx context.Context, appInstanceID string) (*models.PeerRecord, error)
	List(ctx context.Context) ([]*models.PeerRecord, error)
	// Upsert inserts p or replaces the stored row with the same id.
	Upsert(ctx context.Context, p *models.PeerRecord) error
	// Update loads the record, applies fn and stores the result atomically.
	// fn returning an error aborts without writing.
	Update(ctx context.Context, appInstanceID string, fn func(p *models.PeerRecord) error) (*models.PeerRecord, error)
	Delete(ctx context.Context, appInstanceID string) error
	// Watch streams changes until ctx is done.
	Watch(ctx context.Context) <-chan Event
}
