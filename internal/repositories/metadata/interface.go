// Package metadata stores small local settings such as the device's own
// app instance id.
package metadata

import "context"

// Well-known keys.
const (
	KeyAppInstanceID = "app_instance_id"
	KeyDeviceID      = "device_id"
)

type Repository interface {
	// Get fails with common.ErrorNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// GetOrInit returns the stored value, storing gen() first if there is
	// none. Concurrent callers all see the first stored value.
	GetOrInit(ctx context.Context, key string, gen func() string) (string, error)
	// AppInstanceID returns this installation's id, creating it on first use.
	AppInstanceID(ctx context.Context) (string, error)
	Delete(ctx context.Context, key string) error
}
