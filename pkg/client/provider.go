package client

import "context"

// Provider is the native push plugin: an opaque capability that owns the
// platform subscription. Registration, notification and error events are
// published by the provider implementation onto the broadcaster handed to
// the reconciler; the methods here cover the calls the reconciler makes
// back into the plugin.
type Provider interface {
	// HasPermission reports whether the user granted notification
	// permission. Platforms with implicit permission return true.
	HasPermission(ctx context.Context) (bool, error)

	// Unregister drops the platform subscription. A failure means the
	// subscription may still be live, so the caller must not discard
	// its local handle.
	Unregister(ctx context.Context) error

	// SetBadge applies the application icon badge count.
	SetBadge(ctx context.Context, count int) error

	// GetBadge reads the current application icon badge count.
	GetBadge(ctx context.Context) (int, error)
}
