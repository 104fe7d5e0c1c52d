// Package client keeps a device's push token reconciled with the server
// across login, logout, token rotation, and permission changes. It wraps
// the platform's native push plugin (an opaque event source) and the
// token RPC surface behind small interfaces so the reconciliation state
// machine stays testable.
package client

// EventKind tags one variant of the client push event stream.
type EventKind string

const (
	// EventReady fires once the native plugin is initialised.
	EventReady EventKind = "ready"
	// EventRegistration carries a new or rotated device token.
	EventRegistration EventKind = "registration"
	// EventNotification is a push received while the app is in the
	// foreground.
	EventNotification EventKind = "notification"
	// EventStartup is a push that arrived while the app was closed or
	// backgrounded.
	EventStartup EventKind = "startup"
	// EventAlert, EventSound and EventBadge are decompositions of an
	// incoming push for subscribers that only care about one aspect.
	EventAlert EventKind = "alert"
	EventSound EventKind = "sound"
	EventBadge EventKind = "badge"
	// EventError carries a plugin failure.
	EventError EventKind = "error"
)

// Incoming is the payload of a received push notification.
type Incoming struct {
	Title      string
	Message    string
	Sound      string
	Badge      *int
	Foreground bool
	Data       map[string]string
}

// Event is a tagged union: Kind selects which of the remaining fields are
// meaningful. It replaces a string-keyed event emitter so subscribers
// switch over a closed set of variants.
type Event struct {
	Kind EventKind

	// Token is set for EventRegistration.
	Token string

	// Notification is set for the notification-derived kinds.
	Notification *Incoming

	// Err is set for EventError.
	Err error
}
