package push

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// InsertOptions carries one token-insert request. UserID is empty for
// unauthenticated callers.
type InsertOptions struct {
	Token   TokenRecord
	AppName string
	UserID  string
}

// TokenStore is the registration side of the token collection: the RPC
// surface semantics of insert/remove/validate plus the recipient resolution
// the dispatch worker relies on.
type TokenStore interface {
	// Insert registers a token and returns the owning document id.
	// Authenticated: upsert into the user's document for the app, with
	// set-add semantics so a retried insert never duplicates a list
	// entry. Unauthenticated: only a pre-existing standalone match is
	// accepted; otherwise ErrInvalidRegistration.
	Insert(ctx context.Context, opts InsertOptions) (bson.ObjectID, error)

	// Remove drops a token. Authenticated callers pull the matching
	// element from their document's token list; unauthenticated callers
	// delete the standalone document outright.
	Remove(ctx context.Context, id bson.ObjectID, token string, userID string) error

	// Validate reports whether the token is known, searching both
	// document shapes. A match owned by a different user than the caller
	// is rejected.
	Validate(ctx context.Context, token string, vendor Vendor, callerID string) (bool, error)

	// Resolve expands a recipient selector into deliverable token
	// records.
	Resolve(ctx context.Context, sel RecipientSelector) ([]TokenRecord, error)

	// PurgeToken removes every occurrence of a (token, vendor) pair from
	// both document shapes. Used by the invalid-token cleanup policy.
	PurgeToken(ctx context.Context, token string, vendor Vendor) error
}

// NotificationQueue is the durable record of notifications awaiting
// delivery. Claim is the only cross-process mutual exclusion in the system:
// a conditional update that re-checks eligibility at write time.
type NotificationQueue interface {
	// Enqueue inserts a new record and returns its id.
	Enqueue(ctx context.Context, n *Notification) (bson.ObjectID, error)

	// FindDue returns up to limit eligible records ordered oldest first.
	FindDue(ctx context.Context, now int64, limit int) ([]*Notification, error)

	// Claim reserves the record until leaseUntil, succeeding only if the
	// record is still eligible at update time. A false return with nil
	// error means another worker holds the lease; skip silently.
	Claim(ctx context.Context, id bson.ObjectID, now, leaseUntil int64) (bool, error)

	// Archive finalises a record kept for history: sent=true, sentAt and
	// per-vendor counts stamped, lease reset.
	Archive(ctx context.Context, id bson.ObjectID, counts DeliveryCounts, sentAt int64) error

	// Delete removes a record after delivery.
	Delete(ctx context.Context, id bson.ObjectID) error
}

// Dispatcher sends one notification to one platform-specific token.
// Implementations never retry; the outcome tells the caller what, if
// anything, to do next. The returned error carries detail for logging when
// the outcome is not OutcomeSent.
type Dispatcher interface {
	Send(ctx context.Context, token string, n *Notification) (Outcome, error)
}
