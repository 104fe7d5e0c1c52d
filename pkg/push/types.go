// Package push contains the public domain model and interfaces for the
// push-notification service: token records, notification queue entries,
// recipient selection, and the contracts implemented by storage and
// platform packages.
package push

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Vendor tags a token with the platform capability that can deliver to it.
type Vendor string

const (
	VendorWeb     Vendor = "web"
	VendorAndroid Vendor = "android"
	VendorIOS     Vendor = "ios"
	// VendorAPN is the legacy tag for iOS endpoints registered by older
	// clients. It is routed identically to VendorIOS.
	VendorAPN Vendor = "apn"
)

// Valid reports whether v is one of the recognised vendor tags.
func (v Vendor) Valid() bool {
	switch v {
	case VendorWeb, VendorAndroid, VendorIOS, VendorAPN:
		return true
	}
	return false
}

// TokenRecord is a single device/browser push endpoint.
type TokenRecord struct {
	Vendor    Vendor `bson:"vendor" json:"vendor"`
	Token     string `bson:"token" json:"token"`
	CreatedAt int64  `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	Enabled   bool   `bson:"enabled,omitempty" json:"enabled,omitempty"`
}

// TokenDocument is a row of the token collection. Two shapes share the
// collection: a user document (UserID set, endpoints in Tokens) and a
// standalone document (no UserID, a single Vendor/Token pair awaiting
// adoption by a user at login).
type TokenDocument struct {
	ID      bson.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID  string        `bson:"userId,omitempty" json:"userId,omitempty"`
	AppName string        `bson:"appName" json:"appName"`
	Tokens  []TokenRecord `bson:"tokens,omitempty" json:"tokens,omitempty"`

	// Standalone shape only.
	Vendor Vendor `bson:"vendor,omitempty" json:"vendor,omitempty"`
	Token  string `bson:"token,omitempty" json:"token,omitempty"`

	UpdatedAt int64 `bson:"updatedAt" json:"updatedAt"`
}

// Standalone reports whether the document is an unowned single-token record.
func (d *TokenDocument) Standalone() bool {
	return d.UserID == ""
}

// Records expands the document into deliverable token records. User
// documents contribute their token list; standalone documents contribute
// their single pair.
func (d *TokenDocument) Records() []TokenRecord {
	if len(d.Tokens) > 0 {
		out := make([]TokenRecord, 0, len(d.Tokens))
		out = append(out, d.Tokens...)
		return out
	}
	if d.Token == "" {
		return nil
	}
	return []TokenRecord{{Vendor: d.Vendor, Token: d.Token}}
}

// DeliveryCounts tallies fan-out per vendor category. The ios and apn tags
// count under APN, android under FCM.
type DeliveryCounts struct {
	APN int `bson:"apn" json:"apn"`
	FCM int `bson:"fcm" json:"fcm"`
	Web int `bson:"web" json:"web"`
}

// Add increments the bucket for the given vendor.
func (c *DeliveryCounts) Add(v Vendor) {
	switch v {
	case VendorIOS, VendorAPN:
		c.APN++
	case VendorAndroid:
		c.FCM++
	case VendorWeb:
		c.Web++
	}
}

// Total is the sum across all buckets.
func (c DeliveryCounts) Total() int {
	return c.APN + c.FCM + c.Web
}

// Notification is one queue entry awaiting delivery.
//
// Sending is a claimed-until timestamp (epoch ms), not a boolean: a worker
// reserves the record by conditionally bumping it past now, and a crashed
// worker's reservation simply expires.
type Notification struct {
	ID    bson.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Title string        `bson:"title" json:"title"`
	Body  string        `bson:"body" json:"body"`
	Sound string        `bson:"sound,omitempty" json:"sound,omitempty"`
	Badge *int          `bson:"badge,omitempty" json:"badge,omitempty"`

	// Data travels opaque to the device as provider custom fields.
	Data map[string]string `bson:"data,omitempty" json:"data,omitempty"`

	// Exactly one of the three recipient fields is set; use Selector to
	// decode and NewNotification to construct.
	UserIDs  []string        `bson:"userIds,omitempty" json:"userIds,omitempty"`
	Tokens   []string        `bson:"tokens,omitempty" json:"tokens,omitempty"`
	TokenIDs []bson.ObjectID `bson:"tokenIds,omitempty" json:"tokenIds,omitempty"`

	CreatedAt  int64 `bson:"createdAt" json:"createdAt"`
	DelayUntil int64 `bson:"delayUntil,omitempty" json:"delayUntil,omitempty"`

	Sent    bool            `bson:"sent" json:"sent"`
	Sending int64           `bson:"sending" json:"sending"`
	SentAt  int64           `bson:"sentAt,omitempty" json:"sentAt,omitempty"`
	Count   *DeliveryCounts `bson:"count,omitempty" json:"count,omitempty"`
}

// NotificationOption customises a notification at construction time.
type NotificationOption func(*Notification)

// WithSound sets the provider sound hint.
func WithSound(sound string) NotificationOption {
	return func(n *Notification) { n.Sound = sound }
}

// WithBadge sets the application badge count.
func WithBadge(count int) NotificationOption {
	return func(n *Notification) { n.Badge = &count }
}

// WithData attaches opaque key/value payload data.
func WithData(data map[string]string) NotificationOption {
	return func(n *Notification) { n.Data = data }
}

// WithDelayUntil holds the notification back until the given epoch-ms
// instant.
func WithDelayUntil(at int64) NotificationOption {
	return func(n *Notification) { n.DelayUntil = at }
}

// NewNotification builds a queue entry with the recipient fields derived
// from the selector, eliminating the "none or several set" ambiguity at the
// source. A title is required; every producer transport shares this check.
func NewNotification(title, body string, recipients RecipientSelector, opts ...NotificationOption) (*Notification, error) {
	if title == "" {
		return nil, ErrMalformedNotification
	}
	n := &Notification{
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := recipients.apply(n); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Eligible reports whether the record may be claimed at the given instant.
// The store-side claim filter applies the same predicate atomically; this
// form exists for pre-filtering and tests.
func (n *Notification) Eligible(now int64) bool {
	if n.Sent || n.Sending >= now {
		return false
	}
	return n.DelayUntil == 0 || n.DelayUntil <= now
}

// Outcome classifies one provider delivery attempt.
type Outcome string

const (
	// OutcomeSent means the provider accepted the notification.
	OutcomeSent Outcome = "sent"
	// OutcomeInvalidToken means the provider reported the token dead.
	// Removal is a policy decision left to the caller.
	OutcomeInvalidToken Outcome = "invalid_token"
	// OutcomeTransientFailure covers network and provider-side errors;
	// nothing beyond logging is warranted.
	OutcomeTransientFailure Outcome = "transient_failure"
	// OutcomeUnconfigured means no delivery capability is wired for the
	// token's vendor.
	OutcomeUnconfigured Outcome = "unconfigured"
)
