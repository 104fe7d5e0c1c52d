package push

import "errors"

var (
	// ErrInvalidRegistration is returned by Insert when the caller is
	// unauthenticated and no standalone document already matches the
	// (appName, vendor, token) triple. There is no anonymous create path.
	ErrInvalidRegistration = errors.New("push: invalid registration: no matching token and no authenticated user")

	// ErrMalformedNotification marks a queue record with none or several
	// of the recipient-selection fields set. Such a record cannot make
	// progress; it is skipped, not retried.
	ErrMalformedNotification = errors.New("push: notification must set exactly one of userIds, tokens, tokenIds")

	// ErrUnknownVendor is returned when a token carries a vendor tag the
	// service does not recognise.
	ErrUnknownVendor = errors.New("push: unknown vendor")

	// ErrNotFound is returned by store lookups that matched no document.
	ErrNotFound = errors.New("push: document not found")
)
