package push

import "go.mongodb.org/mongo-driver/v2/bson"

// SelectorKind names the recipient-resolution strategy of a notification.
type SelectorKind string

const (
	SelectByUsers    SelectorKind = "userIds"
	SelectByTokens   SelectorKind = "tokens"
	SelectByTokenIDs SelectorKind = "tokenIds"
)

// RecipientSelector is a tagged variant choosing exactly one resolution
// strategy. Construct with ByUsers, ByTokens, or ByTokenIDs; the zero value
// is invalid.
type RecipientSelector struct {
	kind     SelectorKind
	userIDs  []string
	tokens   []string
	tokenIDs []bson.ObjectID
}

// ByUsers selects every token of every listed user's document.
func ByUsers(ids ...string) RecipientSelector {
	return RecipientSelector{kind: SelectByUsers, userIDs: ids}
}

// ByTokens selects standalone documents whose token matches an element.
func ByTokens(tokens ...string) RecipientSelector {
	return RecipientSelector{kind: SelectByTokens, tokens: tokens}
}

// ByTokenIDs selects token documents by id directly.
func ByTokenIDs(ids ...bson.ObjectID) RecipientSelector {
	return RecipientSelector{kind: SelectByTokenIDs, tokenIDs: ids}
}

// Kind returns the strategy tag.
func (s RecipientSelector) Kind() SelectorKind { return s.kind }

// UserIDs returns the user id set for SelectByUsers selectors.
func (s RecipientSelector) UserIDs() []string { return s.userIDs }

// Tokens returns the token set for SelectByTokens selectors.
func (s RecipientSelector) Tokens() []string { return s.tokens }

// TokenIDs returns the document id set for SelectByTokenIDs selectors.
func (s RecipientSelector) TokenIDs() []bson.ObjectID { return s.tokenIDs }

// apply copies the selected strategy onto the notification's recipient
// fields.
func (s RecipientSelector) apply(n *Notification) error {
	switch s.kind {
	case SelectByUsers:
		if len(s.userIDs) == 0 {
			return ErrMalformedNotification
		}
		n.UserIDs = s.userIDs
	case SelectByTokens:
		if len(s.tokens) == 0 {
			return ErrMalformedNotification
		}
		n.Tokens = s.tokens
	case SelectByTokenIDs:
		if len(s.tokenIDs) == 0 {
			return ErrMalformedNotification
		}
		n.TokenIDs = s.tokenIDs
	default:
		return ErrMalformedNotification
	}
	return nil
}

// Selector decodes the recipient fields of a stored record back into the
// tagged form. Records with none or several of the three fields set are
// malformed; they predate the constructor or were written by a foreign
// producer.
func (n *Notification) Selector() (RecipientSelector, error) {
	var (
		sel RecipientSelector
		set int
	)
	if len(n.UserIDs) > 0 {
		sel = ByUsers(n.UserIDs...)
		set++
	}
	if len(n.Tokens) > 0 {
		sel = ByTokens(n.Tokens...)
		set++
	}
	if len(n.TokenIDs) > 0 {
		sel = ByTokenIDs(n.TokenIDs...)
		set++
	}
	if set != 1 {
		return RecipientSelector{}, ErrMalformedNotification
	}
	return sel, nil
}
