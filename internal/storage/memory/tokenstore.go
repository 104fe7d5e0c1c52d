// Package memory implements the token store and notification queue on
// in-process maps, mirroring the Mongo semantics operation for operation.
// It backs unit tests and local development where no database is running.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// TokenStore is an in-memory push.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	docs map[bson.ObjectID]*push.TokenDocument
}

func NewTokenStore() *TokenStore {
	return &TokenStore{docs: make(map[bson.ObjectID]*push.TokenDocument)}
}

// Seed installs a document directly, assigning an id when missing. Test
// fixture helper.
func (s *TokenStore) Seed(doc push.TokenDocument) bson.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID.IsZero() {
		doc.ID = bson.NewObjectID()
	}
	s.docs[doc.ID] = &doc
	return doc.ID
}

// Get returns a copy of the stored document.
func (s *TokenStore) Get(id bson.ObjectID) (push.TokenDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return push.TokenDocument{}, false
	}
	out := *doc
	out.Tokens = slices.Clone(doc.Tokens)
	return out, true
}

func (s *TokenStore) Insert(_ context.Context, opts push.InsertOptions) (bson.ObjectID, error) {
	if !opts.Token.Vendor.Valid() {
		return bson.ObjectID{}, push.ErrUnknownVendor
	}
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.UserID == "" {
		for _, doc := range s.docs {
			if doc.Standalone() && doc.AppName == opts.AppName &&
				doc.Vendor == opts.Token.Vendor && doc.Token == opts.Token.Token {
				return doc.ID, nil
			}
		}
		return bson.ObjectID{}, push.ErrInvalidRegistration
	}

	for _, doc := range s.docs {
		if doc.UserID != opts.UserID || doc.AppName != opts.AppName {
			continue
		}
		for _, t := range doc.Tokens {
			if t.Vendor == opts.Token.Vendor && t.Token == opts.Token.Token {
				return doc.ID, nil
			}
		}
		doc.Tokens = append(doc.Tokens, push.TokenRecord{
			Vendor:    opts.Token.Vendor,
			Token:     opts.Token.Token,
			CreatedAt: now,
			Enabled:   true,
		})
		doc.UpdatedAt = now
		return doc.ID, nil
	}

	id := bson.NewObjectID()
	s.docs[id] = &push.TokenDocument{
		ID:      id,
		UserID:  opts.UserID,
		AppName: opts.AppName,
		Tokens: []push.TokenRecord{{
			Vendor:    opts.Token.Vendor,
			Token:     opts.Token.Token,
			CreatedAt: now,
			Enabled:   true,
		}},
		UpdatedAt: now,
	}
	return id, nil
}

func (s *TokenStore) Remove(_ context.Context, id bson.ObjectID, token string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil
	}
	if userID != "" {
		if doc.UserID != userID {
			return nil
		}
		doc.Tokens = slices.DeleteFunc(doc.Tokens, func(t push.TokenRecord) bool {
			return t.Token == token
		})
		doc.UpdatedAt = time.Now().UnixMilli()
		return nil
	}
	if doc.Standalone() {
		delete(s.docs, id)
	}
	return nil
}

func (s *TokenStore) Validate(_ context.Context, token string, vendor push.Vendor, callerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.docs {
		matched := false
		if doc.Standalone() {
			matched = doc.Token == token && doc.Vendor == vendor
		} else {
			for _, t := range doc.Tokens {
				if t.Token == token && t.Vendor == vendor {
					matched = true
					break
				}
			}
		}
		if !matched {
			continue
		}
		if callerID != "" && doc.UserID != "" && doc.UserID != callerID {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

func (s *TokenStore) Resolve(_ context.Context, sel push.RecipientSelector) ([]push.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []push.TokenRecord
	switch sel.Kind() {
	case push.SelectByUsers:
		for _, doc := range s.docs {
			if slices.Contains(sel.UserIDs(), doc.UserID) && doc.UserID != "" {
				records = append(records, doc.Records()...)
			}
		}
	case push.SelectByTokens:
		for _, doc := range s.docs {
			if doc.Standalone() && slices.Contains(sel.Tokens(), doc.Token) {
				records = append(records, doc.Records()...)
			}
		}
	case push.SelectByTokenIDs:
		for _, id := range sel.TokenIDs() {
			if doc, ok := s.docs[id]; ok {
				records = append(records, doc.Records()...)
			}
		}
	default:
		return nil, push.ErrMalformedNotification
	}
	return records, nil
}

func (s *TokenStore) PurgeToken(_ context.Context, token string, vendor push.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, doc := range s.docs {
		if doc.Standalone() {
			if doc.Token == token && doc.Vendor == vendor {
				delete(s.docs, id)
			}
			continue
		}
		doc.Tokens = slices.DeleteFunc(doc.Tokens, func(t push.TokenRecord) bool {
			return t.Token == token && t.Vendor == vendor
		})
	}
	return nil
}
