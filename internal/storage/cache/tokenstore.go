// Package cache adds a Redis read-aside layer in front of a token store.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a decorator that caches per-user recipient
// resolution. Only the ByUsers strategy is cached: it is the hot path of
// every user-addressed fan-out, while token- and id-addressed lookups are
// one-shot.
type CachedTokenStore struct {
	realStore push.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore push.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS ---

func (s *CachedTokenStore) Resolve(ctx context.Context, sel push.RecipientSelector) ([]push.TokenRecord, error) {
	if sel.Kind() != push.SelectByUsers {
		return s.realStore.Resolve(ctx, sel)
	}

	var out []push.TokenRecord
	for _, userID := range sel.UserIDs() {
		var cached []push.TokenRecord
		if err := s.cache.Get(ctx, s.cacheKey(userID), &cached); err == nil {
			out = append(out, cached...)
			continue
		}

		fresh, err := s.realStore.Resolve(ctx, push.ByUsers(userID))
		if err != nil {
			return nil, err
		}
		// Caching is an optimisation, not a transaction: if Redis is
		// down we just serve from the store.
		_ = s.cache.Set(ctx, s.cacheKey(userID), fresh, s.ttl)
		out = append(out, fresh...)
	}
	return out, nil
}

func (s *CachedTokenStore) Validate(ctx context.Context, token string, vendor push.Vendor, callerID string) (bool, error) {
	return s.realStore.Validate(ctx, token, vendor, callerID)
}

// --- WRITE PATHS (invalidate-on-write) ---

func (s *CachedTokenStore) Insert(ctx context.Context, opts push.InsertOptions) (bson.ObjectID, error) {
	id, err := s.realStore.Insert(ctx, opts)
	if err != nil {
		return id, err
	}
	if opts.UserID != "" {
		if err := s.invalidate(ctx, opts.UserID); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (s *CachedTokenStore) Remove(ctx context.Context, id bson.ObjectID, token string, userID string) error {
	if err := s.realStore.Remove(ctx, id, token, userID); err != nil {
		return err
	}
	if userID != "" {
		// Even though the store write succeeded, the cache must go too,
		// or the user keeps receiving until the TTL runs out.
		return s.invalidate(ctx, userID)
	}
	return nil
}

// PurgeToken cannot know which cached users referenced the token, so it
// invalidates nothing; staleness is bounded by the TTL, which is acceptable
// for dead-token cleanup.
func (s *CachedTokenStore) PurgeToken(ctx context.Context, token string, vendor push.Vendor) error {
	return s.realStore.PurgeToken(ctx, token, vendor)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) error {
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("push:tokens:%s", userID)
}
