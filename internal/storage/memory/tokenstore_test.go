package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/storage/memory"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func TestTokenStoreInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated insert creates a user document", func(t *testing.T) {
		store := memory.NewTokenStore()

		id, err := store.Insert(ctx, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorIOS, Token: "tok-1"},
			AppName: "app",
			UserID:  "u1",
		})
		require.NoError(t, err)

		doc, ok := store.Get(id)
		require.True(t, ok)
		assert.Equal(t, "u1", doc.UserID)
		require.Len(t, doc.Tokens, 1)
		assert.True(t, doc.Tokens[0].Enabled)
	})

	t.Run("repeat insert of the same token is idempotent", func(t *testing.T) {
		store := memory.NewTokenStore()
		opts := push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorIOS, Token: "tok-1"},
			AppName: "app",
			UserID:  "u1",
		}

		first, err := store.Insert(ctx, opts)
		require.NoError(t, err)
		second, err := store.Insert(ctx, opts)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		doc, _ := store.Get(first)
		assert.Len(t, doc.Tokens, 1)
	})

	t.Run("second distinct token lands in the same document", func(t *testing.T) {
		store := memory.NewTokenStore()

		first, err := store.Insert(ctx, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorIOS, Token: "tok-1"},
			AppName: "app",
			UserID:  "u1",
		})
		require.NoError(t, err)
		second, err := store.Insert(ctx, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorWeb, Token: "tok-2"},
			AppName: "app",
			UserID:  "u1",
		})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		doc, _ := store.Get(first)
		assert.Len(t, doc.Tokens, 2)
	})

	t.Run("anonymous insert cannot create a document", func(t *testing.T) {
		store := memory.NewTokenStore()

		_, err := store.Insert(ctx, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorAndroid, Token: "tok-anon"},
			AppName: "app",
		})
		assert.ErrorIs(t, err, push.ErrInvalidRegistration)
	})

	t.Run("anonymous insert confirms a pre-existing standalone document", func(t *testing.T) {
		store := memory.NewTokenStore()
		seeded := store.Seed(push.TokenDocument{
			AppName: "app",
			Vendor:  push.VendorAndroid,
			Token:   "tok-anon",
		})

		id, err := store.Insert(ctx, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorAndroid, Token: "tok-anon"},
			AppName: "app",
		})
		require.NoError(t, err)
		assert.Equal(t, seeded, id)
	})

	t.Run("unknown vendor is rejected", func(t *testing.T) {
		store := memory.NewTokenStore()

		_, err := store.Insert(ctx, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: "pager", Token: "tok"},
			AppName: "app",
			UserID:  "u1",
		})
		assert.ErrorIs(t, err, push.ErrUnknownVendor)
	})
}

func TestTokenStoreRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated remove pulls the token, keeps the document", func(t *testing.T) {
		store := memory.NewTokenStore()
		id := store.Seed(push.TokenDocument{
			UserID:  "u1",
			AppName: "app",
			Tokens: []push.TokenRecord{
				{Vendor: push.VendorIOS, Token: "tok-1"},
				{Vendor: push.VendorWeb, Token: "tok-2"},
			},
		})

		require.NoError(t, store.Remove(ctx, id, "tok-1", "u1"))

		doc, ok := store.Get(id)
		require.True(t, ok)
		require.Len(t, doc.Tokens, 1)
		assert.Equal(t, "tok-2", doc.Tokens[0].Token)
	})

	t.Run("remove against another user's document is a no-op", func(t *testing.T) {
		store := memory.NewTokenStore()
		id := store.Seed(push.TokenDocument{
			UserID:  "u1",
			AppName: "app",
			Tokens:  []push.TokenRecord{{Vendor: push.VendorIOS, Token: "tok-1"}},
		})

		require.NoError(t, store.Remove(ctx, id, "tok-1", "u2"))

		doc, _ := store.Get(id)
		assert.Len(t, doc.Tokens, 1)
	})

	t.Run("anonymous remove deletes a standalone document", func(t *testing.T) {
		store := memory.NewTokenStore()
		id := store.Seed(push.TokenDocument{
			AppName: "app",
			Vendor:  push.VendorAndroid,
			Token:   "tok-anon",
		})

		require.NoError(t, store.Remove(ctx, id, "tok-anon", ""))

		_, ok := store.Get(id)
		assert.False(t, ok)
	})

	t.Run("anonymous remove cannot touch a user document", func(t *testing.T) {
		store := memory.NewTokenStore()
		id := store.Seed(push.TokenDocument{
			UserID:  "u1",
			AppName: "app",
			Tokens:  []push.TokenRecord{{Vendor: push.VendorIOS, Token: "tok-1"}},
		})

		require.NoError(t, store.Remove(ctx, id, "tok-1", ""))

		_, ok := store.Get(id)
		assert.True(t, ok)
	})

	t.Run("remove of an absent document succeeds", func(t *testing.T) {
		store := memory.NewTokenStore()
		id := store.Seed(push.TokenDocument{AppName: "app", Vendor: push.VendorWeb, Token: "x"})
		require.NoError(t, store.Remove(ctx, id, "x", ""))
		assert.NoError(t, store.Remove(ctx, id, "x", ""))
	})
}

func TestTokenStoreValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("finds a token inside a user document", func(t *testing.T) {
		store := memory.NewTokenStore()
		store.Seed(push.TokenDocument{
			UserID:  "u1",
			AppName: "app",
			Tokens:  []push.TokenRecord{{Vendor: push.VendorIOS, Token: "tok-1"}},
		})

		valid, err := store.Validate(ctx, "tok-1", push.VendorIOS, "u1")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("token owned by another user never validates", func(t *testing.T) {
		store := memory.NewTokenStore()
		store.Seed(push.TokenDocument{
			UserID:  "u1",
			AppName: "app",
			Tokens:  []push.TokenRecord{{Vendor: push.VendorIOS, Token: "tok-1"}},
		})

		valid, err := store.Validate(ctx, "tok-1", push.VendorIOS, "u2")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("anonymous caller validates a standalone token", func(t *testing.T) {
		store := memory.NewTokenStore()
		store.Seed(push.TokenDocument{AppName: "app", Vendor: push.VendorWeb, Token: "tok-w"})

		valid, err := store.Validate(ctx, "tok-w", push.VendorWeb, "")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("vendor mismatch does not validate", func(t *testing.T) {
		store := memory.NewTokenStore()
		store.Seed(push.TokenDocument{AppName: "app", Vendor: push.VendorWeb, Token: "tok-w"})

		valid, err := store.Validate(ctx, "tok-w", push.VendorIOS, "")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("unknown token does not validate", func(t *testing.T) {
		store := memory.NewTokenStore()
		valid, err := store.Validate(ctx, "nope", push.VendorIOS, "")
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestTokenStoreResolve(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTokenStore()

	u1Doc := store.Seed(push.TokenDocument{
		UserID:  "u1",
		AppName: "app",
		Tokens: []push.TokenRecord{
			{Vendor: push.VendorIOS, Token: "ios-1"},
			{Vendor: push.VendorWeb, Token: "web-1"},
		},
	})
	store.Seed(push.TokenDocument{
		UserID:  "u2",
		AppName: "app",
		Tokens:  []push.TokenRecord{{Vendor: push.VendorAndroid, Token: "and-2"}},
	})
	store.Seed(push.TokenDocument{AppName: "app", Vendor: push.VendorAndroid, Token: "anon-1"})

	t.Run("by users expands every token of each user", func(t *testing.T) {
		recs, err := store.Resolve(ctx, push.ByUsers("u1"))
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("by tokens matches standalone docs only", func(t *testing.T) {
		recs, err := store.Resolve(ctx, push.ByTokens("anon-1", "ios-1"))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "anon-1", recs[0].Token)
	})

	t.Run("by token ids resolves directly", func(t *testing.T) {
		recs, err := store.Resolve(ctx, push.ByTokenIDs(u1Doc))
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("zero selector errors", func(t *testing.T) {
		_, err := store.Resolve(ctx, push.RecipientSelector{})
		assert.ErrorIs(t, err, push.ErrMalformedNotification)
	})
}

func TestTokenStorePurgeToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTokenStore()

	userDoc := store.Seed(push.TokenDocument{
		UserID:  "u1",
		AppName: "app",
		Tokens: []push.TokenRecord{
			{Vendor: push.VendorIOS, Token: "dead"},
			{Vendor: push.VendorWeb, Token: "alive"},
		},
	})
	anonDoc := store.Seed(push.TokenDocument{AppName: "app", Vendor: push.VendorIOS, Token: "dead"})

	require.NoError(t, store.PurgeToken(ctx, "dead", push.VendorIOS))

	doc, ok := store.Get(userDoc)
	require.True(t, ok)
	require.Len(t, doc.Tokens, 1)
	assert.Equal(t, "alive", doc.Tokens[0].Token)

	_, ok = store.Get(anonDoc)
	assert.False(t, ok)
}
