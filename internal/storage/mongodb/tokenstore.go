// Package mongodb implements the token collection and the notification
// queue on MongoDB. The driver's conditional UpdateOne is the only
// mutual-exclusion primitive the queue needs, and the token documents lean
// on array-membership operators so concurrent registrations from a retried
// device stay idempotent.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const tokenCollection = "push_tokens"

// TokenStore implements push.TokenStore on a Mongo collection shared by
// user documents and standalone token documents.
type TokenStore struct {
	col *mongo.Collection
}

func NewTokenStore(db *mongo.Database) *TokenStore {
	return &TokenStore{col: db.Collection(tokenCollection)}
}

// Insert registers a token. See push.TokenStore for the authenticated /
// standalone split; the set-membership check before $addToSet keeps a
// retried insert from growing the token list.
func (s *TokenStore) Insert(ctx context.Context, opts push.InsertOptions) (bson.ObjectID, error) {
	if !opts.Token.Vendor.Valid() {
		return bson.ObjectID{}, push.ErrUnknownVendor
	}
	now := time.Now().UnixMilli()

	if opts.UserID == "" {
		// No anonymous create path: only a pre-existing standalone
		// document is accepted.
		var doc push.TokenDocument
		err := s.col.FindOne(ctx,
			bson.M{
				"appName": opts.AppName,
				"vendor":  opts.Token.Vendor,
				"token":   opts.Token.Token,
				"userId":  bson.M{"$exists": false},
			},
			options.FindOne().SetProjection(bson.M{"_id": 1}),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return bson.ObjectID{}, push.ErrInvalidRegistration
		}
		if err != nil {
			return bson.ObjectID{}, fmt.Errorf("standalone lookup failed: %w", err)
		}
		return doc.ID, nil
	}

	var doc push.TokenDocument
	err := s.col.FindOne(ctx,
		bson.M{"userId": opts.UserID, "appName": opts.AppName},
		options.FindOne().SetProjection(bson.M{"_id": 1, "tokens": 1}),
	).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		res, err := s.col.InsertOne(ctx, push.TokenDocument{
			UserID:  opts.UserID,
			AppName: opts.AppName,
			Tokens: []push.TokenRecord{{
				Vendor:    opts.Token.Vendor,
				Token:     opts.Token.Token,
				CreatedAt: now,
				Enabled:   true,
			}},
			UpdatedAt: now,
		})
		if err != nil {
			return bson.ObjectID{}, fmt.Errorf("token document insert failed: %w", err)
		}
		return res.InsertedID.(bson.ObjectID), nil
	case err != nil:
		return bson.ObjectID{}, fmt.Errorf("user document lookup failed: %w", err)
	}

	for _, t := range doc.Tokens {
		if t.Vendor == opts.Token.Vendor && t.Token == opts.Token.Token {
			// Already registered; idempotent no-op.
			return doc.ID, nil
		}
	}

	_, err = s.col.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{
			"$addToSet": bson.M{"tokens": push.TokenRecord{
				Vendor:    opts.Token.Vendor,
				Token:     opts.Token.Token,
				CreatedAt: now,
				Enabled:   true,
			}},
			"$set": bson.M{"updatedAt": now},
		},
	)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("token append failed: %w", err)
	}
	return doc.ID, nil
}

// Remove drops a token: list-element pull for authenticated callers,
// whole-document delete for standalone records.
func (s *TokenStore) Remove(ctx context.Context, id bson.ObjectID, token string, userID string) error {
	if userID != "" {
		_, err := s.col.UpdateOne(ctx,
			bson.M{"_id": id, "userId": userID},
			bson.M{
				"$pull": bson.M{"tokens": bson.M{"token": token}},
				"$set":  bson.M{"updatedAt": time.Now().UnixMilli()},
			},
		)
		if err != nil {
			return fmt.Errorf("token pull failed: %w", err)
		}
		return nil
	}
	if _, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "userId": bson.M{"$exists": false}}); err != nil {
		return fmt.Errorf("standalone delete failed: %w", err)
	}
	return nil
}

// Validate searches both document shapes for the token. A document owned by
// someone other than the caller never validates: token strings are public
// handles but ownership is isolated.
func (s *TokenStore) Validate(ctx context.Context, token string, vendor push.Vendor, callerID string) (bool, error) {
	var doc push.TokenDocument
	err := s.col.FindOne(ctx,
		bson.M{"$or": bson.A{
			bson.M{"tokens": bson.M{"$elemMatch": bson.M{"token": token, "vendor": vendor}}},
			bson.M{"token": token, "vendor": vendor, "userId": bson.M{"$exists": false}},
		}},
		options.FindOne().SetProjection(bson.M{"_id": 1, "userId": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate lookup failed: %w", err)
	}
	if callerID != "" && doc.UserID != "" && doc.UserID != callerID {
		return false, nil
	}
	return true, nil
}

// Resolve expands a recipient selector into token records, one query per
// strategy.
func (s *TokenStore) Resolve(ctx context.Context, sel push.RecipientSelector) ([]push.TokenRecord, error) {
	var filter bson.M
	switch sel.Kind() {
	case push.SelectByUsers:
		filter = bson.M{"userId": bson.M{"$in": sel.UserIDs()}}
	case push.SelectByTokens:
		filter = bson.M{"token": bson.M{"$in": sel.Tokens()}}
	case push.SelectByTokenIDs:
		filter = bson.M{"_id": bson.M{"$in": sel.TokenIDs()}}
	default:
		return nil, push.ErrMalformedNotification
	}

	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("recipient query failed: %w", err)
	}
	var docs []push.TokenDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("recipient decode failed: %w", err)
	}

	var records []push.TokenRecord
	for i := range docs {
		records = append(records, docs[i].Records()...)
	}
	return records, nil
}

// PurgeToken removes every occurrence of the (token, vendor) pair from both
// shapes.
func (s *TokenStore) PurgeToken(ctx context.Context, token string, vendor push.Vendor) error {
	if _, err := s.col.UpdateMany(ctx,
		bson.M{"tokens": bson.M{"$elemMatch": bson.M{"token": token, "vendor": vendor}}},
		bson.M{
			"$pull": bson.M{"tokens": bson.M{"token": token, "vendor": vendor}},
			"$set":  bson.M{"updatedAt": time.Now().UnixMilli()},
		},
	); err != nil {
		return fmt.Errorf("token purge (user documents) failed: %w", err)
	}
	if _, err := s.col.DeleteMany(ctx,
		bson.M{"token": token, "vendor": vendor, "userId": bson.M{"$exists": false}},
	); err != nil {
		return fmt.Errorf("token purge (standalone) failed: %w", err)
	}
	return nil
}
