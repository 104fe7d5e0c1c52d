// Package api exposes the token lifecycle RPC surface over HTTP:
// token-insert, token-remove, token-validate, and the producer-facing
// notification enqueue.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type TokenAPI struct {
	Store  push.TokenStore
	Queue  push.NotificationQueue
	Logger *slog.Logger
}

func NewTokenAPI(store push.TokenStore, queue push.NotificationQueue, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Queue:  queue,
		Logger: logger,
	}
}

// tokenRef is the wire shape of one (vendor, token) pair.
type tokenRef struct {
	Vendor push.Vendor `json:"vendor"`
	Token  string      `json:"token"`
}

// --- token-insert ---

type InsertTokenRequest struct {
	Token   tokenRef `json:"token"`
	AppName string   `json:"appName"`
}

type InsertTokenResponse struct {
	ID string `json:"id"`
}

// InsertToken registers a token for the calling principal, or confirms a
// pre-existing standalone registration for anonymous callers. Anonymous
// callers cannot create documents.
func (a *TokenAPI) InsertToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Anonymous callers are allowed here; the store decides what they
	// may do.
	userID, _ := middleware.GetUserHandleFromContext(ctx)

	var req InsertTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token.Token == "" || req.AppName == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token or appName")
		return
	}

	id, err := a.Store.Insert(ctx, push.InsertOptions{
		Token:   push.TokenRecord{Vendor: req.Token.Vendor, Token: req.Token.Token},
		AppName: req.AppName,
		UserID:  userID,
	})
	switch {
	case errors.Is(err, push.ErrInvalidRegistration):
		response.WriteJSONError(w, http.StatusBadRequest, "invalid registration")
		return
	case errors.Is(err, push.ErrUnknownVendor):
		response.WriteJSONError(w, http.StatusBadRequest, "unknown vendor")
		return
	case err != nil:
		a.Logger.Error("token insert failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, InsertTokenResponse{ID: id.Hex()})
}

// --- token-remove ---

type RemoveTokenRequest struct {
	ID    string   `json:"_id"`
	Token tokenRef `json:"token"`
}

// RemoveToken pulls the token from the caller's document, or deletes the
// standalone document for anonymous callers. Idempotent: removing an
// absent token succeeds.
func (a *TokenAPI) RemoveToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.GetUserHandleFromContext(ctx)

	var req RemoveTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := bson.ObjectIDFromHex(req.ID)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := a.Store.Remove(ctx, id, req.Token.Token, userID); err != nil {
		// Idempotency is preferred for unregister; log but don't fail hard.
		a.Logger.Warn("token remove failed", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- token-validate ---

type ValidateTokenRequest struct {
	Token  string      `json:"token"`
	Vendor push.Vendor `json:"vendor"`
}

type ValidateTokenResponse struct {
	Valid bool `json:"valid"`
}

// ValidateToken reports whether the token is known, in either document
// shape. A token owned by a different principal than the caller never
// validates.
func (a *TokenAPI) ValidateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.GetUserHandleFromContext(ctx)

	var req ValidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" || req.Vendor == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token or vendor")
		return
	}

	valid, err := a.Store.Validate(ctx, req.Token, req.Vendor, userID)
	if err != nil {
		a.Logger.Error("token validate failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, ValidateTokenResponse{Valid: valid})
}

// --- notification-enqueue (producer facing) ---

type EnqueueRequest struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Badge *int              `json:"badge,omitempty"`
	Data  map[string]string `json:"data,omitempty"`

	UserIDs  []string `json:"userIds,omitempty"`
	Tokens   []string `json:"tokens,omitempty"`
	TokenIDs []string `json:"tokenIds,omitempty"`

	DelayUntil int64 `json:"delayUntil,omitempty"`
}

// Selector folds the three optional recipient fields into the tagged form,
// rejecting the none/multiple cases at the door.
func (r *EnqueueRequest) Selector() (push.RecipientSelector, error) {
	set := 0
	var sel push.RecipientSelector
	if len(r.UserIDs) > 0 {
		sel = push.ByUsers(r.UserIDs...)
		set++
	}
	if len(r.Tokens) > 0 {
		sel = push.ByTokens(r.Tokens...)
		set++
	}
	if len(r.TokenIDs) > 0 {
		ids := make([]bson.ObjectID, 0, len(r.TokenIDs))
		for _, raw := range r.TokenIDs {
			id, err := bson.ObjectIDFromHex(raw)
			if err != nil {
				return push.RecipientSelector{}, push.ErrMalformedNotification
			}
			ids = append(ids, id)
		}
		sel = push.ByTokenIDs(ids...)
		set++
	}
	if set != 1 {
		return push.RecipientSelector{}, push.ErrMalformedNotification
	}
	return sel, nil
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

// EnqueueNotification inserts a notification record for the dispatch
// worker to pick up.
func (a *TokenAPI) EnqueueNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing title")
		return
	}

	sel, err := req.Selector()
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "set exactly one of userIds, tokens, tokenIds")
		return
	}

	opts := []push.NotificationOption{}
	if req.Sound != "" {
		opts = append(opts, push.WithSound(req.Sound))
	}
	if req.Badge != nil {
		opts = append(opts, push.WithBadge(*req.Badge))
	}
	if len(req.Data) > 0 {
		opts = append(opts, push.WithData(req.Data))
	}
	if req.DelayUntil > 0 {
		opts = append(opts, push.WithDelayUntil(req.DelayUntil))
	}

	n, err := push.NewNotification(req.Title, req.Body, sel, opts...)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid notification")
		return
	}

	id, err := a.Queue.Enqueue(ctx, n)
	if err != nil {
		a.Logger.Error("notification enqueue failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id.Hex()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
