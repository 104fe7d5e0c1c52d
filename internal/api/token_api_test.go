package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// --- Mocks ---
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Insert(ctx context.Context, opts push.InsertOptions) (bson.ObjectID, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(bson.ObjectID), args.Error(1)
}
func (m *MockTokenStore) Remove(ctx context.Context, id bson.ObjectID, token string, userID string) error {
	return m.Called(ctx, id, token, userID).Error(0)
}
func (m *MockTokenStore) Validate(ctx context.Context, token string, vendor push.Vendor, callerID string) (bool, error) {
	args := m.Called(ctx, token, vendor, callerID)
	return args.Bool(0), args.Error(1)
}
func (m *MockTokenStore) Resolve(ctx context.Context, sel push.RecipientSelector) ([]push.TokenRecord, error) {
	args := m.Called(ctx, sel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.TokenRecord), args.Error(1)
}
func (m *MockTokenStore) PurgeToken(ctx context.Context, token string, vendor push.Vendor) error {
	return m.Called(ctx, token, vendor).Error(0)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, n *push.Notification) (bson.ObjectID, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(bson.ObjectID), args.Error(1)
}
func (m *MockQueue) FindDue(ctx context.Context, now int64, limit int) ([]*push.Notification, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*push.Notification), args.Error(1)
}
func (m *MockQueue) Claim(ctx context.Context, id bson.ObjectID, now, leaseUntil int64) (bool, error) {
	args := m.Called(ctx, id, now, leaseUntil)
	return args.Bool(0), args.Error(1)
}
func (m *MockQueue) Archive(ctx context.Context, id bson.ObjectID, counts push.DeliveryCounts, sentAt int64) error {
	return m.Called(ctx, id, counts, sentAt).Error(0)
}
func (m *MockQueue) Delete(ctx context.Context, id bson.ObjectID) error {
	return m.Called(ctx, id).Error(0)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.TokenAPI, *MockTokenStore, *MockQueue) {
	t.Helper()
	mockStore := new(MockTokenStore)
	mockQueue := new(MockQueue)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewTokenAPI(mockStore, mockQueue, logger), mockStore, mockQueue
}

// Helper to inject the authenticated user into context (simulating Auth
// Middleware). The handlers read the user handle, so it must be stamped
// alongside the id.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUser(req.Context(), userID, userID, "")
	return req.WithContext(ctx)
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

// --- Tests ---

func TestInsertToken(t *testing.T) {
	t.Run("Authenticated Success", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)
		id := bson.NewObjectID()

		body := jsonBody(t, map[string]any{
			"token":   map[string]string{"vendor": "ios", "token": "tok-1"},
			"appName": "app",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens", body), "u1")
		w := httptest.NewRecorder()

		mockStore.On("Insert", mock.Anything, push.InsertOptions{
			Token:   push.TokenRecord{Vendor: push.VendorIOS, Token: "tok-1"},
			AppName: "app",
			UserID:  "u1",
		}).Return(id, nil)

		apiHandler.InsertToken(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp api.InsertTokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, id.Hex(), resp.ID)
		mockStore.AssertExpectations(t)
	})

	t.Run("Anonymous caller reaches the store without a principal", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"token":   map[string]string{"vendor": "android", "token": "tok-anon"},
			"appName": "app",
		})
		req := httptest.NewRequest("POST", "/api/v1/tokens", body)
		w := httptest.NewRecorder()

		mockStore.On("Insert", mock.Anything, mock.MatchedBy(func(opts push.InsertOptions) bool {
			return opts.UserID == ""
		})).Return(bson.ObjectID{}, push.ErrInvalidRegistration)

		apiHandler.InsertToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects missing token", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{"appName": "app"})
		req := httptest.NewRequest("POST", "/api/v1/tokens", body)
		w := httptest.NewRecorder()

		apiHandler.InsertToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("Unknown vendor is a 400", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"token":   map[string]string{"vendor": "pager", "token": "tok"},
			"appName": "app",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens", body), "u1")
		w := httptest.NewRecorder()

		mockStore.On("Insert", mock.Anything, mock.Anything).
			Return(bson.ObjectID{}, push.ErrUnknownVendor)

		apiHandler.InsertToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Storage failure is a 500", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"token":   map[string]string{"vendor": "ios", "token": "tok"},
			"appName": "app",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens", body), "u1")
		w := httptest.NewRecorder()

		mockStore.On("Insert", mock.Anything, mock.Anything).
			Return(bson.ObjectID{}, assert.AnError)

		apiHandler.InsertToken(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRemoveToken(t *testing.T) {
	t.Run("Success is 204", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)
		id := bson.NewObjectID()

		body := jsonBody(t, map[string]any{
			"_id":   id.Hex(),
			"token": map[string]string{"vendor": "ios", "token": "tok-1"},
		})
		req := withUser(httptest.NewRequest("DELETE", "/api/v1/tokens", body), "u1")
		w := httptest.NewRecorder()

		mockStore.On("Remove", mock.Anything, id, "tok-1", "u1").Return(nil)

		apiHandler.RemoveToken(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Store failure still returns 204 (idempotent unregister)", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)
		id := bson.NewObjectID()

		body := jsonBody(t, map[string]any{
			"_id":   id.Hex(),
			"token": map[string]string{"vendor": "ios", "token": "tok-1"},
		})
		req := withUser(httptest.NewRequest("DELETE", "/api/v1/tokens", body), "u1")
		w := httptest.NewRecorder()

		mockStore.On("Remove", mock.Anything, id, "tok-1", "u1").Return(assert.AnError)

		apiHandler.RemoveToken(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Bad document id is a 400", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"_id":   "not-an-id",
			"token": map[string]string{"vendor": "ios", "token": "tok-1"},
		})
		req := httptest.NewRequest("DELETE", "/api/v1/tokens", body)
		w := httptest.NewRecorder()

		apiHandler.RemoveToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("Known token validates", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]string{"token": "tok-1", "vendor": "web"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/validate", body), "u1")
		w := httptest.NewRecorder()

		mockStore.On("Validate", mock.Anything, "tok-1", push.VendorWeb, "u1").Return(true, nil)

		apiHandler.ValidateToken(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp api.ValidateTokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Valid)
	})

	t.Run("Foreign token reports invalid, not an error", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]string{"token": "tok-1", "vendor": "web"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/validate", body), "u2")
		w := httptest.NewRecorder()

		mockStore.On("Validate", mock.Anything, "tok-1", push.VendorWeb, "u2").Return(false, nil)

		apiHandler.ValidateToken(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp api.ValidateTokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Valid)
	})

	t.Run("Missing fields are a 400", func(t *testing.T) {
		apiHandler, mockStore, _ := setupAPI(t)

		body := jsonBody(t, map[string]string{"token": "tok-1"})
		req := httptest.NewRequest("POST", "/api/v1/tokens/validate", body)
		w := httptest.NewRecorder()

		apiHandler.ValidateToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestEnqueueNotification(t *testing.T) {
	t.Run("Success is 201 with the queue id", func(t *testing.T) {
		apiHandler, _, mockQueue := setupAPI(t)
		id := bson.NewObjectID()

		body := jsonBody(t, map[string]any{
			"title":   "hello",
			"body":    "world",
			"userIds": []string{"u1"},
			"sound":   "ping",
			"badge":   1,
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications", body), "producer")
		w := httptest.NewRecorder()

		mockQueue.On("Enqueue", mock.Anything, mock.MatchedBy(func(n *push.Notification) bool {
			return n.Title == "hello" && n.Sound == "ping" &&
				n.Badge != nil && *n.Badge == 1 &&
				len(n.UserIDs) == 1 && n.UserIDs[0] == "u1"
		})).Return(id, nil)

		apiHandler.EnqueueNotification(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp api.EnqueueResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, id.Hex(), resp.ID)
		mockQueue.AssertExpectations(t)
	})

	t.Run("No recipients is a 400", func(t *testing.T) {
		apiHandler, _, mockQueue := setupAPI(t)

		body := jsonBody(t, map[string]any{"title": "hello"})
		req := httptest.NewRequest("POST", "/api/v1/notifications", body)
		w := httptest.NewRecorder()

		apiHandler.EnqueueNotification(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("Two recipient fields is a 400", func(t *testing.T) {
		apiHandler, _, mockQueue := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"title":   "hello",
			"userIds": []string{"u1"},
			"tokens":  []string{"tok-1"},
		})
		req := httptest.NewRequest("POST", "/api/v1/notifications", body)
		w := httptest.NewRecorder()

		apiHandler.EnqueueNotification(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("Bad token id hex is a 400", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"title":    "hello",
			"tokenIds": []string{"zzz"},
		})
		req := httptest.NewRequest("POST", "/api/v1/notifications", body)
		w := httptest.NewRecorder()

		apiHandler.EnqueueNotification(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Missing title is a 400", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)

		body := jsonBody(t, map[string]any{"userIds": []string{"u1"}})
		req := httptest.NewRequest("POST", "/api/v1/notifications", body)
		w := httptest.NewRecorder()

		apiHandler.EnqueueNotification(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Queue failure is a 500", func(t *testing.T) {
		apiHandler, _, mockQueue := setupAPI(t)

		body := jsonBody(t, map[string]any{
			"title":   "hello",
			"userIds": []string{"u1"},
		})
		req := httptest.NewRequest("POST", "/api/v1/notifications", body)
		w := httptest.NewRecorder()

		mockQueue.On("Enqueue", mock.Anything, mock.Anything).
			Return(bson.ObjectID{}, assert.AnError)

		apiHandler.EnqueueNotification(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
