package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tinywideclouds/go-push-service/internal/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// --- Mocks ---

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, token string, n *push.Notification) (push.Outcome, error) {
	args := m.Called(ctx, token, n)
	return args.Get(0).(push.Outcome), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Tests ---

func TestRouterDeliver(t *testing.T) {
	ctx := context.Background()
	n := &push.Notification{Title: "hi", UserIDs: []string{"u1"}}

	t.Run("routes to the registered vendor", func(t *testing.T) {
		mockIOS := new(MockDispatcher)
		router := dispatch.NewRouter(newTestLogger())
		router.Register(push.VendorIOS, mockIOS)

		mockIOS.On("Send", ctx, "tok", n).Return(push.OutcomeSent, nil)

		outcome := router.Deliver(ctx, push.TokenRecord{Vendor: push.VendorIOS, Token: "tok"}, n)

		assert.Equal(t, push.OutcomeSent, outcome)
		mockIOS.AssertExpectations(t)
	})

	t.Run("legacy apn tag falls back to the ios dispatcher", func(t *testing.T) {
		mockIOS := new(MockDispatcher)
		router := dispatch.NewRouter(newTestLogger())
		router.Register(push.VendorIOS, mockIOS)

		mockIOS.On("Send", ctx, "legacy-tok", n).Return(push.OutcomeSent, nil)

		outcome := router.Deliver(ctx, push.TokenRecord{Vendor: push.VendorAPN, Token: "legacy-tok"}, n)

		assert.Equal(t, push.OutcomeSent, outcome)
		mockIOS.AssertExpectations(t)
	})

	t.Run("explicit apn registration wins over the fallback", func(t *testing.T) {
		mockIOS := new(MockDispatcher)
		mockAPN := new(MockDispatcher)
		router := dispatch.NewRouter(newTestLogger())
		router.Register(push.VendorIOS, mockIOS)
		router.Register(push.VendorAPN, mockAPN)

		mockAPN.On("Send", ctx, "tok", n).Return(push.OutcomeSent, nil)

		outcome := router.Deliver(ctx, push.TokenRecord{Vendor: push.VendorAPN, Token: "tok"}, n)

		assert.Equal(t, push.OutcomeSent, outcome)
		mockAPN.AssertExpectations(t)
		mockIOS.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unconfigured vendor yields OutcomeUnconfigured", func(t *testing.T) {
		router := dispatch.NewRouter(newTestLogger())

		outcome := router.Deliver(ctx, push.TokenRecord{Vendor: push.VendorWeb, Token: "tok"}, n)
		assert.Equal(t, push.OutcomeUnconfigured, outcome)

		// Repeated deliveries stay unconfigured, no dispatcher appears.
		outcome = router.Deliver(ctx, push.TokenRecord{Vendor: push.VendorWeb, Token: "tok"}, n)
		assert.Equal(t, push.OutcomeUnconfigured, outcome)
	})

	t.Run("provider error passes its outcome through", func(t *testing.T) {
		mockWeb := new(MockDispatcher)
		router := dispatch.NewRouter(newTestLogger())
		router.Register(push.VendorWeb, mockWeb)

		mockWeb.On("Send", ctx, "tok", n).
			Return(push.OutcomeTransientFailure, errors.New("503"))

		outcome := router.Deliver(ctx, push.TokenRecord{Vendor: push.VendorWeb, Token: "tok"}, n)
		assert.Equal(t, push.OutcomeTransientFailure, outcome)
	})
}
