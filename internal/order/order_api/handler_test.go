package order_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CheckoutTickets(ctx context.Context, userID string, req models.TicketCheckoutRequest) (*models.CheckoutResponse, error) {
	args := m.Called(userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckoutResponse), args.Error(1)
}

func (m *MockOrderService) CheckoutPPV(ctx context.Context, userID string, req models.PpvCheckoutRequest) (*models.CheckoutResponse, error) {
	args := m.Called(userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckoutResponse), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]*models.Order, error) {
	args := m.Called(userID, limit, offset)
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *MockOrderService) RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal, reason string) (*models.Order, error) {
	args := m.Called(orderID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) RetryFulfillment(ctx context.Context, orderID string) (*models.Order, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

type stubTickets struct {
	tickets []models.Ticket
}

func (s stubTickets) ListOrderTickets(context.Context, string) ([]models.Ticket, error) {
	return s.tickets, nil
}

type stubProcessor struct {
	outcome string
	body    []byte
}

func (s *stubProcessor) ProcessPaymentWebhook(_ context.Context, body []byte, _ url.Values) *order.WebhookResult {
	s.body = body
	return &order.WebhookResult{Outcome: s.outcome, Err: apperrors.Signature("test", "hmac mismatch")}
}

func newRouter(h *Handler, userID string, roles ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithUser(req.Context(), userID, roles...)))
		})
	})
	r.Post("/checkout/ticket", h.CheckoutTickets)
	r.Post("/checkout/ppv", h.CheckoutPPV)
	r.Get("/orders", h.ListMyOrders)
	r.Get("/orders/{orderID}", h.GetOrder)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/orders/{orderID}/refund", h.RefundOrder)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/orders/{orderID}/fulfillment", h.RetryFulfillment)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) utils.APIResponse {
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCheckoutTickets_Created(t *testing.T) {
	svc := new(MockOrderService)
	req := models.TicketCheckoutRequest{
		EventID: "event-1",
		Tickets: []models.TicketSelection{{TicketTypeID: "tt-1", Quantity: 2}},
	}
	svc.On("CheckoutTickets", "user-1", req).Return(&models.CheckoutResponse{
		OrderID: "o-1", TotalAmount: "300.00", Currency: "EGP", PaymentURL: "https://pay.example/1",
	}, nil)

	w := httptest.NewRecorder()
	body := `{"eventId":"event-1","tickets":[{"ticketTypeId":"tt-1","quantity":2}]}`
	newRouter(NewHandler(svc, nil, logger.Nop()), "user-1").
		ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/checkout/ticket", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "300.00", resp.Data.(map[string]interface{})["totalAmount"])
	svc.AssertExpectations(t)
}

func TestCheckout_ErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperrors.Validation("test", map[string]string{"tickets": "required"}), http.StatusBadRequest},
		{"gateway", apperrors.New(apperrors.KindGateway, "test", "provider down"), http.StatusBadGateway},
		{"conflict", apperrors.New(apperrors.KindConflict, "test", "already owned"), http.StatusConflict},
		{"not found", apperrors.NotFound("test", "event missing"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrderService)
			svc.On("CheckoutPPV", "user-1", models.PpvCheckoutRequest{EventID: "event-1"}).Return(nil, tt.err)

			w := httptest.NewRecorder()
			newRouter(NewHandler(svc, nil, logger.Nop()), "user-1").
				ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/checkout/ppv", strings.NewReader(`{"eventId":"event-1"}`)))

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, decode(t, w).Success)
		})
	}
}

func TestCheckout_BadBody(t *testing.T) {
	svc := new(MockOrderService)

	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, nil, logger.Nop()), "user-1").
		ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/checkout/ticket", strings.NewReader(`{"eventId":`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "CheckoutTickets", mock.Anything, mock.Anything)
}

func TestGetOrder_OwnerSeesTickets(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("GetOrder", "o-1").Return(&models.Order{ID: "o-1", UserID: "user-1", OrderType: models.OrderKindTicket}, nil)
	tickets := stubTickets{tickets: []models.Ticket{{ID: "t-1"}, {ID: "t-2"}}}

	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, tickets, logger.Nop()), "user-1").
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, "o-1", data["id"])
	assert.Len(t, data["tickets"], 2)
}

func TestGetOrder_HiddenFromOtherUsers(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("GetOrder", "o-1").Return(&models.Order{ID: "o-1", UserID: "user-1"}, nil)

	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, nil, logger.Nop()), "user-2").
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	newRouter(NewHandler(svc, nil, logger.Nop()), "ops-1", auth.RoleAdmin).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListMyOrders_PassesPaging(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("ListUserOrders", "user-1", 5, 10).Return([]*models.Order{{ID: "o-1"}}, nil)

	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, nil, logger.Nop()), "user-1").
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders?limit=5&offset=10", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestRefundOrder(t *testing.T) {
	t.Run("admin partial refund", func(t *testing.T) {
		svc := new(MockOrderService)
		amount := decimal.RequireFromString("150.00")
		svc.On("RefundOrder", "o-1", mock.MatchedBy(func(d *decimal.Decimal) bool {
			return d != nil && d.Equal(amount)
		}), "one seat").Return(&models.Order{ID: "o-1"}, nil)

		w := httptest.NewRecorder()
		newRouter(NewHandler(svc, nil, logger.Nop()), "ops-1", auth.RoleAdmin).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/o-1/refund",
				strings.NewReader(`{"amount":"150.00","reason":"one seat"}`)))

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("full refund without body", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("RefundOrder", "o-1", (*decimal.Decimal)(nil), "").Return(&models.Order{ID: "o-1"}, nil)

		w := httptest.NewRecorder()
		newRouter(NewHandler(svc, nil, logger.Nop()), "ops-1", auth.RoleAdmin).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/o-1/refund", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("bad amount", func(t *testing.T) {
		svc := new(MockOrderService)

		w := httptest.NewRecorder()
		newRouter(NewHandler(svc, nil, logger.Nop()), "ops-1", auth.RoleAdmin).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/o-1/refund", strings.NewReader(`{"amount":"lots"}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "RefundOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("customers cannot refund", func(t *testing.T) {
		svc := new(MockOrderService)

		w := httptest.NewRecorder()
		newRouter(NewHandler(svc, nil, logger.Nop()), "user-1").
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/o-1/refund", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRetryFulfillment_Discrepancy(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("RetryFulfillment", "o-1").Return(nil,
		apperrors.New(apperrors.KindFulfillmentDiscrepancy, "test", "fulfilled 1 of 2"))

	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, nil, logger.Nop()), "ops-1", auth.RoleAdmin).
		ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/o-1/fulfillment", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.KindFulfillmentDiscrepancy.String(), decode(t, w).Message)
}

func TestPaymentProviderWebhook_AlwaysAcknowledges(t *testing.T) {
	proc := &stubProcessor{outcome: models.WebhookOutcomeRejected}
	h := NewWebhookHandler(proc, logger.Nop())

	w := httptest.NewRecorder()
	h.PaymentProviderWebhook(w, httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider?hmac=abc",
		strings.NewReader(`{"obj":{"id":1}}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"obj":{"id":1}}`, string(proc.body))
	data := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, models.WebhookOutcomeRejected, data["outcome"])
}
