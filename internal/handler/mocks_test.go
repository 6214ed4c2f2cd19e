package handler

import (
	"context"
	"net/http"

	"digistore/internal/download"
	"digistore/internal/middleware"
	"digistore/internal/model"
	"digistore/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockCatalogService is a mock implementation of CatalogService.
type MockCatalogService struct {
	mock.Mock
}

func (m *MockCatalogService) List(ctx context.Context, limit, offset int) ([]model.Product, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Product), args.Error(1)
}

func (m *MockCatalogService) GetByID(ctx context.Context, id string) (*model.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Product), args.Error(1)
}

// MockCheckoutService is a mock implementation of CheckoutService.
type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Price(ctx context.Context, selection model.CartSelection) (model.PricedSelection, error) {
	args := m.Called(ctx, selection)
	return args.Get(0).(model.PricedSelection), args.Error(1)
}

func (m *MockCheckoutService) ValidateDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*model.DiscountValidationResponse, error) {
	args := m.Called(ctx, code, subtotal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DiscountValidationResponse), args.Error(1)
}

func (m *MockCheckoutService) Submit(ctx context.Context, req *model.CheckoutRequest, requester model.Requester, idempotencyKey string) (*model.CheckoutResponse, error) {
	args := m.Called(ctx, req, requester, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CheckoutResponse), args.Error(1)
}

// MockOrderService is a mock implementation of OrderService.
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Get(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.Order, error) {
	args := m.Called(ctx, id, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) Status(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.OrderStatusResponse, error) {
	args := m.Called(ctx, id, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OrderStatusResponse), args.Error(1)
}

func (m *MockOrderService) CreateSession(ctx context.Context, id uuid.UUID, requester model.Requester) (payment.SessionResult, error) {
	args := m.Called(ctx, id, requester)
	return args.Get(0).(payment.SessionResult), args.Error(1)
}

// MockAuthorizer is a mock implementation of download.Authorizer.
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, orderID uuid.UUID, itemIndex int, requester model.Requester) (download.Grant, error) {
	args := m.Called(ctx, orderID, itemIndex, requester)
	return args.Get(0).(download.Grant), args.Error(1)
}

// MockOrchestrator is a mock implementation of payment.Orchestrator.
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) CreateSession(ctx context.Context, orderID uuid.UUID) (payment.SessionResult, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(payment.SessionResult), args.Error(1)
}

func (m *MockOrchestrator) Reconcile(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrchestrator) HandleNotification(ctx context.Context, header http.Header, body []byte) error {
	args := m.Called(ctx, header, body)
	return args.Error(0)
}

func (m *MockOrchestrator) Expire(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

// withURLParams attaches chi path parameters to a request.
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withRequester attaches the identity the Identity middleware would have set.
func withRequester(r *http.Request, requester model.Requester) *http.Request {
	return r.WithContext(middleware.WithRequester(r.Context(), requester))
}
