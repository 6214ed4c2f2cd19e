package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"digistore/internal/model"
	"digistore/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetBySessionRef(ctx context.Context, ref string) (*model.Order, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) Transition(ctx context.Context, id uuid.UUID, ref string, update model.StatusUpdate) (*model.Order, error) {
	args := m.Called(ctx, id, ref, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) ClaimSession(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, id, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) ReleaseSessionClaim(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOrderRepository) AttachSession(ctx context.Context, id uuid.UUID, session model.PaymentSession) (*model.Order, error) {
	args := m.Called(ctx, id, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) RecordGatewayStatus(ctx context.Context, id uuid.UUID, status, invoiceRef string) error {
	args := m.Called(ctx, id, status, invoiceRef)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockOrderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Order, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *MockOrderRepository) ListUnfulfilled(ctx context.Context, limit int) ([]model.Order, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Order), args.Error(1)
}

var _ repository.OrderRepository = (*MockOrderRepository)(nil)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validContact() model.CustomerContact {
	return model.CustomerContact{Name: "Salim", Email: "Salim@Example.com ", Phone: "+96891234567"}
}

func items(prices ...string) []model.LineItem {
	out := make([]model.LineItem, len(prices))
	for i, p := range prices {
		out[i] = model.LineItem{ProductID: "p", Title: "Item", UnitPrice: dec(p), AssetReference: "assets/p.pdf"}
	}
	return out
}

func TestStore_Create(t *testing.T) {
	tests := []struct {
		name        string
		input       model.NewOrder
		setupMock   func(*MockOrderRepository)
		expectedErr error
		total       string
	}{
		{
			name:  "Flat priced single item",
			input: model.NewOrder{Contact: validContact(), Items: items("2.000"), Subtotal: dec("2.000")},
			setupMock: func(m *MockOrderRepository) {
				m.On("Create", mock.Anything, mock.MatchedBy(func(o *model.Order) bool {
					return o.Status == model.StatusPending && o.Contact.Email == "salim@example.com" && o.AccessToken != ""
				})).Return(nil)
			},
			total: "2.000",
		},
		{
			name: "Discount applied",
			input: model.NewOrder{
				Contact:  validContact(),
				Items:    items("2.000", "3.000"),
				Subtotal: dec("5.000"),
				Discount: &model.AppliedDiscount{Code: "SAVE10", Percent: dec("10"), Amount: dec("0.500")},
			},
			setupMock: func(m *MockOrderRepository) {
				m.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
			total: "4.500",
		},
		{
			name:        "Below minimum payable amount",
			input:       model.NewOrder{Contact: validContact(), Items: items("0.050"), Subtotal: dec("0.050")},
			setupMock:   func(m *MockOrderRepository) {},
			expectedErr: model.ErrBelowMinimumAmount,
		},
		{
			name: "Full discount is below minimum",
			input: model.NewOrder{
				Contact:  validContact(),
				Items:    items("1.000"),
				Subtotal: dec("1.000"),
				Discount: &model.AppliedDiscount{Code: "FREE", Percent: dec("100"), Amount: dec("1.000")},
			},
			setupMock:   func(m *MockOrderRepository) {},
			expectedErr: model.ErrBelowMinimumAmount,
		},
		{
			name:        "Above maximum payable amount",
			input:       model.NewOrder{Contact: validContact(), Items: items("5000000.001"), Subtotal: dec("5000000.001")},
			setupMock:   func(m *MockOrderRepository) {},
			expectedErr: model.ErrAboveMaximumAmount,
		},
		{
			name:        "Invalid contact",
			input:       model.NewOrder{Contact: model.CustomerContact{Name: "S", Email: "nope", Phone: "1"}, Items: items("2.000"), Subtotal: dec("2.000")},
			setupMock:   func(m *MockOrderRepository) {},
			expectedErr: model.ErrInvalidContact,
		},
		{
			name:        "No items",
			input:       model.NewOrder{Contact: validContact(), Subtotal: dec("2.000")},
			setupMock:   func(m *MockOrderRepository) {},
			expectedErr: model.ErrEmptySelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			tt.setupMock(repo)
			s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

			order, err := s.Create(context.Background(), tt.input)

			if tt.expectedErr != nil {
				assert.Equal(t, tt.expectedErr, err)
				assert.Nil(t, order)
				repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, model.StatusPending, order.Status)
			assert.Equal(t, tt.total, order.Total.StringFixed(3))
			assert.True(t, order.Total.Equal(order.Subtotal.Sub(order.DiscountAmount())))
			repo.AssertExpectations(t)
		})
	}

	t.Run("Subtotal mismatch", func(t *testing.T) {
		repo := new(MockOrderRepository)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		_, err := s.Create(context.Background(), model.NewOrder{Contact: validContact(), Items: items("2.000"), Subtotal: dec("1.000")})
		assert.Error(t, err)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Duplicate idempotency key passes through", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateIdempotencyKey)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		_, err := s.Create(context.Background(), model.NewOrder{Contact: validContact(), Items: items("2.000"), Subtotal: dec("2.000")})
		assert.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
	})
}

func TestStore_Transition(t *testing.T) {
	orderID := uuid.New()
	completed := model.StatusUpdate{Status: model.StatusCompleted, GatewayStatus: "paid"}

	t.Run("Changes pending order", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Transition", mock.Anything, orderID, "sess-1", completed).
			Return(&model.Order{ID: orderID, Status: model.StatusCompleted, Payment: model.PaymentSession{SessionRef: "sess-1"}}, nil)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		result, err := s.Transition(context.Background(), orderID, "sess-1", completed)

		require.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Equal(t, model.StatusCompleted, result.Order.Status)
		repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("Repeated transition is a no-op", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Transition", mock.Anything, orderID, "sess-1", mock.Anything).Return(nil, nil)
		repo.On("GetByID", mock.Anything, orderID).
			Return(&model.Order{ID: orderID, Status: model.StatusCompleted, Payment: model.PaymentSession{SessionRef: "sess-1"}}, nil)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		first, err := s.Transition(context.Background(), orderID, "sess-1", completed)
		require.NoError(t, err)
		assert.False(t, first.Changed)
		assert.Equal(t, model.StatusCompleted, first.Order.Status)

		failed, err := s.Transition(context.Background(), orderID, "sess-1", model.StatusUpdate{Status: model.StatusFailed})
		require.NoError(t, err)
		assert.False(t, failed.Changed)
		assert.Equal(t, model.StatusCompleted, failed.Order.Status, "completed never becomes failed")
	})

	t.Run("Reference mismatch", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Transition", mock.Anything, orderID, "sess-evil", mock.Anything).Return(nil, nil)
		repo.On("GetByID", mock.Anything, orderID).
			Return(&model.Order{ID: orderID, Status: model.StatusPending, Payment: model.PaymentSession{SessionRef: "sess-1"}}, nil)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		_, err := s.Transition(context.Background(), orderID, "sess-evil", completed)
		assert.Equal(t, model.ErrReferenceMismatch, err)
	})

	t.Run("Order not found", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Transition", mock.Anything, orderID, "sess-1", mock.Anything).Return(nil, nil)
		repo.On("GetByID", mock.Anything, orderID).Return(nil, nil)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		_, err := s.Transition(context.Background(), orderID, "sess-1", completed)
		assert.Equal(t, model.ErrOrderNotFound, err)
	})

	t.Run("Pending is not a transition target", func(t *testing.T) {
		repo := new(MockOrderRepository)
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		_, err := s.Transition(context.Background(), orderID, "sess-1", model.StatusUpdate{Status: model.StatusPending})
		assert.Equal(t, model.ErrInvalidTransition, err)
		repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Storage fault", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Transition", mock.Anything, orderID, "sess-1", mock.Anything).Return(nil, errors.New("connection reset"))
		s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())

		_, err := s.Transition(context.Background(), orderID, "sess-1", completed)
		assert.Error(t, err)
		_, isDomain := model.AsDomainError(err)
		assert.False(t, isDomain)
	})
}

func TestStore_Get(t *testing.T) {
	orderID := uuid.New()
	owner := "user-1"
	order := &model.Order{ID: orderID, OwnerUserID: &owner, AccessToken: "tok"}

	repo := new(MockOrderRepository)
	repo.On("GetByID", mock.Anything, orderID).Return(order, nil)
	repo.On("GetByID", mock.Anything, mock.Anything).Return(nil, nil)
	s := NewStore(repo, DefaultLimits(), nil, zerolog.Nop())
	ctx := context.Background()

	got, err := s.Get(ctx, orderID, model.Requester{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, orderID, got.ID)

	_, err = s.Get(ctx, orderID, model.Requester{UserID: "user-2"})
	assert.Equal(t, model.ErrForbidden, err)

	got, err = s.Get(ctx, orderID, model.Requester{Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = s.Get(ctx, uuid.New(), model.Requester{Role: model.RoleAdmin})
	assert.Equal(t, model.ErrOrderNotFound, err)
}
