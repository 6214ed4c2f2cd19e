// Package repositorytest provides in-memory repositories for tests. They keep
// the conditional-update semantics of the PostgreSQL implementations.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"digistore/internal/model"
	"digistore/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRepository is an in-process repository.OrderRepository with the same
// conditional-update semantics as the PostgreSQL implementation.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*model.Order
	now    func() time.Time
}

// NewOrderRepository creates an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[uuid.UUID]*model.Order),
		now:    time.Now,
	}
}

func (m *OrderRepository) Create(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.IdempotencyKey != nil {
		for _, existing := range m.orders {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *order.IdempotencyKey {
				return repository.ErrDuplicateIdempotencyKey
			}
		}
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *OrderRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id]), nil
}

func (m *OrderRepository) GetByIdempotencyKey(_ context.Context, key string) (*model.Order, error) {
	return m.find(func(o *model.Order) bool {
		return o.IdempotencyKey != nil && *o.IdempotencyKey == key
	}), nil
}

func (m *OrderRepository) GetBySessionRef(_ context.Context, sessionRef string) (*model.Order, error) {
	return m.find(func(o *model.Order) bool {
		return sessionRef != "" && o.Payment.SessionRef == sessionRef
	}), nil
}

func (m *OrderRepository) Transition(_ context.Context, id uuid.UUID, expectedRef string, update model.StatusUpdate) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != model.StatusPending || o.Payment.SessionRef != expectedRef {
		return nil, nil
	}

	o.Status = update.Status
	if update.GatewayStatus != "" {
		o.Payment.LastStatus = update.GatewayStatus
	}
	if update.InvoiceRef != "" {
		o.Payment.InvoiceRef = update.InvoiceRef
	}
	o.Evidence = update.Evidence
	o.UpdatedAt = m.now()
	return cloneOrder(o), nil
}

func (m *OrderRepository) ClaimSession(_ context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != model.StatusPending || o.Payment.SessionRef != "" {
		return false, nil
	}
	if o.Payment.ClaimedAt != nil && !o.Payment.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	now := m.now()
	o.Payment.ClaimedAt = &now
	return true, nil
}

func (m *OrderRepository) ReleaseSessionClaim(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.Payment.SessionRef == "" {
		o.Payment.ClaimedAt = nil
	}
	return nil
}

func (m *OrderRepository) AttachSession(_ context.Context, id uuid.UUID, session model.PaymentSession) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Payment.SessionRef != "" {
		return nil, nil
	}
	session.ClaimedAt = o.Payment.ClaimedAt
	o.Payment = session
	o.UpdatedAt = m.now()
	return cloneOrder(o), nil
}

func (m *OrderRepository) RecordGatewayStatus(_ context.Context, id uuid.UUID, gatewayStatus, invoiceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Payment.LastStatus = gatewayStatus
		if invoiceRef != "" {
			o.Payment.InvoiceRef = invoiceRef
		}
	}
	return nil
}

func (m *OrderRepository) MarkFulfilled(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.FulfilledAt == nil {
		o.FulfilledAt = &at
	}
	return nil
}

func (m *OrderRepository) MarkNotified(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.NotifiedAt == nil {
		o.NotifiedAt = &at
	}
	return nil
}

func (m *OrderRepository) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	return m.list(limit, func(o *model.Order) bool {
		return o.Status == model.StatusPending && o.CreatedAt.Before(createdBefore)
	}), nil
}

func (m *OrderRepository) ListUnfulfilled(_ context.Context, limit int) ([]model.Order, error) {
	return m.list(limit, func(o *model.Order) bool {
		return o.Status == model.StatusCompleted && (o.FulfilledAt == nil || o.NotifiedAt == nil)
	}), nil
}

func (m *OrderRepository) find(match func(*model.Order) bool) *model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			return cloneOrder(o)
		}
	}
	return nil
}

func (m *OrderRepository) list(limit int, match func(*model.Order) bool) []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneOrder(o *model.Order) *model.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]model.LineItem(nil), o.Items...)
	if o.Discount != nil {
		d := *o.Discount
		c.Discount = &d
	}
	return &c
}

// EntitlementRepository is an in-process EntitlementRepository.
type EntitlementRepository struct {
	mu     sync.Mutex
	grants map[uuid.UUID]map[int]model.Entitlement
}

// NewEntitlementRepository creates an empty in-memory entitlement repository.
func NewEntitlementRepository() *EntitlementRepository {
	return &EntitlementRepository{grants: make(map[uuid.UUID]map[int]model.Entitlement)}
}

func (m *EntitlementRepository) Grant(_ context.Context, entitlements []model.Entitlement) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, e := range entitlements {
		byIndex, ok := m.grants[e.OrderID]
		if !ok {
			byIndex = make(map[int]model.Entitlement)
			m.grants[e.OrderID] = byIndex
		}
		if _, exists := byIndex[e.ItemIndex]; exists {
			continue
		}
		byIndex[e.ItemIndex] = e
		inserted++
	}
	return inserted, nil
}

func (m *EntitlementRepository) Get(_ context.Context, orderID uuid.UUID, itemIndex int) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.grants[orderID][itemIndex]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// CatalogRepository is a fixed in-process CatalogRepository.
type CatalogRepository struct {
	products map[string]model.Product
}

// NewCatalogRepository creates a catalog holding the given products.
func NewCatalogRepository(products ...model.Product) *CatalogRepository {
	repo := &CatalogRepository{products: make(map[string]model.Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (m *CatalogRepository) GetByID(_ context.Context, id string) (*model.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *CatalogRepository) GetByIDs(_ context.Context, ids []string) ([]model.Product, error) {
	var out []model.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *CatalogRepository) List(_ context.Context, limit, offset int) ([]model.Product, error) {
	ids := make([]string, 0, len(m.products))
	for id, p := range m.products {
		if p.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := []model.Product{}
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.products[ids[i]])
	}
	return out, nil
}

// DiscountRepository is an in-process DiscountRepository whose Reserve
// is an atomic compare-and-increment.
type DiscountRepository struct {
	mu    sync.Mutex
	codes map[string]*model.DiscountCode
}

// NewDiscountRepository creates a repository holding the given codes.
func NewDiscountRepository(codes ...model.DiscountCode) *DiscountRepository {
	repo := &DiscountRepository{codes: make(map[string]*model.DiscountCode)}
	for i := range codes {
		c := codes[i]
		repo.codes[c.Code] = &c
	}
	return repo
}

func (m *DiscountRepository) GetByCode(_ context.Context, code string) (*model.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (m *DiscountRepository) Reserve(_ context.Context, code string, at time.Time) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || !c.IsActive || !c.HasRemainingUses() {
		return decimal.Zero, false, nil
	}
	if (c.ValidFrom != nil && at.Before(*c.ValidFrom)) || (c.ValidUntil != nil && at.After(*c.ValidUntil)) {
		return decimal.Zero, false, nil
	}
	c.UsedCount++
	return c.DiscountPercent, true, nil
}

func (m *DiscountRepository) Release(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.UsedCount == 0 {
		return false, nil
	}
	c.UsedCount--
	return true, nil
}

// UsedCount returns the current redemption count of a code.
func (m *DiscountRepository) UsedCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[code]; ok {
		return c.UsedCount
	}
	return 0
}

var (
	_ repository.OrderRepository       = (*OrderRepository)(nil)
	_ repository.EntitlementRepository = (*EntitlementRepository)(nil)
	_ repository.CatalogRepository     = (*CatalogRepository)(nil)
	_ repository.DiscountRepository    = (*DiscountRepository)(nil)
)
