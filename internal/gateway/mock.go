package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// MockProvider simulates a hosted checkout without calling a real provider.
// Sessions start pending; tests and local development settle them with SetStatus.
type MockProvider struct {
	// CreateFunc overrides session creation when set.
	CreateFunc func(ctx context.Context, req SessionRequest) (Session, error)

	// StatusFunc overrides status lookup when set.
	StatusFunc func(ctx context.Context, sessionRef string) (SessionStatus, error)

	// CheckoutURL prefixes generated payment URLs.
	CheckoutURL string

	mu       sync.Mutex
	sessions map[string]SessionStatus
	requests []SessionRequest
	createN  int
	statusN  int
}

// NewMockProvider creates a mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CheckoutURL: "https://checkout.mock/pay",
		sessions:    make(map[string]SessionStatus),
	}
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error) {
	m.mu.Lock()
	m.createN++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}

	ref := "mock_" + uuid.NewString()
	m.mu.Lock()
	m.sessions[ref] = SessionStatus{Status: StatusPending, RawStatus: "unpaid"}
	m.mu.Unlock()

	return Session{
		Ref:        ref,
		PaymentURL: fmt.Sprintf("%s/%s", m.CheckoutURL, ref),
		RawStatus:  "unpaid",
	}, nil
}

func (m *MockProvider) GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error) {
	m.mu.Lock()
	m.statusN++
	m.mu.Unlock()

	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, sessionRef)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.sessions[sessionRef]
	if !ok {
		return SessionStatus{}, ErrSessionNotFound
	}
	return status, nil
}

// ParseNotification accepts an unsigned JSON Notification when the
// X-Mock-Signature header is "valid".
func (m *MockProvider) ParseNotification(header http.Header, body []byte) (Notification, error) {
	if header.Get("X-Mock-Signature") != "valid" {
		return Notification{}, ErrInvalidSignature
	}
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, ErrMalformedNotification
	}
	return n, nil
}

// SetStatus changes what GetSessionStatus reports for a session.
func (m *MockProvider) SetStatus(sessionRef string, status Status, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionRef] = SessionStatus{Status: status, RawStatus: raw, InvoiceRef: "inv_" + sessionRef}
}

// CreateCalls returns how many sessions were requested.
func (m *MockProvider) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createN
}

// StatusCalls returns how many status lookups were made.
func (m *MockProvider) StatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusN
}

// Requests returns the session requests received so far.
func (m *MockProvider) Requests() []SessionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionRequest(nil), m.requests...)
}
