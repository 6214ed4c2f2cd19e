package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestOrder_IsAccessibleBy(t *testing.T) {
	owner := "user-1"
	owned := &Order{OwnerUserID: &owner, AccessToken: "token-a"}
	guest := &Order{AccessToken: "token-b"}

	tests := []struct {
		name      string
		order     *Order
		requester Requester
		expected  bool
	}{
		{name: "owner", order: owned, requester: Requester{UserID: "user-1"}, expected: true},
		{name: "other user", order: owned, requester: Requester{UserID: "user-2"}, expected: false},
		{name: "token does not unlock owned order", order: owned, requester: Requester{OrderToken: "token-a"}, expected: false},
		{name: "admin", order: owned, requester: Requester{Role: RoleAdmin}, expected: true},
		{name: "guest with token", order: guest, requester: Requester{OrderToken: "token-b"}, expected: true},
		{name: "guest with wrong token", order: guest, requester: Requester{OrderToken: "token-x"}, expected: false},
		{name: "anonymous", order: guest, requester: Requester{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.order.IsAccessibleBy(tt.requester))
		})
	}
}

func TestOrder_IsOwnedBy(t *testing.T) {
	owner := "user-1"
	owned := &Order{OwnerUserID: &owner, AccessToken: "token-a"}
	guest := &Order{AccessToken: "token-b"}

	assert.True(t, owned.IsOwnedBy(Requester{UserID: "user-1"}))
	assert.True(t, owned.IsOwnedBy(Requester{UserID: "user-1", Role: RoleAdmin}))
	assert.False(t, owned.IsOwnedBy(Requester{UserID: "ops", Role: RoleAdmin}))
	assert.True(t, guest.IsOwnedBy(Requester{OrderToken: "token-b"}))
	assert.False(t, guest.IsOwnedBy(Requester{Role: RoleAdmin}))
}

func TestVariantTag(t *testing.T) {
	tag, err := ParseVariantTag("ar")
	assert.NoError(t, err)
	assert.Equal(t, VariantArabic, tag)

	_, err = ParseVariantTag("fr")
	assert.Error(t, err)
}
