package lifecycle

import (
	"errors"
	"testing"
	"time"

	"material-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allActions = []Action{
	ActionContactSeller, ActionSellerAccept, ActionSellerReject,
	ActionContactBuyer, ActionBuyerConfirm, ActionBuyerReject,
}

func TestLookup_LegalEdges(t *testing.T) {
	tests := []struct {
		from   models.OrderStatus
		action Action
		to     models.OrderStatus
	}{
		{models.OrderStatusPendingVerification, ActionContactSeller, models.OrderStatusSellerContacted},
		{models.OrderStatusSellerContacted, ActionSellerAccept, models.OrderStatusSellerAccepted},
		{models.OrderStatusSellerContacted, ActionSellerReject, models.OrderStatusSellerRejected},
		{models.OrderStatusSellerAccepted, ActionContactBuyer, models.OrderStatusBuyerContacted},
		{models.OrderStatusBuyerContacted, ActionBuyerConfirm, models.OrderStatusConfirmed},
		{models.OrderStatusBuyerContacted, ActionBuyerReject, models.OrderStatusBuyerRejected},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			tr, err := Lookup(tt.from, tt.action, RoleAdmin)
			require.NoError(t, err)
			assert.Equal(t, tt.to, tr.To)
		})
	}
}

func TestLookup_EverythingElseIsInvalid(t *testing.T) {
	legal := 0
	for _, status := range models.AllOrderStatuses() {
		for _, action := range allActions {
			_, err := Lookup(status, action, RoleAdmin)
			if err == nil {
				legal++
				continue
			}

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, status, ite.Status)
			assert.Equal(t, string(action), ite.Action)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.Equal(t, 6, legal)
}

func TestLookup_TerminalStatesHaveNoEdges(t *testing.T) {
	for _, status := range models.AllOrderStatuses() {
		if !status.IsTerminal() {
			continue
		}
		assert.Empty(t, AllowedActions(status, RoleAdmin), status)
	}
}

func TestLookup_WrongRole(t *testing.T) {
	_, err := Lookup(models.OrderStatusPendingVerification, ActionContactSeller, Role("seller"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "requires role admin")
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Contact_Seller ")
	require.NoError(t, err)
	assert.Equal(t, ActionContactSeller, a)

	_, err = ParseAction("cancel")
	assert.Error(t, err)
}

func TestApply_SideEffects(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	t.Run("contact increments counter only", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusPendingVerification, ContactAttempts: 2}
		tr, err := Lookup(order.Status, ActionContactSeller, RoleAdmin)
		require.NoError(t, err)

		tr.Apply(order, "admin-1", "rang twice", now)

		assert.Equal(t, models.OrderStatusSellerContacted, order.Status)
		assert.Equal(t, 3, order.ContactAttempts)
		assert.Nil(t, order.SellerResponse)
		assert.Nil(t, order.RejectReason)
		assert.Equal(t, now, order.UpdatedAt)
	})

	t.Run("seller accept stores response and clears reason", func(t *testing.T) {
		order := &models.Order{
			Status:       models.OrderStatusSellerContacted,
			RejectReason: models.StringPtr("stale"),
		}
		tr, err := Lookup(order.Status, ActionSellerAccept, RoleAdmin)
		require.NoError(t, err)

		tr.Apply(order, "admin-1", "ships tomorrow", now)

		assert.Equal(t, models.OrderStatusSellerAccepted, order.Status)
		require.NotNil(t, order.SellerResponse)
		assert.Equal(t, "ships tomorrow", *order.SellerResponse)
		assert.Nil(t, order.RejectReason)
		assert.Equal(t, 0, order.ContactAttempts)
	})

	t.Run("seller reject stores reason, empty allowed", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusSellerContacted}
		tr, err := Lookup(order.Status, ActionSellerReject, RoleAdmin)
		require.NoError(t, err)

		tr.Apply(order, "admin-1", "", now)

		assert.Equal(t, models.OrderStatusSellerRejected, order.Status)
		require.NotNil(t, order.RejectReason)
		assert.Equal(t, "", *order.RejectReason)
		assert.Nil(t, order.SellerResponse)
	})

	t.Run("buyer confirm marks verifier", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusBuyerContacted}
		tr, err := Lookup(order.Status, ActionBuyerConfirm, RoleAdmin)
		require.NoError(t, err)

		tr.Apply(order, "admin-7", "confirmed on call", now)

		assert.Equal(t, models.OrderStatusConfirmed, order.Status)
		require.NotNil(t, order.VerifiedByAdminID)
		assert.Equal(t, "admin-7", *order.VerifiedByAdminID)
		require.NotNil(t, order.BuyerResponse)
		assert.Equal(t, "confirmed on call", *order.BuyerResponse)
		assert.Nil(t, order.RejectReason)
	})

	t.Run("buyer confirm without actor leaves verifier unset", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusBuyerContacted}
		tr, err := Lookup(order.Status, ActionBuyerConfirm, RoleAdmin)
		require.NoError(t, err)

		tr.Apply(order, "", "", now)

		assert.Equal(t, models.OrderStatusConfirmed, order.Status)
		assert.Nil(t, order.VerifiedByAdminID)
	})

	t.Run("buyer reject does not verify", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusBuyerContacted}
		tr, err := Lookup(order.Status, ActionBuyerReject, RoleAdmin)
		require.NoError(t, err)

		tr.Apply(order, "admin-7", "changed mind", now)

		assert.Equal(t, models.OrderStatusBuyerRejected, order.Status)
		assert.Nil(t, order.VerifiedByAdminID)
		assert.Nil(t, order.BuyerResponse)
		require.NotNil(t, order.RejectReason)
		assert.Equal(t, "changed mind", *order.RejectReason)
	})
}

func TestCheckFulfillment(t *testing.T) {
	tests := []struct {
		name    string
		current models.OrderStatus
		target  models.OrderStatus
		wantErr bool
	}{
		{"dispatch", models.OrderStatusConfirmed, models.OrderStatusOutForDelivery, false},
		{"deliver", models.OrderStatusOutForDelivery, models.OrderStatusDelivered, false},
		{"complete", models.OrderStatusDelivered, models.OrderStatusCompleted, false},
		{"skip ahead", models.OrderStatusConfirmed, models.OrderStatusDelivered, false},
		{"repeat", models.OrderStatusDelivered, models.OrderStatusDelivered, true},
		{"regress", models.OrderStatusDelivered, models.OrderStatusOutForDelivery, true},
		{"back to confirmed", models.OrderStatusOutForDelivery, models.OrderStatusConfirmed, true},
		{"not yet confirmed", models.OrderStatusBuyerContacted, models.OrderStatusOutForDelivery, true},
		{"rejected order", models.OrderStatusSellerRejected, models.OrderStatusDelivered, true},
		{"non fulfilment target", models.OrderStatusConfirmed, models.OrderStatusRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFulfillment(tt.current, tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
		})
	}
}
