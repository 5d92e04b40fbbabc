package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrder(method PaymentMethod) *Order {
	o := &Order{
		Items: OrderItems{
			{ProductID: "p1", Title: "Cement 50kg", Quantity: 4, UnitPrice: decimal.RequireFromString("375.25"), Unit: "bag"},
		},
		Subtotal:        decimal.RequireFromString("1501.00"),
		DeliveryCharges: decimal.RequireFromString("50.00"),
		Total:           decimal.RequireFromString("1551.00"),
		PaymentMethod:   method,
	}
	if method == PaymentMethodCOD {
		p := PrepaymentFor(o.Total)
		o.PrepaymentAmount = &p
	}
	return o
}

func TestPrepaymentFor(t *testing.T) {
	assert.True(t, PrepaymentFor(decimal.RequireFromString("1551.00")).Equal(decimal.RequireFromString("310.20")))
	assert.True(t, PrepaymentFor(decimal.RequireFromString("100.03")).Equal(decimal.RequireFromString("20.01")))
	assert.True(t, PrepaymentFor(decimal.RequireFromString("0.03")).Equal(decimal.RequireFromString("0.01")))
}

func TestOrderValidate(t *testing.T) {
	t.Run("online ok", func(t *testing.T) {
		assert.NoError(t, validOrder(PaymentMethodOnline).Validate())
	})

	t.Run("cod ok", func(t *testing.T) {
		assert.NoError(t, validOrder(PaymentMethodCOD).Validate())
	})

	t.Run("total mismatch", func(t *testing.T) {
		o := validOrder(PaymentMethodOnline)
		o.Total = decimal.RequireFromString("1500.00")
		err := o.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("cod without prepayment", func(t *testing.T) {
		o := validOrder(PaymentMethodCOD)
		o.PrepaymentAmount = nil
		assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
	})

	t.Run("cod with wrong prepayment", func(t *testing.T) {
		o := validOrder(PaymentMethodCOD)
		wrong := decimal.RequireFromString("300.00")
		o.PrepaymentAmount = &wrong
		assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
	})

	t.Run("online with prepayment", func(t *testing.T) {
		o := validOrder(PaymentMethodOnline)
		p := PrepaymentFor(o.Total)
		o.PrepaymentAmount = &p
		assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
	})

	t.Run("no items", func(t *testing.T) {
		o := validOrder(PaymentMethodOnline)
		o.Items = nil
		assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
	})

	t.Run("unknown method", func(t *testing.T) {
		o := validOrder(PaymentMethodOnline)
		o.PaymentMethod = "barter"
		assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
	})
}

func TestOrderClone_IsDeep(t *testing.T) {
	o := validOrder(PaymentMethodCOD)
	o.RejectReason = StringPtr("x")

	c := o.Clone()
	*c.RejectReason = "y"
	c.Items[0].Quantity = 99
	*c.PrepaymentAmount = decimal.Zero

	assert.Equal(t, "x", *o.RejectReason)
	assert.Equal(t, 4, o.Items[0].Quantity)
	assert.False(t, o.PrepaymentAmount.IsZero())
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, OrderStatusSellerRejected.IsTerminal())
	assert.True(t, OrderStatusCompleted.IsTerminal())
	assert.False(t, OrderStatusConfirmed.IsTerminal())
	assert.True(t, OrderStatusDelivered.Valid())
	assert.False(t, OrderStatus("lost").Valid())
	assert.Len(t, AllOrderStatuses(), 13)
}

func TestJSONColumns_Scan(t *testing.T) {
	var items OrderItems
	require.NoError(t, items.Scan([]byte(`[{"product_id":"p1","title":"Sand","quantity":2,"unit_price":"12.50","unit":"ton"}]`)))
	require.Len(t, items, 1)
	assert.True(t, items[0].LineTotal().Equal(decimal.RequireFromString("25")))

	var addr DeliveryAddress
	require.NoError(t, addr.Scan(`{"line1":"1 Main","city":"Pune","state":"MH","pin_code":"411001"}`))
	assert.NoError(t, addr.Validate())

	assert.Error(t, addr.Scan(42))

	var meta Metadata
	require.NoError(t, meta.Scan(nil))
	assert.Nil(t, meta)
}
