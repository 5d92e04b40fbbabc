package lifecycle

import (
	"sort"

	"material-orders/internal/models"

	"github.com/shopspring/decimal"
)

// ProjectPaymentStatus derives the payment status of order from every payment
// recorded against it. The result never depends on insertion order.
func ProjectPaymentStatus(order *models.Order, payments []models.Payment) models.PaymentStatus {
	ordered := make([]models.Payment, 0, len(payments))
	for _, p := range payments {
		if p.OrderID == order.ID {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, p := range ordered {
		if p.Type == models.PaymentTypeRefund && p.Status == models.PaymentRecordSucceeded {
			return models.PaymentStatusRefunded
		}
	}

	switch order.PaymentMethod {
	case models.PaymentMethodCOD:
		prepayment := decimal.Zero
		if order.PrepaymentAmount != nil {
			prepayment = *order.PrepaymentAmount
		}
		switch legState(ordered, models.PaymentTypePrepayment, prepayment) {
		case legFailed:
			return models.PaymentStatusFailed
		case legOpen:
			return models.PaymentStatusPartialPending
		}
		switch legState(ordered, models.PaymentTypeSettlement, order.Total.Sub(prepayment)) {
		case legFailed:
			return models.PaymentStatusFailed
		case legOpen:
			return models.PaymentStatusPartialPaid
		}
		return models.PaymentStatusPaid

	default:
		switch legState(ordered, models.PaymentTypeFull, order.Total) {
		case legFailed:
			return models.PaymentStatusFailed
		case legOpen:
			return models.PaymentStatusPending
		}
		return models.PaymentStatusPaid
	}
}

type leg int

const (
	legOpen leg = iota
	legFailed
	legSettled
)

// legState reports whether successful payments of the given type add up to due,
// or whether the most recent attempt on the leg failed.
func legState(ordered []models.Payment, typ models.PaymentType, due decimal.Decimal) leg {
	state := legOpen
	paid := decimal.Zero
	for _, p := range ordered {
		if p.Type != typ {
			continue
		}
		switch p.Status {
		case models.PaymentRecordSucceeded:
			paid = paid.Add(p.Amount)
			if paid.GreaterThanOrEqual(due) {
				return legSettled
			}
			state = legOpen
		case models.PaymentRecordFailed:
			state = legFailed
		case models.PaymentRecordPending:
			// a retry in flight does not clear an earlier failure
		}
	}
	return state
}
