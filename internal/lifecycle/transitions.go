// Package lifecycle holds the order status state machine and the payment
// status derivation. Everything here is pure: no storage, no clocks.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"material-orders/internal/models"
)

// Action is a verification step requested by an actor
type Action string

const (
	ActionContactSeller Action = "contact_seller"
	ActionSellerAccept  Action = "seller_accept"
	ActionSellerReject  Action = "seller_reject"
	ActionContactBuyer  Action = "contact_buyer"
	ActionBuyerConfirm  Action = "buyer_confirm"
	ActionBuyerReject   Action = "buyer_reject"
)

// Role is the kind of actor invoking a transition. Every verification step is
// admin-only today.
type Role string

const RoleAdmin Role = "admin"

// ErrInvalidTransition matches every InvalidTransitionError
var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError names the rejected action and the status it was attempted from
type InvalidTransitionError struct {
	Status models.OrderStatus
	Action string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: action %q is not allowed from status %q", e.Action, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is(err, ErrInvalidTransition) match
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Party is whose response field a transition writes
type Party int

const (
	PartyNone Party = iota
	PartySeller
	PartyBuyer
)

// Transition is one legal edge of the verification workflow and its side effects
type Transition struct {
	From   models.OrderStatus
	Action Action
	To     models.OrderStatus
	Role   Role

	IncrementContact  bool
	StoreResponse     Party
	StoreRejectReason bool
	ClearRejectReason bool
	MarkVerified      bool
}

type transitionKey struct {
	status models.OrderStatus
	action Action
}

var transitions = map[transitionKey]Transition{}

func init() {
	for _, t := range []Transition{
		{
			From: models.OrderStatusPendingVerification, Action: ActionContactSeller,
			To: models.OrderStatusSellerContacted, Role: RoleAdmin,
			IncrementContact: true,
		},
		{
			From: models.OrderStatusSellerContacted, Action: ActionSellerAccept,
			To: models.OrderStatusSellerAccepted, Role: RoleAdmin,
			StoreResponse: PartySeller, ClearRejectReason: true,
		},
		{
			From: models.OrderStatusSellerContacted, Action: ActionSellerReject,
			To: models.OrderStatusSellerRejected, Role: RoleAdmin,
			StoreRejectReason: true,
		},
		{
			From: models.OrderStatusSellerAccepted, Action: ActionContactBuyer,
			To: models.OrderStatusBuyerContacted, Role: RoleAdmin,
			IncrementContact: true,
		},
		{
			From: models.OrderStatusBuyerContacted, Action: ActionBuyerConfirm,
			To: models.OrderStatusConfirmed, Role: RoleAdmin,
			StoreResponse: PartyBuyer, ClearRejectReason: true, MarkVerified: true,
		},
		{
			From: models.OrderStatusBuyerContacted, Action: ActionBuyerReject,
			To: models.OrderStatusBuyerRejected, Role: RoleAdmin,
			StoreRejectReason: true,
		},
	} {
		transitions[transitionKey{t.From, t.Action}] = t
	}
}

// ParseAction converts user input into a known Action
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(strings.ToLower(s)))
	switch a {
	case ActionContactSeller, ActionSellerAccept, ActionSellerReject,
		ActionContactBuyer, ActionBuyerConfirm, ActionBuyerReject:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Lookup returns the transition for (status, action) if role may invoke it
func Lookup(status models.OrderStatus, action Action, role Role) (Transition, error) {
	t, ok := transitions[transitionKey{status, action}]
	if !ok {
		return Transition{}, &InvalidTransitionError{Status: status, Action: string(action)}
	}
	if t.Role != role {
		return Transition{}, &InvalidTransitionError{
			Status: status,
			Action: string(action),
			Reason: fmt.Sprintf("requires role %s, got %s", t.Role, role),
		}
	}
	return t, nil
}

// AllowedActions lists the actions role may take from status
func AllowedActions(status models.OrderStatus, role Role) []Action {
	var out []Action
	for _, a := range []Action{
		ActionContactSeller, ActionSellerAccept, ActionSellerReject,
		ActionContactBuyer, ActionBuyerConfirm, ActionBuyerReject,
	} {
		if t, ok := transitions[transitionKey{status, a}]; ok && t.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// Apply writes the transition's status and side effects onto order.
// No other field is touched except UpdatedAt.
func (t Transition) Apply(order *models.Order, actorID, note string, now time.Time) {
	order.Status = t.To

	if t.IncrementContact {
		order.ContactAttempts++
	}

	switch t.StoreResponse {
	case PartySeller:
		order.SellerResponse = optional(note)
	case PartyBuyer:
		order.BuyerResponse = optional(note)
	}

	if t.ClearRejectReason {
		order.RejectReason = nil
	}
	if t.StoreRejectReason {
		reason := note
		order.RejectReason = &reason
	}
	if t.MarkVerified {
		order.VerifiedByAdminID = optional(actorID)
	}

	order.UpdatedAt = now
}

// fulfillmentPath is the forward-only delivery path entered after confirmation
var fulfillmentPath = map[models.OrderStatus]int{
	models.OrderStatusConfirmed:      0,
	models.OrderStatusOutForDelivery: 1,
	models.OrderStatusDelivered:      2,
	models.OrderStatusCompleted:      3,
}

// FulfillmentAction is the action label recorded for a fulfilment step
func FulfillmentAction(target models.OrderStatus) string {
	return "fulfill:" + string(target)
}

// CheckFulfillment accepts only strictly forward steps along
// confirmed -> out_for_delivery -> delivered -> completed.
func CheckFulfillment(current, target models.OrderStatus) error {
	from, ok := fulfillmentPath[current]
	if !ok {
		return &InvalidTransitionError{
			Status: current,
			Action: FulfillmentAction(target),
			Reason: "order has not been confirmed",
		}
	}
	to, ok := fulfillmentPath[target]
	if !ok || to == 0 {
		return &InvalidTransitionError{
			Status: current,
			Action: FulfillmentAction(target),
			Reason: "target is not a fulfilment status",
		}
	}
	if to <= from {
		return &InvalidTransitionError{
			Status: current,
			Action: FulfillmentAction(target),
			Reason: "orders never move backwards",
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
