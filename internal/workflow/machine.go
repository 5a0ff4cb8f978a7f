package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDriverRequired    = errors.New("driver required")
)

// Effect is a side effect a transition asks the caller to perform.
type Effect string

const (
	EffectStampDelivered   Effect = "stamp_delivered"
	EffectStampCompleted   Effect = "stamp_completed"
	EffectCashOutOnCreate  Effect = "cash_out_on_create"
	EffectCreditOnDelivery Effect = "credit_on_delivery"
	EffectMoveToHistory    Effect = "move_to_history"
)

// purchaseType is the order type whose goods are bought with cashbox money.
const purchaseType = "go_to_market"

var statusTransitions = map[Status][]Status{
	StatusNew:       {StatusAssigned, StatusPickedUp, StatusInTransit, StatusDelivered, StatusCompleted, StatusCancelled},
	StatusAssigned:  {StatusPickedUp, StatusInTransit, StatusDelivered, StatusCompleted, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusDelivered, StatusCompleted, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusCompleted, StatusCancelled},
	StatusDelivered: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid:   {PaymentPartial, PaymentPrepaid, PaymentPaid},
	PaymentPartial:  {PaymentPaid, PaymentRefunded},
	PaymentPrepaid:  {PaymentPaid, PaymentRefunded},
	PaymentPaid:     {PaymentRefunded},
	PaymentRefunded: {},
}

// Snapshot is the part of an order the state machine looks at.
type Snapshot struct {
	Status            Status
	Payment           PaymentStatus
	OrderType         string
	IsPurchase        bool
	HasDriver         bool
	AccountingCashed  bool
	AppliedOnCreate   bool
	AppliedOnDelivery bool
	MovedToHistory    bool
}

// Plan lists the effects of one transition, in execution order.
type Plan struct {
	Effects []Effect
}

// Has reports whether the plan contains e.
func (p Plan) Has(e Effect) bool {
	for _, x := range p.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// CanTransition reports whether the status table allows from -> to.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether the payment table allows from -> to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ShouldCashOutOnCreate is true for orders paid out of the cashbox up front.
func ShouldCashOutOnCreate(orderType string, payment PaymentStatus, isPurchase bool) bool {
	return strings.ToLower(strings.TrimSpace(orderType)) == purchaseType ||
		payment == PaymentPrepaid ||
		isPurchase
}

// Evaluate validates prev -> next and returns the effects to run. prev is nil
// for a new order, which is treated as coming from new/unpaid.
func Evaluate(prev *Snapshot, next Snapshot) (Plan, error) {
	from := Snapshot{Status: StatusNew, Payment: PaymentUnpaid}
	creating := prev == nil
	if !creating {
		from = *prev
	}

	if !CanTransition(from.Status, next.Status) {
		return Plan{}, fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, from.Status, next.Status)
	}
	if !CanTransitionPayment(from.Payment, next.Payment) {
		return Plan{}, fmt.Errorf("%w: payment_status %s -> %s", ErrInvalidTransition, from.Payment, next.Payment)
	}

	statusChanged := creating || from.Status != next.Status
	paymentChanged := creating || from.Payment != next.Payment
	driverChanged := !creating && from.HasDriver != next.HasDriver

	if !next.HasDriver {
		if next.Status.NeedsDriver() && (statusChanged || driverChanged) {
			return Plan{}, fmt.Errorf("%w: cannot set status to %s without a driver", ErrDriverRequired, next.Status)
		}
		if next.Payment.NeedsDriver() && (paymentChanged || driverChanged) {
			return Plan{}, fmt.Errorf("%w: cannot set payment_status to %s without a driver", ErrDriverRequired, next.Payment)
		}
	}

	var plan Plan
	if next.Status == StatusDelivered && from.Status != StatusDelivered {
		plan.Effects = append(plan.Effects, EffectStampDelivered)
	}
	if next.Status == StatusCompleted && from.Status != StatusCompleted {
		plan.Effects = append(plan.Effects, EffectStampCompleted)
	}
	if next.Status != StatusCancelled && !next.AppliedOnCreate &&
		ShouldCashOutOnCreate(next.OrderType, next.Payment, next.IsPurchase) {
		plan.Effects = append(plan.Effects, EffectCashOutOnCreate)
	}
	if next.Status.Fulfilled() && next.Payment == PaymentPaid && !next.AppliedOnDelivery {
		plan.Effects = append(plan.Effects, EffectCreditOnDelivery)
	}
	if ShouldMoveToHistory(next) {
		plan.Effects = append(plan.Effects, EffectMoveToHistory)
	}
	return plan, nil
}

// ShouldMoveToHistory is the archival rule: completed, paid and cashed by accounting.
func ShouldMoveToHistory(s Snapshot) bool {
	return s.Status == StatusCompleted && s.Payment == PaymentPaid && s.AccountingCashed && !s.MovedToHistory
}
