package workflow

import (
	"fmt"
	"strings"
)

// Status is the delivery progress of an order.
type Status string

const (
	StatusNew       Status = "new"
	StatusAssigned  Status = "assigned"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus is orthogonal to Status.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPrepaid  PaymentStatus = "prepaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// progress orders the non-cancelled statuses.
var progress = map[Status]int{
	StatusNew:       0,
	StatusAssigned:  1,
	StatusPickedUp:  2,
	StatusInTransit: 3,
	StatusDelivered: 4,
	StatusCompleted: 5,
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := progress[st]; ok || st == StatusCancelled {
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
}

// ParsePaymentStatus accepts any casing and surrounding whitespace.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	switch ps {
	case PaymentUnpaid, PaymentPartial, PaymentPrepaid, PaymentPaid, PaymentRefunded:
		return ps, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidTransition, s)
}

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// NeedsDriver reports whether an order in this status must have a driver.
func (s Status) NeedsDriver() bool {
	switch s {
	case StatusPickedUp, StatusInTransit, StatusDelivered:
		return true
	}
	return false
}

// Fulfilled is true once the goods reached the customer.
func (s Status) Fulfilled() bool {
	return s == StatusDelivered || s == StatusCompleted
}

// NeedsDriver reports whether this payment status is only meaningful for driver-fulfilled orders.
func (p PaymentStatus) NeedsDriver() bool {
	return p == PaymentPaid || p == PaymentRefunded
}
