package models

import (
	"errors"
	"fmt"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var (
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// validTransitions lists every forward move of the lifecycle. Anything not
// listed, including moving backwards, is rejected.
var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// ParseOrderStatus converts s to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s OrderStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition can leave s.
func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(validTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both states)
// when s cannot move to next.
func (s OrderStatus) ValidateTransition(next OrderStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

func (s OrderStatus) String() string {
	return string(s)
}
