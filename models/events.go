package models

import "time"

// OrderEvent is published on the event bus after every applied transition.
type OrderEvent struct {
	EventType      string    `json:"event_type"`
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	UserID         string    `json:"user_id,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	StripeEventID  string    `json:"stripe_event_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewOrderEvent builds the event describing order's move from previous.
func NewOrderEvent(order *Order, previous OrderStatus, stripeEventID string, at time.Time) OrderEvent {
	evt := OrderEvent{
		EventType:      "order." + string(order.Status),
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		StripeEventID:  stripeEventID,
		Timestamp:      at.UTC(),
	}
	if order.UserID != nil {
		evt.UserID = order.UserID.String()
	}
	return evt
}
