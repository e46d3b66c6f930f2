package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypePointsEarned       = "POINTS_EARNED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after an order and its ledger entries commit
type OrderCreatedEvent struct {
	BaseEvent
	OrderID      string `json:"order_id"`
	OrderKind    string `json:"order_kind"`
	NumeroOrden  string `json:"numero_orden"`
	UserID       string `json:"user_id"`
	PuntosUsados int    `json:"puntos_usados"`
	Total        string `json:"total,omitempty"`
}

// OrderStatusChangedEvent published on every legal transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	OrderKind string `json:"order_kind"`
	UserID    string `json:"user_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// OrderCancelledEvent published when restitution has been applied
type OrderCancelledEvent struct {
	BaseEvent
	OrderID        string `json:"order_id"`
	OrderKind      string `json:"order_kind"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
	PointsRefunded int    `json:"points_refunded"`
	PointsRevoked  int    `json:"points_revoked"`
}

// PointsEarnedEvent published when a purchase credits points
type PointsEarnedEvent struct {
	BaseEvent
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
	Points  int    `json:"points"`
}
