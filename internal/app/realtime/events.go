// Package realtime fans library events out to connected staff clients.
package realtime

import (
	"context"
	"time"
)

// Event types published by the services.
const (
	EventLoanBorrowed     = "loan.borrowed"
	EventLoanReturned     = "loan.returned"
	EventLoanOverdue      = "loan.overdue"
	EventLoanCancelled    = "loan.cancelled"
	EventReturnRequested  = "loan.return_requested"
	EventPaymentPending   = "payment.pending"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventReviewSubmitted  = "review.submitted"
	EventTierChanged      = "membership.tier_changed"
)

// Event is one notification.
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{})
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) {}
