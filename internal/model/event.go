package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a post-commit notification about a bid or balance change.
type Event struct {
	Type        EventType       `json:"type"`
	UserID      uuid.UUID       `json:"user"`
	BidID       *uuid.UUID      `json:"bid_id,omitempty"`
	SessionID   *int64          `json:"market_session,omitempty"`
	ResourceID  *uuid.UUID      `json:"resource,omitempty"`
	TangleMsgID string          `json:"tangle_msg_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// EventType names a notification.
type EventType string

const (
	EventBidPlaced           EventType = "bid_placed"
	EventBidPaymentAttached  EventType = "bid_payment_attached"
	EventBidConfirmed        EventType = "bid_confirmed"
	EventWithdrawalRequested EventType = "withdrawal_requested"
	EventWithdrawalConfirmed EventType = "withdrawal_confirmed"
)
