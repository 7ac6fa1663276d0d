// Package model defines the core domain types shared across the market service.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketSession is one market round. Its status gates what bids may do.
type MarketSession struct {
	ID            int64           `json:"id" db:"id"`
	SessionNumber int             `json:"session_number" db:"session_number"`
	SessionDate   time.Time       `json:"session_date" db:"session_date"`
	Status        SessionStatus   `json:"status" db:"status"`
	StagedTS      *time.Time      `json:"staged_ts" db:"staged_ts"`
	OpenTS        *time.Time      `json:"open_ts" db:"open_ts"`
	CloseTS       *time.Time      `json:"close_ts" db:"close_ts"`
	LaunchTS      *time.Time      `json:"launch_ts" db:"launch_ts"`
	FinishTS      *time.Time      `json:"finish_ts" db:"finish_ts"`
	MarketPrice   decimal.Decimal `json:"market_price" db:"market_price"`
	BMin          decimal.Decimal `json:"b_min" db:"b_min"`
	BMax          decimal.Decimal `json:"b_max" db:"b_max"`
	NPriceSteps   int             `json:"n_price_steps" db:"n_price_steps"`
	Delta         decimal.Decimal `json:"delta" db:"delta"`
}

// Stamp records the time the session entered its current status.
func (s *MarketSession) Stamp(at time.Time) {
	ts := at
	switch s.Status {
	case SessionStaged:
		s.StagedTS = &ts
	case SessionOpen:
		s.OpenTS = &ts
	case SessionClosed:
		s.CloseTS = &ts
	case SessionRunning:
		s.LaunchTS = &ts
	case SessionFinished:
		s.FinishTS = &ts
	}
}

// Bid is an agent's offer to pay up to MaxPayment for a forecast of one
// resource in one session. At most one bid exists per (user, resource, session).
type Bid struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       uuid.UUID       `json:"user" db:"user_id"`
	ResourceID   uuid.UUID       `json:"resource" db:"resource_id"`
	SessionID    int64           `json:"market_session" db:"market_session_id"`
	BidPrice     decimal.Decimal `json:"bid_price" db:"bid_price"`
	MaxPayment   decimal.Decimal `json:"max_payment" db:"max_payment"`
	GainFunc     GainFunc        `json:"gain_func" db:"gain_func"`
	Confirmed    bool            `json:"confirmed" db:"confirmed"`
	HasForecasts bool            `json:"has_forecasts" db:"has_forecasts"`
	RegisteredAt time.Time       `json:"registered_at" db:"registered_at"`
}

// BidWithPayment is a bid as listed to clients, carrying its payment reference.
type BidWithPayment struct {
	Bid
	TangleMsgID *string  `json:"tangle_msg_id"`
	State       BidState `json:"state"`
}

// BidPayment binds a bid to the external payment reference that funds it.
type BidPayment struct {
	BidID        uuid.UUID `json:"bid" db:"bid_id"`
	TangleMsgID  string    `json:"tangle_msg_id" db:"tangle_msg_id"`
	IsSolid      bool      `json:"is_solid" db:"is_solid"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// Balance is a user's market-wide running account. Accumulators hold
// magnitudes: Amount = TotalDeposit - TotalPayment + TotalRevenue - TotalWithdraw.
type Balance struct {
	UserID        uuid.UUID       `json:"user" db:"user_id"`
	Amount        decimal.Decimal `json:"balance" db:"balance"`
	TotalDeposit  decimal.Decimal `json:"total_deposit" db:"total_deposit"`
	TotalWithdraw decimal.Decimal `json:"total_withdraw" db:"total_withdraw"`
	TotalPayment  decimal.Decimal `json:"total_payment" db:"total_payment"`
	TotalRevenue  decimal.Decimal `json:"total_revenue" db:"total_revenue"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// NewBalance returns a zeroed balance for a user.
func NewBalance(userID uuid.UUID) Balance {
	return Balance{
		UserID:        userID,
		Amount:        decimal.Zero,
		TotalDeposit:  decimal.Zero,
		TotalWithdraw: decimal.Zero,
		TotalPayment:  decimal.Zero,
		TotalRevenue:  decimal.Zero,
	}
}

// SessionBalance is the per (session, user, resource) shadow of Balance.
type SessionBalance struct {
	SessionID       int64           `json:"market_session" db:"market_session_id"`
	UserID          uuid.UUID       `json:"user" db:"user_id"`
	ResourceID      uuid.UUID       `json:"resource" db:"resource_id"`
	Amount          decimal.Decimal `json:"session_balance" db:"session_balance"`
	SessionDeposit  decimal.Decimal `json:"session_deposit" db:"session_deposit"`
	SessionPayment  decimal.Decimal `json:"session_payment" db:"session_payment"`
	SessionRevenue  decimal.Decimal `json:"session_revenue" db:"session_revenue"`
	SessionWithdraw decimal.Decimal `json:"session_withdraw" db:"session_withdraw"`
	RegisteredAt    time.Time       `json:"registered_at" db:"registered_at"`
}

// NewSessionBalance returns a zeroed session balance for a triple.
func NewSessionBalance(k SessionKey) SessionBalance {
	return SessionBalance{
		SessionID:       k.SessionID,
		UserID:          k.UserID,
		ResourceID:      k.ResourceID,
		Amount:          decimal.Zero,
		SessionDeposit:  decimal.Zero,
		SessionPayment:  decimal.Zero,
		SessionRevenue:  decimal.Zero,
		SessionWithdraw: decimal.Zero,
	}
}

// Key returns the triple identifying the session balance.
func (b SessionBalance) Key() SessionKey {
	return SessionKey{SessionID: b.SessionID, UserID: b.UserID, ResourceID: b.ResourceID}
}

// Key returns the triple the withdrawal is booked against.
func (t TransferOut) Key() SessionKey {
	return SessionKey{SessionID: t.SessionID, UserID: t.UserID, ResourceID: t.ResourceID}
}

// SessionKey identifies a (session, user, resource) triple.
type SessionKey struct {
	SessionID  int64
	UserID     uuid.UUID
	ResourceID uuid.UUID
}

// Transaction is one posted monetary movement. Only one row may exist per
// (session, user, resource, type).
type Transaction struct {
	ID           int64           `json:"id" db:"id"`
	SessionID    int64           `json:"market_session" db:"market_session_id"`
	UserID       uuid.UUID       `json:"user" db:"user_id"`
	ResourceID   uuid.UUID       `json:"resource" db:"resource_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Type         TransactionType `json:"transaction_type" db:"transaction_type"`
	RegisteredAt time.Time       `json:"registered_at" db:"registered_at"`
}

// WalletAddress is the platform's receiving address. At most one exists.
type WalletAddress struct {
	Address      string    `json:"wallet_address" db:"wallet_address"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// TransferOut is a withdrawal request moving tokens from a user's market
// balance to the user's own wallet. It is booked against the session
// balance of one (session, user, resource) triple.
type TransferOut struct {
	ID                int64           `json:"withdraw_transfer_id" db:"id"`
	SessionID         int64           `json:"market_session" db:"market_session_id"`
	UserID            uuid.UUID       `json:"user" db:"user_id"`
	ResourceID        uuid.UUID       `json:"resource" db:"resource_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	UserWalletAddress string          `json:"user_wallet_address" db:"user_wallet_address"`
	TangleMsgID       string          `json:"tangle_msg_id" db:"tangle_msg_id"`
	IsSolid           bool            `json:"is_solid" db:"is_solid"`
	RegisteredAt      time.Time       `json:"registered_at" db:"registered_at"`
}

// SessionFee is the market fee charged in one session.
type SessionFee struct {
	SessionID    int64           `json:"market_session" db:"market_session_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	RegisteredAt time.Time       `json:"registered_at" db:"registered_at"`
}

// PriceWeight is one weight vector used by the session price algorithm.
type PriceWeight struct {
	ID           int64           `json:"id" db:"id"`
	SessionID    int64           `json:"market_session" db:"market_session_id"`
	WeightsP     decimal.Decimal `json:"weights_p" db:"weights_p"`
	RegisteredAt time.Time       `json:"registered_at" db:"registered_at"`
}

// Resource is a user's time-series resource as known by the user registry.
type Resource struct {
	ID         uuid.UUID    `json:"id"`
	UserID     uuid.UUID    `json:"user"`
	Name       string       `json:"name"`
	Type       ResourceType `json:"type"`
	ToForecast bool         `json:"to_forecast"`
}
