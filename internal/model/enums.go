package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a market session.
type SessionStatus string

const (
	SessionStaged   SessionStatus = "staged"
	SessionOpen     SessionStatus = "open"
	SessionClosed   SessionStatus = "closed"
	SessionRunning  SessionStatus = "running"
	SessionFinished SessionStatus = "finished"
)

// ParseSessionStatus validates a status string.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case SessionStaged, SessionOpen, SessionClosed, SessionRunning, SessionFinished:
		return st, nil
	}
	return "", fmt.Errorf("model: unknown session status %q", s)
}

// GainFunc selects the loss function used to score a bid's forecasts.
type GainFunc string

const (
	GainMSE  GainFunc = "mse"
	GainRMSE GainFunc = "rmse"
	GainMAE  GainFunc = "mae"
)

// ParseGainFunc validates a gain function string.
func ParseGainFunc(s string) (GainFunc, error) {
	switch g := GainFunc(s); g {
	case GainMSE, GainRMSE, GainMAE:
		return g, nil
	}
	return "", fmt.Errorf("model: unknown gain function %q", s)
}

// ResourceType classifies a user's resource.
type ResourceType string

const (
	ResourceMeasurement ResourceType = "measurement"
	ResourceFeature     ResourceType = "feature"
)

// BidState is derived from a bid's payment row and confirmation flag.
type BidState string

const (
	BidNoPaymentRef   BidState = "unconfirmed_no_payment_ref"
	BidWithPaymentRef BidState = "unconfirmed_with_payment_ref"
	BidConfirmed      BidState = "confirmed"
)

// StateOf returns the lifecycle state of a bid.
func StateOf(b Bid, hasPayment bool) BidState {
	switch {
	case b.Confirmed:
		return BidConfirmed
	case hasPayment:
		return BidWithPaymentRef
	default:
		return BidNoPaymentRef
	}
}

// TransactionType tags a ledger posting. The sign an amount must carry is
// a function of the tag alone.
type TransactionType string

const (
	TxPayment     TransactionType = "payment"
	TxRevenue     TransactionType = "revenue"
	TxTransferIn  TransactionType = "transfer_in"
	TxTransferOut TransactionType = "transfer_out"
)

// ParseTransactionType validates a transaction type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(s); t {
	case TxPayment, TxRevenue, TxTransferIn, TxTransferOut:
		return t, nil
	}
	return "", fmt.Errorf("model: unknown transaction type %q", s)
}

// Debit reports whether the type moves money out of a balance.
func (t TransactionType) Debit() bool {
	return t == TxPayment || t == TxTransferOut
}

// SignOK reports whether amount carries the sign required by the type:
// debits must be <= 0, credits >= 0.
func (t TransactionType) SignOK(amount decimal.Decimal) bool {
	if t.Debit() {
		return !amount.IsPositive()
	}
	return !amount.IsNegative()
}
