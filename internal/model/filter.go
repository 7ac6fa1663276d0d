package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionFilter narrows a session listing. Nil fields match everything.
type SessionFilter struct {
	ID         *int64
	Status     *SessionStatus
	LatestOnly bool
}

// BidFilter narrows a bid listing.
type BidFilter struct {
	SessionID  *int64
	ResourceID *uuid.UUID
	UserID     *uuid.UUID
	Confirmed  *bool
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	SessionID  *int64
	ResourceID *uuid.UUID
	UserID     *uuid.UUID
	Type       *TransactionType
}

// SessionBalanceFilter narrows a session balance listing. When ByResource is
// false, rows are summed per (session, user).
type SessionBalanceFilter struct {
	SessionID  *int64
	ResourceID *uuid.UUID
	UserID     *uuid.UUID
	ByResource bool
}

// BalanceFilter narrows a user balance listing.
type BalanceFilter struct {
	UserID     *uuid.UUID
	BalanceGTE *decimal.Decimal
	BalanceLTE *decimal.Decimal
}

// TransferOutFilter narrows a withdrawal request listing.
type TransferOutFilter struct {
	SessionID *int64
	UserID    *uuid.UUID
	IsSolid   *bool
}

// PriceWeightFilter narrows a price weight listing.
type PriceWeightFilter struct {
	SessionID *int64
}

// MatchBid reports whether b satisfies f.
func (f BidFilter) MatchBid(b Bid) bool {
	if f.SessionID != nil && b.SessionID != *f.SessionID {
		return false
	}
	if f.ResourceID != nil && b.ResourceID != *f.ResourceID {
		return false
	}
	if f.UserID != nil && b.UserID != *f.UserID {
		return false
	}
	if f.Confirmed != nil && b.Confirmed != *f.Confirmed {
		return false
	}
	return true
}

// MatchTransaction reports whether tx satisfies f.
func (f TransactionFilter) MatchTransaction(tx Transaction) bool {
	if f.SessionID != nil && tx.SessionID != *f.SessionID {
		return false
	}
	if f.ResourceID != nil && tx.ResourceID != *f.ResourceID {
		return false
	}
	if f.UserID != nil && tx.UserID != *f.UserID {
		return false
	}
	if f.Type != nil && tx.Type != *f.Type {
		return false
	}
	return true
}

// MatchSessionBalance reports whether b satisfies f, ignoring ByResource.
func (f SessionBalanceFilter) MatchSessionBalance(b SessionBalance) bool {
	if f.SessionID != nil && b.SessionID != *f.SessionID {
		return false
	}
	if f.ResourceID != nil && b.ResourceID != *f.ResourceID {
		return false
	}
	if f.UserID != nil && b.UserID != *f.UserID {
		return false
	}
	return true
}

// MatchBalance reports whether b satisfies f.
func (f BalanceFilter) MatchBalance(b Balance) bool {
	if f.UserID != nil && b.UserID != *f.UserID {
		return false
	}
	if f.BalanceGTE != nil && b.Amount.LessThan(*f.BalanceGTE) {
		return false
	}
	if f.BalanceLTE != nil && b.Amount.GreaterThan(*f.BalanceLTE) {
		return false
	}
	return true
}

// MatchTransferOut reports whether t satisfies f.
func (f TransferOutFilter) MatchTransferOut(t TransferOut) bool {
	if f.SessionID != nil && t.SessionID != *f.SessionID {
		return false
	}
	if f.UserID != nil && t.UserID != *f.UserID {
		return false
	}
	if f.IsSolid != nil && t.IsSolid != *f.IsSolid {
		return false
	}
	return true
}

// SessionBalanceSummary is a session balance summed across a user's
// resources, returned when listing without per-resource detail.
type SessionBalanceSummary struct {
	SessionID       int64           `json:"market_session"`
	UserID          uuid.UUID       `json:"user"`
	Amount          decimal.Decimal `json:"session_balance"`
	SessionDeposit  decimal.Decimal `json:"session_deposit"`
	SessionPayment  decimal.Decimal `json:"session_payment"`
	SessionRevenue  decimal.Decimal `json:"session_revenue"`
	SessionWithdraw decimal.Decimal `json:"session_withdraw"`
}

// Summarize sums session balances per (session, user), keeping first-seen order.
func Summarize(rows []SessionBalance) []SessionBalanceSummary {
	type key struct {
		session int64
		user    uuid.UUID
	}
	idx := make(map[key]int)
	out := make([]SessionBalanceSummary, 0)
	for _, r := range rows {
		k := key{r.SessionID, r.UserID}
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, SessionBalanceSummary{
				SessionID:       r.SessionID,
				UserID:          r.UserID,
				Amount:          decimal.Zero,
				SessionDeposit:  decimal.Zero,
				SessionPayment:  decimal.Zero,
				SessionRevenue:  decimal.Zero,
				SessionWithdraw: decimal.Zero,
			})
			i = len(out) - 1
		}
		s := &out[i]
		s.Amount = s.Amount.Add(r.Amount)
		s.SessionDeposit = s.SessionDeposit.Add(r.SessionDeposit)
		s.SessionPayment = s.SessionPayment.Add(r.SessionPayment)
		s.SessionRevenue = s.SessionRevenue.Add(r.SessionRevenue)
		s.SessionWithdraw = s.SessionWithdraw.Add(r.SessionWithdraw)
	}
	return out
}
