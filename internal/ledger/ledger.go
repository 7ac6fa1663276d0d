// Package ledger implements the balance update rules of the market.
//
// A posting applies a signed amount of one transaction type to a user's
// market balance and to the session balance of one (session, user, resource)
// triple. Accumulators are kept as magnitudes so that, at all times,
//
//	balance = total_deposit - total_payment + total_revenue - total_withdraw
//
// holds for the user balance, and the same identity holds for the session
// balance over its session_* fields. Balances never go below zero.
//
// The functions here are pure: they validate and compute on copies and only
// write back to their arguments when the whole posting is accepted.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/model"
)

// CheckSign validates the amount sign against the transaction type.
func CheckSign(tt model.TransactionType, amount decimal.Decimal) error {
	if !tt.SignOK(amount) {
		return apperr.TransactionBadOperatorSignal(string(tt), amount)
	}
	return nil
}

// Apply posts amount of type tt to bal and sb. On error neither argument
// is modified.
func Apply(bal *model.Balance, sb *model.SessionBalance, tt model.TransactionType, amount decimal.Decimal, at time.Time) error {
	if err := CheckSign(tt, amount); err != nil {
		return err
	}

	nb := *bal
	ns := *sb
	mag := amount.Abs()

	nb.Amount = nb.Amount.Add(amount)
	ns.Amount = ns.Amount.Add(amount)

	switch tt {
	case model.TxTransferIn:
		nb.TotalDeposit = nb.TotalDeposit.Add(mag)
		ns.SessionDeposit = ns.SessionDeposit.Add(mag)
	case model.TxRevenue:
		nb.TotalRevenue = nb.TotalRevenue.Add(mag)
		ns.SessionRevenue = ns.SessionRevenue.Add(mag)
	case model.TxPayment:
		nb.TotalPayment = nb.TotalPayment.Add(mag)
		ns.SessionPayment = ns.SessionPayment.Add(mag)
	case model.TxTransferOut:
		nb.TotalWithdraw = nb.TotalWithdraw.Add(mag)
		ns.SessionWithdraw = ns.SessionWithdraw.Add(mag)
	}

	if nb.Amount.IsNegative() {
		return apperr.BalanceLowerThanZero(bal.Amount, mag, nb.Amount)
	}
	if ns.Amount.IsNegative() {
		return apperr.BalanceLowerThanZero(sb.Amount, mag, ns.Amount)
	}

	nb.UpdatedAt = at
	*bal = nb
	*sb = ns
	return nil
}

// Balanced reports whether bal satisfies the accumulator identity.
func Balanced(bal model.Balance) bool {
	want := bal.TotalDeposit.Sub(bal.TotalPayment).Add(bal.TotalRevenue).Sub(bal.TotalWithdraw)
	return bal.Amount.Equal(want)
}

// SessionBalanced reports whether sb satisfies the accumulator identity.
func SessionBalanced(sb model.SessionBalance) bool {
	want := sb.SessionDeposit.Sub(sb.SessionPayment).Add(sb.SessionRevenue).Sub(sb.SessionWithdraw)
	return sb.Amount.Equal(want)
}
