package market

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/ledger"
	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/store"
	"github.com/predico/market-service/internal/tangle"
)

// PostTransactionInput is an administrative ledger adjustment.
type PostTransactionInput struct {
	SessionID  int64
	UserID     uuid.UUID
	ResourceID uuid.UUID
	Amount     decimal.Decimal
	Type       model.TransactionType
}

// Posting is the committed result of a ledger adjustment.
type Posting struct {
	Transaction    model.Transaction    `json:"transaction"`
	Balance        model.Balance        `json:"balance"`
	SessionBalance model.SessionBalance `json:"session_balance"`
}

// WithdrawalInput requests moving tokens from a user's market balance to
// the user's own wallet. The withdrawal is booked against the session
// balance of (SessionID, UserID, ResourceID).
type WithdrawalInput struct {
	SessionID         int64
	UserID            uuid.UUID
	ResourceID        uuid.UUID
	Amount            decimal.Decimal
	UserWalletAddress string
	TangleMsgID       string
}

// PostTransaction applies one signed posting to the user's balance and to
// the session balance of the (session, user, resource) triple, and records
// it in the transaction log.
func (s *Service) PostTransaction(ctx context.Context, in PostTransactionInput) (*Posting, error) {
	if _, err := model.ParseTransactionType(string(in.Type)); err != nil {
		return nil, apperr.Validation(err.Error()).WithDetail("transaction_type", string(in.Type))
	}
	if err := ledger.CheckSign(in.Type, in.Amount); err != nil {
		return nil, err
	}

	key := model.SessionKey{SessionID: in.SessionID, UserID: in.UserID, ResourceID: in.ResourceID}
	var out Posting
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetSession(ctx, in.SessionID); errors.Is(err, store.ErrNotFound) {
			return apperr.NoMarketSession(in.SessionID)
		} else if err != nil {
			return err
		}
		posted, err := s.post(ctx, tx, key, in.Type, in.Amount)
		if err != nil {
			return err
		}
		out.Transaction = *posted

		bal, err := tx.GetBalance(ctx, in.UserID)
		if err != nil {
			return err
		}
		out.Balance = *bal
		sbs, err := tx.ListSessionBalances(ctx, model.SessionBalanceFilter{
			SessionID:  &in.SessionID,
			UserID:     &in.UserID,
			ResourceID: &in.ResourceID,
		})
		if err != nil {
			return err
		}
		if len(sbs) == 1 {
			out.SessionBalance = sbs[0]
		}
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}

	metrics.LedgerPostings.WithLabelValues(string(in.Type)).Inc()
	s.logger.Info("ledger posting committed",
		zap.Int64("transaction_id", out.Transaction.ID),
		zap.String("user_id", in.UserID.String()),
		zap.String("resource_id", in.ResourceID.String()),
		zap.Int64("session_id", in.SessionID),
		zap.String("type", string(in.Type)),
		zap.String("amount", in.Amount.String()),
		zap.String("balance", out.Balance.Amount.String()),
	)
	return &out, nil
}

// post fetches or creates both balance rows under lock, applies the
// posting and inserts the transaction row.
func (s *Service) post(ctx context.Context, tx store.Tx, key model.SessionKey, tt model.TransactionType, amount decimal.Decimal) (*model.Transaction, error) {
	bal, err := tx.LockBalance(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	sb, err := tx.LockSessionBalance(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := ledger.Apply(bal, sb, tt, amount, now); err != nil {
		return nil, err
	}

	t := &model.Transaction{
		SessionID:    key.SessionID,
		UserID:       key.UserID,
		ResourceID:   key.ResourceID,
		Amount:       amount,
		Type:         tt,
		RegisteredAt: now,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		if store.IsConflict(err, store.ConstraintTransactionUnique) {
			return nil, apperr.DuplicatedTransactionFound(string(tt), key.UserID, key.ResourceID, key.SessionID)
		}
		return nil, err
	}
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return nil, err
	}
	if err := tx.SaveSessionBalance(ctx, sb); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns postings matching f. Non-admin callers only see
// their own.
func (s *Service) ListTransactions(ctx context.Context, caller Caller, f model.TransactionFilter) ([]model.Transaction, error) {
	if !caller.Admin {
		uid := caller.UserID
		f.UserID = &uid
	}
	txs, err := s.store.ListTransactions(ctx, f)
	return txs, internal(err)
}

// ListBalances returns user balances matching f. Non-admin callers only
// see their own.
func (s *Service) ListBalances(ctx context.Context, caller Caller, f model.BalanceFilter) ([]model.Balance, error) {
	if !caller.Admin {
		uid := caller.UserID
		f.UserID = &uid
	}
	out, err := s.store.ListBalances(ctx, f)
	return out, internal(err)
}

// ListSessionBalances returns per-resource session balances matching f.
func (s *Service) ListSessionBalances(ctx context.Context, caller Caller, f model.SessionBalanceFilter) ([]model.SessionBalance, error) {
	if !caller.Admin {
		uid := caller.UserID
		f.UserID = &uid
	}
	out, err := s.store.ListSessionBalances(ctx, f)
	return out, internal(err)
}

// SummarizeSessionBalances returns session balances matching f summed per
// (session, user).
func (s *Service) SummarizeSessionBalances(ctx context.Context, caller Caller, f model.SessionBalanceFilter) ([]model.SessionBalanceSummary, error) {
	rows, err := s.ListSessionBalances(ctx, caller, f)
	if err != nil {
		return nil, err
	}
	return model.Summarize(rows), nil
}

// RequestWithdrawal records a withdrawal request. The balance is only
// debited when the request is confirmed.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*model.TransferOut, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("Ensure amount is greater than zero.").
			WithDetail("amount", in.Amount.String())
	}
	addr, err := tangle.ParseAddress(in.UserWalletAddress)
	if err != nil {
		return nil, apperr.InvalidIotaAddress(in.UserWalletAddress).WithCause(err)
	}
	ref, err := tangle.ParseMessageID(in.TangleMsgID)
	if err != nil {
		return nil, apperr.InvalidTangleMessageID(in.TangleMsgID).WithCause(err)
	}

	t := &model.TransferOut{
		SessionID:         in.SessionID,
		UserID:            in.UserID,
		ResourceID:        in.ResourceID,
		Amount:            in.Amount,
		UserWalletAddress: addr.Bech32,
		TangleMsgID:       ref,
		RegisteredAt:      s.now(),
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetSession(ctx, in.SessionID); errors.Is(err, store.ErrNotFound) {
			return apperr.NoMarketSession(in.SessionID)
		} else if err != nil {
			return err
		}
		return tx.InsertTransferOut(ctx, t)
	})
	if err != nil {
		return nil, internal(err)
	}

	s.logger.Info("withdrawal requested",
		zap.Int64("withdraw_transfer_id", t.ID),
		zap.Int64("session_id", t.SessionID),
		zap.String("user_id", t.UserID.String()),
		zap.String("resource_id", t.ResourceID.String()),
		zap.String("amount", t.Amount.String()),
	)
	s.emit(model.Event{
		Type:        model.EventWithdrawalRequested,
		SessionID:   &t.SessionID,
		UserID:      t.UserID,
		ResourceID:  &t.ResourceID,
		TangleMsgID: t.TangleMsgID,
		Amount:      t.Amount,
	})
	return t, nil
}

// ConfirmWithdrawal posts the requested amount as a transfer_out against
// the withdrawal's session balance and marks the request solid. The debit
// and its transaction row commit together. A non-empty tangleMsgID
// replaces the reference recorded at request time.
func (s *Service) ConfirmWithdrawal(ctx context.Context, id int64, tangleMsgID string) (*model.TransferOut, error) {
	ref := ""
	if tangleMsgID != "" {
		var err error
		if ref, err = tangle.ParseMessageID(tangleMsgID); err != nil {
			return nil, apperr.InvalidTangleMessageID(tangleMsgID).WithCause(err)
		}
	}

	var t *model.TransferOut
	var posted *model.Transaction
	var bal *model.Balance
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.LockTransferOut(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.TransferOutNotFound(id)
		}
		if err != nil {
			return err
		}
		if t.IsSolid {
			return apperr.TransferAlreadyConfirmed(id)
		}

		if posted, err = s.post(ctx, tx, t.Key(), model.TxTransferOut, t.Amount.Neg()); err != nil {
			return err
		}
		if bal, err = tx.GetBalance(ctx, t.UserID); err != nil {
			return err
		}

		if ref != "" {
			t.TangleMsgID = ref
		}
		t.IsSolid = true
		return tx.UpdateTransferOut(ctx, t)
	})
	if err != nil {
		return nil, internal(err)
	}

	metrics.WithdrawalsConfirmed.Inc()
	metrics.LedgerPostings.WithLabelValues(string(model.TxTransferOut)).Inc()
	s.logger.Info("withdrawal confirmed",
		zap.Int64("withdraw_transfer_id", t.ID),
		zap.Int64("transaction_id", posted.ID),
		zap.Int64("session_id", t.SessionID),
		zap.String("user_id", t.UserID.String()),
		zap.String("resource_id", t.ResourceID.String()),
		zap.String("amount", t.Amount.String()),
		zap.String("balance", bal.Amount.String()),
	)
	s.emit(model.Event{
		Type:        model.EventWithdrawalConfirmed,
		SessionID:   &t.SessionID,
		UserID:      t.UserID,
		ResourceID:  &t.ResourceID,
		TangleMsgID: t.TangleMsgID,
		Amount:      t.Amount,
	})
	return t, nil
}

// ListTransfersOut returns withdrawal requests matching f.
func (s *Service) ListTransfersOut(ctx context.Context, f model.TransferOutFilter) ([]model.TransferOut, error) {
	out, err := s.store.ListTransfersOut(ctx, f)
	return out, internal(err)
}
