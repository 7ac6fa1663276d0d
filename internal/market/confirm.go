package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/store"
	"github.com/predico/market-service/internal/tangle"
)

// Confirmation is the result of a successful payment validation.
type Confirmation struct {
	BidID               uuid.UUID `json:"market_bid"`
	SessionID           int64     `json:"market_session"`
	TangleMsgID         string    `json:"tangle_msg_id"`
	MarketWalletAddress string    `json:"user_wallet_address"`
	Confirmed           bool      `json:"confirmed"`
}

// ConfirmPayment validates the bid funded by tangleMsgID: it credits the
// bid's max_payment to the owner's balances as a transfer_in, marks the
// payment solid and the bid confirmed. All of it commits or none of it does.
func (s *Service) ConfirmPayment(ctx context.Context, tangleMsgID string) (*Confirmation, error) {
	start := time.Now()
	ref, err := tangle.ParseMessageID(tangleMsgID)
	if err != nil {
		return nil, apperr.InvalidTangleMessageID(tangleMsgID).WithCause(err)
	}

	var bid *model.Bid
	var posted *model.Transaction
	var wallet *model.WalletAddress
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		pay, err := tx.GetBidPaymentByRef(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.BidPaymentNotFound(ref)
		}
		if err != nil {
			return err
		}

		bid, err = tx.LockBid(ctx, pay.BidID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NoBidsDataFound(ref)
		}
		if err != nil {
			return err
		}
		if bid.Confirmed {
			return apperr.TransactionAlreadyValid(ref)
		}

		if wallet, err = marketWallet(ctx, tx); err != nil {
			return err
		}

		key := model.SessionKey{SessionID: bid.SessionID, UserID: bid.UserID, ResourceID: bid.ResourceID}
		if posted, err = s.post(ctx, tx, key, model.TxTransferIn, bid.MaxPayment); err != nil {
			return err
		}

		pay.IsSolid = true
		if err := tx.UpdateBidPayment(ctx, pay); err != nil {
			return err
		}
		bid.Confirmed = true
		return tx.UpdateBid(ctx, bid)
	})
	if err != nil {
		return nil, internal(err)
	}

	metrics.ConfirmLatency.Observe(time.Since(start).Seconds())
	metrics.BidsConfirmed.Inc()
	metrics.LedgerPostings.WithLabelValues(string(posted.Type)).Inc()
	s.logger.Info("bid payment confirmed",
		zap.String("bid_id", bid.ID.String()),
		zap.String("user_id", bid.UserID.String()),
		zap.Int64("session_id", bid.SessionID),
		zap.String("tangle_msg_id", ref),
		zap.String("amount", posted.Amount.String()),
	)
	s.emit(model.Event{
		Type:        model.EventBidConfirmed,
		UserID:      bid.UserID,
		BidID:       &bid.ID,
		SessionID:   &bid.SessionID,
		ResourceID:  &bid.ResourceID,
		TangleMsgID: ref,
		Amount:      bid.MaxPayment,
	})

	return &Confirmation{
		BidID:               bid.ID,
		SessionID:           bid.SessionID,
		TangleMsgID:         ref,
		MarketWalletAddress: wallet.Address,
		Confirmed:           true,
	}, nil
}
