package market

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/registry"
	"github.com/predico/market-service/internal/store"
	"github.com/predico/market-service/internal/tangle"
)

// CreateBidInput is an agent's bid for one resource in one session.
type CreateBidInput struct {
	SessionID  int64
	ResourceID uuid.UUID
	BidPrice   decimal.Decimal
	MaxPayment decimal.Decimal
	GainFunc   model.GainFunc
}

// BidReceipt is returned after placing a bid. It tells the agent where to
// send the payment.
type BidReceipt struct {
	ID                  uuid.UUID       `json:"id"`
	UserID              uuid.UUID       `json:"user"`
	SessionID           int64           `json:"market_session"`
	ResourceID          uuid.UUID       `json:"resource"`
	BidPrice            decimal.Decimal `json:"bid_price"`
	GainFunc            model.GainFunc  `json:"gain_func"`
	MaxPayment          decimal.Decimal `json:"max_payment"`
	MarketWalletAddress string          `json:"market_wallet_address"`
}

// PaymentReceipt is returned after attaching a payment reference to a bid.
type PaymentReceipt struct {
	BidID       uuid.UUID `json:"bid_id"`
	TangleMsgID string    `json:"tangle_msg_id"`
}

// CreateBid places a bid for the caller. Checks run in a fixed order so
// clients always see the first failing rule.
func (s *Service) CreateBid(ctx context.Context, caller Caller, in CreateBidInput) (*BidReceipt, error) {
	if in.MaxPayment.LessThan(s.cfg.MinimumPaymentAmount) {
		return nil, apperr.Validation("Ensure max_payment is greater than or equal to "+
			s.cfg.MinimumPaymentAmount.String()+".").
			WithDetail("max_payment", s.cfg.MinimumPaymentAmount.String())
	}
	if _, err := model.ParseGainFunc(string(in.GainFunc)); err != nil {
		return nil, apperr.Validation(err.Error()).WithDetail("gain_func", string(in.GainFunc))
	}
	if err := s.checkUserWallet(ctx, caller.UserID); err != nil {
		return nil, err
	}

	res, err := s.registry.Resource(ctx, in.ResourceID)
	if errors.Is(err, registry.ErrNotFound) || (err == nil && res.UserID != caller.UserID) {
		return nil, apperr.UserResourceNotRegistered(caller.UserID, in.ResourceID)
	}
	if err != nil {
		return nil, internal(err)
	}
	if res.Type != model.ResourceMeasurement {
		return nil, apperr.InvalidResourceBid()
	}
	if !res.ToForecast {
		return nil, apperr.NoForecastResourceBid()
	}

	bid := &model.Bid{
		ID:           uuid.New(),
		UserID:       caller.UserID,
		ResourceID:   in.ResourceID,
		SessionID:    in.SessionID,
		BidPrice:     in.BidPrice,
		MaxPayment:   in.MaxPayment,
		GainFunc:     in.GainFunc,
		RegisteredAt: s.now(),
	}
	var wallet *model.WalletAddress
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := lockSession(ctx, tx, in.SessionID)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionOpen {
			return apperr.SessionNotOpenForBids(in.SessionID)
		}

		existing, err := tx.ListBids(ctx, model.BidFilter{
			SessionID:  &in.SessionID,
			ResourceID: &in.ResourceID,
			UserID:     &caller.UserID,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.BidAlreadyExists(in.SessionID, in.ResourceID)
		}

		if wallet, err = marketWallet(ctx, tx); err != nil {
			return err
		}
		return tx.InsertBid(ctx, bid)
	})
	if store.IsConflict(err, store.ConstraintBidUnique) {
		return nil, apperr.BidAlreadyExists(in.SessionID, in.ResourceID)
	}
	if err != nil {
		return nil, internal(err)
	}

	metrics.BidsPlaced.Inc()
	s.logger.Info("bid placed",
		zap.String("bid_id", bid.ID.String()),
		zap.String("user_id", bid.UserID.String()),
		zap.String("resource_id", bid.ResourceID.String()),
		zap.Int64("session_id", bid.SessionID),
		zap.String("max_payment", bid.MaxPayment.String()),
	)
	s.emit(model.Event{
		Type:       model.EventBidPlaced,
		UserID:     bid.UserID,
		BidID:      &bid.ID,
		SessionID:  &bid.SessionID,
		ResourceID: &bid.ResourceID,
		Amount:     bid.MaxPayment,
	})

	return &BidReceipt{
		ID:                  bid.ID,
		UserID:              bid.UserID,
		SessionID:           bid.SessionID,
		ResourceID:          bid.ResourceID,
		BidPrice:            bid.BidPrice,
		GainFunc:            bid.GainFunc,
		MaxPayment:          bid.MaxPayment,
		MarketWalletAddress: wallet.Address,
	}, nil
}

// AttachPayment records the Tangle message that pays for one of the
// caller's bids. A bid takes one reference and a reference funds one bid.
func (s *Service) AttachPayment(ctx context.Context, caller Caller, bidID uuid.UUID, tangleMsgID string) (*PaymentReceipt, error) {
	ref, err := tangle.ParseMessageID(tangleMsgID)
	if err != nil {
		return nil, apperr.InvalidTangleMessageID(tangleMsgID).WithCause(err)
	}
	if err := s.checkUserWallet(ctx, caller.UserID); err != nil {
		return nil, err
	}

	var bid *model.Bid
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		bid, err = tx.LockBid(ctx, bidID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && bid.UserID != caller.UserID) {
			return apperr.UserBidNotRegistered(caller.UserID, bidID)
		}
		if err != nil {
			return err
		}

		sess, err := lockSession(ctx, tx, bid.SessionID)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionOpen {
			return apperr.SessionNotOpenForBids(sess.ID)
		}

		if _, err := tx.GetBidPayment(ctx, bidID); err == nil {
			return apperr.BidAlreadyWithTangleID(bidID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := tx.GetBidPaymentByRef(ctx, ref); err == nil {
			return apperr.DuplicatedTangleMessageID(ref)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		return tx.InsertBidPayment(ctx, &model.BidPayment{
			BidID:        bidID,
			TangleMsgID:  ref,
			RegisteredAt: s.now(),
		})
	})
	switch {
	case store.IsConflict(err, store.ConstraintPaymentPerBid):
		return nil, apperr.BidAlreadyWithTangleID(bidID)
	case store.IsConflict(err, store.ConstraintPaymentRef):
		return nil, apperr.DuplicatedTangleMessageID(ref)
	case err != nil:
		return nil, internal(err)
	}

	metrics.PaymentsAttached.Inc()
	s.logger.Info("bid payment attached",
		zap.String("bid_id", bidID.String()),
		zap.String("user_id", caller.UserID.String()),
		zap.String("tangle_msg_id", ref),
	)
	s.emit(model.Event{
		Type:        model.EventBidPaymentAttached,
		UserID:      caller.UserID,
		BidID:       &bid.ID,
		SessionID:   &bid.SessionID,
		ResourceID:  &bid.ResourceID,
		TangleMsgID: ref,
		Amount:      bid.MaxPayment,
	})

	return &PaymentReceipt{BidID: bidID, TangleMsgID: ref}, nil
}

// ListBids returns bids matching f. Non-admin callers only see their own.
func (s *Service) ListBids(ctx context.Context, caller Caller, f model.BidFilter) ([]model.BidWithPayment, error) {
	if !caller.Admin {
		uid := caller.UserID
		f.UserID = &uid
	}
	bids, err := s.store.ListBids(ctx, f)
	return bids, internal(err)
}

// checkUserWallet requires the user to have registered a wallet address.
func (s *Service) checkUserWallet(ctx context.Context, userID uuid.UUID) error {
	_, err := s.registry.WalletAddress(ctx, userID)
	if errors.Is(err, registry.ErrNotFound) {
		return apperr.UserWalletAddressNotFound(userID)
	}
	return internal(err)
}
