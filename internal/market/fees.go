package market

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/store"
)

// RegisterSessionFee sets the market fee of a session, replacing any
// previous value.
func (s *Service) RegisterSessionFee(ctx context.Context, sessionID int64, amount decimal.Decimal) (*model.SessionFee, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("Ensure amount is greater than or equal to 0.").
			WithDetail("amount", amount.String())
	}

	fee := &model.SessionFee{SessionID: sessionID, Amount: amount, RegisteredAt: s.now()}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return tx.UpsertSessionFee(ctx, fee)
	})
	if err != nil {
		return nil, internal(err)
	}

	s.logger.Info("session fee registered",
		zap.Int64("session_id", sessionID),
		zap.String("amount", amount.String()),
	)
	return fee, nil
}

// GetSessionFee returns the market fee of a session.
func (s *Service) GetSessionFee(ctx context.Context, sessionID int64) (*model.SessionFee, error) {
	fee, err := s.store.GetSessionFee(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NoMarketFee(sessionID)
	}
	return fee, internal(err)
}

// AddPriceWeights stores the weights used by the session price algorithm.
func (s *Service) AddPriceWeights(ctx context.Context, sessionID int64, weights []decimal.Decimal) ([]model.PriceWeight, error) {
	if len(weights) == 0 {
		return nil, apperr.Validation("At least one weight is required.").WithDetail("weights_p", "required")
	}

	out := make([]model.PriceWeight, 0, len(weights))
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		out = out[:0]
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		now := s.now()
		for _, w := range weights {
			pw := &model.PriceWeight{SessionID: sessionID, WeightsP: w, RegisteredAt: now}
			if err := tx.InsertPriceWeight(ctx, pw); err != nil {
				return err
			}
			out = append(out, *pw)
		}
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}

	s.logger.Info("price weights registered",
		zap.Int64("session_id", sessionID),
		zap.Int("count", len(out)),
	)
	return out, nil
}

// ListPriceWeights returns price weights, optionally for one session.
func (s *Service) ListPriceWeights(ctx context.Context, f model.PriceWeightFilter) ([]model.PriceWeight, error) {
	out, err := s.store.ListPriceWeights(ctx, f)
	return out, internal(err)
}
