// Package market implements the business logic of the forecast data
// market: the session gate, the bid lifecycle, payment confirmation and the
// balance ledger, plus the platform wallet address and session pricing.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Every mutation spanning more than one row runs in a single store
// transaction; notifications are emitted only after it commits.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/registry"
	"github.com/predico/market-service/internal/store"
)

// Notifier receives events after the transaction that produced them
// commits. Notify must not block.
type Notifier interface {
	Notify(ev model.Event)
}

// Caller is the authenticated identity forwarded by the gateway.
type Caller struct {
	UserID uuid.UUID
	Admin  bool
}

// Config holds the business settings of the service.
type Config struct {
	// MinimumPaymentAmount is the lowest max_payment a bid may carry.
	MinimumPaymentAmount decimal.Decimal
}

// Service handles market operations.
type Service struct {
	store    store.Store
	registry registry.Registry
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new market service.
// Pass nil for notifier if event delivery is not needed.
func NewService(st store.Store, reg registry.Registry, n Notifier, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		registry: reg,
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) emit(ev model.Event) {
	if s.notifier == nil {
		return
	}
	ev.OccurredAt = s.now()
	s.notifier.Notify(ev)
}

// marketWallet reads the platform wallet address inside tx.
func marketWallet(ctx context.Context, r store.Reader) (*model.WalletAddress, error) {
	w, err := r.GetWalletAddress(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NoMarketAddress()
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// lockSession locks a session row, mapping a missing row to no_market_session.
func lockSession(ctx context.Context, tx store.Tx, id int64) (*model.MarketSession, error) {
	sess, err := tx.LockSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NoMarketSession(id)
	}
	return sess, err
}

// internal wraps err unless it already is a domain error.
func internal(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(err)
}
