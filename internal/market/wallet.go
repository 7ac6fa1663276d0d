package market

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/store"
	"github.com/predico/market-service/internal/tangle"
)

// GetWalletAddress returns the platform wallet address.
func (s *Service) GetWalletAddress(ctx context.Context) (*model.WalletAddress, error) {
	w, err := marketWallet(ctx, s.store)
	return w, internal(err)
}

// RegisterWalletAddress stores the platform wallet address. Only one may
// ever be registered; later changes go through ReplaceWalletAddress.
func (s *Service) RegisterWalletAddress(ctx context.Context, address string) (*model.WalletAddress, error) {
	addr, err := tangle.ParseAddress(address)
	if err != nil {
		return nil, apperr.InvalidIotaAddress(address).WithCause(err)
	}

	w := &model.WalletAddress{Address: addr.Bech32, RegisteredAt: s.now()}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetWalletAddress(ctx); err == nil {
			return apperr.MarketAddressAlreadyExists()
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.InsertWalletAddress(ctx, w)
	})
	if store.IsConflict(err, store.ConstraintWalletSingleton) {
		return nil, apperr.MarketAddressAlreadyExists()
	}
	if err != nil {
		return nil, internal(err)
	}

	s.logger.Info("market wallet address registered", zap.String("wallet_address", w.Address))
	return w, nil
}

// ReplaceWalletAddress changes the registered platform wallet address.
func (s *Service) ReplaceWalletAddress(ctx context.Context, address string) (*model.WalletAddress, error) {
	addr, err := tangle.ParseAddress(address)
	if err != nil {
		return nil, apperr.InvalidIotaAddress(address).WithCause(err)
	}

	w := &model.WalletAddress{Address: addr.Bech32, RegisteredAt: s.now()}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := marketWallet(ctx, tx)
		if err != nil {
			return err
		}
		if current.Address == w.Address {
			return apperr.DuplicatedMarketAddress(w.Address)
		}
		return tx.UpdateWalletAddress(ctx, w)
	})
	if err != nil {
		return nil, internal(err)
	}

	s.logger.Info("market wallet address replaced", zap.String("wallet_address", w.Address))
	return w, nil
}
