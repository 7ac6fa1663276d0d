package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/store"
)

// CreateSessionInput describes a new session. Nil fields take defaults:
// today's UTC date and the next free session number for that date.
type CreateSessionInput struct {
	SessionNumber *int
	SessionDate   *time.Time
	MarketPrice   decimal.Decimal
	BMin          decimal.Decimal
	BMax          decimal.Decimal
	NPriceSteps   int
	Delta         decimal.Decimal
}

// UpdateSessionInput changes a session's status and/or pricing parameters.
type UpdateSessionInput struct {
	Status      *model.SessionStatus
	MarketPrice *decimal.Decimal
	BMin        *decimal.Decimal
	BMax        *decimal.Decimal
	NPriceSteps *int
	Delta       *decimal.Decimal
}

// CreateSession opens a new staged session. It requires the platform
// wallet address and fails while any session is unfinished.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*model.MarketSession, error) {
	now := s.now()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if in.SessionDate != nil {
		d := *in.SessionDate
		date = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}

	var sess *model.MarketSession
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := marketWallet(ctx, tx); err != nil {
			return err
		}
		n, err := tx.CountUnfinishedSessions(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.UnfinishedSessions()
		}

		sess = &model.MarketSession{
			SessionDate: date,
			Status:      model.SessionStaged,
			MarketPrice: in.MarketPrice,
			BMin:        in.BMin,
			BMax:        in.BMax,
			NPriceSteps: in.NPriceSteps,
			Delta:       in.Delta,
		}
		sess.Stamp(now)
		if in.SessionNumber != nil {
			sess.SessionNumber = *in.SessionNumber
		} else if sess.SessionNumber, err = tx.NextSessionNumber(ctx, sess); err != nil {
			return err
		}

		err = tx.InsertSession(ctx, sess)
		if store.IsConflict(err, store.ConstraintSessionNumberDate) {
			return apperr.DuplicatedSession(sess.SessionNumber, sess.SessionDate.Format(time.DateOnly))
		}
		return err
	})
	if err != nil {
		return nil, internal(err)
	}

	s.logger.Info("market session created",
		zap.Int64("session_id", sess.ID),
		zap.Int("session_number", sess.SessionNumber),
		zap.String("session_date", sess.SessionDate.Format(time.DateOnly)),
	)
	return sess, nil
}

// UpdateSession applies a status change and/or new pricing parameters.
// Only one session may be open at a time; entering a status stamps its
// timestamp.
func (s *Service) UpdateSession(ctx context.Context, id int64, in UpdateSessionInput) (*model.MarketSession, error) {
	if in.Status != nil {
		if _, err := model.ParseSessionStatus(string(*in.Status)); err != nil {
			return nil, apperr.Validation(err.Error()).WithDetail("status", string(*in.Status))
		}
	}

	var sess *model.MarketSession
	var prev model.SessionStatus
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if sess, err = lockSession(ctx, tx, id); err != nil {
			return err
		}
		prev = sess.Status

		if in.Status != nil && *in.Status != sess.Status {
			if *in.Status == model.SessionOpen {
				open, err := tx.FindOpenSession(ctx, id)
				if err == nil {
					return apperr.MoreThanOneSessionOpen(open.ID)
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			sess.Status = *in.Status
			sess.Stamp(s.now())
		}
		if in.MarketPrice != nil {
			sess.MarketPrice = *in.MarketPrice
		}
		if in.BMin != nil {
			sess.BMin = *in.BMin
		}
		if in.BMax != nil {
			sess.BMax = *in.BMax
		}
		if in.NPriceSteps != nil {
			sess.NPriceSteps = *in.NPriceSteps
		}
		if in.Delta != nil {
			sess.Delta = *in.Delta
		}
		return tx.UpdateSession(ctx, sess)
	})
	if store.IsConflict(err, store.ConstraintSingleOpenSession) {
		// Lost a race against a concurrent opener.
		return nil, s.openSessionConflict(ctx)
	}
	if err != nil {
		return nil, internal(err)
	}

	if prev != sess.Status {
		switch {
		case sess.Status == model.SessionOpen:
			metrics.OpenSessions.Inc()
		case prev == model.SessionOpen:
			metrics.OpenSessions.Dec()
		}
		s.logger.Info("market session status changed",
			zap.Int64("session_id", sess.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(sess.Status)),
		)
	}
	return sess, nil
}

func (s *Service) openSessionConflict(ctx context.Context) error {
	open := model.SessionOpen
	sessions, err := s.store.ListSessions(ctx, model.SessionFilter{Status: &open})
	if err != nil || len(sessions) == 0 {
		return apperr.MoreThanOneSessionOpen(0)
	}
	return apperr.MoreThanOneSessionOpen(sessions[0].ID)
}

// ListSessions returns sessions matching f, ordered by id.
func (s *Service) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.MarketSession, error) {
	sessions, err := s.store.ListSessions(ctx, f)
	return sessions, internal(err)
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id int64) (*model.MarketSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NoMarketSession(id)
	}
	return sess, internal(err)
}
