package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/model"
)

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transactions run at SERIALIZABLE isolation and are retried on
// serialization failures.
type PostgresStore struct {
	pgReader
	pool   *pgxpool.Pool
	retry  RetryConfig
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, retry RetryConfig, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pgReader: pgReader{q: pool},
		pool:     pool,
		retry:    retry,
		logger:   logger,
	}
}

// Initialize creates tables and indexes if they do not exist.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	s.logger.Info("Database tables initialized successfully")
	return nil
}

// WithTx runs fn in a serializable transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	attempt := 0
	return withRetry(ctx, s.retry, func() error {
		attempt++
		if attempt > 1 {
			s.logger.Debug("retrying serializable transaction", zap.Int("attempt", attempt))
		}
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{pgReader{q: tx}}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// pgReader implements Reader over any queryer.
type pgReader struct {
	q queryer
}

// pgTx implements Tx inside one pgx transaction.
type pgTx struct {
	pgReader
}

// filter builds a parametrized WHERE clause.
type filter struct {
	clauses []string
	args    []any
}

// add appends a clause; %d in clause is replaced by the placeholder index.
func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// numeric decodes NUMERIC columns read as text. The first malformed value
// is kept in err and every later call returns zero.
type numeric struct {
	err error
}

func (n *numeric) dec(s string) decimal.Decimal {
	if n.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		n.err = fmt.Errorf("decode numeric %q: %w", s, err)
	}
	return d
}

// --- Wallet address ---

func (r *pgReader) GetWalletAddress(ctx context.Context) (*model.WalletAddress, error) {
	var w model.WalletAddress
	err := r.q.QueryRow(ctx,
		`SELECT wallet_address, registered_at FROM market_wallet_address LIMIT 1`).
		Scan(&w.Address, &w.RegisteredAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

func (t *pgTx) InsertWalletAddress(ctx context.Context, w *model.WalletAddress) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO market_wallet_address (wallet_address, registered_at) VALUES ($1, $2)`,
		w.Address, w.RegisteredAt)
	return mapError(err)
}

func (t *pgTx) UpdateWalletAddress(ctx context.Context, w *model.WalletAddress) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE market_wallet_address SET wallet_address = $1, registered_at = $2`,
		w.Address, w.RegisteredAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sessions ---

const sessionCols = `id, session_number, session_date, status,
	staged_ts, open_ts, close_ts, launch_ts, finish_ts,
	market_price::TEXT, b_min::TEXT, b_max::TEXT, n_price_steps, delta::TEXT`

func scanSession(row scanner) (*model.MarketSession, error) {
	var s model.MarketSession
	var status, price, bMin, bMax, delta string
	if err := row.Scan(&s.ID, &s.SessionNumber, &s.SessionDate, &status,
		&s.StagedTS, &s.OpenTS, &s.CloseTS, &s.LaunchTS, &s.FinishTS,
		&price, &bMin, &bMax, &s.NPriceSteps, &delta); err != nil {
		return nil, mapError(err)
	}
	var n numeric
	s.Status = model.SessionStatus(status)
	s.MarketPrice = n.dec(price)
	s.BMin = n.dec(bMin)
	s.BMax = n.dec(bMax)
	s.Delta = n.dec(delta)
	if n.err != nil {
		return nil, n.err
	}
	return &s, nil
}

func (r *pgReader) GetSession(ctx context.Context, id int64) (*model.MarketSession, error) {
	return scanSession(r.q.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM market_session WHERE id = $1`, id))
}

func (t *pgTx) LockSession(ctx context.Context, id int64) (*model.MarketSession, error) {
	return scanSession(t.q.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM market_session WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgReader) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.MarketSession, error) {
	var fl filter
	if f.ID != nil {
		fl.add("id = $%d", *f.ID)
	}
	if f.Status != nil {
		fl.add("status = $%d", string(*f.Status))
	}
	query := `SELECT ` + sessionCols + ` FROM market_session` + fl.where() + ` ORDER BY id`
	if f.LatestOnly {
		query = `SELECT ` + sessionCols + ` FROM market_session` + fl.where() + ` ORDER BY id DESC LIMIT 1`
	}
	rows, err := r.q.Query(ctx, query, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]model.MarketSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (t *pgTx) FindOpenSession(ctx context.Context, excludeID int64) (*model.MarketSession, error) {
	return scanSession(t.q.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM market_session
		 WHERE status = 'open' AND id <> $1 LIMIT 1 FOR UPDATE`, excludeID))
}

func (t *pgTx) CountUnfinishedSessions(ctx context.Context) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM market_session WHERE status <> 'finished'`).Scan(&n)
	return n, err
}

func (t *pgTx) NextSessionNumber(ctx context.Context, s *model.MarketSession) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(session_number), 0) + 1 FROM market_session WHERE session_date = $1`,
		s.SessionDate).Scan(&n)
	return n, err
}

func (t *pgTx) InsertSession(ctx context.Context, s *model.MarketSession) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO market_session (session_number, session_date, status,
		        staged_ts, open_ts, close_ts, launch_ts, finish_ts,
		        market_price, b_min, b_max, n_price_steps, delta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13::NUMERIC)
		 RETURNING id`,
		s.SessionNumber, s.SessionDate, string(s.Status),
		s.StagedTS, s.OpenTS, s.CloseTS, s.LaunchTS, s.FinishTS,
		s.MarketPrice.String(), s.BMin.String(), s.BMax.String(), s.NPriceSteps, s.Delta.String(),
	).Scan(&s.ID)
	return mapError(err)
}

func (t *pgTx) UpdateSession(ctx context.Context, s *model.MarketSession) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE market_session
		 SET status = $2, staged_ts = $3, open_ts = $4, close_ts = $5, launch_ts = $6, finish_ts = $7,
		     market_price = $8::NUMERIC, b_min = $9::NUMERIC, b_max = $10::NUMERIC,
		     n_price_steps = $11, delta = $12::NUMERIC
		 WHERE id = $1`,
		s.ID, string(s.Status), s.StagedTS, s.OpenTS, s.CloseTS, s.LaunchTS, s.FinishTS,
		s.MarketPrice.String(), s.BMin.String(), s.BMax.String(), s.NPriceSteps, s.Delta.String(),
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Bids ---

const bidCols = `b.id, b.user_id, b.resource_id, b.market_session_id,
	b.bid_price::TEXT, b.max_payment::TEXT, b.gain_func, b.confirmed, b.has_forecasts, b.registered_at`

func scanBid(row scanner, extra ...any) (*model.Bid, error) {
	var b model.Bid
	var price, maxPayment, gain string
	dest := []any{&b.ID, &b.UserID, &b.ResourceID, &b.SessionID,
		&price, &maxPayment, &gain, &b.Confirmed, &b.HasForecasts, &b.RegisteredAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, mapError(err)
	}
	var n numeric
	b.BidPrice = n.dec(price)
	b.MaxPayment = n.dec(maxPayment)
	b.GainFunc = model.GainFunc(gain)
	if n.err != nil {
		return nil, n.err
	}
	return &b, nil
}

func (r *pgReader) GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	return scanBid(r.q.QueryRow(ctx,
		`SELECT `+bidCols+` FROM market_session_bid b WHERE b.id = $1`, id))
}

func (t *pgTx) LockBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	return scanBid(t.q.QueryRow(ctx,
		`SELECT `+bidCols+` FROM market_session_bid b WHERE b.id = $1 FOR UPDATE`, id))
}

func (r *pgReader) ListBids(ctx context.Context, f model.BidFilter) ([]model.BidWithPayment, error) {
	var fl filter
	if f.SessionID != nil {
		fl.add("b.market_session_id = $%d", *f.SessionID)
	}
	if f.ResourceID != nil {
		fl.add("b.resource_id = $%d", *f.ResourceID)
	}
	if f.UserID != nil {
		fl.add("b.user_id = $%d", *f.UserID)
	}
	if f.Confirmed != nil {
		fl.add("b.confirmed = $%d", *f.Confirmed)
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+bidCols+`, p.tangle_msg_id
		 FROM market_session_bid b
		 LEFT JOIN market_session_bid_payment p ON p.bid_id = b.id`+fl.where()+`
		 ORDER BY b.registered_at, b.id`, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bids := make([]model.BidWithPayment, 0)
	for rows.Next() {
		var ref *string
		b, err := scanBid(rows, &ref)
		if err != nil {
			return nil, err
		}
		bids = append(bids, model.BidWithPayment{
			Bid:         *b,
			TangleMsgID: ref,
			State:       model.StateOf(*b, ref != nil),
		})
	}
	return bids, rows.Err()
}

func (t *pgTx) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO market_session_bid (id, user_id, resource_id, market_session_id,
		        bid_price, max_payment, gain_func, confirmed, has_forecasts, registered_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		b.ID, b.UserID, b.ResourceID, b.SessionID,
		b.BidPrice.String(), b.MaxPayment.String(), string(b.GainFunc),
		b.Confirmed, b.HasForecasts, b.RegisteredAt,
	)
	return mapError(err)
}

func (t *pgTx) UpdateBid(ctx context.Context, b *model.Bid) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE market_session_bid
		 SET bid_price = $2::NUMERIC, max_payment = $3::NUMERIC, gain_func = $4,
		     confirmed = $5, has_forecasts = $6
		 WHERE id = $1`,
		b.ID, b.BidPrice.String(), b.MaxPayment.String(), string(b.GainFunc),
		b.Confirmed, b.HasForecasts,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const paymentCols = `bid_id, tangle_msg_id, is_solid, registered_at`

func scanPayment(row scanner) (*model.BidPayment, error) {
	var p model.BidPayment
	if err := row.Scan(&p.BidID, &p.TangleMsgID, &p.IsSolid, &p.RegisteredAt); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (r *pgReader) GetBidPayment(ctx context.Context, bidID uuid.UUID) (*model.BidPayment, error) {
	return scanPayment(r.q.QueryRow(ctx,
		`SELECT `+paymentCols+` FROM market_session_bid_payment WHERE bid_id = $1`, bidID))
}

func (r *pgReader) GetBidPaymentByRef(ctx context.Context, ref string) (*model.BidPayment, error) {
	return scanPayment(r.q.QueryRow(ctx,
		`SELECT `+paymentCols+` FROM market_session_bid_payment WHERE tangle_msg_id = $1`, ref))
}

func (t *pgTx) InsertBidPayment(ctx context.Context, p *model.BidPayment) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO market_session_bid_payment (bid_id, tangle_msg_id, is_solid, registered_at)
		 VALUES ($1, $2, $3, $4)`,
		p.BidID, p.TangleMsgID, p.IsSolid, p.RegisteredAt)
	return mapError(err)
}

func (t *pgTx) UpdateBidPayment(ctx context.Context, p *model.BidPayment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE market_session_bid_payment SET is_solid = $2 WHERE bid_id = $1`,
		p.BidID, p.IsSolid)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Balances ---

const balanceCols = `user_id, balance::TEXT, total_deposit::TEXT, total_withdraw::TEXT,
	total_payment::TEXT, total_revenue::TEXT, updated_at`

func scanBalance(row scanner) (*model.Balance, error) {
	var b model.Balance
	var bal, dep, wd, pay, rev string
	if err := row.Scan(&b.UserID, &bal, &dep, &wd, &pay, &rev, &b.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	var n numeric
	b.Amount = n.dec(bal)
	b.TotalDeposit = n.dec(dep)
	b.TotalWithdraw = n.dec(wd)
	b.TotalPayment = n.dec(pay)
	b.TotalRevenue = n.dec(rev)
	if n.err != nil {
		return nil, n.err
	}
	return &b, nil
}

func (r *pgReader) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	return scanBalance(r.q.QueryRow(ctx,
		`SELECT `+balanceCols+` FROM market_balance WHERE user_id = $1`, userID))
}

func (r *pgReader) ListBalances(ctx context.Context, f model.BalanceFilter) ([]model.Balance, error) {
	var fl filter
	if f.UserID != nil {
		fl.add("user_id = $%d", *f.UserID)
	}
	if f.BalanceGTE != nil {
		fl.add("balance >= $%d::NUMERIC", f.BalanceGTE.String())
	}
	if f.BalanceLTE != nil {
		fl.add("balance <= $%d::NUMERIC", f.BalanceLTE.String())
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+balanceCols+` FROM market_balance`+fl.where()+` ORDER BY updated_at`, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Balance, 0)
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (t *pgTx) LockBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO market_balance (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID); err != nil {
		return nil, mapError(err)
	}
	return scanBalance(t.q.QueryRow(ctx,
		`SELECT `+balanceCols+` FROM market_balance WHERE user_id = $1 FOR UPDATE`, userID))
}

func (t *pgTx) SaveBalance(ctx context.Context, b *model.Balance) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE market_balance
		 SET balance = $2::NUMERIC, total_deposit = $3::NUMERIC, total_withdraw = $4::NUMERIC,
		     total_payment = $5::NUMERIC, total_revenue = $6::NUMERIC, updated_at = $7
		 WHERE user_id = $1`,
		b.UserID, b.Amount.String(), b.TotalDeposit.String(), b.TotalWithdraw.String(),
		b.TotalPayment.String(), b.TotalRevenue.String(), b.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionBalanceCols = `market_session_id, user_id, resource_id,
	session_balance::TEXT, session_deposit::TEXT, session_payment::TEXT,
	session_revenue::TEXT, session_withdraw::TEXT, registered_at`

func scanSessionBalance(row scanner) (*model.SessionBalance, error) {
	var b model.SessionBalance
	var bal, dep, pay, rev, wd string
	if err := row.Scan(&b.SessionID, &b.UserID, &b.ResourceID,
		&bal, &dep, &pay, &rev, &wd, &b.RegisteredAt); err != nil {
		return nil, mapError(err)
	}
	var n numeric
	b.Amount = n.dec(bal)
	b.SessionDeposit = n.dec(dep)
	b.SessionPayment = n.dec(pay)
	b.SessionRevenue = n.dec(rev)
	b.SessionWithdraw = n.dec(wd)
	if n.err != nil {
		return nil, n.err
	}
	return &b, nil
}

func (r *pgReader) ListSessionBalances(ctx context.Context, f model.SessionBalanceFilter) ([]model.SessionBalance, error) {
	var fl filter
	if f.SessionID != nil {
		fl.add("market_session_id = $%d", *f.SessionID)
	}
	if f.ResourceID != nil {
		fl.add("resource_id = $%d", *f.ResourceID)
	}
	if f.UserID != nil {
		fl.add("user_id = $%d", *f.UserID)
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+sessionBalanceCols+` FROM market_session_balance`+fl.where()+
			` ORDER BY registered_at`, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.SessionBalance, 0)
	for rows.Next() {
		b, err := scanSessionBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (t *pgTx) LockSessionBalance(ctx context.Context, k model.SessionKey) (*model.SessionBalance, error) {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO market_session_balance (market_session_id, user_id, resource_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (market_session_id, user_id, resource_id) DO NOTHING`,
		k.SessionID, k.UserID, k.ResourceID); err != nil {
		return nil, mapError(err)
	}
	return scanSessionBalance(t.q.QueryRow(ctx,
		`SELECT `+sessionBalanceCols+` FROM market_session_balance
		 WHERE market_session_id = $1 AND user_id = $2 AND resource_id = $3 FOR UPDATE`,
		k.SessionID, k.UserID, k.ResourceID))
}

func (t *pgTx) SaveSessionBalance(ctx context.Context, b *model.SessionBalance) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE market_session_balance
		 SET session_balance = $4::NUMERIC, session_deposit = $5::NUMERIC,
		     session_payment = $6::NUMERIC, session_revenue = $7::NUMERIC,
		     session_withdraw = $8::NUMERIC
		 WHERE market_session_id = $1 AND user_id = $2 AND resource_id = $3`,
		b.SessionID, b.UserID, b.ResourceID,
		b.Amount.String(), b.SessionDeposit.String(), b.SessionPayment.String(),
		b.SessionRevenue.String(), b.SessionWithdraw.String(),
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transactions ---

func (r *pgReader) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	var fl filter
	if f.SessionID != nil {
		fl.add("market_session_id = $%d", *f.SessionID)
	}
	if f.ResourceID != nil {
		fl.add("resource_id = $%d", *f.ResourceID)
	}
	if f.UserID != nil {
		fl.add("user_id = $%d", *f.UserID)
	}
	if f.Type != nil {
		fl.add("transaction_type = $%d", string(*f.Type))
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, market_session_id, user_id, resource_id, amount::TEXT, transaction_type, registered_at
		 FROM market_session_transactions`+fl.where()+` ORDER BY id`, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Transaction, 0)
	for rows.Next() {
		var tx model.Transaction
		var amount, tt string
		if err := rows.Scan(&tx.ID, &tx.SessionID, &tx.UserID, &tx.ResourceID,
			&amount, &tt, &tx.RegisteredAt); err != nil {
			return nil, err
		}
		var n numeric
		tx.Amount = n.dec(amount)
		if n.err != nil {
			return nil, n.err
		}
		tx.Type = model.TransactionType(tt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO market_session_transactions
		        (market_session_id, user_id, resource_id, amount, transaction_type, registered_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)
		 RETURNING id`,
		tx.SessionID, tx.UserID, tx.ResourceID, tx.Amount.String(), string(tx.Type), tx.RegisteredAt,
	).Scan(&tx.ID)
	return mapError(err)
}

// --- Withdrawals ---

const transferCols = `id, market_session_id, user_id, resource_id, amount::TEXT,
	user_wallet_address, tangle_msg_id, is_solid, registered_at`

func scanTransfer(row scanner) (*model.TransferOut, error) {
	var t model.TransferOut
	var amount string
	if err := row.Scan(&t.ID, &t.SessionID, &t.UserID, &t.ResourceID, &amount,
		&t.UserWalletAddress, &t.TangleMsgID, &t.IsSolid, &t.RegisteredAt); err != nil {
		return nil, mapError(err)
	}
	var n numeric
	t.Amount = n.dec(amount)
	if n.err != nil {
		return nil, n.err
	}
	return &t, nil
}

func (r *pgReader) GetTransferOut(ctx context.Context, id int64) (*model.TransferOut, error) {
	return scanTransfer(r.q.QueryRow(ctx,
		`SELECT `+transferCols+` FROM balance_transfer_out WHERE id = $1`, id))
}

func (t *pgTx) LockTransferOut(ctx context.Context, id int64) (*model.TransferOut, error) {
	return scanTransfer(t.q.QueryRow(ctx,
		`SELECT `+transferCols+` FROM balance_transfer_out WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgReader) ListTransfersOut(ctx context.Context, f model.TransferOutFilter) ([]model.TransferOut, error) {
	var fl filter
	if f.SessionID != nil {
		fl.add("market_session_id = $%d", *f.SessionID)
	}
	if f.UserID != nil {
		fl.add("user_id = $%d", *f.UserID)
	}
	if f.IsSolid != nil {
		fl.add("is_solid = $%d", *f.IsSolid)
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+transferCols+` FROM balance_transfer_out`+fl.where()+` ORDER BY id`, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TransferOut, 0)
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertTransferOut(ctx context.Context, tr *model.TransferOut) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO balance_transfer_out
		        (market_session_id, user_id, resource_id, amount, user_wallet_address, tangle_msg_id, is_solid, registered_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)
		 RETURNING id`,
		tr.SessionID, tr.UserID, tr.ResourceID, tr.Amount.String(),
		tr.UserWalletAddress, tr.TangleMsgID, tr.IsSolid, tr.RegisteredAt,
	).Scan(&tr.ID)
	return mapError(err)
}

func (t *pgTx) UpdateTransferOut(ctx context.Context, tr *model.TransferOut) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE balance_transfer_out SET tangle_msg_id = $2, is_solid = $3 WHERE id = $1`,
		tr.ID, tr.TangleMsgID, tr.IsSolid)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Session pricing ---

func (r *pgReader) GetSessionFee(ctx context.Context, sessionID int64) (*model.SessionFee, error) {
	var f model.SessionFee
	var amount string
	err := r.q.QueryRow(ctx,
		`SELECT market_session_id, amount::TEXT, registered_at FROM market_session_fee
		 WHERE market_session_id = $1`, sessionID).
		Scan(&f.SessionID, &amount, &f.RegisteredAt)
	if err != nil {
		return nil, mapError(err)
	}
	var n numeric
	f.Amount = n.dec(amount)
	if n.err != nil {
		return nil, n.err
	}
	return &f, nil
}

func (t *pgTx) UpsertSessionFee(ctx context.Context, f *model.SessionFee) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO market_session_fee (market_session_id, amount, registered_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (market_session_id)
		 DO UPDATE SET amount = EXCLUDED.amount, registered_at = EXCLUDED.registered_at`,
		f.SessionID, f.Amount.String(), f.RegisteredAt)
	return mapError(err)
}

func (r *pgReader) ListPriceWeights(ctx context.Context, f model.PriceWeightFilter) ([]model.PriceWeight, error) {
	var fl filter
	if f.SessionID != nil {
		fl.add("market_session_id = $%d", *f.SessionID)
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, market_session_id, weights_p::TEXT, registered_at
		 FROM market_session_price_weight`+fl.where()+` ORDER BY id`, fl.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.PriceWeight, 0)
	for rows.Next() {
		var w model.PriceWeight
		var weight string
		if err := rows.Scan(&w.ID, &w.SessionID, &weight, &w.RegisteredAt); err != nil {
			return nil, err
		}
		var n numeric
		w.WeightsP = n.dec(weight)
		if n.err != nil {
			return nil, n.err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPriceWeight(ctx context.Context, w *model.PriceWeight) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO market_session_price_weight (market_session_id, weights_p, registered_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 RETURNING id`,
		w.SessionID, w.WeightsP.String(), w.RegisteredAt,
	).Scan(&w.ID)
	return mapError(err)
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
