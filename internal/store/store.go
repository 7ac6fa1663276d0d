// Package store defines the persistence interface for the market service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every multi-row mutation runs inside WithTx. Uniqueness rules (one bid per
// user/resource/session, one posting per session/user/resource/type, one bid
// per payment reference, one open session, one wallet address) are enforced
// here and reported as *ConflictError naming the violated constraint.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/predico/market-service/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Constraint names shared by every implementation.
const (
	ConstraintBidUnique         = "bids_user_resource_session_key"
	ConstraintPaymentPerBid     = "bid_payments_pkey"
	ConstraintPaymentRef        = "bid_payments_tangle_msg_id_key"
	ConstraintTransactionUnique = "transactions_session_user_resource_type_key"
	ConstraintSingleOpenSession = "sessions_single_open_idx"
	ConstraintSessionNumberDate = "sessions_number_date_key"
	ConstraintWalletSingleton   = "wallet_address_singleton_idx"
)

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: unique constraint %s violated: %v", e.Constraint, e.Err)
	}
	return fmt.Sprintf("store: unique constraint %s violated", e.Constraint)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a uniqueness violation on constraint.
// An empty constraint matches any violation.
func IsConflict(err error, constraint string) bool {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return constraint == "" || ce.Constraint == constraint
}

// Reader holds the non-locking queries.
type Reader interface {
	// GetWalletAddress returns the platform wallet address, or ErrNotFound.
	GetWalletAddress(ctx context.Context) (*model.WalletAddress, error)

	// --- Sessions ---

	GetSession(ctx context.Context, id int64) (*model.MarketSession, error)
	ListSessions(ctx context.Context, f model.SessionFilter) ([]model.MarketSession, error)

	// --- Bids ---

	GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error)
	ListBids(ctx context.Context, f model.BidFilter) ([]model.BidWithPayment, error)
	GetBidPayment(ctx context.Context, bidID uuid.UUID) (*model.BidPayment, error)
	GetBidPaymentByRef(ctx context.Context, tangleMsgID string) (*model.BidPayment, error)

	// --- Ledger ---

	GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error)
	ListBalances(ctx context.Context, f model.BalanceFilter) ([]model.Balance, error)
	ListSessionBalances(ctx context.Context, f model.SessionBalanceFilter) ([]model.SessionBalance, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error)
	GetTransferOut(ctx context.Context, id int64) (*model.TransferOut, error)
	ListTransfersOut(ctx context.Context, f model.TransferOutFilter) ([]model.TransferOut, error)

	// --- Session pricing ---

	GetSessionFee(ctx context.Context, sessionID int64) (*model.SessionFee, error)
	ListPriceWeights(ctx context.Context, f model.PriceWeightFilter) ([]model.PriceWeight, error)
}

// Tx is a unit of work. Lock* methods take row locks held until the
// transaction ends.
type Tx interface {
	Reader

	// --- Wallet address ---

	InsertWalletAddress(ctx context.Context, w *model.WalletAddress) error
	UpdateWalletAddress(ctx context.Context, w *model.WalletAddress) error

	// --- Sessions ---

	// FindOpenSession returns an open session other than excludeID, or ErrNotFound.
	FindOpenSession(ctx context.Context, excludeID int64) (*model.MarketSession, error)
	CountUnfinishedSessions(ctx context.Context) (int, error)
	// NextSessionNumber returns one past the highest session number on the
	// session's date.
	NextSessionNumber(ctx context.Context, s *model.MarketSession) (int, error)
	LockSession(ctx context.Context, id int64) (*model.MarketSession, error)
	InsertSession(ctx context.Context, s *model.MarketSession) error
	UpdateSession(ctx context.Context, s *model.MarketSession) error

	// --- Bids ---

	LockBid(ctx context.Context, id uuid.UUID) (*model.Bid, error)
	InsertBid(ctx context.Context, b *model.Bid) error
	UpdateBid(ctx context.Context, b *model.Bid) error
	InsertBidPayment(ctx context.Context, p *model.BidPayment) error
	UpdateBidPayment(ctx context.Context, p *model.BidPayment) error

	// --- Ledger ---

	// LockBalance fetches or creates the user's balance row and locks it.
	LockBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error)
	SaveBalance(ctx context.Context, b *model.Balance) error
	// LockSessionBalance fetches or creates the triple's row and locks it.
	LockSessionBalance(ctx context.Context, k model.SessionKey) (*model.SessionBalance, error)
	SaveSessionBalance(ctx context.Context, b *model.SessionBalance) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	InsertTransferOut(ctx context.Context, t *model.TransferOut) error
	LockTransferOut(ctx context.Context, id int64) (*model.TransferOut, error)
	UpdateTransferOut(ctx context.Context, t *model.TransferOut) error

	// --- Session pricing ---

	UpsertSessionFee(ctx context.Context, f *model.SessionFee) error
	InsertPriceWeight(ctx context.Context, w *model.PriceWeight) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// WithTx runs fn in one atomic unit. If fn returns an error nothing it
	// wrote is kept.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
