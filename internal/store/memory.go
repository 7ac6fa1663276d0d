package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/predico/market-service/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized by one mutex and run against a private copy
// of the state, which replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// WithTx runs fn against a snapshot and commits it on success.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.clone()
	if err := fn(snap); err != nil {
		return err
	}
	s.state = snap
	return nil
}

// --- Reader (shared lock on the live state) ---

func (s *MemoryStore) GetWalletAddress(ctx context.Context) (*model.WalletAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetWalletAddress(ctx)
}

func (s *MemoryStore) GetSession(ctx context.Context, id int64) (*model.MarketSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetSession(ctx, id)
}

func (s *MemoryStore) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.MarketSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListSessions(ctx, f)
}

func (s *MemoryStore) GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetBid(ctx, id)
}

func (s *MemoryStore) ListBids(ctx context.Context, f model.BidFilter) ([]model.BidWithPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListBids(ctx, f)
}

func (s *MemoryStore) GetBidPayment(ctx context.Context, bidID uuid.UUID) (*model.BidPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetBidPayment(ctx, bidID)
}

func (s *MemoryStore) GetBidPaymentByRef(ctx context.Context, ref string) (*model.BidPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetBidPaymentByRef(ctx, ref)
}

func (s *MemoryStore) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetBalance(ctx, userID)
}

func (s *MemoryStore) ListBalances(ctx context.Context, f model.BalanceFilter) ([]model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListBalances(ctx, f)
}

func (s *MemoryStore) ListSessionBalances(ctx context.Context, f model.SessionBalanceFilter) ([]model.SessionBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListSessionBalances(ctx, f)
}

func (s *MemoryStore) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListTransactions(ctx, f)
}

func (s *MemoryStore) GetTransferOut(ctx context.Context, id int64) (*model.TransferOut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetTransferOut(ctx, id)
}

func (s *MemoryStore) ListTransfersOut(ctx context.Context, f model.TransferOutFilter) ([]model.TransferOut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListTransfersOut(ctx, f)
}

func (s *MemoryStore) GetSessionFee(ctx context.Context, sessionID int64) (*model.SessionFee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetSessionFee(ctx, sessionID)
}

func (s *MemoryStore) ListPriceWeights(ctx context.Context, f model.PriceWeightFilter) ([]model.PriceWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListPriceWeights(ctx, f)
}

// memState is the full data set. It implements Tx without locking; the
// owning MemoryStore provides isolation.
type memState struct {
	wallet *model.WalletAddress

	sessions      map[int64]model.MarketSession
	nextSessionID int64

	bids     map[uuid.UUID]model.Bid
	bidOrder []uuid.UUID
	payments map[uuid.UUID]model.BidPayment // by bid id

	balances        map[uuid.UUID]model.Balance
	balanceOrder    []uuid.UUID
	sessionBalances map[model.SessionKey]model.SessionBalance
	sbOrder         []model.SessionKey

	transactions []model.Transaction
	nextTxID     int64

	transfers      map[int64]model.TransferOut
	nextTransferID int64

	fees         map[int64]model.SessionFee
	weights      []model.PriceWeight
	nextWeightID int64
}

func newMemState() *memState {
	return &memState{
		sessions:        make(map[int64]model.MarketSession),
		bids:            make(map[uuid.UUID]model.Bid),
		payments:        make(map[uuid.UUID]model.BidPayment),
		balances:        make(map[uuid.UUID]model.Balance),
		sessionBalances: make(map[model.SessionKey]model.SessionBalance),
		transfers:       make(map[int64]model.TransferOut),
		fees:            make(map[int64]model.SessionFee),
	}
}

func (m *memState) clone() *memState {
	c := &memState{
		nextSessionID:   m.nextSessionID,
		nextTxID:        m.nextTxID,
		nextTransferID:  m.nextTransferID,
		nextWeightID:    m.nextWeightID,
		sessions:        make(map[int64]model.MarketSession, len(m.sessions)),
		bids:            make(map[uuid.UUID]model.Bid, len(m.bids)),
		bidOrder:        append([]uuid.UUID(nil), m.bidOrder...),
		payments:        make(map[uuid.UUID]model.BidPayment, len(m.payments)),
		balances:        make(map[uuid.UUID]model.Balance, len(m.balances)),
		balanceOrder:    append([]uuid.UUID(nil), m.balanceOrder...),
		sessionBalances: make(map[model.SessionKey]model.SessionBalance, len(m.sessionBalances)),
		sbOrder:         append([]model.SessionKey(nil), m.sbOrder...),
		transactions:    append([]model.Transaction(nil), m.transactions...),
		transfers:       make(map[int64]model.TransferOut, len(m.transfers)),
		fees:            make(map[int64]model.SessionFee, len(m.fees)),
		weights:         append([]model.PriceWeight(nil), m.weights...),
	}
	if m.wallet != nil {
		w := *m.wallet
		c.wallet = &w
	}
	for k, v := range m.sessions {
		c.sessions[k] = v
	}
	for k, v := range m.bids {
		c.bids[k] = v
	}
	for k, v := range m.payments {
		c.payments[k] = v
	}
	for k, v := range m.balances {
		c.balances[k] = v
	}
	for k, v := range m.sessionBalances {
		c.sessionBalances[k] = v
	}
	for k, v := range m.transfers {
		c.transfers[k] = v
	}
	for k, v := range m.fees {
		c.fees[k] = v
	}
	return c
}

// --- Wallet address ---

func (m *memState) GetWalletAddress(_ context.Context) (*model.WalletAddress, error) {
	if m.wallet == nil {
		return nil, ErrNotFound
	}
	w := *m.wallet
	return &w, nil
}

func (m *memState) InsertWalletAddress(_ context.Context, w *model.WalletAddress) error {
	if m.wallet != nil {
		return &ConflictError{Constraint: ConstraintWalletSingleton}
	}
	c := *w
	m.wallet = &c
	return nil
}

func (m *memState) UpdateWalletAddress(_ context.Context, w *model.WalletAddress) error {
	if m.wallet == nil {
		return ErrNotFound
	}
	c := *w
	m.wallet = &c
	return nil
}

// --- Sessions ---

func (m *memState) GetSession(_ context.Context, id int64) (*model.MarketSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memState) LockSession(ctx context.Context, id int64) (*model.MarketSession, error) {
	return m.GetSession(ctx, id)
}

func (m *memState) ListSessions(_ context.Context, f model.SessionFilter) ([]model.MarketSession, error) {
	out := make([]model.MarketSession, 0)
	for _, s := range m.sessions {
		if f.ID != nil && s.ID != *f.ID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.LatestOnly && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out, nil
}

func (m *memState) FindOpenSession(_ context.Context, excludeID int64) (*model.MarketSession, error) {
	for _, s := range m.sessions {
		if s.Status == model.SessionOpen && s.ID != excludeID {
			c := s
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memState) CountUnfinishedSessions(_ context.Context) (int, error) {
	n := 0
	for _, s := range m.sessions {
		if s.Status != model.SessionFinished {
			n++
		}
	}
	return n, nil
}

func (m *memState) NextSessionNumber(_ context.Context, s *model.MarketSession) (int, error) {
	max := 0
	for _, e := range m.sessions {
		if sameDay(e.SessionDate, s.SessionDate) && e.SessionNumber > max {
			max = e.SessionNumber
		}
	}
	return max + 1, nil
}

func (m *memState) InsertSession(_ context.Context, s *model.MarketSession) error {
	if err := m.checkSession(s); err != nil {
		return err
	}
	m.nextSessionID++
	s.ID = m.nextSessionID
	m.sessions[s.ID] = *s
	return nil
}

func (m *memState) UpdateSession(_ context.Context, s *model.MarketSession) error {
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	if err := m.checkSession(s); err != nil {
		return err
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memState) checkSession(s *model.MarketSession) error {
	for _, e := range m.sessions {
		if e.ID == s.ID {
			continue
		}
		if e.SessionNumber == s.SessionNumber && sameDay(e.SessionDate, s.SessionDate) {
			return &ConflictError{Constraint: ConstraintSessionNumberDate}
		}
		if s.Status == model.SessionOpen && e.Status == model.SessionOpen {
			return &ConflictError{Constraint: ConstraintSingleOpenSession}
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// --- Bids ---

func (m *memState) GetBid(_ context.Context, id uuid.UUID) (*model.Bid, error) {
	b, ok := m.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *memState) LockBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	return m.GetBid(ctx, id)
}

func (m *memState) ListBids(_ context.Context, f model.BidFilter) ([]model.BidWithPayment, error) {
	out := make([]model.BidWithPayment, 0)
	for _, id := range m.bidOrder {
		b := m.bids[id]
		if !f.MatchBid(b) {
			continue
		}
		row := model.BidWithPayment{Bid: b}
		if p, ok := m.payments[id]; ok {
			ref := p.TangleMsgID
			row.TangleMsgID = &ref
		}
		row.State = model.StateOf(b, row.TangleMsgID != nil)
		out = append(out, row)
	}
	return out, nil
}

func (m *memState) InsertBid(_ context.Context, b *model.Bid) error {
	for _, e := range m.bids {
		if e.UserID == b.UserID && e.ResourceID == b.ResourceID && e.SessionID == b.SessionID {
			return &ConflictError{Constraint: ConstraintBidUnique}
		}
	}
	m.bids[b.ID] = *b
	m.bidOrder = append(m.bidOrder, b.ID)
	return nil
}

func (m *memState) UpdateBid(_ context.Context, b *model.Bid) error {
	if _, ok := m.bids[b.ID]; !ok {
		return ErrNotFound
	}
	m.bids[b.ID] = *b
	return nil
}

func (m *memState) GetBidPayment(_ context.Context, bidID uuid.UUID) (*model.BidPayment, error) {
	p, ok := m.payments[bidID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memState) GetBidPaymentByRef(_ context.Context, ref string) (*model.BidPayment, error) {
	for _, p := range m.payments {
		if p.TangleMsgID == ref {
			c := p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memState) InsertBidPayment(_ context.Context, p *model.BidPayment) error {
	if _, ok := m.payments[p.BidID]; ok {
		return &ConflictError{Constraint: ConstraintPaymentPerBid}
	}
	for _, e := range m.payments {
		if e.TangleMsgID == p.TangleMsgID {
			return &ConflictError{Constraint: ConstraintPaymentRef}
		}
	}
	m.payments[p.BidID] = *p
	return nil
}

func (m *memState) UpdateBidPayment(_ context.Context, p *model.BidPayment) error {
	if _, ok := m.payments[p.BidID]; !ok {
		return ErrNotFound
	}
	m.payments[p.BidID] = *p
	return nil
}

// --- Ledger ---

func (m *memState) GetBalance(_ context.Context, userID uuid.UUID) (*model.Balance, error) {
	b, ok := m.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *memState) ListBalances(_ context.Context, f model.BalanceFilter) ([]model.Balance, error) {
	out := make([]model.Balance, 0)
	for _, id := range m.balanceOrder {
		if b := m.balances[id]; f.MatchBalance(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memState) LockBalance(_ context.Context, userID uuid.UUID) (*model.Balance, error) {
	b, ok := m.balances[userID]
	if !ok {
		b = model.NewBalance(userID)
		b.UpdatedAt = time.Now().UTC()
		m.balances[userID] = b
		m.balanceOrder = append(m.balanceOrder, userID)
	}
	return &b, nil
}

func (m *memState) SaveBalance(_ context.Context, b *model.Balance) error {
	if _, ok := m.balances[b.UserID]; !ok {
		return ErrNotFound
	}
	m.balances[b.UserID] = *b
	return nil
}

func (m *memState) ListSessionBalances(_ context.Context, f model.SessionBalanceFilter) ([]model.SessionBalance, error) {
	out := make([]model.SessionBalance, 0)
	for _, k := range m.sbOrder {
		if b := m.sessionBalances[k]; f.MatchSessionBalance(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memState) LockSessionBalance(_ context.Context, k model.SessionKey) (*model.SessionBalance, error) {
	b, ok := m.sessionBalances[k]
	if !ok {
		b = model.NewSessionBalance(k)
		b.RegisteredAt = time.Now().UTC()
		m.sessionBalances[k] = b
		m.sbOrder = append(m.sbOrder, k)
	}
	return &b, nil
}

func (m *memState) SaveSessionBalance(_ context.Context, b *model.SessionBalance) error {
	k := b.Key()
	if _, ok := m.sessionBalances[k]; !ok {
		return ErrNotFound
	}
	m.sessionBalances[k] = *b
	return nil
}

func (m *memState) ListTransactions(_ context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	out := make([]model.Transaction, 0)
	for _, t := range m.transactions {
		if f.MatchTransaction(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memState) InsertTransaction(_ context.Context, t *model.Transaction) error {
	for _, e := range m.transactions {
		if e.SessionID == t.SessionID && e.UserID == t.UserID &&
			e.ResourceID == t.ResourceID && e.Type == t.Type {
			return &ConflictError{Constraint: ConstraintTransactionUnique}
		}
	}
	m.nextTxID++
	t.ID = m.nextTxID
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *memState) GetTransferOut(_ context.Context, id int64) (*model.TransferOut, error) {
	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *memState) LockTransferOut(ctx context.Context, id int64) (*model.TransferOut, error) {
	return m.GetTransferOut(ctx, id)
}

func (m *memState) ListTransfersOut(_ context.Context, f model.TransferOutFilter) ([]model.TransferOut, error) {
	out := make([]model.TransferOut, 0)
	for _, t := range m.transfers {
		if f.MatchTransferOut(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memState) InsertTransferOut(_ context.Context, t *model.TransferOut) error {
	m.nextTransferID++
	t.ID = m.nextTransferID
	m.transfers[t.ID] = *t
	return nil
}

func (m *memState) UpdateTransferOut(_ context.Context, t *model.TransferOut) error {
	if _, ok := m.transfers[t.ID]; !ok {
		return ErrNotFound
	}
	m.transfers[t.ID] = *t
	return nil
}

// --- Session pricing ---

func (m *memState) GetSessionFee(_ context.Context, sessionID int64) (*model.SessionFee, error) {
	f, ok := m.fees[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (m *memState) UpsertSessionFee(_ context.Context, f *model.SessionFee) error {
	m.fees[f.SessionID] = *f
	return nil
}

func (m *memState) ListPriceWeights(_ context.Context, f model.PriceWeightFilter) ([]model.PriceWeight, error) {
	out := make([]model.PriceWeight, 0)
	for _, w := range m.weights {
		if f.SessionID == nil || w.SessionID == *f.SessionID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memState) InsertPriceWeight(_ context.Context, w *model.PriceWeight) error {
	m.nextWeightID++
	w.ID = m.nextWeightID
	m.weights = append(m.weights, *w)
	return nil
}
