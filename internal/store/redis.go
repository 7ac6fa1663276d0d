package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/predico/market-service/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot single-row reads: the platform wallet address, sessions
// and user balances. Writes go to the primary store inside WithTx and the
// touched keys are invalidated once the transaction commits.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// WithTx runs fn on the primary store and invalidates every key it wrote.
// Keys are evicted before the commit and again after it: a reader that
// repopulates a key from the pre-commit row in between is cleared by the
// second eviction. A reader that loaded the old row before the commit and
// writes it after the second eviction can still serve it until the TTL.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	rec := &cachedTx{}
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		rec.Tx = tx
		if err := fn(rec); err != nil {
			return err
		}
		s.evict(ctx, rec.dirtyKeys())
		return nil
	})
	if err != nil {
		return err
	}
	s.evict(ctx, rec.dirtyKeys())
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWalletAddress(ctx context.Context) (*model.WalletAddress, error) {
	var w model.WalletAddress
	if s.get(ctx, walletKey(), &w) {
		return &w, nil
	}
	got, err := s.Store.GetWalletAddress(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, walletKey(), got)
	return got, nil
}

func (s *CachedStore) GetSession(ctx context.Context, id int64) (*model.MarketSession, error) {
	var m model.MarketSession
	if s.get(ctx, sessionKey(id), &m) {
		return &m, nil
	}
	got, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, sessionKey(id), got)
	return got, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	var b model.Balance
	if s.get(ctx, balanceKey(userID), &b) {
		return &b, nil
	}
	got, err := s.Store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, balanceKey(userID), got)
	return got, nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) evict(ctx context.Context, keys []string) {
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// cachedTx records the cache keys a transaction writes.
type cachedTx struct {
	Tx
	mu    sync.Mutex
	dirty map[string]struct{}
}

func (t *cachedTx) touch(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty == nil {
		t.dirty = make(map[string]struct{})
	}
	t.dirty[key] = struct{}{}
}

func (t *cachedTx) dirtyKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.dirty))
	for k := range t.dirty {
		keys = append(keys, k)
	}
	return keys
}

func (t *cachedTx) InsertWalletAddress(ctx context.Context, w *model.WalletAddress) error {
	t.touch(walletKey())
	return t.Tx.InsertWalletAddress(ctx, w)
}

func (t *cachedTx) UpdateWalletAddress(ctx context.Context, w *model.WalletAddress) error {
	t.touch(walletKey())
	return t.Tx.UpdateWalletAddress(ctx, w)
}

func (t *cachedTx) UpdateSession(ctx context.Context, m *model.MarketSession) error {
	t.touch(sessionKey(m.ID))
	return t.Tx.UpdateSession(ctx, m)
}

func (t *cachedTx) SaveBalance(ctx context.Context, b *model.Balance) error {
	t.touch(balanceKey(b.UserID))
	return t.Tx.SaveBalance(ctx, b)
}

func walletKey() string                { return "market:wallet_address" }
func sessionKey(id int64) string       { return fmt.Sprintf("market:session:%d", id) }
func balanceKey(uid uuid.UUID) string  { return fmt.Sprintf("market:balance:%s", uid) }
