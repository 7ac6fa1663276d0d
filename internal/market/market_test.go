package market_test

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/ledger"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/registry"
	"github.com/predico/market-service/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, code), "want %s, got %v", code, err)
}

// iotaAddr builds a valid ed25519 IOTA address whose hash is filled with seed.
func iotaAddr(t *testing.T, seed byte) string {
	t.Helper()
	payload := make([]byte, 33)
	for i := 1; i < len(payload); i++ {
		payload[i] = seed
	}
	data, err := bech32.ConvertBits(payload, 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode("iota", data)
	require.NoError(t, err)
	return addr
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Notify(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	svc    *market.Service
	store  *store.MemoryStore
	reg    *registry.Memory
	events *recorder
	admin  market.Caller
}

// newTestEnv creates a Service over an in-memory store and registry.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	reg := registry.NewMemory()
	rec := &recorder{}
	svc := market.NewService(ms, reg, rec, market.Config{MinimumPaymentAmount: d("10")}, nil)
	return &testEnv{
		svc:    svc,
		store:  ms,
		reg:    reg,
		events: rec,
		admin:  market.Caller{UserID: uuid.New(), Admin: true},
	}
}

// agent registers a user with a wallet address and one forecastable
// measurement resource.
func (e *testEnv) agent(t *testing.T) (market.Caller, uuid.UUID) {
	t.Helper()
	c := market.Caller{UserID: uuid.New()}
	e.reg.SetWalletAddress(c.UserID, iotaAddr(t, 0x42))
	res := model.Resource{
		ID:         uuid.New(),
		UserID:     c.UserID,
		Name:       "load-" + c.UserID.String()[:8],
		Type:       model.ResourceMeasurement,
		ToForecast: true,
	}
	e.reg.AddResource(res)
	return c, res.ID
}

// openSession registers the market wallet when missing and opens a new
// session.
func (e *testEnv) openSession(t *testing.T) *model.MarketSession {
	t.Helper()
	ctx := context.Background()
	if _, err := e.svc.GetWalletAddress(ctx); err != nil {
		_, err := e.svc.RegisterWalletAddress(ctx, iotaAddr(t, 0x01))
		require.NoError(t, err)
	}
	sess, err := e.svc.CreateSession(ctx, market.CreateSessionInput{})
	require.NoError(t, err)
	open := model.SessionOpen
	sess, err = e.svc.UpdateSession(ctx, sess.ID, market.UpdateSessionInput{Status: &open})
	require.NoError(t, err)
	return sess
}

func (e *testEnv) placeBid(t *testing.T, c market.Caller, sessionID int64, resourceID uuid.UUID, maxPayment string) *market.BidReceipt {
	t.Helper()
	receipt, err := e.svc.CreateBid(context.Background(), c, market.CreateBidInput{
		SessionID:  sessionID,
		ResourceID: resourceID,
		BidPrice:   d("5"),
		MaxPayment: d(maxPayment),
		GainFunc:   model.GainMSE,
	})
	require.NoError(t, err)
	return receipt
}

func TestBidLifecycle_PlacePayConfirm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, resource := env.agent(t)

	receipt := env.placeBid(t, agent, sess.ID, resource, "100")
	assert.Equal(t, agent.UserID, receipt.UserID)
	assert.Equal(t, iotaAddr(t, 0x01), receipt.MarketWalletAddress)

	bids, err := env.svc.ListBids(ctx, agent, model.BidFilter{})
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, model.BidNoPaymentRef, bids[0].State)

	pay, err := env.svc.AttachPayment(ctx, agent, receipt.ID, " abc123 ")
	require.NoError(t, err)
	assert.Equal(t, "abc123", pay.TangleMsgID)

	bids, err = env.svc.ListBids(ctx, agent, model.BidFilter{})
	require.NoError(t, err)
	assert.Equal(t, model.BidWithPaymentRef, bids[0].State)
	require.NotNil(t, bids[0].TangleMsgID)
	assert.Equal(t, "abc123", *bids[0].TangleMsgID)

	conf, err := env.svc.ConfirmPayment(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, conf.BidID)
	assert.Equal(t, sess.ID, conf.SessionID)
	assert.True(t, conf.Confirmed)

	bal, err := env.store.GetBalance(ctx, agent.UserID)
	require.NoError(t, err)
	assertDec(t, "100", bal.Amount)
	assertDec(t, "100", bal.TotalDeposit)

	sbs, err := env.svc.ListSessionBalances(ctx, agent, model.SessionBalanceFilter{})
	require.NoError(t, err)
	require.Len(t, sbs, 1)
	assertDec(t, "100", sbs[0].Amount)
	assertDec(t, "100", sbs[0].SessionDeposit)

	txs, err := env.svc.ListTransactions(ctx, agent, model.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTransferIn, txs[0].Type)
	assertDec(t, "100", txs[0].Amount)

	payment, err := env.store.GetBidPayment(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, payment.IsSolid)

	bids, err = env.svc.ListBids(ctx, agent, model.BidFilter{})
	require.NoError(t, err)
	assert.Equal(t, model.BidConfirmed, bids[0].State)

	_, err = env.svc.ConfirmPayment(ctx, "abc123")
	assertCode(t, err, apperr.CodeTransactionAlreadyValid)

	assert.Equal(t, []model.EventType{
		model.EventBidPlaced,
		model.EventBidPaymentAttached,
		model.EventBidConfirmed,
	}, env.events.types())
}

func TestConfirmPayment_UnknownReference(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t)

	_, err := env.svc.ConfirmPayment(context.Background(), "nope")
	assertCode(t, err, apperr.CodeBidPaymentNotFound)

	_, err = env.svc.ConfirmPayment(context.Background(), "   ")
	assertCode(t, err, apperr.CodeInvalidTangleMessageID)
}

func TestConfirmPayment_RollsBackOnDuplicatePosting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, resource := env.agent(t)

	receipt := env.placeBid(t, agent, sess.ID, resource, "100")
	_, err := env.svc.AttachPayment(ctx, agent, receipt.ID, "abc123")
	require.NoError(t, err)

	// A transfer_in for the same triple already exists.
	_, err = env.svc.PostTransaction(ctx, market.PostTransactionInput{
		SessionID:  sess.ID,
		UserID:     agent.UserID,
		ResourceID: resource,
		Amount:     d("7"),
		Type:       model.TxTransferIn,
	})
	require.NoError(t, err)

	_, err = env.svc.ConfirmPayment(ctx, "abc123")
	assertCode(t, err, apperr.CodeDuplicatedTransactionFound)

	bal, err := env.store.GetBalance(ctx, agent.UserID)
	require.NoError(t, err)
	assertDec(t, "7", bal.Amount)

	bid, err := env.store.GetBid(ctx, receipt.ID)
	require.NoError(t, err)
	assert.False(t, bid.Confirmed)

	payment, err := env.store.GetBidPayment(ctx, receipt.ID)
	require.NoError(t, err)
	assert.False(t, payment.IsSolid)
}

func TestConfirmPayment_ConcurrentCreditsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, resource := env.agent(t)

	receipt := env.placeBid(t, agent, sess.ID, resource, "100")
	_, err := env.svc.AttachPayment(ctx, agent, receipt.ID, "abc123")
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ConfirmPayment(ctx, "abc123")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assertCode(t, err, apperr.CodeTransactionAlreadyValid)
	}
	assert.Equal(t, 1, ok)

	bal, err := env.store.GetBalance(ctx, agent.UserID)
	require.NoError(t, err)
	assertDec(t, "100", bal.Amount)
	assertDec(t, "100", bal.TotalDeposit)
}

func TestConfirmPayment_ConcurrentDistinctBidsSum(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	agent, first := env.agent(t)

	second := model.Resource{
		ID:         uuid.New(),
		UserID:     agent.UserID,
		Name:       "pv-" + agent.UserID.String()[:8],
		Type:       model.ResourceMeasurement,
		ToForecast: true,
	}
	env.reg.AddResource(second)

	refs := []string{"ref-a", "ref-b"}
	bids := []*market.BidReceipt{
		env.placeBid(t, agent, sess.ID, first, "1000000"),
		env.placeBid(t, agent, sess.ID, second.ID, "250"),
	}
	for i, bid := range bids {
		_, err := env.svc.AttachPayment(ctx, agent, bid.ID, refs[i])
		require.NoError(t, err)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, len(refs))
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			<-start
			_, err := env.svc.ConfirmPayment(ctx, ref)
			errs <- err
		}(ref)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	bal, err := env.store.GetBalance(ctx, agent.UserID)
	require.NoError(t, err)
	assertDec(t, "1000250", bal.Amount)
	assertDec(t, "1000250", bal.TotalDeposit)
	assert.True(t, ledger.Balanced(*bal))

	transferIn := model.TxTransferIn
	txs, err := env.svc.ListTransactions(ctx, agent, model.TransactionFilter{Type: &transferIn})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	assertDec(t, "1000250", sum)

	sbs, err := env.svc.ListSessionBalances(ctx, agent, model.SessionBalanceFilter{SessionID: &sess.ID})
	require.NoError(t, err)
	require.Len(t, sbs, 2)
	for _, sb := range sbs {
		assert.True(t, ledger.SessionBalanced(sb))
	}
}

func TestMarketScenario_MillionTokenBid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.svc.RegisterWalletAddress(ctx, iotaAddr(t, 0x01))
	require.NoError(t, err)

	sess, err := env.svc.CreateSession(ctx, market.CreateSessionInput{
		BMin: d("10000"),
		BMax: d("100000"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStaged, sess.Status)
	assertDec(t, "10000", sess.BMin)
	assertDec(t, "100000", sess.BMax)

	open := model.SessionOpen
	sess, err = env.svc.UpdateSession(ctx, sess.ID, market.UpdateSessionInput{Status: &open})
	require.NoError(t, err)

	agent, resource := env.agent(t)
	receipt, err := env.svc.CreateBid(ctx, agent, market.CreateBidInput{
		SessionID:  sess.ID,
		ResourceID: resource,
		BidPrice:   d("1000"),
		MaxPayment: d("1000000"),
		GainFunc:   model.GainMSE,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, receipt.ID)
	assert.Equal(t, iotaAddr(t, 0x01), receipt.MarketWalletAddress)

	_, err = env.svc.AttachPayment(ctx, agent, receipt.ID, "abc123")
	require.NoError(t, err)
	payment, err := env.store.GetBidPayment(ctx, receipt.ID)
	require.NoError(t, err)
	assert.False(t, payment.IsSolid)

	_, err = env.svc.ConfirmPayment(ctx, "abc123")
	require.NoError(t, err)

	bid, err := env.store.GetBid(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, bid.Confirmed)
	payment, err = env.store.GetBidPayment(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, payment.IsSolid)

	bal, err := env.store.GetBalance(ctx, agent.UserID)
	require.NoError(t, err)
	assertDec(t, "1000000", bal.Amount)

	sbs, err := env.svc.ListSessionBalances(ctx, agent, model.SessionBalanceFilter{})
	require.NoError(t, err)
	require.Len(t, sbs, 1)
	assertDec(t, "1000000", sbs[0].SessionDeposit)

	txs, err := env.svc.ListTransactions(ctx, agent, model.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTransferIn, txs[0].Type)
	assertDec(t, "1000000", txs[0].Amount)

	// Same triple again.
	_, err = env.svc.CreateBid(ctx, agent, market.CreateBidInput{
		SessionID: sess.ID, ResourceID: resource, BidPrice: d("1000"), MaxPayment: d("1000000"), GainFunc: model.GainMSE,
	})
	assertCode(t, err, apperr.CodeBidAlreadyExists)

	// A second open session is refused while this one is open.
	finished := model.SessionFinished
	_, err = env.svc.UpdateSession(ctx, sess.ID, market.UpdateSessionInput{Status: &finished})
	require.NoError(t, err)
	next, err := env.svc.CreateSession(ctx, market.CreateSessionInput{})
	require.NoError(t, err)
	_, err = env.svc.UpdateSession(ctx, sess.ID, market.UpdateSessionInput{Status: &open})
	require.NoError(t, err)
	_, err = env.svc.UpdateSession(ctx, next.ID, market.UpdateSessionInput{Status: &open})
	assertCode(t, err, apperr.CodeMoreThanOneSessionOpen)
	e, _ := apperr.As(err)
	assert.Equal(t, sess.ID, e.Details["open_session_id"])
}
