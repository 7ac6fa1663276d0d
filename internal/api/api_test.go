package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predico/market-service/internal/api"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
	"github.com/predico/market-service/internal/registry"
	"github.com/predico/market-service/internal/store"
)

type response struct {
	Code      int             `json:"code"`
	Data      json.RawMessage `json:"data"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
}

type testEnv struct {
	router chi.Router
	reg    *registry.Memory
	admin  uuid.UUID
}

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

// newTestEnv wires the API over an in-memory store and registry.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := registry.NewMemory()
	svc := market.NewService(store.NewMemoryStore(), reg, nopNotifier{},
		market.Config{MinimumPaymentAmount: decimal.NewFromInt(10)}, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1/market", api.NewHandler(svc, nil).Routes())
	return &testEnv{router: r, reg: reg, admin: uuid.New()}
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.Event) {}

func (e *testEnv) do(t *testing.T, method, path string, user uuid.UUID, admin bool, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1/market"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(api.HeaderUserID, user.String())
	}
	if admin {
		req.Header.Set(api.HeaderUserRole, "admin")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (e *testEnv) asAdmin(t *testing.T, method, path string, body interface{}) (int, response) {
	t.Helper()
	return e.do(t, method, path, e.admin, true, body)
}

// openSession registers the market wallet and opens a session, returning its id.
func (e *testEnv) openSession(t *testing.T) int64 {
	t.Helper()
	code, _ := e.asAdmin(t, http.MethodPost, "/wallet-address", map[string]string{"wallet_address": iotaAddr(t, 1)})
	require.Equal(t, http.StatusOK, code)

	code, resp := e.asAdmin(t, http.MethodPost, "/session", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, code)
	var sess model.MarketSession
	require.NoError(t, json.Unmarshal(resp.Data, &sess))

	code, _ = e.asAdmin(t, http.MethodPatch, "/session/"+itoa(sess.ID), map[string]string{"status": "open"})
	require.Equal(t, http.StatusOK, code)
	return sess.ID
}

func (e *testEnv) agent(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	user := uuid.New()
	e.reg.SetWalletAddress(user, iotaAddr(t, 0x42))
	res := model.Resource{ID: uuid.New(), UserID: user, Type: model.ResourceMeasurement, ToForecast: true}
	e.reg.AddResource(res)
	return user, res.ID
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestIdentity(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/bid", uuid.Nil, false, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "unauthorized", resp.ErrorCode)

	code, resp = env.do(t, http.MethodPost, "/session", uuid.New(), false, map[string]interface{}{})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", resp.ErrorCode)

	code, _ = env.do(t, http.MethodGet, "/transfer-out", uuid.New(), false, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestBidFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.openSession(t)
	user, resource := env.agent(t)

	code, resp := env.do(t, http.MethodPost, "/bid", user, false, map[string]interface{}{
		"market_session": sessionID,
		"resource":       resource,
		"bid_price":      "5",
		"max_payment":    "100",
		"gain_func":      "mse",
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, http.StatusOK, resp.Code)

	var receipt market.BidReceipt
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	assert.Equal(t, iotaAddr(t, 1), receipt.MarketWalletAddress)

	code, _ = env.do(t, http.MethodPatch, "/bid/"+receipt.ID.String(), user, false,
		map[string]string{"tangle_msg_id": "abc123"})
	require.Equal(t, http.StatusOK, code)

	code, resp = env.asAdmin(t, http.MethodPost, "/validate/bid-payment", map[string]string{"tangle_msg_id": "abc123"})
	require.Equal(t, http.StatusOK, code)
	var conf map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &conf))
	assert.Equal(t, receipt.ID.String(), conf["market_bid"])
	assert.Equal(t, true, conf["confirmed"])

	code, resp = env.asAdmin(t, http.MethodPost, "/validate/bid-payment", map[string]string{"tangle_msg_id": "abc123"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "transaction_already_valid", resp.ErrorCode)

	code, resp = env.do(t, http.MethodGet, "/balance", user, false, nil)
	require.Equal(t, http.StatusOK, code)
	var balances []model.Balance
	require.NoError(t, json.Unmarshal(resp.Data, &balances))
	require.Len(t, balances, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(balances[0].Amount))

	code, resp = env.do(t, http.MethodGet, "/bid?confirmed=true", user, false, nil)
	require.Equal(t, http.StatusOK, code)
	var bids []model.BidWithPayment
	require.NoError(t, json.Unmarshal(resp.Data, &bids))
	require.Len(t, bids, 1)
	assert.Equal(t, model.BidConfirmed, bids[0].State)
}

func TestCreateBid_ValidationEnvelope(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t)
	user, _ := env.agent(t)

	code, resp := env.do(t, http.MethodPost, "/bid", user, false, map[string]interface{}{"gain_func": "mse"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.ErrorCode)
	assert.Contains(t, resp.Message, "Validation error")

	var details map[string][]string
	require.NoError(t, json.Unmarshal(resp.Data, &details))
	assert.Contains(t, details, "market_session")
	assert.Contains(t, details, "resource")
	assert.Contains(t, details, "max_payment")
}

func TestSessionConflictsOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.asAdmin(t, http.MethodPost, "/session", map[string]interface{}{})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no_market_address", resp.ErrorCode)

	sessionID := env.openSession(t)

	code, resp = env.asAdmin(t, http.MethodPost, "/session", map[string]interface{}{})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "unfinished_sessions", resp.ErrorCode)

	code, resp = env.asAdmin(t, http.MethodPatch, "/session/"+itoa(sessionID), map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.ErrorCode)

	code, resp = env.do(t, http.MethodGet, "/session?status=open", uuid.New(), false, nil)
	require.Equal(t, http.StatusOK, code)
	var sessions []model.MarketSession
	require.NoError(t, json.Unmarshal(resp.Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].ID)

	code, resp = env.do(t, http.MethodGet, "/session?market_session=abc", uuid.New(), false, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSessionBalanceAndTransferOut(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.openSession(t)
	user := uuid.New()
	resources := []uuid.UUID{uuid.New(), uuid.New()}

	for i, amount := range []string{"30", "20"} {
		code, resp := env.asAdmin(t, http.MethodPost, "/session-balance", map[string]interface{}{
			"user":             user,
			"market_session":   sessionID,
			"resource":         resources[i],
			"transaction_type": "transfer_in",
			"amount":           amount,
		})
		require.Equal(t, http.StatusCreated, code, resp.Message)
	}

	code, resp := env.asAdmin(t, http.MethodPost, "/session-balance", map[string]interface{}{
		"user":             user,
		"market_session":   sessionID,
		"resource":         uuid.New(),
		"transaction_type": "payment",
		"amount":           "10",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "transaction_bad_operator_signal", resp.ErrorCode)

	code, resp = env.do(t, http.MethodGet, "/session-balance?balance_by_resource=false", user, false, nil)
	require.Equal(t, http.StatusOK, code)
	var sums []model.SessionBalanceSummary
	require.NoError(t, json.Unmarshal(resp.Data, &sums))
	require.Len(t, sums, 1)
	assert.True(t, decimal.NewFromInt(50).Equal(sums[0].Amount))

	code, resp = env.asAdmin(t, http.MethodPost, "/transfer-out", map[string]interface{}{
		"user":                user,
		"amount":              "15",
		"user_wallet_address": iotaAddr(t, 9),
		"tangle_msg_id":       "w0",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.ErrorCode)

	code, resp = env.asAdmin(t, http.MethodPost, "/transfer-out", map[string]interface{}{
		"user":                user,
		"market_session":      sessionID,
		"resource":            resources[0],
		"amount":              "15",
		"user_wallet_address": iotaAddr(t, 9),
		"tangle_msg_id":       "w1",
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var transfer model.TransferOut
	require.NoError(t, json.Unmarshal(resp.Data, &transfer))

	code, resp = env.asAdmin(t, http.MethodPut, "/transfer-out", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.asAdmin(t, http.MethodPut, "/transfer-out", map[string]interface{}{
		"withdraw_transfer_id": transfer.ID,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)

	code, resp = env.asAdmin(t, http.MethodPut, "/transfer-out", map[string]interface{}{
		"withdraw_transfer_id": transfer.ID,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "transfer_already_confirmed", resp.ErrorCode)

	code, resp = env.do(t, http.MethodGet, "/session-transactions?transaction_type=transfer_out", user, false, nil)
	require.Equal(t, http.StatusOK, code)
	var txs []model.Transaction
	require.NoError(t, json.Unmarshal(resp.Data, &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, resources[0], txs[0].ResourceID)
	assert.True(t, decimal.NewFromInt(-15).Equal(txs[0].Amount))

	code, resp = env.do(t, http.MethodGet, "/balance?balance__gte=35", user, false, nil)
	require.Equal(t, http.StatusOK, code)
	var balances []model.Balance
	require.NoError(t, json.Unmarshal(resp.Data, &balances))
	require.Len(t, balances, 1)
	assert.True(t, decimal.NewFromInt(35).Equal(balances[0].Amount))
}

func TestSessionFeeAndPriceWeight(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.openSession(t)

	code, resp := env.asAdmin(t, http.MethodGet, "/session-fee?market_session="+itoa(sessionID), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no_market_fee", resp.ErrorCode)

	code, _ = env.asAdmin(t, http.MethodPost, "/session-fee", map[string]interface{}{
		"market_session": sessionID,
		"amount":         "2.5",
	})
	require.Equal(t, http.StatusCreated, code)

	code, resp = env.asAdmin(t, http.MethodGet, "/session-fee?market_session="+itoa(sessionID), nil)
	require.Equal(t, http.StatusOK, code)
	var fee model.SessionFee
	require.NoError(t, json.Unmarshal(resp.Data, &fee))
	assert.True(t, decimal.RequireFromString("2.5").Equal(fee.Amount))

	code, _ = env.asAdmin(t, http.MethodPost, "/price-weight", map[string]interface{}{
		"market_session": sessionID,
		"weights_p":      []string{"0.4", "0.6"},
	})
	require.Equal(t, http.StatusCreated, code)

	code, resp = env.asAdmin(t, http.MethodGet, "/price-weight?market_session="+itoa(sessionID), nil)
	require.Equal(t, http.StatusOK, code)
	var weights []model.PriceWeight
	require.NoError(t, json.Unmarshal(resp.Data, &weights))
	assert.Len(t, weights, 2)
}
