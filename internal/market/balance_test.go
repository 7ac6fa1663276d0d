package market_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/ledger"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
)

func TestPostTransaction_Rules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	user, resource := uuid.New(), uuid.New()

	post := func(tt model.TransactionType, amount string) (*market.Posting, error) {
		return env.svc.PostTransaction(ctx, market.PostTransactionInput{
			SessionID: sess.ID, UserID: user, ResourceID: resource, Amount: d(amount), Type: tt,
		})
	}

	_, err := post(model.TxPayment, "5")
	assertCode(t, err, apperr.CodeTransactionBadOperatorSign)
	_, err = post(model.TxRevenue, "-5")
	assertCode(t, err, apperr.CodeTransactionBadOperatorSign)

	_, err = post(model.TxPayment, "-5")
	assertCode(t, err, apperr.CodeBalanceLowerThanZero)

	_, err = env.svc.PostTransaction(ctx, market.PostTransactionInput{
		SessionID: sess.ID + 9, UserID: user, ResourceID: resource, Amount: d("1"), Type: model.TxRevenue,
	})
	assertCode(t, err, apperr.CodeNoMarketSession)

	p, err := post(model.TxTransferIn, "50")
	require.NoError(t, err)
	assertDec(t, "50", p.Balance.Amount)

	p, err = post(model.TxPayment, "-20")
	require.NoError(t, err)
	assertDec(t, "30", p.Balance.Amount)
	assertDec(t, "20", p.Balance.TotalPayment)
	assertDec(t, "30", p.SessionBalance.Amount)
	assertDec(t, "20", p.SessionBalance.SessionPayment)

	p, err = post(model.TxRevenue, "12.5")
	require.NoError(t, err)
	assertDec(t, "42.5", p.Balance.Amount)
	assert.True(t, ledger.Balanced(p.Balance))
	assert.True(t, ledger.SessionBalanced(p.SessionBalance))

	_, err = post(model.TxRevenue, "1")
	assertCode(t, err, apperr.CodeDuplicatedTransactionFound)

	_, err = post(model.TxTransferOut, "-43")
	assertCode(t, err, apperr.CodeBalanceLowerThanZero)

	p, err = post(model.TxTransferOut, "-2.5")
	require.NoError(t, err)
	assertDec(t, "40", p.Balance.Amount)
	assertDec(t, "2.5", p.Balance.TotalWithdraw)
	assertDec(t, "2.5", p.SessionBalance.SessionWithdraw)

	txs, err := env.svc.ListTransactions(ctx, env.admin, model.TransactionFilter{UserID: &user})
	require.NoError(t, err)
	assert.Len(t, txs, 4)
}

func TestPostTransaction_ZeroAmounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)

	for _, tt := range []model.TransactionType{model.TxPayment, model.TxRevenue, model.TxTransferIn, model.TxTransferOut} {
		_, err := env.svc.PostTransaction(ctx, market.PostTransactionInput{
			SessionID: sess.ID, UserID: uuid.New(), ResourceID: uuid.New(), Amount: d("0"), Type: tt,
		})
		assert.NoError(t, err, tt)
	}
}

func TestListBalances_Filters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)

	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, amount := range []string{"5", "50", "500"} {
		_, err := env.svc.PostTransaction(ctx, market.PostTransactionInput{
			SessionID: sess.ID, UserID: users[i], ResourceID: uuid.New(), Amount: d(amount), Type: model.TxTransferIn,
		})
		require.NoError(t, err)
	}

	gte, lte := d("10"), d("100")
	out, err := env.svc.ListBalances(ctx, env.admin, model.BalanceFilter{BalanceGTE: &gte, BalanceLTE: &lte})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, users[1], out[0].UserID)

	out, err = env.svc.ListBalances(ctx, market.Caller{UserID: users[2]}, model.BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assertDec(t, "500", out[0].Amount)
}

func TestSummarizeSessionBalances(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	user := uuid.New()
	caller := market.Caller{UserID: user}

	for _, amount := range []string{"30", "12"} {
		_, err := env.svc.PostTransaction(ctx, market.PostTransactionInput{
			SessionID: sess.ID, UserID: user, ResourceID: uuid.New(), Amount: d(amount), Type: model.TxTransferIn,
		})
		require.NoError(t, err)
	}

	rows, err := env.svc.ListSessionBalances(ctx, caller, model.SessionBalanceFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	sum, err := env.svc.SummarizeSessionBalances(ctx, caller, model.SessionBalanceFilter{SessionID: &sess.ID})
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, user, sum[0].UserID)
	assertDec(t, "42", sum[0].Amount)
	assertDec(t, "42", sum[0].SessionDeposit)
}

func TestWithdrawal_RequestAndConfirm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.openSession(t)
	user, resource := uuid.New(), uuid.New()

	_, err := env.svc.PostTransaction(ctx, market.PostTransactionInput{
		SessionID: sess.ID, UserID: user, ResourceID: resource, Amount: d("100"), Type: model.TxTransferIn,
	})
	require.NoError(t, err)

	withdraw := func(amount, ref string) (*model.TransferOut, error) {
		return env.svc.RequestWithdrawal(ctx, market.WithdrawalInput{
			SessionID: sess.ID, UserID: user, ResourceID: resource,
			Amount: d(amount), UserWalletAddress: iotaAddr(t, 7), TangleMsgID: ref,
		})
	}

	_, err = env.svc.RequestWithdrawal(ctx, market.WithdrawalInput{
		SessionID: sess.ID, UserID: user, ResourceID: resource,
		Amount: d("10"), UserWalletAddress: "not-an-address", TangleMsgID: "w1",
	})
	assertCode(t, err, apperr.CodeInvalidIotaAddress)

	_, err = withdraw("0", "w1")
	assertCode(t, err, apperr.CodeValidation)

	_, err = env.svc.RequestWithdrawal(ctx, market.WithdrawalInput{
		SessionID: sess.ID + 100, UserID: user, ResourceID: resource,
		Amount: d("10"), UserWalletAddress: iotaAddr(t, 7), TangleMsgID: "w1",
	})
	assertCode(t, err, apperr.CodeNoMarketSession)

	req, err := withdraw("60", "w1")
	require.NoError(t, err)
	assert.False(t, req.IsSolid)
	assert.Equal(t, sess.ID, req.SessionID)
	assert.Equal(t, resource, req.ResourceID)

	// Requesting does not touch the balance.
	bal, err := env.store.GetBalance(ctx, user)
	require.NoError(t, err)
	assertDec(t, "100", bal.Amount)

	done, err := env.svc.ConfirmWithdrawal(ctx, req.ID, "w1-final")
	require.NoError(t, err)
	assert.True(t, done.IsSolid)
	assert.Equal(t, "w1-final", done.TangleMsgID)

	bal, err = env.store.GetBalance(ctx, user)
	require.NoError(t, err)
	assertDec(t, "40", bal.Amount)
	assertDec(t, "60", bal.TotalWithdraw)
	assert.True(t, ledger.Balanced(*bal))

	sbs, err := env.store.ListSessionBalances(ctx, model.SessionBalanceFilter{
		SessionID: &sess.ID, UserID: &user, ResourceID: &resource,
	})
	require.NoError(t, err)
	require.Len(t, sbs, 1)
	assertDec(t, "40", sbs[0].Amount)
	assertDec(t, "60", sbs[0].SessionWithdraw)
	assert.True(t, ledger.SessionBalanced(sbs[0]))

	// The debit is paired with a transfer_out row.
	txs, err := env.store.ListTransactions(ctx, model.TransactionFilter{UserID: &user})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	out := txs[1]
	assert.Equal(t, model.TxTransferOut, out.Type)
	assertDec(t, "-60", out.Amount)
	assert.Equal(t, sess.ID, out.SessionID)
	assert.Equal(t, resource, out.ResourceID)

	_, err = env.svc.ConfirmWithdrawal(ctx, req.ID, "")
	assertCode(t, err, apperr.CodeTransferAlreadyConfirmed)

	over, err := withdraw("41", "w2")
	require.NoError(t, err)
	_, err = env.svc.ConfirmWithdrawal(ctx, over.ID, "")
	assertCode(t, err, apperr.CodeBalanceLowerThanZero)

	still, err := env.store.GetTransferOut(ctx, over.ID)
	require.NoError(t, err)
	assert.False(t, still.IsSolid)

	// One transfer_out per triple: a second withdrawal against the same
	// session balance is rejected without debiting.
	second, err := withdraw("5", "w3")
	require.NoError(t, err)
	_, err = env.svc.ConfirmWithdrawal(ctx, second.ID, "")
	assertCode(t, err, apperr.CodeDuplicatedTransactionFound)

	bal, err = env.store.GetBalance(ctx, user)
	require.NoError(t, err)
	assertDec(t, "40", bal.Amount)
	txs, err = env.store.ListTransactions(ctx, model.TransactionFilter{UserID: &user})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	_, err = env.svc.ConfirmWithdrawal(ctx, 999, "")
	assertCode(t, err, apperr.CodeTransferOutNotFound)

	solid := true
	list, err := env.svc.ListTransfersOut(ctx, model.TransferOutFilter{UserID: &user, IsSolid: &solid})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)

	list, err = env.svc.ListTransfersOut(ctx, model.TransferOutFilter{SessionID: &sess.ID})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	assert.Contains(t, env.events.types(), model.EventWithdrawalConfirmed)
}
