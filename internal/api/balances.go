package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
)

type postTransactionRequest struct {
	User            uuid.UUID        `json:"user" validate:"required"`
	MarketSession   int64            `json:"market_session" validate:"required,gt=0"`
	Resource        uuid.UUID        `json:"resource" validate:"required"`
	TransactionType string           `json:"transaction_type" validate:"required,oneof=payment revenue transfer_in transfer_out"`
	Amount          *decimal.Decimal `json:"amount" validate:"required"`
}

type transferOutRequest struct {
	User              uuid.UUID        `json:"user" validate:"required"`
	MarketSession     int64            `json:"market_session" validate:"required,gt=0"`
	Resource          uuid.UUID        `json:"resource" validate:"required"`
	Amount            *decimal.Decimal `json:"amount" validate:"required"`
	UserWalletAddress string           `json:"user_wallet_address" validate:"required"`
	TangleMsgID       string           `json:"tangle_msg_id" validate:"required"`
}

type confirmTransferOutRequest struct {
	WithdrawTransferID *int64 `json:"withdraw_transfer_id" validate:"required"`
	TangleMsgID        string `json:"tangle_msg_id"`
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.TransactionFilter{
		SessionID:  q.Int64("market_session"),
		ResourceID: q.UUID("resource"),
		UserID:     q.UUID("user"),
	}
	if v, ok := q.raw("transaction_type"); ok {
		tt, err := model.ParseTransactionType(v)
		if err != nil {
			q.fail("transaction_type", err.Error())
		}
		f.Type = &tt
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	txs, err := h.svc.ListTransactions(r.Context(), callerFrom(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, txs)
}

func (h *Handler) listSessionBalances(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.SessionBalanceFilter{
		SessionID:  q.Int64("market_session"),
		ResourceID: q.UUID("resource"),
		UserID:     q.UUID("user"),
		ByResource: true,
	}
	if by := q.Bool("balance_by_resource"); by != nil {
		f.ByResource = *by
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, caller := r.Context(), callerFrom(r)
	if f.ByResource {
		rows, err := h.svc.ListSessionBalances(ctx, caller, f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, rows)
		return
	}
	sums, err := h.svc.SummarizeSessionBalances(ctx, caller, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sums)
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req postTransactionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	posting, err := h.svc.PostTransaction(r.Context(), market.PostTransactionInput{
		SessionID:  req.MarketSession,
		UserID:     req.User,
		ResourceID: req.Resource,
		Amount:     *req.Amount,
		Type:       model.TransactionType(req.TransactionType),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, posting)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.BalanceFilter{
		UserID:     q.UUID("user"),
		BalanceGTE: q.Decimal("balance__gte"),
		BalanceLTE: q.Decimal("balance__lte"),
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.ListBalances(r.Context(), callerFrom(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) listTransfersOut(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.TransferOutFilter{
		SessionID: q.Int64("market_session"),
		UserID:    q.UUID("user"),
		IsSolid:   q.Bool("is_solid"),
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.ListTransfersOut(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req transferOutRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.RequestWithdrawal(r.Context(), market.WithdrawalInput{
		SessionID:         req.MarketSession,
		UserID:            req.User,
		ResourceID:        req.Resource,
		Amount:            *req.Amount,
		UserWalletAddress: req.UserWalletAddress,
		TangleMsgID:       req.TangleMsgID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

func (h *Handler) confirmWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req confirmTransferOutRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.ConfirmWithdrawal(r.Context(), *req.WithdrawTransferID, req.TangleMsgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}
