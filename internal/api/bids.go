package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
)

type createBidRequest struct {
	MarketSession int64            `json:"market_session" validate:"required,gt=0"`
	Resource      uuid.UUID        `json:"resource" validate:"required"`
	BidPrice      *decimal.Decimal `json:"bid_price" validate:"required"`
	MaxPayment    *decimal.Decimal `json:"max_payment" validate:"required"`
	GainFunc      string           `json:"gain_func" validate:"required"`
}

type tangleMessageRequest struct {
	TangleMsgID string `json:"tangle_msg_id" validate:"required"`
}

func (h *Handler) listBids(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.BidFilter{
		SessionID:  q.Int64("market_session"),
		ResourceID: q.UUID("resource"),
		UserID:     q.UUID("user"),
		Confirmed:  q.Bool("confirmed"),
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	bids, err := h.svc.ListBids(r.Context(), callerFrom(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, bids)
}

func (h *Handler) createBid(w http.ResponseWriter, r *http.Request) {
	var req createBidRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.svc.CreateBid(r.Context(), callerFrom(r), market.CreateBidInput{
		SessionID:  req.MarketSession,
		ResourceID: req.Resource,
		BidPrice:   *req.BidPrice,
		MaxPayment: *req.MaxPayment,
		GainFunc:   model.GainFunc(req.GainFunc),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, receipt)
}

func (h *Handler) attachPayment(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "bidID")
	bidID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, r, apperr.Validation("invalid path parameter").WithDetail("bid_id", raw))
		return
	}
	var req tangleMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	receipt, err := h.svc.AttachPayment(r.Context(), callerFrom(r), bidID, req.TangleMsgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, receipt)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req tangleMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	conf, err := h.svc.ConfirmPayment(r.Context(), req.TangleMsgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, conf)
}
