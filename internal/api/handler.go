package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/model"
)

// Handler serves the market HTTP API.
type Handler struct {
	svc      *market.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a Handler over svc.
func NewHandler(svc *market.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, validate: newValidator(), logger: logger}
}

// Routes returns the router to mount at /api/v1/market.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.identify)

	r.Get("/wallet-address", h.getWalletAddress)
	r.With(h.adminOnly).Post("/wallet-address", h.registerWalletAddress)
	r.With(h.adminOnly).Put("/wallet-address", h.replaceWalletAddress)

	r.Get("/session", h.listSessions)
	r.With(h.adminOnly).Post("/session", h.createSession)
	r.Get("/session/{sessionID}", h.getSession)
	r.With(h.adminOnly).Patch("/session/{sessionID}", h.updateSession)

	r.Get("/bid", h.listBids)
	r.Post("/bid", h.createBid)
	r.Patch("/bid/{bidID}", h.attachPayment)
	r.With(h.adminOnly).Post("/validate/bid-payment", h.confirmPayment)

	r.Get("/session-transactions", h.listTransactions)
	r.Get("/session-balance", h.listSessionBalances)
	r.With(h.adminOnly).Post("/session-balance", h.postTransaction)
	r.Get("/balance", h.listBalances)

	r.Group(func(r chi.Router) {
		r.Use(h.adminOnly)
		r.Get("/transfer-out", h.listTransfersOut)
		r.Post("/transfer-out", h.requestWithdrawal)
		r.Put("/transfer-out", h.confirmWithdrawal)

		r.Get("/session-fee", h.getSessionFee)
		r.Post("/session-fee", h.registerSessionFee)
		r.Get("/price-weight", h.listPriceWeights)
		r.Post("/price-weight", h.addPriceWeights)
	})
	return r
}

// --- Wallet address ---

type walletAddressRequest struct {
	WalletAddress string `json:"wallet_address" validate:"required"`
}

func (h *Handler) getWalletAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.svc.GetWalletAddress(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, addr)
}

func (h *Handler) registerWalletAddress(w http.ResponseWriter, r *http.Request) {
	var req walletAddressRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	addr, err := h.svc.RegisterWalletAddress(r.Context(), req.WalletAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, addr)
}

func (h *Handler) replaceWalletAddress(w http.ResponseWriter, r *http.Request) {
	var req walletAddressRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	addr, err := h.svc.ReplaceWalletAddress(r.Context(), req.WalletAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, addr)
}

// --- Sessions ---

type createSessionRequest struct {
	SessionNumber *int            `json:"session_number" validate:"omitempty,gte=0"`
	SessionDate   string          `json:"session_date" validate:"omitempty,datetime=2006-01-02"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	BMin          decimal.Decimal `json:"b_min"`
	BMax          decimal.Decimal `json:"b_max"`
	NPriceSteps   int             `json:"n_price_steps" validate:"gte=0"`
	Delta         decimal.Decimal `json:"delta"`
}

type updateSessionRequest struct {
	Status      *string          `json:"status" validate:"omitempty,oneof=staged open closed running finished"`
	MarketPrice *decimal.Decimal `json:"market_price"`
	BMin        *decimal.Decimal `json:"b_min"`
	BMax        *decimal.Decimal `json:"b_max"`
	NPriceSteps *int             `json:"n_price_steps" validate:"omitempty,gte=0"`
	Delta       *decimal.Decimal `json:"delta"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.SessionFilter{ID: q.Int64("market_session")}
	if latest := q.Bool("latest_only"); latest != nil {
		f.LatestOnly = *latest
	}
	if v, ok := q.raw("status"); ok {
		st, err := model.ParseSessionStatus(v)
		if err != nil {
			q.fail("status", err.Error())
		}
		f.Status = &st
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessions)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := market.CreateSessionInput{
		SessionNumber: req.SessionNumber,
		MarketPrice:   req.MarketPrice,
		BMin:          req.BMin,
		BMax:          req.BMax,
		NPriceSteps:   req.NPriceSteps,
		Delta:         req.Delta,
	}
	if req.SessionDate != "" {
		// Format checked by the validator.
		date, _ := time.Parse(time.DateOnly, req.SessionDate)
		in.SessionDate = &date
	}

	sess, err := h.svc.CreateSession(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, sess)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sess, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := market.UpdateSessionInput{
		MarketPrice: req.MarketPrice,
		BMin:        req.BMin,
		BMax:        req.BMax,
		NPriceSteps: req.NPriceSteps,
		Delta:       req.Delta,
	}
	if req.Status != nil {
		st := model.SessionStatus(*req.Status)
		in.Status = &st
	}

	sess, err := h.svc.UpdateSession(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

// --- Session fee & price weights ---

type sessionFeeRequest struct {
	MarketSession int64            `json:"market_session" validate:"required,gt=0"`
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
}

type priceWeightRequest struct {
	MarketSession int64             `json:"market_session" validate:"required,gt=0"`
	WeightsP      []decimal.Decimal `json:"weights_p" validate:"required,min=1"`
}

func (h *Handler) getSessionFee(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	id := q.Int64("market_session")
	if id == nil && q.Err() == nil {
		q.fail("market_session", "This field is required.")
	}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}
	fee, err := h.svc.GetSessionFee(r.Context(), *id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, fee)
}

func (h *Handler) registerSessionFee(w http.ResponseWriter, r *http.Request) {
	var req sessionFeeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fee, err := h.svc.RegisterSessionFee(r.Context(), req.MarketSession, *req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, fee)
}

func (h *Handler) listPriceWeights(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	f := model.PriceWeightFilter{SessionID: q.Int64("market_session")}
	if err := q.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.ListPriceWeights(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (h *Handler) addPriceWeights(w http.ResponseWriter, r *http.Request) {
	var req priceWeightRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.AddPriceWeights(r.Context(), req.MarketSession, req.WeightsP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, out)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v := chi.URLParam(r, name)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperr.Validation("invalid path parameter").WithDetail(name, v)
	}
	return n, nil
}
