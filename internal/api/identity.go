package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/market"
)

// Headers set by the authenticating gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type callerKey struct{}

// identify reads the caller forwarded by the gateway. Requests without a
// valid user id are rejected with 401.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderUserID)))
		if err != nil {
			h.writeError(w, r, apperr.Unauthorized())
			return
		}
		c := market.Caller{
			UserID: id,
			Admin:  strings.EqualFold(r.Header.Get(HeaderUserRole), "admin"),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// adminOnly rejects non-admin callers with 403.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r).Admin {
			h.writeError(w, r, apperr.Forbidden())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFrom(r *http.Request) market.Caller {
	c, _ := r.Context().Value(callerKey{}).(market.Caller)
	return c
}
