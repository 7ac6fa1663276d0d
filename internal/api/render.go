// Package api exposes the market service over HTTP under /api/v1/market.
//
// Every response uses the envelope {"code": <status>, "data": <payload>}.
// Errors add "status": "error", "message" and "error_code", with the error
// details in "data".
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/apperr"
	"github.com/predico/market-service/internal/metrics"
)

const validationMessage = "Validation error. Please re-check your request parameters " +
	"or body fields and fix the errors mentioned in this response 'data' field."

type envelope struct {
	Code      int         `json:"code"`
	Data      interface{} `json:"data"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Code: status, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := e.Kind.Status()

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		metrics.Rejections.WithLabelValues(e.Code).Inc()
	}

	msg := e.Message
	if status == http.StatusBadRequest && e.Code == apperr.CodeValidation {
		msg = validationMessage
	}
	var details interface{}
	if len(e.Details) > 0 {
		details = e.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Code:      status,
		Data:      details,
		Status:    "error",
		Message:   msg,
		ErrorCode: e.Code,
	})
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body").WithDetail("body", err.Error())
	}
	return h.check(dst)
}

func (h *Handler) check(dst interface{}) error {
	err := h.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}
	out := apperr.Validation("invalid request body")
	for _, fe := range verrs {
		out.WithDetail(fe.Field(), []string{fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	case "gt", "gte", "min":
		return fmt.Sprintf("Ensure this value is at least %s.", fe.Param())
	case "datetime":
		return fmt.Sprintf("Date has wrong format. Use %s.", fe.Param())
	default:
		return fmt.Sprintf("Failed on the '%s' rule.", fe.Tag())
	}
}
