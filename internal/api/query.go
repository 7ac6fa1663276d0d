package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predico/market-service/internal/apperr"
)

// query reads optional typed query parameters, keeping the first error.
type query struct {
	r   *http.Request
	err *apperr.Error
}

func newQuery(r *http.Request) *query {
	return &query{r: r}
}

func (q *query) raw(name string) (string, bool) {
	v := strings.TrimSpace(q.r.URL.Query().Get(name))
	return v, v != ""
}

func (q *query) fail(name, msg string) {
	if q.err == nil {
		q.err = apperr.Validation("invalid query parameter")
	}
	q.err.WithDetail(name, []string{msg})
}

func (q *query) Int64(name string) *int64 {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		q.fail(name, "A valid integer is required.")
		return nil
	}
	return &n
}

func (q *query) UUID(name string) *uuid.UUID {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		q.fail(name, "Must be a valid UUID.")
		return nil
	}
	return &id
}

func (q *query) Bool(name string) *bool {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.fail(name, "Must be a valid boolean.")
		return nil
	}
	return &b
}

func (q *query) Decimal(name string) *decimal.Decimal {
	v, ok := q.raw(name)
	if !ok {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		q.fail(name, "A valid number is required.")
		return nil
	}
	return &d
}

func (q *query) Err() error {
	if q.err == nil {
		return nil
	}
	return q.err
}
