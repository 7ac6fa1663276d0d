package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predico/market-service/internal/model"
)

// Postgres reads the user service tables from the shared database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a registry backed by the user service tables.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) WalletAddress(ctx context.Context, userID uuid.UUID) (string, error) {
	var addr string
	err := p.pool.QueryRow(ctx,
		`SELECT wallet_address FROM user_wallet_address WHERE user_id = $1`, userID).
		Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user wallet address: %w", err)
	}
	return addr, nil
}

func (p *Postgres) Resource(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	var r model.Resource
	var typ string
	err := p.pool.QueryRow(ctx,
		`SELECT id, user_id, name, type, to_forecast FROM user_resources WHERE id = $1`, id).
		Scan(&r.ID, &r.UserID, &r.Name, &typ, &r.ToForecast)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user resource: %w", err)
	}
	r.Type = resourceType(typ)
	return &r, nil
}

// resourceType maps the user service's stored type to the market's.
func resourceType(s string) model.ResourceType {
	switch s {
	case "measurements", string(model.ResourceMeasurement):
		return model.ResourceMeasurement
	default:
		return model.ResourceFeature
	}
}
