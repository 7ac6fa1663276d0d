// Package registry reads the user-owned data the market depends on: a
// user's own wallet address and the resources a user has registered. Both
// are maintained by the user service; the market only reads them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/predico/market-service/internal/model"
)

// ErrNotFound is returned when the user or resource is unknown.
var ErrNotFound = errors.New("registry: not found")

// Registry looks up user data owned by the user service.
type Registry interface {
	// WalletAddress returns the user's registered IOTA wallet address.
	WalletAddress(ctx context.Context, userID uuid.UUID) (string, error)
	// Resource returns a registered resource by id.
	Resource(ctx context.Context, id uuid.UUID) (*model.Resource, error)
}

// Memory is an in-memory Registry for tests and development.
type Memory struct {
	mu        sync.RWMutex
	wallets   map[uuid.UUID]string
	resources map[uuid.UUID]model.Resource
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		wallets:   make(map[uuid.UUID]string),
		resources: make(map[uuid.UUID]model.Resource),
	}
}

// SetWalletAddress registers a user's wallet address.
func (m *Memory) SetWalletAddress(userID uuid.UUID, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[userID] = address
}

// AddResource registers a resource.
func (m *Memory) AddResource(r model.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

// SeedUser is a user loaded into a Memory registry from configuration.
type SeedUser struct {
	ID            string         `yaml:"id"`
	WalletAddress string         `yaml:"wallet_address"`
	Resources     []SeedResource `yaml:"resources"`
}

// SeedResource is a resource owned by a SeedUser.
type SeedResource struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	ToForecast bool   `yaml:"to_forecast"`
}

// Seed registers users, their wallet addresses and their resources.
func (m *Memory) Seed(users []SeedUser) error {
	for i, u := range users {
		userID, err := uuid.Parse(u.ID)
		if err != nil {
			return fmt.Errorf("seed user %d: %w", i, err)
		}
		if u.WalletAddress != "" {
			m.SetWalletAddress(userID, u.WalletAddress)
		}
		for j, r := range u.Resources {
			id, err := uuid.Parse(r.ID)
			if err != nil {
				return fmt.Errorf("seed user %s resource %d: %w", userID, j, err)
			}
			m.AddResource(model.Resource{
				ID:         id,
				UserID:     userID,
				Name:       r.Name,
				Type:       resourceType(r.Type),
				ToForecast: r.ToForecast,
			})
		}
	}
	return nil
}

func (m *Memory) WalletAddress(_ context.Context, userID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.wallets[userID]
	if !ok {
		return "", ErrNotFound
	}
	return addr, nil
}

func (m *Memory) Resource(_ context.Context, id uuid.UUID) (*model.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}
