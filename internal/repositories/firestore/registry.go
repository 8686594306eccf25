package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/khadamat/api/internal/platform/firestore"
	"github.com/khadamat/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract. RunInTx spans all of them: repository
// calls made inside the callback join one Firestore transaction.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	services *ServiceRepository
	users    *UserRepository
	ledger   *PointsLedgerRepository
	levels   *LoyaltyLevelRepository
	activity *ActivityRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository installs the health repository exposed by the registry.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	reg := &Registry{provider: provider}

	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: orders: %w", err)
	}
	if reg.services, err = NewServiceRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: services: %w", err)
	}
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: users: %w", err)
	}
	if reg.ledger, err = NewPointsLedgerRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: ledger: %w", err)
	}
	if reg.levels, err = NewLoyaltyLevelRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: levels: %w", err)
	}
	if reg.activity, err = NewActivityRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: activity: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: counters: %w", err)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn within a single Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry: not initialised")
	}
	return r.provider.RunInTx(ctx, fn)
}

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Services implements repositories.Registry.
func (r *Registry) Services() repositories.ServiceRepository { return r.services }

// Users implements repositories.Registry.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// PointsLedger implements repositories.Registry.
func (r *Registry) PointsLedger() repositories.PointsLedgerRepository { return r.ledger }

// LoyaltyLevels implements repositories.Registry.
func (r *Registry) LoyaltyLevels() repositories.LoyaltyLevelRepository { return r.levels }

// Activity implements repositories.Registry.
func (r *Registry) Activity() repositories.ActivityRepository { return r.activity }

// Counters implements repositories.Registry.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health implements repositories.Registry.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

var _ repositories.Registry = (*Registry)(nil)
