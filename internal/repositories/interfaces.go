package repositories

import (
	"context"
	"time"

	domain "github.com/khadamat/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Services() ServiceRepository
	Users() UserRepository
	PointsLedger() PointsLedgerRepository
	LoyaltyLevels() LoyaltyLevelRepository
	Activity() ActivityRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides query helpers for
// users and admins. Reads never surface soft-deleted orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	SoftDelete(ctx context.Context, orderID string, deletedAt time.Time) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ServiceRepository stores the purchasable service catalog.
type ServiceRepository interface {
	Insert(ctx context.Context, svc domain.Service) error
	Update(ctx context.Context, svc domain.Service) error
	FindByID(ctx context.Context, serviceID string) (domain.Service, error)
	List(ctx context.Context, filter ServiceListFilter) (domain.CursorPage[domain.Service], error)
}

// UserRepository stores user profiles including the loyalty balance projection.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
	UpdateLoyalty(ctx context.Context, userID string, balance domain.LoyaltyBalance, updatedAt time.Time) error
	EnsureExists(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// PointsLedgerRepository appends immutable loyalty ledger entries. Entries
// are never updated or deleted.
type PointsLedgerRepository interface {
	Append(ctx context.Context, entry domain.PointsEntry) error
	List(ctx context.Context, filter PointsListFilter) (domain.CursorPage[domain.PointsEntry], error)
	SumByUser(ctx context.Context, userID string) (earned int64, redeemed int64, err error)
}

// LoyaltyLevelRepository stores the ordered loyalty tier table.
type LoyaltyLevelRepository interface {
	Insert(ctx context.Context, level domain.LoyaltyLevel) error
	Update(ctx context.Context, level domain.LoyaltyLevel) error
	Delete(ctx context.Context, levelID string) error
	FindByID(ctx context.Context, levelID string) (domain.LoyaltyLevel, error)
	ListOrdered(ctx context.Context) ([]domain.LoyaltyLevel, error)
}

// ActivityRepository persists immutable activity log entries.
type ActivityRepository interface {
	Append(ctx context.Context, entry domain.ActivityEntry) error
	List(ctx context.Context, filter ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID         string
	ClientStage    *domain.ClientStage
	OrderNumber    string
	IncludeDeleted bool
	Pagination     domain.Pagination
}

type ServiceListFilter struct {
	Category   string
	ActiveOnly bool
	Pagination domain.Pagination
}

type PointsListFilter struct {
	UserID     string
	OrderID    string
	Type       *domain.PointsEntryType
	Pagination domain.Pagination
}

type ActivityListFilter struct {
	UserID     string
	OrderID    string
	Action     *domain.ActivityAction
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
