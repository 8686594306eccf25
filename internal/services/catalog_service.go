package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/repositories"
)

const serviceIDPrefix = "svc_"

var (
	// ErrServiceNotFound indicates the catalog service does not exist.
	ErrServiceNotFound = errors.New("catalog: service not found")
	// ErrCatalogInvalidInput indicates invalid catalog mutation data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogConflict indicates duplicate catalog writes.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.ServiceRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	repo  repositories.ServiceRepository
	clock func() time.Time
	newID func() string
}

// NewCatalogService constructs the purchasable service catalog.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &catalogService{
		repo:  deps.Catalog,
		clock: func() time.Time { return clock().UTC() },
		newID: newID,
	}, nil
}

// ListServices returns a catalog page. Customer-facing callers pass
// ActiveOnly; back-office listings see inactive entries as well.
func (s *catalogService) ListServices(ctx context.Context, filter ServiceListFilter) (domain.CursorPage[Service], error) {
	page, err := s.repo.List(ctx, repositories.ServiceListFilter{
		Category:   strings.ToLower(strings.TrimSpace(filter.Category)),
		ActiveOnly: filter.ActiveOnly,
		Pagination: domain.Pagination{PageSize: filter.PageSize, PageToken: filter.PageToken},
	})
	if err != nil {
		return domain.CursorPage[Service]{}, mapCatalogRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetService(ctx context.Context, serviceID string) (Service, error) {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return Service{}, fmt.Errorf("%w: service id is required", ErrCatalogInvalidInput)
	}
	svc, err := s.repo.FindByID(ctx, serviceID)
	if err != nil {
		return Service{}, mapCatalogRepositoryError(err)
	}
	return svc, nil
}

// CreateService adds a catalog entry. Both Arabic and English names are
// required because the storefront renders either locale.
func (s *catalogService) CreateService(ctx context.Context, cmd UpsertServiceCommand) (Service, error) {
	svc, err := s.buildService(cmd)
	if err != nil {
		return Service{}, err
	}
	now := s.clock()
	svc.ID = serviceIDPrefix + s.newID()
	if id := strings.TrimSpace(cmd.ServiceID); id != "" {
		svc.ID = id
	}
	svc.CreatedAt = now
	svc.UpdatedAt = now

	if err := s.repo.Insert(ctx, svc); err != nil {
		return Service{}, mapCatalogRepositoryError(err)
	}
	return svc, nil
}

// UpdateService rewrites an existing catalog entry.
func (s *catalogService) UpdateService(ctx context.Context, cmd UpsertServiceCommand) (Service, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return Service{}, fmt.Errorf("%w: service id is required", ErrCatalogInvalidInput)
	}
	current, err := s.repo.FindByID(ctx, serviceID)
	if err != nil {
		return Service{}, mapCatalogRepositoryError(err)
	}
	svc, err := s.buildService(cmd)
	if err != nil {
		return Service{}, err
	}
	svc.ID = current.ID
	svc.CreatedAt = current.CreatedAt
	svc.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, svc); err != nil {
		return Service{}, mapCatalogRepositoryError(err)
	}
	return svc, nil
}

// SetServiceActive toggles storefront visibility without touching the
// rest of the entry. Existing orders keep their denormalised snapshot.
func (s *catalogService) SetServiceActive(ctx context.Context, serviceID string, active bool) (Service, error) {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return Service{}, fmt.Errorf("%w: service id is required", ErrCatalogInvalidInput)
	}
	svc, err := s.repo.FindByID(ctx, serviceID)
	if err != nil {
		return Service{}, mapCatalogRepositoryError(err)
	}
	if svc.Active == active {
		return svc, nil
	}
	svc.Active = active
	svc.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, svc); err != nil {
		return Service{}, mapCatalogRepositoryError(err)
	}
	return svc, nil
}

func (s *catalogService) buildService(cmd UpsertServiceCommand) (Service, error) {
	nameAr := strings.TrimSpace(cmd.NameAr)
	nameEn := strings.TrimSpace(cmd.NameEn)
	if nameAr == "" || nameEn == "" {
		return Service{}, fmt.Errorf("%w: arabic and english names are required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return Service{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.LoyaltyPoints < 0 {
		return Service{}, fmt.Errorf("%w: loyalty points must not be negative", ErrCatalogInvalidInput)
	}
	return Service{
		Name:          domain.NewLocalizedText(nameAr, nameEn),
		Description:   domain.NewLocalizedText(strings.TrimSpace(cmd.DescriptionAr), strings.TrimSpace(cmd.DescriptionEn)),
		Category:      strings.ToLower(strings.TrimSpace(cmd.Category)),
		Price:         cmd.Price,
		LoyaltyPoints: cmd.LoyaltyPoints,
		Active:        cmd.Active,
	}, nil
}

func mapCatalogRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrServiceNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		}
	}
	return err
}
