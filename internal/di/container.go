package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/khadamat/api/internal/platform/auth"
	"github.com/khadamat/api/internal/platform/config"
	"github.com/khadamat/api/internal/repositories"
	"github.com/khadamat/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Loyalty  services.LoyaltyService
	Catalog  services.CatalogService
	Users    services.UserService
	Activity services.ActivityLogService
	Counters services.CounterService
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	signer   services.UploadURLSigner
	events   services.OrderEventPublisher
	firebase auth.UserGetter
}

// Option customises container assembly with collaborators that are constructed
// outside the repository registry, such as storage signers and event publishers.
type Option func(*Container)

// WithUploadSigner provides the signed upload URL issuer used for order documents.
func WithUploadSigner(signer services.UploadURLSigner) Option {
	return func(c *Container) {
		c.signer = signer
	}
}

// WithOrderEventPublisher provides the publisher that emits order lifecycle events.
func WithOrderEventPublisher(events services.OrderEventPublisher) Option {
	return func(c *Container) {
		c.events = events
	}
}

// WithFirebaseUserGetter reuses an already-initialised Firebase client for
// profile lookups instead of constructing a second one.
func WithFirebaseUserGetter(getter auth.UserGetter) Option {
	return func(c *Container) {
		c.firebase = getter
	}
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	container := &Container{
		Config:       cfg,
		Repositories: reg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(container)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, container)
	if err != nil {
		return nil, err
	}
	container.Services = svc

	return container, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, container *Container) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	if activityRepo := reg.Activity(); activityRepo != nil {
		activitySvc, err := services.NewActivityLogService(services.ActivityLogServiceDeps{
			Repository: activityRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build activity log service: %w", err)
		}
		svc.Activity = activitySvc
	}

	counterRepo := reg.Counters()
	if counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	usersRepo := reg.Users()
	if usersRepo != nil {
		firebase := container.firebase
		if firebase == nil && cfg.Firebase.ProjectID != "" {
			verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
			if err != nil {
				return Services{}, fmt.Errorf("build firebase verifier: %w", err)
			}
			firebase = verifier
		}
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:    usersRepo,
			Firebase: firebase,
			Clock:    time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	catalogRepo := reg.Services()
	if catalogRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Catalog: catalogRepo,
			Clock:   time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	ledgerRepo := reg.PointsLedger()
	levelsRepo := reg.LoyaltyLevels()
	if usersRepo != nil && ledgerRepo != nil && levelsRepo != nil {
		loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
			Users:  usersRepo,
			Ledger: ledgerRepo,
			Levels: levelsRepo,
			Clock:  time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build loyalty service: %w", err)
		}
		svc.Loyalty = loyaltySvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build: services.BuildInfo{
				Environment: cfg.Security.Environment,
				StartedAt:   time.Now().UTC(),
			},
			Counters: svc.Counters,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && catalogRepo != nil && usersRepo != nil && ledgerRepo != nil && levelsRepo != nil && svc.Activity != nil && svc.Counters != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Catalog:    catalogRepo,
			Users:      usersRepo,
			Ledger:     ledgerRepo,
			Levels:     levelsRepo,
			Activity:   svc.Activity,
			Counters:   svc.Counters,
			Signer:     container.signer,
			UnitOfWork: reg,
			Clock:      time.Now,
			EarnRate:   cfg.Loyalty.EarnRate,
			Events:     container.events,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	return svc, nil
}
