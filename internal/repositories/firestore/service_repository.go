package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/khadamat/api/internal/domain"
	pfirestore "github.com/khadamat/api/internal/platform/firestore"
	"github.com/khadamat/api/internal/repositories"
)

const servicesCollection = "services"

// ServiceRepository persists the purchasable catalog of services.
type ServiceRepository struct {
	base *pfirestore.BaseRepository[serviceDocument]
}

// NewServiceRepository constructs a Firestore-backed service repository.
func NewServiceRepository(provider *pfirestore.Provider) (*ServiceRepository, error) {
	if provider == nil {
		return nil, errors.New("service repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[serviceDocument](provider, servicesCollection, nil, nil)
	return &ServiceRepository{base: base}, nil
}

// Insert stores a new catalog entry. The ID must be unique.
func (r *ServiceRepository) Insert(ctx context.Context, svc domain.Service) error {
	if r == nil || r.base == nil {
		return errors.New("service repository not initialised")
	}
	serviceID := strings.TrimSpace(svc.ID)
	if serviceID == "" {
		return errors.New("service repository: service id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, serviceID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeServiceDocument(svc)); err != nil {
		return pfirestore.WrapError("services.insert", err)
	}
	return nil
}

// Update replaces the persisted catalog entry.
func (r *ServiceRepository) Update(ctx context.Context, svc domain.Service) error {
	if r == nil || r.base == nil {
		return errors.New("service repository not initialised")
	}
	serviceID := strings.TrimSpace(svc.ID)
	if serviceID == "" {
		return errors.New("service repository: service id is required")
	}
	if _, err := r.base.Set(ctx, serviceID, encodeServiceDocument(svc)); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single catalog entry.
func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	if r == nil || r.base == nil {
		return domain.Service{}, errors.New("service repository not initialised")
	}
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return domain.Service{}, errors.New("service repository: service id is required")
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		docRef, err := r.base.DocumentRef(ctx, serviceID)
		if err != nil {
			return domain.Service{}, err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return domain.Service{}, pfirestore.WrapError("services.get", err)
		}
		var doc serviceDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Service{}, fmt.Errorf("firestore services decode %s: %w", serviceID, err)
		}
		return decodeServiceDocument(serviceID, doc, snap.CreateTime, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, serviceID)
	if err != nil {
		return domain.Service{}, err
	}
	return decodeServiceDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns catalog entries matching the filter ordered by most recent creation.
func (r *ServiceRepository) List(ctx context.Context, filter repositories.ServiceListFilter) (domain.CursorPage[domain.Service], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Service]{}, errors.New("service repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Service]{}, fmt.Errorf("service repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	category := strings.ToLower(strings.TrimSpace(filter.Category))

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category != "" {
			q = q.Where("category", "==", category)
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Service]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Service, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeServiceDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Service]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type serviceDocument struct {
	Name          map[string]string `firestore:"name"`
	Description   map[string]string `firestore:"description,omitempty"`
	Category      string            `firestore:"category,omitempty"`
	Price         int64             `firestore:"price"`
	LoyaltyPoints int64             `firestore:"loyaltyPoints"`
	Active        bool              `firestore:"active"`
	CreatedAt     time.Time         `firestore:"createdAt"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

func encodeServiceDocument(svc domain.Service) serviceDocument {
	return serviceDocument{
		Name:          map[string]string(svc.Name.Clone()),
		Description:   map[string]string(svc.Description.Clone()),
		Category:      strings.ToLower(strings.TrimSpace(svc.Category)),
		Price:         svc.Price,
		LoyaltyPoints: svc.LoyaltyPoints,
		Active:        svc.Active,
		CreatedAt:     svc.CreatedAt.UTC(),
		UpdatedAt:     svc.UpdatedAt.UTC(),
	}
}

func decodeServiceDocument(id string, doc serviceDocument, createdAt, updatedAt time.Time) domain.Service {
	return domain.Service{
		ID:            strings.TrimSpace(id),
		Name:          domain.LocalizedText(doc.Name).Clone(),
		Description:   domain.LocalizedText(doc.Description).Clone(),
		Category:      strings.TrimSpace(doc.Category),
		Price:         doc.Price,
		LoyaltyPoints: doc.LoyaltyPoints,
		Active:        doc.Active,
		CreatedAt:     chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:     chooseTime(doc.UpdatedAt, updatedAt),
	}
}

