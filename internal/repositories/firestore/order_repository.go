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

const ordersCollection = "orders"

// OrderRepository persists order aggregates including their timeline and
// documents. Mutations join the ambient Firestore transaction when present.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(docRef, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Set(docRef, doc); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	}
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// SoftDelete marks the order as deleted while retaining the record for audit/history.
func (r *OrderRepository) SoftDelete(ctx context.Context, orderID string, deletedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	deletedAt = deletedAt.UTC()
	updates := []firestore.Update{
		{Path: "deleted", Value: true},
		{Path: "deletedAt", Value: deletedAt},
		{Path: "updatedAt", Value: deletedAt},
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Update(docRef, updates); err != nil {
			return pfirestore.WrapError("orders.soft_delete", err)
		}
		return nil
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("orders.soft_delete", err)
	}
	return nil
}

// FindByID fetches a single order, including soft-deleted records. Callers
// decide whether a deleted order is visible.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		snapshot, err := tx.Get(docRef)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		return decodeOrderDocument(orderID, doc, snapshot.CreateTime, snapshot.UpdateTime), nil
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	orderNumber := strings.TrimSpace(filter.OrderNumber)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userUid", "==", userID)
		}
		if filter.ClientStage != nil {
			q = q.Where("clientStage", "==", string(*filter.ClientStage))
		}
		if orderNumber != "" {
			q = q.Where("orderNumber", "==", orderNumber)
		}
		if !filter.IncludeDeleted {
			q = q.Where("deleted", "==", false)
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
		return domain.CursorPage[domain.Order]{}, err
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

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber          string                  `firestore:"orderNumber"`
	UserRef              string                  `firestore:"userRef"`
	UserUID              string                  `firestore:"userUid"`
	ServiceID            string                  `firestore:"serviceId"`
	ServiceName          map[string]string       `firestore:"serviceName,omitempty"`
	Price                int64                   `firestore:"price"`
	PaymentMethod        string                  `firestore:"paymentMethod,omitempty"`
	Status               string                  `firestore:"status"`
	ClientStage          string                  `firestore:"clientStage"`
	Timeline             []timelineStepDocument  `firestore:"timeline"`
	Documents            []orderFileDocument     `firestore:"documents"`
	Note                 string                  `firestore:"note,omitempty"`
	NotificationsEnabled bool                    `firestore:"notificationsEnabled"`
	EarnedPoints         int64                   `firestore:"earnedPoints"`
	RedeemedPoints       int64                   `firestore:"redeemedPoints"`
	Deleted              bool                    `firestore:"deleted"`
	CreatedAt            time.Time               `firestore:"createdAt"`
	UpdatedAt            time.Time               `firestore:"updatedAt"`
	DeletedAt            *time.Time              `firestore:"deletedAt,omitempty"`
}

type timelineStepDocument struct {
	Key   string     `firestore:"key"`
	Label string     `firestore:"label"`
	Done  bool       `firestore:"done"`
	Date  *time.Time `firestore:"date,omitempty"`
	Note  string     `firestore:"note,omitempty"`
}

type orderFileDocument struct {
	ID         string     `firestore:"id"`
	Name       string     `firestore:"name"`
	URL        string     `firestore:"url"`
	Status     string     `firestore:"status"`
	Notes      string     `firestore:"notes,omitempty"`
	UploadedAt time.Time  `firestore:"uploadedAt"`
	ReviewedAt *time.Time `firestore:"reviewedAt,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:          strings.TrimSpace(order.OrderNumber),
		UserRef:              userDocPath(order.UserID),
		UserUID:              strings.TrimSpace(order.UserID),
		ServiceID:            strings.TrimSpace(order.ServiceID),
		ServiceName:          map[string]string(order.ServiceName.Clone()),
		Price:                order.Price,
		PaymentMethod:        strings.TrimSpace(order.PaymentMethod),
		Status:               string(order.Status),
		ClientStage:          string(order.ClientStage),
		Timeline:             encodeTimeline(order.Timeline),
		Documents:            encodeOrderFiles(order.Documents),
		Note:                 strings.TrimSpace(order.Note),
		NotificationsEnabled: order.NotificationsEnabled,
		EarnedPoints:         order.EarnedPoints,
		RedeemedPoints:       order.RedeemedPoints,
		Deleted:              order.DeletedAt != nil,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		DeletedAt:            normalizeTimePointer(order.DeletedAt),
	}
	return doc
}

func encodeTimeline(steps []domain.TimelineStep) []timelineStepDocument {
	if len(steps) == 0 {
		return nil
	}
	docs := make([]timelineStepDocument, 0, len(steps))
	for _, step := range steps {
		docs = append(docs, timelineStepDocument{
			Key:   string(step.Key),
			Label: strings.TrimSpace(step.Label),
			Done:  step.Done,
			Date:  normalizeTimePointer(step.Date),
			Note:  strings.TrimSpace(step.Note),
		})
	}
	return docs
}

func encodeOrderFiles(files []domain.OrderDocument) []orderFileDocument {
	docs := make([]orderFileDocument, 0, len(files))
	for _, file := range files {
		docs = append(docs, orderFileDocument{
			ID:         strings.TrimSpace(file.ID),
			Name:       strings.TrimSpace(file.Name),
			URL:        strings.TrimSpace(file.URL),
			Status:     string(file.Status),
			Notes:      strings.TrimSpace(file.Notes),
			UploadedAt: file.UploadedAt.UTC(),
			ReviewedAt: normalizeTimePointer(file.ReviewedAt),
		})
	}
	return docs
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	order := domain.Order{
		ID:                   strings.TrimSpace(id),
		OrderNumber:          strings.TrimSpace(doc.OrderNumber),
		UserID:               extractOwner(doc.UserRef, doc.UserUID),
		ServiceID:            strings.TrimSpace(doc.ServiceID),
		ServiceName:          domain.LocalizedText(doc.ServiceName).Clone(),
		Price:                doc.Price,
		PaymentMethod:        strings.TrimSpace(doc.PaymentMethod),
		Status:               domain.OrderStatus(strings.TrimSpace(doc.Status)),
		ClientStage:          domain.ClientStage(strings.TrimSpace(doc.ClientStage)),
		Timeline:             decodeTimeline(doc.Timeline),
		Documents:            decodeOrderFiles(doc.Documents),
		Note:                 strings.TrimSpace(doc.Note),
		NotificationsEnabled: doc.NotificationsEnabled,
		EarnedPoints:         doc.EarnedPoints,
		RedeemedPoints:       doc.RedeemedPoints,
		CreatedAt:            chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:            chooseTime(doc.UpdatedAt, updatedAt),
		DeletedAt:            normalizeTimePointer(doc.DeletedAt),
	}
	return order
}

func decodeTimeline(docs []timelineStepDocument) []domain.TimelineStep {
	if len(docs) == 0 {
		return nil
	}
	steps := make([]domain.TimelineStep, 0, len(docs))
	for _, doc := range docs {
		steps = append(steps, domain.TimelineStep{
			Key:   domain.TimelineStepKey(strings.TrimSpace(doc.Key)),
			Label: strings.TrimSpace(doc.Label),
			Done:  doc.Done,
			Date:  normalizeTimePointer(doc.Date),
			Note:  strings.TrimSpace(doc.Note),
		})
	}
	return steps
}

func decodeOrderFiles(docs []orderFileDocument) []domain.OrderDocument {
	if len(docs) == 0 {
		return nil
	}
	files := make([]domain.OrderDocument, 0, len(docs))
	for _, doc := range docs {
		files = append(files, domain.OrderDocument{
			ID:         strings.TrimSpace(doc.ID),
			Name:       strings.TrimSpace(doc.Name),
			URL:        strings.TrimSpace(doc.URL),
			Status:     domain.DocumentStatus(strings.TrimSpace(doc.Status)),
			Notes:      strings.TrimSpace(doc.Notes),
			UploadedAt: doc.UploadedAt.UTC(),
			ReviewedAt: normalizeTimePointer(doc.ReviewedAt),
		})
	}
	return files
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	if value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func userDocPath(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "/users/") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "users/") {
		return "/" + trimmed
	}
	return "/users/" + trimmed
}

func extractOwner(ownerRef string, ownerUID string) string {
	if trimmed := strings.TrimSpace(ownerUID); trimmed != "" {
		return trimmed
	}
	ref := strings.TrimSpace(ownerRef)
	ref = strings.TrimPrefix(ref, "/")
	const prefix = "users/"
	if strings.HasPrefix(ref, prefix) {
		return ref[len(prefix):]
	}
	return ref
}

