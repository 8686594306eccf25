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

const activityCollection = "activityLogs"

// ActivityRepository persists append-only activity log entries.
type ActivityRepository struct {
	base *pfirestore.BaseRepository[activityDocument]
}

// NewActivityRepository constructs a Firestore-backed activity repository.
func NewActivityRepository(provider *pfirestore.Provider) (*ActivityRepository, error) {
	if provider == nil {
		return nil, errors.New("activity repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[activityDocument](provider, activityCollection, nil, nil)
	return &ActivityRepository{base: base}, nil
}

// Append stores a new activity entry, joining the ambient transaction when
// present so the entry commits with the transition it records.
func (r *ActivityRepository) Append(ctx context.Context, entry domain.ActivityEntry) error {
	if r == nil || r.base == nil {
		return errors.New("activity repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return errors.New("activity repository: entry id is required")
	}
	if strings.TrimSpace(string(entry.Action)) == "" {
		return errors.New("activity repository: action is required")
	}

	docRef, err := r.base.DocumentRef(ctx, entryID)
	if err != nil {
		return err
	}
	doc := encodeActivityDocument(entry)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(docRef, doc); err != nil {
			return pfirestore.WrapError("activity.append", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("activity.append", err)
	}
	return nil
}

// List returns activity entries matching the filter, newest first.
func (r *ActivityRepository) List(ctx context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.ActivityEntry]{}, errors.New("activity repository not initialised")
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
			return domain.CursorPage[domain.ActivityEntry]{}, fmt.Errorf("activity repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	orderID := strings.TrimSpace(filter.OrderID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userUid", "==", userID)
		}
		if orderID != "" {
			q = q.Where("orderId", "==", orderID)
		}
		if filter.Action != nil {
			q = q.Where("action", "==", string(*filter.Action))
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
		return domain.CursorPage[domain.ActivityEntry]{}, err
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

	items := make([]domain.ActivityEntry, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeActivityDocument(doc.ID, doc.Data, doc.CreateTime))
	}

	return domain.CursorPage[domain.ActivityEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type activityDocument struct {
	UserRef   string            `firestore:"userRef"`
	UserUID   string            `firestore:"userUid"`
	OrderID   string            `firestore:"orderId,omitempty"`
	Action    string            `firestore:"action"`
	Message   string            `firestore:"message,omitempty"`
	Metadata  map[string]string `firestore:"metadata,omitempty"`
	CreatedAt time.Time         `firestore:"createdAt"`
}

func encodeActivityDocument(entry domain.ActivityEntry) activityDocument {
	var metadata map[string]string
	if len(entry.Metadata) > 0 {
		metadata = make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			metadata[k] = v
		}
	}
	return activityDocument{
		UserRef:   userDocPath(entry.UserID),
		UserUID:   strings.TrimSpace(entry.UserID),
		OrderID:   strings.TrimSpace(entry.OrderID),
		Action:    string(entry.Action),
		Message:   strings.TrimSpace(entry.Message),
		Metadata:  metadata,
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func decodeActivityDocument(id string, doc activityDocument, createdAt time.Time) domain.ActivityEntry {
	var metadata map[string]string
	if len(doc.Metadata) > 0 {
		metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
	}
	return domain.ActivityEntry{
		ID:        strings.TrimSpace(id),
		UserID:    extractOwner(doc.UserRef, doc.UserUID),
		OrderID:   strings.TrimSpace(doc.OrderID),
		Action:    domain.ActivityAction(strings.TrimSpace(doc.Action)),
		Message:   strings.TrimSpace(doc.Message),
		Metadata:  metadata,
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
	}
}

