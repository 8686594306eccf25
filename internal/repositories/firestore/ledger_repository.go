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

const ledgerCollection = "loyaltyLedger"

// PointsLedgerRepository appends immutable loyalty ledger entries. There is
// deliberately no update or delete path; the ledger is the source of truth
// for every balance.
type PointsLedgerRepository struct {
	base *pfirestore.BaseRepository[ledgerDocument]
}

// NewPointsLedgerRepository constructs a Firestore-backed ledger repository.
func NewPointsLedgerRepository(provider *pfirestore.Provider) (*PointsLedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[ledgerDocument](provider, ledgerCollection, nil, nil)
	return &PointsLedgerRepository{base: base}, nil
}

// Append stores a new immutable ledger entry, joining the ambient
// transaction when present.
func (r *PointsLedgerRepository) Append(ctx context.Context, entry domain.PointsEntry) error {
	if r == nil || r.base == nil {
		return errors.New("ledger repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "ledger entry id is required", nil)
	}
	if entry.Points <= 0 {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, fmt.Sprintf("ledger points must be positive, got %d", entry.Points), nil)
	}
	switch entry.Type {
	case domain.PointsEarn, domain.PointsRedeem:
	default:
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, fmt.Sprintf("unknown ledger entry type %q", entry.Type), nil)
	}

	docRef, err := r.base.DocumentRef(ctx, entryID)
	if err != nil {
		return err
	}
	doc := encodeLedgerDocument(entry)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(docRef, doc); err != nil {
			return pfirestore.WrapError("ledger.append", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("ledger.append", err)
	}
	return nil
}

// List returns ledger entries matching the filter, newest first.
func (r *PointsLedgerRepository) List(ctx context.Context, filter repositories.PointsListFilter) (domain.CursorPage[domain.PointsEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.PointsEntry]{}, errors.New("ledger repository not initialised")
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
			return domain.CursorPage[domain.PointsEntry]{}, fmt.Errorf("ledger repository: invalid page token: %w", err)
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
		if filter.Type != nil {
			q = q.Where("type", "==", string(*filter.Type))
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
		return domain.CursorPage[domain.PointsEntry]{}, err
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

	items := make([]domain.PointsEntry, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeLedgerDocument(doc.ID, doc.Data, doc.CreateTime))
	}

	return domain.CursorPage[domain.PointsEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// SumByUser folds the entire ledger of a user into earned and redeemed
// totals. Used by consistency checks to verify the balance projection.
func (r *PointsLedgerRepository) SumByUser(ctx context.Context, userID string) (int64, int64, error) {
	if r == nil || r.base == nil {
		return 0, 0, errors.New("ledger repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, 0, repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "user id is required", nil)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userUid", "==", userID)
	})
	if err != nil {
		return 0, 0, err
	}

	var earned, redeemed int64
	for _, doc := range docs {
		switch domain.PointsEntryType(doc.Data.Type) {
		case domain.PointsEarn:
			earned += doc.Data.Points
		case domain.PointsRedeem:
			redeemed += doc.Data.Points
		}
	}
	return earned, redeemed, nil
}

type ledgerDocument struct {
	UserRef     string    `firestore:"userRef"`
	UserUID     string    `firestore:"userUid"`
	OrderID     string    `firestore:"orderId,omitempty"`
	ServiceID   string    `firestore:"serviceId,omitempty"`
	RewardID    string    `firestore:"rewardId,omitempty"`
	Type        string    `firestore:"type"`
	Points      int64     `firestore:"points"`
	Method      string    `firestore:"method,omitempty"`
	Description string    `firestore:"description,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func encodeLedgerDocument(entry domain.PointsEntry) ledgerDocument {
	return ledgerDocument{
		UserRef:     userDocPath(entry.UserID),
		UserUID:     strings.TrimSpace(entry.UserID),
		OrderID:     strings.TrimSpace(entry.OrderID),
		ServiceID:   strings.TrimSpace(entry.ServiceID),
		RewardID:    strings.TrimSpace(entry.RewardID),
		Type:        string(entry.Type),
		Points:      entry.Points,
		Method:      strings.TrimSpace(entry.Method),
		Description: strings.TrimSpace(entry.Description),
		CreatedAt:   entry.CreatedAt.UTC(),
	}
}

func decodeLedgerDocument(id string, doc ledgerDocument, createdAt time.Time) domain.PointsEntry {
	return domain.PointsEntry{
		ID:          strings.TrimSpace(id),
		UserID:      extractOwner(doc.UserRef, doc.UserUID),
		OrderID:     strings.TrimSpace(doc.OrderID),
		ServiceID:   strings.TrimSpace(doc.ServiceID),
		RewardID:    strings.TrimSpace(doc.RewardID),
		Type:        domain.PointsEntryType(strings.TrimSpace(doc.Type)),
		Points:      doc.Points,
		Method:      strings.TrimSpace(doc.Method),
		Description: strings.TrimSpace(doc.Description),
		CreatedAt:   chooseTime(doc.CreatedAt, createdAt),
	}
}

