package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/khadamat/api/internal/domain"
	pfirestore "github.com/khadamat/api/internal/platform/firestore"
)

const levelsCollection = "loyaltyLevels"

// LoyaltyLevelRepository stores the ordered loyalty tier table. The table
// is small and read on every balance recomputation, so listing returns the
// entire collection.
type LoyaltyLevelRepository struct {
	base *pfirestore.BaseRepository[levelDocument]
}

// NewLoyaltyLevelRepository constructs a Firestore-backed level repository.
func NewLoyaltyLevelRepository(provider *pfirestore.Provider) (*LoyaltyLevelRepository, error) {
	if provider == nil {
		return nil, errors.New("level repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[levelDocument](provider, levelsCollection, nil, nil)
	return &LoyaltyLevelRepository{base: base}, nil
}

// Insert stores a new tier. The ID must be unique.
func (r *LoyaltyLevelRepository) Insert(ctx context.Context, level domain.LoyaltyLevel) error {
	if r == nil || r.base == nil {
		return errors.New("level repository not initialised")
	}
	levelID := strings.TrimSpace(level.ID)
	if levelID == "" {
		return errors.New("level repository: level id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, levelID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeLevelDocument(level)); err != nil {
		return pfirestore.WrapError("levels.insert", err)
	}
	return nil
}

// Update replaces the persisted tier.
func (r *LoyaltyLevelRepository) Update(ctx context.Context, level domain.LoyaltyLevel) error {
	if r == nil || r.base == nil {
		return errors.New("level repository not initialised")
	}
	levelID := strings.TrimSpace(level.ID)
	if levelID == "" {
		return errors.New("level repository: level id is required")
	}
	if _, err := r.base.Set(ctx, levelID, encodeLevelDocument(level)); err != nil {
		return err
	}
	return nil
}

// Delete removes the tier permanently.
func (r *LoyaltyLevelRepository) Delete(ctx context.Context, levelID string) error {
	if r == nil || r.base == nil {
		return errors.New("level repository not initialised")
	}
	levelID = strings.TrimSpace(levelID)
	if levelID == "" {
		return errors.New("level repository: level id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, levelID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("levels.delete", err)
	}
	return nil
}

// FindByID fetches a single tier.
func (r *LoyaltyLevelRepository) FindByID(ctx context.Context, levelID string) (domain.LoyaltyLevel, error) {
	if r == nil || r.base == nil {
		return domain.LoyaltyLevel{}, errors.New("level repository not initialised")
	}
	levelID = strings.TrimSpace(levelID)
	if levelID == "" {
		return domain.LoyaltyLevel{}, errors.New("level repository: level id is required")
	}
	doc, err := r.base.Get(ctx, levelID)
	if err != nil {
		return domain.LoyaltyLevel{}, err
	}
	return decodeLevelDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListOrdered returns all tiers sorted by ascending MinPoints.
func (r *LoyaltyLevelRepository) ListOrdered(ctx context.Context) ([]domain.LoyaltyLevel, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("level repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("minPoints", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	levels := make([]domain.LoyaltyLevel, 0, len(docs))
	for _, doc := range docs {
		levels = append(levels, decodeLevelDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].MinPoints < levels[j].MinPoints
	})
	return levels, nil
}

type levelDocument struct {
	Name      string    `firestore:"name"`
	MinPoints int64     `firestore:"minPoints"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeLevelDocument(level domain.LoyaltyLevel) levelDocument {
	return levelDocument{
		Name:      strings.TrimSpace(level.Name),
		MinPoints: level.MinPoints,
		CreatedAt: level.CreatedAt.UTC(),
		UpdatedAt: level.UpdatedAt.UTC(),
	}
}

func decodeLevelDocument(id string, doc levelDocument, createdAt, updatedAt time.Time) domain.LoyaltyLevel {
	return domain.LoyaltyLevel{
		ID:        strings.TrimSpace(id),
		Name:      strings.TrimSpace(doc.Name),
		MinPoints: doc.MinPoints,
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
}
