package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/khadamat/api/internal/domain"
	pfirestore "github.com/khadamat/api/internal/platform/firestore"
)

const userCollection = "users"

// UserRepository persists user profiles, including the denormalised
// loyalty balance projection, in Firestore.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		docRef, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return domain.UserProfile{}, err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return domain.UserProfile{}, pfirestore.WrapError("users.get", err)
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.UserProfile{}, pfirestore.WrapError("users.get", err)
		}
		return toDomainProfile(userID, doc, snap.CreateTime, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return toDomainProfile(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// UpdateProfile upserts the user profile document.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(profile.UID)
	if uid == "" {
		return domain.UserProfile{}, errors.New("profile uid is required")
	}

	now := time.Now().UTC()
	doc := fromDomainProfile(profile, now)

	if _, err := r.base.Set(ctx, uid, doc); err != nil {
		return domain.UserProfile{}, err
	}
	return toDomainProfile(uid, doc, doc.CreatedAt, doc.UpdatedAt), nil
}

// UpdateLoyalty writes the loyalty balance projection for the user.
// The update joins the ambient transaction when present so the projection
// commits with the ledger entry that changed it.
func (r *UserRepository) UpdateLoyalty(ctx context.Context, userID string, balance domain.LoyaltyBalance, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	if balance.Points < 0 || balance.PointsUsed < 0 {
		return status.Error(codes.FailedPrecondition, "loyalty balance cannot be negative")
	}

	docRef, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "loyaltyPoints", Value: balance.Points},
		{Path: "loyaltyPointsUsed", Value: balance.PointsUsed},
		{Path: "loyaltyPointsLevel", Value: strings.TrimSpace(balance.Level)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Update(docRef, updates); err != nil {
			return pfirestore.WrapError("users.update_loyalty", err)
		}
		return nil
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("users.update_loyalty", err)
	}
	return nil
}

// EnsureExists creates the user document on first sight, leaving existing
// profiles untouched. Returns the stored profile.
func (r *UserRepository) EnsureExists(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(profile.UID)
	if uid == "" {
		return domain.UserProfile{}, errors.New("profile uid is required")
	}

	existing, err := r.FindByID(ctx, uid)
	if err == nil {
		return existing, nil
	}
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.UserProfile{}, err
	}

	now := time.Now().UTC()
	doc := fromDomainProfile(profile, now)
	docRef, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		// A concurrent create means another request won; read their copy.
		if status.Code(err) == codes.AlreadyExists {
			return r.FindByID(ctx, uid)
		}
		return domain.UserProfile{}, pfirestore.WrapError("users.create", err)
	}
	return toDomainProfile(uid, doc, doc.CreatedAt, doc.UpdatedAt), nil
}

type userDocument struct {
	UID                string    `firestore:"uid"`
	Email              string    `firestore:"email,omitempty"`
	DisplayName        string    `firestore:"displayName,omitempty"`
	Phone              string    `firestore:"phone,omitempty"`
	Locale             string    `firestore:"locale,omitempty"`
	Roles              []string  `firestore:"roles"`
	LoyaltyPoints      int64     `firestore:"loyaltyPoints"`
	LoyaltyPointsUsed  int64     `firestore:"loyaltyPointsUsed"`
	LoyaltyPointsLevel string    `firestore:"loyaltyPointsLevel,omitempty"`
	CreatedAt          time.Time `firestore:"createdAt"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

func toDomainProfile(id string, doc userDocument, createdAt, updatedAt time.Time) domain.UserProfile {
	profile := domain.UserProfile{
		UID:    strings.TrimSpace(id),
		Locale: strings.TrimSpace(doc.Locale),
		Roles:  cloneStringSlice(doc.Roles),
		Loyalty: domain.LoyaltyBalance{
			Points:     doc.LoyaltyPoints,
			PointsUsed: doc.LoyaltyPointsUsed,
			Level:      strings.TrimSpace(doc.LoyaltyPointsLevel),
		},
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
	if email := strings.TrimSpace(doc.Email); email != "" {
		profile.Email = &email
	}
	if name := strings.TrimSpace(doc.DisplayName); name != "" {
		profile.DisplayName = &name
	}
	if phone := strings.TrimSpace(doc.Phone); phone != "" {
		profile.Phone = &phone
	}
	if profile.Loyalty.Level == "" {
		profile.Loyalty.Level = domain.DefaultLoyaltyLevel
	}
	return profile
}

func fromDomainProfile(profile domain.UserProfile, now time.Time) userDocument {
	doc := userDocument{
		UID:                strings.TrimSpace(profile.UID),
		Locale:             strings.TrimSpace(profile.Locale),
		Roles:              normaliseRoles(profile.Roles),
		LoyaltyPoints:      profile.Loyalty.Points,
		LoyaltyPointsUsed:  profile.Loyalty.PointsUsed,
		LoyaltyPointsLevel: strings.TrimSpace(profile.Loyalty.Level),
		CreatedAt:          profile.CreatedAt.UTC(),
		UpdatedAt:          now,
	}
	if profile.Email != nil {
		doc.Email = strings.ToLower(strings.TrimSpace(*profile.Email))
	}
	if profile.DisplayName != nil {
		doc.DisplayName = strings.TrimSpace(*profile.DisplayName)
	}
	if profile.Phone != nil {
		doc.Phone = strings.TrimSpace(*profile.Phone)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.LoyaltyPointsLevel == "" {
		doc.LoyaltyPointsLevel = domain.DefaultLoyaltyLevel
	}
	if doc.Roles == nil {
		doc.Roles = []string{}
	}
	return doc
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func normaliseRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	uniq := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		uniq[trimmed] = struct{}{}
	}
	if len(uniq) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(uniq))
	for role := range uniq {
		normalised = append(normalised, role)
	}
	sort.Strings(normalised)
	return normalised
}
