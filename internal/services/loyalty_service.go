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

const levelIDPrefix = "lvl_"

var (
	// ErrInsufficientBalance indicates the user does not hold enough points
	// for a redemption.
	ErrInsufficientBalance = errors.New("loyalty: insufficient balance")
	// ErrLoyaltyInvalidInput signals invalid loyalty input data.
	ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")
	// ErrLoyaltyNotFound indicates a missing user or tier record.
	ErrLoyaltyNotFound = errors.New("loyalty: not found")
	// ErrLoyaltyConflict indicates duplicate tier writes.
	ErrLoyaltyConflict = errors.New("loyalty: conflict")
)

// LoyaltyServiceDeps bundles constructor inputs for the loyalty service.
type LoyaltyServiceDeps struct {
	Users       repositories.UserRepository
	Ledger      repositories.PointsLedgerRepository
	Levels      repositories.LoyaltyLevelRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type loyaltyService struct {
	users  repositories.UserRepository
	ledger repositories.PointsLedgerRepository
	levels repositories.LoyaltyLevelRepository
	clock  func() time.Time
	newID  func() string
}

// NewLoyaltyService constructs the points ledger and tier service.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Users == nil {
		return nil, fmt.Errorf("loyalty service: users repository is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("loyalty service: points ledger repository is required")
	}
	if deps.Levels == nil {
		return nil, fmt.Errorf("loyalty service: loyalty level repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &loyaltyService{
		users:  deps.Users,
		ledger: deps.Ledger,
		levels: deps.Levels,
		clock:  func() time.Time { return clock().UTC() },
		newID:  newID,
	}, nil
}

// Balance returns the denormalised points projection kept on the user
// document. The projection is maintained transactionally by the order
// service, so no ledger fold happens on this hot path.
func (s *loyaltyService) Balance(ctx context.Context, userID string) (LoyaltyBalance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return LoyaltyBalance{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return LoyaltyBalance{}, mapLoyaltyRepositoryError(err)
	}
	return user.Loyalty, nil
}

// History lists the user's ledger entries, newest first.
func (s *loyaltyService) History(ctx context.Context, filter PointsHistoryFilter) (domain.CursorPage[PointsEntry], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[PointsEntry]{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}
	page, err := s.ledger.List(ctx, repositories.PointsListFilter{
		UserID:     userID,
		Type:       filter.Type,
		Pagination: domain.Pagination{PageSize: filter.PageSize, PageToken: filter.PageToken},
	})
	if err != nil {
		return domain.CursorPage[PointsEntry]{}, mapLoyaltyRepositoryError(err)
	}
	return page, nil
}

// VerifyBalance folds the full ledger and compares it against the
// projection on the user document. Intended for back-office audits, not
// request paths.
func (s *loyaltyService) VerifyBalance(ctx context.Context, userID string) (BalanceAudit, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return BalanceAudit{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return BalanceAudit{}, mapLoyaltyRepositoryError(err)
	}
	earned, redeemed, err := s.ledger.SumByUser(ctx, userID)
	if err != nil {
		return BalanceAudit{}, mapLoyaltyRepositoryError(err)
	}
	return BalanceAudit{
		UserID:          userID,
		ProjectedPoints: user.Loyalty.Points,
		LedgerEarned:    earned,
		LedgerRedeemed:  redeemed,
		Consistent:      user.Loyalty.Points == earned-redeemed && user.Loyalty.PointsUsed == redeemed,
	}, nil
}

// ListLevels returns the tier table ordered by threshold.
func (s *loyaltyService) ListLevels(ctx context.Context) ([]LoyaltyLevel, error) {
	levels, err := s.levels.ListOrdered(ctx)
	if err != nil {
		return nil, mapLoyaltyRepositoryError(err)
	}
	return levels, nil
}

// CreateLevel adds a tier to the table.
func (s *loyaltyService) CreateLevel(ctx context.Context, cmd UpsertLevelCommand) (LoyaltyLevel, error) {
	name, err := validateLevelCommand(cmd)
	if err != nil {
		return LoyaltyLevel{}, err
	}

	now := s.clock()
	level := LoyaltyLevel{
		ID:        levelIDPrefix + s.newID(),
		Name:      name,
		MinPoints: cmd.MinPoints,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id := strings.TrimSpace(cmd.LevelID); id != "" {
		level.ID = id
	}
	if err := s.levels.Insert(ctx, level); err != nil {
		return LoyaltyLevel{}, mapLoyaltyRepositoryError(err)
	}
	return level, nil
}

// UpdateLevel rewrites an existing tier.
func (s *loyaltyService) UpdateLevel(ctx context.Context, cmd UpsertLevelCommand) (LoyaltyLevel, error) {
	levelID := strings.TrimSpace(cmd.LevelID)
	if levelID == "" {
		return LoyaltyLevel{}, fmt.Errorf("%w: level id is required", ErrLoyaltyInvalidInput)
	}
	name, err := validateLevelCommand(cmd)
	if err != nil {
		return LoyaltyLevel{}, err
	}

	current, err := s.levels.FindByID(ctx, levelID)
	if err != nil {
		return LoyaltyLevel{}, mapLoyaltyRepositoryError(err)
	}
	current.Name = name
	current.MinPoints = cmd.MinPoints
	current.UpdatedAt = s.clock()

	if err := s.levels.Update(ctx, current); err != nil {
		return LoyaltyLevel{}, mapLoyaltyRepositoryError(err)
	}
	return current, nil
}

// DeleteLevel removes a tier. Users holding the tier keep their stored
// level string until their next balance write recomputes it.
func (s *loyaltyService) DeleteLevel(ctx context.Context, levelID string) error {
	levelID = strings.TrimSpace(levelID)
	if levelID == "" {
		return fmt.Errorf("%w: level id is required", ErrLoyaltyInvalidInput)
	}
	if err := s.levels.Delete(ctx, levelID); err != nil {
		return mapLoyaltyRepositoryError(err)
	}
	return nil
}

func validateLevelCommand(cmd UpsertLevelCommand) (string, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return "", fmt.Errorf("%w: level name is required", ErrLoyaltyInvalidInput)
	}
	if cmd.MinPoints < 0 {
		return "", fmt.Errorf("%w: minimum points must not be negative", ErrLoyaltyInvalidInput)
	}
	return name, nil
}

func mapLoyaltyRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrLoyaltyNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrLoyaltyConflict, err)
		}
	}
	return err
}
