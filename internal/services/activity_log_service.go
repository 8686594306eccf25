package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/platform/textutil"
	"github.com/khadamat/api/internal/repositories"
)

const activityIDPrefix = "act_"

var (
	// ErrActivityInvalidInput signals a malformed activity record.
	ErrActivityInvalidInput = errors.New("activity: invalid input")
)

// ActivityLogServiceDeps bundles constructor inputs for the activity writer.
type ActivityLogServiceDeps struct {
	Repository  repositories.ActivityRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type activityLogService struct {
	repo  repositories.ActivityRepository
	clock func() time.Time
	newID func() string
}

// NewActivityLogService creates an activity log writer backed by the
// supplied repository.
func NewActivityLogService(deps ActivityLogServiceDeps) (ActivityLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("activity log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &activityLogService{
		repo:  deps.Repository,
		clock: func() time.Time { return clock().UTC() },
		newID: newID,
	}, nil
}

// Record appends one activity entry. Unlike fire-and-forget audit trails,
// failures are returned so a caller running inside a transaction aborts
// the whole transition instead of committing without its log row.
func (s *activityLogService) Record(ctx context.Context, record ActivityRecord) error {
	action := domain.ActivityAction(strings.TrimSpace(string(record.Action)))
	if action == "" {
		return fmt.Errorf("%w: action is required", ErrActivityInvalidInput)
	}
	entry := domain.ActivityEntry{
		ID:        activityIDPrefix + s.newID(),
		UserID:    strings.TrimSpace(record.UserID),
		OrderID:   strings.TrimSpace(record.OrderID),
		Action:    action,
		Message:   sanitizeText(record.Message, 300),
		CreatedAt: s.clock(),
	}
	if meta := textutil.NormalizeStringMap(record.Metadata); len(meta) > 0 {
		normalized := make(map[string]string, len(meta))
		for key, value := range meta {
			key = sanitizeText(key, 80)
			if key == "" {
				continue
			}
			normalized[key] = sanitizeText(value, 300)
		}
		entry.Metadata = normalized
	}
	return s.repo.Append(ctx, entry)
}

// sanitizeText trims, strips control characters, and bounds free text
// before persistence.
func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}

// List retrieves paginated activity entries.
func (s *activityLogService) List(ctx context.Context, filter ActivityListFilter) (domain.CursorPage[ActivityEntry], error) {
	page, err := s.repo.List(ctx, repositories.ActivityListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		OrderID:    strings.TrimSpace(filter.OrderID),
		Action:     filter.Action,
		Pagination: domain.Pagination{PageSize: filter.PageSize, PageToken: filter.PageToken},
	})
	if err != nil {
		return domain.CursorPage[ActivityEntry]{}, err
	}
	return page, nil
}
