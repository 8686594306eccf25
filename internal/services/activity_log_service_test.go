package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/repositories"
)

type capturingActivityRepo struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
	listFn  func(context.Context, repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error)
}

func (r *capturingActivityRepo) Append(_ context.Context, entry domain.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *capturingActivityRepo) List(ctx context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.ActivityEntry]{}, nil
}

func TestActivityRecordStampsIDAndTime(t *testing.T) {
	repo := &capturingActivityRepo{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewActivityLogService(ActivityLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01ABCDEF" },
	})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}

	err = svc.Record(context.Background(), ActivityRecord{
		UserID:   "user-1",
		OrderID:  "ord_1",
		Action:   domain.ActivityOrderPaid,
		Message:  "  order ORD-1100 paid via card  ",
		Metadata: map[string]string{"paymentMethod": "card", " ": "dropped"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID != "act_01ABCDEF" {
		t.Fatalf("expected prefixed id, got %s", entry.ID)
	}
	if !entry.CreatedAt.Equal(now) {
		t.Fatalf("expected clock timestamp, got %v", entry.CreatedAt)
	}
	if entry.Message != "order ORD-1100 paid via card" {
		t.Fatalf("expected trimmed message, got %q", entry.Message)
	}
	if len(entry.Metadata) != 1 || entry.Metadata["paymentMethod"] != "card" {
		t.Fatalf("expected blank metadata keys dropped, got %+v", entry.Metadata)
	}
}

func TestActivityRecordRequiresAction(t *testing.T) {
	svc, err := NewActivityLogService(ActivityLogServiceDeps{Repository: &capturingActivityRepo{}})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}

	err = svc.Record(context.Background(), ActivityRecord{UserID: "user-1", Message: "no action"})
	if !errors.Is(err, ErrActivityInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestActivityListForwardsFilter(t *testing.T) {
	repo := &capturingActivityRepo{}
	var captured repositories.ActivityListFilter
	repo.listFn = func(_ context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
		captured = filter
		return domain.CursorPage[domain.ActivityEntry]{NextPageToken: "tok"}, nil
	}

	svc, err := NewActivityLogService(ActivityLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}

	action := domain.ActivityOrderCreated
	page, err := svc.List(context.Background(), ActivityListFilter{
		UserID:     " user-1 ",
		OrderID:    "ord_1",
		Action:     &action,
		Pagination: Pagination{PageSize: 10, PageToken: "prev"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.NextPageToken != "tok" {
		t.Fatalf("expected repository token passthrough, got %q", page.NextPageToken)
	}
	if captured.UserID != "user-1" || captured.OrderID != "ord_1" || captured.Action == nil {
		t.Fatalf("unexpected forwarded filter %+v", captured)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "prev" {
		t.Fatalf("unexpected forwarded pagination %+v", captured.Pagination)
	}
}
