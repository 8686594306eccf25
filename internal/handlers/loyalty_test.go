package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/services"
)

type stubLoyaltyService struct {
	balanceFn     func(context.Context, string) (services.LoyaltyBalance, error)
	historyFn     func(context.Context, services.PointsHistoryFilter) (domain.CursorPage[services.PointsEntry], error)
	verifyFn      func(context.Context, string) (services.BalanceAudit, error)
	listLevelsFn  func(context.Context) ([]services.LoyaltyLevel, error)
	createLevelFn func(context.Context, services.UpsertLevelCommand) (services.LoyaltyLevel, error)
	updateLevelFn func(context.Context, services.UpsertLevelCommand) (services.LoyaltyLevel, error)
	deleteLevelFn func(context.Context, string) error
}

func (s *stubLoyaltyService) Balance(ctx context.Context, userID string) (services.LoyaltyBalance, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, userID)
	}
	return services.LoyaltyBalance{}, errors.New("not implemented")
}

func (s *stubLoyaltyService) History(ctx context.Context, filter services.PointsHistoryFilter) (domain.CursorPage[services.PointsEntry], error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, filter)
	}
	return domain.CursorPage[services.PointsEntry]{}, nil
}

func (s *stubLoyaltyService) VerifyBalance(ctx context.Context, userID string) (services.BalanceAudit, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, userID)
	}
	return services.BalanceAudit{}, errors.New("not implemented")
}

func (s *stubLoyaltyService) ListLevels(ctx context.Context) ([]services.LoyaltyLevel, error) {
	if s.listLevelsFn != nil {
		return s.listLevelsFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (s *stubLoyaltyService) CreateLevel(ctx context.Context, cmd services.UpsertLevelCommand) (services.LoyaltyLevel, error) {
	if s.createLevelFn != nil {
		return s.createLevelFn(ctx, cmd)
	}
	return services.LoyaltyLevel{}, errors.New("not implemented")
}

func (s *stubLoyaltyService) UpdateLevel(ctx context.Context, cmd services.UpsertLevelCommand) (services.LoyaltyLevel, error) {
	if s.updateLevelFn != nil {
		return s.updateLevelFn(ctx, cmd)
	}
	return services.LoyaltyLevel{}, errors.New("not implemented")
}

func (s *stubLoyaltyService) DeleteLevel(ctx context.Context, levelID string) error {
	if s.deleteLevelFn != nil {
		return s.deleteLevelFn(ctx, levelID)
	}
	return errors.New("not implemented")
}

func newLoyaltyRouter(service services.LoyaltyService) chi.Router {
	handler := NewLoyaltyHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/loyalty", handler.Routes)
	return router
}

func TestLoyaltyHandlersBalance(t *testing.T) {
	service := &stubLoyaltyService{
		balanceFn: func(ctx context.Context, userID string) (services.LoyaltyBalance, error) {
			if userID != "user-1" {
				t.Fatalf("expected user-1, got %s", userID)
			}
			return services.LoyaltyBalance{Points: 80, PointsUsed: 40, Level: "gold"}, nil
		},
	}

	router := newLoyaltyRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/loyalty/balance", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp loyaltyBalancePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Points != 80 || resp.PointsUsed != 40 {
		t.Fatalf("unexpected balance %#v", resp)
	}
	if resp.LifetimeEarned != 120 {
		t.Fatalf("expected lifetime earned 120, got %d", resp.LifetimeEarned)
	}
	if resp.Level != "gold" {
		t.Fatalf("expected level gold, got %s", resp.Level)
	}
}

func TestLoyaltyHandlersBalanceUnauthenticated(t *testing.T) {
	router := newLoyaltyRouter(&stubLoyaltyService{})
	req := httptest.NewRequest(http.MethodGet, "/loyalty/balance", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestLoyaltyHandlersHistoryFiltersByType(t *testing.T) {
	now := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

	var captured services.PointsHistoryFilter
	service := &stubLoyaltyService{
		historyFn: func(ctx context.Context, filter services.PointsHistoryFilter) (domain.CursorPage[services.PointsEntry], error) {
			captured = filter
			return domain.CursorPage[services.PointsEntry]{
				Items: []services.PointsEntry{
					{
						ID:        "pts-1",
						UserID:    "user-1",
						OrderID:   "ord_1",
						Type:      domain.PointsEarn,
						Points:    25,
						Method:    "card",
						CreatedAt: now,
					},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	router := newLoyaltyRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/loyalty/history?type=earn&page_size=5", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected filter scoped to user-1, got %s", captured.UserID)
	}
	if captured.Type == nil || *captured.Type != domain.PointsEarn {
		t.Fatalf("expected earn type filter, got %#v", captured.Type)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}

	var resp pointsHistoryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Type != "earn" || resp.Items[0].Points != 25 {
		t.Fatalf("unexpected history items %#v", resp.Items)
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("expected next page token tok-2, got %s", resp.NextPageToken)
	}
}

func TestLoyaltyHandlersHistoryRejectsUnknownType(t *testing.T) {
	router := newLoyaltyRouter(&stubLoyaltyService{})
	req := httptest.NewRequest(http.MethodGet, "/loyalty/history?type=bonus", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestLoyaltyHandlersListLevels(t *testing.T) {
	service := &stubLoyaltyService{
		listLevelsFn: func(ctx context.Context) ([]services.LoyaltyLevel, error) {
			return []services.LoyaltyLevel{
				{ID: "lvl-bronze", Name: "Bronze", MinPoints: 0},
				{ID: "lvl-silver", Name: "Silver", MinPoints: 100},
			}, nil
		},
	}

	router := newLoyaltyRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/loyalty/levels", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp loyaltyLevelListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[1].MinPoints != 100 {
		t.Fatalf("unexpected level items %#v", resp.Items)
	}
}
