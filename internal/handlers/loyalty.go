package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/platform/auth"
	"github.com/khadamat/api/internal/platform/httpx"
	"github.com/khadamat/api/internal/services"
)

const (
	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
)

// LoyaltyHandlers exposes the customer-facing loyalty endpoints.
type LoyaltyHandlers struct {
	authn   *auth.Authenticator
	loyalty services.LoyaltyService
}

// NewLoyaltyHandlers constructs a new LoyaltyHandlers instance.
func NewLoyaltyHandlers(authn *auth.Authenticator, loyalty services.LoyaltyService) *LoyaltyHandlers {
	return &LoyaltyHandlers{
		authn:   authn,
		loyalty: loyalty,
	}
}

// Routes registers the /loyalty endpoints.
func (h *LoyaltyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/balance", h.balance)
	r.Get("/history", h.history)
	r.Get("/levels", h.listLevels)
}

func (h *LoyaltyHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	balance, err := h.loyalty.Balance(ctx, identity.UID)
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBalancePayload(balance))
}

func (h *LoyaltyHandlers) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pagination, err := parsePagination(r, defaultHistoryPageSize, maxHistoryPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.PointsHistoryFilter{
		UserID:     identity.UID,
		Pagination: pagination,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		entryType, ok := parsePointsEntryType(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "type must be earn or redeem", http.StatusBadRequest))
			return
		}
		filter.Type = &entryType
	}

	page, err := h.loyalty.History(ctx, filter)
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}

	items := make([]pointsEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildPointsEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, pointsHistoryResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *LoyaltyHandlers) listLevels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	levels, err := h.loyalty.ListLevels(ctx)
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}

	items := make([]loyaltyLevelPayload, 0, len(levels))
	for _, level := range levels {
		items = append(items, buildLevelPayload(level))
	}
	writeJSONResponse(w, http.StatusOK, loyaltyLevelListResponse{Items: items})
}

func (h *LoyaltyHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_service_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

// Response payloads ----------------------------------------------------------

type loyaltyBalancePayload struct {
	Points         int64  `json:"points"`
	PointsUsed     int64  `json:"points_used"`
	LifetimeEarned int64  `json:"lifetime_earned"`
	Level          string `json:"level"`
}

type pointsHistoryResponse struct {
	Items         []pointsEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type pointsEntryPayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	RewardID    string `json:"reward_id,omitempty"`
	Type        string `json:"type"`
	Points      int64  `json:"points"`
	Method      string `json:"method,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type loyaltyLevelListResponse struct {
	Items []loyaltyLevelPayload `json:"items"`
}

type loyaltyLevelPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MinPoints int64  `json:"min_points"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildBalancePayload(balance services.LoyaltyBalance) loyaltyBalancePayload {
	return loyaltyBalancePayload{
		Points:         balance.Points,
		PointsUsed:     balance.PointsUsed,
		LifetimeEarned: balance.LifetimeEarned(),
		Level:          strings.TrimSpace(balance.Level),
	}
}

func buildPointsEntryPayload(entry services.PointsEntry) pointsEntryPayload {
	return pointsEntryPayload{
		ID:          strings.TrimSpace(entry.ID),
		OrderID:     strings.TrimSpace(entry.OrderID),
		ServiceID:   strings.TrimSpace(entry.ServiceID),
		RewardID:    strings.TrimSpace(entry.RewardID),
		Type:        string(entry.Type),
		Points:      entry.Points,
		Method:      strings.TrimSpace(entry.Method),
		Description: entry.Description,
		CreatedAt:   formatTime(entry.CreatedAt),
	}
}

func buildLevelPayload(level services.LoyaltyLevel) loyaltyLevelPayload {
	return loyaltyLevelPayload{
		ID:        strings.TrimSpace(level.ID),
		Name:      level.Name,
		MinPoints: level.MinPoints,
		CreatedAt: formatTime(level.CreatedAt),
		UpdatedAt: formatTime(level.UpdatedAt),
	}
}

func parsePointsEntryType(raw string) (domain.PointsEntryType, bool) {
	switch domain.PointsEntryType(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.PointsEarn:
		return domain.PointsEarn, true
	case domain.PointsRedeem:
		return domain.PointsRedeem, true
	default:
		return "", false
	}
}

func writeLoyaltyError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrLoyaltyInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLoyaltyNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_not_found", "loyalty record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLoyaltyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_error", "failed to process loyalty request", http.StatusInternalServerError))
	}
}
