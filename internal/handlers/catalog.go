package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/khadamat/api/internal/platform/httpx"
	"github.com/khadamat/api/internal/services"
)

const (
	defaultCatalogPageSize = 20
	maxCatalogPageSize     = 100
)

// CatalogHandlers exposes the public service catalog endpoints. They are
// unauthenticated and only surface active services by default.
type CatalogHandlers struct {
	catalog services.CatalogService
	loyalty services.LoyaltyService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService, loyalty services.LoyaltyService) *CatalogHandlers {
	return &CatalogHandlers{
		catalog: catalog,
		loyalty: loyalty,
	}
}

// Routes registers the public catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/services", h.listServices)
	r.Get("/services/{serviceID}", h.getService)
	r.Get("/loyalty-levels", h.listLevels)
}

func (h *CatalogHandlers) listServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	pagination, err := parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListServices(ctx, services.ServiceListFilter{
		Category:   strings.TrimSpace(r.URL.Query().Get("category")),
		ActiveOnly: true,
		Pagination: pagination,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]servicePayload, 0, len(page.Items))
	for _, svc := range page.Items {
		items = append(items, buildServicePayload(svc))
	}
	writeJSONResponse(w, http.StatusOK, serviceListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CatalogHandlers) getService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	svc, err := h.catalog.GetService(ctx, serviceID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServicePayload(svc))
}

func (h *CatalogHandlers) listLevels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeCatalogUnavailable(ctx, w)
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

// Response payloads ----------------------------------------------------------

type serviceListResponse struct {
	Items         []servicePayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type servicePayload struct {
	ID            string            `json:"id"`
	Name          map[string]string `json:"name"`
	Description   map[string]string `json:"description"`
	Category      string            `json:"category,omitempty"`
	Price         int64             `json:"price"`
	LoyaltyPoints int64             `json:"loyalty_points,omitempty"`
	Active        bool              `json:"active"`
	CreatedAt     string            `json:"created_at,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

func buildServicePayload(svc services.Service) servicePayload {
	return servicePayload{
		ID:            strings.TrimSpace(svc.ID),
		Name:          localizedPayload(svc.Name),
		Description:   localizedPayload(svc.Description),
		Category:      strings.TrimSpace(svc.Category),
		Price:         svc.Price,
		LoyaltyPoints: svc.LoyaltyPoints,
		Active:        svc.Active,
		CreatedAt:     formatTime(svc.CreatedAt),
		UpdatedAt:     formatTime(svc.UpdatedAt),
	}
}

func writeCatalogUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrServiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "service not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
