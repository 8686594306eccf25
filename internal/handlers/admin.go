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

const maxAdminBodySize = 64 * 1024

var validDocumentStatuses = map[domain.DocumentStatus]struct{}{
	domain.DocumentStatusApproved:   {},
	domain.DocumentStatusRejected:   {},
	domain.DocumentStatusNeedUpdate: {},
}

// AdminHandlers exposes the staff-facing order, catalog, and loyalty
// administration endpoints.
type AdminHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	catalog  services.CatalogService
	loyalty  services.LoyaltyService
	activity services.ActivityLogService
}

// AdminOption customizes the admin handlers.
type AdminOption func(*AdminHandlers)

// WithAdminOrderService wires the order service.
func WithAdminOrderService(orders services.OrderService) AdminOption {
	return func(h *AdminHandlers) {
		h.orders = orders
	}
}

// WithAdminCatalogService wires the catalog service.
func WithAdminCatalogService(catalog services.CatalogService) AdminOption {
	return func(h *AdminHandlers) {
		h.catalog = catalog
	}
}

// WithAdminLoyaltyService wires the loyalty service.
func WithAdminLoyaltyService(loyalty services.LoyaltyService) AdminOption {
	return func(h *AdminHandlers) {
		h.loyalty = loyalty
	}
}

// WithAdminActivityService wires the activity log service.
func WithAdminActivityService(activity services.ActivityLogService) AdminOption {
	return func(h *AdminHandlers) {
		h.activity = activity
	}
}

// NewAdminHandlers constructs the admin handler set.
func NewAdminHandlers(authn *auth.Authenticator, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{authn: authn}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints. All routes require a staff or
// admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/processing", h.startProcessing)
	r.Post("/orders/{orderID}/complete", h.completeOrder)
	r.Post("/orders/{orderID}/documents/{documentID}/review", h.reviewDocument)

	r.Post("/services", h.createService)
	r.Put("/services/{serviceID}", h.updateService)
	r.Put("/services/{serviceID}/active", h.setServiceActive)

	r.Post("/loyalty/levels", h.createLevel)
	r.Put("/loyalty/levels/{levelID}", h.updateLevel)
	r.Delete("/loyalty/levels/{levelID}", h.deleteLevel)
	r.Get("/loyalty/{userID}/audit", h.auditBalance)

	r.Get("/activity", h.listActivity)
}

// Orders ---------------------------------------------------------------------

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeAdminUnavailable(ctx, w)
		return
	}

	pagination, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:      strings.TrimSpace(r.URL.Query().Get("user_id")),
		OrderNumber: strings.TrimSpace(r.URL.Query().Get("order_number")),
		Pagination:  pagination,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("stage")); raw != "" {
		stage, ok := parseClientStage(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "stage must be a valid order stage", http.StatusBadRequest))
			return
		}
		filter.ClientStage = &stage
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	// Admin reads bypass ownership checks.
	order, err := h.orders.GetOrder(ctx, services.OrderReadCommand{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type adminTransitionRequest struct {
	Note string `json:"note"`
}

func (h *AdminHandlers) startProcessing(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(ctx context.Context, cmd services.AdminTransitionCommand) (services.Order, error) {
		return h.orders.StartProcessing(ctx, cmd)
	})
}

func (h *AdminHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(ctx context.Context, cmd services.AdminTransitionCommand) (services.Order, error) {
		return h.orders.CompleteOrder(ctx, cmd)
	})
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request, transition func(context.Context, services.AdminTransitionCommand) (services.Order, error)) {
	ctx := r.Context()
	if h.orders == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req adminTransitionRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := transition(ctx, services.AdminTransitionCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type reviewDocumentRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *AdminHandlers) reviewDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	documentID := strings.TrimSpace(chi.URLParam(r, "documentID"))
	if documentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "document id is required", http.StatusBadRequest))
		return
	}

	var req reviewDocumentRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	status := domain.DocumentStatus(strings.TrimSpace(req.Status))
	if _, ok := validDocumentStatuses[status]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be approved, rejected, or needUpdate", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ReviewDocument(ctx, services.ReviewDocumentCommand{
		OrderID:    orderID,
		DocumentID: documentID,
		ActorID:    identity.UID,
		Status:     status,
		Notes:      req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// Catalog --------------------------------------------------------------------

type upsertServiceRequest struct {
	NameAr        string `json:"name_ar"`
	NameEn        string `json:"name_en"`
	DescriptionAr string `json:"description_ar"`
	DescriptionEn string `json:"description_en"`
	Category      string `json:"category"`
	Price         int64  `json:"price"`
	LoyaltyPoints int64  `json:"loyalty_points"`
	Active        *bool  `json:"active"`
}

func (h *AdminHandlers) createService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeAdminUnavailable(ctx, w)
		return
	}

	var req upsertServiceRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	svc, err := h.catalog.CreateService(ctx, upsertServiceCommand("", req))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildServicePayload(svc))
}

func (h *AdminHandlers) updateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	var req upsertServiceRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	svc, err := h.catalog.UpdateService(ctx, upsertServiceCommand(serviceID, req))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServicePayload(svc))
}

type setServiceActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *AdminHandlers) setServiceActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	var req setServiceActiveRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Active == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "active is required", http.StatusBadRequest))
		return
	}

	svc, err := h.catalog.SetServiceActive(ctx, serviceID, *req.Active)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServicePayload(svc))
}

func upsertServiceCommand(serviceID string, req upsertServiceRequest) services.UpsertServiceCommand {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return services.UpsertServiceCommand{
		ServiceID:     serviceID,
		NameAr:        req.NameAr,
		NameEn:        req.NameEn,
		DescriptionAr: req.DescriptionAr,
		DescriptionEn: req.DescriptionEn,
		Category:      strings.TrimSpace(req.Category),
		Price:         req.Price,
		LoyaltyPoints: req.LoyaltyPoints,
		Active:        active,
	}
}

// Loyalty --------------------------------------------------------------------

type upsertLevelRequest struct {
	Name      string `json:"name"`
	MinPoints int64  `json:"min_points"`
}

func (h *AdminHandlers) createLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeAdminUnavailable(ctx, w)
		return
	}

	var req upsertLevelRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	level, err := h.loyalty.CreateLevel(ctx, services.UpsertLevelCommand{
		Name:      req.Name,
		MinPoints: req.MinPoints,
	})
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildLevelPayload(level))
}

func (h *AdminHandlers) updateLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	levelID := strings.TrimSpace(chi.URLParam(r, "levelID"))
	if levelID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "level id is required", http.StatusBadRequest))
		return
	}

	var req upsertLevelRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	level, err := h.loyalty.UpdateLevel(ctx, services.UpsertLevelCommand{
		LevelID:   levelID,
		Name:      req.Name,
		MinPoints: req.MinPoints,
	})
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildLevelPayload(level))
}

func (h *AdminHandlers) deleteLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	levelID := strings.TrimSpace(chi.URLParam(r, "levelID"))
	if levelID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "level id is required", http.StatusBadRequest))
		return
	}

	if err := h.loyalty.DeleteLevel(ctx, levelID); err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type balanceAuditPayload struct {
	UserID          string `json:"user_id"`
	ProjectedPoints int64  `json:"projected_points"`
	LedgerEarned    int64  `json:"ledger_earned"`
	LedgerRedeemed  int64  `json:"ledger_redeemed"`
	Consistent      bool   `json:"consistent"`
}

func (h *AdminHandlers) auditBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}

	audit, err := h.loyalty.VerifyBalance(ctx, userID)
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, balanceAuditPayload{
		UserID:          audit.UserID,
		ProjectedPoints: audit.ProjectedPoints,
		LedgerEarned:    audit.LedgerEarned,
		LedgerRedeemed:  audit.LedgerRedeemed,
		Consistent:      audit.Consistent,
	})
}

// Activity -------------------------------------------------------------------

func (h *AdminHandlers) listActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.activity == nil {
		writeAdminUnavailable(ctx, w)
		return
	}

	pagination, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ActivityListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("user_id")),
		OrderID:    strings.TrimSpace(r.URL.Query().Get("order_id")),
		Pagination: pagination,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("action")); raw != "" {
		action := domain.ActivityAction(raw)
		filter.Action = &action
	}

	page, err := h.activity.List(ctx, filter)
	if err != nil {
		writeActivityError(ctx, w, err)
		return
	}

	items := make([]activityPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildActivityPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, activityListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func writeAdminUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service unavailable", http.StatusServiceUnavailable))
}

func writeActivityError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrActivityInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("activity_error", "failed to process activity request", http.StatusInternalServerError))
	}
}
