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
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

var validClientStages = map[domain.ClientStage]struct{}{
	domain.StageReview:     {},
	domain.StagePayment:    {},
	domain.StageDocuments:  {},
	domain.StageProcessing: {},
	domain.StageComplete:   {},
}

// OrderHandlers exposes the customer-facing order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Post("/redeem", h.redeemOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Post("/{orderID}/pay", h.payOrder)
	r.Get("/{orderID}/documents", h.getDocuments)
	r.Post("/{orderID}/documents", h.submitDocuments)
	r.Post("/{orderID}/documents/upload-url", h.issueUploadURL)
	r.Get("/{orderID}/notifications", h.listNotifications)
	r.Put("/{orderID}/notifications", h.setNotifications)
}

type createOrderRequest struct {
	ServiceID string `json:"service_id"`
	Note      string `json:"note"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:    identity.UID,
		ServiceID: strings.TrimSpace(req.ServiceID),
		Note:      req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

type redeemOrderRequest struct {
	ServiceID string `json:"service_id"`
}

func (h *OrderHandlers) redeemOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req redeemOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.RedeemOrder(ctx, services.RedeemOrderCommand{
		UserID:    identity.UID,
		ServiceID: strings.TrimSpace(req.ServiceID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pagination, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:      identity.UID,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	order, err := h.orders.GetOrder(ctx, services.OrderReadCommand{
		OrderID:     orderID,
		RequestedBy: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: orderID,
		UserID:  identity.UID,
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type payOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	var req payOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.PayOrder(ctx, services.PayOrderCommand{
		OrderID:       orderID,
		UserID:        identity.UID,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	documents, err := h.orders.GetOrderDocuments(ctx, services.OrderReadCommand{
		OrderID:     orderID,
		RequestedBy: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]documentPayload, 0, len(documents))
	for _, document := range documents {
		items = append(items, buildDocumentPayload(document))
	}
	writeJSONResponse(w, http.StatusOK, documentListResponse{Items: items})
}

type submitDocumentsRequest struct {
	Documents []documentInputPayload `json:"documents"`
}

type documentInputPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (h *OrderHandlers) submitDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	var req submitDocumentsRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	documents := make([]services.DocumentInput, 0, len(req.Documents))
	for _, document := range req.Documents {
		documents = append(documents, services.DocumentInput{
			ID:   strings.TrimSpace(document.ID),
			Name: document.Name,
			URL:  strings.TrimSpace(document.URL),
		})
	}

	order, err := h.orders.SubmitDocuments(ctx, services.SubmitDocumentsCommand{
		OrderID:   orderID,
		UserID:    identity.UID,
		Documents: documents,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

func (h *OrderHandlers) issueUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	var req uploadURLRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	upload, err := h.orders.IssueDocumentUpload(ctx, services.DocumentUploadCommand{
		OrderID:     orderID,
		UserID:      identity.UID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, uploadURLResponse{
		DocumentID: upload.DocumentID,
		URL:        upload.URL,
		ObjectURL:  upload.ObjectURL,
		ExpiresAt:  formatTime(upload.ExpiresAt),
		Method:     upload.Method,
		Headers:    upload.Headers,
	})
}

func (h *OrderHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	pagination, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListNotifications(ctx, services.ListNotificationsCommand{
		OrderID:    orderID,
		UserID:     identity.UID,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
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

type setNotificationsRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *OrderHandlers) setNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
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

	var req setNotificationsRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Enabled == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "enabled is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetNotifications(ctx, services.SetNotificationsCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Enabled: *req.Enabled,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string            `json:"id"`
	OrderNumber string            `json:"order_number"`
	ServiceID   string            `json:"service_id"`
	ServiceName map[string]string `json:"service_name"`
	Status      string            `json:"status"`
	Stage       string            `json:"stage"`
	Price       int64             `json:"price"`
	CreatedAt   string            `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                   string                `json:"id"`
	OrderNumber          string                `json:"order_number"`
	UserID               string                `json:"user_id"`
	ServiceID            string                `json:"service_id"`
	ServiceName          map[string]string     `json:"service_name"`
	Price                int64                 `json:"price"`
	PaymentMethod        string                `json:"payment_method,omitempty"`
	Status               string                `json:"status"`
	Stage                string                `json:"stage"`
	Timeline             []timelineStepPayload `json:"timeline"`
	Documents            []documentPayload     `json:"documents"`
	Note                 string                `json:"note,omitempty"`
	NotificationsEnabled bool                  `json:"notifications_enabled"`
	EarnedPoints         int64                 `json:"earned_points,omitempty"`
	RedeemedPoints       int64                 `json:"redeemed_points,omitempty"`
	CreatedAt            string                `json:"created_at"`
	UpdatedAt            string                `json:"updated_at,omitempty"`
}

type timelineStepPayload struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
	Date  string `json:"date,omitempty"`
	Note  string `json:"note,omitempty"`
}

type documentListResponse struct {
	Items []documentPayload `json:"items"`
}

type documentPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url,omitempty"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	UploadedAt string `json:"uploaded_at"`
	ReviewedAt string `json:"reviewed_at,omitempty"`
}

type uploadURLResponse struct {
	DocumentID string            `json:"document_id"`
	URL        string            `json:"url"`
	ObjectURL  string            `json:"object_url"`
	ExpiresAt  string            `json:"expires_at"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type activityListResponse struct {
	Items         []activityPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type activityPayload struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Action    string            `json:"action"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		ServiceID:   strings.TrimSpace(order.ServiceID),
		ServiceName: localizedPayload(order.ServiceName),
		Status:      string(order.Status),
		Stage:       string(order.ClientStage),
		Price:       order.Price,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	timeline := make([]timelineStepPayload, 0, len(order.Timeline))
	for _, step := range order.Timeline {
		timeline = append(timeline, timelineStepPayload{
			Key:   string(step.Key),
			Label: step.Label,
			Done:  step.Done,
			Date:  formatTime(pointerTime(step.Date)),
			Note:  step.Note,
		})
	}

	documents := make([]documentPayload, 0, len(order.Documents))
	for _, document := range order.Documents {
		documents = append(documents, buildDocumentPayload(document))
	}

	return orderPayload{
		ID:                   strings.TrimSpace(order.ID),
		OrderNumber:          strings.TrimSpace(order.OrderNumber),
		UserID:               strings.TrimSpace(order.UserID),
		ServiceID:            strings.TrimSpace(order.ServiceID),
		ServiceName:          localizedPayload(order.ServiceName),
		Price:                order.Price,
		PaymentMethod:        strings.TrimSpace(order.PaymentMethod),
		Status:               string(order.Status),
		Stage:                string(order.ClientStage),
		Timeline:             timeline,
		Documents:            documents,
		Note:                 order.Note,
		NotificationsEnabled: order.NotificationsEnabled,
		EarnedPoints:         order.EarnedPoints,
		RedeemedPoints:       order.RedeemedPoints,
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}
}

func buildDocumentPayload(document services.OrderDocument) documentPayload {
	return documentPayload{
		ID:         strings.TrimSpace(document.ID),
		Name:       document.Name,
		URL:        strings.TrimSpace(document.URL),
		Status:     string(document.Status),
		Notes:      document.Notes,
		UploadedAt: formatTime(document.UploadedAt),
		ReviewedAt: formatTime(pointerTime(document.ReviewedAt)),
	}
}

func buildActivityPayload(entry services.ActivityEntry) activityPayload {
	return activityPayload{
		ID:        strings.TrimSpace(entry.ID),
		OrderID:   strings.TrimSpace(entry.OrderID),
		UserID:    strings.TrimSpace(entry.UserID),
		Action:    string(entry.Action),
		Message:   entry.Message,
		Metadata:  entry.Metadata,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}

func parseClientStage(raw string) (domain.ClientStage, bool) {
	stage := domain.ClientStage(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validClientStages[stage]; !ok {
		return "", false
	}
	return stage, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrServiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "service not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderDocumentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("document_not_found", "document not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "only the order owner may perform this action", http.StatusForbidden))
	case errors.Is(err, services.ErrInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
