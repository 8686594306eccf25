package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/khadamat/api/internal/platform/httpx"
	"github.com/khadamat/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives payment confirmations from external providers.
// Request authentication happens in the HMAC middleware mounted on the
// webhook route group.
type WebhookHandlers struct {
	orders services.OrderService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentConfirmed)
}

type paymentWebhookRequest struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
	Status        string `json:"status"`
}

func (h *WebhookHandlers) paymentConfirmed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req paymentWebhookRequest
	if err := decodeJSONBody(r, maxWebhookBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status != "" && status != "succeeded" && status != "paid" {
		// Accept but ignore non-success notifications.
		writeJSONResponse(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	order, err := h.orders.PayOrder(ctx, services.PayOrderCommand{
		OrderID:       strings.TrimSpace(req.OrderID),
		UserID:        strings.TrimSpace(req.UserID),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"result":       "processed",
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	})
}
