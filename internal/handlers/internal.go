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

const maxInternalBodySize = 16 * 1024

// InternalHandlers exposes operator-only utility endpoints. Caller
// authentication happens in the middleware mounted on the internal group.
type InternalHandlers struct {
	system services.SystemService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(system services.SystemService) *InternalHandlers {
	return &InternalHandlers{system: system}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/counters/next", h.nextCounterValue)
}

type counterRequest struct {
	Scope string `json:"scope"`
	Name  string `json:"name"`
	Step  int64  `json:"step"`
}

type counterResponse struct {
	Scope string `json:"scope"`
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

func (h *InternalHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req counterRequest
	if err := decodeJSONBody(r, maxInternalBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		Scope: strings.TrimSpace(req.Scope),
		Name:  strings.TrimSpace(req.Name),
		Step:  req.Step,
	})
	if err != nil {
		writeCounterError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, counterResponse{
		Scope: strings.TrimSpace(req.Scope),
		Name:  strings.TrimSpace(req.Name),
		Value: value,
	})
}

func writeCounterError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCounterInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCounterExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("counter_exhausted", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("counter_error", "failed to advance counter", http.StatusInternalServerError))
	}
}
