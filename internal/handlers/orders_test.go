package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/platform/auth"
	"github.com/khadamat/api/internal/platform/pagination"
	"github.com/khadamat/api/internal/services"
)

type stubOrderService struct {
	createFn      func(context.Context, services.CreateOrderCommand) (services.Order, error)
	redeemFn      func(context.Context, services.RedeemOrderCommand) (services.Order, error)
	listFn        func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn         func(context.Context, services.OrderReadCommand) (services.Order, error)
	payFn         func(context.Context, services.PayOrderCommand) (services.Order, error)
	submitFn      func(context.Context, services.SubmitDocumentsCommand) (services.Order, error)
	processingFn  func(context.Context, services.AdminTransitionCommand) (services.Order, error)
	completeFn    func(context.Context, services.AdminTransitionCommand) (services.Order, error)
	deleteFn      func(context.Context, services.DeleteOrderCommand) error
	documentsFn   func(context.Context, services.OrderReadCommand) ([]services.OrderDocument, error)
	reviewFn      func(context.Context, services.ReviewDocumentCommand) (services.Order, error)
	setNotifsFn   func(context.Context, services.SetNotificationsCommand) (services.Order, error)
	listNotifsFn  func(context.Context, services.ListNotificationsCommand) (domain.CursorPage[services.ActivityEntry], error)
	issueUploadFn func(context.Context, services.DocumentUploadCommand) (services.SignedUploadResponse, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) RedeemOrder(ctx context.Context, cmd services.RedeemOrderCommand) (services.Order, error) {
	if s.redeemFn != nil {
		return s.redeemFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.OrderReadCommand) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) PayOrder(ctx context.Context, cmd services.PayOrderCommand) (services.Order, error) {
	if s.payFn != nil {
		return s.payFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) SubmitDocuments(ctx context.Context, cmd services.SubmitDocumentsCommand) (services.Order, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) StartProcessing(ctx context.Context, cmd services.AdminTransitionCommand) (services.Order, error) {
	if s.processingFn != nil {
		return s.processingFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CompleteOrder(ctx context.Context, cmd services.AdminTransitionCommand) (services.Order, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubOrderService) GetOrderDocuments(ctx context.Context, cmd services.OrderReadCommand) ([]services.OrderDocument, error) {
	if s.documentsFn != nil {
		return s.documentsFn(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOrderService) ReviewDocument(ctx context.Context, cmd services.ReviewDocumentCommand) (services.Order, error) {
	if s.reviewFn != nil {
		return s.reviewFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) SetNotifications(ctx context.Context, cmd services.SetNotificationsCommand) (services.Order, error) {
	if s.setNotifsFn != nil {
		return s.setNotifsFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListNotifications(ctx context.Context, cmd services.ListNotificationsCommand) (domain.CursorPage[services.ActivityEntry], error) {
	if s.listNotifsFn != nil {
		return s.listNotifsFn(ctx, cmd)
	}
	return domain.CursorPage[services.ActivityEntry]{}, nil
}

func (s *stubOrderService) IssueDocumentUpload(ctx context.Context, cmd services.DocumentUploadCommand) (services.SignedUploadResponse, error) {
	if s.issueUploadFn != nil {
		return s.issueUploadFn(ctx, cmd)
	}
	return services.SignedUploadResponse{}, errors.New("not implemented")
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func withTestIdentity(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{
				ID:          "ord_123",
				OrderNumber: "ORD-1100",
				UserID:      "user-1",
				ServiceID:   "svc-1",
				ServiceName: domain.NewLocalizedText("خدمة", "Service"),
				Price:       500,
				ClientStage: domain.StagePayment,
				Timeline: []domain.TimelineStep{
					{Key: domain.StepCreated, Label: "Order created", Done: true, Date: &now},
					{Key: domain.StepPayment, Label: "Payment"},
				},
				EarnedPoints: 25,
				CreatedAt:    now,
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"service_id":" svc-1 ","note":"rush"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected command user user-1, got %s", captured.UserID)
	}
	if captured.ServiceID != "svc-1" {
		t.Fatalf("expected trimmed service id svc-1, got %q", captured.ServiceID)
	}
	if captured.Note != "rush" {
		t.Fatalf("expected note rush, got %q", captured.Note)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-1100" {
		t.Fatalf("expected order number ORD-1100, got %s", resp.Order.OrderNumber)
	}
	if resp.Order.Stage != "payment" {
		t.Fatalf("expected stage payment, got %s", resp.Order.Stage)
	}
	if len(resp.Order.Timeline) != 2 {
		t.Fatalf("expected 2 timeline steps, got %d", len(resp.Order.Timeline))
	}
	if !resp.Order.Timeline[0].Done || resp.Order.Timeline[0].Date == "" {
		t.Fatalf("expected created step done with date, got %#v", resp.Order.Timeline[0])
	}
	if resp.Order.EarnedPoints != 25 {
		t.Fatalf("expected earned points 25, got %d", resp.Order.EarnedPoints)
	}
}

func TestOrderHandlersCreateOrderServiceNotFound(t *testing.T) {
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrServiceNotFound
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"service_id":"svc-missing"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderUnauthenticated(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"service_id":"svc-1"}`))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderServiceUnavailable(t *testing.T) {
	router := newOrderRouter(nil)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"service_id":"svc-1"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestOrderHandlersRedeemInsufficientBalance(t *testing.T) {
	service := &stubOrderService{
		redeemFn: func(ctx context.Context, cmd services.RedeemOrderCommand) (services.Order, error) {
			if cmd.UserID != "user-1" || cmd.ServiceID != "svc-1" {
				t.Fatalf("unexpected redeem command %#v", cmd)
			}
			return services.Order{}, services.ErrInsufficientBalance
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/redeem", strings.NewReader(`{"service_id":"svc-1"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if code, _ := body["error"].(string); code != "insufficient_points" {
		t.Fatalf("expected error code insufficient_points, got %v", body["error"])
	}
}

func TestOrderHandlersListOrdersFilters(t *testing.T) {
	now := time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items: []services.Order{
					{
						ID:          "ord_123",
						OrderNumber: "ORD-1101",
						UserID:      "user-1",
						ServiceID:   "svc-1",
						ServiceName: domain.NewLocalizedText("خدمة", "Service"),
						ClientStage: domain.StageDocuments,
						Price:       750,
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	pageToken, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{"2025-03-15T09:00:00Z", "ord_100"}})
	if err != nil {
		t.Fatalf("encode page token: %v", err)
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders?stage=documents&order_number=ORD-1101&page_size=10&page_token="+pageToken, nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected filter user user-1, got %s", captured.UserID)
	}
	if captured.ClientStage == nil || *captured.ClientStage != domain.StageDocuments {
		t.Fatalf("expected stage documents, got %#v", captured.ClientStage)
	}
	if captured.OrderNumber != "ORD-1101" {
		t.Fatalf("expected order number filter ORD-1101, got %s", captured.OrderNumber)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != pageToken {
		t.Fatalf("unexpected pagination %#v", captured.Pagination)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Items))
	}
	if resp.Items[0].OrderNumber != "ORD-1101" || resp.Items[0].Stage != "documents" {
		t.Fatalf("unexpected order summary %#v", resp.Items[0])
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidStage(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodGet, "/orders?stage=shipped", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodGet, "/orders?page_size=abc", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderScopesToRequester(t *testing.T) {
	var captured services.OrderReadCommand
	service := &stubOrderService{
		getFn: func(ctx context.Context, cmd services.OrderReadCommand) (services.Order, error) {
			captured = cmd
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_456", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if captured.OrderID != "ord_456" || captured.RequestedBy != "user-1" {
		t.Fatalf("expected read command scoped to requester, got %#v", captured)
	}
}

func TestOrderHandlersPayOrderSuccess(t *testing.T) {
	now := time.Date(2025, 4, 2, 14, 0, 0, 0, time.UTC)

	var captured services.PayOrderCommand
	service := &stubOrderService{
		payFn: func(ctx context.Context, cmd services.PayOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{
				ID:             "ord_123",
				OrderNumber:    "ORD-1100",
				UserID:         "user-1",
				ClientStage:    domain.StageDocuments,
				PaymentMethod:  "card",
				EarnedPoints:   25,
				RedeemedPoints: 0,
				CreatedAt:      now,
				UpdatedAt:      now,
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/pay", strings.NewReader(`{"payment_method":"card"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.UserID != "user-1" || captured.PaymentMethod != "card" {
		t.Fatalf("unexpected pay command %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Stage != "documents" {
		t.Fatalf("expected stage documents after payment, got %s", resp.Order.Stage)
	}
}

func TestOrderHandlersPayOrderInvalidTransition(t *testing.T) {
	service := &stubOrderService{
		payFn: func(ctx context.Context, cmd services.PayOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidTransition
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/pay", strings.NewReader(`{"payment_method":"card"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersSubmitDocuments(t *testing.T) {
	var captured services.SubmitDocumentsCommand
	service := &stubOrderService{
		submitFn: func(ctx context.Context, cmd services.SubmitDocumentsCommand) (services.Order, error) {
			captured = cmd
			return services.Order{
				ID:          "ord_123",
				UserID:      "user-1",
				ClientStage: domain.StageProcessing,
			}, nil
		},
	}

	router := newOrderRouter(service)
	body := `{"documents":[{"id":"doc-1","name":"ID scan","url":"https://storage.googleapis.com/docs/orders/ord_123/documents/doc-1/scan.png"}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/documents", strings.NewReader(body))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Documents) != 1 || captured.Documents[0].ID != "doc-1" {
		t.Fatalf("unexpected documents %#v", captured.Documents)
	}
	if captured.Documents[0].Name != "ID scan" {
		t.Fatalf("expected document name preserved, got %q", captured.Documents[0].Name)
	}
}

func TestOrderHandlersIssueUploadURL(t *testing.T) {
	expires := time.Date(2025, 4, 2, 15, 0, 0, 0, time.UTC)

	service := &stubOrderService{
		issueUploadFn: func(ctx context.Context, cmd services.DocumentUploadCommand) (services.SignedUploadResponse, error) {
			if cmd.OrderID != "ord_123" || cmd.UserID != "user-1" {
				t.Fatalf("unexpected upload command %#v", cmd)
			}
			if cmd.FileName != "scan.png" || cmd.ContentType != "image/png" {
				t.Fatalf("unexpected file metadata %#v", cmd)
			}
			return services.SignedUploadResponse{
				DocumentID: "doc-9",
				URL:        "https://signed.example.com/upload",
				ObjectURL:  "https://storage.googleapis.com/docs/orders/ord_123/documents/doc-9/scan.png",
				ExpiresAt:  expires,
				Method:     http.MethodPut,
				Headers:    map[string]string{"Content-Type": "image/png"},
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/documents/upload-url", strings.NewReader(`{"file_name":"scan.png","content_type":"image/png"}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp uploadURLResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DocumentID != "doc-9" || resp.Method != http.MethodPut {
		t.Fatalf("unexpected upload response %#v", resp)
	}
	if resp.ExpiresAt == "" {
		t.Fatalf("expected expires_at to be set")
	}
	if resp.Headers["Content-Type"] != "image/png" {
		t.Fatalf("expected content type header, got %#v", resp.Headers)
	}
}

func TestOrderHandlersDeleteOrderPermissionDenied(t *testing.T) {
	service := &stubOrderService{
		deleteFn: func(ctx context.Context, cmd services.DeleteOrderCommand) error {
			return services.ErrOrderPermissionDenied
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodDelete, "/orders/ord_123", nil)
	req = withTestIdentity(req, "someone-else")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersDeleteOrderSuccess(t *testing.T) {
	var captured services.DeleteOrderCommand
	service := &stubOrderService{
		deleteFn: func(ctx context.Context, cmd services.DeleteOrderCommand) error {
			captured = cmd
			return nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodDelete, "/orders/ord_123", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if captured.OrderID != "ord_123" || captured.UserID != "user-1" {
		t.Fatalf("unexpected delete command %#v", captured)
	}
}

func TestOrderHandlersSetNotificationsRequiresEnabled(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPut, "/orders/ord_123/notifications", strings.NewReader(`{}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersSetNotifications(t *testing.T) {
	var captured services.SetNotificationsCommand
	service := &stubOrderService{
		setNotifsFn: func(ctx context.Context, cmd services.SetNotificationsCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: "ord_123", UserID: "user-1", NotificationsEnabled: cmd.Enabled}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPut, "/orders/ord_123/notifications", strings.NewReader(`{"enabled":false}`))
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Enabled {
		t.Fatalf("expected enabled false, got %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.NotificationsEnabled {
		t.Fatalf("expected notifications disabled in payload")
	}
}

func TestOrderHandlersListNotifications(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		listNotifsFn: func(ctx context.Context, cmd services.ListNotificationsCommand) (domain.CursorPage[services.ActivityEntry], error) {
			if cmd.OrderID != "ord_123" || cmd.UserID != "user-1" {
				t.Fatalf("unexpected notifications command %#v", cmd)
			}
			return domain.CursorPage[services.ActivityEntry]{
				Items: []services.ActivityEntry{
					{
						ID:        "act-1",
						OrderID:   "ord_123",
						UserID:    "user-1",
						Action:    domain.ActivityOrderPaid,
						Message:   "payment received",
						CreatedAt: now,
					},
				},
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123/notifications", nil)
	req = withTestIdentity(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp activityListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Action != string(domain.ActivityOrderPaid) {
		t.Fatalf("unexpected activity items %#v", resp.Items)
	}
}
