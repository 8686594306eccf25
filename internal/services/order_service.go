package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/platform/storage"
	"github.com/khadamat/api/internal/repositories"
)

const (
	orderEventCreated            = "order.created"
	orderEventPaid               = "order.paid"
	orderEventDocumentsSubmitted = "order.documents.submitted"
	orderEventProcessing         = "order.processing"
	orderEventCompleted          = "order.completed"
	orderEventDeleted            = "order.deleted"

	orderIDPrefix    = "ord_"
	documentIDPrefix = "doc_"
	ledgerIDPrefix   = "pts_"

	pointsPaymentMethod = "points"
	pointsPaymentNote   = "paid with points"

	uploadURLTTL      = 15 * time.Minute
	maxOrderNoteLen   = 500
	maxDocumentName   = 160
	maxReviewNotesLen = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the order is not in a stage that
	// permits the requested transition.
	ErrOrderInvalidTransition = errors.New("order: invalid stage transition")
	// ErrOrderConflict indicates concurrent writes or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPermissionDenied indicates the caller does not own the order.
	ErrOrderPermissionDenied = errors.New("order: permission denied")
	// ErrOrderDocumentNotFound indicates a document reference that does not
	// exist on the order.
	ErrOrderDocumentNotFound = errors.New("order: document not found")
)

// payableStages are the client stages from which PayOrder may proceed.
// Re-entry while still unpaid is allowed; a completed payment step rejects
// the retry, which makes repeated payment callbacks harmless.
var payableStages = map[domain.ClientStage]bool{
	domain.StageReview:  true,
	domain.StagePayment: true,
}

// documentStages are the client stages that accept document submissions.
// Uploads are incremental: the stage stays at documents across repeated
// submissions until the back office starts processing.
var documentStages = map[domain.ClientStage]bool{
	domain.StagePayment:   true,
	domain.StageDocuments: true,
}

// completableStages are the client stages from which CompleteOrder may
// finish the order, with or without an explicit StartProcessing first.
var completableStages = map[domain.ClientStage]bool{
	domain.StageDocuments:  true,
	domain.StageProcessing: true,
}

var timelineStepLabels = map[domain.TimelineStepKey]string{
	domain.StepCreated:    "Order created",
	domain.StepPayment:    "Payment",
	domain.StepDocuments:  "Documents",
	domain.StepProcessing: "Processing",
	domain.StepFinal:      "Completed",
}

// orderTextPolicy strips all markup from client-supplied free text before
// it is persisted.
var orderTextPolicy = bluemonday.StrictPolicy()

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.ServiceRepository
	Users       repositories.UserRepository
	Ledger      repositories.PointsLedgerRepository
	Levels      repositories.LoyaltyLevelRepository
	Activity    ActivityLogService
	Counters    CounterService
	Signer      UploadURLSigner
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	EarnRate    float64
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	catalog    repositories.ServiceRepository
	users      repositories.UserRepository
	ledger     repositories.PointsLedgerRepository
	levels     repositories.LoyaltyLevelRepository
	activity   ActivityLogService
	counters   CounterService
	signer     UploadURLSigner
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	earnRate   float64
	events     OrderEventPublisher
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs the order lifecycle service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("order service: orders repository is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("order service: catalog repository is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("order service: users repository is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("order service: points ledger repository is required")
	}
	if deps.Levels == nil {
		return nil, fmt.Errorf("order service: loyalty level repository is required")
	}
	if deps.Activity == nil {
		return nil, fmt.Errorf("order service: activity log service is required")
	}
	if deps.Counters == nil {
		return nil, fmt.Errorf("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	earnRate := deps.EarnRate
	if earnRate <= 0 {
		earnRate = domain.DefaultEarnRate
	}
	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}

	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		users:      deps.Users,
		ledger:     deps.Ledger,
		levels:     deps.Levels,
		activity:   deps.Activity,
		counters:   deps.Counters,
		signer:     deps.Signer,
		unitOfWork: unitOfWork,
		clock:      func() time.Time { return clock().UTC() },
		newID:      newID,
		earnRate:   earnRate,
		events:     deps.Events,
		logger:     deps.Logger,
	}, nil
}

// CreateOrder places a new order against an active catalog service. The
// order number, the order document, and the creation activity entry commit
// in a single transaction.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if userID == "" || serviceID == "" {
		return Order{}, fmt.Errorf("%w: user and service are required", ErrOrderInvalidInput)
	}

	var created Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		svc, err := s.resolveService(txCtx, serviceID)
		if err != nil {
			return err
		}
		if _, err := s.resolveUser(txCtx, userID); err != nil {
			return err
		}
		// The counter read-modify-write must be the last read in the
		// transaction; every tx.Get after a buffered write fails.
		number, err := s.counters.NextOrderNumber(txCtx)
		if err != nil {
			return fmt.Errorf("order: allocate number: %w", err)
		}

		now := s.clock()
		created = s.newOrder(svc, userID, number, now)
		created.Note = sanitizeOrderText(cmd.Note, maxOrderNoteLen)

		if err := s.orders.Insert(txCtx, created); err != nil {
			return mapOrderRepositoryError(err)
		}
		return s.recordOrderActivity(txCtx, created, domain.ActivityOrderCreated,
			fmt.Sprintf("order %s created", created.OrderNumber), nil)
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventCreated, created, nil)
	return created, nil
}

// RedeemOrder places an order paid entirely with loyalty points. The order
// is created with the payment step already complete, the redeem ledger
// entry appended, and the balance projection decremented, all atomically.
func (s *orderService) RedeemOrder(ctx context.Context, cmd RedeemOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if userID == "" || serviceID == "" {
		return Order{}, fmt.Errorf("%w: user and service are required", ErrOrderInvalidInput)
	}

	var created Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		svc, err := s.resolveService(txCtx, serviceID)
		if err != nil {
			return err
		}
		user, err := s.resolveUser(txCtx, userID)
		if err != nil {
			return err
		}

		required := domain.RequiredPoints(svc)
		if required <= 0 {
			return fmt.Errorf("%w: service cannot be redeemed", ErrOrderInvalidInput)
		}
		if user.Loyalty.Points < required {
			return fmt.Errorf("%w: need %d points, have %d", ErrInsufficientBalance, required, user.Loyalty.Points)
		}

		tiers, err := s.levels.ListOrdered(txCtx)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		number, err := s.counters.NextOrderNumber(txCtx)
		if err != nil {
			return fmt.Errorf("order: allocate number: %w", err)
		}

		now := s.clock()
		created = s.newOrder(svc, userID, number, now)
		created.PaymentMethod = pointsPaymentMethod
		created.RedeemedPoints = required
		created.Status = domain.StatusInProgress
		created.ClientStage = domain.StagePayment
		markStepDone(&created, domain.StepPayment, now, pointsPaymentNote)

		if err := s.orders.Insert(txCtx, created); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.ledger.Append(txCtx, domain.PointsEntry{
			ID:          ledgerIDPrefix + s.newID(),
			UserID:      userID,
			OrderID:     created.ID,
			ServiceID:   created.ServiceID,
			Type:        domain.PointsRedeem,
			Points:      required,
			Method:      pointsPaymentMethod,
			Description: fmt.Sprintf("redeemed for order %s", created.OrderNumber),
			CreatedAt:   now,
		}); err != nil {
			return mapOrderRepositoryError(err)
		}

		balance := user.Loyalty
		balance.Points -= required
		balance.PointsUsed += required
		balance.Level = domain.ResolveLevel(tiers, balance.Points)
		if err := s.users.UpdateLoyalty(txCtx, userID, balance, now); err != nil {
			return mapOrderRepositoryError(err)
		}

		if err := s.recordOrderActivity(txCtx, created, domain.ActivityOrderCreated,
			fmt.Sprintf("order %s created", created.OrderNumber),
			map[string]string{"paymentMethod": pointsPaymentMethod}); err != nil {
			return err
		}
		return s.recordOrderActivity(txCtx, created, domain.ActivityPointsRedeemed,
			fmt.Sprintf("%d points redeemed for order %s", required, created.OrderNumber),
			map[string]string{"points": fmt.Sprintf("%d", required)})
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventCreated, created, map[string]string{"paymentMethod": pointsPaymentMethod})
	return created, nil
}

// ListOrders returns a page of orders. An empty UserID lists across all
// users, which is reserved for back-office callers by the transport layer.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:      strings.TrimSpace(filter.UserID),
		ClientStage: filter.ClientStage,
		OrderNumber: strings.TrimSpace(filter.OrderNumber),
		Pagination:  domain.Pagination{PageSize: filter.PageSize, PageToken: filter.PageToken},
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// GetOrder fetches one order scoped to the requesting identity. Ownership
// misses surface as not found rather than forbidden so that order IDs are
// not probeable.
func (s *orderService) GetOrder(ctx context.Context, cmd OrderReadCommand) (Order, error) {
	return s.loadOwnedOrder(ctx, cmd.OrderID, cmd.RequestedBy)
}

// GetOrderDocuments returns the documents attached to an order, scoped to
// the requesting identity.
func (s *orderService) GetOrderDocuments(ctx context.Context, cmd OrderReadCommand) ([]OrderDocument, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.RequestedBy)
	if err != nil {
		return nil, err
	}
	docs := make([]OrderDocument, len(order.Documents))
	copy(docs, order.Documents)
	return docs, nil
}

// PayOrder marks the payment step complete and advances the client stage
// to payment; the stage moves on to documents only once the customer
// submits files. Earned points, the balance projection, and the payment
// activity entry commit with the order update.
func (s *orderService) PayOrder(ctx context.Context, cmd PayOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	method := sanitizeOrderText(cmd.PaymentMethod, 60)
	if method == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	var (
		updated Order
		earned  int64
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOwnedOrder(txCtx, orderID, cmd.UserID)
		if err != nil {
			return err
		}
		if !payableStages[order.ClientStage] {
			return fmt.Errorf("%w: order %s is in stage %q", ErrOrderInvalidTransition, order.OrderNumber, order.ClientStage)
		}
		if step := order.Step(domain.StepPayment); step != nil && step.Done {
			return fmt.Errorf("%w: order %s is already paid", ErrOrderInvalidTransition, order.OrderNumber)
		}
		user, err := s.resolveUser(txCtx, order.UserID)
		if err != nil {
			return err
		}
		tiers, err := s.levels.ListOrdered(txCtx)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		now := s.clock()
		order.PaymentMethod = method
		order.Status = domain.StatusInProgress
		order.ClientStage = domain.StagePayment
		markStepDone(&order, domain.StepPayment, now, "via "+method)
		earned = domain.EarnedPoints(order.Price, s.earnRate)
		order.EarnedPoints = earned
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}

		if earned > 0 {
			if err := s.ledger.Append(txCtx, domain.PointsEntry{
				ID:          ledgerIDPrefix + s.newID(),
				UserID:      order.UserID,
				OrderID:     order.ID,
				ServiceID:   order.ServiceID,
				Type:        domain.PointsEarn,
				Points:      earned,
				Method:      method,
				Description: fmt.Sprintf("earned on order %s", order.OrderNumber),
				CreatedAt:   now,
			}); err != nil {
				return mapOrderRepositoryError(err)
			}
			balance := user.Loyalty
			balance.Points += earned
			balance.Level = domain.ResolveLevel(tiers, balance.Points)
			if err := s.users.UpdateLoyalty(txCtx, order.UserID, balance, now); err != nil {
				return mapOrderRepositoryError(err)
			}
			if err := s.recordOrderActivity(txCtx, order, domain.ActivityPointsEarned,
				fmt.Sprintf("%d points earned on order %s", earned, order.OrderNumber),
				map[string]string{"points": fmt.Sprintf("%d", earned)}); err != nil {
				return err
			}
		}

		if err := s.recordOrderActivity(txCtx, order, domain.ActivityOrderPaid,
			fmt.Sprintf("order %s paid via %s", order.OrderNumber, method),
			map[string]string{"paymentMethod": method}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventPaid, updated, map[string]string{"paymentMethod": method})
	return updated, nil
}

// SubmitDocuments attaches customer documents, replacing any existing
// document with the same name or id and appending the rest. Submissions
// are incremental: the stage moves to documents and stays there across
// repeated calls, so customers can fix a rejected or needUpdate file at
// any time before processing starts. Replacement is last write wins.
func (s *orderService) SubmitDocuments(ctx context.Context, cmd SubmitDocumentsCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Documents) == 0 {
		return Order{}, fmt.Errorf("%w: at least one document is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOwnedOrder(txCtx, orderID, cmd.UserID)
		if err != nil {
			return err
		}
		if !documentStages[order.ClientStage] {
			return fmt.Errorf("%w: order %s is in stage %q", ErrOrderInvalidTransition, order.OrderNumber, order.ClientStage)
		}

		now := s.clock()
		for _, input := range cmd.Documents {
			name := sanitizeOrderText(input.Name, maxDocumentName)
			url := strings.TrimSpace(input.URL)
			if name == "" || url == "" {
				return fmt.Errorf("%w: document name and url are required", ErrOrderInvalidInput)
			}
			doc := domain.OrderDocument{
				ID:         strings.TrimSpace(input.ID),
				Name:       name,
				URL:        url,
				Status:     domain.DocumentStatusPending,
				UploadedAt: now,
			}
			if doc.ID == "" {
				doc.ID = documentIDPrefix + s.newID()
			}
			order.Documents = upsertDocument(order.Documents, doc)
		}

		note := fmt.Sprintf("%d documents submitted", len(cmd.Documents))
		if len(cmd.Documents) == 1 {
			note = "1 document submitted"
		}
		order.ClientStage = domain.StageDocuments
		markStepDone(&order, domain.StepDocuments, now, note)
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.recordOrderActivity(txCtx, order, domain.ActivityOrderDocuments,
			fmt.Sprintf("order %s: %s", order.OrderNumber, note),
			map[string]string{"count": fmt.Sprintf("%d", len(cmd.Documents))}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventDocumentsSubmitted, updated, nil)
	return updated, nil
}

// StartProcessing advances a documents-stage order to processing. This is
// the only transition that moves the stage past documents, which is what
// keeps later document resubmissions out.
func (s *orderService) StartProcessing(ctx context.Context, cmd AdminTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOwnedOrder(txCtx, orderID, "")
		if err != nil {
			return err
		}
		if order.ClientStage != domain.StageDocuments {
			return fmt.Errorf("%w: order %s is in stage %q", ErrOrderInvalidTransition, order.OrderNumber, order.ClientStage)
		}

		now := s.clock()
		order.ClientStage = domain.StageProcessing
		markStepDone(&order, domain.StepProcessing, now, sanitizeOrderText(cmd.Note, maxOrderNoteLen))
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.recordOrderActivity(txCtx, order, domain.ActivityOrderProcessing,
			fmt.Sprintf("order %s entered processing", order.OrderNumber), nil); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventProcessing, updated, nil)
	return updated, nil
}

// CompleteOrder finishes the order. Any not yet completed middle step is
// stamped together with the final one so the timeline never shows an
// unfinished step on a completed order.
func (s *orderService) CompleteOrder(ctx context.Context, cmd AdminTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOwnedOrder(txCtx, orderID, "")
		if err != nil {
			return err
		}
		if !completableStages[order.ClientStage] {
			return fmt.Errorf("%w: order %s is in stage %q", ErrOrderInvalidTransition, order.OrderNumber, order.ClientStage)
		}

		now := s.clock()
		if step := order.Step(domain.StepProcessing); step != nil && !step.Done {
			markStepDone(&order, domain.StepProcessing, now, "")
		}
		markStepDone(&order, domain.StepFinal, now, sanitizeOrderText(cmd.Note, maxOrderNoteLen))
		order.Status = domain.StatusDone
		order.ClientStage = domain.StageComplete
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.recordOrderActivity(txCtx, order, domain.ActivityOrderCompleted,
			fmt.Sprintf("order %s completed", order.OrderNumber), nil); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventCompleted, updated, nil)
	return updated, nil
}

// DeleteOrder soft deletes an order. Only the owner may delete; points
// already earned or redeemed are untouched because the ledger is immutable.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return fmt.Errorf("%w: order id and user are required", ErrOrderInvalidInput)
	}

	var deleted Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.Deleted() {
			return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %s", ErrOrderPermissionDenied, order.OrderNumber)
		}

		now := s.clock()
		if err := s.orders.SoftDelete(txCtx, order.ID, now); err != nil {
			return mapOrderRepositoryError(err)
		}
		deleted = order
		return s.recordOrderActivity(txCtx, order, domain.ActivityOrderDeleted,
			fmt.Sprintf("order %s deleted", order.OrderNumber), nil)
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, orderEventDeleted, deleted, nil)
	return nil
}

// ReviewDocument stamps a review outcome on one document. Review never
// moves the client stage; customers fix rejected or needUpdate documents
// by resubmitting them through SubmitDocuments.
func (s *orderService) ReviewDocument(ctx context.Context, cmd ReviewDocumentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	documentID := strings.TrimSpace(cmd.DocumentID)
	if orderID == "" || documentID == "" {
		return Order{}, fmt.Errorf("%w: order id and document id are required", ErrOrderInvalidInput)
	}
	switch cmd.Status {
	case domain.DocumentStatusApproved, domain.DocumentStatusRejected, domain.DocumentStatusNeedUpdate:
	default:
		return Order{}, fmt.Errorf("%w: unsupported document status %q", ErrOrderInvalidInput, cmd.Status)
	}

	var updated Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadOwnedOrder(txCtx, orderID, "")
		if err != nil {
			return err
		}
		doc := order.Document(documentID)
		if doc == nil {
			return fmt.Errorf("%w: %s on order %s", ErrOrderDocumentNotFound, documentID, order.OrderNumber)
		}

		now := s.clock()
		doc.Status = cmd.Status
		doc.Notes = sanitizeOrderText(cmd.Notes, maxReviewNotesLen)
		doc.ReviewedAt = &now
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.recordOrderActivity(txCtx, order, domain.ActivityDocumentReviewed,
			fmt.Sprintf("document %s on order %s marked %s", doc.Name, order.OrderNumber, cmd.Status),
			map[string]string{"documentId": doc.ID, "status": string(cmd.Status)}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// SetNotifications toggles the per-order notification feed. Only the
// owner may change the toggle.
func (s *orderService) SetNotifications(ctx context.Context, cmd SetNotificationsCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return Order{}, fmt.Errorf("%w: order id and user are required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.Deleted() {
			return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %s", ErrOrderPermissionDenied, order.OrderNumber)
		}
		if order.NotificationsEnabled == cmd.Enabled {
			updated = order
			return nil
		}

		now := s.clock()
		order.NotificationsEnabled = cmd.Enabled
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.recordOrderActivity(txCtx, order, domain.ActivityOrderNotifications,
			fmt.Sprintf("notifications %s for order %s", enabledWord(cmd.Enabled), order.OrderNumber),
			map[string]string{"enabled": fmt.Sprintf("%t", cmd.Enabled)}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// ListNotifications returns the activity feed of an order for its owner.
// A disabled toggle yields an empty page rather than an error so clients
// can render the feed unconditionally.
func (s *orderService) ListNotifications(ctx context.Context, cmd ListNotificationsCommand) (domain.CursorPage[ActivityEntry], error) {
	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return domain.CursorPage[ActivityEntry]{}, err
	}
	if !order.NotificationsEnabled {
		return domain.CursorPage[ActivityEntry]{Items: []ActivityEntry{}}, nil
	}
	return s.activity.List(ctx, ActivityListFilter{
		OrderID:    order.ID,
		Pagination: Pagination{PageSize: cmd.PageSize, PageToken: cmd.PageToken},
	})
}

// IssueDocumentUpload returns a short-lived signed PUT URL for a direct
// document upload. The returned document id is what the client later
// references in SubmitDocuments.
func (s *orderService) IssueDocumentUpload(ctx context.Context, cmd DocumentUploadCommand) (SignedUploadResponse, error) {
	if s.signer == nil {
		return SignedUploadResponse{}, fmt.Errorf("order: upload signing is not configured")
	}
	fileName := sanitizeFileName(cmd.FileName)
	if fileName == "" {
		return SignedUploadResponse{}, fmt.Errorf("%w: file name is required", ErrOrderInvalidInput)
	}
	contentType := strings.TrimSpace(cmd.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return SignedUploadResponse{}, err
	}
	if !documentStages[order.ClientStage] {
		return SignedUploadResponse{}, fmt.Errorf("%w: order %s is in stage %q", ErrOrderInvalidTransition, order.OrderNumber, order.ClientStage)
	}

	documentID := documentIDPrefix + s.newID()
	object, err := storage.BuildObjectPath(storage.PurposeOrderDocument, storage.PathParams{
		OrderID:    order.ID,
		DocumentID: documentID,
		FileName:   fileName,
	})
	if err != nil {
		return SignedUploadResponse{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	expires := s.clock().Add(uploadURLTTL)
	url, err := s.signer.SignUpload(ctx, object, contentType, expires)
	if err != nil {
		return SignedUploadResponse{}, fmt.Errorf("order: sign upload: %w", err)
	}

	return SignedUploadResponse{
		DocumentID: documentID,
		URL:        url,
		ObjectURL:  s.signer.ObjectURL(object),
		ExpiresAt:  expires,
		Method:     "PUT",
		Headers:    map[string]string{"Content-Type": contentType},
	}, nil
}

// newOrder builds a fresh order with the five fixed timeline steps and the
// creation step already stamped.
func (s *orderService) newOrder(svc domain.Service, userID, number string, now time.Time) Order {
	timeline := make([]domain.TimelineStep, 0, len(domain.TimelineStepKeys))
	for _, key := range domain.TimelineStepKeys {
		timeline = append(timeline, domain.TimelineStep{Key: key, Label: timelineStepLabels[key]})
	}
	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: number,
		UserID:      userID,
		ServiceID:   svc.ID,
		ServiceName: svc.Name.Clone(),
		Price:       svc.Price,
		Status:      domain.StatusWaiting,
		ClientStage: domain.StageReview,
		Timeline:    timeline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	markStepDone(&order, domain.StepCreated, now, "")
	return order
}

// loadOwnedOrder fetches an order and enforces the ownership scope. An
// empty requestedBy skips the check for back-office callers.
func (s *orderService) loadOwnedOrder(ctx context.Context, orderID, requestedBy string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if order.Deleted() {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if requestedBy = strings.TrimSpace(requestedBy); requestedBy != "" && order.UserID != requestedBy {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) resolveService(ctx context.Context, serviceID string) (domain.Service, error) {
	svc, err := s.catalog.FindByID(ctx, serviceID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Service{}, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
		}
		return domain.Service{}, mapOrderRepositoryError(err)
	}
	if !svc.Active {
		return domain.Service{}, fmt.Errorf("%w: service %s is not available", ErrOrderInvalidInput, serviceID)
	}
	return svc, nil
}

func (s *orderService) resolveUser(ctx context.Context, userID string) (domain.UserProfile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.UserProfile{}, fmt.Errorf("%w: unknown user %s", ErrOrderInvalidInput, userID)
		}
		return domain.UserProfile{}, mapOrderRepositoryError(err)
	}
	return user, nil
}

// recordOrderActivity appends one activity entry inside the caller's
// transaction. Failures abort the transaction so a transition never
// commits without its log row.
func (s *orderService) recordOrderActivity(ctx context.Context, order Order, action domain.ActivityAction, message string, metadata map[string]string) error {
	return s.activity.Record(ctx, ActivityRecord{
		UserID:   order.UserID,
		OrderID:  order.ID,
		Action:   action,
		Message:  message,
		Metadata: metadata,
	})
}

// publishEvent emits a lifecycle event after the transaction committed.
// Publish failures are logged and swallowed; the committed state is the
// source of truth.
func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order, metadata map[string]string) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Stage:       order.ClientStage,
		OccurredAt:  s.clock(),
		Metadata:    metadata,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logEvent(ctx, "order.event.publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) logEvent(ctx context.Context, event string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger(ctx, event, fields)
}

// markStepDone stamps one timeline step. Existing notes are only
// overwritten by a non-empty note.
func markStepDone(order *Order, key domain.TimelineStepKey, at time.Time, note string) {
	step := order.Step(key)
	if step == nil {
		return
	}
	step.Done = true
	at = at.UTC()
	step.Date = &at
	if note != "" {
		step.Note = note
	}
}

// upsertDocument replaces an existing document matching by id or name,
// appending otherwise.
func upsertDocument(docs []domain.OrderDocument, doc domain.OrderDocument) []domain.OrderDocument {
	for i := range docs {
		if docs[i].ID == doc.ID || strings.EqualFold(docs[i].Name, doc.Name) {
			docs[i] = doc
			return docs
		}
	}
	return append(docs, doc)
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func sanitizeOrderText(input string, limit int) string {
	input = strings.TrimSpace(orderTextPolicy.Sanitize(input))
	if limit > 0 && len(input) > limit {
		input = input[:limit]
	}
	return input
}

// sanitizeFileName reduces a client file name to its base name and strips
// characters that are unsafe in object paths.
func sanitizeFileName(name string) string {
	name = path.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '.', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return strings.Trim(builder.String(), "._")
}

// mapOrderRepositoryError translates repository failures into order
// sentinel errors.
func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}

// noopUnitOfWork executes the callback without any transactional boundary.
// It keeps single-repository deployments and unit tests simple.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
