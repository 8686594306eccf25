package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// OrderStatus is the coarse operational state of an order, used by
// back-office dashboards. The fine-grained progress lives in ClientStage.
type OrderStatus string

const (
	// StatusWaiting means the order was placed but not yet paid.
	StatusWaiting OrderStatus = "waiting"
	// StatusInProgress means payment landed and the order is being worked.
	StatusInProgress OrderStatus = "in-progress"
	// StatusDone means the order finished.
	StatusDone OrderStatus = "done"
)

// ClientStage tracks the customer-facing progress pointer of an order.
type ClientStage string

const (
	// StageReview means the order was placed and awaits payment.
	StageReview ClientStage = "review"
	// StagePayment means payment is in progress.
	StagePayment ClientStage = "payment"
	// StageDocuments means payment succeeded and documents are awaited.
	StageDocuments ClientStage = "documents"
	// StageProcessing means documents were submitted and the back office is working.
	StageProcessing ClientStage = "processing"
	// StageComplete marks a finished order.
	StageComplete ClientStage = "complete"
)

// TimelineStepKey identifies one of the five fixed order timeline steps.
type TimelineStepKey string

const (
	// StepCreated is the first timeline step, completed at order creation.
	StepCreated TimelineStepKey = "created"
	// StepPayment is completed when the order is paid.
	StepPayment TimelineStepKey = "payment"
	// StepDocuments is completed when required documents are submitted.
	StepDocuments TimelineStepKey = "documents"
	// StepProcessing is completed when back-office processing starts.
	StepProcessing TimelineStepKey = "processing"
	// StepFinal is completed when the order is done.
	StepFinal TimelineStepKey = "final"
)

// TimelineStepKeys lists the fixed steps in canonical order. Every order
// carries exactly these five steps; no operation may add, remove, or
// reorder them.
var TimelineStepKeys = []TimelineStepKey{
	StepCreated,
	StepPayment,
	StepDocuments,
	StepProcessing,
	StepFinal,
}

// TimelineStep records the completion state of a single fixed step.
type TimelineStep struct {
	Key   TimelineStepKey
	Label string
	Done  bool
	Date  *time.Time
	Note  string
}

// DocumentStatus enumerates review outcomes for an uploaded order document.
type DocumentStatus string

const (
	// DocumentStatusPending means the document awaits review.
	DocumentStatusPending DocumentStatus = "pending"
	// DocumentStatusApproved means the document passed review.
	DocumentStatusApproved DocumentStatus = "approved"
	// DocumentStatusRejected means the document failed review.
	DocumentStatusRejected DocumentStatus = "rejected"
	// DocumentStatusNeedUpdate means the customer must re-upload a corrected file.
	DocumentStatusNeedUpdate DocumentStatus = "needUpdate"
)

// OrderDocument stores one customer-uploaded document attached to an order.
type OrderDocument struct {
	ID         string
	Name       string
	URL        string
	Status     DocumentStatus
	Notes      string
	UploadedAt time.Time
	ReviewedAt *time.Time
}

// Order aggregates the full state of a marketplace order.
type Order struct {
	ID                   string
	OrderNumber          string
	UserID               string
	ServiceID            string
	ServiceName          LocalizedText
	Price                int64
	PaymentMethod        string
	Status               OrderStatus
	ClientStage          ClientStage
	Timeline             []TimelineStep
	Documents            []OrderDocument
	Note                 string
	NotificationsEnabled bool
	EarnedPoints         int64
	RedeemedPoints       int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}

// Deleted reports whether the order was soft deleted.
func (o Order) Deleted() bool {
	return o.DeletedAt != nil
}

// Step returns the timeline step with the given key, or nil when absent.
func (o *Order) Step(key TimelineStepKey) *TimelineStep {
	for i := range o.Timeline {
		if o.Timeline[i].Key == key {
			return &o.Timeline[i]
		}
	}
	return nil
}

// Document returns the document with the given ID, or nil when absent.
func (o *Order) Document(id string) *OrderDocument {
	for i := range o.Documents {
		if o.Documents[i].ID == id {
			return &o.Documents[i]
		}
	}
	return nil
}

// OrderFilter restricts order listings.
type OrderFilter struct {
	UserID      string
	ClientStage *ClientStage
	Search      string
}

// PointsEntryType discriminates loyalty ledger entries.
type PointsEntryType string

const (
	// PointsEarn credits points to the user.
	PointsEarn PointsEntryType = "earn"
	// PointsRedeem debits points from the user.
	PointsRedeem PointsEntryType = "redeem"
)

// PointsEntry is a single immutable row of the loyalty ledger. Entries are
// append-only; the user balance is always the sum of earns minus redeems.
type PointsEntry struct {
	ID          string
	UserID      string
	OrderID     string
	ServiceID   string
	RewardID    string
	Type        PointsEntryType
	Points      int64
	Method      string
	Description string
	CreatedAt   time.Time
}

// PointsFilter restricts ledger listings.
type PointsFilter struct {
	UserID string
	Type   *PointsEntryType
}

// LoyaltyBalance is the denormalised points projection kept on the user
// document. PointsUsed only ever grows.
type LoyaltyBalance struct {
	Points     int64
	PointsUsed int64
	Level      string
}

// LifetimeEarned returns the total points ever credited to the user.
func (b LoyaltyBalance) LifetimeEarned() int64 {
	return b.Points + b.PointsUsed
}

// LoyaltyLevel is one row of the ordered tier table.
type LoyaltyLevel struct {
	ID        string
	Name      string
	MinPoints int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service is a purchasable catalog entry.
type Service struct {
	ID            string
	Name          LocalizedText
	Description   LocalizedText
	Category      string
	Price         int64
	LoyaltyPoints int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ServiceFilter restricts catalog listings.
type ServiceFilter struct {
	Category   string
	ActiveOnly bool
}

// UserProfile stores the marketplace-facing user record.
type UserProfile struct {
	UID         string
	Email       *string
	DisplayName *string
	Phone       *string
	Locale      string
	Roles       []string
	Loyalty     LoyaltyBalance
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActivityAction enumerates the recorded lifecycle transitions.
type ActivityAction string

const (
	// ActivityOrderCreated is recorded when an order is placed.
	ActivityOrderCreated ActivityAction = "order.created"
	// ActivityOrderPaid is recorded when an order payment step completes.
	ActivityOrderPaid ActivityAction = "order.paid"
	// ActivityOrderDocuments is recorded when documents are submitted.
	ActivityOrderDocuments ActivityAction = "order.documents"
	// ActivityOrderProcessing is recorded when back-office processing starts.
	ActivityOrderProcessing ActivityAction = "order.processing"
	// ActivityOrderCompleted is recorded when an order finishes.
	ActivityOrderCompleted ActivityAction = "order.completed"
	// ActivityOrderDeleted is recorded when an owner soft deletes an order.
	ActivityOrderDeleted ActivityAction = "order.deleted"
	// ActivityOrderNotifications is recorded when the notifications toggle changes.
	ActivityOrderNotifications ActivityAction = "order.notifications"
	// ActivityPointsEarned is recorded when loyalty points are credited.
	ActivityPointsEarned ActivityAction = "points.earned"
	// ActivityPointsRedeemed is recorded when loyalty points are debited.
	ActivityPointsRedeemed ActivityAction = "points.redeemed"
	// ActivityDocumentReviewed is recorded when an admin stamps a document.
	ActivityDocumentReviewed ActivityAction = "document.reviewed"
)

// ActivityEntry is one append-only row of the activity log. Exactly one
// entry exists per state transition, written in the transition's
// transaction.
type ActivityEntry struct {
	ID        string
	UserID    string
	OrderID   string
	Action    ActivityAction
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// ActivityFilter restricts activity listings.
type ActivityFilter struct {
	UserID  string
	OrderID string
	Action  *ActivityAction
}

// OrderEvent is the payload published after a lifecycle transition commits.
type OrderEvent struct {
	Type        string            `json:"type"`
	OrderID     string            `json:"orderId"`
	OrderNumber string            `json:"orderNumber"`
	UserID      string            `json:"userId"`
	Stage       ClientStage       `json:"stage"`
	OccurredAt  time.Time         `json:"occurredAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SignedUploadResponse returns a signed URL payload for direct document uploads.
type SignedUploadResponse struct {
	DocumentID string
	URL        string
	ObjectURL  string
	ExpiresAt  time.Time
	Method     string
	Headers    map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
