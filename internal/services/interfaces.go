package services

import (
	"context"
	"time"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Order                = domain.Order
	OrderDocument        = domain.OrderDocument
	TimelineStep         = domain.TimelineStep
	ClientStage          = domain.ClientStage
	DocumentStatus       = domain.DocumentStatus
	PointsEntry          = domain.PointsEntry
	LoyaltyBalance       = domain.LoyaltyBalance
	LoyaltyLevel         = domain.LoyaltyLevel
	Service              = domain.Service
	UserProfile          = domain.UserProfile
	ActivityEntry        = domain.ActivityEntry
	ActivityAction       = domain.ActivityAction
	OrderEvent           = domain.OrderEvent
	SystemHealthReport   = domain.SystemHealthReport
	SignedUploadResponse = domain.SignedUploadResponse
	LocalizedText        = domain.LocalizedText
)

// OrderService encapsulates the order lifecycle: creation, payment,
// document submission, back-office processing, and soft deletion. Every
// transition commits atomically with its ledger, counter, and activity
// writes.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	RedeemOrder(ctx context.Context, cmd RedeemOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, cmd OrderReadCommand) (Order, error)
	PayOrder(ctx context.Context, cmd PayOrderCommand) (Order, error)
	SubmitDocuments(ctx context.Context, cmd SubmitDocumentsCommand) (Order, error)
	StartProcessing(ctx context.Context, cmd AdminTransitionCommand) (Order, error)
	CompleteOrder(ctx context.Context, cmd AdminTransitionCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	GetOrderDocuments(ctx context.Context, cmd OrderReadCommand) ([]OrderDocument, error)
	ReviewDocument(ctx context.Context, cmd ReviewDocumentCommand) (Order, error)
	SetNotifications(ctx context.Context, cmd SetNotificationsCommand) (Order, error)
	ListNotifications(ctx context.Context, cmd ListNotificationsCommand) (domain.CursorPage[ActivityEntry], error)
	IssueDocumentUpload(ctx context.Context, cmd DocumentUploadCommand) (SignedUploadResponse, error)
}

// LoyaltyService exposes the points ledger, the balance projection, and
// tier administration.
type LoyaltyService interface {
	Balance(ctx context.Context, userID string) (LoyaltyBalance, error)
	History(ctx context.Context, filter PointsHistoryFilter) (domain.CursorPage[PointsEntry], error)
	VerifyBalance(ctx context.Context, userID string) (BalanceAudit, error)
	ListLevels(ctx context.Context) ([]LoyaltyLevel, error)
	CreateLevel(ctx context.Context, cmd UpsertLevelCommand) (LoyaltyLevel, error)
	UpdateLevel(ctx context.Context, cmd UpsertLevelCommand) (LoyaltyLevel, error)
	DeleteLevel(ctx context.Context, levelID string) error
}

// CatalogService manages the purchasable service catalog.
type CatalogService interface {
	ListServices(ctx context.Context, filter ServiceListFilter) (domain.CursorPage[Service], error)
	GetService(ctx context.Context, serviceID string) (Service, error)
	CreateService(ctx context.Context, cmd UpsertServiceCommand) (Service, error)
	UpdateService(ctx context.Context, cmd UpsertServiceCommand) (Service, error)
	SetServiceActive(ctx context.Context, serviceID string, active bool) (Service, error)
}

// UserService manages marketplace user profiles.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error)
}

// ActivityLogService centralizes immutable activity log persistence and retrieval.
type ActivityLogService interface {
	Record(ctx context.Context, record ActivityRecord) error
	List(ctx context.Context, filter ActivityListFilter) (domain.CursorPage[ActivityEntry], error)
}

// CounterService manages named monotonic sequences and number formatting.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// OrderEventPublisher accepts order lifecycle events for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// UploadURLSigner issues signed URLs for direct-to-storage document uploads.
type UploadURLSigner interface {
	SignUpload(ctx context.Context, object string, contentType string, expires time.Time) (string, error)
	ObjectURL(object string) string
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	UserID    string
	ServiceID string
	Note      string
}

type RedeemOrderCommand struct {
	UserID    string
	ServiceID string
}

type OrderListFilter struct {
	UserID      string
	ClientStage *ClientStage
	OrderNumber string
	Pagination
}

// OrderReadCommand scopes reads to the requesting identity. Admin reads
// leave RequestedBy empty to bypass the ownership check.
type OrderReadCommand struct {
	OrderID     string
	RequestedBy string
}

type PayOrderCommand struct {
	OrderID       string
	UserID        string
	PaymentMethod string
}

// DocumentInput is a client-submitted document reference. The URL points
// at an object previously uploaded through IssueDocumentUpload.
type DocumentInput struct {
	ID   string
	Name string
	URL  string
}

type SubmitDocumentsCommand struct {
	OrderID   string
	UserID    string
	Documents []DocumentInput
}

type AdminTransitionCommand struct {
	OrderID string
	ActorID string
	Note    string
}

type DeleteOrderCommand struct {
	OrderID string
	UserID  string
}

type ReviewDocumentCommand struct {
	OrderID    string
	DocumentID string
	ActorID    string
	Status     DocumentStatus
	Notes      string
}

type SetNotificationsCommand struct {
	OrderID string
	UserID  string
	Enabled bool
}

type ListNotificationsCommand struct {
	OrderID string
	UserID  string
	Pagination
}

type DocumentUploadCommand struct {
	OrderID     string
	UserID      string
	FileName    string
	ContentType string
}

type PointsHistoryFilter struct {
	UserID string
	Type   *domain.PointsEntryType
	Pagination
}

// BalanceAudit compares the balance projection against the folded ledger.
type BalanceAudit struct {
	UserID          string
	ProjectedPoints int64
	LedgerEarned    int64
	LedgerRedeemed  int64
	Consistent      bool
}

type UpsertLevelCommand struct {
	LevelID   string
	Name      string
	MinPoints int64
}

type ServiceListFilter struct {
	Category   string
	ActiveOnly bool
	Pagination
}

type UpsertServiceCommand struct {
	ServiceID     string
	NameAr        string
	NameEn        string
	DescriptionAr string
	DescriptionEn string
	Category      string
	Price         int64
	LoyaltyPoints int64
	Active        bool
}

type EnsureProfileCommand struct {
	UID         string
	Email       *string
	DisplayName *string
	Phone       *string
	Locale      string
	Roles       []string
}

type UpdateProfileCommand struct {
	UID         string
	DisplayName *string
	Phone       *string
	Locale      *string
}

// ActivityRecord defines the payload accepted by the activity writer service.
type ActivityRecord struct {
	UserID   string
	OrderID  string
	Action   ActivityAction
	Message  string
	Metadata map[string]string
}

type ActivityListFilter struct {
	UserID  string
	OrderID string
	Action  *ActivityAction
	Pagination
}

type CounterCommand struct {
	Scope string
	Name  string
	Step  int64
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue reports both the raw sequence value and its formatted rendering.
type CounterValue struct {
	Value     int64
	Formatted string
}

// UnitOfWork re-exports the repository transaction boundary for service wiring.
type UnitOfWork = repositories.UnitOfWork
