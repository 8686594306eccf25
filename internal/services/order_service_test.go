package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/repositories"
)

type repoNotFoundError struct{ msg string }

func (e repoNotFoundError) Error() string       { return e.msg }
func (e repoNotFoundError) IsNotFound() bool    { return true }
func (e repoNotFoundError) IsConflict() bool    { return false }
func (e repoNotFoundError) IsUnavailable() bool { return false }

type fakeOrdersRepo struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	inserts int
	updates int
	deletes int
}

func newFakeOrdersRepo() *fakeOrdersRepo {
	return &fakeOrdersRepo{orders: make(map[string]domain.Order)}
}

func (r *fakeOrdersRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrdersRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return repoNotFoundError{msg: "order " + order.ID}
	}
	r.updates++
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrdersRepo) SoftDelete(_ context.Context, orderID string, deletedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return repoNotFoundError{msg: "order " + orderID}
	}
	r.deletes++
	order.DeletedAt = &deletedAt
	r.orders[orderID] = order
	return nil
}

func (r *fakeOrdersRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoNotFoundError{msg: "order " + orderID}
	}
	return order, nil
}

func (r *fakeOrdersRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if order.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

type fakeCatalogRepo struct {
	mu       sync.Mutex
	services map[string]domain.Service
}

func newFakeCatalogRepo(services ...domain.Service) *fakeCatalogRepo {
	repo := &fakeCatalogRepo{services: make(map[string]domain.Service)}
	for _, svc := range services {
		repo.services[svc.ID] = svc
	}
	return repo
}

func (r *fakeCatalogRepo) Insert(_ context.Context, svc domain.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ID] = svc
	return nil
}

func (r *fakeCatalogRepo) Update(_ context.Context, svc domain.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[svc.ID]; !ok {
		return repoNotFoundError{msg: "service " + svc.ID}
	}
	r.services[svc.ID] = svc
	return nil
}

func (r *fakeCatalogRepo) FindByID(_ context.Context, serviceID string) (domain.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return domain.Service{}, repoNotFoundError{msg: "service " + serviceID}
	}
	return svc, nil
}

func (r *fakeCatalogRepo) List(_ context.Context, filter repositories.ServiceListFilter) (domain.CursorPage[domain.Service], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Service
	for _, svc := range r.services {
		if filter.ActiveOnly && !svc.Active {
			continue
		}
		if filter.Category != "" && svc.Category != filter.Category {
			continue
		}
		items = append(items, svc)
	}
	return domain.CursorPage[domain.Service]{Items: items}, nil
}

type fakeUsersRepo struct {
	mu    sync.Mutex
	users map[string]domain.UserProfile
}

func newFakeUsersRepo(users ...domain.UserProfile) *fakeUsersRepo {
	repo := &fakeUsersRepo{users: make(map[string]domain.UserProfile)}
	for _, user := range users {
		repo.users[user.UID] = user
	}
	return repo
}

func (r *fakeUsersRepo) FindByID(_ context.Context, userID string) (domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.UserProfile{}, repoNotFoundError{msg: "user " + userID}
	}
	return user, nil
}

func (r *fakeUsersRepo) UpdateProfile(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[profile.UID] = profile
	return profile, nil
}

func (r *fakeUsersRepo) UpdateLoyalty(_ context.Context, userID string, balance domain.LoyaltyBalance, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return repoNotFoundError{msg: "user " + userID}
	}
	user.Loyalty = balance
	user.UpdatedAt = updatedAt
	r.users[userID] = user
	return nil
}

func (r *fakeUsersRepo) EnsureExists(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[profile.UID]; ok {
		return existing, nil
	}
	r.users[profile.UID] = profile
	return profile, nil
}

func (r *fakeUsersRepo) loyalty(userID string) domain.LoyaltyBalance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID].Loyalty
}

type fakeLedgerRepo struct {
	mu      sync.Mutex
	entries []domain.PointsEntry
}

func (r *fakeLedgerRepo) Append(_ context.Context, entry domain.PointsEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeLedgerRepo) List(_ context.Context, filter repositories.PointsListFilter) (domain.CursorPage[domain.PointsEntry], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.PointsEntry
	for _, entry := range r.entries {
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.Type != nil && entry.Type != *filter.Type {
			continue
		}
		items = append(items, entry)
	}
	return domain.CursorPage[domain.PointsEntry]{Items: items}, nil
}

func (r *fakeLedgerRepo) SumByUser(_ context.Context, userID string) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var earned, redeemed int64
	for _, entry := range r.entries {
		if entry.UserID != userID {
			continue
		}
		switch entry.Type {
		case domain.PointsEarn:
			earned += entry.Points
		case domain.PointsRedeem:
			redeemed += entry.Points
		}
	}
	return earned, redeemed, nil
}

type fakeLevelsRepo struct {
	mu     sync.Mutex
	levels []domain.LoyaltyLevel
}

func (r *fakeLevelsRepo) Insert(_ context.Context, level domain.LoyaltyLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
	return nil
}

func (r *fakeLevelsRepo) Update(_ context.Context, level domain.LoyaltyLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.levels {
		if r.levels[i].ID == level.ID {
			r.levels[i] = level
			return nil
		}
	}
	return repoNotFoundError{msg: "level " + level.ID}
}

func (r *fakeLevelsRepo) Delete(_ context.Context, levelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.levels {
		if r.levels[i].ID == levelID {
			r.levels = append(r.levels[:i], r.levels[i+1:]...)
			return nil
		}
	}
	return repoNotFoundError{msg: "level " + levelID}
}

func (r *fakeLevelsRepo) FindByID(_ context.Context, levelID string) (domain.LoyaltyLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, level := range r.levels {
		if level.ID == levelID {
			return level, nil
		}
	}
	return domain.LoyaltyLevel{}, repoNotFoundError{msg: "level " + levelID}
}

func (r *fakeLevelsRepo) ListOrdered(_ context.Context) ([]domain.LoyaltyLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LoyaltyLevel, len(r.levels))
	copy(out, r.levels)
	return out, nil
}

type recordingActivityLog struct {
	mu      sync.Mutex
	records []ActivityRecord
}

func (l *recordingActivityLog) Record(_ context.Context, record ActivityRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *recordingActivityLog) List(_ context.Context, filter ActivityListFilter) (domain.CursorPage[ActivityEntry], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var items []ActivityEntry
	for i, record := range l.records {
		if filter.OrderID != "" && record.OrderID != filter.OrderID {
			continue
		}
		items = append(items, ActivityEntry{
			ID:       fmt.Sprintf("act_%d", i),
			UserID:   record.UserID,
			OrderID:  record.OrderID,
			Action:   record.Action,
			Message:  record.Message,
			Metadata: record.Metadata,
		})
	}
	return domain.CursorPage[ActivityEntry]{Items: items}, nil
}

func (l *recordingActivityLog) actions() []domain.ActivityAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	actions := make([]domain.ActivityAction, 0, len(l.records))
	for _, record := range l.records {
		actions = append(actions, record.Action)
	}
	return actions
}

type fakeCounterSvc struct {
	mu   sync.Mutex
	next int64
}

func (c *fakeCounterSvc) Next(_ context.Context, _, _ string, opts CounterGenerationOptions) (CounterValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	value := CounterValue{Value: c.next}
	if opts.Formatter != nil {
		value.Formatted = opts.Formatter(time.Time{}, c.next)
	}
	return value, nil
}

func (c *fakeCounterSvc) NextOrderNumber(ctx context.Context) (string, error) {
	result, err := c.Next(ctx, "orders", "global", CounterGenerationOptions{
		Step:      1,
		Formatter: func(_ time.Time, seq int64) string { return fmt.Sprintf("ORD-%d", 1099+seq) },
	})
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *capturingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeSigner struct{}

func (fakeSigner) SignUpload(_ context.Context, object, _ string, expires time.Time) (string, error) {
	return "https://storage.example.com/" + object + "?sig=abc&exp=" + expires.Format("20060102"), nil
}

func (fakeSigner) ObjectURL(object string) string {
	return "https://storage.example.com/" + object
}

type orderFixture struct {
	svc      OrderService
	orders   *fakeOrdersRepo
	catalog  *fakeCatalogRepo
	users    *fakeUsersRepo
	ledger   *fakeLedgerRepo
	levels   *fakeLevelsRepo
	activity *recordingActivityLog
	events   *capturingPublisher
	now      time.Time
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	fixture := &orderFixture{
		orders: newFakeOrdersRepo(),
		catalog: newFakeCatalogRepo(domain.Service{
			ID:            "svc_translation",
			Name:          domain.NewLocalizedText("ترجمة", "Translation"),
			Price:         300,
			LoyaltyPoints: 0,
			Active:        true,
		}, domain.Service{
			ID:            "svc_attestation",
			Name:          domain.NewLocalizedText("تصديق", "Attestation"),
			Price:         500,
			LoyaltyPoints: 120,
			Active:        true,
		}, domain.Service{
			ID:     "svc_retired",
			Name:   domain.NewLocalizedText("قديم", "Retired"),
			Price:  100,
			Active: false,
		}),
		users: newFakeUsersRepo(domain.UserProfile{
			UID:     "user-1",
			Locale:  "ar",
			Loyalty: domain.LoyaltyBalance{Points: 150, PointsUsed: 50, Level: "beginner"},
		}),
		ledger:   &fakeLedgerRepo{},
		levels:   &fakeLevelsRepo{levels: []domain.LoyaltyLevel{{ID: "lvl_silver", Name: "silver", MinPoints: 200}}},
		activity: &recordingActivityLog{},
		events:   &capturingPublisher{},
		now:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	counter := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   fixture.orders,
		Catalog:  fixture.catalog,
		Users:    fixture.users,
		Ledger:   fixture.ledger,
		Levels:   fixture.levels,
		Activity: fixture.activity,
		Counters: &fakeCounterSvc{},
		Signer:   fakeSigner{},
		Clock:    func() time.Time { return fixture.now },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("%08d", counter)
		},
		Events: fixture.events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func (f *orderFixture) createOrder(t *testing.T) Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_translation",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (f *orderFixture) payOrder(t *testing.T, orderID string) Order {
	t.Helper()
	order, err := f.svc.PayOrder(context.Background(), PayOrderCommand{
		OrderID:       orderID,
		UserID:        "user-1",
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("pay order: %v", err)
	}
	return order
}

func TestCreateOrderBuildsFixedTimeline(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)

	if order.OrderNumber != "ORD-1100" {
		t.Fatalf("expected first order number ORD-1100, got %s", order.OrderNumber)
	}
	if order.Status != domain.StatusWaiting {
		t.Fatalf("expected status waiting, got %s", order.Status)
	}
	if order.ClientStage != domain.StageReview {
		t.Fatalf("expected stage review, got %s", order.ClientStage)
	}
	if len(order.Timeline) != 5 {
		t.Fatalf("expected 5 timeline steps, got %d", len(order.Timeline))
	}
	for i, key := range domain.TimelineStepKeys {
		if order.Timeline[i].Key != key {
			t.Fatalf("expected step %d to be %s, got %s", i, key, order.Timeline[i].Key)
		}
	}
	created := order.Step(domain.StepCreated)
	if created == nil || !created.Done {
		t.Fatalf("expected created step done, got %+v", created)
	}
	if step := order.Step(domain.StepPayment); step.Done {
		t.Fatalf("expected payment step pending after creation")
	}
	if order.Price != 300 {
		t.Fatalf("expected denormalised price 300, got %d", order.Price)
	}

	actions := fixture.activity.actions()
	if len(actions) != 1 || actions[0] != domain.ActivityOrderCreated {
		t.Fatalf("expected single order.created activity, got %v", actions)
	}
	fixture.events.mu.Lock()
	defer fixture.events.mu.Unlock()
	if len(fixture.events.events) != 1 || fixture.events.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", fixture.events.events)
	}
}

func TestCreateOrderNumbersAreSequential(t *testing.T) {
	fixture := newOrderFixture(t)
	first := fixture.createOrder(t)
	second := fixture.createOrder(t)

	if first.OrderNumber != "ORD-1100" || second.OrderNumber != "ORD-1101" {
		t.Fatalf("expected sequential numbers, got %s then %s", first.OrderNumber, second.OrderNumber)
	}
}

func TestCreateOrderRejectsInactiveService(t *testing.T) {
	fixture := newOrderFixture(t)
	_, err := fixture.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_retired",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for inactive service, got %v", err)
	}
}

func TestCreateOrderRejectsUnknownService(t *testing.T) {
	fixture := newOrderFixture(t)
	_, err := fixture.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_missing",
	})
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected service not found, got %v", err)
	}
}

func TestPayOrderEarnsPointsAndAdvancesStage(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	paid := fixture.payOrder(t, order.ID)

	if paid.ClientStage != domain.StagePayment {
		t.Fatalf("expected stage payment after payment, got %s", paid.ClientStage)
	}
	if paid.Status != domain.StatusInProgress {
		t.Fatalf("expected status in-progress after payment, got %s", paid.Status)
	}
	step := paid.Step(domain.StepPayment)
	if step == nil || !step.Done {
		t.Fatalf("expected payment step done, got %+v", step)
	}
	if step.Note != "via card" {
		t.Fatalf("expected payment note 'via card', got %q", step.Note)
	}
	if paid.EarnedPoints != 15 {
		t.Fatalf("expected 15 earned points on 300, got %d", paid.EarnedPoints)
	}

	fixture.ledger.mu.Lock()
	if len(fixture.ledger.entries) != 1 {
		fixture.ledger.mu.Unlock()
		t.Fatalf("expected one ledger entry")
	}
	entry := fixture.ledger.entries[0]
	fixture.ledger.mu.Unlock()
	if entry.Type != domain.PointsEarn || entry.Points != 15 || entry.OrderID != order.ID {
		t.Fatalf("unexpected earn entry %+v", entry)
	}
	if entry.ServiceID != "svc_translation" {
		t.Fatalf("expected earn entry to reference the service, got %q", entry.ServiceID)
	}

	balance := fixture.users.loyalty("user-1")
	if balance.Points != 165 {
		t.Fatalf("expected balance 165 after earn, got %d", balance.Points)
	}
	if balance.Level != "beginner" {
		t.Fatalf("expected level beginner at balance 165 below the silver threshold, got %s", balance.Level)
	}

	actions := fixture.activity.actions()
	if len(actions) != 3 {
		t.Fatalf("expected created, earned, and paid activities, got %v", actions)
	}
	if actions[1] != domain.ActivityPointsEarned || actions[2] != domain.ActivityOrderPaid {
		t.Fatalf("unexpected activity order %v", actions)
	}
}

func TestPayOrderTwiceIsRejected(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)

	_, err := fixture.svc.PayOrder(context.Background(), PayOrderCommand{
		OrderID:       order.ID,
		UserID:        "user-1",
		PaymentMethod: "card",
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition on double pay, got %v", err)
	}

	balance := fixture.users.loyalty("user-1")
	if balance.Points != 165 {
		t.Fatalf("expected balance unchanged by rejected pay, got %d", balance.Points)
	}
}

func TestPayOrderScopedToOwner(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)

	_, err := fixture.svc.PayOrder(context.Background(), PayOrderCommand{
		OrderID:       order.ID,
		UserID:        "user-2",
		PaymentMethod: "card",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign order, got %v", err)
	}
}

func TestRedeemOrderRejectsInsufficientBalance(t *testing.T) {
	fixture := newOrderFixture(t)
	// Attestation requires 120 points; drain the user first.
	fixture.users.mu.Lock()
	user := fixture.users.users["user-1"]
	user.Loyalty.Points = 100
	fixture.users.users["user-1"] = user
	fixture.users.mu.Unlock()

	_, err := fixture.svc.RedeemOrder(context.Background(), RedeemOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_attestation",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if fixture.orders.inserts != 0 {
		t.Fatalf("expected no order persisted after rejected redeem")
	}
}

func TestRedeemOrderCreatesPaidOrder(t *testing.T) {
	fixture := newOrderFixture(t)
	order, err := fixture.svc.RedeemOrder(context.Background(), RedeemOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_attestation",
	})
	if err != nil {
		t.Fatalf("redeem order: %v", err)
	}

	if order.ClientStage != domain.StagePayment {
		t.Fatalf("expected redeemed order in payment stage, got %s", order.ClientStage)
	}
	if order.Status != domain.StatusInProgress {
		t.Fatalf("expected redeemed order status in-progress, got %s", order.Status)
	}
	if order.PaymentMethod != "points" {
		t.Fatalf("expected payment method points, got %s", order.PaymentMethod)
	}
	if order.RedeemedPoints != 120 {
		t.Fatalf("expected 120 redeemed points, got %d", order.RedeemedPoints)
	}
	step := order.Step(domain.StepPayment)
	if step == nil || !step.Done || step.Note != "paid with points" {
		t.Fatalf("expected payment step stamped 'paid with points', got %+v", step)
	}

	balance := fixture.users.loyalty("user-1")
	if balance.Points != 30 {
		t.Fatalf("expected balance 30 after redeem, got %d", balance.Points)
	}
	if balance.PointsUsed != 170 {
		t.Fatalf("expected points used 170 after redeem, got %d", balance.PointsUsed)
	}

	fixture.ledger.mu.Lock()
	defer fixture.ledger.mu.Unlock()
	if len(fixture.ledger.entries) != 1 || fixture.ledger.entries[0].Type != domain.PointsRedeem {
		t.Fatalf("expected single redeem ledger entry, got %+v", fixture.ledger.entries)
	}
	if fixture.ledger.entries[0].ServiceID != "svc_attestation" {
		t.Fatalf("expected redeem entry to reference the service, got %q", fixture.ledger.entries[0].ServiceID)
	}
}

func TestRedeemOrderLowersLevel(t *testing.T) {
	fixture := newOrderFixture(t)
	fixture.users.mu.Lock()
	user := fixture.users.users["user-1"]
	user.Loyalty = domain.LoyaltyBalance{Points: 250, PointsUsed: 0, Level: "silver"}
	fixture.users.users["user-1"] = user
	fixture.users.mu.Unlock()

	if _, err := fixture.svc.RedeemOrder(context.Background(), RedeemOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_attestation",
	}); err != nil {
		t.Fatalf("redeem order: %v", err)
	}

	balance := fixture.users.loyalty("user-1")
	if balance.Points != 130 {
		t.Fatalf("expected balance 130 after redeem, got %d", balance.Points)
	}
	if balance.Level != "beginner" {
		t.Fatalf("expected level to drop to beginner with balance below the silver threshold, got %s", balance.Level)
	}
}

func TestRedeemOrderUsesServicePriceWhenNoOverride(t *testing.T) {
	fixture := newOrderFixture(t)
	// Translation has no points override, so its full price is required.
	_, err := fixture.svc.RedeemOrder(context.Background(), RedeemOrderCommand{
		UserID:    "user-1",
		ServiceID: "svc_translation",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance against price 300, got %v", err)
	}
}

func TestSubmitDocumentsIsIncremental(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)

	first, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID: order.ID,
		UserID:  "user-1",
		Documents: []DocumentInput{
			{Name: "passport", URL: "https://storage.example.com/passport-v1.pdf"},
			{Name: "contract", URL: "https://storage.example.com/contract.pdf"},
			{Name: "id-card", URL: "https://storage.example.com/id-card.pdf"},
		},
	})
	if err != nil {
		t.Fatalf("submit documents: %v", err)
	}
	if len(first.Documents) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(first.Documents))
	}
	if first.ClientStage != domain.StageDocuments {
		t.Fatalf("expected stage documents after submission, got %s", first.ClientStage)
	}
	step := first.Step(domain.StepDocuments)
	if step == nil || !step.Done || step.Note != "3 documents submitted" {
		t.Fatalf("expected documents step stamped with count, got %+v", step)
	}

	// One replacement plus two new files in a follow-up call.
	second, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID: order.ID,
		UserID:  "user-1",
		Documents: []DocumentInput{
			{Name: "Passport", URL: "https://storage.example.com/passport-v2.pdf"},
			{Name: "power-of-attorney", URL: "https://storage.example.com/poa.pdf"},
			{Name: "bank-letter", URL: "https://storage.example.com/bank.pdf"},
		},
	})
	if err != nil {
		t.Fatalf("resubmit documents: %v", err)
	}
	if len(second.Documents) != 5 {
		t.Fatalf("expected 5 documents after replacing 1 of 3 and adding 2, got %d", len(second.Documents))
	}
	if second.ClientStage != domain.StageDocuments {
		t.Fatalf("expected stage to stay at documents across submissions, got %s", second.ClientStage)
	}
	var replaced bool
	for _, doc := range second.Documents {
		if strings.EqualFold(doc.Name, "passport") {
			replaced = doc.URL == "https://storage.example.com/passport-v2.pdf"
			if doc.Status != domain.DocumentStatusPending {
				t.Fatalf("expected replaced document reset to pending, got %s", doc.Status)
			}
		}
	}
	if !replaced {
		t.Fatalf("expected passport document replaced, got %+v", second.Documents)
	}
}

func TestSubmitDocumentsFixesNeedUpdateWithoutStageCycle(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)

	submitted, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/passport-v1.pdf"}},
	})
	if err != nil {
		t.Fatalf("submit documents: %v", err)
	}
	if _, err := fixture.svc.ReviewDocument(context.Background(), ReviewDocumentCommand{
		OrderID:    order.ID,
		DocumentID: submitted.Documents[0].ID,
		ActorID:    "staff-1",
		Status:     domain.DocumentStatusNeedUpdate,
		Notes:      "photo page unreadable",
	}); err != nil {
		t.Fatalf("review document: %v", err)
	}

	corrected, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/passport-v2.pdf"}},
	})
	if err != nil {
		t.Fatalf("resubmit flagged document: %v", err)
	}
	if len(corrected.Documents) != 1 {
		t.Fatalf("expected the flagged document replaced in place, got %d documents", len(corrected.Documents))
	}
	doc := corrected.Documents[0]
	if doc.URL != "https://storage.example.com/passport-v2.pdf" || doc.Status != domain.DocumentStatusPending {
		t.Fatalf("expected corrected document pending with new url, got %+v", doc)
	}
}

func TestSubmitDocumentsRequiresAtLeastOne(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)

	_, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for empty submission, got %v", err)
	}
}

func TestSubmitDocumentsRejectedAfterProcessingStarts(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)
	if _, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/p.pdf"}},
	}); err != nil {
		t.Fatalf("submit documents: %v", err)
	}
	if _, err := fixture.svc.StartProcessing(context.Background(), AdminTransitionCommand{OrderID: order.ID, ActorID: "staff-1"}); err != nil {
		t.Fatalf("start processing: %v", err)
	}

	_, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "contract", URL: "https://storage.example.com/c.pdf"}},
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition once processing started, got %v", err)
	}
}

func TestSubmitDocumentsRequiresDocumentsStage(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)

	_, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/p.pdf"}},
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition before payment, got %v", err)
	}
}

func TestCompleteOrderStampsRemainingSteps(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)
	if _, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/p.pdf"}},
	}); err != nil {
		t.Fatalf("submit documents: %v", err)
	}

	completed, err := fixture.svc.CompleteOrder(context.Background(), AdminTransitionCommand{
		OrderID: order.ID,
		ActorID: "staff-1",
	})
	if err != nil {
		t.Fatalf("complete order: %v", err)
	}
	if completed.ClientStage != domain.StageComplete {
		t.Fatalf("expected stage complete, got %s", completed.ClientStage)
	}
	if completed.Status != domain.StatusDone {
		t.Fatalf("expected status done on completed order, got %s", completed.Status)
	}
	for _, step := range completed.Timeline {
		if !step.Done {
			t.Fatalf("expected all timeline steps done on completed order, step %s pending", step.Key)
		}
	}
}

func TestStartProcessingRejectsRepeat(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)
	if _, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/p.pdf"}},
	}); err != nil {
		t.Fatalf("submit documents: %v", err)
	}

	if _, err := fixture.svc.StartProcessing(context.Background(), AdminTransitionCommand{OrderID: order.ID, ActorID: "staff-1"}); err != nil {
		t.Fatalf("start processing: %v", err)
	}
	_, err := fixture.svc.StartProcessing(context.Background(), AdminTransitionCommand{OrderID: order.ID, ActorID: "staff-1"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition on repeated start, got %v", err)
	}
}

func TestDeleteOrderOwnerOnly(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)

	err := fixture.svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: order.ID, UserID: "user-2"})
	if !errors.Is(err, ErrOrderPermissionDenied) {
		t.Fatalf("expected permission denied for non-owner delete, got %v", err)
	}

	if err := fixture.svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: order.ID, UserID: "user-1"}); err != nil {
		t.Fatalf("owner delete: %v", err)
	}

	_, err = fixture.svc.GetOrder(context.Background(), OrderReadCommand{OrderID: order.ID, RequestedBy: "user-1"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected deleted order hidden from reads, got %v", err)
	}
}

func TestGetOrderScopedToOwner(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)

	_, err := fixture.svc.GetOrder(context.Background(), OrderReadCommand{OrderID: order.ID, RequestedBy: "user-2"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected foreign order to read as not found, got %v", err)
	}

	if _, err := fixture.svc.GetOrder(context.Background(), OrderReadCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("expected back-office read to bypass ownership, got %v", err)
	}
}

func TestReviewDocumentStampsOutcome(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)
	submitted, err := fixture.svc.SubmitDocuments(context.Background(), SubmitDocumentsCommand{
		OrderID:   order.ID,
		UserID:    "user-1",
		Documents: []DocumentInput{{Name: "passport", URL: "https://storage.example.com/p.pdf"}},
	})
	if err != nil {
		t.Fatalf("submit documents: %v", err)
	}

	reviewed, err := fixture.svc.ReviewDocument(context.Background(), ReviewDocumentCommand{
		OrderID:    order.ID,
		DocumentID: submitted.Documents[0].ID,
		ActorID:    "staff-1",
		Status:     domain.DocumentStatusRejected,
		Notes:      "expired passport",
	})
	if err != nil {
		t.Fatalf("review document: %v", err)
	}
	doc := reviewed.Document(submitted.Documents[0].ID)
	if doc == nil || doc.Status != domain.DocumentStatusRejected {
		t.Fatalf("expected rejected status, got %+v", doc)
	}
	if doc.ReviewedAt == nil {
		t.Fatalf("expected reviewedAt stamped")
	}
	if doc.Notes != "expired passport" {
		t.Fatalf("expected review notes persisted, got %q", doc.Notes)
	}

	_, err = fixture.svc.ReviewDocument(context.Background(), ReviewDocumentCommand{
		OrderID:    order.ID,
		DocumentID: "doc_missing",
		ActorID:    "staff-1",
		Status:     domain.DocumentStatusApproved,
	})
	if !errors.Is(err, ErrOrderDocumentNotFound) {
		t.Fatalf("expected document not found, got %v", err)
	}
}

func TestNotificationsFeed(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)

	page, err := fixture.svc.ListNotifications(context.Background(), ListNotificationsCommand{OrderID: order.ID, UserID: "user-1"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty feed while disabled, got %d items", len(page.Items))
	}

	if _, err := fixture.svc.SetNotifications(context.Background(), SetNotificationsCommand{OrderID: order.ID, UserID: "user-1", Enabled: true}); err != nil {
		t.Fatalf("enable notifications: %v", err)
	}
	page, err = fixture.svc.ListNotifications(context.Background(), ListNotificationsCommand{OrderID: order.ID, UserID: "user-1"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("expected feed entries once enabled")
	}

	_, err = fixture.svc.SetNotifications(context.Background(), SetNotificationsCommand{OrderID: order.ID, UserID: "user-2", Enabled: false})
	if !errors.Is(err, ErrOrderPermissionDenied) {
		t.Fatalf("expected permission denied for non-owner toggle, got %v", err)
	}
}

func TestIssueDocumentUpload(t *testing.T) {
	fixture := newOrderFixture(t)
	order := fixture.createOrder(t)
	fixture.payOrder(t, order.ID)

	resp, err := fixture.svc.IssueDocumentUpload(context.Background(), DocumentUploadCommand{
		OrderID:     order.ID,
		UserID:      "user-1",
		FileName:    "../secret/passport scan.pdf",
		ContentType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("issue document upload: %v", err)
	}
	if resp.DocumentID == "" || resp.Method != "PUT" {
		t.Fatalf("unexpected upload response %+v", resp)
	}
	if strings.Contains(resp.URL, "..") || strings.Contains(resp.URL, " ") {
		t.Fatalf("expected sanitised object path, got %s", resp.URL)
	}
	if resp.Headers["Content-Type"] != "application/pdf" {
		t.Fatalf("expected content type header, got %+v", resp.Headers)
	}
}
