package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/config"
	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/fee"
	"github.com/spec-kit/permit-service/internal/gateway"
	"github.com/spec-kit/permit-service/internal/repository"
	"github.com/spec-kit/permit-service/internal/repository/memory"
)

var (
	client     = domain.Actor{ID: "user-1", Type: domain.SubjectTypeCompanyUser, Role: domain.RoleClient, CompanyID: "company-1"}
	otherUser  = domain.Actor{ID: "user-9", Type: domain.SubjectTypeCompanyUser, Role: domain.RoleClient, CompanyID: "company-9"}
	clerk      = domain.Actor{ID: "clerk-1", Type: domain.SubjectTypeStaff, Role: domain.RoleClerk}
	clerk2     = domain.Actor{ID: "clerk-2", Type: domain.SubjectTypeStaff, Role: domain.RoleClerk}
	supervisor = domain.Actor{ID: "super-1", Type: domain.SubjectTypeStaff, Role: domain.RoleSupervisor}
)

var testNow = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

type harness struct {
	store    *memory.Store
	apps     *ApplicationService
	payments *PaymentService
	queue    *QueueService
	gateway  *gateway.Client

	mu     sync.Mutex
	events []events.Event
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	table   *fee.Table
	noFee   []string
	gateway PaymentGateway
	lock    CompletionLocker
	wrap    func(repository.ApplicationRepository) repository.ApplicationRepository
}

func withTable(table *fee.Table) harnessOption {
	return func(c *harnessConfig) { c.table = table }
}

func withNoFee(companyIDs ...string) harnessOption {
	return func(c *harnessConfig) { c.noFee = companyIDs }
}

func withGateway(gw PaymentGateway) harnessOption {
	return func(c *harnessConfig) { c.gateway = gw }
}

func withLock(lock CompletionLocker) harnessOption {
	return func(c *harnessConfig) { c.lock = lock }
}

// withApplicationRepo wraps the application repository seen by the
// application service.
func withApplicationRepo(wrap func(repository.ApplicationRepository) repository.ApplicationRepository) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{table: fee.DefaultTable()}
	for _, opt := range opts {
		opt(&cfg)
	}

	gw, err := gateway.NewClient(config.PaymentConfig{
		GatewayURL: "https://pay.example.com/hosted",
		HashKey:    "test-hash-key",
		ReturnURL:  "https://permits.example.com/return",
		MerchantID: "merchant-1",
	})
	require.NoError(t, err)
	var paymentGateway PaymentGateway = gw
	if cfg.gateway != nil {
		paymentGateway = cfg.gateway
	}

	h := &harness{store: memory.NewStore(), gateway: gw}
	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range []events.EventType{
		events.EventApplicationStatusChanged,
		events.EventTransactionCompleted,
		events.EventIntegrityViolation,
		events.EventQueueActivityRecorded,
		events.EventPaymentNotApplied,
	} {
		dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, e)
			return nil
		})
	}

	now := func() time.Time { return testNow }
	calculator := fee.NewCalculator(cfg.table)
	appRepo := h.store.Applications()
	if cfg.wrap != nil {
		appRepo = cfg.wrap(appRepo)
	}
	h.apps = NewApplicationService(ApplicationDependencies{
		ApplicationRepo: appRepo,
		TransactionRepo: h.store.Transactions(),
		HistoryRepo:     h.store.History(),
		Calculator:      calculator,
		NoFee:           NewStaticNoFeeDirectory(cfg.noFee),
		Dispatcher:      dispatcher,
		Now:             now,
	})
	h.payments = NewPaymentService(PaymentDependencies{
		ApplicationRepo: h.store.Applications(),
		TransactionRepo: h.store.Transactions(),
		HistoryRepo:     h.store.History(),
		Calculator:      calculator,
		Gateway:         paymentGateway,
		CompletionLock:  cfg.lock,
		Dispatcher:      dispatcher,
		Now:             now,
	})
	h.queue = NewQueueService(QueueDependencies{
		ApplicationRepo:   h.store.Applications(),
		QueueActivityRepo: h.store.QueueActivities(),
		HistoryRepo:       h.store.History(),
		Dispatcher:        dispatcher,
		Now:               now,
	})
	return h
}

func (h *harness) eventsOfType(eventType events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func draft(permitType domain.PermitType, duration int) ApplicationDraft {
	return ApplicationDraft{
		PermitType: permitType,
		Duration:   duration,
		StartDate:  testNow.AddDate(0, 0, 1),
		Snapshot:   json.RawMessage(`{"vehicle":{"plate":"ABC123","province":"BC"}}`),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// submitted creates an application for client and moves it to WAITING_PAYMENT.
func (h *harness) submitted(t *testing.T, d ApplicationDraft) *domain.PermitApplication {
	t.Helper()
	ctx := context.Background()
	app, err := h.apps.CreateApplication(ctx, client, d)
	require.NoError(t, err)
	app, err = h.apps.SubmitForPayment(ctx, client, app.ID)
	require.NoError(t, err)
	return app
}

// start opens a WEB transaction over ids.
func (h *harness) start(t *testing.T, ids ...string) *StartTransactionResult {
	t.Helper()
	items := make([]PaymentItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, PaymentItem{ApplicationID: id})
	}
	res, err := h.payments.StartTransaction(context.Background(), client, StartTransactionInput{
		Items:         items,
		PaymentMethod: domain.PaymentMethodWeb,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) callback(txn *domain.Transaction, approved bool) gateway.Callback {
	cb := gateway.Callback{
		TransactionID:        txn.ID,
		Approved:             approved,
		GatewayTransactionID: "gw-" + txn.ID[:8],
		CardType:             "VI",
	}
	cb.IntegrityToken = h.gateway.Sign(cb, txn.Amount)
	return cb
}

// issued runs an application through a WEB payment to ISSUED.
func (h *harness) issued(t *testing.T, d ApplicationDraft) *domain.PermitApplication {
	t.Helper()
	app := h.submitted(t, d)
	res := h.start(t, app.ID)
	outcome, err := h.payments.CompleteTransaction(context.Background(), h.callback(res.Transaction, true))
	require.NoError(t, err)
	require.Equal(t, []string{app.ID}, outcome.Success)
	issued, err := h.apps.GetApplication(context.Background(), client, app.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ApplicationStatusIssued, issued.Status)
	return issued
}

// inReview runs a review-required application to IN_REVIEW claimed by actor.
func (h *harness) inReview(t *testing.T, actor domain.Actor) *domain.PermitApplication {
	t.Helper()
	app := h.submitted(t, draft(domain.PermitTypeSingleTripOversize, 3))
	res := h.start(t, app.ID)
	_, err := h.payments.CompleteTransaction(context.Background(), h.callback(res.Transaction, true))
	require.NoError(t, err)
	claimed, err := h.queue.Claim(context.Background(), actor, app.ID)
	require.NoError(t, err)
	return claimed
}

type failingGateway struct{}

func (failingGateway) CreateRedirect(context.Context, gateway.RedirectRequest) (string, error) {
	return "", errors.New("connection refused")
}

func (failingGateway) Verify(gateway.Callback, decimal.Decimal) error {
	return nil
}

// flakyApplications fails UpdateAndRecord while down is set.
type flakyApplications struct {
	repository.ApplicationRepository
	down bool
}

func (f *flakyApplications) UpdateAndRecord(ctx context.Context, app *domain.PermitApplication, txn *domain.Transaction) error {
	if f.down {
		return errors.New("db down")
	}
	return f.ApplicationRepository.UpdateAndRecord(ctx, app, txn)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, false, nil
}
