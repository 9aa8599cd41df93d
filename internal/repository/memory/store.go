// Package memory implements the repository interfaces in process. Writes are
// conditional under a single mutex, mirroring the guarded updates of the
// PostgreSQL repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/repository"
)

// Store holds every record kind behind one lock.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	applications map[string]*domain.PermitApplication
	transactions map[string]*domain.Transaction
	txnOrder     []string
	activities   []domain.QueueActivity
	history      []domain.ApplicationHistory
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:          func() time.Time { return time.Now().UTC() },
		applications: make(map[string]*domain.PermitApplication),
		transactions: make(map[string]*domain.Transaction),
	}
}

// Applications returns the application repository view.
func (s *Store) Applications() repository.ApplicationRepository { return &applications{s} }

// Transactions returns the transaction repository view.
func (s *Store) Transactions() repository.TransactionRepository { return &transactions{s} }

// QueueActivities returns the queue activity repository view.
func (s *Store) QueueActivities() repository.QueueActivityRepository { return &activities{s} }

// History returns the application history repository view.
func (s *Store) History() repository.ApplicationHistoryRepository { return &history{s} }

type applications struct{ s *Store }

func (r *applications) Create(_ context.Context, app *domain.PermitApplication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertApplication(app, false)
}

func (r *applications) CreateRevision(_ context.Context, app *domain.PermitApplication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertApplication(app, true)
}

func (s *Store) insertApplication(app *domain.PermitApplication, revision bool) error {
	if _, exists := s.applications[app.ID]; exists {
		return repository.ErrStaleWrite
	}
	if (revision || app.Status.IsOpen()) && s.openRevisionLocked(app.PermitID, "") != nil {
		return repository.ErrOpenRevisionExists
	}
	now := s.now()
	app.Version = 1
	app.CreatedAt = now
	app.UpdatedAt = now
	s.applications[app.ID] = app.Clone()
	return nil
}

func (s *Store) openRevisionLocked(permitID, exceptID string) *domain.PermitApplication {
	for _, existing := range s.applications {
		if existing.PermitID == permitID && existing.ID != exceptID && existing.Status.IsOpen() {
			return existing
		}
	}
	return nil
}

func (r *applications) Update(_ context.Context, app *domain.PermitApplication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkUpdateLocked(app); err != nil {
		return err
	}
	r.s.applyUpdateLocked(app)
	return nil
}

func (r *applications) UpdateAndRecord(_ context.Context, app *domain.PermitApplication, txn *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkUpdateLocked(app); err != nil {
		return err
	}
	if _, exists := r.s.transactions[txn.ID]; exists {
		return repository.ErrStaleWrite
	}
	r.s.applyUpdateLocked(app)
	r.s.insertTransactionLocked(txn)
	return nil
}

func (s *Store) checkUpdateLocked(app *domain.PermitApplication) error {
	stored, ok := s.applications[app.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != app.Version {
		return repository.ErrStaleWrite
	}
	if app.Status.IsOpen() && s.openRevisionLocked(app.PermitID, app.ID) != nil {
		return repository.ErrOpenRevisionExists
	}
	return nil
}

func (s *Store) applyUpdateLocked(app *domain.PermitApplication) {
	stored := s.applications[app.ID]
	next := app.Clone()
	next.Version = stored.Version + 1
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = s.now()
	s.applications[app.ID] = next
	app.Version = next.Version
	app.UpdatedAt = next.UpdatedAt
}

func (r *applications) Claim(_ context.Context, id, actorID string, at time.Time) (*domain.PermitApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.applications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if stored.Status != domain.ApplicationStatusWaitingReview || stored.ClaimedBy != nil {
		return nil, repository.ErrAlreadyClaimed
	}
	claimedAt := at
	claimant := actorID
	stored.Status = domain.ApplicationStatusInReview
	stored.ClaimedBy = &claimant
	stored.ClaimedAt = &claimedAt
	stored.UpdatedBy = actorID
	stored.Version++
	stored.UpdatedAt = r.s.now()
	return stored.Clone(), nil
}

func (r *applications) GetByID(_ context.Context, id string) (*domain.PermitApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.applications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return stored.Clone(), nil
}

func (r *applications) ListByPermit(_ context.Context, permitID string) ([]*domain.PermitApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.PermitApplication
	for _, app := range r.s.applications {
		if app.PermitID == permitID {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revision != out[j].Revision {
			return out[i].Revision < out[j].Revision
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *applications) ListWithFilter(_ context.Context, filter repository.ApplicationFilter) ([]*domain.PermitApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.PermitApplication
	for _, app := range r.s.applications {
		if filter.CompanyID != nil && app.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.PermitID != nil && app.PermitID != *filter.PermitID {
			continue
		}
		if filter.ClaimedBy != nil && (app.ClaimedBy == nil || *app.ClaimedBy != *filter.ClaimedBy) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, app.Status) {
			continue
		}
		out = append(out, app.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []*domain.PermitApplication{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func containsStatus(list []domain.ApplicationStatus, status domain.ApplicationStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

type transactions struct{ s *Store }

func (r *transactions) Create(_ context.Context, txn *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.transactions[txn.ID]; exists {
		return repository.ErrStaleWrite
	}
	r.s.insertTransactionLocked(txn)
	return nil
}

func (s *Store) insertTransactionLocked(txn *domain.Transaction) {
	txn.CreatedAt = s.now()
	s.transactions[txn.ID] = cloneTransaction(txn)
	s.txnOrder = append(s.txnOrder, txn.ID)
}

func (r *transactions) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTransaction(stored), nil
}

func (r *transactions) Resolve(_ context.Context, id string, res repository.Resolution) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if stored.Approved != nil {
		return nil, repository.ErrAlreadyResolved
	}
	approved := res.Approved
	resolvedAt := res.ResolvedAt
	stored.Approved = &approved
	stored.GatewayReference = res.GatewayReference
	stored.PaymentCardType = res.PaymentCardType
	stored.ResolvedAt = &resolvedAt
	return cloneTransaction(stored), nil
}

func (r *transactions) SaveOutcome(_ context.Context, id string, outcome domain.TransactionOutcome) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.transactions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Outcome != nil {
		return repository.ErrAlreadyResolved
	}
	o := cloneOutcome(outcome)
	stored.Outcome = &o
	return nil
}

func (r *transactions) ListHistory(_ context.Context, applicationIDs []string) ([]domain.PermitHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wanted := make(map[string]struct{}, len(applicationIDs))
	for _, id := range applicationIDs {
		wanted[id] = struct{}{}
	}
	out := []domain.PermitHistoryEntry{}
	for _, id := range r.s.txnOrder {
		txn := r.s.transactions[id]
		for _, share := range txn.Applications {
			if _, ok := wanted[share.ApplicationID]; !ok {
				continue
			}
			c := cloneTransaction(txn)
			out = append(out, domain.PermitHistoryEntry{
				TransactionID:    c.ID,
				ApplicationID:    share.ApplicationID,
				Type:             c.Type,
				Amount:           share.Amount,
				PaymentMethod:    c.PaymentMethod,
				PaymentCardType:  c.PaymentCardType,
				GatewayReference: c.GatewayReference,
				Approved:         c.Approved,
				CreatedAt:        c.CreatedAt,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneTransaction(txn *domain.Transaction) *domain.Transaction {
	c := *txn
	c.Applications = append([]domain.TransactionApplication(nil), txn.Applications...)
	if txn.Approved != nil {
		v := *txn.Approved
		c.Approved = &v
	}
	if txn.GatewayReference != nil {
		v := *txn.GatewayReference
		c.GatewayReference = &v
	}
	if txn.PaymentCardType != nil {
		v := *txn.PaymentCardType
		c.PaymentCardType = &v
	}
	if txn.ResolvedAt != nil {
		v := *txn.ResolvedAt
		c.ResolvedAt = &v
	}
	if txn.Outcome != nil {
		o := cloneOutcome(*txn.Outcome)
		c.Outcome = &o
	}
	return &c
}

func cloneOutcome(o domain.TransactionOutcome) domain.TransactionOutcome {
	o.Success = append([]string{}, o.Success...)
	o.Failure = append([]domain.ApplicationError{}, o.Failure...)
	return o
}

type activities struct{ s *Store }

func (r *activities) Create(_ context.Context, activity *domain.QueueActivity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	activity.CreatedAt = r.s.now()
	r.s.activities = append(r.s.activities, *activity)
	return nil
}

func (r *activities) ListByApplication(_ context.Context, applicationID string) ([]domain.QueueActivity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.QueueActivity{}
	for _, activity := range r.s.activities {
		if activity.ApplicationID == applicationID {
			out = append(out, activity)
		}
	}
	return out, nil
}

type history struct{ s *Store }

func (r *history) Create(_ context.Context, entry *domain.ApplicationHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.CreatedAt = r.s.now()
	r.s.history = append(r.s.history, *entry)
	return nil
}

func (r *history) ListByApplication(_ context.Context, applicationID string) ([]domain.ApplicationHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.ApplicationHistory{}
	for _, entry := range r.s.history {
		if entry.ApplicationID == applicationID {
			out = append(out, entry)
		}
	}
	return out, nil
}
