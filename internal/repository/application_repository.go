package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/permit-service/internal/domain"
)

const openRevisionIndex = "permit_applications_one_open_per_permit"

// ApplicationFilter captures listing parameters.
type ApplicationFilter struct {
	CompanyID *string
	PermitID  *string
	ClaimedBy *string
	Statuses  []domain.ApplicationStatus
	Limit     int
	Offset    int
}

// ApplicationRepository encapsulates permit application persistence. Every
// write is conditional so concurrent requests cannot both succeed.
type ApplicationRepository interface {
	// Create inserts a root application. It fails with ErrOpenRevisionExists
	// if the permit already has an open revision.
	Create(ctx context.Context, app *domain.PermitApplication) error
	// CreateRevision inserts an amendment only if no open revision exists for
	// its permit.
	CreateRevision(ctx context.Context, app *domain.PermitApplication) error
	// Update writes app if its stored version still equals app.Version, then
	// increments app.Version. A lost race returns ErrStaleWrite.
	Update(ctx context.Context, app *domain.PermitApplication) error
	// UpdateAndRecord applies Update and inserts the settlement record txn as
	// one unit of work. Either both are stored or neither is.
	UpdateAndRecord(ctx context.Context, app *domain.PermitApplication, txn *domain.Transaction) error
	// Claim moves a WAITING_REVIEW, unclaimed application to IN_REVIEW.
	Claim(ctx context.Context, id, actorID string, at time.Time) (*domain.PermitApplication, error)
	GetByID(ctx context.Context, id string) (*domain.PermitApplication, error)
	ListByPermit(ctx context.Context, permitID string) ([]*domain.PermitApplication, error)
	ListWithFilter(ctx context.Context, filter ApplicationFilter) ([]*domain.PermitApplication, error)
}

type applicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository instantiates repository.
func NewApplicationRepository(pool *pgxpool.Pool) ApplicationRepository {
	return &applicationRepository{pool: pool}
}

const applicationColumns = `id, application_number, permit_number, permit_id, original_permit_id, previous_revision_id,
               revision, company_id, permit_type, status, duration, start_date, expiry_date, snapshot,
               fee_summary::text, superseded, claimed_by, claimed_at, created_by, updated_by, version,
               created_at, updated_at, issued_at`

func (r *applicationRepository) Create(ctx context.Context, app *domain.PermitApplication) error {
	const query = `
        INSERT INTO permit_applications (id, application_number, permit_number, permit_id, original_permit_id,
            previous_revision_id, revision, company_id, permit_type, status, duration, start_date, expiry_date,
            snapshot, fee_summary, superseded, created_by, updated_by, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15::numeric,$16,$17,$18,1)
        RETURNING version, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, insertArgs(app)...).Scan(&app.Version, &app.CreatedAt, &app.UpdatedAt)
	if isUniqueViolation(err, openRevisionIndex) {
		return ErrOpenRevisionExists
	}
	return err
}

func (r *applicationRepository) CreateRevision(ctx context.Context, app *domain.PermitApplication) error {
	const query = `
        INSERT INTO permit_applications (id, application_number, permit_number, permit_id, original_permit_id,
            previous_revision_id, revision, company_id, permit_type, status, duration, start_date, expiry_date,
            snapshot, fee_summary, superseded, created_by, updated_by, version)
        SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15::numeric,$16,$17,$18,1
        WHERE NOT EXISTS (
            SELECT 1 FROM permit_applications
            WHERE permit_id=$4 AND status IN ('IN_PROGRESS','WAITING_PAYMENT','WAITING_REVIEW','IN_REVIEW'))
        RETURNING version, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, insertArgs(app)...).Scan(&app.Version, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err, openRevisionIndex) {
		return ErrOpenRevisionExists
	}
	return err
}

func insertArgs(app *domain.PermitApplication) []any {
	return []any{
		app.ID,
		app.ApplicationNumber,
		app.PermitNumber,
		app.PermitID,
		app.OriginalPermitID,
		app.PreviousRevisionID,
		app.Revision,
		app.CompanyID,
		app.PermitType,
		app.Status,
		app.PermitData.Duration,
		app.PermitData.StartDate,
		app.PermitData.ExpiryDate,
		[]byte(app.PermitData.Snapshot),
		app.FeeSummary.String(),
		app.Superseded,
		app.CreatedBy,
		app.UpdatedBy,
	}
}

func (r *applicationRepository) Update(ctx context.Context, app *domain.PermitApplication) error {
	return r.updateError(ctx, app.ID, updateApplication(ctx, r.pool, app))
}

func (r *applicationRepository) UpdateAndRecord(ctx context.Context, app *domain.PermitApplication, txn *domain.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	version, updatedAt := app.Version, app.UpdatedAt
	if err := updateApplication(ctx, tx, app); err != nil {
		_ = tx.Rollback(ctx)
		return r.updateError(ctx, app.ID, err)
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		app.Version, app.UpdatedAt = version, updatedAt
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		app.Version, app.UpdatedAt = version, updatedAt
		return err
	}
	return nil
}

// updateApplication runs the version-guarded update on q. A lost race
// surfaces as pgx.ErrNoRows.
func updateApplication(ctx context.Context, q querier, app *domain.PermitApplication) error {
	const query = `
        UPDATE permit_applications SET permit_number=$1, status=$2, duration=$3, start_date=$4, expiry_date=$5,
            snapshot=$6, fee_summary=$7::numeric, superseded=$8, claimed_by=$9, claimed_at=$10, updated_by=$11,
            issued_at=$12, version=version+1, updated_at=NOW()
        WHERE id=$13 AND version=$14
        RETURNING version, updated_at`
	return q.QueryRow(ctx, query,
		app.PermitNumber,
		app.Status,
		app.PermitData.Duration,
		app.PermitData.StartDate,
		app.PermitData.ExpiryDate,
		[]byte(app.PermitData.Snapshot),
		app.FeeSummary.String(),
		app.Superseded,
		app.ClaimedBy,
		app.ClaimedAt,
		app.UpdatedBy,
		app.IssuedAt,
		app.ID,
		app.Version,
	).Scan(&app.Version, &app.UpdatedAt)
}

func (r *applicationRepository) updateError(ctx context.Context, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleWrite
	}
	if isUniqueViolation(err, openRevisionIndex) {
		return ErrOpenRevisionExists
	}
	return err
}

func (r *applicationRepository) Claim(ctx context.Context, id, actorID string, at time.Time) (*domain.PermitApplication, error) {
	query := `
        UPDATE permit_applications SET status='IN_REVIEW', claimed_by=$1, claimed_at=$2, updated_by=$1,
            version=version+1, updated_at=NOW()
        WHERE id=$3 AND status='WAITING_REVIEW' AND claimed_by IS NULL
        RETURNING ` + applicationColumns
	app, err := scanApplication(r.pool.QueryRow(ctx, query, actorID, at, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyClaimed
	}
	return app, err
}

func (r *applicationRepository) GetByID(ctx context.Context, id string) (*domain.PermitApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM permit_applications WHERE id=$1`
	app, err := scanApplication(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return app, nil
}

func (r *applicationRepository) ListByPermit(ctx context.Context, permitID string) ([]*domain.PermitApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM permit_applications WHERE permit_id=$1 ORDER BY revision ASC, created_at ASC`
	rows, err := r.pool.Query(ctx, query, permitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApplications(rows)
}

func (r *applicationRepository) ListWithFilter(ctx context.Context, filter ApplicationFilter) ([]*domain.PermitApplication, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CompanyID != nil {
		args = append(args, *filter.CompanyID)
		clauses = append(clauses, fmt.Sprintf("company_id=$%d", len(args)))
	}
	if filter.PermitID != nil {
		args = append(args, *filter.PermitID)
		clauses = append(clauses, fmt.Sprintf("permit_id=$%d", len(args)))
	}
	if filter.ClaimedBy != nil {
		args = append(args, *filter.ClaimedBy)
		clauses = append(clauses, fmt.Sprintf("claimed_by=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM permit_applications WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		applicationColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApplications(rows)
}

func scanApplication(row pgx.Row) (*domain.PermitApplication, error) {
	var (
		app      domain.PermitApplication
		fee      string
		snapshot []byte
	)
	if err := row.Scan(
		&app.ID,
		&app.ApplicationNumber,
		&app.PermitNumber,
		&app.PermitID,
		&app.OriginalPermitID,
		&app.PreviousRevisionID,
		&app.Revision,
		&app.CompanyID,
		&app.PermitType,
		&app.Status,
		&app.PermitData.Duration,
		&app.PermitData.StartDate,
		&app.PermitData.ExpiryDate,
		&snapshot,
		&fee,
		&app.Superseded,
		&app.ClaimedBy,
		&app.ClaimedAt,
		&app.CreatedBy,
		&app.UpdatedBy,
		&app.Version,
		&app.CreatedAt,
		&app.UpdatedAt,
		&app.IssuedAt,
	); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("parse fee_summary: %w", err)
	}
	app.FeeSummary = amount
	if len(snapshot) > 0 {
		app.PermitData.Snapshot = snapshot
	}
	return &app, nil
}

func scanApplications(rows pgx.Rows) ([]*domain.PermitApplication, error) {
	var result []*domain.PermitApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}
