package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/permit-service/internal/domain"
)

// Resolution is the gateway result recorded on a transaction.
type Resolution struct {
	Approved         bool
	GatewayReference *string
	PaymentCardType  *string
	ResolvedAt       time.Time
}

// TransactionRepository persists settlement records.
type TransactionRepository interface {
	// Create inserts the transaction and its application shares atomically.
	Create(ctx context.Context, txn *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// Resolve records the gateway result only if none is recorded yet;
	// otherwise it returns ErrAlreadyResolved.
	Resolve(ctx context.Context, id string, res Resolution) (*domain.Transaction, error)
	// SaveOutcome stores the per-application result of completion.
	SaveOutcome(ctx context.Context, id string, outcome domain.TransactionOutcome) error
	// ListHistory returns every application share of every transaction that
	// touched the given applications, oldest first.
	ListHistory(ctx context.Context, applicationIDs []string) ([]domain.PermitHistoryEntry, error)
}

type transactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository builds repository.
func NewTransactionRepository(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepository{pool: pool}
}

const transactionColumns = `id, transaction_type, amount::text, payment_method, payment_card_type, gateway_reference,
               approved, outcome, created_by, created_at, resolved_at`

func (r *transactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertTransaction(ctx, tx, txn); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// insertTransaction writes txn and its application shares on q.
func insertTransaction(ctx context.Context, q querier, txn *domain.Transaction) error {
	var (
		outcome []byte
		err     error
	)
	if txn.Outcome != nil {
		if outcome, err = json.Marshal(txn.Outcome); err != nil {
			return err
		}
	}

	const insertTxn = `
        INSERT INTO transactions (id, transaction_type, amount, payment_method, payment_card_type,
            gateway_reference, approved, outcome, created_by, resolved_at)
        VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at`
	if err := q.QueryRow(ctx, insertTxn,
		txn.ID,
		txn.Type,
		txn.Amount.String(),
		txn.PaymentMethod,
		txn.PaymentCardType,
		txn.GatewayReference,
		txn.Approved,
		outcome,
		txn.CreatedBy,
		txn.ResolvedAt,
	).Scan(&txn.CreatedAt); err != nil {
		return err
	}

	const insertShare = `
        INSERT INTO transaction_applications (transaction_id, application_id, amount)
        VALUES ($1,$2,$3::numeric)`
	for _, share := range txn.Applications {
		if _, err := q.Exec(ctx, insertShare, txn.ID, share.ApplicationID, share.Amount.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id=$1`
	txn, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.loadShares(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *transactionRepository) Resolve(ctx context.Context, id string, res Resolution) (*domain.Transaction, error) {
	query := `
        UPDATE transactions SET approved=$1, gateway_reference=$2, payment_card_type=$3, resolved_at=$4
        WHERE id=$5 AND approved IS NULL
        RETURNING ` + transactionColumns
	txn, err := scanTransaction(r.pool.QueryRow(ctx, query,
		res.Approved,
		res.GatewayReference,
		res.PaymentCardType,
		res.ResolvedAt,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadShares(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *transactionRepository) SaveOutcome(ctx context.Context, id string, outcome domain.TransactionOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	cmd, err := r.pool.Exec(ctx, `UPDATE transactions SET outcome=$1 WHERE id=$2 AND outcome IS NULL`, payload, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func (r *transactionRepository) ListHistory(ctx context.Context, applicationIDs []string) ([]domain.PermitHistoryEntry, error) {
	if len(applicationIDs) == 0 {
		return []domain.PermitHistoryEntry{}, nil
	}
	const query = `
        SELECT t.id, ta.application_id, t.transaction_type, ta.amount::text, t.payment_method, t.payment_card_type,
               t.gateway_reference, t.approved, t.created_at
        FROM transaction_applications ta
        JOIN transactions t ON t.id = ta.transaction_id
        WHERE ta.application_id = ANY($1)
        ORDER BY t.created_at ASC, t.id ASC`
	rows, err := r.pool.Query(ctx, query, applicationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.PermitHistoryEntry{}
	for rows.Next() {
		var (
			entry  domain.PermitHistoryEntry
			amount string
		)
		if err := rows.Scan(
			&entry.TransactionID,
			&entry.ApplicationID,
			&entry.Type,
			&amount,
			&entry.PaymentMethod,
			&entry.PaymentCardType,
			&entry.GatewayReference,
			&entry.Approved,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse share amount: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *transactionRepository) loadShares(ctx context.Context, txn *domain.Transaction) error {
	rows, err := r.pool.Query(ctx,
		`SELECT application_id, amount::text FROM transaction_applications WHERE transaction_id=$1 ORDER BY position ASC`,
		txn.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			share  domain.TransactionApplication
			amount string
		)
		if err := rows.Scan(&share.ApplicationID, &amount); err != nil {
			return err
		}
		if share.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("parse share amount: %w", err)
		}
		txn.Applications = append(txn.Applications, share)
	}
	return rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn     domain.Transaction
		amount  string
		outcome []byte
	)
	if err := row.Scan(
		&txn.ID,
		&txn.Type,
		&amount,
		&txn.PaymentMethod,
		&txn.PaymentCardType,
		&txn.GatewayReference,
		&txn.Approved,
		&outcome,
		&txn.CreatedBy,
		&txn.CreatedAt,
		&txn.ResolvedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	txn.Amount = parsed
	if len(outcome) > 0 {
		var o domain.TransactionOutcome
		if err := json.Unmarshal(outcome, &o); err != nil {
			return nil, fmt.Errorf("decode transaction outcome: %w", err)
		}
		txn.Outcome = &o
	}
	return &txn, nil
}
