package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/permit-service/internal/domain"
)

// QueueActivityRepository stores the append-only queue log. There is no
// update or delete.
type QueueActivityRepository interface {
	Create(ctx context.Context, activity *domain.QueueActivity) error
	ListByApplication(ctx context.Context, applicationID string) ([]domain.QueueActivity, error)
}

type queueActivityRepository struct {
	pool *pgxpool.Pool
}

// NewQueueActivityRepository builds repository.
func NewQueueActivityRepository(pool *pgxpool.Pool) QueueActivityRepository {
	return &queueActivityRepository{pool: pool}
}

func (r *queueActivityRepository) Create(ctx context.Context, activity *domain.QueueActivity) error {
	const query = `
        INSERT INTO queue_activities (id, application_id, activity_type, actor_id, comment)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		activity.ID,
		activity.ApplicationID,
		activity.Type,
		activity.ActorID,
		activity.Comment,
	).Scan(&activity.CreatedAt)
}

func (r *queueActivityRepository) ListByApplication(ctx context.Context, applicationID string) ([]domain.QueueActivity, error) {
	const query = `
        SELECT id, application_id, activity_type, actor_id, comment, created_at
        FROM queue_activities WHERE application_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.QueueActivity{}
	for rows.Next() {
		var activity domain.QueueActivity
		if err := rows.Scan(
			&activity.ID,
			&activity.ApplicationID,
			&activity.Type,
			&activity.ActorID,
			&activity.Comment,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, activity)
	}
	return result, rows.Err()
}
