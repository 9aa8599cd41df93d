package dto

import (
	"time"

	"github.com/spec-kit/permit-service/internal/domain"
)

// QueueDecisionRequest carries the reviewer's comment.
type QueueDecisionRequest struct {
	Comment string `json:"comment"`
}

// QueueActivityResponse is one queue log entry.
type QueueActivityResponse struct {
	ID            string                   `json:"id"`
	ApplicationID string                   `json:"application_id"`
	Type          domain.QueueActivityType `json:"type"`
	ActorID       string                   `json:"actor_id"`
	Comment       *string                  `json:"comment"`
	CreatedAt     time.Time                `json:"created_at"`
}

// NewQueueActivityList maps queue activities.
func NewQueueActivityList(activities []domain.QueueActivity) []QueueActivityResponse {
	out := make([]QueueActivityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, QueueActivityResponse{
			ID:            a.ID,
			ApplicationID: a.ApplicationID,
			Type:          a.Type,
			ActorID:       a.ActorID,
			Comment:       a.Comment,
			CreatedAt:     a.CreatedAt,
		})
	}
	return out
}
