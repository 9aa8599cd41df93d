package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/permit-service/internal/api/dto"
	"github.com/spec-kit/permit-service/internal/auth"
	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/service"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

const dateLayout = "2006-01-02"

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func parseDate(val string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, val); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, val)
}

func draftFromRequest(req dto.ApplicationRequest) (service.ApplicationDraft, error) {
	draft := service.ApplicationDraft{
		CompanyID:  req.CompanyID,
		PermitType: req.PermitType,
		Duration:   req.Duration,
		Snapshot:   req.Snapshot,
	}
	if req.StartDate != "" {
		start, err := parseDate(req.StartDate)
		if err != nil {
			return draft, apperrors.NewValidationError("invalid start_date", map[string]any{"start_date": req.StartDate})
		}
		draft.StartDate = start
	}
	return draft, nil
}

func parseStatuses(val string) ([]domain.ApplicationStatus, error) {
	if val == "" {
		return nil, nil
	}
	var statuses []domain.ApplicationStatus
	for _, part := range strings.Split(val, ",") {
		status := domain.ApplicationStatus(strings.ToUpper(strings.TrimSpace(part)))
		if !status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": part})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	if val := c.Query(key); val != "" {
		return &val
	}
	return nil
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	return pageSize, (page - 1) * pageSize
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
