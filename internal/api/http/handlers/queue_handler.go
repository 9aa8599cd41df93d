package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/permit-service/internal/api/dto"
	"github.com/spec-kit/permit-service/internal/service"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// QueueHandler serves the staff review queue.
type QueueHandler struct {
	service *service.QueueService
}

// NewQueueHandler constructs handler.
func NewQueueHandler(queueService *service.QueueService) *QueueHandler {
	return &QueueHandler{service: queueService}
}

// List GET /queue.
func (h *QueueHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	apps, err := h.service.ListQueue(c.UserContext(), actor, service.QueueFilter{
		Statuses:  statuses,
		ClaimedBy: optionalQuery(c, "claimed_by"),
		CompanyID: optionalQuery(c, "company_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationList(apps)})
}

// Claim POST /queue/:id/claim.
func (h *QueueHandler) Claim(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	app, err := h.service.Claim(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Unclaim POST /queue/:id/unclaim.
func (h *QueueHandler) Unclaim(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	app, err := h.service.Unclaim(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Approve POST /queue/:id/approve.
func (h *QueueHandler) Approve(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	req, err := decisionRequest(c)
	if err != nil {
		return err
	}
	app, err := h.service.Approve(c.UserContext(), actor, c.Params("id"), req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Reject POST /queue/:id/reject.
func (h *QueueHandler) Reject(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	req, err := decisionRequest(c)
	if err != nil {
		return err
	}
	app, err := h.service.Reject(c.UserContext(), actor, c.Params("id"), req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Activity GET /queue/:id/activity.
func (h *QueueHandler) Activity(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	activities, err := h.service.ListActivity(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueueActivityList(activities)})
}

func decisionRequest(c *fiber.Ctx) (dto.QueueDecisionRequest, error) {
	var req dto.QueueDecisionRequest
	if len(c.Body()) == 0 {
		return req, nil
	}
	if err := c.BodyParser(&req); err != nil {
		return req, apperrors.NewValidationError("invalid payload", nil)
	}
	return req, nil
}
