package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/permit-service/internal/api/dto"
	"github.com/spec-kit/permit-service/internal/service"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// PermitsHandler serves permit-level operations spanning revisions.
type PermitsHandler struct {
	applications *service.ApplicationService
	payments     *service.PaymentService
}

// NewPermitsHandler constructs handler.
func NewPermitsHandler(applications *service.ApplicationService, payments *service.PaymentService) *PermitsHandler {
	return &PermitsHandler{applications: applications, payments: payments}
}

// Amend POST /permits/:permitId/amend. An empty body copies the issued data.
func (h *PermitsHandler) Amend(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var draft *service.ApplicationDraft
	if len(c.Body()) > 0 {
		var req dto.ApplicationRequest
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
		parsed, err := draftFromRequest(req)
		if err != nil {
			return err
		}
		draft = &parsed
	}
	app, err := h.applications.Amend(c.UserContext(), actor, c.Params("permitId"), draft)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Void POST /permits/:permitId/void.
func (h *PermitsHandler) Void(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.applications.VoidPermit(c.UserContext(), actor, c.Params("permitId"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.VoidResponse{
		Application:  dto.NewApplicationResponse(result.Application),
		RefundAmount: result.RefundAmount,
		Transaction:  dto.NewTransactionResponse(result.Transaction),
	}})
}

// Revoke POST /permits/:permitId/revoke.
func (h *PermitsHandler) Revoke(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.applications.RevokePermit(c.UserContext(), actor, c.Params("permitId"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.RevokeResponse{
		Application: dto.NewApplicationResponse(result.Application),
		Transaction: dto.NewTransactionResponse(result.Transaction),
	}})
}

// Current GET /permits/:permitId/current.
func (h *PermitsHandler) Current(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	res, err := h.applications.ResolveCurrentRevision(c.UserContext(), actor, c.Params("permitId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.CurrentRevisionResponse{
		Current:  dto.NewApplicationResponse(res.Current),
		Editable: res.Editable,
	}})
}

// History GET /permits/:permitId/history.
func (h *PermitsHandler) History(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	entries, err := h.applications.GetPermitHistory(c.UserContext(), actor, c.Params("permitId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPermitHistory(entries)})
}

// Revisions GET /permits/:permitId/revisions.
func (h *PermitsHandler) Revisions(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	apps, err := h.applications.ListRevisions(c.UserContext(), actor, c.Params("permitId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationList(apps)})
}

// Issue POST /permits/issue.
func (h *PermitsHandler) Issue(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.IssuePermitsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if len(req.ApplicationIDs) == 0 {
		return apperrors.NewValidationError("application_ids required", nil)
	}
	outcome, err := h.payments.IssuePermits(c.UserContext(), actor, req.ApplicationIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": outcome})
}
