package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/permit-service/internal/api/dto"
	"github.com/spec-kit/permit-service/internal/service"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// ApplicationsHandler serves application lifecycle endpoints.
type ApplicationsHandler struct {
	service *service.ApplicationService
}

// NewApplicationsHandler constructs handler.
func NewApplicationsHandler(applicationService *service.ApplicationService) *ApplicationsHandler {
	return &ApplicationsHandler{service: applicationService}
}

// Create POST /applications.
func (h *ApplicationsHandler) Create(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	draft, err := draftFromRequest(req)
	if err != nil {
		return err
	}
	app, err := h.service.CreateApplication(c.UserContext(), actor, draft)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Update PUT /applications/:id.
func (h *ApplicationsHandler) Update(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	draft, err := draftFromRequest(req)
	if err != nil {
		return err
	}
	app, err := h.service.UpdateApplication(c.UserContext(), actor, c.Params("id"), draft)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Get GET /applications/:id.
func (h *ApplicationsHandler) Get(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	app, err := h.service.GetApplication(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// List GET /applications.
func (h *ApplicationsHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	apps, err := h.service.ListApplications(c.UserContext(), actor, service.ApplicationListFilter{
		CompanyID: optionalQuery(c, "company_id"),
		Statuses:  statuses,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationList(apps)})
}

// Submit POST /applications/:id/submit.
func (h *ApplicationsHandler) Submit(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	app, err := h.service.SubmitForPayment(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}

// Cancel POST /applications/:id/cancel.
func (h *ApplicationsHandler) Cancel(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	app, err := h.service.CancelApplication(c.UserContext(), actor, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApplicationResponse(app)})
}
