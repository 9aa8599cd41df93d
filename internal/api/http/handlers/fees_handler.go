package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/permit-service/internal/api/dto"
	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/service"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// FeesHandler quotes permit fees.
type FeesHandler struct {
	service *service.ApplicationService
}

// NewFeesHandler constructs handler.
func NewFeesHandler(applicationService *service.ApplicationService) *FeesHandler {
	return &FeesHandler{service: applicationService}
}

// Quote GET /fees/quote?permit_type=TROS&duration=30.
func (h *FeesHandler) Quote(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	permitType := domain.PermitType(strings.ToUpper(c.Query("permit_type")))
	duration, err := strconv.Atoi(c.Query("duration"))
	if err != nil {
		return apperrors.NewValidationError("duration must be an integer", map[string]any{"duration": c.Query("duration")})
	}
	amount, err := h.service.QuoteFee(c.UserContext(), actor, c.Query("company_id"), permitType, duration)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FeeQuoteResponse{PermitType: permitType, Duration: duration, Fee: amount}})
}
