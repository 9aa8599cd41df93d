package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/api/dto"
	"github.com/spec-kit/permit-service/internal/gateway"
	"github.com/spec-kit/permit-service/internal/observability"
	"github.com/spec-kit/permit-service/internal/service"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// PaymentsHandler serves payment transactions and the gateway callback.
type PaymentsHandler struct {
	service *service.PaymentService
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPaymentsHandler constructs handler.
func NewPaymentsHandler(paymentService *service.PaymentService, metrics *observability.Metrics, logger *zap.Logger) *PaymentsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentsHandler{service: paymentService, metrics: metrics, logger: logger}
}

// Start POST /payments.
func (h *PaymentsHandler) Start(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.StartPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.StartTransactionInput{
		PaymentMethod: req.PaymentMethod,
		CardType:      req.CardType,
		ReturnURL:     req.ReturnURL,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.PaymentItem{ApplicationID: item.ApplicationID, Amount: item.Amount})
	}
	result, err := h.service.StartTransaction(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	if result.Outcome != nil {
		h.metrics.RecordTransactionOutcome(result.Outcome.Approved)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.StartPaymentResponse{
		Transaction: *dto.NewTransactionResponse(result.Transaction),
		RedirectURL: result.RedirectURL,
		Outcome:     result.Outcome,
	}})
}

// Callback POST /payments/callback. Unauthenticated; trust comes from the
// integrity token.
func (h *PaymentsHandler) Callback(c *fiber.Ctx) error {
	var cb gateway.Callback
	if err := c.BodyParser(&cb); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if cb.TransactionID == "" || cb.IntegrityToken == "" {
		return apperrors.NewValidationError("transaction_id and integrity token required", nil)
	}
	outcome, err := h.service.CompleteTransaction(c.UserContext(), cb)
	if err != nil {
		if apperrors.IsIntegrity(err) {
			h.logger.Warn("rejected payment callback", zap.String("ip", c.IP()), zap.String("transaction_id", cb.TransactionID))
		}
		return err
	}
	h.metrics.RecordTransactionOutcome(outcome.Approved)
	return c.JSON(fiber.Map{"data": outcome})
}

// Get GET /payments/:id.
func (h *PaymentsHandler) Get(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	txn, err := h.service.GetTransaction(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTransactionResponse(txn)})
}
