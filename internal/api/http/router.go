package http

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/spec-kit/permit-service/internal/api/http/handlers"
	"github.com/spec-kit/permit-service/internal/auth"
	"github.com/spec-kit/permit-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Applications    *handlers.ApplicationsHandler
	Permits         *handlers.PermitsHandler
	Payments        *handlers.PaymentsHandler
	Queue           *handlers.QueueHandler
	Fees            *handlers.FeesHandler
	AuthMiddleware  *auth.AuthMiddleware
	CallbackLimiter *rate.Limiter
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authn := cfg.AuthMiddleware.Handle
	staff := auth.RequireStaff()
	elevated := auth.RequireStaff(domain.RoleSupervisor, domain.RoleSystemAdmin)

	app.Get("/admin/metrics", authn, staff, cfg.Health.Metrics)

	// The gateway posts callbacks without a bearer token.
	app.Post("/payments/callback", rateLimitMiddleware(cfg.CallbackLimiter), cfg.Payments.Callback)
	app.Post("/payments", authn, cfg.Payments.Start)
	app.Get("/payments/:id", authn, cfg.Payments.Get)

	applications := app.Group("/applications", authn)
	applications.Post("/", cfg.Applications.Create)
	applications.Get("/", cfg.Applications.List)
	applications.Get("/:id", cfg.Applications.Get)
	applications.Put("/:id", cfg.Applications.Update)
	applications.Post("/:id/submit", cfg.Applications.Submit)
	applications.Post("/:id/cancel", cfg.Applications.Cancel)

	permits := app.Group("/permits", authn)
	permits.Post("/issue", staff, cfg.Permits.Issue)
	permits.Post("/:permitId/amend", cfg.Permits.Amend)
	permits.Post("/:permitId/void", staff, cfg.Permits.Void)
	permits.Post("/:permitId/revoke", elevated, cfg.Permits.Revoke)
	permits.Get("/:permitId/current", cfg.Permits.Current)
	permits.Get("/:permitId/history", cfg.Permits.History)
	permits.Get("/:permitId/revisions", cfg.Permits.Revisions)

	queue := app.Group("/queue", authn, staff)
	queue.Get("/", cfg.Queue.List)
	queue.Post("/:id/claim", cfg.Queue.Claim)
	queue.Post("/:id/unclaim", cfg.Queue.Unclaim)
	queue.Post("/:id/approve", cfg.Queue.Approve)
	queue.Post("/:id/reject", cfg.Queue.Reject)
	queue.Get("/:id/activity", cfg.Queue.Activity)

	fees := app.Group("/fees", authn)
	fees.Get("/quote", cfg.Fees.Quote)
}

// NewCallbackLimiter builds the shared limiter for gateway callbacks. A
// non-positive rate disables limiting.
func NewCallbackLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
