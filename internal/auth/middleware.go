package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

const actorKey = "auth_actor"

// AuthMiddleware validates bearer tokens and stores the caller's Actor.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	actor := claims.Actor()
	switch actor.Type {
	case domain.SubjectTypeCompanyUser:
		if actor.CompanyID == "" {
			return apperrors.NewUnauthorized("company user token without company")
		}
	case domain.SubjectTypeStaff:
	default:
		// SYSTEM is reserved for in-process callers.
		return apperrors.NewUnauthorized("unknown subject")
	}

	c.Locals(actorKey, actor)
	return c.Next()
}

// ActorFromContext retrieves the authenticated caller.
func ActorFromContext(c *fiber.Ctx) (domain.Actor, bool) {
	actor, ok := c.Locals(actorKey).(domain.Actor)
	return actor, ok
}
