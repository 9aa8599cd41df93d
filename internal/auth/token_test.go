package auth

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 15)
	actor := domain.Actor{ID: "u-1", Type: domain.SubjectTypeCompanyUser, Role: domain.RoleClient, CompanyID: "c-1"}

	token, expiresAt, err := tm.GenerateToken(actor)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, time.Minute)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor, claims.Actor())
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	actor := domain.Actor{ID: "s-1", Type: domain.SubjectTypeStaff, Role: domain.RoleClerk}

	token, _, err := NewTokenManager("one", 5).GenerateToken(actor)
	require.NoError(t, err)
	_, err = NewTokenManager("two", 5).ParseToken(token)
	assert.Error(t, err)

	expired := NewTokenManager("one", 5)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err = expired.GenerateToken(actor)
	require.NoError(t, err)
	_, err = NewTokenManager("one", 5).ParseToken(token)
	assert.Error(t, err)
}

func newAuthApp(tm *TokenManager, guard fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(apperrors.ToDomainError(err).HTTPStatus).SendString(err.Error())
		},
	})
	mw := NewAuthMiddleware(tm)
	app.Get("/whoami", mw.Handle, guard, func(c *fiber.Ctx) error {
		actor, _ := ActorFromContext(c)
		return c.SendString(actor.ID)
	})
	return app
}

func TestMiddlewareAndStaffGuard(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newAuthApp(tm, RequireStaff(domain.RoleSupervisor))

	req := httptest.NewRequest("GET", "/whoami", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	clerkToken, _, err := tm.GenerateToken(domain.Actor{ID: "s-1", Type: domain.SubjectTypeStaff, Role: domain.RoleClerk})
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+clerkToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	supToken, _, err := tm.GenerateToken(domain.Actor{ID: "s-2", Type: domain.SubjectTypeStaff, Role: domain.RoleSupervisor})
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+supToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "s-2", string(body))
}

func TestMiddlewareRejectsSystemAndCompanylessTokens(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newAuthApp(tm, RequireAuthenticated())

	for _, actor := range []domain.Actor{
		domain.SystemActor(),
		{ID: "u-1", Type: domain.SubjectTypeCompanyUser, Role: domain.RoleClient},
	} {
		token, _, err := tm.GenerateToken(actor)
		require.NoError(t, err)
		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}
}
