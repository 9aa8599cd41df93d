package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToDomainErrorPassesThroughDomainErrors(t *testing.T) {
	conflict := NewConflict("already claimed", map[string]any{"application_id": "a1"})
	wrapped := fmt.Errorf("claim: %w", conflict)

	got := ToDomainError(wrapped)
	assert.Equal(t, CodeConflict, got.Code)
	assert.Equal(t, http.StatusConflict, got.HTTPStatus)
	assert.Equal(t, "a1", got.Details["application_id"])
}

func TestToDomainErrorMapsNoRowsToNotFound(t *testing.T) {
	got := ToDomainError(pgx.ErrNoRows)
	assert.Equal(t, CodeNotFound, got.Code)
	assert.Equal(t, http.StatusNotFound, got.HTTPStatus)
}

func TestToDomainErrorWrapsUnknownAsInternal(t *testing.T) {
	cause := errors.New("boom")
	got := ToDomainError(cause)
	assert.Equal(t, CodeInternal, got.Code)
	assert.ErrorIs(t, got, cause)
	assert.Nil(t, ToDomainError(nil))
}

func TestCategoryPredicates(t *testing.T) {
	assert.True(t, IsValidation(NewValidationError("bad", nil)))
	assert.True(t, IsConflict(fmt.Errorf("x: %w", NewConflict("dup", nil))))
	assert.True(t, IsIntegrity(NewIntegrityError("token mismatch", nil)))
	assert.True(t, IsNotFound(NewNotFound("permit", nil)))
	assert.True(t, IsForbidden(NewForbidden("no")))
	assert.False(t, IsConflict(errors.New("plain")))
	assert.Equal(t, http.StatusBadGateway, ToDomainError(NewGatewayError(errors.New("down"))).HTTPStatus)
}
