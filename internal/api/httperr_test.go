package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscan/pyroscan/internal/paramservice"
	"github.com/pyroscan/pyroscan/internal/registry"
	"github.com/pyroscan/pyroscan/internal/scheduler"
)

func statusFor(t *testing.T, err error) int {
	t.Helper()
	app := fiber.New()
	app.Get("/x", func(c *fiber.Ctx) error {
		return httpError(c, err)
	})
	resp, reqErr := app.Test(httptest.NewRequest(fiber.MethodGet, "/x", nil))
	require.NoError(t, reqErr)
	return resp.StatusCode
}

func TestHttpErrorMapsValidationErrors(t *testing.T) {
	assert.Equal(t, fiber.StatusUnprocessableEntity, statusFor(t, registry.ErrValidation{Field: "name", Reason: "required"}))
	assert.Equal(t, fiber.StatusUnprocessableEntity, statusFor(t, paramservice.ErrValidation{Reason: "out of range"}))
}

func TestHttpErrorMapsBusyAndNotFound(t *testing.T) {
	assert.Equal(t, fiber.StatusConflict, statusFor(t, scheduler.ErrBusy))
	assert.Equal(t, fiber.StatusConflict, statusFor(t, registry.ErrConflict))
	assert.Equal(t, fiber.StatusNotFound, statusFor(t, registry.ErrNotFound))
}

func TestHttpErrorDefaultsToInternalError(t *testing.T) {
	assert.Equal(t, fiber.StatusInternalServerError, statusFor(t, assertErr{"boom"}))
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
