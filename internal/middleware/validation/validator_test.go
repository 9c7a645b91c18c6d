package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	app.Post("/analyze", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/analyze/stream", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestAcceptsValidJSONBody(t *testing.T) {
	app := testApp(Config{})

	req := httptest.NewRequest("POST", "/analyze", strings.NewReader(`{"question":"total revenue"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRejectsNonJSONContentType(t *testing.T) {
	app := testApp(Config{})

	req := httptest.NewRequest("POST", "/analyze", strings.NewReader("question=revenue"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRejectsMalformedJSON(t *testing.T) {
	app := testApp(Config{})

	req := httptest.NewRequest("POST", "/analyze", strings.NewReader(`{"question": `))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRejectsOverlongQuestion(t *testing.T) {
	app := testApp(Config{MaxQuestionLength: 10})

	req := httptest.NewRequest("GET", "/analyze/stream?question="+strings.Repeat("a", 11), nil)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAcceptsQueryQuestion(t *testing.T) {
	app := testApp(Config{})

	resp, err := app.Test(httptest.NewRequest("GET", "/analyze/stream?question=revenue", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
