package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		problemType string
		detail      string
	}{
		{"coded validation", services.NewValidationError("Create", "INVALID_CHANNEL", "invalid channel 'sms'", services.ErrInvalidChannel), 400, "INVALID_CHANNEL", ""},
		{"plain validation", services.ErrNameRequired, 400, "validation_error", "automation name is required"},
		{"conflict", &services.ServiceError{Op: "Pause", Err: services.ErrNotPublished}, 409, "conflict", "Pause: automation is not published"},
		{"automation missing", persistence.NewEntityError("AutomationByID", "automation", "a-1", persistence.ErrAutomationNotFound), 404, "automation_not_found", "automation not found"},
		{"execution missing", persistence.ErrExecutionNotFound, 404, "execution_not_found", "execution not found"},
		{"version missing", persistence.ErrVersionNotFound, 404, "not_found", "version not found"},
		{"unexpected", errors.New("connection reset"), 500, "internal_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/fail", func(c fiber.Ctx) error {
				return handleServiceError(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			var problem map[string]any
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Equal(t, tt.problemType, problem["type"])
			assert.Equal(t, "/fail", problem["instance"])

			if tt.detail != "" {
				assert.Equal(t, tt.detail, problem["detail"])
			}
		})
	}
}
