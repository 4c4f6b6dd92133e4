package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/services"
)

// errorMapping turns a class of service error into a problem response. An empty detail
// exposes err.Error() to the client.
type errorMapping struct {
	match       func(error) bool
	status      int
	problemType string
	detail      string
}

var errorMappings = []errorMapping{
	{match: services.IsValidationError, status: fiber.StatusBadRequest, problemType: "validation_error"},
	{match: services.IsConflictError, status: fiber.StatusConflict, problemType: "conflict"},
	{match: persistence.IsAutomationNotFound, status: fiber.StatusNotFound, problemType: "automation_not_found", detail: "automation not found"},
	{match: persistence.IsExecutionNotFound, status: fiber.StatusNotFound, problemType: "execution_not_found", detail: "execution not found"},
	{match: persistence.IsNotFound, status: fiber.StatusNotFound, problemType: "not_found"},
}

func respond(c fiber.Ctx, status int, problemType, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

func badRequest(c fiber.Ctx, detail string) error {
	return respond(c, fiber.StatusBadRequest, "validation_error", detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return respond(c, fiber.StatusForbidden, "forbidden", detail)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service and persistence errors to problem responses.
// Validation errors carrying a code use it as the problem type.
func handleServiceError(c fiber.Ctx, err error) error {
	for _, mapping := range errorMappings {
		if !mapping.match(err) {
			continue
		}

		problemType := mapping.problemType

		var serviceErr *services.ServiceError
		if mapping.status == fiber.StatusBadRequest && errors.As(err, &serviceErr) && serviceErr.Code != "" {
			problemType = serviceErr.Code
		}

		detail := mapping.detail
		if detail == "" {
			detail = err.Error()
		}

		return respond(c, mapping.status, problemType, detail)
	}

	return internalError(c, err)
}
