package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/citygrid/sentinel/pkg/kernel"
	"github.com/citygrid/sentinel/pkg/persistence"
	"github.com/citygrid/sentinel/pkg/resources"
	"github.com/citygrid/sentinel/pkg/router"
	"github.com/citygrid/sentinel/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps well-known orchestration errors onto problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrExecutionNotFound),
		errors.Is(err, resources.ErrNotFound),
		errors.Is(err, persistence.ErrWorkflowNotFound),
		errors.Is(err, persistence.ErrBindingNotFound),
		errors.Is(err, persistence.ErrResourceNotFound):
		return notFound(c, err.Error())

	case errors.Is(err, workflow.ErrWorkflowDisabled),
		errors.Is(err, resources.ErrUnavailable),
		errors.Is(err, kernel.ErrAlreadyStarted),
		errors.Is(err, kernel.ErrStopped):
		return conflict(c, err.Error())

	case errors.Is(err, router.ErrUnknownChannel):
		return notFound(c, err.Error())

	case errors.As(err, new(*router.SchemaError)):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
