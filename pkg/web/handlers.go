// Package web provides the REST surface for operating the orchestrator:
// event ingestion, definition management and kernel control.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/citygrid/sentinel/pkg/audit"
	"github.com/citygrid/sentinel/pkg/kernel"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/citygrid/sentinel/pkg/persistence"
	"github.com/citygrid/sentinel/pkg/policy"
	"github.com/citygrid/sentinel/pkg/resources"
	"github.com/citygrid/sentinel/pkg/router"
	"github.com/citygrid/sentinel/pkg/workflow"
)

const defaultListLimit = 100

// APIHandlers binds the HTTP routes to the orchestration components. The
// definition store is optional; when present, registered definitions are also
// persisted.
type APIHandlers struct {
	logger    *slog.Logger
	router    *router.Router
	engine    *workflow.Engine
	kernel    *kernel.Kernel
	policies  *policy.Engine
	resources *resources.Manager
	auditLog  *audit.Log
	store     persistence.Store
	validator *validator.Validate
}

func NewAPIHandlers(
	logger *slog.Logger,
	eventRouter *router.Router,
	engine *workflow.Engine,
	k *kernel.Kernel,
	policies *policy.Engine,
	manager *resources.Manager,
	auditLog *audit.Log,
	store persistence.Store,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		logger:    logger,
		router:    eventRouter,
		engine:    engine,
		kernel:    k,
		policies:  policies,
		resources: manager,
		auditLog:  auditLog,
		store:     store,
		validator: validate,
	}
}

// IngestEvent accepts a raw payload on a named channel, normalizes it and
// routes it to the matching pipelines.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	channel := c.Params("channel")
	if channel == "" {
		return badRequest(c, "Channel is required")
	}

	var raw map[string]any
	if err := c.Bind().JSON(&raw); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	event, err := h.router.Route(c.Context(), channel, raw)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(event)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"workflows": h.engine.Workflows()})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflowDef, err := h.engine.Workflow(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflowDef)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflowDef models.Workflow
	if err := c.Bind().JSON(&workflowDef); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err := h.engine.Register(&workflowDef)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if h.store != nil {
		err := h.store.SaveWorkflow(c.Context(), &workflowDef)
		if err != nil {
			return internalError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(workflowDef)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.engine.Execute(c.Context(), id, string(models.TriggerTypeManual), req.TriggerData)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetPolicies(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"policies": h.policies.Bindings()})
}

func (h *APIHandlers) CreatePolicy(c fiber.Ctx) error {
	var binding models.PolicyBinding
	if err := c.Bind().JSON(&binding); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(binding); err != nil {
		return badRequest(c, err.Error())
	}

	h.policies.Register(&binding)

	if h.store != nil {
		err := h.store.SaveBinding(c.Context(), &binding)
		if err != nil {
			return internalError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(binding)
}

func (h *APIHandlers) GetResources(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"resources": h.resources.All()})
}

func (h *APIHandlers) CreateResource(c fiber.Ctx) error {
	var resource models.Resource
	if err := c.Bind().JSON(&resource); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(resource); err != nil {
		return badRequest(c, err.Error())
	}

	h.resources.Register(&resource)

	if h.store != nil {
		err := h.store.SaveResource(c.Context(), &resource)
		if err != nil {
			return internalError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(resource)
}

func (h *APIHandlers) ReleaseResource(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.resources.Get(id); err != nil {
		return handleError(c, err)
	}

	released := h.resources.Release(id)

	return c.JSON(fiber.Map{"resource_id": id, "released": released})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		return c.JSON(fiber.Map{"executions": h.engine.ActiveExecutions()})
	}

	return c.JSON(fiber.Map{"executions": h.engine.Executions()})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.Execution(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) AbortExecution(c fiber.Ctx) error {
	var req AbortExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.Abort(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetQueue(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"queued": h.kernel.Queued()})
}

func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"results": h.kernel.History(h.limit(c))})
}

func (h *APIHandlers) GetAudit(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"entries": h.auditLog.Entries(h.limit(c))})
}

func (h *APIHandlers) GetChecks(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"checks": h.policies.History(h.limit(c))})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"router":    h.router.Statistics(),
		"workflows": h.engine.Statistics(),
		"kernel":    h.kernel.Statistics(),
		"policies":  h.policies.Statistics(),
		"resources": h.resources.Statistics(),
	})
}

func (h *APIHandlers) StartKernel(c fiber.Ctx) error {
	err := h.kernel.Start(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"status": h.kernel.Status()})
}

func (h *APIHandlers) StopKernel(c fiber.Ctx) error {
	err := h.kernel.Stop(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"status": h.kernel.Status()})
}

func (h *APIHandlers) PauseKernel(c fiber.Ctx) error {
	h.kernel.Pause()

	return c.JSON(fiber.Map{"status": h.kernel.Status()})
}

func (h *APIHandlers) ResumeKernel(c fiber.Ctx) error {
	h.kernel.Resume()

	return c.JSON(fiber.Map{"status": h.kernel.Status()})
}

func (h *APIHandlers) GetKernel(c fiber.Ctx) error {
	return c.JSON(h.kernel.Statistics())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Sentinel API is healthy"
	httpStatus := http.StatusOK

	storeCheck := "ok"

	if h.store != nil {
		if err := h.store.HealthCheck(c.Context()); err != nil {
			storeCheck = err.Error()
			status = "unhealthy"
			message = "Sentinel API is unhealthy"
			httpStatus = http.StatusInternalServerError
		}
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store":  storeCheck,
			"kernel": h.kernel.Status(),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) limit(c fiber.Ctx) int {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultListLimit
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}

	return limit
}
