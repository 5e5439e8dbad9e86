package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/citygrid/sentinel/pkg/audit"
	pkgcmd "github.com/citygrid/sentinel/pkg/cmd"
	"github.com/citygrid/sentinel/pkg/eventbus"
	"github.com/citygrid/sentinel/pkg/kernel"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/citygrid/sentinel/pkg/otelhelper"
	"github.com/citygrid/sentinel/pkg/persistence"
	"github.com/citygrid/sentinel/pkg/policy"
	"github.com/citygrid/sentinel/pkg/resources"
	"github.com/citygrid/sentinel/pkg/router"
	"github.com/citygrid/sentinel/pkg/subsystems"
	"github.com/citygrid/sentinel/pkg/workflow"
)

// Options carries the resolved command-line configuration.
type Options struct {
	Port          int
	DatabaseURL   string
	EventBus      string
	KafkaBrokers  string
	RedisURL      string
	AuditStream   string
	Workers       int
	QueueCapacity int
	ActionTimeout time.Duration
	Tracing       bool
}

// Runtime is the composition root: every component is built here and handed
// its collaborators explicitly.
type Runtime struct {
	logger    *slog.Logger
	options   Options
	store     persistence.Store
	bus       eventbus.EventBus
	router    *router.Router
	policies  *policy.Engine
	resources *resources.Manager
	kernel    *kernel.Kernel
	engine    *workflow.Engine
	scheduler *workflow.Scheduler
	auditLog  *audit.Log
}

func NewRuntime(ctx context.Context, logger *slog.Logger, options Options) (*Runtime, error) {
	store, err := pkgcmd.NewStore(ctx, logger, options.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition store: %w", err)
	}

	bus, err := pkgcmd.NewEventBus(options.EventBus, options.KafkaBrokers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	auditLog := audit.NewLog(0)
	sinks := []audit.Sink{auditLog}

	if options.RedisURL != "" {
		redisOptions, err := redis.ParseURL(options.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		sinks = append(sinks, audit.NewRedisSink(redis.NewClient(redisOptions), options.AuditStream, 0))
	}

	audit.Tap(bus, logger, sinks...)

	policies := policy.NewEngine(logger)
	policies.SetReviewNotifier(audit.NewBusNotifier(bus, logger))

	manager := resources.NewManager(logger)

	kern := kernel.New(logger, policies, manager, bus, kernel.Config{
		Workers:              options.Workers,
		QueueCapacity:        options.QueueCapacity,
		DefaultActionTimeout: options.ActionTimeout,
	})
	subsystems.RegisterBuiltin(kern)
	kern.RegisterSubsystem("webhook", subsystems.NewWebhook(3, time.Second))

	engine := workflow.NewEngine(logger, kern, bus)
	scheduler := workflow.NewScheduler(engine)

	eventRouter := router.NewRouter(logger)
	eventRouter.RegisterPipeline("workflows", engine.HandleEvent)
	seedChannels(eventRouter)

	runtime := &Runtime{
		logger:    logger,
		options:   options,
		store:     store,
		bus:       bus,
		router:    eventRouter,
		policies:  policies,
		resources: manager,
		kernel:    kern,
		engine:    engine,
		scheduler: scheduler,
		auditLog:  auditLog,
	}

	err = runtime.loadDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	return runtime, nil
}

// loadDefinitions seeds the engines from the definition store.
func (r *Runtime) loadDefinitions(ctx context.Context) error {
	workflows, err := r.store.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	for _, workflowDef := range workflows {
		err := r.engine.Register(workflowDef)
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping invalid workflow", "workflow_id", workflowDef.ID, "error", err)

			continue
		}

		err = r.scheduler.Add(workflowDef)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to schedule workflow", "workflow_id", workflowDef.ID, "error", err)
		}
	}

	bindings, err := r.store.Bindings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policy bindings: %w", err)
	}

	for _, binding := range bindings {
		r.policies.Register(binding)
	}

	inventory, err := r.store.Resources(ctx)
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}

	for _, resource := range inventory {
		r.resources.Register(resource)
	}

	r.logger.InfoContext(ctx, "Definitions loaded",
		"workflows", len(workflows),
		"bindings", len(bindings),
		"resources", len(inventory),
	)

	return nil
}

// Run starts every component, serves the admin API and blocks until a
// termination signal arrives.
func (r *Runtime) Run(ctx context.Context) error {
	if r.options.Tracing {
		_, err := otelhelper.NewTracer(ctx, "sentineld")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	err := r.kernel.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	go func() {
		err := r.bus.Subscribe(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "Event bus subscription ended", "error", err)
		}
	}()

	r.scheduler.Start()

	app := r.App()

	go func() {
		err := app.Listen(fmt.Sprintf(":%d", r.options.Port))
		if err != nil {
			r.logger.ErrorContext(ctx, "Admin API stopped", "error", err)
		}
	}()

	r.logger.InfoContext(ctx, "Sentinel daemon running", "port", r.options.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	r.logger.InfoContext(ctx, "Shutting down...")

	return r.shutdown(ctx, app.Shutdown)
}

func (r *Runtime) shutdown(ctx context.Context, stopAPI func() error) error {
	r.scheduler.Stop()

	err := stopAPI()
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to stop admin API", "error", err)
	}

	err = r.kernel.Stop(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to stop kernel", "error", err)
	}

	err = r.bus.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = r.store.Close(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to close definition store", "error", err)
	}

	return nil
}

// seedChannels registers the ingestion schemas the deployment ships with and
// a catch-all rule feeding the workflow pipeline. Additional channels and
// rules are added at build time.
func seedChannels(eventRouter *router.Router) {
	eventRouter.RegisterSchema(router.GunshotDetectionSchema())
	eventRouter.RegisterSchema(router.EmergencyCallSchema())
	eventRouter.RegisterSchema(router.CityCameraSchema())

	eventRouter.RegisterRule(&models.RoutingRule{
		Name: "all-to-workflows",
		Categories: []models.EventCategory{
			models.CategoryPublicSafety,
			models.CategoryOfficerSafety,
			models.CategoryInfrastructure,
			models.CategoryTraffic,
			models.CategoryCityServices,
			models.CategoryGeneral,
		},
		PriorityThreshold: 5,
		Pipelines:         []string{"workflows"},
		Enabled:           true,
	})
}
