// Package subsystems bundles the built-in action handlers that ship with the
// orchestrator. The simulation handlers (drone operations, patrol dispatch,
// communications, incident log) acknowledge commands locally so workflows can
// run end to end without field hardware; real fleets hook in by registering
// their own handlers or via the webhook handler.
package subsystems

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/citygrid/sentinel/pkg/kernel"
)

// RegisterBuiltin attaches every built-in handler to the kernel under its
// canonical subsystem name.
func RegisterBuiltin(k *kernel.Kernel) {
	k.RegisterSubsystem("drone_ops", NewDroneOps())
	k.RegisterSubsystem("patrol_dispatch", NewPatrolDispatch())
	k.RegisterSubsystem("communications", NewCommunications())
	k.RegisterSubsystem("incident_log", NewIncidentLog())
}

// DroneOps simulates the uncrewed-aerial operations subsystem. It accepts
// launch, reposition and recall commands and reports a mission identifier.
type DroneOps struct{}

func NewDroneOps() *DroneOps {
	return &DroneOps{}
}

func (d *DroneOps) Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("subsystem", "drone_ops")

	command, _ := params["command"].(string)
	if command == "" {
		command = "launch"
	}

	switch command {
	case "launch", "reposition", "recall":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	missionID := "msn-" + uuid.New().String()

	logger.InfoContext(ctx, "Drone command accepted",
		"command", command,
		"mission_id", missionID,
		"target", params["target"],
	)

	return map[string]any{
		"mission_id":  missionID,
		"command":     command,
		"accepted_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// PatrolDispatch simulates the ground-unit dispatch subsystem.
type PatrolDispatch struct{}

func NewPatrolDispatch() *PatrolDispatch {
	return &PatrolDispatch{}
}

func (p *PatrolDispatch) Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("subsystem", "patrol_dispatch")

	units := 1
	if n, ok := params["units"].(float64); ok && n > 0 {
		units = int(n)
	}

	dispatchID := "dsp-" + uuid.New().String()

	logger.InfoContext(ctx, "Patrol units dispatched",
		"dispatch_id", dispatchID,
		"units", units,
		"destination", params["destination"],
	)

	return map[string]any{
		"dispatch_id": dispatchID,
		"units":       units,
	}, nil
}

// Communications simulates the alerting subsystem. It relays a message to a
// named channel (radio, sms, public_address) and reports delivery.
type Communications struct{}

func NewCommunications() *Communications {
	return &Communications{}
}

func (c *Communications) Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("subsystem", "communications")

	message, ok := params["message"].(string)
	if !ok || message == "" {
		return nil, ErrMessageMissing
	}

	channel, _ := params["channel"].(string)
	if channel == "" {
		channel = "radio"
	}

	logger.InfoContext(ctx, "Message relayed", "channel", channel, "length", len(message))

	return map[string]any{
		"channel":      channel,
		"delivered":    true,
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// IncidentLog simulates the record-keeping subsystem: every invocation files
// one incident entry and returns its reference.
type IncidentLog struct{}

func NewIncidentLog() *IncidentLog {
	return &IncidentLog{}
}

func (i *IncidentLog) Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("subsystem", "incident_log")

	entryID := "inc-" + uuid.New().String()

	logger.InfoContext(ctx, "Incident entry filed",
		"entry_id", entryID,
		"summary", params["summary"],
	)

	return map[string]any{
		"entry_id": entryID,
		"filed_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
