package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/citygrid/sentinel/pkg/eventbus"
	"github.com/citygrid/sentinel/pkg/events"
	"github.com/citygrid/sentinel/pkg/models"
)

// BusNotifier forwards failing warning-severity guardrail checks onto the
// event bus review topic, where human reviewers (or the audit sinks) pick
// them up.
type BusNotifier struct {
	publisher eventbus.Publisher
	logger    *slog.Logger
}

func NewBusNotifier(publisher eventbus.Publisher, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{
		publisher: publisher,
		logger:    logger.With("module", "audit.notifier"),
	}
}

func (n *BusNotifier) NotifyWarning(ctx context.Context, check models.GuardrailCheck) {
	event := events.PolicyWarning{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.PolicyWarningEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: check.WorkflowID,
			ActionID:   check.ActionID,
		},
		Binding:  check.Binding,
		Severity: string(check.Severity),
		Message:  check.Message,
	}

	if err := n.publisher.Publish(ctx, event.Key(), event); err != nil {
		n.logger.ErrorContext(ctx, "Failed to publish policy warning", "binding", check.Binding, "error", err)
	}
}
