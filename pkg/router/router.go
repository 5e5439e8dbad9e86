// Package router ingests raw events from named channels, normalizes them
// against per-channel schemas and forwards them to registered pipelines.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/citygrid/sentinel/pkg/metrics"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/citygrid/sentinel/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrUnknownChannel indicates no schema is registered for the channel.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownPipeline indicates a routing rule targets an unregistered pipeline.
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

// Pipeline consumes normalized events. Delivery to each pipeline is
// independent: one failing pipeline never prevents delivery to the others.
type Pipeline func(ctx context.Context, event *models.NormalizedEvent) error

// Statistics is a point-in-time snapshot of router counters.
type Statistics struct {
	EventsReceived int64            `json:"events_received"`
	EventsRouted   int64            `json:"events_routed"`
	EventsDropped  int64            `json:"events_dropped"`
	RuleMatches    map[string]int64 `json:"rule_matches"`
}

// Router validates and normalizes raw channel events and fans them out to
// pipelines according to routing rules, evaluated in registration order.
type Router struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	tracer    trace.Tracer
	schemas   map[string]*ChannelSchema
	rules     []*models.RoutingRule
	pipelines map[string]Pipeline

	received    int64
	routed      int64
	dropped     int64
	ruleMatches map[string]int64
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:      logger.With("module", "event_router"),
		tracer:      otel.Tracer("event_router"),
		schemas:     make(map[string]*ChannelSchema),
		pipelines:   make(map[string]Pipeline),
		ruleMatches: make(map[string]int64),
	}
}

// RegisterSchema installs or replaces the schema for a channel.
func (r *Router) RegisterSchema(schema *ChannelSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas[schema.Channel] = schema
}

// RegisterRule appends a routing rule. Rules are evaluated in the order they
// were registered.
func (r *Router) RegisterRule(rule *models.RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = append(r.rules, rule)
}

// RegisterPipeline makes a named pipeline available to routing rules.
func (r *Router) RegisterPipeline(name string, pipeline Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pipelines[name] = pipeline
}

// Normalize validates raw against the channel's schema and maps it into the
// canonical event shape. Returns a *SchemaError when required fields are
// missing or malformed.
func (r *Router) Normalize(channel string, raw map[string]any) (*models.NormalizedEvent, error) {
	r.mu.RLock()
	schema, ok := r.schemas[channel]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	if err := schema.validate(raw); err != nil {
		return nil, err
	}

	event := &models.NormalizedEvent{
		ID:         "evt-" + uuid.New().String(),
		Channel:    channel,
		Type:       schema.EventType,
		Category:   schema.DefaultCategory,
		Priority:   schema.DefaultPriority,
		Timestamp:  time.Now().UTC(),
		Data:       raw,
		Metadata:   map[string]any{"source_channel": channel},
		ReceivedAt: time.Now().UTC(),
	}

	if eventType, ok := raw["event_type"].(string); ok && eventType != "" {
		event.Type = eventType
	}

	if category, ok := raw["category"].(string); ok && category != "" {
		event.Category = models.EventCategory(category)
	}

	if priority, ok := rawPriority(raw["priority"]); ok {
		event.Priority = priority
	}

	if timestamp, ok := raw["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, timestamp); err == nil {
			event.Timestamp = parsed
		}
	}

	if location := rawLocation(raw["location"]); location != nil {
		event.Location = location
	}

	return event, nil
}

// Route normalizes the raw event and delivers it to the target pipelines of
// every matching enabled rule. Pipeline failures are isolated: they are
// logged and counted, and delivery continues.
func (r *Router) Route(ctx context.Context, channel string, raw map[string]any) (*models.NormalizedEvent, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "router.route "+channel,
		attribute.String(otelhelper.ChannelKey, channel),
	)
	defer span.End()

	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	event, err := r.Normalize(channel, raw)
	if err != nil {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()

		metrics.EventsDropped.Inc()
		otelhelper.SetError(span, err)
		r.logger.WarnContext(ctx, "Dropping event that failed normalization",
			"channel", channel, "error", err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.EventIDKey, event.ID))

	r.mu.RLock()
	rules := make([]*models.RoutingRule, len(r.rules))
	copy(rules, r.rules)
	r.mu.RUnlock()

	delivered := 0

	for _, rule := range rules {
		if !rule.AppliesTo(channel, event) {
			continue
		}

		r.mu.Lock()
		r.ruleMatches[rule.Name]++
		r.mu.Unlock()

		metrics.RuleMatches.WithLabelValues(rule.Name).Inc()

		for _, name := range rule.Pipelines {
			r.mu.RLock()
			pipeline, ok := r.pipelines[name]
			r.mu.RUnlock()

			if !ok {
				r.logger.ErrorContext(ctx, "Routing rule targets unregistered pipeline",
					"rule", rule.Name, "pipeline", name)

				continue
			}

			if err := r.deliver(ctx, pipeline, event); err != nil {
				r.logger.ErrorContext(ctx, "Pipeline delivery failed",
					"rule", rule.Name, "pipeline", name, "event_id", event.ID, "error", err)

				continue
			}

			delivered++
		}
	}

	r.mu.Lock()
	r.routed++
	r.mu.Unlock()

	metrics.EventsRouted.Inc()
	span.SetAttributes(attribute.Int("sentinel.pipeline.deliveries", delivered))
	r.logger.InfoContext(ctx, "Routed event",
		"event_id", event.ID, "channel", channel, "type", event.Type,
		"priority", event.Priority, "deliveries", delivered)

	return event, nil
}

// deliver invokes one pipeline, converting panics into errors so a broken
// consumer cannot take down ingestion.
func (r *Router) deliver(ctx context.Context, pipeline Pipeline, event *models.NormalizedEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panicked: %v", rec)
		}
	}()

	return pipeline(ctx, event)
}

// Statistics returns a snapshot of the router counters.
func (r *Router) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make(map[string]int64, len(r.ruleMatches))
	for name, count := range r.ruleMatches {
		matches[name] = count
	}

	return Statistics{
		EventsReceived: r.received,
		EventsRouted:   r.routed,
		EventsDropped:  r.dropped,
		RuleMatches:    matches,
	}
}

func rawPriority(v any) (int, bool) {
	switch value := v.(type) {
	case float64:
		if value >= 1 && value <= 5 {
			return int(value), true
		}
	case int:
		if value >= 1 && value <= 5 {
			return value, true
		}
	}

	return 0, false
}

func rawLocation(v any) *models.Location {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	location := &models.Location{}

	if lat, ok := raw["latitude"].(float64); ok {
		location.Latitude = lat
	} else if lat, ok := raw["lat"].(float64); ok {
		location.Latitude = lat
	}

	if lng, ok := raw["longitude"].(float64); ok {
		location.Longitude = lng
	} else if lng, ok := raw["lng"].(float64); ok {
		location.Longitude = lng
	}

	if label, ok := raw["label"].(string); ok {
		location.Label = label
	}

	return location
}
