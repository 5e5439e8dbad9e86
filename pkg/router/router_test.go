package router

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/citygrid/sentinel/pkg/models"
	"github.com/citygrid/sentinel/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func validGunshotPayload() map[string]any {
	return map[string]any{
		"location":   map[string]any{"latitude": 41.88, "longitude": -87.63},
		"timestamp":  "2026-08-30T14:05:00Z",
		"confidence": 0.92,
	}
}

func TestNormalizeUnknownChannel(t *testing.T) {
	router := NewRouter(testLogger())

	_, err := router.Normalize("unregistered", map[string]any{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestNormalizeRejectsMissingRequiredFields(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	_, err := router.Normalize("gunshot_detection", map[string]any{
		"timestamp": "2026-08-30T14:05:00Z",
	})

	require.Error(t, err)

	var schemaErr *SchemaError

	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "gunshot_detection", schemaErr.Channel)
	assert.NotEmpty(t, schemaErr.Violations)
}

func TestNormalizeRejectsOutOfRangeConfidence(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	raw := validGunshotPayload()
	raw["confidence"] = 1.5

	_, err := router.Normalize("gunshot_detection", raw)

	var schemaErr *SchemaError

	require.ErrorAs(t, err, &schemaErr)
}

func TestNormalizeAppliesSchemaDefaults(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	event, err := router.Normalize("gunshot_detection", validGunshotPayload())
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "gunshot_detection", event.Channel)
	assert.Equal(t, "gunshot_detected", event.Type)
	assert.Equal(t, models.CategoryPublicSafety, event.Category)
	assert.Equal(t, models.PriorityCritical, event.Priority)
	assert.Equal(t, "gunshot_detection", event.Metadata["source_channel"])
	assert.Equal(t, 0.92, event.Data["confidence"])
}

func TestNormalizePayloadOverrides(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(CityCameraSchema())

	event, err := router.Normalize("city_camera", map[string]any{
		"camera_id":  "cam-104",
		"timestamp":  "2026-08-30T09:00:00Z",
		"event_type": "crowd_surge",
		"category":   "public_safety",
		"priority":   float64(2),
		"location":   map[string]any{"lat": 41.9, "lng": -87.6, "label": "river walk"},
	})
	require.NoError(t, err)

	assert.Equal(t, "crowd_surge", event.Type)
	assert.Equal(t, models.CategoryPublicSafety, event.Category)
	assert.Equal(t, 2, event.Priority)
	assert.Equal(t, time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC), event.Timestamp)

	require.NotNil(t, event.Location)
	assert.InDelta(t, 41.9, event.Location.Latitude, 0.0001)
	assert.InDelta(t, -87.6, event.Location.Longitude, 0.0001)
}

func TestNormalizeIgnoresInvalidPriorityOverride(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(CityCameraSchema())

	event, err := router.Normalize("city_camera", map[string]any{
		"camera_id": "cam-104",
		"timestamp": "2026-08-30T09:00:00Z",
		"priority":  float64(9),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, event.Priority)
}

func TestRouteDeliversToMatchingPipelines(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	var delivered []*models.NormalizedEvent

	router.RegisterPipeline("workflows", func(_ context.Context, event *models.NormalizedEvent) error {
		delivered = append(delivered, event)

		return nil
	})
	router.RegisterRule(&models.RoutingRule{
		Name:              "safety",
		Categories:        []models.EventCategory{models.CategoryPublicSafety},
		PriorityThreshold: 2,
		Pipelines:         []string{"workflows"},
		Enabled:           true,
	})

	event, err := router.Route(context.Background(), "gunshot_detection", validGunshotPayload())
	require.NoError(t, err)

	require.Len(t, delivered, 1)
	assert.Equal(t, event.ID, delivered[0].ID)
}

func TestRouteSkipsRulesAbovePriorityThreshold(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(CityCameraSchema())

	calls := 0

	router.RegisterPipeline("workflows", func(context.Context, *models.NormalizedEvent) error {
		calls++

		return nil
	})
	router.RegisterRule(&models.RoutingRule{
		Name:              "critical-only",
		Categories:        []models.EventCategory{models.CategoryInfrastructure},
		PriorityThreshold: 1,
		Pipelines:         []string{"workflows"},
		Enabled:           true,
	})

	// camera events default to priority 3, above the ceiling of 1
	_, err := router.Route(context.Background(), "city_camera", map[string]any{
		"camera_id": "cam-104",
		"timestamp": "2026-08-30T09:00:00Z",
	})
	require.NoError(t, err)

	assert.Zero(t, calls)
}

func TestRouteIsolatesPipelineFailures(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	healthyCalls := 0

	router.RegisterPipeline("broken", func(context.Context, *models.NormalizedEvent) error {
		return errors.New("consumer down")
	})
	router.RegisterPipeline("panicky", func(context.Context, *models.NormalizedEvent) error {
		panic("boom")
	})
	router.RegisterPipeline("healthy", func(context.Context, *models.NormalizedEvent) error {
		healthyCalls++

		return nil
	})
	router.RegisterRule(&models.RoutingRule{
		Name:              "fanout",
		Categories:        []models.EventCategory{models.CategoryPublicSafety},
		PriorityThreshold: 5,
		Pipelines:         []string{"broken", "panicky", "healthy"},
		Enabled:           true,
	})

	_, err := router.Route(context.Background(), "gunshot_detection", validGunshotPayload())

	require.NoError(t, err)
	assert.Equal(t, 1, healthyCalls)
}

func TestRouteCountsDrops(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	_, err := router.Route(context.Background(), "gunshot_detection", map[string]any{})
	require.Error(t, err)

	_, err = router.Route(context.Background(), "gunshot_detection", validGunshotPayload())
	require.NoError(t, err)

	stats := router.Statistics()

	assert.Equal(t, int64(2), stats.EventsReceived)
	assert.Equal(t, int64(1), stats.EventsRouted)
	assert.Equal(t, int64(1), stats.EventsDropped)
}

func TestRouteCountsRuleMatches(t *testing.T) {
	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())
	router.RegisterPipeline("workflows", func(context.Context, *models.NormalizedEvent) error {
		return nil
	})
	router.RegisterRule(&models.RoutingRule{
		Name:              "safety",
		Categories:        []models.EventCategory{models.CategoryPublicSafety},
		PriorityThreshold: 5,
		Pipelines:         []string{"workflows"},
		Enabled:           true,
	})

	_, err := router.Route(context.Background(), "gunshot_detection", validGunshotPayload())
	require.NoError(t, err)

	assert.Equal(t, int64(1), router.Statistics().RuleMatches["safety"])
}

func TestRouteRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	router := NewRouter(testLogger())
	router.RegisterSchema(GunshotDetectionSchema())

	_, err := router.Route(context.Background(), "gunshot_detection", validGunshotPayload())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "router.route gunshot_detection", spans[0].Name())

	channels := attributeValues(spans[0].Attributes(), otelhelper.ChannelKey)
	assert.Equal(t, []string{"gunshot_detection"}, channels)

	_, err = router.Route(context.Background(), "gunshot_detection", map[string]any{})
	require.Error(t, err)

	spans = recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func attributeValues(attrs []attribute.KeyValue, key string) []string {
	var values []string

	for _, attr := range attrs {
		if string(attr.Key) == key {
			values = append(values, attr.Value.AsString())
		}
	}

	return values
}
