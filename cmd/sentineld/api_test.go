package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	runtime, err := NewRuntime(context.Background(), slog.Default(), Options{
		DatabaseURL:   t.TempDir(),
		EventBus:      "gochannel",
		Workers:       2,
		QueueCapacity: 16,
		ActionTimeout: time.Second,
	})
	require.NoError(t, err)

	return runtime.App()
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return body
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sentinel API", string(readBody(t, resp)))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CreateAndGetWorkflow(t *testing.T) {
	app := setupTestApp(t)

	payload := map[string]any{
		"id":   "wf-api-1",
		"name": "gunfire-response",
		"triggers": []map[string]any{
			{"type": "event", "event_types": []string{"gunshot_detected"}},
		},
		"steps": []map[string]any{
			{"name": "alert", "action_type": "notify_officers", "target": "communications"},
		},
		"priority": 1,
		"enabled":  true,
	}

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_ = resp.Body.Close()

	req = httptest.NewRequest(http.MethodGet, "/workflows/wf-api-1", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var loaded map[string]any

	require.NoError(t, json.Unmarshal(readBody(t, resp), &loaded))
	assert.Equal(t, "gunfire-response", loaded["name"])
}

func TestAPI_CreateWorkflowRejectsInvalid(t *testing.T) {
	app := setupTestApp(t)

	// No triggers and no steps.
	body := []byte(`{"id": "wf-bad", "name": "empty", "priority": 1}`)

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetWorkflowNotFound(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows/wf-missing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_IngestUnknownChannel(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/events/carrier_pigeon", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_IngestSchemaViolation(t *testing.T) {
	app := setupTestApp(t)

	// gunshot_detection requires location and confidence.
	req := httptest.NewRequest(http.MethodPost, "/events/gunshot_detection", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_IngestValidEvent(t *testing.T) {
	app := setupTestApp(t)

	payload := map[string]any{
		"location":   map[string]any{"lat": 41.88, "lng": -87.63},
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"confidence": 0.92,
	}

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events/gunshot_detection", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var event map[string]any

	require.NoError(t, json.Unmarshal(readBody(t, resp), &event))
	assert.Equal(t, "gunshot_detected", event["type"])
}

func TestAPI_CreateResourceAndRelease(t *testing.T) {
	app := setupTestApp(t)

	body := []byte(`{"id": "drone-api-1", "type": "drone", "name": "Overwatch 1"}`)

	req := httptest.NewRequest(http.MethodPost, "/resources", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_ = resp.Body.Close()

	req = httptest.NewRequest(http.MethodPost, "/resources/drone-api-1/release", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var released map[string]any

	require.NoError(t, json.Unmarshal(readBody(t, resp), &released))
	assert.Equal(t, "drone-api-1", released["resource_id"])
}

func TestAPI_Stats(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any

	require.NoError(t, json.Unmarshal(readBody(t, resp), &stats))
	assert.Contains(t, stats, "router")
	assert.Contains(t, stats, "kernel")
	assert.Contains(t, stats, "policies")
}

func TestAPI_KernelLifecycle(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/kernel/start", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_ = resp.Body.Close()

	// Starting twice conflicts.
	req = httptest.NewRequest(http.MethodPost, "/kernel/start", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_ = resp.Body.Close()

	req = httptest.NewRequest(http.MethodPost, "/kernel/stop", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any

	require.NoError(t, json.Unmarshal(readBody(t, resp), &health))
	assert.Equal(t, "healthy", health["status"])
}
