package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/connections"
	"github.com/dukex/flowpilot/pkg/extraction"
	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/runs"
	"github.com/dukex/flowpilot/pkg/trigger"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence, *mocks.MockEventBus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())
	matcher := trigger.NewMatcher(
		persistence.WorkflowRepository(),
		runs.NewService(persistence.RunRepository(), logger),
		connections.NewResolver(persistence.ConnectionRepository(), connections.NewMemoryCache(time.Minute), time.Minute, logger),
		extraction.NoopExtractor{},
		otelhelper.NoopTracer(),
		logger,
	)
	bus := &mocks.MockEventBus{}

	return NewAPI(logger, persistence, matcher, bus).App(), persistence, bus
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "flowpilot API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app, _, _ := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.NoError(t, resp.Body.Close())
	}
}

func TestAPI_ManualRunThenInspect(t *testing.T) {
	app, persistence, bus := setupTestApp(t)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, persistence.WorkflowRepository().Save(t.Context(), &models.Workflow{
		ID:        "wf-1",
		CompanyID: "company-1",
		Name:      "Manual",
		Active:    true,
		Definition: models.WorkflowDefinition{
			Nodes: []models.WorkflowNode{
				{ID: "check", Type: models.NodeTypeIf, Config: map[string]any{"left": "{{trigger.payload.amount}}", "op": "gt", "right": 100}},
				{ID: "big", Type: models.NodeTypeLog, Config: map[string]any{"message": "big"}},
			},
			Edges:   []models.WorkflowEdge{{From: "check", To: "big", Condition: &models.EdgeCondition{Branch: models.BranchYes}}},
			Trigger: models.TriggerSpec{Type: models.TriggerTypeManual},
		},
	}))

	payload, err := json.Marshal(web.ManualRunRequest{Payload: map[string]any{"amount": 250}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/companies/company-1/workflows/wf-1/runs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created web.TriggerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.RunIDs, 1)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/runs/"+created.RunIDs[0], nil))
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run web.RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, []string{"check", "big"}, []string{run.Steps[0].NodeID, run.Steps[1].NodeID})

	bus.AssertNumberOfCalls(t, "Publish", 1)
}
