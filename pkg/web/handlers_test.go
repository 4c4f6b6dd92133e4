package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence/memory"
	"github.com/ogabrielsv/creatye/pkg/services"
	"github.com/ogabrielsv/creatye/pkg/testutil"
	"github.com/ogabrielsv/creatye/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	handlers := web.NewAPIHandlers(
		services.NewAutomation(store),
		services.NewPublishing(store),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()

	a := app.Group("/automations")
	a.Get("/", handlers.GetAutomations)
	a.Post("/", handlers.CreateAutomation)
	a.Get("/:id", handlers.GetAutomation)
	a.Put("/:id/graph", handlers.UpdateGraph)
	a.Put("/:id/triggers", handlers.UpdateTriggers)
	a.Post("/:id/publish", handlers.PublishAutomation)
	a.Post("/:id/pause", handlers.PauseAutomation)
	a.Post("/:id/resume", handlers.ResumeAutomation)
	a.Delete("/:id", handlers.DeleteAutomation)
	a.Get("/:id/versions", handlers.GetVersions)
	a.Get("/:id/executions", handlers.GetExecutions)

	app.Get("/executions/:id", handlers.GetExecution)
	app.Get("/health", handlers.HealthCheck)

	return app, store
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func createRequest() web.CreateAutomationRequest {
	graph := testutil.Chain(models.MessageData{Text: "aprovado"})

	return web.CreateAutomationRequest{
		OwnerID:  "owner-1",
		Name:     "Boas-vindas",
		Triggers: []models.Trigger{{Type: models.TriggerTypeKeyword, Keyword: "oi", MatchMode: models.MatchModeContains}},
		Channels: []models.Channel{models.ChannelDM},
		Nodes:    graph.Nodes,
		Edges:    graph.Edges,
	}
}

func createAutomation(t *testing.T, app *fiber.App, req web.CreateAutomationRequest) *models.Automation {
	t.Helper()

	status, body := doRequest(t, app, http.MethodPost, "/automations", req)
	require.Equal(t, http.StatusCreated, status, string(body))

	var automation models.Automation
	require.NoError(t, json.Unmarshal(body, &automation))

	return &automation
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func TestAPIHandlers_CreateAutomation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "successful creation",
			requestBody:    createRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing owner",
			requestBody: func() web.CreateAutomationRequest {
				r := createRequest()
				r.OwnerID = ""

				return r
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "validation error - missing name",
			requestBody: func() web.CreateAutomationRequest {
				r := createRequest()
				r.Name = ""

				return r
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "service validation - unknown channel",
			requestBody: func() web.CreateAutomationRequest {
				r := createRequest()
				r.Channels = []models.Channel{"sms"}

				return r
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedType:   "INVALID_CHANNEL",
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, "/automations", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedStatus == http.StatusCreated {
				var automation models.Automation
				require.NoError(t, json.Unmarshal(body, &automation))
				assert.NotEmpty(t, automation.ID)
				assert.Equal(t, models.AutomationStatusDraft, automation.Status)
				assert.Len(t, automation.Nodes, 2)

				return
			}

			assert.Equal(t, tt.expectedType, problemType(t, body))
		})
	}
}

func TestAPIHandlers_AutomationLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	automation := createAutomation(t, app, createRequest())
	base := "/automations/" + automation.ID

	status, body := doRequest(t, app, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status, "drafts cannot be paused")
	assert.Equal(t, "conflict", problemType(t, body))

	status, body = doRequest(t, app, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var published web.PublishResponse
	require.NoError(t, json.Unmarshal(body, &published))
	assert.Equal(t, 1, published.Version.Version)
	assert.Equal(t, models.AutomationStatusPublished, published.Automation.Status)
	assert.Equal(t, published.Version.ID, published.Automation.PublishedVersionID)

	graph := testutil.Chain(models.MessageData{Text: "oi"}, models.WaitData{Duration: 5}, models.MessageData{Text: "tchau"})
	status, body = doRequest(t, app, http.MethodPut, base+"/graph", web.UpdateGraphRequest{Nodes: graph.Nodes, Edges: graph.Edges})
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = doRequest(t, app, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = doRequest(t, app, http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, status)

	var versions struct {
		Versions   []*models.Version `json:"versions"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &versions))
	assert.Equal(t, 2, versions.TotalCount)
	assert.Equal(t, 2, versions.Versions[0].Version)
	assert.True(t, versions.Versions[0].IsPublished)
	assert.False(t, versions.Versions[1].IsPublished)

	status, body = doRequest(t, app, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"paused"`)

	status, body = doRequest(t, app, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"published"`)

	status, body = doRequest(t, app, http.MethodPut, base+"/triggers", web.UpdateTriggersRequest{
		Triggers: []models.Trigger{{Type: models.TriggerTypeKeyword, Keyword: "preço", MatchMode: models.MatchModeExact}},
		Channels: []models.Channel{models.ChannelComment, models.ChannelDM},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), "preço")

	status, body = doRequest(t, app, http.MethodGet, base+"/executions?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"total_count":0`)

	status, _ = doRequest(t, app, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = doRequest(t, app, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "automation_not_found", problemType(t, body))
}

func TestAPIHandlers_PublishRejectsGraphWithoutStart(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := createRequest()
	req.Nodes = []*models.Node{testutil.Node("m", models.MessageData{Text: "sem início"})}
	req.Edges = nil

	automation := createAutomation(t, app, req)

	status, body := doRequest(t, app, http.MethodPost, "/automations/"+automation.ID+"/publish", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_GRAPH", problemType(t, body))
	assert.Contains(t, string(body), "start node")
}

func TestAPIHandlers_GetAutomations(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	createAutomation(t, app, createRequest())
	createAutomation(t, app, createRequest())

	status, body := doRequest(t, app, http.MethodGet, "/automations?owner_id=owner-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"total_count":2`)

	status, _ = doRequest(t, app, http.MethodGet, "/automations", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_Executions(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)
	ctx := context.Background()

	automation := createAutomation(t, app, createRequest())

	status, _ := doRequest(t, app, http.MethodPost, "/automations/"+automation.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, status)

	published, err := store.AutomationByID(ctx, automation.ID)
	require.NoError(t, err)

	execution := &models.Execution{
		ID:            "execution-1",
		AutomationID:  automation.ID,
		VersionID:     published.PublishedVersionID,
		OwnerID:       "owner-1",
		RecipientID:   "recipient-1",
		CurrentNodeID: "start",
		Status:        models.ExecutionStatusRunning,
		CreatedAt:     published.UpdatedAt,
		UpdatedAt:     published.UpdatedAt,
	}
	require.NoError(t, store.CreateExecution(ctx, execution, nil))

	status, body := doRequest(t, app, http.MethodGet, "/executions/execution-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"recipient_id":"recipient-1"`)

	status, body = doRequest(t, app, http.MethodGet, "/automations/"+automation.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"total_count":1`)

	status, _ = doRequest(t, app, http.MethodGet, "/automations/"+automation.ID+"/executions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", problemType(t, body))
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}
