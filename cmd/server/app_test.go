package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/api"
	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/platform/database"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Database: config.DatabaseConfig{
			Driver:       database.DriverSQLite,
			URL:          filepath.Join(t.TempDir(), "reports.db"),
			MaxOpenConns: 4,
		},
		Worker: config.WorkerConfig{
			ID:                 "test",
			Count:              1,
			PollInterval:       time.Hour,
			StuckJobAge:        time.Hour,
			StuckCheckInterval: time.Hour,
		},
		Batch:  config.BatchConfig{Size: 5, Concurrency: 2, Timeout: time.Minute, SummaryTimeout: time.Minute},
		LLM:    config.LLMConfig{OpenAIAPIKey: "sk-test", DefaultModel: "gpt-4o", MaxRetries: 1, RetryDelaySeconds: 1},
		Notify: config.NotifyConfig{Queue: "report_jobs"},
	}
}

func newTestApplication(t *testing.T) *application {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig(t)

	backend, err := database.Open(ctx, cfg.Database, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, backend.Migrate(ctx, logger.Discard()))

	app, err := newApplication(ctx, cfg, logger.Discard(), backend)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func TestRouter_EnqueueAndRead(t *testing.T) {
	app := newTestApplication(t)
	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	reportID := uuid.New()
	body, err := json.Marshal(domain.ReportInput{
		ReportID:    reportID,
		ProjectID:   "p1",
		Model:       "gpt-4o",
		ReportStyle: domain.ReportStyleBrief,
		Images:      []domain.Image{{ID: "a", URL: "https://x/a.jpg", Tag: domain.ImageTagOverview, Number: 1}},
	})
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var accepted api.JobAcceptedResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/"+accepted.JobID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var job api.JobResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&job))
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/reports/"+reportID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var rep api.ReportResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rep))
	assert.Equal(t, "p1", rep.ProjectID)
	assert.False(t, rep.InProgress)
}

func TestNewRegistry_RequiresAKey(t *testing.T) {
	_, err := newRegistry(context.Background(), config.LLMConfig{}, logger.Discard())
	assert.Error(t, err)
}
