package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacehq/pace/pkg/accessrequest"
	"github.com/pacehq/pace/pkg/capability"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/rfp"
	"github.com/pacehq/pace/pkg/workflow"
)

const (
	testSecret = "test-secret"
	testTenant = "acme"
)

type testEnv struct {
	server *Server
	caps   *capability.Store
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	capStore := capability.NewStore(db)
	require.NoError(t, capStore.EnsureTable(ctx))
	rfpStore := rfp.NewStore(db)
	require.NoError(t, rfpStore.EnsureTable(ctx))
	wfStore := workflow.NewStore(db, workflow.WithoutRowLocks())
	require.NoError(t, wfStore.EnsureTables(ctx))
	arStore := accessrequest.NewStore(db)
	require.NoError(t, arStore.EnsureTable(ctx))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	cache := capability.NewMemoryCache(64, time.Minute, metrics)

	engine := capability.NewEngine(capStore, cache, map[string][]int64{testTenant: {1}}, metrics, nil)
	wfEngine := workflow.NewEngine(wfStore, rfpStore, logger, metrics, nil)
	arService := accessrequest.NewService(arStore, capStore, engine, time.Minute, logger, metrics, nil)
	extractor := identity.NewExtractor(testSecret, testTenant)

	server := NewServer(Dependencies{
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
		Extractor:      extractor,
		Engine:         engine,
		Capabilities:   capability.NewHandler(engine, logger),
		Workflows:      workflow.NewHandler(wfEngine, logger),
		AccessRequests: accessrequest.NewHandler(arService, extractor, logger),
		MetricsEnabled: true,
	})
	return &testEnv{server: server, caps: capStore}
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   float64(userID),
		"tenant_id": testTenant,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		r.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/metrics", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/workflows", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCapabilityGuard(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	// User 42 has no record: the view_rfp guard denies
	w := env.do(t, http.MethodGet, "/workflows", 42, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, env.caps.Ensure(ctx, env.caps.DB(), testTenant, 42, ""))
	require.NoError(t, env.caps.SetFlag(ctx, env.caps.DB(), testTenant, 42, "view_rfp", true))

	w = env.do(t, http.MethodGet, "/workflows", 42, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Ungated detail routes only need authentication
	w = env.do(t, http.MethodGet, "/stages", 42, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWorkflowLifecycleThroughAPI(t *testing.T) {
	env := newTestServer(t)

	// Seeded admin passes every guard
	input := map[string]interface{}{
		"workflow_name": "Procurement review",
		"workflow_type": "MULTI_LEVEL",
		"stages_config": []map[string]interface{}{
			{"stage_order": 1, "stage_name": "Manager", "assigned_user_id": 20},
			{"stage_order": 2, "stage_name": "Finance", "assigned_user_id": 30},
		},
	}
	w := env.do(t, http.MethodPost, "/workflows", 1, input)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Workflow struct {
			WorkflowID string `json:"workflow_id"`
		} `json:"workflow"`
		Stages []struct {
			StageID string `json:"stage_id"`
		} `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Stages, 2)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/stages/%s/start", created.Stages[0].StageID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, fmt.Sprintf("/stages/%s/status", created.Stages[0].StageID), 1,
		map[string]interface{}{"status": "APPROVE", "comments": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// One-stage workflows are rejected with a domain error
	input["stages_config"] = []map[string]interface{}{
		{"stage_order": 1, "stage_name": "Solo", "assigned_user_id": 20},
	}
	w = env.do(t, http.MethodPost, "/workflows", 1, input)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "workflow_needs_two_stages")
}

func TestAccessRequestFallbackRoute(t *testing.T) {
	env := newTestServer(t)

	// No token at all: the body user_id fallback carries the caller
	w := env.do(t, http.MethodPost, "/access-requests", 0, map[string]interface{}{
		"user_id":       int64(42),
		"requested_url": "/vendors",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Listing still requires a real identity
	w = env.do(t, http.MethodGet, "/access-requests/42", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/access-requests/42", 42, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccessRequestDecisionThroughAPI(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/access-requests", 42, map[string]interface{}{
		"requested_url": "/vendors",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Request struct {
			ID string `json:"id"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// Non-admin decision is forbidden
	w = env.do(t, http.MethodPut, "/access-requests/"+created.Request.ID+"/status", 42,
		map[string]interface{}{"status": "APPROVED"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Seeded admin approves; the grant makes the next check pass
	w = env.do(t, http.MethodPut, "/access-requests/"+created.Request.ID+"/status", 1,
		map[string]interface{}{"status": "APPROVED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/permissions/vendor?permission_type=view_vendors", 42, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)
}

func TestPermissionSummaryThroughAPI(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/permissions", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":1`)
}
