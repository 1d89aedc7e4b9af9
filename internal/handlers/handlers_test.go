package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/compliance"
	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/escalation"
	"github.com/aegisshield/compliance-tracker/internal/ledger"
	"github.com/aegisshield/compliance-tracker/internal/metrics"
	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/policy"
	"github.com/aegisshield/compliance-tracker/internal/scheduler"
	"github.com/aegisshield/compliance-tracker/internal/sla"
	"github.com/aegisshield/compliance-tracker/internal/tracker"
)

var day0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	clock     *clock.Fake
	router    *gin.Engine
	scheduler *scheduler.Scheduler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	clk := clock.NewFake(day0)

	led := ledger.New(ledger.NewMemoryStore(), clk, logger)
	pol := policy.NewService(policy.NewMemoryStore(), clk, logger)
	events := escalation.NewMemoryStore()
	slaClock := sla.NewClock(nil)
	dispatcher := escalation.NewDispatcher(events, nil, nil, clk, nil, logger)
	query := compliance.NewQuery(led, pol, events, slaClock, clk, time.Minute, logger)

	trk := tracker.New(tracker.Deps{
		Ledger:     led,
		Policy:     pol,
		SLAClock:   slaClock,
		Evaluator:  escalation.NewEvaluator(events, nil, logger),
		Dispatcher: dispatcher,
		Observer:   query,
		Clock:      clk,
	}, logger)
	sched, err := scheduler.New(trk, "@every 1h", logger)
	require.NoError(t, err)

	h := NewHandler(Deps{
		Tracker:     trk,
		Query:       query,
		Escalations: dispatcher,
		Policy:      pol,
		Sweeps:      sched,
	}, logger)

	reg := prometheus.NewRegistry()
	auth := middleware.NewAuthenticator(config.SecurityConfig{}, logger)
	router := NewRouter(h, auth, metrics.NewCollector(reg), reg, false, logger)
	return &apiFixture{clock: clk, router: router, scheduler: sched}
}

type response struct {
	code int
	body map[string]interface{}
	raw  []byte
}

func (f *apiFixture) call(t *testing.T, method, path, role string, body interface{}) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", role+"-1")
	req.Header.Set("X-Actor-Role", role)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	res := response{code: w.Code, raw: w.Body.Bytes()}
	_ = json.Unmarshal(w.Body.Bytes(), &res.body)
	return res
}

func (f *apiFixture) seed(t *testing.T) {
	t.Helper()
	res := f.call(t, http.MethodPut, "/api/v1/config/sla/pending-consent", "admin", map[string]interface{}{
		"target_days":                3,
		"warning_threshold_percent":  70,
		"critical_threshold_percent": 90,
		"enabled":                    true,
	})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))

	res = f.call(t, http.MethodPost, "/api/v1/config/rules", "admin", map[string]interface{}{
		"id":             "stalled",
		"name":           "Stalled check",
		"trigger_status": "in-progress",
		"days_threshold": 7,
		"escalate_to":    []string{"hr-lead@example.com"},
		"priority":       "high",
		"enabled":        true,
	})
	require.Equal(t, http.StatusCreated, res.code, string(res.raw))
}

func escalationID(t *testing.T, res response) string {
	t.Helper()
	list, ok := res.body["escalations"].([]interface{})
	require.True(t, ok, string(res.raw))
	require.NotEmpty(t, list)
	return list[0].(map[string]interface{})["id"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPI(t)

	res := f.call(t, http.MethodGet, "/health", "user", nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, true, res.body["success"])

	f.call(t, http.MethodGet, "/api/v1/compliance/dashboard", "user", nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "compliance_tracker_http_requests_total")
}

func TestTransitionAndEntitySLA(t *testing.T) {
	f := newAPI(t)
	f.seed(t)

	res := f.call(t, http.MethodPost, "/api/v1/entities/bc-1/transitions", "user", map[string]interface{}{
		"new_status": "pending-consent",
		"reason":     "consent form sent",
	})
	require.Equal(t, http.StatusCreated, res.code, string(res.raw))
	assert.Equal(t, true, res.body["success"])

	res = f.call(t, http.MethodPost, "/api/v1/entities/bc-1/transitions", "user", map[string]interface{}{
		"new_status": "pending-consent",
	})
	assert.Equal(t, http.StatusConflict, res.code)
	assert.Equal(t, false, res.body["success"])

	res = f.call(t, http.MethodPost, "/api/v1/entities/bc-1/transitions", "user", map[string]interface{}{
		"new_status": "archived",
	})
	assert.Equal(t, http.StatusBadRequest, res.code)

	f.clock.Advance(60 * time.Hour)
	res = f.call(t, http.MethodGet, "/api/v1/entities/bc-1/sla", "user", nil)
	require.Equal(t, http.StatusOK, res.code)
	report := res.body["report"].(map[string]interface{})
	assert.Equal(t, "warning", report["sla"].(map[string]interface{})["classification"])
	assert.Len(t, report["history"], 1)

	res = f.call(t, http.MethodGet, "/api/v1/entities/unknown/sla", "user", nil)
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestEscalationLifecycle(t *testing.T) {
	f := newAPI(t)
	f.seed(t)

	f.call(t, http.MethodPost, "/api/v1/entities/bc-1/transitions", "user", map[string]interface{}{"new_status": "in-progress"})
	f.clock.Advance(7 * 24 * time.Hour)

	res := f.call(t, http.MethodPost, "/api/v1/sweep", "user", nil)
	assert.Equal(t, http.StatusForbidden, res.code)

	res = f.call(t, http.MethodPost, "/api/v1/sweep", "admin", nil)
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.EqualValues(t, 1, res.body["report"].(map[string]interface{})["escalations_created"])

	res = f.call(t, http.MethodGet, "/api/v1/escalations?status=open", "user", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.EqualValues(t, 1, res.body["count"])
	id := escalationID(t, res)

	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/acknowledge", "user", nil)
	assert.Equal(t, http.StatusOK, res.code)
	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/acknowledge", "user", nil)
	assert.Equal(t, http.StatusConflict, res.code)

	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/reopen", "admin", nil)
	assert.Equal(t, http.StatusConflict, res.code)

	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/resolve", "user", map[string]string{"notes": "vendor chased"})
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "vendor chased", res.body["escalation"].(map[string]interface{})["notes"])

	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/resolve", "user", nil)
	assert.Equal(t, http.StatusConflict, res.code)

	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/reopen", "user", nil)
	assert.Equal(t, http.StatusForbidden, res.code)
	res = f.call(t, http.MethodPost, "/api/v1/escalations/"+id+"/reopen", "admin", nil)
	assert.Equal(t, http.StatusOK, res.code)

	res = f.call(t, http.MethodGet, "/api/v1/escalations/missing", "user", nil)
	assert.Equal(t, http.StatusNotFound, res.code)

	res = f.call(t, http.MethodGet, "/api/v1/escalations?status=closed", "user", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.call(t, http.MethodGet, "/api/v1/sweep/last", "user", nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.NotNil(t, res.body["report"])
}

func TestSweepUnavailableWhileStopping(t *testing.T) {
	f := newAPI(t)
	require.NoError(t, f.scheduler.Stop(context.Background()))

	res := f.call(t, http.MethodPost, "/api/v1/sweep", "admin", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.code)
	assert.Equal(t, false, res.body["success"])
}

func TestConfigValidation(t *testing.T) {
	f := newAPI(t)

	res := f.call(t, http.MethodPut, "/api/v1/config/sla/pending-consent", "user", map[string]interface{}{"target_days": 3})
	assert.Equal(t, http.StatusForbidden, res.code)

	res = f.call(t, http.MethodPut, "/api/v1/config/sla/pending-consent", "admin", map[string]interface{}{
		"target_days":                3,
		"warning_threshold_percent":  90,
		"critical_threshold_percent": 70,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)

	res = f.call(t, http.MethodPut, "/api/v1/config/sla/on-hold", "admin", map[string]interface{}{"target_days": 3})
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)

	res = f.call(t, http.MethodGet, "/api/v1/config/sla/in-progress", "user", nil)
	assert.Equal(t, http.StatusNotFound, res.code)

	res = f.call(t, http.MethodPost, "/api/v1/config/rules", "admin", map[string]interface{}{
		"name":           "No recipients",
		"trigger_status": "in-progress",
		"days_threshold": 7,
		"priority":       "high",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)

	f.seed(t)
	res = f.call(t, http.MethodGet, "/api/v1/config/rules/stalled", "user", nil)
	assert.Equal(t, http.StatusOK, res.code)

	res = f.call(t, http.MethodPut, "/api/v1/config/rules/stalled", "admin", map[string]interface{}{
		"name":           "Stalled check",
		"trigger_status": "in-progress",
		"days_threshold": 10,
		"escalate_to":    []string{"hr-lead@example.com"},
		"priority":       "urgent",
		"enabled":        true,
	})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.EqualValues(t, 10, res.body["rule"].(map[string]interface{})["days_threshold"])

	res = f.call(t, http.MethodDelete, "/api/v1/config/rules/stalled", "admin", nil)
	assert.Equal(t, http.StatusOK, res.code)
	res = f.call(t, http.MethodDelete, "/api/v1/config/rules/stalled", "admin", nil)
	assert.Equal(t, http.StatusNotFound, res.code)

	res = f.call(t, http.MethodGet, "/api/v1/config/sla", "user", nil)
	assert.EqualValues(t, 1, res.body["count"])
}

func TestDashboardAndExport(t *testing.T) {
	f := newAPI(t)
	f.seed(t)
	f.call(t, http.MethodPost, "/api/v1/entities/bc-1/transitions", "user", map[string]interface{}{"new_status": "pending-consent"})

	res := f.call(t, http.MethodGet, "/api/v1/compliance/dashboard", "user", nil)
	require.Equal(t, http.StatusOK, res.code)
	dashboard := res.body["dashboard"].(map[string]interface{})
	assert.EqualValues(t, 1, dashboard["on_track"])
	assert.Equal(t, false, dashboard["stale"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compliance/export.xlsx", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req.WithContext(context.Background()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "compliance-")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}
