package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcheck/internal/config"
	"flightcheck/internal/service"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	mgr := config.Static(config.DefaultConfig())
	svc, err := service.Build(context.Background(), mgr, reg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(NewServer(mgr, svc, reg, nil, "test").Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Close()
	})
	return ts
}

func lossyBody(n int) string {
	events := make([]string, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, fmt.Sprintf(`{"type":"jdk.DataLoss","start":"2024-06-01T08:00:%02dZ","amount":1024}`, i))
	}
	return `{"name":"api.jfr","events":[` + strings.Join(events, ",") + `]}`
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func evaluate(t *testing.T, ts *httptest.Server, query string) map[string]any {
	t.Helper()
	resp, err := http.Post(ts.URL+"/evaluate"+query, "application/json", strings.NewReader(lossyBody(20)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode(t, resp)
}

func TestStatusAndRules(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	status := decode(t, resp)
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "test", status["version"])
	assert.Equal(t, 7.0, status["engine"].(map[string]any)["rules"])

	resp, err = http.Get(ts.URL + "/rules?topic=recording")
	require.NoError(t, err)
	rules := decode(t, resp)
	require.Equal(t, 1.0, rules["count"])
	first := rules["rules"].([]any)[0].(map[string]any)
	assert.Equal(t, "BufferLost", first["id"])
	pref := first["preferences"].([]any)[0].(map[string]any)
	assert.Equal(t, "bufferlost.warning.limit", pref["key"])
	assert.Equal(t, 1.0, pref["value"])
}

func TestEvaluateAndFetchReport(t *testing.T) {
	ts := testServer(t)

	doc := evaluate(t, ts, "?min=warning")
	runID := doc["run"].(map[string]any)["id"].(string)
	require.NotEmpty(t, runID)
	results := doc["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "BufferLost", results[0].(map[string]any)["rule_id"])
	assert.Equal(t, "warning", results[0].(map[string]any)["severity"])

	resp, err := http.Get(ts.URL + "/reports")
	require.NoError(t, err)
	list := decode(t, resp)
	assert.Equal(t, 1.0, list["count"])

	resp, err = http.Get(ts.URL + "/reports/" + runID + "?format=text")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp, err = http.Get(ts.URL + "/outcomes/api.jfr")
	require.NoError(t, err)
	outcomes := decode(t, resp)
	assert.Equal(t, "api.jfr", outcomes["recording"])
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Post(ts.URL+"/evaluate", "application/json", strings.NewReader(`{"events":[{"start":"2024-01-01T00:00:00Z"}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/evaluate?min=na", "application/json", strings.NewReader(lossyBody(1)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/evaluate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMissingReportAndStorage(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/reports/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/stored")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearAndMetrics(t *testing.T) {
	ts := testServer(t)
	evaluate(t, ts, "")

	resp, err := http.Post(ts.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/reports")
	require.NoError(t, err)
	assert.Equal(t, 1.0, decode(t, resp)["count"])

	resp, err = http.Post(ts.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":"reports"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/reports")
	require.NoError(t, err)
	assert.Equal(t, 0.0, decode(t, resp)["count"])

	resp, err = http.Post(ts.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":"everything"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "flightcheck_rule_evaluations_total")
}
