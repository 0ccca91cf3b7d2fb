package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/runner"
)

func testConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             0,
		AllowedOrigins:   []string{"*"},
		HistorySize:      10,
		SnapshotInterval: 10 * time.Millisecond,
		PublishInterval:  10 * time.Millisecond,
		WSPingInterval:   time.Second,
		MonitorResources: false,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	t.Cleanup(backend.Close)

	s := NewServer(testConfig(), stats.NilStatsReceiver())
	front := httptest.NewServer(s.Handler())
	t.Cleanup(front.Close)
	return front, backend
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthEndpoint(t *testing.T) {
	front, _ := newTestServer(t)
	resp, err := http.Get(front.URL + "/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestLoadTestLifecycle(t *testing.T) {
	front, backend := newTestServer(t)

	resp := postJSON(t, front.URL+"/api/load-test", map[string]interface{}{
		"target_url":   backend.URL,
		"num_requests": 20,
		"concurrency":  4,
		"timeout_secs": 5,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	decode(t, resp, &accepted)
	id := accepted["test_id"]
	require.NotEmpty(t, id)
	require.Equal(t, "RUNNING", accepted["state"])

	// Poll until the run lands in history with a terminal report.
	var rep runner.Report
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("%s/api/tests/%s", front.URL, id))
		if err != nil || r.StatusCode != http.StatusOK {
			return false
		}
		var candidate runner.Report
		decode(t, r, &candidate)
		if candidate.State != runner.COMPLETED {
			return false
		}
		rep = candidate
		return true
	}, 10*time.Second, 20*time.Millisecond)

	require.EqualValues(t, 20, rep.Final.Count)
	require.EqualValues(t, 0, rep.Final.Errors)

	// The finished run shows up in the history listing.
	r, err := http.Get(front.URL + "/api/tests")
	require.NoError(t, err)
	var listing struct {
		Active  []json.RawMessage `json:"active"`
		History []runner.Report   `json:"history"`
	}
	decode(t, r, &listing)
	require.Len(t, listing.History, 1)
	require.Equal(t, id, listing.History[0].TestID)
}

func TestStressTestAndCancel(t *testing.T) {
	front, backend := newTestServer(t)

	resp := postJSON(t, front.URL+"/api/stress-test", map[string]interface{}{
		"target_url":    backend.URL,
		"duration_secs": 60,
		"concurrency":   2,
		"timeout_secs":  2,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	decode(t, resp, &accepted)
	id := accepted["test_id"]

	cancelResp, err := http.Post(fmt.Sprintf("%s/api/tests/%s/cancel", front.URL, id), "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
	cancelResp.Body.Close()

	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("%s/api/tests/%s", front.URL, id))
		if err != nil || r.StatusCode != http.StatusOK {
			return false
		}
		var rep runner.Report
		decode(t, r, &rep)
		return rep.State == runner.CANCELLED
	}, 15*time.Second, 20*time.Millisecond)
}

func TestRejectsInvalidSubmissions(t *testing.T) {
	front, backend := newTestServer(t)

	cases := []map[string]interface{}{
		{"target_url": "", "num_requests": 10, "concurrency": 1},
		{"target_url": backend.URL, "num_requests": 0, "concurrency": 1},
		{"target_url": backend.URL, "num_requests": 10, "concurrency": 0},
		{"target_url": backend.URL, "num_requests": 10, "concurrency": 1, "method": "TRACE"},
	}
	for i, payload := range cases {
		resp := postJSON(t, front.URL+"/api/load-test", payload)
		require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "case %d", i)
		var body map[string]string
		decode(t, resp, &body)
		require.NotEmptyf(t, body["error"], "case %d", i)
	}
}

func TestUnknownTestRoutes(t *testing.T) {
	front, _ := newTestServer(t)

	r, err := http.Get(front.URL + "/api/tests/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()

	r, err = http.Post(front.URL+"/api/tests/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()
}

func TestApiTestSubmission(t *testing.T) {
	front, backend := newTestServer(t)

	resp := postJSON(t, front.URL+"/api/api-test", map[string]interface{}{
		"suite": map[string]interface{}{
			"name": "inline",
			"cases": []map[string]interface{}{
				{"name": "root", "method": "GET", "url": backend.URL, "expected_status": 200},
			},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	decode(t, resp, &accepted)
	id := accepted["test_id"]

	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("%s/api/tests/%s", front.URL, id))
		if err != nil || r.StatusCode != http.StatusOK {
			return false
		}
		var rep runner.Report
		decode(t, r, &rep)
		return rep.State == runner.COMPLETED && rep.Passed && len(rep.Cases) == 1
	}, 10*time.Second, 20*time.Millisecond)
}

func TestCORSPreflight(t *testing.T) {
	front, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, front.URL+"/api/load-test", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	s := NewServer(testConfig(), stats.DefaultStatsReceiver())
	front := httptest.NewServer(s.Handler())
	defer front.Close()

	resp := postJSON(t, front.URL+"/api/load-test", map[string]interface{}{
		"target_url":   backend.URL,
		"num_requests": 5,
		"concurrency":  1,
		"timeout_secs": 5,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		r, err := http.Get(front.URL + "/admin/metrics.json")
		if err != nil || r.StatusCode != http.StatusOK {
			return false
		}
		var m map[string]interface{}
		decode(t, r, &m)
		_, ok := m["run/load/requests_dispatched"]
		return ok
	}, 10*time.Second, 50*time.Millisecond)
}
