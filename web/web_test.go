package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"

	"go-mirror-coordinator/global"
)

func testConfig(t *testing.T) *global.Config {
	return &global.Config{
		NodeName:     "node-a",
		DataDir:      t.TempDir(),
		WatchSchemas: []string{"public"},
	}
}

func doRequest(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	handler := buildHandler()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	global.SetCfg(testConfig(t))

	recorder := doRequest(t, http.MethodGet, "/health", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d", recorder.Code)
	}

	var body map[string]interface{}
	if err := jsoniter.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["node"] != "node-a" {
		t.Fatalf("node: %v", body["node"])
	}
	if body["is_leader"] != false {
		t.Fatalf("is_leader: %v", body["is_leader"])
	}
}

func TestReadyFollowerAlwaysReady(t *testing.T) {
	global.SetCfg(testConfig(t))

	recorder := doRequest(t, http.MethodGet, "/ready", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("follower should be ready, status: %d", recorder.Code)
	}

	var body map[string]interface{}
	if err := jsoniter.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["role"] != "follower" {
		t.Fatalf("role: %v", body["role"])
	}
}

// /verify是只读路径，follower也可执行，不应返回409
func TestVerifyAllowedOnFollower(t *testing.T) {
	global.SetCfg(testConfig(t))

	recorder := doRequest(t, http.MethodGet, "/verify?schema=public&table=orders", "")
	if recorder.Code == http.StatusConflict {
		t.Fatalf("verify must not be gated on leadership, status: %d", recorder.Code)
	}
	// 审计服务未初始化时降级为503
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", recorder.Code)
	}
}

func TestRetryRejectedOnFollower(t *testing.T) {
	global.SetCfg(testConfig(t))

	recorder := doRequest(t, http.MethodPost, "/mirrors/retry", `{"table":"public.orders"}`)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("status: %d", recorder.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	global.SetCfg(testConfig(t))

	recorder := doRequest(t, http.MethodGet, "/metrics", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d", recorder.Code)
	}

	var body map[string]interface{}
	if err := jsoniter.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	lastError, ok := body["last_error"].(map[string]interface{})
	if !ok {
		t.Fatal("metrics snapshot missing last_error")
	}
	for _, subsystem := range []string{"subscription", "orchestrator", "lease", "audit"} {
		if _, ok := lastError[subsystem]; !ok {
			t.Fatalf("last_error missing subsystem %s", subsystem)
		}
	}
}
