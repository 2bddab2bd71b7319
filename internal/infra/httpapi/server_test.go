package httpapi_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"valetudo-home/internal/application"
	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/httpapi"
	"valetudo-home/internal/infra/valetudo"
)

type mockRobot struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	status   map[string]int
}

func (m *mockRobot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.mu.Lock()
	m.requests = append(m.requests, r.Method+" "+r.URL.Path)
	m.bodies = append(m.bodies, string(body))
	code, fail := m.status[r.URL.Path]
	m.mu.Unlock()

	if fail {
		w.WriteHeader(code)
		return
	}
	switch r.URL.Path {
	case "/api/current_status":
		io.WriteString(w, `{"state":8,"battery":100}`)
	case "/api/token":
		io.WriteString(w, `{"token":"deadbeef"}`)
	default:
		io.WriteString(w, `{"result":"ok"}`)
	}
}

func newTestServer(t *testing.T, robot *mockRobot, cfg httpapi.Config) (*httpapi.Server, *application.Scheduler) {
	t.Helper()
	robotServer := httptest.NewServer(robot)
	t.Cleanup(robotServer.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := valetudo.NewClient(strings.TrimPrefix(robotServer.URL, "http://"))
	dispatcher := application.NewDispatcher(client, logger)
	scheduler := application.NewScheduler(dispatcher, nil, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(valetudo.NewMetricsCollector(client))

	return httpapi.NewServer(cfg, dispatcher, scheduler, reg, logger), scheduler
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{AuthToken: "secret"})

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServer_Status(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusOK)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"state": float64(8), "battery": float64(100)}, got); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
}

func TestServer_Command(t *testing.T) {
	robot := &mockRobot{}
	srv, _ := newTestServer(t, robot, httpapi.Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/commands/set_volume", `{"volume": 250}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/commands/locate", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusOK)
	}

	want := []string{"PUT /api/set_sound_volume", "PUT /api/find_robot"}
	if diff := cmp.Diff(want, robot.requests); diff != "" {
		t.Errorf("robot requests (-want +got):\n%s", diff)
	}
	if robot.bodies[0] != `{"volume":"100"}` {
		t.Errorf("volume body: got %s", robot.bodies[0])
	}
}

func TestServer_CommandErrors(t *testing.T) {
	robot := &mockRobot{status: map[string]int{"/api/start_cleaning": http.StatusServiceUnavailable}}
	srv, _ := newTestServer(t, robot, httpapi.Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/commands/start", "", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status_code"] != float64(503) || body["kind"] != "request" || body["retryable"] != true {
		t.Errorf("error body: got %v", body)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/commands/dance", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/commands/go_to", "{not json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_Auth(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{AuthToken: "secret"})

	tests := []struct {
		name       string
		target     string
		header     map[string]string
		wantStatus int
	}{
		{name: "header", target: "/api/v1/token", header: map[string]string{"X-Auth-Token": "secret"}, wantStatus: http.StatusOK},
		{name: "query", target: "/api/v1/token?token=secret", wantStatus: http.StatusOK},
		{name: "wrong", target: "/api/v1/token", header: map[string]string{"X-Auth-Token": "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "missing", target: "/api/v1/token", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodGet, tt.target, "", tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status code: got %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{RateLimit: 2})

	for i := 0; i < 2; i++ {
		if rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/volume", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i+1, rec.Code)
		}
	}
	if rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/volume", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: got %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec := do(t, srv.Handler(), http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health is rate limited: got %d", rec.Code)
	}
}

func TestServer_RateLimitCountsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{AuthToken: "secret", RateLimit: 2})
	header := map[string]string{"X-Auth-Token": "guess"}

	codes := make(map[int]int)
	for i := 0; i < 10; i++ {
		rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/status", "", header)
		codes[rec.Code]++
	}

	want := map[int]int{http.StatusUnauthorized: 2, http.StatusTooManyRequests: 8}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("status codes (-want +got):\n%s", diff)
	}
}

func TestServer_Schedule(t *testing.T) {
	robot := &mockRobot{}
	srv, scheduler := newTestServer(t, robot, httpapi.Config{})

	id, err := scheduler.Add("0 0 10 * * SAT", domain.Command{Action: domain.ActionStart})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/schedule", "", nil)
	var jobs []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decoding jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0]["spec"] != "0 0 10 * * SAT" {
		t.Errorf("jobs: got %v", jobs)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/schedule/"+strconv.Itoa(id)+"/run", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run job: got %d: %s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"PUT /api/start_cleaning"}, robot.requests); diff != "" {
		t.Errorf("robot requests (-want +got):\n%s", diff)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/schedule/999/run", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "valetudo_battery_percent 100") {
		t.Errorf("metrics body missing battery gauge:\n%s", rec.Body.String())
	}
}

func TestServer_WebSocket(t *testing.T) {
	robot := &mockRobot{}
	srv, _ := newTestServer(t, robot, httpapi.Config{AuthToken: "secret", StreamInterval: time.Hour})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Stop()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot map[string]any
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if snapshot["type"] != "status" {
		t.Errorf("first message type: got %v, want status", snapshot["type"])
	}

	if err := conn.WriteJSON(map[string]any{"action": "set_fanspeed", "speed": 75}); err != nil {
		t.Fatalf("writing command: %v", err)
	}
	var result map[string]any
	if err := conn.ReadJSON(&result); err != nil {
		t.Fatalf("reading result: %v", err)
	}
	want := map[string]any{
		"type":   "result",
		"action": "set_fanspeed",
		"result": map[string]any{"result": "ok"},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	_, pong, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if string(pong) != "pong" {
		t.Errorf("ping reply: got %q, want pong", pong)
	}
}

func TestServer_WebSocketUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{AuthToken: "secret"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response: got %v, want 401", resp)
	}
}

func TestServer_WebSocketRefusedAfterStop(t *testing.T) {
	srv, _ := newTestServer(t, &mockRobot{}, httpapi.Config{StreamInterval: time.Hour})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("handshake response: got %v, want 503", resp)
	}

	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop error: %v", err)
	}
}
