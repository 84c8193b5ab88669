package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/diagnostics"
	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/relay"
)

// memRegistry is an in-memory cameras.Registry for API tests. It mirrors
// the TOML registry's error strings so the HTTP error mapping is exercised.
type memRegistry struct {
	mu   sync.Mutex
	cams map[string]cameras.CameraConfig
}

func newMemRegistry(cams ...cameras.CameraConfig) *memRegistry {
	r := &memRegistry{cams: make(map[string]cameras.CameraConfig)}
	for _, c := range cams {
		r.cams[c.Name] = c
	}
	return r
}

func (r *memRegistry) Load() error { return nil }
func (r *memRegistry) Save() error { return nil }

func (r *memRegistry) AddCamera(cam cameras.CameraConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cam.Name == "" {
		return fmt.Errorf("camera name cannot be empty")
	}
	if cam.Host == "" {
		return fmt.Errorf("camera host cannot be empty")
	}
	if _, exists := r.cams[cam.Name]; exists {
		return fmt.Errorf("camera %s already exists", cam.Name)
	}
	if cam.Port == 0 {
		cam.Port = cameras.DefaultRTSPPort
	}
	r.cams[cam.Name] = cam
	return nil
}

func (r *memRegistry) UpdateCamera(name string, cam cameras.CameraConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.cams[name]
	if !ok {
		return fmt.Errorf("camera %s not found", name)
	}
	cam.Name = existing.Name
	if cam.Host == "" {
		cam.Host = existing.Host
	}
	if cam.Port == 0 {
		cam.Port = existing.Port
	}
	r.cams[name] = cam
	return nil
}

func (r *memRegistry) RemoveCamera(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cams[name]; !ok {
		return fmt.Errorf("camera %s not found", name)
	}
	delete(r.cams, name)
	return nil
}

func (r *memRegistry) GetCamera(name string) (cameras.CameraConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cams[name]
	return cam, ok
}

func (r *memRegistry) ListCameras() []cameras.CameraConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cameras.CameraConfig, 0, len(r.cams))
	for _, cam := range r.cams {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *memRegistry) AutostartCameras() []cameras.CameraConfig {
	var out []cameras.CameraConfig
	for _, cam := range r.ListCameras() {
		if cam.Autostart {
			out = append(out, cam)
		}
	}
	return out
}

// newTestServer builds a server backed by a real supervisor with no jobs
// and an in-memory registry holding one camera.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	registry := newMemRegistry(cameras.CameraConfig{
		Name:     "porch",
		Host:     "203.0.113.9",
		Port:     554,
		Username: "viewer",
		Password: "secret",
		Platform: "youtube",
	})

	bus := events.New()
	supervisor := relay.NewSupervisor(relay.Options{
		Config:   relay.Config{FFmpegPath: "ffmpeg"},
		Registry: registry,
		Bus:      bus,
	})
	t.Cleanup(supervisor.Close)

	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Supervisor:   supervisor,
		Registry:     registry,
		Collector:    diagnostics.NewCollector("ffmpeg"),
		Platforms: map[string]string{
			"youtube": "rtmp://a.rtmp.youtube.com/live2",
			"twitch":  "rtmp://live.twitch.tv/app",
		},
		EventBus: bus,
	})

	ts := httptest.NewServer(server.mux)
	t.Cleanup(ts.Close)
	return server, ts
}

func authedRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.SetBasicAuth("test", "test")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doJSON(t *testing.T, req *http.Request, out any) *http.Response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestVersionEndpointSkipsAuth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/version")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMissingCredentialsRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/jobs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Errorf("expected WWW-Authenticate challenge, got %q", got)
	}
}

func TestWrongCredentialsRejected(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs", nil)
	req.SetBasicAuth("test", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestQueryParameterAuth(t *testing.T) {
	_, ts := newTestServer(t)

	creds := base64.StdEncoding.EncodeToString([]byte("test:test"))
	resp, err := http.Get(ts.URL + "/api/jobs?auth=" + creds)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListJobsEmpty(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Jobs  []json.RawMessage `json:"jobs"`
		Count int               `json:"count"`
	}
	resp := doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/jobs", nil), &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Count != 0 || len(body.Jobs) != 0 {
		t.Errorf("expected empty job list, got count=%d jobs=%d", body.Count, len(body.Jobs))
	}
}

func TestGetJobNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/jobs/ghost-1", nil), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStopJobNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, authedRequest(t, http.MethodDelete, ts.URL+"/api/jobs/ghost-1", nil), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRestartJobNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, authedRequest(t, http.MethodPost, ts.URL+"/api/jobs/ghost-1/restart", nil), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStartJobUnknownCamera(t *testing.T) {
	_, ts := newTestServer(t)

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/jobs", map[string]any{"camera": "ghost"})
	resp := doJSON(t, req, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStartJobInvalidInlineConfig(t *testing.T) {
	_, ts := newTestServer(t)

	// No source at all makes the command builder refuse the config.
	req := authedRequest(t, http.MethodPost, ts.URL+"/api/jobs", map[string]any{"platform": "youtube"})
	resp := doJSON(t, req, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestJobDiagnosticsNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/jobs/ghost-1/diagnostics", nil), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCameraLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	// Register
	addReq := authedRequest(t, http.MethodPost, ts.URL+"/api/cameras", map[string]any{
		"name":     "garden",
		"host":     "203.0.113.40",
		"username": "viewer",
		"password": "hunter2",
		"platform": "twitch",
	})
	var created struct {
		Name      string `json:"name"`
		Port      int    `json:"port"`
		StreamURI string `json:"stream_uri"`
	}
	resp := doJSON(t, addReq, &created)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add: expected 200, got %d", resp.StatusCode)
	}
	if created.Name != "garden" || created.Port != 554 {
		t.Errorf("unexpected created camera: %+v", created)
	}
	if strings.Contains(created.StreamURI, "hunter2") {
		t.Errorf("password leaked in stream URI: %s", created.StreamURI)
	}
	if !strings.Contains(created.StreamURI, "xxxxx") {
		t.Errorf("expected redacted credential marker in %s", created.StreamURI)
	}

	// List includes both cameras
	var list struct {
		Cameras []struct {
			Name string `json:"name"`
		} `json:"cameras"`
		Count int `json:"count"`
	}
	resp = doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/cameras", nil), &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	if list.Count != 2 {
		t.Fatalf("expected 2 cameras, got %d", list.Count)
	}
	if list.Cameras[0].Name != "garden" || list.Cameras[1].Name != "porch" {
		t.Errorf("expected sorted cameras, got %+v", list.Cameras)
	}

	// Update
	updateReq := authedRequest(t, http.MethodPut, ts.URL+"/api/cameras/garden", map[string]any{
		"name": "garden",
		"host": "203.0.113.41",
	})
	var updated struct {
		Host string `json:"host"`
	}
	resp = doJSON(t, updateReq, &updated)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	if updated.Host != "203.0.113.41" {
		t.Errorf("expected updated host, got %s", updated.Host)
	}

	// Remove
	resp = doJSON(t, authedRequest(t, http.MethodDelete, ts.URL+"/api/cameras/garden", nil), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/cameras/garden", nil), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after removal, got %d", resp.StatusCode)
	}
}

func TestAddCameraDuplicate(t *testing.T) {
	_, ts := newTestServer(t)

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/cameras", map[string]any{
		"name": "porch",
		"host": "203.0.113.9",
	})
	resp := doJSON(t, req, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestListPlatforms(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Platforms []struct {
			Name      string `json:"name"`
			IngestURL string `json:"ingest_url"`
		} `json:"platforms"`
		Count int `json:"count"`
	}
	resp := doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/platforms", nil), &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 platforms, got %d", body.Count)
	}
	if body.Platforms[0].Name != "twitch" || body.Platforms[1].Name != "youtube" {
		t.Errorf("expected sorted platforms, got %+v", body.Platforms)
	}
}

func TestConnectivityExplicitEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/connectivity/test", map[string]any{
		"endpoint": "rtmp://" + ln.Addr().String() + "/live",
	})
	var body struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
	}
	resp := doJSON(t, req, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Name != "endpoint" {
		t.Errorf("expected probe name endpoint, got %s", body.Name)
	}
	if !body.Healthy {
		t.Errorf("expected local listener to be reachable")
	}
}

func TestConnectivityUnknownPlatform(t *testing.T) {
	_, ts := newTestServer(t)

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/connectivity/test", map[string]any{
		"platform": "dailymotion",
	})
	resp := doJSON(t, req, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestConnectivityRequiresTarget(t *testing.T) {
	_, ts := newTestServer(t)

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/connectivity/test", map[string]any{})
	resp := doJSON(t, req, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProcessReportEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Binary  string `json:"binary"`
		Total   int    `json:"total"`
		Tracked int    `json:"tracked"`
	}
	resp := doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/diagnostics/processes", nil), &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Binary != "ffmpeg" {
		t.Errorf("expected binary ffmpeg, got %s", body.Binary)
	}
	if body.Tracked != 0 {
		t.Errorf("expected no tracked processes, got %d", body.Tracked)
	}
}

func TestUpdateRoutesAbsentWithoutService(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, authedRequest(t, http.MethodGet, ts.URL+"/api/update/status", nil), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when updates are not configured, got %d", resp.StatusCode)
	}
}

func TestMapRelayError(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{relay.ErrCodeInvalidConfig, http.StatusBadRequest},
		{relay.ErrCodeCameraNotFound, http.StatusNotFound},
		{relay.ErrCodeJobNotFound, http.StatusNotFound},
		{relay.ErrCodeRestartInProgress, http.StatusConflict},
		{relay.ErrCodeStartTimeout, http.StatusGatewayTimeout},
		{relay.ErrCodeProcessExit, http.StatusBadGateway},
		{relay.ErrCodeMonitorFailure, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		err := mapRelayError(relay.NewRelayError(tc.code, "boom", nil))
		se, ok := err.(huma.StatusError)
		if !ok {
			t.Fatalf("%s: expected status error, got %T", tc.code, err)
		}
		if se.GetStatus() != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.code, tc.want, se.GetStatus())
		}
	}
}
