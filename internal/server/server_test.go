package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hitomi/internal/config"
	"hitomi/internal/platform"
	"hitomi/internal/session"
)

// newTestServer はフェイクプロバイダー上のテスト用サーバーを作成する
func newTestServer(t *testing.T) (*Server, *platform.FakeProvider) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Session: config.SessionConfig{
			Resolutions: []platform.Resolution{
				{Label: "HD", Width: 1280, Height: 720},
			},
			FrameRate: 15,
		},
	}

	provider := platform.NewFakeProvider()
	srv := New(cfg, provider)

	t.Cleanup(func() {
		srv.Controller().Dispose(context.Background())
	})

	return srv, provider
}

// doRequest はテスト用HTTPリクエストを実行する
func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Status != "healthy" {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestHandleState_InitiallyIdle(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if state.Status != session.StatusIdle {
		t.Errorf("Expected idle, got %s", state.Status)
	}
}

func TestHandleSessionStartAndStop(t *testing.T) {
	srv, provider := newTestServer(t)

	// 開始
	w := doRequest(t, srv, http.MethodPost, "/api/session/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if state.Status != session.StatusReady {
		t.Errorf("Expected ready, got %s", state.Status)
	}
	if state.ActiveResolution == nil || state.ActiveResolution.Label != "HD" {
		t.Errorf("Expected HD resolution, got %+v", state.ActiveResolution)
	}

	// 停止
	w = doRequest(t, srv, http.MethodPost, "/api/session/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if state.Status != session.StatusIdle {
		t.Errorf("Expected idle, got %s", state.Status)
	}
	if provider.OpenStreams() != 0 {
		t.Errorf("Expected 0 open streams, got %d", provider.OpenStreams())
	}
}

func TestHandleSessionStart_OverconstrainedMapsTo400(t *testing.T) {
	srv, provider := newTestServer(t)
	provider.SetSupportedResolutions([]platform.Resolution{{Width: 640, Height: 480}})

	w := doRequest(t, srv, http.MethodPost, "/api/session/start", StartRequest{
		Resolutions: []platform.Resolution{{Label: "FHD", Width: 1920, Height: 1080}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var response ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Error != string(platform.CodeOverconstrained) {
		t.Errorf("Expected overconstrained code, got %s", response.Error)
	}
}

func TestHandleSessionStart_PermissionDeniedMapsTo403(t *testing.T) {
	srv, provider := newTestServer(t)
	provider.SetPermission(platform.PermissionCamera, platform.PermissionDenied)

	w := doRequest(t, srv, http.MethodPost, "/api/session/start", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleCapture(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doRequest(t, srv, http.MethodPost, "/api/session/start", nil); w.Code != http.StatusOK {
		t.Fatalf("Start failed: %d", w.Code)
	}

	// 既定はバイナリ画像応答
	w := doRequest(t, srv, http.MethodPost, "/api/capture", CaptureRequest{Scale: 0.5})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != platform.MimeJPEG {
		t.Errorf("Expected JPEG content type, got %s", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("Expected non-empty image body")
	}

	// Base64指定時はJSON応答
	w = doRequest(t, srv, http.MethodPost, "/api/capture", CaptureRequest{IncludeBase64: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var result struct {
		URL    string `json:"url"`
		Base64 string `json:"base64"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.Base64 == "" || result.URL == "" {
		t.Error("Expected base64 and URL in JSON response")
	}
	if result.Width != 1280 || result.Height != 720 {
		t.Errorf("Expected 1280x720, got %dx%d", result.Width, result.Height)
	}
}

func TestHandleCapture_WithoutSessionMapsTo503(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/capture", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleDevices(t *testing.T) {
	srv, provider := newTestServer(t)
	provider.AddDevice(platform.DeviceDescriptor{
		DeviceID: "fake-video-1",
		Label:    "フェイクカメラ 2",
		Kind:     platform.KindVideoInput,
	})

	w := doRequest(t, srv, http.MethodGet, "/api/devices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var response struct {
		Devices []platform.DeviceDescriptor `json:"devices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(response.Devices) != 2 {
		t.Errorf("Expected 2 video devices, got %d", len(response.Devices))
	}
}

func TestHandleCapabilities(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/devices/fake-video-0/capabilities", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var caps struct {
		DeviceID string `json:"device_id"`
		HasZoom  bool   `json:"has_zoom"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &caps); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if caps.DeviceID != "fake-video-0" || !caps.HasZoom {
		t.Errorf("Unexpected capabilities: %+v", caps)
	}
}

func TestHandlePermissions(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/permissions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var permissions map[platform.PermissionKind]platform.PermissionValue
	if err := json.Unmarshal(w.Body.Bytes(), &permissions); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if permissions[platform.PermissionCamera] != platform.PermissionGranted {
		t.Errorf("Expected camera granted, got %s", permissions[platform.PermissionCamera])
	}
}

func TestHandleZoom_ErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doRequest(t, srv, http.MethodPost, "/api/session/start", nil); w.Code != http.StatusOK {
		t.Fatalf("Start failed: %d", w.Code)
	}

	// 1.0未満は入力エラー
	w := doRequest(t, srv, http.MethodPost, "/api/controls/zoom", ZoomRequest{Zoom: 0.5})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}

	// 能力範囲外は制約エラー
	w = doRequest(t, srv, http.MethodPost, "/api/controls/zoom", ZoomRequest{Zoom: 100})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}

	// 正常値は状態へ反映される
	w = doRequest(t, srv, http.MethodPost, "/api/controls/zoom", ZoomRequest{Zoom: 2.0})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if state.Zoom == nil || *state.Zoom != 2.0 {
		t.Errorf("Expected zoom 2.0 in state, got %+v", state.Zoom)
	}
}

func TestHandleTorch(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := doRequest(t, srv, http.MethodPost, "/api/session/start", nil); w.Code != http.StatusOK {
		t.Fatalf("Start failed: %d", w.Code)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/controls/torch", TorchRequest{Enabled: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var state session.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if state.TorchEnabled == nil || !*state.TorchEnabled {
		t.Error("Expected torch enabled in state")
	}
}
