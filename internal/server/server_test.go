package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"scanrig/internal/camera"
	"scanrig/internal/config"
	"scanrig/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeController は呼び出しを記録するテスト用のコントローラー
type fakeController struct {
	mu       sync.Mutex
	calls    []string
	frames   *session.FrameSet
	err      error
	active   map[session.Identity]bool
	zoom     float64
	meshPath string
}

func newFakeController() *fakeController {
	return &fakeController{
		frames: &session.FrameSet{},
		active: map[session.Identity]bool{},
	}
}

func (f *fakeController) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Status() session.Status {
	return session.Status{Loop: session.LoopRunning, Overlays: []session.Identity{}}
}

func (f *fakeController) TogglePause() session.LoopState {
	f.record("pause")
	return session.LoopPaused
}

func (f *fakeController) Toggle(id session.Identity) (bool, error) {
	if !session.IsExclusive(id) && !session.IsOverlay(id) {
		return false, fmt.Errorf("%w: %s", session.ErrUnknownMode, id)
	}
	f.record("toggle:" + string(id))
	f.active[id] = !f.active[id]
	return f.active[id], nil
}

func (f *fakeController) ToggleDetected() bool {
	f.record("detected")
	return true
}

func (f *fakeController) SetDeviceControl(deviceID string, id camera.ControlID, value int32) error {
	if deviceID != "cam0" {
		return fmt.Errorf("%w: %s", camera.ErrDeviceNotFound, deviceID)
	}
	f.record(fmt.Sprintf("set:%s:%s=%d", deviceID, id, value))
	return f.err
}

func (f *fakeController) BroadcastControl(id camera.ControlID, value int32) error {
	f.record(fmt.Sprintf("broadcast:%s=%d", id, value))
	return f.err
}

func (f *fakeController) GenerateMesh() error {
	f.record("generate")
	return nil
}

func (f *fakeController) ClearMesh() { f.record("clear") }

func (f *fakeController) SaveMesh(path string) error {
	f.record("save")
	f.meshPath = path
	return nil
}

func (f *fakeController) LoadMesh(path string) error {
	f.record("load")
	f.meshPath = path
	return nil
}

func (f *fakeController) Zoom(delta float64) { f.zoom = delta }

func (f *fakeController) Frames() *session.FrameSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *fakeController) setFrames(fs *session.FrameSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = fs
}

func (f *fakeController) Stop() error {
	f.record("stop")
	return f.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Session.RenderInterval = config.Duration(5 * time.Millisecond)
	return cfg
}

func solidFrame(id string, seq uint64) camera.Frame {
	data := make([]byte, 4*2*3)
	for i := range data {
		data[i] = 200
	}
	return camera.Frame{DeviceID: id, Width: 4, Height: 2, Data: data, Sequence: seq}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv := New(testConfig(), newFakeController())

	// テスト用のコンテキスト（タイムアウト付き）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints は各エンドポイントのステータスコードをテストする
func TestServerEndpoints(t *testing.T) {
	ctl := newFakeController()
	h := New(testConfig(), ctl).Handler()

	testCases := []struct {
		name           string
		method         string
		endpoint       string
		body           string
		expectedStatus int
	}{
		{"ヘルスチェック", http.MethodGet, "/health", "", http.StatusOK},
		{"ステータス", http.MethodGet, "/api/status", "", http.StatusOK},
		{"一時停止", http.MethodPost, "/api/pause", "", http.StatusOK},
		{"スキャン切り替え", http.MethodPost, "/api/modes/scan/toggle", "", http.StatusOK},
		{"不明なモード", http.MethodPost, "/api/modes/unknown/toggle", "", http.StatusNotFound},
		{"検出点切り替え", http.MethodPost, "/api/detected/toggle", "", http.StatusOK},
		{"コントロール設定", http.MethodPut, "/api/devices/cam0/controls/focus", `{"value":30}`, http.StatusNoContent},
		{"存在しないデバイス", http.MethodPut, "/api/devices/cam9/controls/focus", `{"value":30}`, http.StatusNotFound},
		{"不明なコントロール", http.MethodPut, "/api/devices/cam0/controls/bogus", `{"value":30}`, http.StatusBadRequest},
		{"値なし", http.MethodPut, "/api/devices/cam0/controls/focus", `{}`, http.StatusBadRequest},
		{"全台に設定", http.MethodPost, "/api/controls/gain", `{"value":0}`, http.StatusNoContent},
		{"メッシュ生成", http.MethodPost, "/api/mesh/generate", "", http.StatusOK},
		{"メッシュ破棄", http.MethodPost, "/api/mesh/clear", "", http.StatusNoContent},
		{"メッシュ保存", http.MethodPost, "/api/mesh/save", `{"path":"out.ply"}`, http.StatusNoContent},
		{"パスなし", http.MethodPost, "/api/mesh/load", `{}`, http.StatusBadRequest},
		{"ズーム", http.MethodPost, "/api/zoom", `{"delta":1.5}`, http.StatusNoContent},
		{"フレームなし", http.MethodGet, "/api/snapshot", "", http.StatusServiceUnavailable},
		{"停止", http.MethodPost, "/api/stop", "", http.StatusNoContent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, tc.method, tc.endpoint, tc.body)
			if w.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d (%s)",
					w.Code, tc.expectedStatus, w.Body.String())
			}
		})
	}

	want := []string{
		"pause",
		"toggle:scan",
		"detected",
		"set:cam0:focus=30",
		"broadcast:gain=0",
		"generate",
		"clear",
		"save",
		"stop",
	}
	got := ctl.Calls()
	if len(got) != len(want) {
		t.Fatalf("呼び出し回数が違います: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("呼び出し[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if ctl.zoom != 1.5 {
		t.Errorf("ズーム量: got %v, want 1.5", ctl.zoom)
	}
	if ctl.meshPath != "out.ply" {
		t.Errorf("メッシュのパス: got %q", ctl.meshPath)
	}
}

func TestServerToggleResponse(t *testing.T) {
	h := New(testConfig(), newFakeController()).Handler()

	for _, want := range []bool{true, false} {
		w := do(t, h, http.MethodPost, "/api/modes/show_cameras/toggle", "")
		var resp ToggleResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスを解析できません: %v", err)
		}
		if resp.Name != "show_cameras" || resp.Active != want {
			t.Errorf("got %+v, want active=%v", resp, want)
		}
	}
}

func TestServerErrorMapping(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"停止済み", session.ErrStopped, http.StatusConflict, "session_stopped"},
		{"コントロール失敗", fmt.Errorf("%w: EBUSY", camera.ErrControl), http.StatusBadGateway, "control_failed"},
		{"その他", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctl := newFakeController()
			ctl.err = tc.err
			h := New(testConfig(), ctl).Handler()

			w := do(t, h, http.MethodPost, "/api/controls/exposure", `{"value":100}`)
			if w.Code != tc.code {
				t.Fatalf("ステータスコード: got %d, want %d", w.Code, tc.code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("レスポンスを解析できません: %v", err)
			}
			if resp.Error != tc.kind {
				t.Errorf("エラー種別: got %q, want %q", resp.Error, tc.kind)
			}
		})
	}
}

func TestServerSnapshotAndFrame(t *testing.T) {
	ctl := newFakeController()
	ctl.setFrames(&session.FrameSet{
		Seq:    1,
		Frames: []camera.Frame{solidFrame("cam0", 1), solidFrame("cam1", 1)},
	})
	h := New(testConfig(), ctl).Handler()

	for _, path := range []string{"/api/snapshot", "/api/devices/cam1/frame"} {
		w := do(t, h, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: ステータスコード %d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("%s: Content-Type = %q", path, ct)
		}
		if _, err := jpeg.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
			t.Errorf("%s: JPEGとして読めません: %v", path, err)
		}
	}

	w := do(t, h, http.MethodGet, "/api/devices/cam7/frame", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("存在しないデバイス: got %d", w.Code)
	}
}

func TestServerStream(t *testing.T) {
	ctl := newFakeController()
	ctl.setFrames(&session.FrameSet{Seq: 1, Frames: []camera.Frame{solidFrame("cam0", 1)}})
	h := New(testConfig(), ctl).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/devices/cam0/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(w, req)
	}()

	time.Sleep(30 * time.Millisecond)
	ctl.setFrames(&session.FrameSet{Seq: 2, Frames: []camera.Frame{solidFrame("cam0", 2)}})
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ストリームが終了しません")
	}

	if ct := w.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Content-Type = %q", ct)
	}
	if n := bytes.Count(w.Body.Bytes(), []byte("--frame\r\n")); n != 2 {
		t.Errorf("フレーム数: got %d, want 2", n)
	}
}
