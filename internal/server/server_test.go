package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/shopclerk/internal/config"
	"github.com/stellarlinkco/shopclerk/internal/engine"
	"github.com/stellarlinkco/shopclerk/internal/event"
)

// stubDriver satisfies the driver contract with canned data so the engine can
// run under httptest.
type stubDriver struct {
	history map[string][]event.RawEvent
	sent    []string
}

func (d *stubDriver) Open(ctx context.Context) error { return nil }

func (d *stubDriver) FetchNewRawEvents(ctx context.Context) ([]event.RawEvent, error) {
	return nil, nil
}

func (d *stubDriver) FetchHistory(ctx context.Context, contactRef string, limit int) ([]event.RawEvent, error) {
	hist := d.history[contactRef]
	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	return hist, nil
}

func (d *stubDriver) SendText(ctx context.Context, contactRef, text string) error {
	d.sent = append(d.sent, text)
	return nil
}

func (d *stubDriver) Close() error { return nil }

type response struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func testServer(t *testing.T, drv *stubDriver) (*httptest.Server, *engine.Engine, *config.Config) {
	t.Helper()

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	content := "rules:\n  - keywords: [\"价格\"]\n    reply: \"详情页见\"\n"
	if err := os.WriteFile(rulesPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Message.RetryDelay = 0
	cfg.AutoReply.RulesFile = rulesPath

	eng := engine.New(cfg, drv)
	srv := New(cfg.Server, eng)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		if eng.IsRunning() {
			_ = eng.Stop()
		}
	})
	return ts, eng, cfg
}

func doJSON(t *testing.T, method, url string, body any) (int, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts, _, _ := testServer(t, &stubDriver{})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, body = %+v", status, body)
	}
	if body.Data["status"] != "ok" {
		t.Errorf("Data.status = %v, want ok", body.Data["status"])
	}
	if body.Data["isRunning"] != false {
		t.Errorf("isRunning = %v, want false before start", body.Data["isRunning"])
	}
}

func TestEngineStartStop(t *testing.T) {
	ts, eng, _ := testServer(t, &stubDriver{})

	status, body := doJSON(t, http.MethodPost, ts.URL+"/api/engine/start", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("start: status = %d, body = %+v", status, body)
	}
	if !eng.IsRunning() {
		t.Error("engine should be running")
	}

	// Double start is rejected.
	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/engine/start", nil); status != http.StatusBadRequest {
		t.Errorf("double start status = %d, want 400", status)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/api/engine/stop", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("stop: status = %d, body = %+v", status, body)
	}
	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/engine/stop", nil); status != http.StatusBadRequest {
		t.Errorf("double stop status = %d, want 400", status)
	}
}

func TestStatus(t *testing.T) {
	ts, _, _ := testServer(t, &stubDriver{})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/engine/status", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, body = %+v", status, body)
	}
	if body.Data["isRunning"] != false {
		t.Errorf("isRunning = %v, want false", body.Data["isRunning"])
	}
	if body.Data["autoReplyEnabled"] != true {
		t.Errorf("autoReplyEnabled = %v, want true", body.Data["autoReplyEnabled"])
	}
}

func TestSend(t *testing.T) {
	drv := &stubDriver{}
	ts, _, _ := testServer(t, drv)

	// Not running: rejected.
	status, body := doJSON(t, http.MethodPost, ts.URL+"/api/message/send",
		map[string]string{"contactRef": "shop_1", "text": "hi"})
	if status != http.StatusBadRequest || body.Message != "engine not running" {
		t.Fatalf("status = %d, body = %+v", status, body)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/engine/start", nil)

	status, body = doJSON(t, http.MethodPost, ts.URL+"/api/message/send",
		map[string]string{"contactRef": "shop_1", "text": "您好"})
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, body = %+v", status, body)
	}
	if len(drv.sent) != 1 || drv.sent[0] != "您好" {
		t.Errorf("sent = %v", drv.sent)
	}

	// Validation errors surface as 400.
	status, _ = doJSON(t, http.MethodPost, ts.URL+"/api/message/send",
		map[string]string{"contactRef": "", "text": "hi"})
	if status != http.StatusBadRequest {
		t.Errorf("empty contact status = %d, want 400", status)
	}
	status, _ = doJSON(t, http.MethodPost, ts.URL+"/api/message/send",
		map[string]string{"contactRef": "shop_1", "text": ""})
	if status != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", status)
	}
}

func TestHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	drv := &stubDriver{history: map[string][]event.RawEvent{
		"shop_1": {
			{ID: "m1", ContactRef: "shop_1", Text: "first", Timestamp: base},
			{ID: "m2", ContactRef: "shop_1", Text: "second", Timestamp: base.Add(time.Minute)},
		},
	}}
	ts, _, _ := testServer(t, drv)
	doJSON(t, http.MethodPost, ts.URL+"/api/engine/start", nil)

	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/message/history/shop_1", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, body = %+v", status, body)
	}
	if body.Data["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body.Data["count"])
	}

	// Out-of-range limits are rejected, not clamped.
	for _, q := range []string{"0", "501", "abc"} {
		status, _ := doJSON(t, http.MethodGet, ts.URL+"/api/message/history/shop_1?max_messages="+q, nil)
		if status != http.StatusBadRequest {
			t.Errorf("max_messages=%s status = %d, want 400", q, status)
		}
	}
}

func TestSessionList(t *testing.T) {
	ts, _, _ := testServer(t, &stubDriver{})
	doJSON(t, http.MethodPost, ts.URL+"/api/engine/start", nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/message/send",
		map[string]string{"contactRef": "shop_1", "text": "您好"})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/list", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, body = %+v", status, body)
	}
	if body.Data["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body.Data["count"])
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/api/session/list?active_only=true", nil)
	if status != http.StatusOK || body.Data["count"] != float64(1) {
		t.Errorf("active_only: status = %d, count = %v", status, body.Data["count"])
	}
}

func TestRulesReload(t *testing.T) {
	ts, _, cfg := testServer(t, &stubDriver{})

	status, body := doJSON(t, http.MethodPost, ts.URL+"/api/rules/reload", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, body = %+v", status, body)
	}

	// A rejected rule file maps to 400 and the error text is surfaced.
	if err := os.WriteFile(cfg.AutoReply.RulesFile,
		[]byte("rules:\n  - keywords: []\n    reply: \"x\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	status, body = doJSON(t, http.MethodPost, ts.URL+"/api/rules/reload", nil)
	if status != http.StatusBadRequest || body.Success {
		t.Errorf("status = %d, body = %+v, want 400", status, body)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts, _, _ := testServer(t, &stubDriver{})

	resp, err := http.Get(ts.URL + "/api/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
