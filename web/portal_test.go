package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/node"
)

type mockDevice struct {
	record    config.Device
	restarted bool
	doErr     error
}

func (m *mockDevice) Do(ctx context.Context, fn func()) error {
	if m.doErr != nil {
		return m.doErr
	}
	fn()
	return nil
}

func (m *mockDevice) Record() config.Device { return m.record }

func (m *mockDevice) UpdateRecord(values url.Values) ([]string, error) {
	return m.record.ApplyValues(values)
}

func (m *mockDevice) RequestRestart() { m.restarted = true }

func (m *mockDevice) Status() node.Status {
	return node.Status{Name: m.record.DeviceName, Relay: "ON"}
}

func newTestPortal() (*Portal, *mockDevice) {
	dev := &mockDevice{record: config.DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")}
	return NewPortal("127.0.0.1:0", dev, ""), dev
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndexServed(t *testing.T) {
	p, _ := newTestPortal()

	rec := get(t, p.Routes(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `id="settings"`) {
		t.Error("Expected the settings page")
	}

	rec = get(t, p.Routes(), "/function.js")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected embedded asset, got %d", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	p, _ := newTestPortal()

	rec := get(t, p.Routes(), "/missing.txt")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "File Not Found" {
		t.Errorf("Expected File Not Found, got %q", rec.Body.String())
	}
}

func TestSettingApplied(t *testing.T) {
	p, dev := newTestPortal()

	rec := get(t, p.Routes(), "/setting?deviceName=Hall&relayPin=5&workMode=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if dev.record.DeviceName != "Hall" || dev.record.RelayPin != 5 || !dev.record.WorkMode {
		t.Errorf("Expected settings applied, got %+v", dev.record)
	}

	rec = get(t, p.Routes(), "/setting?relayPin=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid pin, got %d", rec.Code)
	}
}

func TestConfigJSON(t *testing.T) {
	p, _ := newTestPortal()

	for _, path := range []string{"/config", "/config.json"} {
		rec := get(t, p.Routes(), path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var d config.Device
		if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
			t.Fatalf("%s: invalid JSON: %v", path, err)
		}
		if d.DeviceName != "Mesh switch 0A0B0C" {
			t.Errorf("%s: unexpected record %+v", path, d)
		}
	}
}

func TestRestart(t *testing.T) {
	p, dev := newTestPortal()

	rec := get(t, p.Routes(), "/restart")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !dev.restarted {
		t.Error("Expected restart requested")
	}
}

func TestLoopUnavailable(t *testing.T) {
	p, dev := newTestPortal()
	dev.doErr = context.DeadlineExceeded

	rec := get(t, p.Routes(), "/config")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestAssetsDirOverride(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "index.htm"), []byte("custom page"), 0o644)

	p := NewPortal("127.0.0.1:0", &mockDevice{}, dir)
	rec := get(t, p.Routes(), "/")
	if rec.Body.String() != "custom page" {
		t.Errorf("Expected override page, got %q", rec.Body.String())
	}
}

func TestPortalOpenClose(t *testing.T) {
	p, _ := newTestPortal()

	if err := p.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := p.Open(); err != nil {
		t.Fatalf("Second Open failed: %v", err)
	}

	addr := p.ListenAddr()
	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"relay":"ON"`) {
		t.Errorf("Expected status JSON, got %s", body)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if p.ListenAddr() != "" {
		t.Error("Expected no listener after Close")
	}
	if _, err := http.Get("http://" + addr + "/status"); err == nil {
		t.Error("Expected portal unreachable after Close")
	}
}

// blockedDevice holds every Do until release is closed, like a loop busy closing the portal.
type blockedDevice struct {
	mockDevice
	entered chan struct{}
	release chan struct{}
}

func (d *blockedDevice) Do(ctx context.Context, fn func()) error {
	d.entered <- struct{}{}
	select {
	case <-d.release:
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCloseDoesNotWaitForLoop(t *testing.T) {
	dev := &blockedDevice{
		mockDevice: mockDevice{record: config.DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")},
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	p := NewPortal("127.0.0.1:0", dev, "")
	if err := p.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	addr := p.ListenAddr()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Get("http://" + addr + "/status")
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-dev.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Request never reached the device")
	}

	start := time.Now()
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("Expected Close to return without waiting for the request, took %v", d)
	}

	close(dev.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("In-flight request never finished")
	}
}
