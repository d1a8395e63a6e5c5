package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/node"
)

//go:embed assets
var embedded embed.FS

// Device is the part of the node the portal drives. Every call other than Do
// must be made from inside a Do callback.
type Device interface {
	Do(ctx context.Context, fn func()) error
	Record() config.Device
	UpdateRecord(values url.Values) ([]string, error)
	RequestRestart()
	Status() node.Status
}

// Portal is the configuration web server. It only listens between Open and Close.
type Portal struct {
	Addr   string
	device Device
	files  fs.FS

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewPortal serves the embedded pages, or the files in assetsDir when set.
func NewPortal(addr string, device Device, assetsDir string) *Portal {
	var files fs.FS
	if assetsDir != "" {
		files = os.DirFS(assetsDir)
	} else {
		files, _ = fs.Sub(embedded, "assets")
	}
	return &Portal{Addr: addr, device: device, files: files}
}

// SetDevice attaches the device once it exists; the node takes its portal at construction.
func (p *Portal) SetDevice(device Device) {
	p.device = device
}

func (p *Portal) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", p.HandleIndex)
	r.Get("/setting", p.HandleSetting)
	r.Get("/restart", p.HandleRestart)
	r.Get("/config", p.HandleConfig)
	r.Get("/config.json", p.HandleConfig)
	r.Get("/status", p.HandleStatus)
	r.NotFound(p.HandleStatic)
	return r
}

func (p *Portal) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("portal listen on %s: %w", p.Addr, err)
	}
	srv := &http.Server{Handler: p.Routes(), ReadHeaderTimeout: 10 * time.Second}
	p.srv, p.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			slog.Error("Portal server stopped", "error", err)
		}
	}()
	slog.Info("Portal listening", "addr", ln.Addr().String())
	return nil
}

// Close stops accepting connections at once. In-flight requests drain in the
// background: they may be waiting on the device loop that is calling Close.
func (p *Portal) Close() error {
	p.mu.Lock()
	srv, ln := p.srv, p.ln
	p.srv, p.ln = nil, nil
	p.mu.Unlock()
	if srv == nil {
		return nil
	}

	srv.SetKeepAlivesEnabled(false)
	err := ln.Close()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("Portal shutdown incomplete", "error", err)
		}
	}()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// ListenAddr returns the bound address while the portal is open.
func (p *Portal) ListenAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

func (p *Portal) HandleIndex(w http.ResponseWriter, r *http.Request) {
	p.serveFile(w, r, "index.htm")
}

func (p *Portal) HandleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" || !fs.ValidPath(name) {
		http.Error(w, "File Not Found", http.StatusNotFound)
		return
	}
	p.serveFile(w, r, name)
}

func (p *Portal) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	if info, err := fs.Stat(p.files, name); err != nil || info.IsDir() {
		http.Error(w, "File Not Found", http.StatusNotFound)
		return
	}
	http.ServeFileFS(w, r, p.files, name)
}

func (p *Portal) HandleSetting(w http.ResponseWriter, r *http.Request) {
	var applied []string
	var err error
	if derr := p.device.Do(r.Context(), func() { applied, err = p.device.UpdateRecord(r.URL.Query()) }); derr != nil {
		p.handleError(w, derr)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("Settings saved from portal", "remote_addr", r.RemoteAddr, "fields", applied)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Saved %d setting(s). Restart the device to apply pin changes.", len(applied))
}

func (p *Portal) HandleRestart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Restarting")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := p.device.Do(r.Context(), p.device.RequestRestart); err != nil {
		slog.Error("Restart request not delivered", "error", err)
	}
}

func (p *Portal) HandleConfig(w http.ResponseWriter, r *http.Request) {
	var record config.Device
	if err := p.device.Do(r.Context(), func() { record = p.device.Record() }); err != nil {
		p.handleError(w, err)
		return
	}
	writeJSON(w, record)
}

func (p *Portal) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var status node.Status
	if err := p.device.Do(r.Context(), func() { status = p.device.Status() }); err != nil {
		p.handleError(w, err)
		return
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (p *Portal) handleError(w http.ResponseWriter, err error) {
	slog.Error("Portal request failed", "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, http.StatusText(status), status)
}
