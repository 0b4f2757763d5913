package web

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
	"github.com/cjeanneret/SteerGo/internal/logic/loop"
)

// maxBodyBytes bounds a directive request body.
const maxBodyBytes = 1 << 20

// Dispatcher writes a directive into the axis targets.
// *steering.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(data []float64) error
}

// StatusSource provides loop telemetry. *loop.Driver implements it.
type StatusSource interface {
	Snapshot() loop.Snapshot
}

// Directive is one upstream command: a numeric array of which only the
// steering angle positions are used.
type Directive struct {
	Data []float64 `json:"data"`
}

// Bind implements render.Binder.
func (d *Directive) Bind(r *http.Request) error {
	if d.Data == nil {
		return fmt.Errorf("missing data array")
	}
	return nil
}

// ErrResponse is the JSON error body.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

// Render implements render.Renderer.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadRequest, StatusText: "invalid request", ErrorText: err.Error()}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Dispatcher  Dispatcher
	Status      StatusSource
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, dispatcher Dispatcher, status StatusSource, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Status:      status,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns the loop snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.Status.Snapshot())
}

// UnitDiagnostics is the last decoded status word of a unit.
type UnitDiagnostics struct {
	Unit      string       `json:"unit"`
	Connected bool         `json:"connected"`
	Status    *claw.Status `json:"status"`
}

// HandleDiagnostics returns the last status of every unit.
func (h *Handlers) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap := h.Status.Snapshot()
	out := make([]UnitDiagnostics, 0, len(snap.Units))
	for _, u := range snap.Units {
		out = append(out, UnitDiagnostics{Unit: u.Name, Connected: u.Connected, Status: u.Status})
	}
	render.JSON(w, r, out)
}

// HandleDiagnosticCodes returns the status bit table.
func (h *Handlers) HandleDiagnosticCodes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, claw.Codes())
}

// HandleDirective handles POST <input path> with {"data":[...]}.
func (h *Handlers) HandleDirective(w http.ResponseWriter, r *http.Request) {
	d := &Directive{}
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), d); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := d.Bind(r); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := h.Dispatcher.Dispatch(d.Data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDirectiveStream handles GET /ws<input path>. Each text message is
// one directive; bad messages are logged and skipped.
func (h *Handlers) HandleDirectiveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)
	debug.Info("Directive stream opened from %s", r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.Warn("directive stream: %v", err)
			}
			debug.Info("Directive stream closed from %s", r.RemoteAddr)
			return
		}

		d := &Directive{}
		if err := render.DecodeJSON(bytes.NewReader(msg), d); err != nil {
			debug.Warn("directive stream: bad message: %v", err)
			continue
		}
		if err := d.Bind(r); err != nil {
			debug.Warn("directive stream: bad message: %v", err)
			continue
		}
		if err := h.Dispatcher.Dispatch(d.Data); err != nil {
			debug.Warn("directive stream: %v", err)
		}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
