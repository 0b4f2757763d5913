package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/SteerGo/internal/hw/claw"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time   string       `json:"t"`
	Level  string       `json:"l,omitempty"`
	Msg    string       `json:"msg"`
	Unit   string       `json:"unit,omitempty"`
	Status *claw.Status `json:"status,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastStatus publishes a unit's decoded status word.
func (b *StatusBroadcaster) BroadcastStatus(unit string, st claw.Status) {
	level := "info"
	switch st.Severity {
	case claw.SeverityWarn:
		level = "warn"
	case claw.SeverityError:
		level = "error"
	}
	b.send(StatusEvent{Level: level, Msg: unit + " status " + st.String(), Unit: unit, Status: &st})
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
// The level is taken from the debug tag of the line ([WARN], [ERROR], ...).
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		msg := strings.TrimSpace(line)
		if msg != "" {
			w.b.Broadcast(levelOf(msg), msg)
		}
	}
	return len(p), nil
}

func levelOf(line string) string {
	switch {
	case strings.Contains(line, "[ERROR]"):
		return "error"
	case strings.Contains(line, "[WARN]"):
		return "warn"
	case strings.Contains(line, "[LIVE]"):
		return "live"
	case strings.Contains(line, "[VERBOSE]"), strings.Contains(line, "[TRACE]"),
		strings.Contains(line, "[SERIAL]"), strings.Contains(line, "[GPIO]"):
		return "debug"
	default:
		return "info"
	}
}
