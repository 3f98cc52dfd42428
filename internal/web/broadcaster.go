package web

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/StarGo/internal/hw/display"
)

// Event kinds.
const (
	KindLog    = "log"
	KindStatus = "status"
)

// Event is one message pushed to SSE and websocket clients.
type Event struct {
	Time   string          `json:"t"`
	Kind   string          `json:"k"`
	Level  string          `json:"l,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Status *display.Status `json:"status,omitempty"`
}

// Broadcaster distributes events to multiple clients and remembers the
// latest status so new clients and GET /status see it immediately.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}

	statusMu sync.RWMutex
	latest   *display.Status
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives JSON encoded events and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
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

// Clients returns the number of subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) publish(evt Event) {
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
			// slow client, drop
		}
	}
}

// Log broadcasts a log line.
func (b *Broadcaster) Log(level, msg string) {
	b.publish(Event{Kind: KindLog, Level: level, Msg: msg})
}

// Refresh implements display.Display: the status is stored and broadcast.
func (b *Broadcaster) Refresh(s display.Status) error {
	b.statusMu.Lock()
	b.latest = &s
	b.statusMu.Unlock()
	b.publish(Event{Kind: KindStatus, Status: &s})
	return nil
}

// Latest returns the last status received, if any.
func (b *Broadcaster) Latest() (display.Status, bool) {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	if b.latest == nil {
		return display.Status{}, false
	}
	return *b.latest, true
}

// Writer returns an io.Writer that broadcasts every non-empty write as a log
// line, for debug.SetOutput.
func (b *Broadcaster) Writer() io.Writer {
	return &logWriter{b: b}
}

type logWriter struct {
	b *Broadcaster
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Log("info", msg)
	}
	return len(p), nil
}
