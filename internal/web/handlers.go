package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/gorilla/websocket"
)

// Buttons accepted by POST /press.
var knownButtons = map[string]bool{
	"revert":        true,
	"dither_period": true,
	"dither_angle":  true,
}

// maxHold caps how long a remote press may hold a button.
const maxHold = 30 * time.Second

// PressRequest is the body of POST /press.
type PressRequest struct {
	Button string `json:"button"`
	HoldMs int    `json:"hold_ms"`
}

// PressFunc holds a bench button down for the given duration.
// It is called from the POST /press handler in a goroutine.
type PressFunc func(ctx context.Context, button string, hold time.Duration) error

// AbortFunc interrupts a dither move and reports whether one was running.
type AbortFunc func() bool

// ConfigView is the mount configuration shown by GET /config.
type ConfigView struct {
	RMm             float64   `json:"r_mm"`
	StartLMm        float64   `json:"start_l_mm"`
	MaxLMm          float64   `json:"max_l_mm"`
	RodPitchMm      float64   `json:"rod_pitch_mm"`
	MicrostepsRev   int       `json:"microsteps_per_rev"`
	DitherAnglesDeg []float64 `json:"dither_angles_deg"`
	DefaultPeriod   int       `json:"default_period_min"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *Broadcaster
	Press       PressFunc
	Abort       AbortFunc
	Config      ConfigView
	ctx         context.Context
	pressMu     sync.Mutex
	pressing    bool
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If press is nil, POST /press returns 503 Service Unavailable.
func NewHandlers(broadcaster *Broadcaster, press PressFunc, cfg ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Press:       press,
		Config:      cfg,
		ctx:         context.Background(),
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			// the status page is served from the same host; bench use only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetContext bounds the work handlers start in the background, such as a
// held button. Call it before serving.
func (h *Handlers) SetContext(ctx context.Context) {
	h.ctx = ctx
}

// HandleConfig returns the mount configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Config)
}

// HandleStatus returns the latest status as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Broadcaster.Latest()
	if !ok {
		http.Error(w, "no status yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
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

// maxPressBody bounds the POST /press request body.
const maxPressBody = 1 << 10

// ValidatePress checks a press request.
func ValidatePress(req PressRequest) error {
	if !knownButtons[req.Button] {
		return fmt.Errorf("button must be one of revert, dither_period, dither_angle")
	}
	hold := time.Duration(req.HoldMs) * time.Millisecond
	if hold <= 0 || hold > maxHold {
		return fmt.Errorf("hold_ms must be between 1 and %d", maxHold.Milliseconds())
	}
	return nil
}

// HandlePress handles POST /press to operate a bench button.
func (h *Handlers) HandlePress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPressBody)
	var req PressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidatePress(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hold := time.Duration(req.HoldMs) * time.Millisecond

	if h.Press == nil {
		http.Error(w, "buttons not available", http.StatusServiceUnavailable)
		return
	}

	h.pressMu.Lock()
	if h.pressing {
		h.pressMu.Unlock()
		http.Error(w, "a button is already held", http.StatusConflict)
		return
	}
	h.pressing = true
	h.pressMu.Unlock()

	go func() {
		defer func() {
			h.pressMu.Lock()
			h.pressing = false
			h.pressMu.Unlock()
		}()
		if err := h.Press(h.ctx, req.Button, hold); err != nil {
			h.Broadcaster.Log("error", "press "+req.Button+": "+err.Error())
			debug.Error(err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "pressed"})
}

// HandleAbort handles POST /abort to interrupt a dither move in progress.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Abort == nil {
		http.Error(w, "abort not available", http.StatusServiceUnavailable)
		return
	}
	status := "idle"
	if h.Abort() {
		status = "aborted"
		h.Broadcaster.Log("info", "dither move aborted")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
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

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

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

// HandleStatusWS handles GET /status/ws: every status refresh is pushed as a
// JSON text frame. Log lines are not forwarded.
func (h *Handlers) HandleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Reader: only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if s, ok := h.Broadcaster.Latest(); ok {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(s); err != nil {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg), &evt); err != nil || evt.Kind != KindStatus {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt.Status); err != nil {
				debug.Verbose("websocket write: %v", err)
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			return
		}
	}
}
