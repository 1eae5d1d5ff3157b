package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEvent is one log line pushed to SSE clients.
type LogEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// Broadcaster distributes log lines to multiple SSE clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a
// cleanup function. The caller must call the returned cleanup when done
// (e.g. on client disconnect).
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *Broadcaster) Broadcast(level, msg string) {
	evt := LogEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}
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

// BroadcastMsg is a convenience for level "info".
func (b *Broadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastWriter wraps the broadcaster as an io.Writer so the debug
// logger's output can be mirrored to SSE clients. Each line's event
// level is recovered from the logger's own tag.
func BroadcastWriter(b *Broadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *Broadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Broadcast(levelOf(msg), msg)
	}
	return len(p), nil
}

// levelOf maps the debug logger's line tags onto SSE event levels, so a
// dashboard can style safety trips and errors apart from chatter.
func levelOf(msg string) string {
	switch {
	case strings.Contains(msg, "[ERROR]"):
		return "error"
	case strings.Contains(msg, "[SAFETY]"):
		return "safety"
	case strings.Contains(msg, "[TRACK]"), strings.Contains(msg, "[CMD]"),
		strings.Contains(msg, "[SERVO]"), strings.Contains(msg, "[LIVE]"):
		return "live"
	case strings.Contains(msg, "[TRACE]"), strings.Contains(msg, "[GPIO]"):
		return "trace"
	default:
		return "info"
	}
}
