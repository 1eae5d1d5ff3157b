package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/c0d9nqa3/autoredL/internal/debug"
)

const (
	outboundQueueSize = 64
	joinTimeout       = 1 * time.Second
)

// Handler processes one parsed command and returns a value for the
// RESULT message. The only conventional key in params is "args": the
// rest of a plain-text command line, or whatever the JSON sender put
// there.
type Handler func(params map[string]string) interface{}

// Channel is a duplex newline-delimited byte-stream session: a reader
// goroutine parses incoming lines into commands and dispatches them
// against the registered table, a writer goroutine drains the outbound
// queue. It is best-effort diagnostics, never a control-critical path:
// unknown or malformed input is dropped, a full outbound queue drops the
// newest message rather than blocking the caller.
type Channel struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	status    map[string]interface{}
	stream    io.ReadWriteCloser
	connected bool

	out        chan []byte
	stop       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
}

// NewChannel creates a disconnected channel. Register handlers, then
// Connect.
func NewChannel() *Channel {
	return &Channel{
		handlers: make(map[string]Handler),
		status:   make(map[string]interface{}),
	}
}

// Register adds a command handler. Command names are matched upper-case.
// Must be called before Connect.
func (c *Channel) Register(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[strings.ToUpper(name)] = h
}

// Connect attaches the byte stream and starts the reader and writer
// goroutines.
func (c *Channel) Connect(stream io.ReadWriteCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("telemetry channel already connected")
	}

	c.stream = stream
	c.out = make(chan []byte, outboundQueueSize)
	c.stop = make(chan struct{})
	c.readerDone = make(chan struct{})
	c.writerDone = make(chan struct{})
	c.connected = true

	go c.readLoop()
	go c.writeLoop()

	debug.Info("Telemetry channel connected")
	return nil
}

// IsConnected reports whether the channel is live.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect stops both goroutines, joins them with a bounded timeout
// and closes the stream. Safe to call on a never-connected channel.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	stream := c.stream
	stop := c.stop
	readerDone, writerDone := c.readerDone, c.writerDone
	c.mu.Unlock()

	close(stop)
	// Closing the stream unblocks the reader.
	if err := stream.Close(); err != nil {
		debug.Error(fmt.Errorf("close telemetry stream: %w", err))
	}

	for _, done := range []chan struct{}{readerDone, writerDone} {
		select {
		case <-done:
		case <-time.After(joinTimeout):
			debug.Error(fmt.Errorf("telemetry task did not stop within %v", joinTimeout))
		}
	}
	debug.Info("Telemetry channel disconnected")
}

// SendMessage enqueues a typed message without blocking the caller.
// Dropped silently when disconnected or when the queue is full.
func (c *Channel) SendMessage(msgType MessageType, data interface{}) {
	c.mu.Lock()
	connected, out := c.connected, c.out
	c.mu.Unlock()
	if !connected {
		return
	}

	b, err := NewMessage(msgType, data).Encode()
	if err != nil {
		debug.Error(fmt.Errorf("encode telemetry message: %w", err))
		return
	}

	select {
	case out <- b:
	default:
		debug.Trace("telemetry queue full, dropping %s message", msgType)
	}
}

// SendStatus merges the fields into the running status map and sends the
// merged snapshot as a STATUS message.
func (c *Channel) SendStatus(fields map[string]interface{}) {
	c.mu.Lock()
	for k, v := range fields {
		c.status[k] = v
	}
	merged := make(map[string]interface{}, len(c.status))
	for k, v := range c.status {
		merged[k] = v
	}
	c.mu.Unlock()

	c.SendMessage(TypeStatus, merged)
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)

	scanner := bufio.NewScanner(c.stream)
	for scanner.Scan() {
		select {
		case <-c.stop:
			return
		default:
		}
		c.dispatch(strings.TrimSpace(scanner.Text()))
	}
	// Stream closed or errored; malformed input never reaches here as a
	// failure, so any scanner error is a transport-level event.
	if err := scanner.Err(); err != nil {
		debug.Trace("telemetry reader stopped: %v", err)
	}
}

func (c *Channel) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case <-c.stop:
			return
		case b := <-c.out:
			if _, err := c.stream.Write(b); err != nil {
				debug.Error(fmt.Errorf("telemetry write: %w", err))
			}
		}
	}
}

// dispatch parses one inbound line and invokes the matching handler.
// Lines are either a JSON object {"command": ..., "params": {...}} or
// plain text "<COMMAND> <rest-of-line>". Unknown commands and malformed
// lines are dropped without any response on the wire.
func (c *Channel) dispatch(line string) {
	if line == "" {
		return
	}

	var name string
	var params map[string]string

	if strings.HasPrefix(line, "{") {
		var in inboundCommand
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			debug.Trace("dropping malformed command line: %v", err)
			return
		}
		name = strings.ToUpper(in.Command)
		params = in.Params
	} else {
		head, rest, _ := strings.Cut(line, " ")
		name = strings.ToUpper(head)
		params = map[string]string{"args": rest}
	}
	if params == nil {
		params = map[string]string{}
	}

	c.mu.Lock()
	h, ok := c.handlers[name]
	c.mu.Unlock()
	if !ok {
		debug.Trace("dropping unknown command %q", name)
		return
	}

	debug.Command(name, params["args"])
	result := h(params)
	c.SendMessage(TypeResult, map[string]interface{}{
		"command": name,
		"result":  result,
	})
}
