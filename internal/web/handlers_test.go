package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testStatus() map[string]interface{} {
	return map[string]interface{}{
		"frame_count": 42,
		"has_target":  true,
		"laser_on":    false,
	}
}

func TestHandleStatus(t *testing.T) {
	h := NewHandlers(NewBroadcaster(), testStatus)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var snap map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap["frame_count"] != float64(42) {
		t.Errorf("frame_count = %v, want 42", snap["frame_count"])
	}
	if snap["has_target"] != true {
		t.Errorf("has_target = %v, want true", snap["has_target"])
	}
}

func TestHandleStatus_NilStatusFunc(t *testing.T) {
	h := NewHandlers(NewBroadcaster(), nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStatusStream_DeliversBroadcast(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(NewServer("", b, testStatus).Mux())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// First line is the connection comment.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, ": connected") {
		t.Errorf("first line = %q, want connection comment", line)
	}

	// Broadcast once the client is subscribed; a short retry loop covers
	// the window between the HTTP accept and the Subscribe call.
	go func() {
		for i := 0; i < 50; i++ {
			b.Broadcast("info", "laser on")
			time.Sleep(10 * time.Millisecond)
		}
	}()

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}

	var evt LogEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.Msg != "laser on" {
		t.Errorf("msg = %q, want \"laser on\"", evt.Msg)
	}
}

func TestServerMux_Routes(t *testing.T) {
	srv := httptest.NewServer(NewServer("", NewBroadcaster(), testStatus).Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestServerRun_StopsOnContextCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewBroadcaster(), testStatus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
