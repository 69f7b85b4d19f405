package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/audio"
)

var testUpgrader = websocket.Upgrader{}

// newStreamBackend runs a fake transcription backend that echoes one interim
// and one final transcript event for every binary frame it receives.
func newStreamBackend(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage || len(data) == 0 {
				continue
			}

			conn.WriteJSON(TranscriptEvent{Type: EventInterim, Text: "hello", Confidence: 0.4})
			conn.WriteJSON(TranscriptEvent{Type: EventFinal, Text: "hello world", Confidence: 0.92})
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientStreamsFramesAndDecodesEvents(t *testing.T) {
	server := newStreamBackend(t)
	defer server.Close()

	sup := NewSupervisor(5, testLogger())
	client, err := NewClient(ClientConfig{URL: wsURL(server)}, testLogger(), sup)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	frames := make(chan *audio.Frame, 1)
	if err := client.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	// Wait until the supervisor reports the stream active.
	deadline := time.Now().Add(3 * time.Second)
	for sup.State().Status != StatusActive {
		if time.Now().After(deadline) {
			t.Fatalf("stream never became active, status %s", sup.State().Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames <- &audio.Frame{PCM: make([]byte, audio.DefaultFrameSamples*2), Samples: audio.DefaultFrameSamples, Seq: 1}

	var got []TranscriptEvent
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case event := <-client.Events():
			got = append(got, event)
		case <-timeout:
			t.Fatalf("timed out waiting for transcript events, have %d", len(got))
		}
	}

	if got[0].Type != EventInterim || got[0].Text != "hello" {
		t.Errorf("unexpected interim event: %+v", got[0])
	}
	if !got[1].IsFinal() || got[1].Text != "hello world" {
		t.Errorf("unexpected final event: %+v", got[1])
	}
	if got[1].Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %f", got[1].Confidence)
	}
	if got[0].ReceivedAt.IsZero() {
		t.Error("event must carry a receive timestamp")
	}

	stats := client.GetStats()
	if stats.FramesSent != 1 {
		t.Errorf("expected 1 frame sent, got %d", stats.FramesSent)
	}
	if stats.EventsReceived != 2 {
		t.Errorf("expected 2 events received, got %d", stats.EventsReceived)
	}
}

func TestClientStopIsIdempotent(t *testing.T) {
	server := newStreamBackend(t)
	defer server.Close()

	sup := NewSupervisor(5, testLogger())
	client, err := NewClient(ClientConfig{URL: wsURL(server)}, testLogger(), sup)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	// Stop before start must be a no-op, never a panic.
	client.Stop()

	frames := make(chan *audio.Frame)
	if err := client.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client.Stop()
	client.Stop()
}

func TestClientFailsAfterBoundedRetries(t *testing.T) {
	sup := NewSupervisor(2, testLogger())
	client, err := NewClient(ClientConfig{
		URL:        "ws://127.0.0.1:1", // nothing listens here
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	}, testLogger(), sup)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	frames := make(chan *audio.Frame)
	if err := client.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for sup.State().Status != StatusFailed {
		if time.Now().After(deadline) {
			t.Fatalf("supervisor never reached failed, status %s", sup.State().Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	state := sup.State()
	if state.ReconnectAttempt > state.MaxReconnectAttempts {
		t.Errorf("attempt counter %d exceeded bound %d", state.ReconnectAttempt, state.MaxReconnectAttempts)
	}
}

func TestClientRequiresURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}, testLogger(), NewSupervisor(5, testLogger())); err == nil {
		t.Error("expected error for empty stream URL")
	}
}
