package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/audio"
)

// Transcript event types as tagged by the backend.
const (
	EventInterim = "interim"
	EventFinal   = "final"
)

// TranscriptEvent is one inbound transcript segment.
type TranscriptEvent struct {
	Type       string    `json:"type"` // "interim" or "final"
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	ReceivedAt time.Time `json:"-"`
}

// IsFinal reports whether the segment is a final transcript.
func (e *TranscriptEvent) IsFinal() bool {
	return e.Type == EventFinal
}

// ClientConfig contains transcript stream client configuration.
type ClientConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	EventBuffer      int
}

// ClientStats represents stream client statistics.
type ClientStats struct {
	FramesSent     uint64 `json:"frames_sent"`
	EventsReceived uint64 `json:"events_received"`
	EventsDropped  uint64 `json:"events_dropped"`
}

// Client ships encoded audio frames to the transcription backend over a
// websocket and decodes inbound transcript events. Reconnection is driven
// here with capped exponential backoff; the Supervisor decides whether a
// retry may be issued at all.
type Client struct {
	config     ClientConfig
	logger     *slog.Logger
	supervisor *Supervisor

	events chan TranscriptEvent

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
	done    chan struct{}

	framesSent     atomic.Uint64
	eventsReceived atomic.Uint64
	eventsDropped  atomic.Uint64
}

// NewClient creates a transcript stream client.
func NewClient(config ClientConfig, logger *slog.Logger, supervisor *Supervisor) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("stream URL cannot be empty")
	}

	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = 250 * time.Millisecond
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 5 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	return &Client{
		config:     config,
		logger:     logger,
		supervisor: supervisor,
		events:     make(chan TranscriptEvent, config.EventBuffer),
	}, nil
}

// Events returns the channel carrying decoded transcript events.
func (c *Client) Events() <-chan TranscriptEvent {
	return c.events
}

// Start launches the connection loop consuming frames from the capture
// worker. Frames are consumed exactly once; the client owns them after
// receipt.
func (c *Client) Start(ctx context.Context, frames <-chan *audio.Frame) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("stream client already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()
		c.run(runCtx, frames)
	}()

	return nil
}

// Stop tears the stream down. It is callable at any time, idempotent, and
// never panics; teardown problems are logged, not escalated.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("Error closing stream connection", slog.String("error", err.Error()))
		}
	}
	if done != nil {
		<-done
	}
}

// run is the dial/pump/backoff loop. It exits when the context is cancelled
// or the supervisor declares the stream failed.
func (c *Client) run(ctx context.Context, frames <-chan *audio.Frame) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	backoff := c.config.BackoffMin

	for {
		conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			c.logger.Warn("Transcription stream dial failed",
				slog.String("url", c.config.URL),
				slog.String("error", err.Error()),
			)

			if !c.supervisor.Disconnected() {
				return
			}
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.config.BackoffMax)
			continue
		}

		c.setConn(conn)
		c.supervisor.Connected()
		backoff = c.config.BackoffMin

		err = c.pump(ctx, conn, frames)
		c.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("Transcription stream closed", slog.String("error", err.Error()))

		if !c.supervisor.Disconnected() {
			return
		}
		if !c.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.config.BackoffMax)
	}
}

// pump runs the frame writer and event reader until the connection drops.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn, frames <-chan *audio.Frame) error {
	pumpDone := make(chan struct{})
	defer close(pumpDone)

	writeErr := make(chan error, 1)

	go func() {
		for {
			select {
			case <-pumpDone:
				return
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame.PCM); err != nil {
					conn.Close()
					writeErr <- err
					return
				}
				c.framesSent.Add(1)
			}
		}
	}()

	// Unblock the reader when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-pumpDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case werr := <-writeErr:
				return werr
			default:
			}
			return err
		}

		var event TranscriptEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("Failed to decode transcript event", slog.String("error", err.Error()))
			continue
		}

		event.ReceivedAt = time.Now()
		c.eventsReceived.Add(1)

		select {
		case c.events <- event:
		default:
			c.eventsDropped.Add(1)
		}
	}
}

// sleep waits for the backoff interval, returning false if the context ended.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	return ClientStats{
		FramesSent:     c.framesSent.Load(),
		EventsReceived: c.eventsReceived.Load(),
		EventsDropped:  c.eventsDropped.Load(),
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
