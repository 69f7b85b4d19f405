package stream

import (
	"log/slog"
	"sync"
)

// Status represents transcription-stream health.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusReconnecting
	StatusFailed
)

// String returns the lowercase status name used in logs and the status API.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultMaxReconnectAttempts bounds reconnection before the stream is
// declared failed.
const DefaultMaxReconnectAttempts = 5

// State is a snapshot of the supervisor's state machine.
type State struct {
	Status               Status `json:"-"`
	StatusName           string `json:"status"`
	ReconnectAttempt     int    `json:"reconnect_attempt"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
}

// Supervisor tracks transcription-stream health. Transitions:
// pending -> active, active -> reconnecting on loss, reconnecting -> active
// on success (attempt counter resets to zero), reconnecting -> failed once
// the attempt bound is exhausted. Failed is terminal until Reset. Retry
// backoff timing is the transport's concern; the supervisor only renders
// state and counts attempts.
type Supervisor struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
	logger   *slog.Logger
}

// NewSupervisor creates a supervisor with the given attempt bound.
func NewSupervisor(maxAttempts int, logger *slog.Logger) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}

	return &Supervisor{
		state: State{
			Status:               StatusPending,
			StatusName:           StatusPending.String(),
			MaxReconnectAttempts: maxAttempts,
		},
		logger: logger,
	}
}

// SetOnChange registers a callback invoked with a state snapshot after every
// transition. The callback runs outside the supervisor lock.
func (s *Supervisor) SetOnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// State returns a snapshot of the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected records a successful (re-)establishment of the stream. The
// attempt counter resets to zero.
func (s *Supervisor) Connected() {
	s.mu.Lock()
	if s.state.Status == StatusFailed {
		// A terminal supervisor stays terminal until Reset.
		s.mu.Unlock()
		return
	}

	s.state.Status = StatusActive
	s.state.StatusName = StatusActive.String()
	s.state.ReconnectAttempt = 0
	snapshot := s.state
	fn := s.onChange
	s.mu.Unlock()

	s.logger.Info("Transcription stream active")
	if fn != nil {
		fn(snapshot)
	}
}

// Disconnected records a stream loss or a failed connection attempt. It
// increments the attempt counter before the next retry is issued and returns
// whether the transport should retry. Exhausting the bound transitions to
// the terminal failed state and returns false.
func (s *Supervisor) Disconnected() bool {
	s.mu.Lock()
	if s.state.Status == StatusFailed {
		s.mu.Unlock()
		return false
	}

	if s.state.ReconnectAttempt >= s.state.MaxReconnectAttempts {
		s.state.Status = StatusFailed
		s.state.StatusName = StatusFailed.String()
		snapshot := s.state
		fn := s.onChange
		s.mu.Unlock()

		s.logger.Error("Transcription stream failed",
			slog.Int("attempts", snapshot.ReconnectAttempt),
			slog.Int("max_attempts", snapshot.MaxReconnectAttempts),
		)
		if fn != nil {
			fn(snapshot)
		}
		return false
	}

	s.state.Status = StatusReconnecting
	s.state.StatusName = StatusReconnecting.String()
	s.state.ReconnectAttempt++
	snapshot := s.state
	fn := s.onChange
	s.mu.Unlock()

	s.logger.Warn("Transcription stream lost, reconnecting",
		slog.Int("attempt", snapshot.ReconnectAttempt),
		slog.Int("max_attempts", snapshot.MaxReconnectAttempts),
	)
	if fn != nil {
		fn(snapshot)
	}
	return true
}

// Reset is the explicit manual-retry path out of the terminal failed state.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.state.Status = StatusPending
	s.state.StatusName = StatusPending.String()
	s.state.ReconnectAttempt = 0
	snapshot := s.state
	fn := s.onChange
	s.mu.Unlock()

	s.logger.Info("Transcription stream supervisor reset")
	if fn != nil {
		fn(snapshot)
	}
}
