package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/template"
)

// Phase is the controller's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseComplete
)

// String returns the lowercase phase name used in logs and the status API.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Timer defaults. Starting is a transient UI-visible state that clears after
// the grace delay regardless of downstream readiness; the suppression window
// keeps auto-advance from firing against stale completion state right after
// a manual section change.
const (
	DefaultStartingGrace     = 700 * time.Millisecond
	DefaultSuppressionWindow = 100 * time.Millisecond
	DefaultTickInterval      = time.Second
)

// Validation errors surfaced by Start.
var (
	ErrBlankTemplateID = errors.New("template id cannot be blank")
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoSession       = errors.New("no active session")
)

// Session is the single live meeting session. Exactly one may exist at a
// time; Stop destroys it.
type Session struct {
	TemplateID          string        `json:"template_id"`
	StartTime           time.Time     `json:"start_time"`
	CurrentSectionIndex int           `json:"current_section_index"`
	Elapsed             time.Duration `json:"elapsed"`
	IsRunning           bool          `json:"is_running"`
	IsComplete          bool          `json:"is_complete"`
}

// Snapshot is the value copy handed to change listeners. No mutable state
// crosses the callback boundary.
type Snapshot struct {
	Phase        Phase   `json:"-"`
	PhaseName    string  `json:"phase"`
	HasSession   bool    `json:"has_session"`
	Session      Session `json:"session"`
	SectionCount int     `json:"section_count"`
}

// WindowCommander receives fire-and-forget window-state commands for the
// host window manager.
type WindowCommander interface {
	MinimizeAndPosition()
	Restore()
	ResetSize()
}

// Navigator receives the navigation-away command after session teardown.
type Navigator interface {
	NavigateAway()
}

// Transport starts and stops the transcription stream. StopStream must be
// callable at any time; its errors are logged by the controller, never
// escalated.
type Transport interface {
	StartStream(ctx context.Context) error
	StopStream() error
}

// SectionCompleteFunc decides whether a section's checklist is satisfied.
type SectionCompleteFunc func(sec template.Section) bool

// Config contains session controller configuration.
type Config struct {
	StartingGrace     time.Duration
	SuppressionWindow time.Duration
	TickInterval      time.Duration
	AutoAdvance       bool
}

// Hooks bundles the controller's external collaborators. Nil fields fall
// back to no-op implementations.
type Hooks struct {
	Windows   WindowCommander
	Navigator Navigator
	Transport Transport
}

// ControllerStats represents controller statistics.
type ControllerStats struct {
	SessionsStarted   uint64 `json:"sessions_started"`
	SessionsStopped   uint64 `json:"sessions_stopped"`
	SessionsCompleted uint64 `json:"sessions_completed"`
	AutoAdvances      uint64 `json:"auto_advances"`
	ManualNavigations uint64 `json:"manual_navigations"`
}

// Controller owns the meeting lifecycle state machine:
// Idle -> Starting -> Running{active|paused} -> Complete -> Idle.
// Every operation is serialized through one mutex; timers re-enter through
// the same lock, so orchestration is a single cooperative context.
type Controller struct {
	config Config
	logger *slog.Logger

	windows   WindowCommander
	navigator Navigator
	transport Transport
	complete  SectionCompleteFunc
	events    *EventLog
	onChange  func(Snapshot)

	mu           sync.Mutex
	phase        Phase
	session      *Session
	tpl          *template.Template
	sectionStart time.Time
	advanced     map[int]bool
	suppressed   bool

	graceTimer    *time.Timer
	suppressTimer *time.Timer
	ticker        *time.Ticker
	tickerDone    chan struct{}

	stats ControllerStats
}

// NewController creates a session controller.
func NewController(config Config, logger *slog.Logger, hooks Hooks) *Controller {
	if config.StartingGrace <= 0 {
		config.StartingGrace = DefaultStartingGrace
	}
	if config.SuppressionWindow <= 0 {
		config.SuppressionWindow = DefaultSuppressionWindow
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	c := &Controller{
		config:    config,
		logger:    logger,
		windows:   hooks.Windows,
		navigator: hooks.Navigator,
		transport: hooks.Transport,
		phase:     PhaseIdle,
		complete:  func(sec template.Section) bool { return sec.Complete() },
	}

	if c.windows == nil {
		c.windows = nopWindows{}
	}
	if c.navigator == nil {
		c.navigator = nopNavigator{}
	}
	if c.transport == nil {
		c.transport = nopTransport{}
	}

	return c
}

// SetOnChange registers the change listener. Snapshots are delivered outside
// the controller lock.
func (c *Controller) SetOnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// SetSectionComplete overrides the checklist-satisfaction predicate.
func (c *Controller) SetSectionComplete(fn SectionCompleteFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.complete = fn
	c.mu.Unlock()
}

// SetEventLog attaches the engine event log.
func (c *Controller) SetEventLog(log *EventLog) {
	c.mu.Lock()
	c.events = log
	c.mu.Unlock()
}

// Start creates the single live session from a validated template, commands
// the host window into meeting position, and asks the transport to begin
// streaming. A blank template id is a validation error with no state change.
func (c *Controller) Start(tpl *template.Template) error {
	if tpl == nil || strings.TrimSpace(tpl.ID) == "" {
		return ErrBlankTemplateID
	}
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}

	now := time.Now()
	c.tpl = tpl
	c.session = &Session{
		TemplateID: tpl.ID,
		StartTime:  now,
		IsRunning:  true,
	}
	c.phase = PhaseStarting
	c.sectionStart = now
	c.advanced = make(map[int]bool)
	c.suppressed = false
	c.stats.SessionsStarted++

	// Starting clears on its own timer no matter how long stream setup takes.
	c.graceTimer = time.AfterFunc(c.config.StartingGrace, c.clearStarting)
	c.startTickerLocked()

	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Session started",
		slog.String("template_id", tpl.ID),
		slog.Int("sections", tpl.SectionCount()),
	)
	c.appendEvent("session", fmt.Sprintf("session started for template %s", tpl.ID))

	c.windows.MinimizeAndPosition()

	go func() {
		if err := c.transport.StartStream(context.Background()); err != nil {
			c.logger.Error("Failed to start transcription stream", slog.String("error", err.Error()))
		}
	}()

	c.notify(snapshot)
	return nil
}

// Stop destroys the session. The session is cleared first so no in-flight
// auto-advance can re-trigger, then teardown proceeds best-effort: stream
// stop errors are logged and window restoration plus navigation-away always
// happen.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}

	templateID := c.session.TemplateID
	c.session = nil
	c.tpl = nil
	c.phase = PhaseIdle
	c.advanced = nil
	c.suppressed = false
	c.stats.SessionsStopped++
	c.stopTimersLocked()

	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.transport.StopStream(); err != nil {
		c.logger.Warn("Error stopping transcription stream", slog.String("error", err.Error()))
	}

	c.windows.Restore()
	c.windows.ResetSize()
	c.navigator.NavigateAway()

	c.logger.Info("Session stopped", slog.String("template_id", templateID))
	c.appendEvent("session", "session stopped")
	c.notify(snapshot)
}

// Pause suspends the elapsed clock and auto-advance without losing position.
func (c *Controller) Pause() {
	c.setRunning(false)
}

// Resume continues a paused session. Completed sessions stay paused.
func (c *Controller) Resume() {
	c.setRunning(true)
}

func (c *Controller) setRunning(running bool) {
	c.mu.Lock()
	if c.session == nil || c.session.IsRunning == running || (running && c.session.IsComplete) {
		c.mu.Unlock()
		return
	}

	c.session.IsRunning = running
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// NextSection moves forward one section, clamped to the last.
func (c *Controller) NextSection() {
	c.navigate(1)
}

// PreviousSection moves back one section, clamped to the first.
func (c *Controller) PreviousSection() {
	c.navigate(-1)
}

// navigate applies a manual section move. A move clamped back to the current
// index is not observable as a change event. Real moves arm the suppression
// window: manual navigation always wins over a concurrent natural-completion
// signal, and evaluations skipped inside the window are not replayed.
func (c *Controller) navigate(delta int) {
	c.mu.Lock()
	if c.session == nil || c.tpl == nil || c.tpl.SectionCount() == 0 {
		c.mu.Unlock()
		return
	}

	idx := c.session.CurrentSectionIndex + delta
	if idx < 0 {
		idx = 0
	}
	if max := c.tpl.SectionCount() - 1; idx > max {
		idx = max
	}

	if idx == c.session.CurrentSectionIndex {
		c.mu.Unlock()
		return
	}

	c.session.CurrentSectionIndex = idx
	c.sectionStart = time.Now()
	c.stats.ManualNavigations++
	c.armSuppressionLocked()

	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// UpdateElapsed sets the elapsed time. The caller is responsible for
// monotonic ticking; the controller's own ticker uses this path too.
func (c *Controller) UpdateElapsed(elapsed time.Duration) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}

	c.session.Elapsed = elapsed
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// MarkItem sets a checklist item's completion and re-runs the auto-advance
// evaluation.
func (c *Controller) MarkItem(sectionIndex int, itemID string, completed bool) error {
	c.mu.Lock()
	if c.session == nil || c.tpl == nil {
		c.mu.Unlock()
		return ErrNoSession
	}

	if sectionIndex < 0 || sectionIndex >= c.tpl.SectionCount() {
		c.mu.Unlock()
		return fmt.Errorf("section index %d out of range", sectionIndex)
	}

	item := c.tpl.Content.Sections[sectionIndex].Item(itemID)
	if item == nil {
		c.mu.Unlock()
		return fmt.Errorf("no checklist item %q in section %d", itemID, sectionIndex)
	}

	item.Completed = completed
	c.evaluateLocked()

	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

// Reevaluate re-runs the auto-advance evaluation. Classification results and
// transcript-driven checklist mutations funnel through here.
func (c *Controller) Reevaluate() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}

	before := *c.session
	c.evaluateLocked()
	changed := *c.session != before
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.notify(snapshot)
	}
}

// evaluateLocked runs the section-completion predicate against the current
// section and advances at most once per section index. Completing the last
// section marks the session complete and forces a pause.
func (c *Controller) evaluateLocked() {
	if !c.config.AutoAdvance || c.session == nil || c.tpl == nil {
		return
	}
	if c.phase != PhaseRunning || !c.session.IsRunning || c.suppressed {
		return
	}

	idx := c.session.CurrentSectionIndex
	if idx >= c.tpl.SectionCount() || c.advanced[idx] {
		return
	}
	if !c.complete(c.tpl.Content.Sections[idx]) {
		return
	}

	c.advanced[idx] = true

	if idx < c.tpl.SectionCount()-1 {
		c.session.CurrentSectionIndex = idx + 1
		c.sectionStart = time.Now()
		c.stats.AutoAdvances++

		c.logger.Info("Section auto-advanced",
			slog.Int("from", idx),
			slog.Int("to", idx+1),
		)
		c.appendEventLocked("session", fmt.Sprintf("auto-advanced to section %d", idx+1))
		return
	}

	c.session.IsComplete = true
	c.session.IsRunning = false
	c.phase = PhaseComplete
	c.stats.SessionsCompleted++

	c.logger.Info("Session complete", slog.String("template_id", c.session.TemplateID))
	c.appendEventLocked("session", "session complete")
}

// armSuppressionLocked (re)starts the cancelable single-shot suppression
// timer.
func (c *Controller) armSuppressionLocked() {
	c.suppressed = true
	if c.suppressTimer != nil {
		c.suppressTimer.Stop()
	}
	c.suppressTimer = time.AfterFunc(c.config.SuppressionWindow, func() {
		c.mu.Lock()
		c.suppressed = false
		c.mu.Unlock()
	})
}

// clearStarting moves Starting to Running once the grace delay expires.
func (c *Controller) clearStarting() {
	c.mu.Lock()
	if c.phase != PhaseStarting || c.session == nil {
		c.mu.Unlock()
		return
	}

	c.phase = PhaseRunning
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// startTickerLocked runs the elapsed-time clock for the session's lifetime.
func (c *Controller) startTickerLocked() {
	ticker := time.NewTicker(c.config.TickInterval)
	done := make(chan struct{})
	c.ticker = ticker
	c.tickerDone = done

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

// tick advances the elapsed clock and re-evaluates auto-advance.
func (c *Controller) tick() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}

	if c.session.IsRunning {
		c.session.Elapsed += c.config.TickInterval
	}
	c.evaluateLocked()

	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// stopTimersLocked cancels every timer so nothing fires against a torn-down
// session.
func (c *Controller) stopTimersLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.suppressTimer != nil {
		c.suppressTimer.Stop()
		c.suppressTimer = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.tickerDone != nil {
		close(c.tickerDone)
		c.tickerDone = nil
	}
}

// Active reports whether a session currently exists.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Session returns a copy of the live session, if any.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Snapshot returns the current snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// GetStats returns current controller statistics.
func (c *Controller) GetStats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Controller) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Phase:     c.phase,
		PhaseName: c.phase.String(),
	}

	if c.session != nil {
		snapshot.HasSession = true
		snapshot.Session = *c.session
	}
	if c.tpl != nil {
		snapshot.SectionCount = c.tpl.SectionCount()
	}

	return snapshot
}

func (c *Controller) notify(snapshot Snapshot) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (c *Controller) appendEvent(kind, text string) {
	c.mu.Lock()
	log := c.events
	c.mu.Unlock()

	if log != nil {
		log.Append(Event{Kind: kind, Text: text, Timestamp: time.Now()})
	}
}

func (c *Controller) appendEventLocked(kind, text string) {
	if c.events != nil {
		c.events.Append(Event{Kind: kind, Text: text, Timestamp: time.Now()})
	}
}

type nopWindows struct{}

func (nopWindows) MinimizeAndPosition() {}
func (nopWindows) Restore()             {}
func (nopWindows) ResetSize()           {}

type nopNavigator struct{}

func (nopNavigator) NavigateAway() {}

type nopTransport struct{}

func (nopTransport) StartStream(context.Context) error { return nil }
func (nopTransport) StopStream() error                 { return nil }
