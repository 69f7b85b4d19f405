package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/template"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTemplate() *template.Template {
	return &template.Template{
		ID:   "tpl-1",
		Name: "Discovery Call",
		Content: template.Content{
			TotalDurationMinutes: 30,
			Sections: []template.Section{
				{
					Title:           "Introduction",
					DurationMinutes: 5,
					Items: []template.ChecklistItem{
						{ID: "greet", Text: "Greet the customer"},
						{ID: "agenda", Text: "Confirm the agenda"},
					},
				},
				{
					Title:           "Needs Analysis",
					DurationMinutes: 25,
					Items: []template.ChecklistItem{
						{ID: "pain", Text: "Identify the main pain point"},
					},
				},
			},
		},
	}
}

func testConfig() Config {
	return Config{
		StartingGrace:     5 * time.Millisecond,
		SuppressionWindow: 40 * time.Millisecond,
		TickInterval:      time.Hour,
		AutoAdvance:       true,
	}
}

// fakeHost records the window, navigation and transport commands the
// controller issues.
type fakeHost struct {
	mu      sync.Mutex
	calls   []string
	stopErr error
}

func (h *fakeHost) record(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *fakeHost) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *fakeHost) MinimizeAndPosition() { h.record("minimize_and_position") }
func (h *fakeHost) Restore()             { h.record("restore") }
func (h *fakeHost) ResetSize()           { h.record("reset_size") }
func (h *fakeHost) NavigateAway()        { h.record("navigate_away") }

func (h *fakeHost) StartStream(context.Context) error {
	h.record("start_stream")
	return nil
}

func (h *fakeHost) StopStream() error {
	h.record("stop_stream")
	return h.stopErr
}

func (h *fakeHost) hooks() Hooks {
	return Hooks{Windows: h, Navigator: h, Transport: h}
}

func waitForPhase(t *testing.T, controller *Controller, phase Phase) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if controller.Snapshot().Phase == phase {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("controller never reached phase %s, stuck in %s", phase, controller.Snapshot().Phase)
}

func TestStartValidation(t *testing.T) {
	controller := NewController(testConfig(), testLogger(), Hooks{})

	if err := controller.Start(nil); !errors.Is(err, ErrBlankTemplateID) {
		t.Errorf("nil template: expected ErrBlankTemplateID, got %v", err)
	}
	if err := controller.Start(&template.Template{ID: "   "}); !errors.Is(err, ErrBlankTemplateID) {
		t.Errorf("blank id: expected ErrBlankTemplateID, got %v", err)
	}
	if controller.Active() {
		t.Error("rejected start must not create a session")
	}

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("valid start failed: %v", err)
	}
	defer controller.Stop()

	if err := controller.Start(testTemplate()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second start: expected ErrSessionActive, got %v", err)
	}
}

func TestStartingGraceClears(t *testing.T) {
	controller := NewController(testConfig(), testLogger(), Hooks{})
	defer controller.Stop()

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := controller.Snapshot().Phase; got != PhaseStarting {
		t.Errorf("expected starting phase right after start, got %s", got)
	}

	waitForPhase(t, controller, PhaseRunning)
}

func TestChecklistCompletionDrivesSessionToComplete(t *testing.T) {
	controller := NewController(testConfig(), testLogger(), Hooks{})
	defer controller.Stop()

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	session, _ := controller.Session()
	if session.CurrentSectionIndex != 0 {
		t.Fatalf("expected section index 0 after start, got %d", session.CurrentSectionIndex)
	}

	// First item alone does not satisfy the section.
	if err := controller.MarkItem(0, "greet", true); err != nil {
		t.Fatalf("MarkItem failed: %v", err)
	}
	if session, _ = controller.Session(); session.CurrentSectionIndex != 0 {
		t.Errorf("partial checklist must not advance, index %d", session.CurrentSectionIndex)
	}

	if err := controller.MarkItem(0, "agenda", true); err != nil {
		t.Fatalf("MarkItem failed: %v", err)
	}
	if session, _ = controller.Session(); session.CurrentSectionIndex != 1 {
		t.Errorf("expected auto-advance to section 1, got %d", session.CurrentSectionIndex)
	}

	// Completing the last section finishes the session and forces a pause.
	if err := controller.MarkItem(1, "pain", true); err != nil {
		t.Fatalf("MarkItem failed: %v", err)
	}

	session, ok := controller.Session()
	if !ok {
		t.Fatal("completed session must still exist until stopped")
	}
	if !session.IsComplete {
		t.Error("expected IsComplete after the last section")
	}
	if session.IsRunning {
		t.Error("completion must force a pause")
	}
	if got := controller.Snapshot().Phase; got != PhaseComplete {
		t.Errorf("expected complete phase, got %s", got)
	}

	stats := controller.GetStats()
	if stats.AutoAdvances != 1 {
		t.Errorf("expected 1 auto-advance, got %d", stats.AutoAdvances)
	}
	if stats.SessionsCompleted != 1 {
		t.Errorf("expected 1 completed session, got %d", stats.SessionsCompleted)
	}
}

func TestAutoAdvanceFiresOncePerSection(t *testing.T) {
	config := testConfig()
	config.SuppressionWindow = 10 * time.Millisecond
	controller := NewController(config, testLogger(), Hooks{})
	defer controller.Stop()

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	controller.MarkItem(0, "greet", true)
	controller.MarkItem(0, "agenda", true)
	if session, _ := controller.Session(); session.CurrentSectionIndex != 1 {
		t.Fatalf("expected advance to section 1, got %d", session.CurrentSectionIndex)
	}

	// Navigating back to a still-complete section must not bounce forward
	// again once the suppression window has passed.
	controller.PreviousSection()
	time.Sleep(30 * time.Millisecond)
	controller.Reevaluate()

	if session, _ := controller.Session(); session.CurrentSectionIndex != 0 {
		t.Errorf("expected to stay on manually selected section 0, got %d", session.CurrentSectionIndex)
	}
}

func TestManualNavigationClampsWithoutEvents(t *testing.T) {
	controller := NewController(testConfig(), testLogger(), Hooks{})
	defer controller.Stop()

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	// Previous at the first section clamps in place and is not counted as a
	// navigation.
	controller.PreviousSection()
	if stats := controller.GetStats(); stats.ManualNavigations != 0 {
		t.Errorf("clamped move must not count, got %d navigations", stats.ManualNavigations)
	}

	controller.NextSection()
	controller.NextSection()

	session, _ := controller.Session()
	if session.CurrentSectionIndex != 1 {
		t.Errorf("expected clamp at last section 1, got %d", session.CurrentSectionIndex)
	}
	if stats := controller.GetStats(); stats.ManualNavigations != 1 {
		t.Errorf("expected exactly 1 real navigation, got %d", stats.ManualNavigations)
	}
}

func TestManualNavigationSuppressesAutoAdvance(t *testing.T) {
	config := testConfig()
	config.SuppressionWindow = 100 * time.Millisecond
	controller := NewController(config, testLogger(), Hooks{})
	defer controller.Stop()

	tpl := testTemplate()
	if err := controller.Start(tpl); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	// Satisfy section 1's checklist up front, then navigate into it. The
	// completion signal racing the manual move must lose.
	tpl.Content.Sections[1].Items[0].Completed = true

	controller.NextSection()
	controller.Reevaluate()

	session, _ := controller.Session()
	if session.IsComplete {
		t.Error("auto-advance inside the suppression window must be skipped, not replayed")
	}
	if session.CurrentSectionIndex != 1 {
		t.Errorf("expected manual position 1, got %d", session.CurrentSectionIndex)
	}
}

func TestPauseStopsEvaluationAndClock(t *testing.T) {
	controller := NewController(testConfig(), testLogger(), Hooks{})
	defer controller.Stop()

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	controller.Pause()
	session, _ := controller.Session()
	if session.IsRunning {
		t.Fatal("expected paused session")
	}

	controller.MarkItem(0, "greet", true)
	controller.MarkItem(0, "agenda", true)
	if session, _ = controller.Session(); session.CurrentSectionIndex != 0 {
		t.Errorf("paused session must not auto-advance, index %d", session.CurrentSectionIndex)
	}

	controller.Resume()
	controller.Reevaluate()
	if session, _ = controller.Session(); session.CurrentSectionIndex != 1 {
		t.Errorf("expected advance after resume, got index %d", session.CurrentSectionIndex)
	}
}

func TestStopTearsDownHostState(t *testing.T) {
	host := &fakeHost{stopErr: errors.New("socket already closed")}
	controller := NewController(testConfig(), testLogger(), host.hooks())

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	controller.Stop()

	if controller.Active() {
		t.Error("expected no session after stop")
	}
	if got := controller.Snapshot().Phase; got != PhaseIdle {
		t.Errorf("expected idle phase after stop, got %s", got)
	}

	calls := host.recorded()
	var sawRestore, sawReset, sawNavigate, sawStreamStop bool
	for _, call := range calls {
		switch call {
		case "restore":
			sawRestore = true
		case "reset_size":
			sawReset = true
		case "navigate_away":
			sawNavigate = true
		case "stop_stream":
			sawStreamStop = true
		}
	}
	if !sawStreamStop || !sawRestore || !sawReset || !sawNavigate {
		t.Errorf("teardown must survive a stream-stop error, got calls %v", calls)
	}

	// Stop on an idle controller is a no-op.
	before := len(host.recorded())
	controller.Stop()
	if after := len(host.recorded()); after != before {
		t.Error("second stop must not reissue teardown commands")
	}
}

func TestElapsedClockTicksOnlyWhileRunning(t *testing.T) {
	config := testConfig()
	config.TickInterval = 10 * time.Millisecond
	controller := NewController(config, testLogger(), Hooks{})
	defer controller.Stop()

	if err := controller.Start(testTemplate()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForPhase(t, controller, PhaseRunning)

	time.Sleep(50 * time.Millisecond)
	session, _ := controller.Session()
	if session.Elapsed == 0 {
		t.Fatal("expected elapsed time to accumulate while running")
	}

	controller.Pause()
	paused, _ := controller.Session()
	time.Sleep(40 * time.Millisecond)

	if session, _ = controller.Session(); session.Elapsed != paused.Elapsed {
		t.Errorf("elapsed must freeze while paused: %v then %v", paused.Elapsed, session.Elapsed)
	}
}
