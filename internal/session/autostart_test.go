package session

import (
	"sync"
	"testing"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/template"
)

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	active  bool
	err     error
}

func (s *fakeStarter) Start(tpl *template.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.started = append(s.started, tpl.ID)
	s.active = true
	return nil
}

func (s *fakeStarter) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *fakeNotifier) Notify(message string) {
	n.mu.Lock()
	n.notices = append(n.notices, message)
	n.mu.Unlock()
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func loadedTemplates() []*template.Template {
	return []*template.Template{
		testTemplate(),
		{ID: "tpl-2", Name: "Demo Call", Content: template.Content{Sections: []template.Section{}}},
	}
}

func TestGuardFiresOncePerTemplateID(t *testing.T) {
	starter := &fakeStarter{}
	guard := NewAutoStartGuard(testLogger(), starter, &fakeNotifier{})
	guard.SetTemplates(loadedTemplates())

	if !guard.Observe("tpl-1") {
		t.Fatal("expected first observation to fire")
	}

	// Re-renders with the same id must not start again, even after the
	// session ends.
	starter.active = false
	for i := 0; i < 5; i++ {
		if guard.Observe("tpl-1") {
			t.Fatal("repeated observation fired a second start")
		}
	}

	if len(starter.started) != 1 || starter.started[0] != "tpl-1" {
		t.Errorf("expected exactly one start of tpl-1, got %v", starter.started)
	}
}

func TestGuardRearmsOnIDChange(t *testing.T) {
	starter := &fakeStarter{}
	guard := NewAutoStartGuard(testLogger(), starter, &fakeNotifier{})
	guard.SetTemplates(loadedTemplates())

	guard.Observe("tpl-1")
	starter.active = false

	if !guard.Observe("tpl-2") {
		t.Fatal("expected a new id to re-arm the guard")
	}
	if len(starter.started) != 2 {
		t.Errorf("expected two starts, got %v", starter.started)
	}
}

func TestGuardGatesDoNotConsumeAttempt(t *testing.T) {
	starter := &fakeStarter{}
	guard := NewAutoStartGuard(testLogger(), starter, &fakeNotifier{})

	// Templates not loaded yet: the attempt stays open.
	if guard.Observe("tpl-1") {
		t.Fatal("must not fire before templates load")
	}

	guard.SetTemplates(loadedTemplates())

	// Active session: still gated, still not consumed.
	starter.active = true
	if guard.Observe("tpl-1") {
		t.Fatal("must not fire while a session is active")
	}
	starter.active = false

	if !guard.Observe("tpl-1") {
		t.Fatal("expected the held-open attempt to fire once the gates clear")
	}
}

func TestGuardIgnoresBlankID(t *testing.T) {
	starter := &fakeStarter{}
	notifier := &fakeNotifier{}
	guard := NewAutoStartGuard(testLogger(), starter, notifier)
	guard.SetTemplates(loadedTemplates())

	if guard.Observe("") || guard.Observe("   ") {
		t.Fatal("blank ids must never fire")
	}
	if notifier.count() != 0 {
		t.Errorf("blank ids must not produce notices, got %d", notifier.count())
	}
}

func TestGuardUnknownTemplateNotifiesOnce(t *testing.T) {
	starter := &fakeStarter{}
	notifier := &fakeNotifier{}
	guard := NewAutoStartGuard(testLogger(), starter, notifier)
	guard.SetTemplates(loadedTemplates())

	for i := 0; i < 3; i++ {
		if guard.Observe("tpl-missing") {
			t.Fatal("unknown template must not fire a start")
		}
	}

	if notifier.count() != 1 {
		t.Errorf("expected exactly one user notice, got %d", notifier.count())
	}
	if len(starter.started) != 0 {
		t.Errorf("expected no starts, got %v", starter.started)
	}
}

func TestGuardInvalidTemplateNotifiesOnce(t *testing.T) {
	starter := &fakeStarter{}
	notifier := &fakeNotifier{}
	guard := NewAutoStartGuard(testLogger(), starter, notifier)

	// Malformed: sections missing entirely.
	guard.SetTemplates([]*template.Template{{ID: "tpl-broken", Name: "Broken"}})

	for i := 0; i < 3; i++ {
		guard.Observe("tpl-broken")
	}

	if notifier.count() != 1 {
		t.Errorf("expected exactly one user notice, got %d", notifier.count())
	}
}
