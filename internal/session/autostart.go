package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/template"
)

// Notifier delivers user-facing notices about failed auto-start attempts.
type Notifier interface {
	Notify(message string)
}

// Starter is the slice of the controller the guard needs.
type Starter interface {
	Start(tpl *template.Template) error
	Active() bool
}

// AutoStartGuard turns an externally supplied template id into at most one
// session start per distinct id. Observe may be called any number of times
// with the same id (route re-renders, template reloads); only the first
// eligible observation fires. Changing the id re-arms the guard.
//
// Three preconditions gate an attempt without consuming it: templates must
// be loaded, no session may be active, and the id must be non-blank. An id
// that passes the gates but names an unknown or invalid template consumes
// the attempt and produces exactly one user notice.
type AutoStartGuard struct {
	logger   *slog.Logger
	starter  Starter
	notifier Notifier

	mu          sync.Mutex
	templates   []*template.Template
	loaded      bool
	attemptedID string
	attempted   bool
}

// NewAutoStartGuard creates an auto-start guard.
func NewAutoStartGuard(logger *slog.Logger, starter Starter, notifier Notifier) *AutoStartGuard {
	return &AutoStartGuard{
		logger:   logger,
		starter:  starter,
		notifier: notifier,
	}
}

// SetTemplates installs the loaded template set. Until this is called every
// observation waits without consuming its attempt.
func (g *AutoStartGuard) SetTemplates(templates []*template.Template) {
	g.mu.Lock()
	g.templates = templates
	g.loaded = true
	g.mu.Unlock()
}

// Observe evaluates a template id against the guard. It returns true when a
// start was fired.
func (g *AutoStartGuard) Observe(templateID string) bool {
	g.mu.Lock()

	if templateID != g.attemptedID {
		g.attemptedID = templateID
		g.attempted = false
	}

	// Gate conditions hold the attempt open for a later observation.
	if strings.TrimSpace(templateID) == "" || !g.loaded || g.attempted || g.starter.Active() {
		g.mu.Unlock()
		return false
	}

	// Consume the attempt before acting so re-entrant observations cannot
	// double-fire.
	g.attempted = true

	var tpl *template.Template
	for _, candidate := range g.templates {
		if candidate.ID == templateID {
			tpl = candidate
			break
		}
	}
	g.mu.Unlock()

	if tpl == nil {
		g.logger.Warn("Auto-start template not found", slog.String("template_id", templateID))
		g.notify("Template not found; session was not started.")
		return false
	}

	if err := tpl.Validate(); err != nil {
		g.logger.Warn("Auto-start template invalid",
			slog.String("template_id", templateID),
			slog.String("error", err.Error()),
		)
		g.notify("Template is invalid; session was not started.")
		return false
	}

	if err := g.starter.Start(tpl); err != nil {
		g.logger.Error("Auto-start failed",
			slog.String("template_id", templateID),
			slog.String("error", err.Error()),
		)
		g.notify("Could not start the session automatically.")
		return false
	}

	g.logger.Info("Session auto-started", slog.String("template_id", templateID))
	return true
}

func (g *AutoStartGuard) notify(message string) {
	if g.notifier != nil {
		g.notifier.Notify(message)
	}
}
