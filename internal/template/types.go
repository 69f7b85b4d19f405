package template

import (
	"fmt"
	"strings"
)

// Template represents a prepared call-card template as served by the remote
// template store.
type Template struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Content     Content `json:"content"`
}

// Content holds the structured body of a template.
type Content struct {
	Sections             []Section `json:"sections"`
	TotalDurationMinutes int       `json:"total_duration_minutes"`
}

// Section is a timed, checklist-bearing phase of a meeting template.
type Section struct {
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	Items           []ChecklistItem `json:"items"`
}

// ChecklistItem is a single trackable point within a section.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Validate performs the structural check required before a template may back
// a live session. A template without a sections collection is malformed.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id cannot be empty")
	}

	if t.Content.Sections == nil {
		return fmt.Errorf("template %q has no sections collection", t.ID)
	}

	return nil
}

// SectionCount returns the number of sections in the template.
func (t *Template) SectionCount() int {
	return len(t.Content.Sections)
}

// Complete reports whether every checklist item in the section is completed.
// A section with no items never auto-completes; it has to be left manually.
func (s *Section) Complete() bool {
	if len(s.Items) == 0 {
		return false
	}

	for _, item := range s.Items {
		if !item.Completed {
			return false
		}
	}

	return true
}

// Item returns a pointer to the checklist item with the given id, or nil.
func (s *Section) Item(id string) *ChecklistItem {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i]
		}
	}
	return nil
}
