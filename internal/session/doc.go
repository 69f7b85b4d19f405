// Package session owns the meeting lifecycle. The controller drives the
// session state machine, advances call-card sections as their checklists
// complete, and emits window-state commands to the host. The auto-start
// guard turns route-supplied template ids into at-most-one start attempt,
// and the event log keeps a bounded ring of recent engine events.
package session
