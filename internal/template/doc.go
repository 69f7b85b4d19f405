// Package template defines the call-card template model and the HTTP client
// for the remote template store. Templates are externally owned; the engine
// only reads them and validates their structure before starting a session.
package template
