// Package server implements the HTTP API for the call session engine. It
// exposes session control commands, auto-start observation, stream retry and
// capture priority directives, plus monitoring and Prometheus endpoints.
package server
