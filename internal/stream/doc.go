// Package stream provides the transcription-stream transport and its
// connection supervisor. The supervisor tracks stream health as a small
// state machine with bounded, counted reconnection attempts; the client
// ships encoded audio frames over a websocket and decodes inbound
// transcript events.
package stream
