// Package audio implements the real-time capture worker. It accumulates
// fixed-size sample quanta into transmission frames, converts float samples
// to 16-bit little-endian PCM, and hands completed frames off to the
// transport layer with ownership transferred.
package audio
