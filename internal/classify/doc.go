// Package classify implements the asynchronous text-classification pipeline.
// Transcript segments become correlated request/response pairs against a
// remote classification endpoint, with per-label exponential moving averages
// smoothing scores across the session, plus the time-windowed active-topic
// queue.
package classify
