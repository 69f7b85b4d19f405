package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Default capture geometry: 128-sample quanta at 16 kHz, accumulated into
// 1536-sample frames (12 quanta, roughly 96 ms of audio).
const (
	DefaultSampleRate   = 16000
	DefaultQuantumSize  = 128
	DefaultFrameSamples = 1536
	DefaultQueueDepth   = 32
)

// Priority is an out-of-band directive from the session controller. It is
// stamped on emitted frames for downstream use but does not alter framing.
type Priority int32

const (
	PriorityNormal Priority = iota
	PriorityElevated
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	if p == PriorityElevated {
		return "elevated"
	}
	return "normal"
}

// Frame is an encoded block of audio handed off to the transport layer.
// Ownership transfers on hand-off; the worker never touches a frame again
// after it has been sent.
type Frame struct {
	PCM        []byte    // 16-bit signed little-endian PCM
	Samples    int       // Sample count (always FrameSamples)
	Seq        uint64    // Monotonic frame sequence number
	Priority   Priority  // Priority directive in effect at emission
	CapturedAt time.Time // When the frame was completed
}

// CaptureConfig contains capture worker configuration.
type CaptureConfig struct {
	SampleRate   int
	QuantumSize  int
	FrameSamples int
	QueueDepth   int
}

// CaptureStats represents capture worker statistics.
type CaptureStats struct {
	QuantaProcessed uint64 `json:"quanta_processed"`
	FramesEmitted   uint64 `json:"frames_emitted"`
	FramesDropped   uint64 `json:"frames_dropped"`
	PendingSamples  int    `json:"pending_samples"`
}

// CaptureWorker frames raw microphone samples for transmission. Process runs
// on the caller's real-time goroutine and must never block; everything else
// may be called from the orchestration context.
type CaptureWorker struct {
	config CaptureConfig
	logger *slog.Logger

	// Accumulation state, owned by the Process goroutine.
	acc    []float32
	offset int
	seq    uint64

	priority atomic.Int32

	frames chan *Frame

	// Statistics, written by Process, read from anywhere.
	quantaProcessed atomic.Uint64
	framesEmitted   atomic.Uint64
	framesDropped   atomic.Uint64
	pendingSamples  atomic.Int64
}

// NewCaptureWorker creates a capture worker with the given geometry.
func NewCaptureWorker(config CaptureConfig, logger *slog.Logger) (*CaptureWorker, error) {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.QuantumSize <= 0 {
		config.QuantumSize = DefaultQuantumSize
	}
	if config.FrameSamples <= 0 {
		config.FrameSamples = DefaultFrameSamples
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}

	if config.FrameSamples%config.QuantumSize != 0 {
		return nil, fmt.Errorf("frame size %d must be a multiple of quantum size %d",
			config.FrameSamples, config.QuantumSize)
	}

	return &CaptureWorker{
		config: config,
		logger: logger,
		acc:    make([]float32, config.FrameSamples),
		frames: make(chan *Frame, config.QueueDepth),
	}, nil
}

// Frames returns the channel carrying completed frames. Frames read from the
// channel are owned by the reader.
func (w *CaptureWorker) Frames() <-chan *Frame {
	return w.frames
}

// SetPriority records a priority directive for subsequent frames.
func (w *CaptureWorker) SetPriority(p Priority) {
	w.priority.Store(int32(p))
}

// Priority returns the priority directive currently in effect.
func (w *CaptureWorker) Priority() Priority {
	return Priority(w.priority.Load())
}

// Process ingests one quantum of raw samples. A nil or empty quantum is
// skipped with no effect on buffer state. The return value is the host's
// keep-running signal and is always true.
func (w *CaptureWorker) Process(quantum []float32) bool {
	if len(quantum) == 0 {
		return true
	}

	w.quantaProcessed.Add(1)

	for len(quantum) > 0 {
		n := copy(w.acc[w.offset:], quantum)
		w.offset += n
		quantum = quantum[n:]

		if w.offset == len(w.acc) {
			w.emit()
			w.offset = 0
		}
	}

	w.pendingSamples.Store(int64(w.offset))

	return true
}

// emit encodes the full accumulation buffer into a fresh frame and hands it
// off. The hand-off is non-blocking: a full queue drops the frame rather
// than stalling the real-time path.
func (w *CaptureWorker) emit() {
	pcm := make([]byte, len(w.acc)*2)
	for i, sample := range w.acc {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(encodeSample(sample)))
	}

	w.seq++
	frame := &Frame{
		PCM:        pcm,
		Samples:    len(w.acc),
		Seq:        w.seq,
		Priority:   w.Priority(),
		CapturedAt: time.Now(),
	}

	select {
	case w.frames <- frame:
		w.framesEmitted.Add(1)
	default:
		w.framesDropped.Add(1)
	}
}

// encodeSample clamps a sample to [-1, 1] and scales it to a signed 16-bit
// integer. Negative values scale by 32768, non-negative by 32767, so that
// -1.0 maps to -32768 and 1.0 maps to 32767.
func encodeSample(s float32) int16 {
	if s < -1.0 {
		s = -1.0
	}
	if s > 1.0 {
		s = 1.0
	}

	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Close releases the frame channel. Process must not be called after Close.
func (w *CaptureWorker) Close() {
	close(w.frames)
}

// GetStats returns current capture statistics.
func (w *CaptureWorker) GetStats() CaptureStats {
	return CaptureStats{
		QuantaProcessed: w.quantaProcessed.Load(),
		FramesEmitted:   w.framesEmitted.Load(),
		FramesDropped:   w.framesDropped.Load(),
		PendingSamples:  int(w.pendingSamples.Load()),
	}
}

// FrameDuration returns the wall-clock span covered by one full frame.
func (w *CaptureWorker) FrameDuration() time.Duration {
	return time.Duration(w.config.FrameSamples) * time.Second / time.Duration(w.config.SampleRate)
}
