package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/audio"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/classify"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/config"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/metrics"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/session"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/stream"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/template"
)

// Deps bundles the engine components the HTTP API exposes
type Deps struct {
	Config     *config.Config
	Controller *session.Controller
	Guard      *session.AutoStartGuard
	Events     *session.EventLog
	Capture    *audio.CaptureWorker
	Supervisor *stream.Supervisor
	Stream     *stream.Client
	Pipeline   *classify.Pipeline
	Topics     *classify.TopicQueue
	Templates  func(id string) (*template.Template, bool)
}

// HTTPServer provides HTTP API endpoints for session control and monitoring
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	deps    Deps
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Deps, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control endpoints
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop))
	mux.HandleFunc("/session/pause", h.withMetrics("/session/pause", h.handleSessionPause))
	mux.HandleFunc("/session/resume", h.withMetrics("/session/resume", h.handleSessionResume))
	mux.HandleFunc("/session/next", h.withMetrics("/session/next", h.handleSessionNext))
	mux.HandleFunc("/session/previous", h.withMetrics("/session/previous", h.handleSessionPrevious))
	mux.HandleFunc("/session/items", h.withMetrics("/session/items", h.handleSessionItems))

	// Auto-start observation endpoint
	mux.HandleFunc("/autostart", h.withMetrics("/autostart", h.handleAutoStart))

	// Capture priority directive endpoint
	mux.HandleFunc("/audio/priority", h.withMetrics("/audio/priority", h.handleAudioPriority))

	// Manual stream retry endpoint
	mux.HandleFunc("/stream/retry", h.withMetrics("/stream/retry", h.handleStreamRetry))

	// Monitoring endpoints
	mux.HandleFunc("/events", h.withMetrics("/events", h.handleEvents))
	mux.HandleFunc("/topics", h.withMetrics("/topics", h.handleTopics))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	captureStats := h.deps.Capture.GetStats()
	streamState := h.deps.Supervisor.State()
	pipelineStats := h.deps.Pipeline.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "call-card-session-engine",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"phase":       h.deps.Controller.Snapshot().PhaseName,
				"has_session": h.deps.Controller.Active(),
			},
			"audio": map[string]interface{}{
				"quanta_processed": captureStats.QuantaProcessed,
				"frames_emitted":   captureStats.FramesEmitted,
				"frames_dropped":   captureStats.FramesDropped,
			},
			"stream": map[string]interface{}{
				"status":            streamState.StatusName,
				"reconnect_attempt": streamState.ReconnectAttempt,
			},
			"classify": map[string]interface{}{
				"completed": pipelineStats.Completed,
				"failed":    pipelineStats.Failed,
				"pending":   pipelineStats.Pending,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSession implements the GET /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.deps.Controller.Snapshot())
}

// handleSessionStart implements the POST /session/start endpoint
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TemplateID string `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, ok := h.deps.Templates(req.TemplateID)
	if !ok {
		http.Error(w, "Template not found", http.StatusNotFound)
		return
	}

	if err := h.deps.Controller.Start(tpl); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionActive):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.deps.Controller.Snapshot())
}

// handleSessionStop implements the POST /session/stop endpoint
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, h.deps.Controller.Stop)
}

// handleSessionPause implements the POST /session/pause endpoint
func (h *HTTPServer) handleSessionPause(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, h.deps.Controller.Pause)
}

// handleSessionResume implements the POST /session/resume endpoint
func (h *HTTPServer) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, h.deps.Controller.Resume)
}

// handleSessionNext implements the POST /session/next endpoint
func (h *HTTPServer) handleSessionNext(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, h.deps.Controller.NextSection)
}

// handleSessionPrevious implements the POST /session/previous endpoint
func (h *HTTPServer) handleSessionPrevious(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, h.deps.Controller.PreviousSection)
}

// sessionCommand runs a no-argument controller command and returns the
// resulting snapshot
func (h *HTTPServer) sessionCommand(w http.ResponseWriter, r *http.Request, command func()) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.deps.Controller.Snapshot())
}

// handleSessionItems implements the POST /session/items endpoint
func (h *HTTPServer) handleSessionItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SectionIndex int    `json:"section_index"`
		ItemID       string `json:"item_id"`
		Completed    bool   `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.deps.Controller.MarkItem(req.SectionIndex, req.ItemID, req.Completed); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.deps.Controller.Snapshot())
}

// handleAutoStart implements the POST /autostart endpoint
func (h *HTTPServer) handleAutoStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TemplateID string `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	fired := h.deps.Guard.Observe(req.TemplateID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"fired":   fired,
		"session": h.deps.Controller.Snapshot(),
	})
}

// handleAudioPriority implements the POST /audio/priority endpoint
func (h *HTTPServer) handleAudioPriority(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Elevated bool `json:"elevated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	priority := audio.PriorityNormal
	if req.Elevated {
		priority = audio.PriorityElevated
	}
	h.deps.Capture.SetPriority(priority)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"elevated": req.Elevated,
	})
}

// handleStreamRetry implements the POST /stream/retry endpoint. This is the
// manual path out of the terminal failed stream state.
func (h *HTTPServer) handleStreamRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.deps.Supervisor.Reset()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.deps.Supervisor.State())
}

// handleEvents implements the /events endpoint
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events := h.deps.Events.Recent()

	response := map[string]interface{}{
		"total":     len(events),
		"timestamp": time.Now().UTC(),
		"events":    events,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleTopics implements the /topics endpoint
func (h *HTTPServer) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	topics := h.deps.Topics.Active(time.Now())

	response := map[string]interface{}{
		"total":     len(topics),
		"timestamp": time.Now().UTC(),
		"topics":    topics,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"session":   h.deps.Controller.GetStats(),
		"audio":     h.deps.Capture.GetStats(),
		"stream": map[string]interface{}{
			"state": h.deps.Supervisor.State(),
			"stats": h.deps.Stream.GetStats(),
		},
		"classify": map[string]interface{}{
			"pipeline": h.deps.Pipeline.GetStats(),
			"ema":      h.deps.Pipeline.EMASnapshot(),
		},
		"events": h.deps.Events.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.deps.Config

	// Return sanitized configuration (API keys intentionally omitted)
	sanitizedConfig := map[string]interface{}{
		"session": map[string]interface{}{
			"starting_grace_ms":     cfg.Session.StartingGraceMs,
			"suppression_window_ms": cfg.Session.SuppressionWindowMs,
			"tick_interval_ms":      cfg.Session.TickIntervalMs,
			"auto_advance":          cfg.Session.AutoAdvance,
		},
		"audio": map[string]interface{}{
			"sample_rate":   cfg.Audio.SampleRate,
			"quantum_size":  cfg.Audio.QuantumSize,
			"frame_samples": cfg.Audio.FrameSamples,
			"queue_depth":   cfg.Audio.QueueDepth,
		},
		"stream": map[string]interface{}{
			"url":                    cfg.Stream.URL,
			"max_reconnect_attempts": cfg.Stream.MaxReconnectAttempts,
			"backoff_min_ms":         cfg.Stream.BackoffMinMs,
			"backoff_max_ms":         cfg.Stream.BackoffMaxMs,
		},
		"classify": map[string]interface{}{
			"endpoint":       cfg.Classify.Endpoint,
			"timeout":        cfg.Classify.Timeout,
			"max_concurrent": cfg.Classify.MaxConcurrent,
			"ema_alpha":      cfg.Classify.EMAAlpha,
			"topic_max_age":  cfg.Classify.TopicMaxAge,
		},
		"templates": map[string]interface{}{
			"endpoint": cfg.Templates.Endpoint,
			"timeout":  cfg.Templates.Timeout,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Call Card Session Engine",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"GET /session":           "Current session snapshot",
			"POST /session/start":    "Start a session from a template id",
			"POST /session/stop":     "Stop the active session",
			"POST /session/pause":    "Pause the active session",
			"POST /session/resume":   "Resume a paused session",
			"POST /session/next":     "Navigate to the next section",
			"POST /session/previous": "Navigate to the previous section",
			"POST /session/items":    "Set checklist item completion",
			"POST /autostart":        "Observe a template id for auto-start",
			"POST /audio/priority":   "Set capture priority directive",
			"POST /stream/retry":     "Retry a failed transcription stream",
			"GET /events":            "Recent engine events",
			"GET /topics":            "Active conversation topics",
			"GET /config":            "Engine configuration",
			"GET /stats":             "Engine statistics",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
