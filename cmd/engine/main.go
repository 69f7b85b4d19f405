package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/audio"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/classify"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/config"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/metrics"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/server"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/session"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/stream"
	"github.com/agentic-k/call-card-ai-assistant-sub001/internal/template"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "call-card-session-engine"
	serviceVersion    = "1.0.0"

	// Classification labels at or above this score count as active topics.
	topicScoreThreshold = 0.5
)

func main() {
	// Load .env if present; real environment always wins
	_ = godotenv.Load()

	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Environment overrides for secrets
	if key := os.Getenv("CLASSIFY_API_KEY"); key != "" {
		cfg.Classify.APIKey = key
	}
	if key := os.Getenv("TEMPLATES_API_KEY"); key != "" {
		cfg.Templates.APIKey = key
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("quantum_size", cfg.Audio.QuantumSize),
		slog.Int("frame_samples", cfg.Audio.FrameSamples),
		slog.String("stream_url", cfg.Stream.URL),
		slog.Int("max_reconnect_attempts", cfg.Stream.MaxReconnectAttempts),
		slog.String("classify_endpoint", cfg.Classify.Endpoint),
		slog.String("templates_endpoint", cfg.Templates.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Event log for the status API and subscribers
	events := session.NewEventLog(session.DefaultEventCapacity)

	// Audio capture worker
	captureWorker, err := audio.NewCaptureWorker(audio.CaptureConfig{
		SampleRate:   cfg.Audio.SampleRate,
		QuantumSize:  cfg.Audio.QuantumSize,
		FrameSamples: cfg.Audio.FrameSamples,
		QueueDepth:   cfg.Audio.QueueDepth,
	}, logger)
	if err != nil {
		logger.Error("Failed to create capture worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Transcription stream supervisor and client
	supervisor := stream.NewSupervisor(cfg.Stream.MaxReconnectAttempts, logger)
	supervisor.SetOnChange(func(state stream.State) {
		appMetrics.SetStreamStatus(int(state.Status))
		if state.Status == stream.StatusReconnecting {
			appMetrics.RecordReconnectAttempt()
		}
		events.Append(session.Event{
			Kind: "stream",
			Text: fmt.Sprintf("connection %s (attempt %d/%d)",
				state.StatusName, state.ReconnectAttempt, state.MaxReconnectAttempts),
		})
	})

	streamClient, err := stream.NewClient(stream.ClientConfig{
		URL:              cfg.Stream.URL,
		HandshakeTimeout: cfg.Stream.GetHandshakeTimeoutDuration(),
		BackoffMin:       cfg.Stream.GetBackoffMinDuration(),
		BackoffMax:       cfg.Stream.GetBackoffMaxDuration(),
		EventBuffer:      cfg.Stream.EventBuffer,
	}, logger, supervisor)
	if err != nil {
		logger.Error("Failed to create stream client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Classification pipeline and topic queue
	pipeline, err := classify.NewPipeline(classify.Config{
		Endpoint:      cfg.Classify.Endpoint,
		APIKey:        cfg.Classify.APIKey,
		Timeout:       cfg.Classify.GetTimeoutDuration(),
		MaxConcurrent: cfg.Classify.MaxConcurrent,
		EMAAlpha:      cfg.Classify.EMAAlpha,
	}, logger)
	if err != nil {
		logger.Error("Failed to create classification pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	topics := classify.NewTopicQueue(cfg.Classify.GetTopicMaxAgeDuration())

	// Session controller wired to the host adapters and the stream transport
	controller := session.NewController(session.Config{
		StartingGrace:     cfg.Session.GetStartingGraceDuration(),
		SuppressionWindow: cfg.Session.GetSuppressionWindowDuration(),
		TickInterval:      cfg.Session.GetTickIntervalDuration(),
		AutoAdvance:       cfg.Session.AutoAdvance,
	}, logger, session.Hooks{
		Windows:   &hostWindow{logger: logger},
		Navigator: &hostNavigator{logger: logger},
		Transport: &streamTransport{ctx: ctx, client: streamClient, frames: captureWorker.Frames()},
	})
	controller.SetEventLog(events)
	controller.SetOnChange(newStatsRecorder(controller, appMetrics).onChange)

	// Auto-start guard
	guard := session.NewAutoStartGuard(logger, controller, &userNotifier{logger: logger, events: events})

	// Template store, filled asynchronously from the template service
	store := newTemplateStore()
	templateClient, err := template.NewClient(template.Config{
		Endpoint: cfg.Templates.Endpoint,
		APIKey:   cfg.Templates.APIKey,
		Timeout:  cfg.Templates.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create template client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	go loadTemplates(ctx, logger, templateClient, store, guard)

	// Fan transcript events into the classifier and classification results
	// back into the controller
	go runEventLoop(ctx, logger, appMetrics, events, captureWorker, streamClient, pipeline, topics, controller)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.Deps{
			Config:     cfg,
			Controller: controller,
			Guard:      guard,
			Events:     events,
			Capture:    captureWorker,
			Supervisor: supervisor,
			Stream:     streamClient,
			Pipeline:   pipeline,
			Topics:     topics,
			Templates:  store.get,
		}, appMetrics)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Tear down the session, then the capture and stream paths behind it
	controller.Stop()
	streamClient.Stop()
	captureWorker.Close()
	cancel()

	captureStats := captureWorker.GetStats()
	streamStats := streamClient.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("quanta_processed", captureStats.QuantaProcessed),
		slog.Uint64("frames_emitted", captureStats.FramesEmitted),
		slog.Uint64("frames_dropped", captureStats.FramesDropped),
		slog.Uint64("frames_sent", streamStats.FramesSent),
		slog.Uint64("events_received", streamStats.EventsReceived),
	)

	logger.Info("Service stopped")
}

// runEventLoop drives the transcript-to-classification flow: final transcript
// events are submitted to the pipeline, results update metrics, topics and
// the event log, and the controller re-evaluates auto-advance.
func runEventLoop(ctx context.Context, logger *slog.Logger, m *metrics.Metrics,
	events *session.EventLog, captureWorker *audio.CaptureWorker, streamClient *stream.Client,
	pipeline *classify.Pipeline, topics *classify.TopicQueue, controller *session.Controller) {

	submitted := make(map[string]time.Time)

	// The capture worker and stream client keep their own cumulative
	// counters; this loop periodically mirrors the deltas into Prometheus.
	var prevCapture audio.CaptureStats
	var prevStream stream.ClientStats
	mirror := time.NewTicker(5 * time.Second)
	defer mirror.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-mirror.C:
			captureStats := captureWorker.GetStats()
			streamStats := streamClient.GetStats()
			m.AddQuantaProcessed(captureStats.QuantaProcessed - prevCapture.QuantaProcessed)
			m.AddFramesEmitted(captureStats.FramesEmitted - prevCapture.FramesEmitted)
			m.AddFramesDropped(captureStats.FramesDropped - prevCapture.FramesDropped)
			m.AddFramesSent(streamStats.FramesSent - prevStream.FramesSent)
			prevCapture = captureStats
			prevStream = streamStats

			// Entries whose result was dropped on a full channel would
			// otherwise sit in the attribution map forever.
			for id, startedAt := range submitted {
				if time.Since(startedAt) > time.Minute {
					delete(submitted, id)
				}
			}

		case event := <-streamClient.Events():
			m.RecordEventReceived()

			// Interim and final segments are both classified; only finals
			// are worth keeping in the bounded event history.
			if event.IsFinal() {
				events.Append(session.Event{Kind: "transcript", Text: event.Text})
			}

			id, ok := pipeline.Submit(ctx, event.Text, "transcript", event.IsFinal())
			if !ok {
				m.RecordClassifyRejected()
				continue
			}
			submitted[id] = time.Now()
			m.RecordClassifyRequest()

		case result := <-pipeline.Results():
			// Attribution uses the originating request id; error results
			// carry a fresh id of their own.
			var duration float64
			if startedAt, known := submitted[result.RequestID]; known {
				duration = time.Since(startedAt).Seconds()
				delete(submitted, result.RequestID)
			}

			if result.Label == classify.ErrorLabel {
				m.RecordClassifyFailure(duration)
				logger.Warn("Classification failed",
					slog.String("request_id", result.RequestID),
					slog.String("error", result.Err),
				)
				continue
			}

			m.RecordClassifySuccess(duration)
			m.SetLabelEMA(result.Label, result.EMA)

			if result.Score >= topicScoreThreshold {
				topics.Push(result.Label)
				events.Append(session.Event{
					Kind: "topic",
					Text: fmt.Sprintf("%s (score %.2f, ema %.2f)", result.Label, result.Score, result.EMA),
				})
			}

			controller.Reevaluate()
		}
	}
}

// loadTemplates fetches the template set, retrying until it succeeds or the
// engine shuts down. The auto-start guard stays gated until templates load.
func loadTemplates(ctx context.Context, logger *slog.Logger, client *template.Client,
	store *templateStore, guard *session.AutoStartGuard) {

	for {
		templates, err := client.List(ctx)
		if err == nil {
			store.set(templates)
			guard.SetTemplates(templates)
			logger.Info("Templates loaded", slog.Int("count", len(templates)))
			return
		}

		logger.Warn("Failed to load templates, retrying",
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

// templateStore is the id-indexed template set shared with the HTTP API.
type templateStore struct {
	mu   sync.RWMutex
	byID map[string]*template.Template
}

func newTemplateStore() *templateStore {
	return &templateStore{byID: make(map[string]*template.Template)}
}

func (s *templateStore) set(templates []*template.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]*template.Template, len(templates))
	for _, tpl := range templates {
		s.byID[tpl.ID] = tpl
	}
}

func (s *templateStore) get(id string) (*template.Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.byID[id]
	return tpl, ok
}

// hostWindow forwards window-state commands to the host integration. With no
// desktop host attached the commands are logged so the UI layer can consume
// them from the event stream.
type hostWindow struct {
	logger *slog.Logger
}

func (h *hostWindow) MinimizeAndPosition() {
	h.logger.Info("Window command", slog.String("command", "minimize_and_position"))
}

func (h *hostWindow) Restore() {
	h.logger.Info("Window command", slog.String("command", "restore"))
}

func (h *hostWindow) ResetSize() {
	h.logger.Info("Window command", slog.String("command", "reset_size"))
}

// hostNavigator forwards the post-session navigation command.
type hostNavigator struct {
	logger *slog.Logger
}

func (h *hostNavigator) NavigateAway() {
	h.logger.Info("Navigation command", slog.String("command", "navigate_away"))
}

// userNotifier surfaces auto-start notices through the log and event stream.
type userNotifier struct {
	logger *slog.Logger
	events *session.EventLog
}

func (n *userNotifier) Notify(message string) {
	n.logger.Warn("User notice", slog.String("message", message))
	n.events.Append(session.Event{Kind: "notice", Text: message})
}

// streamTransport adapts the websocket stream client to the controller's
// transport interface, feeding it the capture worker's frame channel.
type streamTransport struct {
	ctx    context.Context
	client *stream.Client
	frames <-chan *audio.Frame
}

func (t *streamTransport) StartStream(context.Context) error {
	return t.client.Start(t.ctx, t.frames)
}

func (t *streamTransport) StopStream() error {
	t.client.Stop()
	return nil
}

// statsRecorder mirrors controller counters into Prometheus on each change
// notification.
type statsRecorder struct {
	mu         sync.Mutex
	controller *session.Controller
	metrics    *metrics.Metrics
	prev       session.ControllerStats
	elapsed    time.Duration
}

func newStatsRecorder(controller *session.Controller, m *metrics.Metrics) *statsRecorder {
	return &statsRecorder{controller: controller, metrics: m}
}

func (r *statsRecorder) onChange(snapshot session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.controller.GetStats()

	for n := r.prev.SessionsStarted; n < stats.SessionsStarted; n++ {
		r.metrics.RecordSessionStarted()
	}
	for n := r.prev.SessionsStopped; n < stats.SessionsStopped; n++ {
		r.metrics.RecordSessionStopped(r.elapsed.Seconds())
	}
	for n := r.prev.SessionsCompleted; n < stats.SessionsCompleted; n++ {
		r.metrics.RecordSessionCompleted()
	}
	for n := r.prev.AutoAdvances; n < stats.AutoAdvances; n++ {
		r.metrics.RecordAutoAdvance()
	}
	for n := r.prev.ManualNavigations; n < stats.ManualNavigations; n++ {
		r.metrics.RecordManualNavigation()
	}

	if snapshot.HasSession {
		r.elapsed = snapshot.Session.Elapsed
	}
	r.prev = stats
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
