package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorLabel is the terminal label synthesized for failed requests.
const ErrorLabel = "error"

// DefaultEMAAlpha is the smoothing factor for per-label score averages.
const DefaultEMAAlpha = 0.3

// Config contains classification pipeline configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	EMAAlpha      float64
	ResultBuffer  int
}

// Request is one classification request for a transcript segment.
type Request struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Metadata tags a request with its transcript origin.
type Metadata struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"is_final"`
}

// response is the endpoint's wire answer, correlated strictly by id.
type response struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Score   float64  `json:"score"`
	Matches []string `json:"matches,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the pipeline's outcome for one request. Failures are converted
// to results with the error label rather than raised. RequestID always names
// the originating request; ID is the result's own identity and differs from
// RequestID on failures.
type Result struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Label     string    `json:"label"`
	Score     float64   `json:"score"`
	EMA       float64   `json:"ema"`
	Matches   []string  `json:"matches,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       string    `json:"error,omitempty"`
}

// PipelineStats represents pipeline statistics.
type PipelineStats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// Pipeline dispatches classification requests asynchronously and correlates
// responses by id. Requests may complete out of order; attribution relies
// only on the id carried by the response.
type Pipeline struct {
	config     Config
	logger     *slog.Logger
	httpClient *http.Client
	semaphore  chan struct{}

	results chan Result

	mu      sync.Mutex
	pending map[string]Request
	ema     map[string]float64

	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
	dropped   uint64
}

// NewPipeline creates a classification pipeline.
func NewPipeline(config Config, logger *slog.Logger) (*Pipeline, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.EMAAlpha <= 0 || config.EMAAlpha > 1 {
		config.EMAAlpha = DefaultEMAAlpha
	}
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = 64
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Pipeline{
		config:     config,
		logger:     logger,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		results:    make(chan Result, config.ResultBuffer),
		pending:    make(map[string]Request),
		ema:        make(map[string]float64),
	}, nil
}

// Results returns the channel carrying classification outcomes.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// Submit queues one transcript segment for classification. Empty or
// whitespace-only text short-circuits to no result without dispatching.
// Dispatch never blocks the caller.
func (p *Pipeline) Submit(ctx context.Context, text, source string, isFinal bool) (string, bool) {
	if strings.TrimSpace(text) == "" {
		p.mu.Lock()
		p.rejected++
		p.mu.Unlock()
		return "", false
	}

	request := Request{
		ID:   uuid.NewString(),
		Text: text,
		Metadata: Metadata{
			Source:    source,
			Timestamp: time.Now(),
			IsFinal:   isFinal,
		},
	}

	p.mu.Lock()
	p.submitted++
	p.pending[request.ID] = request
	p.mu.Unlock()

	go p.dispatch(ctx, request)

	return request.ID, true
}

// dispatch performs the request and converts every failure into a terminal
// error result. Nothing escapes to the caller.
func (p *Pipeline) dispatch(ctx context.Context, request Request) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		p.fail(request, ctx.Err())
		return
	}

	resp, err := p.doRequest(ctx, request)
	if err != nil {
		p.fail(request, err)
		return
	}

	p.resolve(*resp)
}

// doRequest performs a single HTTP request to the classification endpoint.
func (p *Pipeline) doRequest(ctx context.Context, request Request) (*response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("classification endpoint error: %s", resp.Error)
	}

	return &resp, nil
}

// resolve attributes a response to its originating request by id and updates
// the per-label moving average. Responses for unknown ids are logged and
// discarded.
func (p *Pipeline) resolve(resp response) {
	p.mu.Lock()
	if _, known := p.pending[resp.ID]; !known {
		p.mu.Unlock()
		p.logger.Warn("Classification response for unknown request id",
			slog.String("response_id", resp.ID),
			slog.String("label", resp.Label),
		)
		return
	}
	delete(p.pending, resp.ID)
	p.completed++
	ema := p.updateEMALocked(resp.Label, resp.Score)
	p.mu.Unlock()

	p.deliver(Result{
		ID:        resp.ID,
		RequestID: resp.ID,
		Label:     resp.Label,
		Score:     resp.Score,
		EMA:       ema,
		Matches:   resp.Matches,
		Timestamp: time.Now(),
	})
}

// fail synthesizes the terminal error result for a request. The result
// carries a fresh id of its own; the originating request is simply retired.
func (p *Pipeline) fail(request Request, err error) {
	p.mu.Lock()
	delete(p.pending, request.ID)
	p.failed++
	p.mu.Unlock()

	p.logger.Warn("Classification request failed",
		slog.String("request_id", request.ID),
		slog.String("source", request.Metadata.Source),
		slog.String("error", err.Error()),
	)

	p.deliver(Result{
		ID:        uuid.NewString(),
		RequestID: request.ID,
		Label:     ErrorLabel,
		Score:     0,
		Timestamp: time.Now(),
		Err:       fmt.Sprintf("classification failed: %v", err),
	})
}

// deliver pushes a result without ever blocking the dispatch goroutine.
func (p *Pipeline) deliver(result Result) {
	select {
	case p.results <- result:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Warn("Classification result dropped, consumer too slow",
			slog.String("request_id", result.ID),
		)
	}
}

// updateEMALocked folds a score into the label's moving average. The
// accumulator lives for the pipeline's lifetime, not per request. The first
// observation seeds the average.
func (p *Pipeline) updateEMALocked(label string, score float64) float64 {
	current, seen := p.ema[label]
	if !seen {
		p.ema[label] = score
		return score
	}

	next := p.config.EMAAlpha*score + (1-p.config.EMAAlpha)*current
	p.ema[label] = next
	return next
}

// EMA returns the current moving average for a label.
func (p *Pipeline) EMA(label string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	value, ok := p.ema[label]
	return value, ok
}

// EMASnapshot returns a copy of all per-label moving averages.
func (p *Pipeline) EMASnapshot() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make(map[string]float64, len(p.ema))
	for label, value := range p.ema {
		snapshot[label] = value
	}
	return snapshot
}

// GetStats returns current pipeline statistics.
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PipelineStats{
		Submitted: p.submitted,
		Completed: p.completed,
		Failed:    p.failed,
		Rejected:  p.rejected,
		Dropped:   p.dropped,
		Pending:   len(p.pending),
	}
}
