package template

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned when the store has no template with the given id.
var ErrNotFound = errors.New("template not found")

// Config contains template store client configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client provides HTTP access to the remote template store.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new template store client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Get fetches a single template by id.
func (c *Client) Get(ctx context.Context, id string) (*Template, error) {
	if id == "" {
		return nil, fmt.Errorf("template id cannot be empty")
	}

	var tpl Template
	if err := c.do(ctx, http.MethodGet, "/templates/"+id, nil, &tpl); err != nil {
		return nil, err
	}

	return &tpl, nil
}

// List fetches all templates visible to the caller.
func (c *Client) List(ctx context.Context) ([]*Template, error) {
	var tpls []*Template
	if err := c.do(ctx, http.MethodGet, "/templates", nil, &tpls); err != nil {
		return nil, err
	}

	return tpls, nil
}

// Create stores a new template. Write paths are used by upstream template
// generation, not by the session engine itself.
func (c *Client) Create(ctx context.Context, tpl *Template) (*Template, error) {
	var created Template
	if err := c.do(ctx, http.MethodPost, "/templates", tpl, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// Update replaces an existing template.
func (c *Client) Update(ctx context.Context, tpl *Template) error {
	if tpl.ID == "" {
		return fmt.Errorf("template id cannot be empty")
	}

	return c.do(ctx, http.MethodPut, "/templates/"+tpl.ID, tpl, nil)
}

// Delete removes a template from the store.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("template id cannot be empty")
	}

	return c.do(ctx, http.MethodDelete, "/templates/"+id, nil, nil)
}

// do performs a single JSON request against the store.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
	}

	return nil
}
