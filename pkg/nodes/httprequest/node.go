// Package httprequest provides the http_request step executor.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowpilot/pkg/expression"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// HTTPError is returned for responses with a 4xx or 5xx status.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Executor performs one HTTP request per step. Retries belong to the task scheduler.
type Executor struct {
	client *http.Client
}

// NewExecutor creates the executor. A nil client gets a default one.
func NewExecutor(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{}
	}

	return &Executor{client: client}
}

func (e *Executor) Type() string {
	return models.NodeTypeHTTPRequest
}

// Execute interpolates the URL, headers and string bodies, sends the request and returns the response.
// A JSON response body is decoded into the "json" output field.
func (e *Executor) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.HTTPRequestConfig)
	if !ok {
		return protocol.StepResult{}, fmt.Errorf("http_request node %s: unexpected config %T", input.NodeID, input.Config)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := expression.Interpolate(cfg.URL, input.Context)

	body, err := requestBody(cfg.Body, input.Context)
	if err != nil {
		return protocol.StepResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, expression.Interpolate(value, input.Context))
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.DebugContext(ctx, "sending request", "node_id", input.NodeID, "method", method, "url", url)

	resp, err := e.client.Do(req)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return protocol.StepResult{}, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	output := map[string]any{
		"status_code": float64(resp.StatusCode),
		"headers":     headers,
		"body":        string(respBody),
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err == nil {
		output["json"] = decoded
	}

	return protocol.StepResult{Output: output}, nil
}

// requestBody renders a string body through interpolation and encodes any other value as JSON.
func requestBody(raw any, runCtx *models.RunContext) (io.Reader, error) {
	switch body := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if body == "" {
			return nil, nil
		}

		return strings.NewReader(expression.Interpolate(body, runCtx)), nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		return bytes.NewReader(encoded), nil
	}
}
