package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPBackend submits generation operations to the hosted generative
// service over HTTP. A successful submission returns the service's
// operation id as the handle; completion is reported out of band via the
// service's webhook, which the route layer translates into MarkCompleted
// or MarkFailed calls.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// submitResponse is the service's reply to a submission.
type submitResponse struct {
	OperationID string `json:"operation_id"`
}

// NewHTTPBackend creates a backend client for the given service URL.
// Request deadlines come from the caller's context; the Service wraps
// every Submit in its configured timeout.
func NewHTTPBackend(baseURL, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

// completionResponse is the service's reply to a synchronous text call.
type completionResponse struct {
	Text    string  `json:"text"`
	CostUSD float64 `json:"cost_usd"`
}

// Complete performs a synchronous text generation call and reports the
// billed cost. Used by the admission gate's execute path, where responses
// for identical prompts are memoized.
func (b *HTTPBackend) Complete(ctx context.Context, prompt string) ([]byte, float64, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, 0, fmt.Errorf("completion rejected with status %d: %s", resp.StatusCode, excerpt)
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, 0, fmt.Errorf("failed to decode completion response: %w", err)
	}

	return []byte(cr.Text), cr.CostUSD, nil
}

// Submit starts a long-running generation operation.
func (b *HTTPBackend) Submit(ctx context.Context, spec InputSpec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to encode input spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/operations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep a short excerpt of the body for diagnostics; the Service
		// redacts and truncates it before persisting.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("submission rejected with status %d: %s", resp.StatusCode, excerpt)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("failed to decode submission response: %w", err)
	}
	if sr.OperationID == "" {
		return "", fmt.Errorf("submission response missing operation id")
	}

	return sr.OperationID, nil
}
