// Package pipelex is a client for the Pipelex pipeline execution API.
package pipelex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ExecutePath is appended to the base URL for pipeline execution.
const ExecutePath = "/api/v1/pipeline/execute"

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8081"

// ExecuteRequest is the body of a pipeline execution call. Optional fields are
// omitted when empty.
type ExecuteRequest struct {
	Inputs                   any    `json:"inputs"`
	PipeCode                 string `json:"pipe_code,omitempty"`
	PlxContent               string `json:"plx_content,omitempty"`
	OutputName               string `json:"output_name,omitempty"`
	OutputMultiplicity       string `json:"output_multiplicity,omitempty"`
	DynamicOutputConceptCode string `json:"dynamic_output_concept_code,omitempty"`
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ExecuteURL trims one trailing slash from baseURL and appends ExecutePath.
func ExecuteURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + ExecutePath
}

// Client calls the Pipelex API. Authentication is the job of the underlying
// http.Client's transport.
type Client struct {
	httpClient *http.Client
}

// New creates a client. A nil httpClient means http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Execute posts body to the execute endpoint under baseURL and returns the
// decoded JSON response.
func (c *Client) Execute(ctx context.Context, baseURL string, body *ExecuteRequest) (any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ExecuteURL(baseURL), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
