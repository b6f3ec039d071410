package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"plexflow/internal/plugin"
	"plexflow/internal/types"
)

// HTTPConnector makes generic HTTP requests, one per item.
type HTTPConnector struct {
	client *http.Client
}

func NewHTTPConnector() *HTTPConnector {
	return &HTTPConnector{client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}}
}

func (h *HTTPConnector) Name() string { return "http" }

func (h *HTTPConnector) Actions() []plugin.ActionDef {
	return []plugin.ActionDef{
		{
			Name:        "request",
			Description: "Make an HTTP request",
			Parameters: map[string]types.FieldDef{
				"url":            {Type: "string", Description: "Request URL", Required: true},
				"method":         {Type: "string", Description: "HTTP method (GET, POST, PUT, DELETE)", Default: "GET"},
				"headers":        {Type: "object", Description: "Request headers"},
				"body":           {Type: "any", Description: "Request body (will be JSON-encoded if object)"},
				"authentication": {Type: "string", Description: "Credential type applied to the request (e.g. pipelexApi)"},
			},
			Output: map[string]types.FieldDef{
				"status_code": {Type: "integer", Description: "HTTP status code"},
				"body":        {Type: "any", Description: "Response body"},
				"headers":     {Type: "object", Description: "Response headers"},
			},
		},
	}
}

func (h *HTTPConnector) Execute(ctx context.Context, action string, ef plugin.ExecuteFunctions) ([]types.Item, error) {
	if action != "request" {
		return nil, fmt.Errorf("http connector: unknown action %q", action)
	}

	return plugin.EachItem(ef, h.Name(), func(i int, _ types.Item) (map[string]any, error) {
		return h.request(ctx, ef, i)
	})
}

func (h *HTTPConnector) request(ctx context.Context, ef plugin.ExecuteFunctions, i int) (map[string]any, error) {
	url, err := plugin.StringParam(ef, "url", i, "")
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("'url' is required")
	}

	method, err := plugin.StringParam(ef, "method", i, "GET")
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	body, err := ef.Param("body", i, nil)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", "body", err)
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	headers, err := ef.Param("headers", i, nil)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", "headers", err)
	}
	if hm, ok := headers.(map[string]any); ok {
		for k, v := range hm {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := h.client
	auth, err := plugin.StringParam(ef, "authentication", i, "")
	if err != nil {
		return nil, err
	}
	if auth != "" {
		if client, err = ef.AuthenticatedClient(auth); err != nil {
			return nil, err
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsedBody any
	if err := json.Unmarshal(respBody, &parsedBody); err != nil {
		parsedBody = string(respBody)
	}

	respHeaders := make(map[string]any)
	for k, v := range resp.Header {
		if len(v) == 1 {
			respHeaders[k] = v[0]
		} else {
			respHeaders[k] = v
		}
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsedBody,
		"headers":     respHeaders,
	}, nil
}

func (h *HTTPConnector) Validate() error { return nil }
