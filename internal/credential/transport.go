package credential

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport applies a credential's authentication headers to every request
// before handing it to Base. The original request is never modified.
type Transport struct {
	Base    http.RoundTripper
	headers map[string]string
}

// NewTransport renders d's authentication rule for c once; the token is static
// for the lifetime of the transport.
func NewTransport(base http.RoundTripper, d *Descriptor, c *Credential) (*Transport, error) {
	h, err := d.headers(c)
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, headers: h}, nil
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.Base.RoundTrip(r)
}

// Client returns an HTTP client that authenticates every request with c.
// Requests are traced with otelhttp.
func Client(d *Descriptor, c *Credential) (*http.Client, error) {
	t, err := NewTransport(otelhttp.NewTransport(http.DefaultTransport), d, c)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

// Test runs d's test request through client. Any 2xx status is a success.
func Test(ctx context.Context, client *http.Client, d *Descriptor) error {
	url := strings.TrimSuffix(d.Test.BaseURL, "/") + d.Test.URL
	req, err := http.NewRequestWithContext(ctx, d.Test.Method, url, nil)
	if err != nil {
		return fmt.Errorf("credential test %s: creating request: %w", d.Name, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("credential test %s: request failed: %w", d.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("credential test %s: unexpected status %d: %s", d.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
