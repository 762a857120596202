package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPLookup resolves records against an upstream search endpoint. A 200
// response means resolved, 404 means the record stays pending, anything else
// is an error for that row.
type HTTPLookup struct {
	endpoint string
	client   *http.Client
}

var _ Lookup = (*HTTPLookup)(nil)

// NewHTTPLookup creates an HTTPLookup for the given endpoint.
func NewHTTPLookup(endpoint string) *HTTPLookup {
	return NewHTTPLookupWithClient(endpoint, &http.Client{Timeout: 15 * time.Second})
}

// NewHTTPLookupWithClient allows injecting the HTTP client for tests.
func NewHTTPLookupWithClient(endpoint string, client *http.Client) *HTTPLookup {
	return &HTTPLookup{endpoint: endpoint, client: client}
}

// Resolve queries the endpoint with the record id and title.
func (l *HTTPLookup) Resolve(ctx context.Context, rec Record) (bool, error) {
	q := url.Values{}
	q.Set("id", rec.ID)
	q.Set("title", rec.Title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build lookup request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", rec.ID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("lookup %s: unexpected status %d", rec.ID, resp.StatusCode)
	}
}
