package cuebridge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	webTimeout = 10 * time.Second
)

// HTTPClient is the part of *http.Client the bridge needs,
// so tests can swap the transport out.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client with an explicit request timeout.
// When follow is false redirects are handed back to the caller,
// which is how a 307 login challenge becomes visible to dispatch.
func NewHTTPClient(timeout time.Duration, follow bool) *http.Client {
	if timeout <= 0 {
		timeout = webTimeout
	}
	c := &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		}),
	}
	if !follow {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// Shared HTTP Client
var sharedHTTPClient = NewHTTPClient(webTimeout, true)

// SingleFetchWithClient handles the messy business of the HTTP connection
// and is testable with dependency injection, called by SingleFetch
func SingleFetchWithClient(ctx context.Context, url string, c HTTPClient) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Error("Request Error", slog.String("URL", url), slog.Any("Error", err))
		return 0, nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		slog.Debug("Fetch Error", slog.String("URL", url), slog.Any("Error", err))
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Close Error", slog.Any("Error", err))
			return
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Could not read body", slog.Any("Error", err))
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, body, nil
}

// SingleFetch returns the Response Code, raw byte stream body, and error
// This uses a Shared HTTP Client:
// - to reuse existing endpoint connections
// - to avoid stale connections that eat up OS FDs
func SingleFetch(ctx context.Context, url string) (int, []byte, error) {
	return SingleFetchWithClient(ctx, url, sharedHTTPClient)
}
