// Package client provides the outbound HTTP clients: the chat API upstream
// and the token exchange endpoint.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"copilot-proxy-go/internal/config"
	"copilot-proxy-go/internal/metrics"
	"copilot-proxy-go/internal/model"
)

// CopilotClient sends requests to the upstream chat API.
type CopilotClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewCopilotClient creates a CopilotClient with connection pooling.
// There is no whole-request timeout so long event streams are never cut off;
// the wait for response headers is bounded by upstream.header_timeout_seconds.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewCopilotClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *CopilotClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Upstream.HeaderTimeout(),
		TLSHandshakeTimeout:   10 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &CopilotClient{
		httpClient: &http.Client{
			Transport: transport,
			// Upstream redirects are relayed, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "copilot_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *CopilotClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Send executes a translated chat request. Streaming requests ask the
// upstream for an event stream.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *CopilotClient) Send(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error) {
	var body io.Reader
	if out.Body != nil {
		body = bytes.NewReader(out.Body)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if out.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	return c.Do(req)
}

// DoStream executes a request whose body is streamed from the caller
// unmodified. contentLength may be -1 when unknown.
func (c *CopilotClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	if body != nil && body != http.NoBody {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}
