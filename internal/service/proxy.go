// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"copilot-proxy-go/internal/client"
	"copilot-proxy-go/internal/config"
	"copilot-proxy-go/internal/model"
)

// ErrInvalidBody is returned when a POST body cannot be parsed as JSON.
var ErrInvalidBody = errors.New("invalid request body")

// hopByHopHeaders are connection-scoped and never relayed in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.CopilotClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.CopilotClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q has no host", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// IsMultipart reports whether a request carries a multipart/form-data body,
// which is relayed byte for byte instead of being re-encoded.
func IsMultipart(header http.Header) bool {
	return strings.HasPrefix(header.Get("Content-Type"), "multipart/form-data")
}

// RewriteURL maps an inbound URL onto the upstream: scheme and host come
// from the configured base URL, the first "/v1" in the path is removed and
// the query string is kept as is.
func (s *ProxyService) RewriteURL(in *url.URL) string {
	u := *s.baseURL
	u.Path = strings.Replace(in.Path, "/v1", "", 1)
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	return u.String()
}

// Forward translates a chat request and sends it upstream with the given
// upstream token. The parsed body is returned alongside the response so the
// caller can pick the relay mode; it is nil for non-POST requests.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(in *model.InboundRequest, token string) (*model.ProxyResponse, *model.ChatBody, error) {
	var body *model.ChatBody
	if in.Method == http.MethodPost && in.Body != nil {
		data, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("read request body: %w", err)
		}
		body, err = model.ParseChatBody(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
	}

	out := &model.OutboundRequest{
		Method: in.Method,
		URL:    s.RewriteURL(in.URL),
		Header: s.upstreamHeaders(token),
		Stream: body.Enabled(),
	}
	if body != nil {
		out.Body = body.Raw
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"path", in.URL.Path,
		"stream", body.Enabled(),
	)

	resp, err := s.client.Send(in.Ctx, out)
	if err != nil {
		return nil, nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, body, nil
}

// Passthrough relays a request onto the rewritten upstream URL with its
// original headers and body stream. Only hop-by-hop headers are dropped.
// The caller is responsible for closing the response body.
func (s *ProxyService) Passthrough(in *model.InboundRequest, contentLength int64) (*model.ProxyResponse, error) {
	target := s.RewriteURL(in.URL)

	s.logger.Debug("passing request through",
		"method", in.Method,
		"path", in.URL.Path,
	)

	var body io.Reader = http.NoBody
	if in.Body != nil {
		body = in.Body
	}

	resp, err := s.client.DoStream(in.Ctx, in.Method, target, StripHopByHop(in.Header), body, contentLength)
	if err != nil {
		return nil, fmt.Errorf("passthrough to upstream: %w", err)
	}
	return resp, nil
}

// upstreamHeaders builds the fixed header set the chat API expects.
func (s *ProxyService) upstreamHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+token)

	up := s.cfg.Upstream
	h.Set("Editor-Version", up.EditorVersion)
	h.Set("Editor-Plugin-Version", up.EditorPluginVersion)
	h.Set("Openai-Organization", up.Organization)
	h.Set("Openai-Intent", up.Intent)
	return h
}

// StripHopByHop returns a copy of src without connection-scoped headers,
// including any named in its Connection header.
func StripHopByHop(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		return make(http.Header)
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
	return dst
}
