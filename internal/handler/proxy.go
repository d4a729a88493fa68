package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"

	"copilot-proxy-go/internal/metrics"
	"copilot-proxy-go/internal/middleware"
	"copilot-proxy-go/internal/model"
	"copilot-proxy-go/internal/service"
	"copilot-proxy-go/internal/token"
)

// Plaintext bodies of the gate's fixed rejections.
const (
	msgMethodNotAllowed = "Method Not Allowed"
	msgNotAllowed       = "Not allowed"
	msgKeyExpiration    = "Key Expiration"
)

// streamChunkSize is the read size of the event-stream copy loop.
const streamChunkSize = 32 * 1024

// secretPatterns match credentials that may surface in error messages.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)\S+`),
	regexp.MustCompile(`(gh[opsu]_)[A-Za-z0-9]+`),
}

// ProxyHandler gates inbound requests, resolves the upstream token and
// relays the upstream response.
type ProxyHandler struct {
	broker  *token.Broker
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(b *token.Broker, svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		broker:  b,
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
		now:     time.Now,
	}
}

// Handle serves every proxied path.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	middleware.ApplyCORS(c.Response().Header())

	switch req.Method {
	case http.MethodOptions:
		return c.NoContent(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		return c.String(http.StatusMethodNotAllowed, msgMethodNotAllowed)
	}

	credential := req.Header.Get(echo.HeaderAuthorization)
	if credential == "" {
		return c.String(http.StatusForbidden, msgNotAllowed)
	}

	tok, err := h.broker.Resolve(req.Context(), credential)
	if err != nil {
		return h.mapError(c, err)
	}
	if token.IsExpired(tok, h.now()) {
		return c.String(http.StatusForbidden, msgKeyExpiration)
	}

	in := &model.InboundRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header,
		Body:   req.Body,
	}

	if service.IsMultipart(req.Header) {
		resp, err := h.service.Passthrough(in, req.ContentLength)
		if err != nil {
			return h.mapError(c, err)
		}
		defer func() { _ = resp.Body.Close() }()
		return h.relayRaw(c, resp, metrics.ModePassthrough)
	}

	resp, body, err := h.service.Forward(in, tok)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode != http.StatusOK:
		return h.relayRaw(c, resp, metrics.ModeUpstreamErr)
	case body.Buffered():
		return h.relayBuffered(c, resp)
	default:
		return h.relayStream(c, resp)
	}
}

// relayRaw copies the upstream status, headers and body unchanged apart
// from hop-by-hop headers and the CORS set.
func (h *ProxyHandler) relayRaw(c echo.Context, resp *model.ProxyResponse, mode string) error {
	h.countRelay(mode)

	dst := c.Response().Header()
	copyHeaders(dst, resp.Header)
	middleware.ApplyCORS(dst)

	c.Response().WriteHeader(resp.StatusCode)
	h.pipe(c, resp.Body)
	return nil
}

// relayBuffered reads the whole upstream JSON document and re-serializes it.
func (h *ProxyHandler) relayBuffered(c echo.Context, resp *model.ProxyResponse) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.mapError(c, fmt.Errorf("read upstream body: %w", err))
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return h.mapError(c, fmt.Errorf("decode upstream body: %w", err))
	}

	h.countRelay(metrics.ModeBuffered)
	return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, buf.Bytes())
}

// relayStream relays the upstream body as a live event stream.
func (h *ProxyHandler) relayStream(c echo.Context, resp *model.ProxyResponse) error {
	h.countRelay(metrics.ModeStream)

	dst := c.Response().Header()
	copyHeaders(dst, resp.Header)
	middleware.ApplyCORS(dst)
	dst.Set(echo.HeaderContentType, "text/event-stream")

	c.Response().WriteHeader(resp.StatusCode)
	h.pipe(c, resp.Body)
	return nil
}

// pipe copies src to the client, flushing after every chunk. The status
// line is already sent, so a failure mid-copy leaves the client with a
// truncated body; it is logged and otherwise ignored.
func (h *ProxyHandler) pipe(c echo.Context, src io.Reader) {
	res := c.Response()
	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := res.Write(buf[:n]); werr != nil {
				h.logger.Warn("writing response body", "err", werr, "path", c.Request().URL.Path)
				return
			}
			res.Flush()
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			h.logger.Warn("reading upstream body", "err", sanitizeError(rerr), "path", c.Request().URL.Path)
			return
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	msg := sanitizeError(err)
	h.logger.Error("proxy error",
		"err", msg,
		"path", c.Request().URL.Path,
	)

	middleware.ApplyCORS(c.Response().Header())

	if errors.Is(err, token.ErrExchange) {
		return c.String(http.StatusBadGateway, "error:"+msg)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.String(http.StatusGatewayTimeout, "upstream request timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.String(http.StatusGatewayTimeout, "upstream request timed out")
	}

	if errors.Is(err, context.Canceled) {
		return c.String(http.StatusBadGateway, "client disconnected")
	}

	return c.String(http.StatusInternalServerError, msg)
}

func (h *ProxyHandler) countRelay(mode string) {
	if h.metrics != nil {
		h.metrics.RelaysTotal.WithLabelValues(mode).Inc()
	}
}

// copyHeaders replaces dst's values with src's for every non hop-by-hop key.
func copyHeaders(dst, src http.Header) {
	for key, vals := range service.StripHopByHop(src) {
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

// sanitizeError redacts credentials from error messages.
func sanitizeError(err error) string {
	msg := err.Error()
	for _, p := range secretPatterns {
		msg = p.ReplaceAllString(msg, "${1}[REDACTED]")
	}
	return msg
}
