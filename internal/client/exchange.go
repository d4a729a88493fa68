package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"copilot-proxy-go/internal/config"
	"copilot-proxy-go/internal/metrics"
	"copilot-proxy-go/internal/model"
)

// maxExchangeBody caps how much of an exchange response is read.
const maxExchangeBody = 64 << 10

// ErrEmptyToken is returned when the exchange endpoint answers 200 without a token.
var ErrEmptyToken = errors.New("exchange response has no token")

// ExchangeError reports a non-200 answer from the exchange endpoint.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("token exchange rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("token exchange rejected: status %d: %s", e.StatusCode, e.Body)
}

// ExchangeClient trades a client credential for an upstream token.
type ExchangeClient struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewExchangeClient creates an ExchangeClient for cfg.Exchange.URL.
// The metrics parameter is optional.
func NewExchangeClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ExchangeClient {
	return &ExchangeClient{
		httpClient: &http.Client{Timeout: cfg.Exchange.Timeout()},
		url:        cfg.Exchange.URL,
		logger:     logger.With("component", "exchange_client"),
		metrics:    m,
	}
}

// Exchange calls the exchange endpoint with the client credential as the
// authorization header and decodes {token, refresh_in}.
func (c *ExchangeClient) Exchange(ctx context.Context, credential string) (*model.ExchangeResult, error) {
	start := time.Now()
	res, err := c.exchange(ctx, credential)
	c.observe(time.Since(start), err)
	return res, err
}

func (c *ExchangeClient) exchange(ctx context.Context, credential string) (*model.ExchangeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Authorization", credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.LimitReader(resp.Body, maxExchangeBody)

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(body)
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var res model.ExchangeResult
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	if res.Token == "" {
		return nil, ErrEmptyToken
	}

	c.logger.Debug("token exchanged", "refresh_in", res.RefreshIn)
	return &res, nil
}

func (c *ExchangeClient) observe(d time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	var xe *ExchangeError
	switch {
	case errors.As(err, &xe):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	c.metrics.ExchangeDuration.Observe(d.Seconds())
	c.metrics.ExchangeTotal.WithLabelValues(outcome).Inc()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
