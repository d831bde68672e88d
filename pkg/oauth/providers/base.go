// Package providers implements the Acuity and Square calendar adapters.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Corva/internal/conf"
	"Corva/pkg/oauth/util"
	"Corva/pkg/retry"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is kept in HTTPError.
const maxErrorBody = 512

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// BaseProvider owns the HTTP client of one adapter. The client is built
// once from configuration.
type BaseProvider struct {
	client  *http.Client
	retry   retry.Config
	logger  *log.Helper
	baseURL string
}

func NewBaseProvider(cfg *conf.Provider, logger log.Logger) (*BaseProvider, error) {
	timeout := defaultTimeout
	if cfg.Timeout != nil && cfg.Timeout.AsDuration() > 0 {
		timeout = cfg.Timeout.AsDuration()
	}

	client, err := util.CreateHTTPClient(cfg.ProxyUrl, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &BaseProvider{
		client:  client,
		retry:   retry.DefaultConfig(),
		logger:  log.NewHelper(logger),
		baseURL: strings.TrimRight(cfg.ApiUrl, "/"),
	}, nil
}

// HTTPClient exposes the configured client, e.g. for golang.org/x/oauth2.
func (b *BaseProvider) HTTPClient() *http.Client {
	return b.client
}

// DoJSONRequest sends reqBody as JSON (when non-nil) and decodes a 2xx
// response into respBody (when non-nil).
func (b *BaseProvider) DoJSONRequest(
	ctx context.Context,
	method, url string,
	headers map[string]string,
	reqBody interface{},
	respBody interface{},
) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	b.logger.Debugw("msg", "provider request", "method", method, "url", url,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds(), "type", "provider")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(respData)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &HTTPError{Status: resp.StatusCode, Body: text}
	}

	if respBody != nil && len(respData) > 0 {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// GetJSON is DoJSONRequest for idempotent reads, retried on transport
// errors, 429 and 5xx.
func (b *BaseProvider) GetJSON(ctx context.Context, url string, headers map[string]string, respBody interface{}) error {
	return retry.DoWithLog(ctx, b.retry, func() error {
		err := b.DoJSONRequest(ctx, http.MethodGet, url, headers, nil, respBody)
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		b.logger.Warnw("msg", "provider request failed, retrying", "url", url, "attempt", attempt,
			"next_delay_ms", next.Milliseconds(), "error", err)
	})
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
