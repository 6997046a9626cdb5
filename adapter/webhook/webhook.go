// Package webhook publishes session completion events as JSON HTTP POSTs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/justapithecus/spawnwire/adapter"
	"github.com/justapithecus/spawnwire/iox"
)

// DefaultTimeout bounds one POST.
const DefaultTimeout = 10 * time.Second

// Headers set on every request, after the configured ones.
const (
	HeaderEvent   = "X-Spawnwire-Event"
	HeaderSession = "X-Spawnwire-Session"
	userAgent     = "spawnwire-webhook"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the http or https endpoint events are POSTed to.
	URL string
	// Headers are added to each request (e.g. Authorization).
	Headers map[string]string
	// Timeout bounds each attempt; zero means DefaultTimeout.
	Timeout time.Duration
	// Retries is how many times a failed POST is repeated.
	Retries int
}

// Adapter POSTs completion events to one endpoint.
type Adapter struct {
	endpoint string
	headers  map[string]string
	retries  int
	client   *http.Client
}

// New validates cfg and builds an adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook URL must be http or https, got %q", cfg.URL)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Adapter{
		endpoint: u.String(),
		headers:  cfg.Headers,
		retries:  cfg.Retries,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Publish POSTs event. Network errors and 5xx responses are retried; a 4xx
// response ends the attempts.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.retries, func(ctx context.Context) error {
		req, err := a.newRequest(ctx, event, body)
		if err != nil {
			return err
		}
		return a.do(req)
	}, isClientError)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", a.endpoint, err)
	}
	return nil
}

func (a *Adapter) newRequest(ctx context.Context, event *adapter.SessionCompletedEvent, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderSession, event.SessionID)
	return req, nil
}

func (a *Adapter) do(req *http.Request) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

func isClientError(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.Code/100 == 4
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
