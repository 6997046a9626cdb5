// Package redis publishes session completion events as JSON on a Redis
// pub/sub channel.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/spawnwire/adapter"
)

// Defaults for unset Config fields.
const (
	DefaultChannel = "spawnwire:session_completed"
	DefaultTimeout = 5 * time.Second
)

// Config configures the Redis adapter.
type Config struct {
	// URL is a redis:// or rediss:// connection URL, optionally with a
	// password and database number.
	URL string
	// Channel is the pub/sub channel; empty means DefaultChannel.
	Channel string
	// Timeout bounds each PUBLISH; zero means DefaultTimeout.
	Timeout time.Duration
	// Retries is how many times a failed PUBLISH is repeated.
	Retries int
}

// Adapter PUBLISHes completion events on one channel.
type Adapter struct {
	client  *goredis.Client
	channel string
	timeout time.Duration
	retries int
}

// New validates cfg and builds an adapter. No connection is made until the
// first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	a := &Adapter{
		client:  goredis.NewClient(opts),
		channel: cmp.Or(cfg.Channel, DefaultChannel),
		timeout: cfg.Timeout,
		retries: cfg.Retries,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}

// Channel returns the channel events are published on.
func (a *Adapter) Channel() string {
	return a.channel
}

// Publish sends event as JSON. Every attempt has its own timeout; a closed
// client is not retried.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.client.Publish(ctx, a.channel, payload).Err()
	}, func(err error) bool {
		return errors.Is(err, goredis.ErrClosed)
	})
	if err != nil {
		return fmt.Errorf("redis publish to %s: %w", a.channel, err)
	}
	return nil
}

// Close closes the client's connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
