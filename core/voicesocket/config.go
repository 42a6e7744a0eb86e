package voicesocket

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultInitialBackoff       = 1 * time.Second
	DefaultMaxBackoff           = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 10 * time.Second
)

// Config describes one session's connection to the voice backend.
type Config struct {
	BaseURL   string
	SessionID string

	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       DefaultConnectTimeout,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		InitialBackoff:       DefaultInitialBackoff,
		MaxBackoff:           DefaultMaxBackoff,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		WriteTimeout:         DefaultWriteTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	return c
}

// URL returns <base>/voice/<session-id>. HTTP schemes are mapped onto their
// websocket equivalents.
func (c Config) URL() (string, error) {
	if c.SessionID == "" {
		return "", fmt.Errorf("missing session id")
	}
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid socket base url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", base.Scheme)
	}
	return base.JoinPath("voice", c.SessionID).String(), nil
}

func (c Config) backoff() Backoff {
	return Backoff{Initial: c.InitialBackoff, Max: c.MaxBackoff, MaxAttempts: c.MaxReconnectAttempts}
}

// Backoff is the reconnection schedule: Initial doubled on every attempt and
// capped at Max, for at most MaxAttempts attempts.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns how long to wait before the given 1-based attempt. It
// reports false once the attempts are exhausted.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0, false
	}

	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max, true
		}
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay, true
}

// DialFunc opens a websocket connection to url.
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithDelay replaces the timer used between reconnection attempts.
func WithDelay(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Client) {
		c.after = after
	}
}

// WithStateHandler registers a callback for connection state changes.
// Changes are delivered in order; stale changes are skipped.
func WithStateHandler(handler func(StateChange)) Option {
	return func(c *Client) {
		c.onState = handler
	}
}

func dialWithTimeout(timeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		return conn, err
	}
}
