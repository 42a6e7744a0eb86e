// Package voicesocket keeps one streaming connection per kiosk session open
// to the voice backend.
//
// Sends are best effort: while the client is not connected they log a
// warning and return [ErrNotConnected] instead of failing the conversation.
// Non-clean closes are retried with exponential backoff; once the attempts
// are exhausted the client settles in [StateError] until Connect is called
// again.
package voicesocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotConnected     = errors.New("voice socket is not connected")
	ErrHeartbeatTimeout = errors.New("voice socket heartbeat timed out")
)

var reconnectAttempts, _ = meter.Int64Counter("voicesocket.reconnect.attempts")

type Client struct {
	cfg     Config
	dial    DialFunc
	after   func(time.Duration) <-chan time.Time
	onState func(StateChange)

	mu              sync.Mutex
	state           ConnectionState
	lastErr         error
	link            *link
	seq             uint64
	cancelReconnect context.CancelFunc

	writeMu sync.Mutex

	notifyMu  sync.Mutex
	delivered uint64

	handlersMu  sync.RWMutex
	handlers    map[protocol.MessageType][]Handler
	anyHandlers []Handler
}

// link is a single live websocket connection together with its loops.
type link struct {
	conn *websocket.Conn
	stop chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	once     sync.Once
}

func (l *link) touch() {
	l.mu.Lock()
	l.lastSeen = time.Now()
	l.mu.Unlock()
}

func (l *link) silence() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastSeen)
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.stop)
		l.conn.Close()
	})
}

func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		dial:     dialWithTimeout(cfg.ConnectTimeout),
		after:    time.After,
		handlers: map[protocol.MessageType][]Handler{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SessionID() string { return c.cfg.SessionID }

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Err returns the error that put the client into StateError, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the connection. It is a no-op while already connected or
// connecting. A failed or timed out handshake is reported as a connection
// error and is not retried automatically.
func (c *Client) Connect(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "connect voice socket")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to connect voice socket")
		}
	}()

	url, err := c.cfg.URL()
	if err != nil {
		return voiceerrors.Wrap(err, voiceerrors.KindValidation, "invalid_url", "invalid voice socket address")
	}
	span.SetAttributes(attribute.String("voicesocket.url", url))

	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	change := c.setStateLocked(StateConnecting, nil, 0)
	c.mu.Unlock()
	c.emit(change)

	conn, err := c.dialWithDeadline(ctx, url)
	if err != nil {
		connErr := classifyDialError(err)
		c.mu.Lock()
		change := c.setStateLocked(StateError, connErr, 0)
		c.mu.Unlock()
		c.emit(change)
		return connErr
	}

	c.establish(conn, 0)
	return nil
}

func (c *Client) dialWithDeadline(ctx context.Context, url string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return c.dial(dialCtx, url)
}

func classifyDialError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return voiceerrors.Wrap(err, voiceerrors.KindConnection, "connect_timeout", "timed out connecting to the voice service")
	}
	return voiceerrors.Wrap(err, voiceerrors.KindConnection, "connect_failed", "could not connect to the voice service")
}

// establish installs conn as the live link and starts its loops. If the
// client was disconnected while the dial was in flight the connection is
// dropped instead.
func (c *Client) establish(conn *websocket.Conn, attempt int) bool {
	l := &link{conn: conn, stop: make(chan struct{}), lastSeen: time.Now()}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.link = l
	change := c.setStateLocked(StateConnected, nil, attempt)
	c.mu.Unlock()

	logger.Info("voice socket connected", "session", c.cfg.SessionID, "attempt", attempt)
	c.emit(change)

	go c.readLoop(l)
	go c.heartbeat(l)
	return true
}

// Disconnect closes the connection cleanly. Pending reconnection attempts
// are cancelled and no retry is triggered.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	l := c.link
	c.link = nil
	wasDisconnected := c.state == StateDisconnected
	change := c.setStateLocked(StateDisconnected, nil, 0)
	c.mu.Unlock()

	if l != nil {
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		if err := l.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
			logger.Debug("failed to send close frame", "error", err)
		}
		l.close()
	}
	if !wasDisconnected {
		c.emit(change)
	}
}

func (c *Client) setStateLocked(state ConnectionState, err error, attempt int) StateChange {
	c.state = state
	c.lastErr = err
	c.seq++
	return StateChange{State: state, Err: err, Attempt: attempt, seq: c.seq}
}

func (c *Client) emit(change StateChange) {
	if c.onState == nil {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if change.seq <= c.delivered {
		return
	}
	c.delivered = change.seq
	c.onState(change)
}

// SendCommand writes a control message.
func (c *Client) SendCommand(cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return voiceerrors.Wrap(err, voiceerrors.KindValidation, "encode_failed", "could not encode command")
	}

	return c.write(string(cmd.Name()), func(conn *websocket.Conn) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	})
}

// SendAudio writes a single binary frame.
func (c *Client) SendAudio(audio []byte) error {
	return c.write("audio", func(conn *websocket.Conn) error {
		return conn.WriteMessage(websocket.BinaryMessage, audio)
	})
}

// SendUtterance announces and sends one utterance. Both frames are written
// under the same lock so nothing can be interleaved between them.
func (c *Client) SendUtterance(audio []byte, mimeType string) error {
	data, err := protocol.Encode(protocol.EndSpeechWithAudio{AudioSize: len(audio), MimeType: mimeType})
	if err != nil {
		return voiceerrors.Wrap(err, voiceerrors.KindValidation, "encode_failed", "could not encode command")
	}

	return c.write("utterance", func(conn *websocket.Conn) error {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, audio)
	})
}

func (c *Client) write(what string, send func(*websocket.Conn) error) error {
	c.mu.Lock()
	l := c.link
	connected := c.state == StateConnected
	c.mu.Unlock()

	if l == nil || !connected {
		logger.Warn("dropping send on disconnected voice socket", "what", what, "session", c.cfg.SessionID)
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		logger.Warn("failed to set write deadline", "error", err)
	}
	if err := send(l.conn); err != nil {
		go c.dropped(l, err)
		return voiceerrors.Wrap(fmt.Errorf("failed to write %s: %w", what, err),
			voiceerrors.KindProcessing, "send_failed", "could not send to the voice service")
	}
	return nil
}

// dropped handles the loss of l. Losses of links that are no longer current
// are ignored, which covers every close initiated by Disconnect.
func (c *Client) dropped(l *link, cause error) {
	l.close()

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		change := c.setStateLocked(StateDisconnected, nil, 0)
		c.mu.Unlock()
		logger.Info("voice socket closed by server", "session", c.cfg.SessionID)
		c.emit(change)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelReconnect = cancel
	change := c.setStateLocked(StateConnecting, nil, 1)
	c.mu.Unlock()

	logger.Warn("voice socket connection lost", "session", c.cfg.SessionID, "error", cause)
	c.emit(change)
	go c.reconnect(ctx)
}

func (c *Client) reconnect(ctx context.Context) {
	backoff := c.cfg.backoff()
	url, _ := c.cfg.URL()

	for attempt := 1; ; attempt++ {
		delay, ok := backoff.Delay(attempt)
		if !ok {
			c.exhausted(ctx, attempt-1)
			return
		}

		if attempt > 1 {
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			change := c.setStateLocked(StateConnecting, nil, attempt)
			c.mu.Unlock()
			c.emit(change)
		}

		logger.Info("reconnecting voice socket", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-c.after(delay):
		}

		if c.attemptReconnect(ctx, url, attempt) {
			return
		}
	}
}

func (c *Client) attemptReconnect(ctx context.Context, url string, attempt int) bool {
	ctx, span := tracer.Start(ctx, "reconnect voice socket", trace.WithAttributes(
		attribute.Int("voicesocket.attempt", attempt),
	))
	defer span.End()
	reconnectAttempts.Add(ctx, 1)

	conn, err := c.dialWithDeadline(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconnect attempt failed")
		logger.Warn("voice socket reconnect attempt failed", "attempt", attempt, "error", err)
		return false
	}
	if ctx.Err() != nil {
		conn.Close()
		return true
	}

	c.mu.Lock()
	c.cancelReconnect = nil
	c.mu.Unlock()
	c.establish(conn, attempt)
	return true
}

func (c *Client) exhausted(ctx context.Context, attempts int) {
	err := voiceerrors.New(voiceerrors.KindConnection, "reconnect_exhausted",
		fmt.Sprintf("lost connection to the voice service after %d reconnection attempts", attempts))

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.cancelReconnect = nil
	change := c.setStateLocked(StateError, err, attempts)
	c.mu.Unlock()

	logger.Error("voice socket reconnection exhausted", "session", c.cfg.SessionID, "attempts", attempts)
	c.emit(change)
}
