package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/pushload/internal/clientmetrics"
)

var (
	// ErrNotConnected is returned by Send when no connection is active.
	ErrNotConnected = errors.New("hub: not connected")
	// ErrAlreadyStarted is returned by Start when a connection is active.
	ErrAlreadyStarted = errors.New("hub: already started")
	// ErrUnauthorized is wrapped by Start when the hub refuses the access token.
	ErrUnauthorized = errors.New("hub: unauthorized")
)

// HandshakeError reports a rejected or unreadable hub handshake.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hub handshake failed: %s: %v", e.Reason, e.Err)
	}
	return "hub handshake failed: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CloseError carries the error text of a server-initiated close message.
type CloseError struct {
	Message string
}

func (e *CloseError) Error() string {
	if e.Message == "" {
		return "hub closed by server"
	}
	return "hub closed by server: " + e.Message
}

// Handler receives the raw arguments of an invocation.
type Handler func(args []json.RawMessage)

// Config configures a hub connection.
type Config struct {
	URL               string
	AccessToken       string
	Headers           http.Header
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	KeepAliveInterval time.Duration
	MaxMessageSize    int64
	Logger            *slog.Logger
}

func (c *Config) normalize() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Conn is a restartable hub connection. Each successful Start opens a new
// session; OnClosed fires exactly once per session.
type Conn struct {
	cfg     Config
	dialer  *websocket.Dialer
	metrics *clientmetrics.ClientMetrics

	handlersMu sync.RWMutex
	handlers   map[string]Handler
	onClosed   func(error)

	mu   sync.Mutex
	sess *session
}

type session struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewConn creates an unstarted connection.
func NewConn(cfg Config) *Conn {
	cfg.normalize()
	return &Conn{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		metrics:  clientmetrics.New(),
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for invocations of target, replacing any previous one.
func (c *Conn) On(target string, fn Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[target] = fn
}

// OnClosed registers the callback fired when a session ends. err is nil when
// the session was closed with Close.
func (c *Conn) OnClosed(fn func(error)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onClosed = fn
}

// Start dials the hub, performs the protocol handshake and starts the read
// and keepalive loops. It may be called again after the session closed.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return ErrAlreadyStarted
	}

	target, err := dialURL(c.cfg.URL, c.cfg.AccessToken)
	if err != nil {
		c.metrics.IncrementErrors()
		return err
	}
	headers := c.cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if c.cfg.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	began := time.Now()
	ws, resp, err := c.dialer.DialContext(ctx, target, headers)
	if err != nil {
		c.metrics.IncrementErrors()
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return fmt.Errorf("hub dial failed with status %d: %w: %w", resp.StatusCode, ErrUnauthorized, err)
			}
			return fmt.Errorf("hub dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("hub dial failed: %w", err)
	}
	ws.SetReadLimit(c.cfg.MaxMessageSize)

	rest, err := c.handshake(ctx, ws)
	if err != nil {
		c.metrics.IncrementErrors()
		ws.Close()
		return err
	}

	sess := &session{ws: ws, done: make(chan struct{})}
	c.sess = sess
	c.metrics.MarkConnected(time.Since(began))

	go c.readLoop(sess, rest)
	go c.keepAlive(sess)
	return nil
}

func (c *Conn) handshake(ctx context.Context, ws *websocket.Conn) ([][]byte, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, appendRecord(nil, handshakeRequest)); err != nil {
		return nil, &HandshakeError{Reason: "send request", Err: err}
	}
	ws.SetReadDeadline(deadline)
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return nil, &HandshakeError{Reason: "read response", Err: err}
	}
	records, _ := splitRecords(frame)
	if len(records) == 0 {
		return nil, &HandshakeError{Reason: "empty response"}
	}
	if err := decodeHandshake(records[0]); err != nil {
		return nil, err
	}
	ws.SetWriteDeadline(time.Time{})
	return records[1:], nil
}

// Send dispatches a non-blocking invocation of target. It does not wait for
// any reply from the hub.
func (c *Conn) Send(ctx context.Context, target string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}
	frame, err := encodeInvocation(target, args)
	if err != nil {
		return err
	}
	if err := c.write(ctx, sess, frame); err != nil {
		c.metrics.IncrementErrors()
		return fmt.Errorf("send %s: %w", target, err)
	}
	return nil
}

func (c *Conn) write(ctx context.Context, sess *session, frame []byte) error {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	select {
	case <-sess.done:
		return ErrNotConnected
	default:
	}
	sess.ws.SetWriteDeadline(deadline)
	if err := sess.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	c.metrics.IncrementSent(int64(len(frame)))
	return nil
}

// Close ends the active session, if any, and fires OnClosed with a nil error.
func (c *Conn) Close() error {
	sess := c.current()
	if sess == nil {
		return nil
	}

	var err error
	sess.writeMu.Lock()
	select {
	case <-sess.done:
	default:
		sess.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if werr := sess.ws.WriteMessage(websocket.TextMessage, encodeClose()); werr == nil {
			err = sess.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(5*time.Second),
			)
		} else {
			err = werr
		}
	}
	sess.writeMu.Unlock()

	c.teardown(sess, nil)
	return err
}

// Metrics returns the current connection counters.
func (c *Conn) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}

func (c *Conn) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Conn) readLoop(sess *session, pending [][]byte) {
	for _, rec := range pending {
		if closed := c.dispatch(sess, rec); closed {
			return
		}
	}
	for {
		sess.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, frame, err := sess.ws.ReadMessage()
		if err != nil {
			select {
			case <-sess.done:
			default:
				c.metrics.IncrementErrors()
				c.teardown(sess, fmt.Errorf("read: %w", err))
			}
			return
		}
		c.metrics.IncrementReceived(int64(len(frame)))

		records, rest := splitRecords(frame)
		if len(rest) > 0 {
			c.cfg.Logger.Debug("dropping partial hub record", "bytes", len(rest))
		}
		for _, rec := range records {
			if closed := c.dispatch(sess, rec); closed {
				return
			}
		}
	}
}

// dispatch handles one record and reports whether the session ended.
func (c *Conn) dispatch(sess *session, record []byte) bool {
	msg, err := decodeMessage(record)
	if err != nil {
		c.metrics.IncrementErrors()
		c.cfg.Logger.Warn("invalid hub record", "error", err)
		return false
	}

	switch msg.Type {
	case TypeInvocation:
		c.handlersMu.RLock()
		fn := c.handlers[msg.Target]
		c.handlersMu.RUnlock()
		if fn != nil {
			fn(msg.Arguments)
		}
	case TypeClose:
		c.teardown(sess, &CloseError{Message: msg.Error})
		return true
	case TypePing, TypeCompletion, TypeStreamItem:
	default:
		c.cfg.Logger.Debug("ignoring hub message", "type", msg.Type)
	}
	return false
}

func (c *Conn) keepAlive(sess *session) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := c.write(context.Background(), sess, encodePing()); err != nil {
				select {
				case <-sess.done:
				default:
					c.teardown(sess, fmt.Errorf("keepalive: %w", err))
				}
				return
			}
		}
	}
}

func (c *Conn) teardown(sess *session, cause error) {
	sess.once.Do(func() {
		close(sess.done)
		sess.ws.Close()

		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()
		c.metrics.Reset()

		c.handlersMu.RLock()
		fn := c.onClosed
		c.handlersMu.RUnlock()
		if fn != nil {
			fn(cause)
		}
	})
}

// dialURL converts an http(s) hub address to ws(s) and appends the access token.
func dialURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
