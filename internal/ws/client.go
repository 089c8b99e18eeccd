package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client owns a single connection to the account-state endpoint. Run is a
// supervised read loop: on any read failure it drops the connection, waits a
// fixed delay and redials, replaying queued subscriptions. Cancelling the
// context passed to Run is the only way to stop it for good; there is no
// unsubscribe handshake and in-flight frames are simply dropped.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      []any
	connected bool
	lastErr   string

	onReconnect func()
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// URLFromOrigin derives the stream URL from an http(s) origin, upgrading the
// scheme to ws(s) the way the browser client did from the page origin.
func URLFromOrigin(origin, path string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", parsed.Scheme)
	}
	parsed.Path = path
	return parsed.String(), nil
}

// OnReconnect registers a hook invoked before each redial attempt.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// Subscribe queues a subscription message that is sent after every
// (re)connect. Safe to call before Run.
func (c *Client) Subscribe(sub any) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError reports the most recent transport or dial error, empty after a
// successful connect.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send writes v as a JSON text frame on the live connection.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	return writeJSON(ctx, conn, v)
}

// Run dials and reads frames until ctx is cancelled, delivering each raw frame
// to handler in transport order from a single goroutine.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.dropConn(err)
			if !c.waitReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx, handler)
		cancel()
		<-pingDone
		c.dropConn(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		if !c.waitReconnect(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastErr = ""
	subs := append([]any(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

// pingLoop sends client-initiated pings with fresh ids. Liveness still hinges
// on the socket close event; the server ignores unsolicited pings it does not
// support.
func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := map[string]any{"type": "ping", "id": uuid.NewString()}
			if err := writeJSON(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) waitReconnect(ctx context.Context) bool {
	c.mu.Lock()
	hook := c.onReconnect
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

func (c *Client) dropConn(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
	c.connected = false
	if err != nil {
		c.lastErr = err.Error()
	}
}

func (c *Client) logReadLoopError(err error) {
	if c.log == nil || err == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
