// Package feed streams PumpPortal frames over a websocket.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when a subscription cannot be sent right now.
// The key is still remembered and replayed on the next connect.
var ErrNotConnected = errors.New("feed: not connected")

const (
	methodSubscribeNewToken     = "subscribeNewToken"
	methodSubscribeTokenTrade   = "subscribeTokenTrade"
	methodUnsubscribeTokenTrade = "unsubscribeTokenTrade"
)

// Config tunes the websocket client.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultConfig returns the settings used when config omits them.
func DefaultConfig() Config {
	return Config{
		URL:               "wss://pumpportal.fun/api/data",
		ReconnectDelay:    3 * time.Second,
		MaxReconnectDelay: time.Minute,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Handler receives every text frame read from the feed.
type Handler func(raw []byte)

type request struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// Client keeps one websocket session open, reconnecting with exponential
// backoff, and remembers trade subscriptions so they survive reconnects.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subsMu sync.Mutex
	subs   map[string]struct{}

	onConnect func(reconnect bool)
}

// NewClient builds a client. Zero config fields take DefaultConfig values.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(def.MaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "feed").Logger(),
		subs:   make(map[string]struct{}),
	}
}

// OnConnect registers a hook invoked after every successful dial.
func (c *Client) OnConnect(fn func(reconnect bool)) {
	c.onConnect = fn
}

// Run connects and reads until ctx is cancelled. Dropped sessions are
// re-established after a backoff that doubles up to MaxReconnectDelay and
// resets once a session has connected.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	delay := c.cfg.ReconnectDelay
	// only a session after one that actually connected counts as a reconnect
	everConnected := false

	for {
		connected, err := c.session(ctx, handle, everConnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			everConnected = true
			delay = c.cfg.ReconnectDelay
		}

		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("feed session ended, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if !connected {
			delay = min(delay*2, c.cfg.MaxReconnectDelay)
		}
	}
}

func (c *Client) session(ctx context.Context, handle Handler, reconnect bool) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer c.drop(conn)

	if err := c.write(request{Method: methodSubscribeNewToken}); err != nil {
		return true, fmt.Errorf("subscribe new tokens: %w", err)
	}
	if keys := c.trackedKeys(); len(keys) > 0 {
		if err := c.write(request{Method: methodSubscribeTokenTrade, Keys: keys}); err != nil {
			return true, fmt.Errorf("resubscribe trades: %w", err)
		}
	}

	c.logger.Info().Str("url", c.cfg.URL).Int("resubscribed", len(c.trackedKeys())).Msg("feed connected")
	if c.onConnect != nil {
		c.onConnect(reconnect)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(sessionCtx, conn)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read frame: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		handle(payload)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) drop(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
}

// Subscribe asks the feed to stream trades for mints. Keys are remembered
// even when the send fails so a reconnect picks them up.
func (c *Client) Subscribe(mints ...string) error {
	if len(mints) == 0 {
		return nil
	}
	c.subsMu.Lock()
	for _, m := range mints {
		c.subs[m] = struct{}{}
	}
	c.subsMu.Unlock()

	return c.write(request{Method: methodSubscribeTokenTrade, Keys: mints})
}

// Unsubscribe stops trade streaming for mints.
func (c *Client) Unsubscribe(mints ...string) error {
	if len(mints) == 0 {
		return nil
	}
	c.subsMu.Lock()
	for _, m := range mints {
		delete(c.subs, m)
	}
	c.subsMu.Unlock()

	return c.write(request{Method: methodUnsubscribeTokenTrade, Keys: mints})
}

// Subscriptions returns the number of remembered trade subscriptions.
func (c *Client) Subscriptions() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.subs)
}

func (c *Client) trackedKeys() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	keys := make([]string, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Client) write(req request) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}
