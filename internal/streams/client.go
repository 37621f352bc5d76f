// Package streams implements the two per-user streaming connections (spec
// component C6): a JSON portfolio/order-event stream and a binary market-
// data tick feed, sharing one reconnect-with-backoff transport adapted from
// the teacher's Tradernet market-status WebSocket client.
package streams

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout       = 15 * time.Second
	writeTimeout      = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	pongGrace         = 10 * time.Second
)

// createHTTP1Client forces HTTP/1.1 via ALPN so the WebSocket upgrade
// handshake doesn't get negotiated into HTTP/2 by a front proxy.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// client is the shared reconnect-with-backoff WebSocket transport for both
// stream kinds. onMessage is invoked for every inbound frame; resubscribe is
// called once right after a (re)connect succeeds, before any inbound frame
// is processed, so a reconnect never silently drops the subscription set
// (spec §4.6's reconnection contract).
type client struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger

	onMessage   func(msgType websocket.MessageType, data []byte)
	resubscribe func(ctx context.Context, conn *websocket.Conn) error

	backoffMin time.Duration
	backoffMax time.Duration

	mu       sync.RWMutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	stopped  bool
	stopChan chan struct{}
}

func newClient(url string, backoffMin, backoffMax time.Duration, log zerolog.Logger) *client {
	return &client{
		url:        url,
		httpClient: createHTTP1Client(),
		log:        log,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		stopChan:   make(chan struct{}),
	}
}

// Start dials once, then runs the read loop; on any read failure it
// reconnects with exponential backoff until Close is called.
func (c *client) Start(ctx context.Context) {
	go c.runLoop(ctx)
}

func (c *client) runLoop(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			delay := backoffDelay(attempt, c.backoffMin, c.backoffMax)
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("stream dial failed")
			attempt++
			select {
			case <-time.After(delay):
				continue
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
		attempt = 0
		c.readLoop(ctx, conn)

		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	connCtx, connCancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.cancel = connCancel
	c.mu.Unlock()

	if c.resubscribe != nil {
		if err := c.resubscribe(connCtx, conn); err != nil {
			connCancel()
			conn.Close(websocket.StatusInternalError, "resubscribe failed")
			return nil, fmt.Errorf("resubscribe after dial: %w", err)
		}
	}
	return conn, nil
}

func (c *client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.conn = nil
		c.mu.Unlock()
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	lastFrame := time.Now()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if time.Since(lastFrame) < heartbeatInterval {
					continue
				}
				pingCtx, cancel := context.WithTimeout(ctx, pongGrace)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					c.log.Warn().Err(err).Msg("stream heartbeat ping failed, tearing down connection")
					conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Info().Err(err).Msg("stream read ended, will reconnect")
			return
		}
		lastFrame = time.Now()
		if c.onMessage != nil {
			c.onMessage(msgType, data)
		}
	}
}

// Write sends a single frame on the current connection, if any.
func (c *client) Write(ctx context.Context, msgType websocket.MessageType, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, msgType, data)
}

// Close tears down the stream and stops reconnection attempts.
func (c *client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopChan)
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

// backoffDelay implements spec §4.6's "1s, 2s, 4s, ..., capped at 60s"
// schedule.
func backoffDelay(attempt int, min, max time.Duration) time.Duration {
	delay := min
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
