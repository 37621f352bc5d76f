package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// Tick is a single decoded market-data frame. Each inbound frame, text or
// binary, is decoded as one JSON object (wireTick); length-prefixed binary
// framing is not decoded. Subscriptions request "ltpc" mode.
type Tick struct {
	InstrumentToken string
	LTP             float64
	Bid             *float64
	Ask             *float64
	Volume          float64
	Timestamp       time.Time
}

type wireTick struct {
	InstrumentToken string   `json:"instrument_token"`
	LTP             float64  `json:"ltp"`
	Bid             *float64 `json:"bid,omitempty"`
	Ask             *float64 `json:"ask,omitempty"`
	Volume          float64  `json:"volume"`
	TS              int64    `json:"ts"` // unix millis
}

type wireSubscribe struct {
	Action string   `json:"action"`
	Tokens []string `json:"instrument_tokens"`
	Mode   string   `json:"mode"`
}

// MarketDataStream subscribes to a mutable set of instrument tokens and
// emits decoded ticks onto Ticks.
type MarketDataStream struct {
	c      *client
	Ticks  chan Tick
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]bool
}

// NewMarketDataStream dials url lazily (on Start) and re-subscribes to the
// current token set on every reconnect.
func NewMarketDataStream(url string, backoffMin, backoffMax time.Duration, log zerolog.Logger) *MarketDataStream {
	s := &MarketDataStream{
		Ticks: make(chan Tick, 256),
		log:   log.With().Str("component", "market_data_stream").Logger(),
		subs:  make(map[string]bool),
	}
	s.c = newClient(url, backoffMin, backoffMax, s.log)
	s.c.onMessage = s.handleMessage
	s.c.resubscribe = s.sendFullSubscription
	return s
}

// Start begins the connect-and-read loop.
func (s *MarketDataStream) Start(ctx context.Context) {
	s.c.Start(ctx)
}

// Close tears down the connection.
func (s *MarketDataStream) Close() error {
	close(s.Ticks)
	return s.c.Close()
}

// Subscribe adds instrument tokens to the live subscription and flushes a
// subscribe message immediately (spec §4.6: "flushed whenever the session's
// instrument set diffs").
func (s *MarketDataStream) Subscribe(ctx context.Context, instrumentTokens []string) error {
	if len(instrumentTokens) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, tok := range instrumentTokens {
		s.subs[tok] = true
	}
	s.mu.Unlock()

	msg := wireSubscribe{Action: "subscribe", Tokens: instrumentTokens, Mode: "ltpc"}
	return s.send(ctx, msg)
}

// Unsubscribe removes instrument tokens and flushes an unsubscribe message.
func (s *MarketDataStream) Unsubscribe(ctx context.Context, instrumentTokens []string) error {
	if len(instrumentTokens) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, tok := range instrumentTokens {
		delete(s.subs, tok)
	}
	s.mu.Unlock()

	msg := wireSubscribe{Action: "unsubscribe", Tokens: instrumentTokens, Mode: "ltpc"}
	return s.send(ctx, msg)
}

func (s *MarketDataStream) send(ctx context.Context, msg wireSubscribe) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal subscription message: %w", err)
	}
	return s.c.Write(ctx, websocket.MessageText, data)
}

// sendFullSubscription re-flushes the entire current token set right after
// a (re)connect, before the read loop starts delivering frames, so a
// reconnect never silently drops subscriptions.
func (s *MarketDataStream) sendFullSubscription(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.subs))
	for tok := range s.subs {
		tokens = append(tokens, tok)
	}
	s.mu.Unlock()
	if len(tokens) == 0 {
		return nil
	}
	data, err := json.Marshal(wireSubscribe{Action: "subscribe", Tokens: tokens, Mode: "ltpc"})
	if err != nil {
		return fmt.Errorf("marshal resubscription: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *MarketDataStream) handleMessage(msgType websocket.MessageType, data []byte) {
	if msgType != websocket.MessageText && msgType != websocket.MessageBinary {
		return
	}
	var wt wireTick
	if err := json.Unmarshal(data, &wt); err != nil {
		s.log.Warn().Err(err).Msg("failed to decode tick frame")
		return
	}
	tick := Tick{
		InstrumentToken: wt.InstrumentToken,
		LTP:             wt.LTP,
		Bid:             wt.Bid,
		Ask:             wt.Ask,
		Volume:          wt.Volume,
		Timestamp:       time.UnixMilli(wt.TS),
	}
	select {
	case s.Ticks <- tick:
	default:
		s.log.Warn().Str("instrument_token", tick.InstrumentToken).Msg("tick channel full, dropping frame")
	}
}
