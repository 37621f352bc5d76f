package streams

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/quantcore/trademonitor/internal/domain"
)

type wireOrderEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// PortfolioStream receives line-oriented JSON order-status frames and emits
// decoded domain.OrderEvent values onto Events (spec §4.6).
type PortfolioStream struct {
	c      *client
	Events chan domain.OrderEvent
	log    zerolog.Logger
}

// NewPortfolioStream builds a portfolio stream. Unlike MarketDataStream,
// there's no per-instrument subscription to resend on reconnect: the
// portfolio channel is subscribed to the whole account's order events once,
// at connect time.
func NewPortfolioStream(url string, backoffMin, backoffMax time.Duration, log zerolog.Logger) *PortfolioStream {
	s := &PortfolioStream{
		Events: make(chan domain.OrderEvent, 256),
		log:    log.With().Str("component", "portfolio_stream").Logger(),
	}
	s.c = newClient(url, backoffMin, backoffMax, s.log)
	s.c.onMessage = s.handleMessage
	s.c.resubscribe = s.subscribeOrders
	return s
}

// Start begins the connect-and-read loop.
func (s *PortfolioStream) Start(ctx context.Context) {
	s.c.Start(ctx)
}

// Close tears down the connection.
func (s *PortfolioStream) Close() error {
	close(s.Events)
	return s.c.Close()
}

func (s *PortfolioStream) subscribeOrders(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(map[string]interface{}{"modes": []string{"order"}})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *PortfolioStream) handleMessage(msgType websocket.MessageType, data []byte) {
	if msgType != websocket.MessageText {
		return
	}
	var we wireOrderEvent
	if err := json.Unmarshal(data, &we); err != nil {
		s.log.Warn().Err(err).Msg("failed to decode order event frame")
		return
	}
	event := domain.OrderEvent{
		OrderID:    we.OrderID,
		Status:     domain.OrderEventStatus(we.Status),
		RawPayload: append([]byte(nil), data...),
	}
	select {
	case s.Events <- event:
	default:
		s.log.Warn().Str("order_id", event.OrderID).Msg("order event channel full, dropping frame")
	}
}
