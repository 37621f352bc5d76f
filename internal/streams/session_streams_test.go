package streams

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestSessionStreams() *SessionStreams {
	md := NewMarketDataStream("wss://example.invalid", time.Second, 60*time.Second, zerolog.Nop())
	pf := NewPortfolioStream("wss://example.invalid", time.Second, 60*time.Second, zerolog.Nop())
	return &SessionStreams{MarketData: md, Portfolio: pf}
}

func TestSessionStreams_SubscribeForwardsToMarketData(t *testing.T) {
	ss := newTestSessionStreams()
	_ = ss.Subscribe(context.Background(), []string{"A"})
	ss.MarketData.mu.Lock()
	assert.True(t, ss.MarketData.subs["A"])
	ss.MarketData.mu.Unlock()
}

func TestSessionStreams_StartAndClose(t *testing.T) {
	ss := newTestSessionStreams()
	ctx, cancel := context.WithCancel(context.Background())
	ss.Start(ctx)
	cancel()
	assert.NoError(t, ss.Close())
}
