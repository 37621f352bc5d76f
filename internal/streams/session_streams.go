package streams

import "context"

// SessionStreams bundles one user's market-data and portfolio streams
// behind the single handle session.Manager needs (session.StreamPair).
type SessionStreams struct {
	MarketData *MarketDataStream
	Portfolio  *PortfolioStream
}

// Subscribe forwards to the market-data stream; the portfolio stream has no
// per-instrument subscription set.
func (s *SessionStreams) Subscribe(ctx context.Context, instrumentTokens []string) error {
	return s.MarketData.Subscribe(ctx, instrumentTokens)
}

// Unsubscribe forwards to the market-data stream.
func (s *SessionStreams) Unsubscribe(ctx context.Context, instrumentTokens []string) error {
	return s.MarketData.Unsubscribe(ctx, instrumentTokens)
}

// Close tears down both underlying streams.
func (s *SessionStreams) Close() error {
	marketErr := s.MarketData.Close()
	portfolioErr := s.Portfolio.Close()
	if marketErr != nil {
		return marketErr
	}
	return portfolioErr
}

// Start begins both streams' connect-and-read loops.
func (s *SessionStreams) Start(ctx context.Context) {
	s.MarketData.Start(ctx)
	s.Portfolio.Start(ctx)
}
