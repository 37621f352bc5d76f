// Package session implements the per-user session lifecycle manager (spec
// component C5): lazy session creation, instrument reconciliation, and
// credential refresh routing.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantcore/trademonitor/internal/candles"
	"github.com/quantcore/trademonitor/internal/domain"
	"github.com/quantcore/trademonitor/internal/events"
)

// Credentials holds a user's broker access/refresh tokens.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// NearExpiry reports whether the access token is within threshold of
// expiring.
func (c Credentials) NearExpiry(threshold time.Duration) bool {
	return time.Now().Add(threshold).After(c.ExpiresAt)
}

// CredentialStore loads and persists per-user broker credentials; the
// concrete implementation lives outside this package (internal/daemon's
// credentialStore, which persists the tokens as given, unencrypted).
type CredentialStore interface {
	Load(ctx context.Context, userID int64) (Credentials, error)
	Save(ctx context.Context, userID int64, creds Credentials) error
}

// CredentialRefresher exchanges a refresh token for a new access token.
type CredentialRefresher interface {
	Refresh(ctx context.Context, creds Credentials) (Credentials, error)
}

// StreamPair is the two independent stream handles a session owns (spec
// §4.6). The concrete *streams.PortfolioStream/*streams.MarketDataStream
// satisfy this from the streams package; kept as an interface here so
// session has no import-cycle on streams.
type StreamPair interface {
	Subscribe(ctx context.Context, instrumentTokens []string) error
	Unsubscribe(ctx context.Context, instrumentTokens []string) error
	Close() error
}

// UserSession holds everything the dispatcher needs for one active user:
// streams, subscription set, per-instrument previous-price map, and candle
// buffers. Per spec §4.5, only the dispatcher goroutine mutates this;
// readers (status endpoints) must use Snapshot.
type UserSession struct {
	mu sync.RWMutex

	UserID      int64
	Credentials Credentials
	Paused      bool
	PausedMsg   string

	Streams StreamPair

	subscribed map[string]bool
	prevPrice  map[string]float64 // keyed by instrument_token, across all references

	// buffers is keyed by instrument_token then timeframe.
	buffers map[string]map[domain.Timeframe]*candles.Buffer

	rules []*domain.Rule
}

// Snapshot is an immutable view of session state safe for concurrent reads
// from the status HTTP surface.
type Snapshot struct {
	UserID          int64
	Paused          bool
	PausedMsg       string
	SubscribedCount int
	RuleCount       int
	TokenExpiresAt  time.Time
}

// Snapshot returns a copy of the session's externally-visible state.
func (s *UserSession) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		UserID:          s.UserID,
		Paused:          s.Paused,
		PausedMsg:       s.PausedMsg,
		SubscribedCount: len(s.subscribed),
		RuleCount:       len(s.rules),
		TokenExpiresAt:  s.Credentials.ExpiresAt,
	}
}

// PrevPrice returns the last-seen reference price for an instrument and
// whether one has been recorded yet.
func (s *UserSession) PrevPrice(instrumentToken string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prevPrice[instrumentToken]
	return p, ok
}

// SetPrevPrice records the latest reference price for an instrument. Called
// by the dispatcher after evaluation, regardless of whether the rule fired
// (spec §4.5).
func (s *UserSession) SetPrevPrice(instrumentToken string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevPrice[instrumentToken] = price
}

// CandleSource resolves the candle buffer for an instrument/timeframe,
// lazily creating it on first use. Always returns a buffer — a brand new
// buffer simply has no completed candles yet, which the evaluator already
// treats as "insufficient history".
func (s *UserSession) CandleSource(instrumentToken string, timeframe domain.Timeframe, maxCandles int) domain.CandleSource {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTimeframe, ok := s.buffers[instrumentToken]
	if !ok {
		byTimeframe = make(map[domain.Timeframe]*candles.Buffer)
		s.buffers[instrumentToken] = byTimeframe
	}
	buf, ok := byTimeframe[timeframe]
	if !ok {
		buf = candles.NewBuffer(timeframe, maxCandles)
		byTimeframe[timeframe] = buf
	}
	return buf
}

// Buffer exposes the mutable buffer for AddTick/Seed calls, distinct from
// CandleSource's read-only domain.CandleSource view.
func (s *UserSession) Buffer(instrumentToken string, timeframe domain.Timeframe, maxCandles int) *candles.Buffer {
	s.CandleSource(instrumentToken, timeframe, maxCandles) // ensure created
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[instrumentToken][timeframe]
}

// Rules returns the session's current rule snapshot.
func (s *UserSession) Rules() []*domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *UserSession) setRules(rules []*domain.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

// UpdateRule applies mutate to the in-memory rule matching id, if present.
// Used by the dispatcher to fold a trailing-stop high-water-mark move or
// fire-count accounting into the session's cache immediately, so the next
// tick sees it without waiting for the next rule-poll cycle (spec §4.7).
func (s *UserSession) UpdateRule(id int64, mutate func(*domain.Rule)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.ID == id {
			mutate(r)
			return
		}
	}
}

// RemoveRule drops a rule from the in-memory snapshot without waiting for
// the next poll — used for OCO peer cancellation (spec §4.7, scenario 5).
func (s *UserSession) RemoveRule(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// IsPaused reports whether monitoring is currently paused for this session
// (credential refresh failed permanently). The dispatcher skips evaluation
// entirely while paused.
func (s *UserSession) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Paused
}

// AccessToken returns the current broker access token for action execution.
func (s *UserSession) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Credentials.AccessToken
}

// Manager holds one UserSession per currently-active user.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*UserSession

	credStore  CredentialStore
	refresher  CredentialRefresher
	streamOpen func(ctx context.Context, userID int64, creds Credentials) (StreamPair, error)

	maxInstruments int
	events         *events.Manager
	log            zerolog.Logger
}

// NewManager constructs a session manager. streamOpen dials both the
// portfolio and market-data streams for a user and returns them bundled
// behind StreamPair; it is injected so tests can stub transport entirely.
// em may be nil; events.Manager treats a nil receiver as a no-op sink.
func NewManager(credStore CredentialStore, refresher CredentialRefresher,
	streamOpen func(ctx context.Context, userID int64, creds Credentials) (StreamPair, error),
	maxInstruments int, em *events.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		sessions:       make(map[int64]*UserSession),
		credStore:      credStore,
		refresher:      refresher,
		streamOpen:     streamOpen,
		maxInstruments: maxInstruments,
		events:         em,
		log:            log.With().Str("component", "session_manager").Logger(),
	}
}

// Get returns the session for a user, if one exists.
func (m *Manager) Get(userID int64) (*UserSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Snapshots returns a point-in-time view of every active session, for the
// status HTTP surface.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// ActiveUserIDs returns the ids of every user with a currently-active
// session, for tasks that need to iterate all sessions (the 1-Hz
// time-trigger ticker).
func (m *Manager) ActiveUserIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// EnsureSession lazily creates a session on first need: loads credentials
// and opens both streams (spec §4.5).
func (m *Manager) EnsureSession(ctx context.Context, userID int64) (*UserSession, error) {
	if s, ok := m.Get(userID); ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	creds, err := m.credStore.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials for user %d: %w", userID, err)
	}

	streams, err := m.streamOpen(ctx, userID, creds)
	if err != nil {
		return nil, fmt.Errorf("open streams for user %d: %w", userID, err)
	}

	s := &UserSession{
		UserID:      userID,
		Credentials: creds,
		Streams:     streams,
		subscribed:  make(map[string]bool),
		prevPrice:   make(map[string]float64),
		buffers:     make(map[string]map[domain.Timeframe]*candles.Buffer),
	}
	m.sessions[userID] = s
	m.log.Info().Int64("user_id", userID).Msg("session created")
	m.events.Emit(events.SessionCreated, "session", map[string]interface{}{"user_id": userID})
	return s, nil
}

// TearDown closes streams and drops a user's session entirely, called when
// their enabled-rule count reaches zero (after a grace period, enforced by
// the caller) or on shutdown.
func (m *Manager) TearDown(userID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.Streams.Close(); err != nil {
		return fmt.Errorf("close streams for user %d: %w", userID, err)
	}
	m.log.Info().Int64("user_id", userID).Msg("session torn down")
	m.events.Emit(events.SessionTornDown, "session", map[string]interface{}{"user_id": userID})
	return nil
}

// ExtractInstruments computes the union of instrument_token across rules
// whose trigger family needs live market data (spec §4.5).
func ExtractInstruments(rules []*domain.Rule) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rules {
		if !r.RequiresMarketData() || r.InstrumentToken == nil {
			continue
		}
		if !seen[*r.InstrumentToken] {
			seen[*r.InstrumentToken] = true
			out = append(out, *r.InstrumentToken)
		}
	}
	return out
}

// Reconcile updates the session's rule snapshot and diffs the required
// instrument set against the stream's current subscriptions, issuing
// subscribe/unsubscribe deltas. Overflow beyond maxInstruments is logged and
// the required list is cut to its first maxInstruments entries, in
// ExtractInstruments order; instruments past the cap are not subscribed, and
// no usage history is kept to choose among them.
func (m *Manager) Reconcile(ctx context.Context, userID int64, rules []*domain.Rule) error {
	s, ok := m.Get(userID)
	if !ok {
		return fmt.Errorf("reconcile: no session for user %d", userID)
	}

	required := ExtractInstruments(rules)
	if len(required) > m.maxInstruments {
		m.log.Warn().Int64("user_id", userID).Int("required", len(required)).
			Int("cap", m.maxInstruments).Msg("instrument subscription cap exceeded, truncating")
		required = required[:m.maxInstruments]
	}
	requiredSet := make(map[string]bool, len(required))
	for _, tok := range required {
		requiredSet[tok] = true
	}

	s.mu.Lock()
	var toSubscribe, toUnsubscribe []string
	for tok := range requiredSet {
		if !s.subscribed[tok] {
			toSubscribe = append(toSubscribe, tok)
		}
	}
	for tok := range s.subscribed {
		if !requiredSet[tok] {
			toUnsubscribe = append(toUnsubscribe, tok)
		}
	}
	s.mu.Unlock()

	if len(toSubscribe) > 0 {
		if err := s.Streams.Subscribe(ctx, toSubscribe); err != nil {
			return fmt.Errorf("subscribe for user %d: %w", userID, err)
		}
	}
	if len(toUnsubscribe) > 0 {
		if err := s.Streams.Unsubscribe(ctx, toUnsubscribe); err != nil {
			return fmt.Errorf("unsubscribe for user %d: %w", userID, err)
		}
	}

	s.mu.Lock()
	for _, tok := range toSubscribe {
		s.subscribed[tok] = true
	}
	for _, tok := range toUnsubscribe {
		delete(s.subscribed, tok)
	}
	s.mu.Unlock()

	s.setRules(rules)
	return nil
}

// RefreshCredentials obtains a new access token via the refresh flow. On
// permanent failure it marks monitoring paused for the user (spec §4.5,
// §7) rather than returning the error for the caller to retry indefinitely.
func (m *Manager) RefreshCredentials(ctx context.Context, userID int64) error {
	s, ok := m.Get(userID)
	if !ok {
		return fmt.Errorf("refresh credentials: no session for user %d", userID)
	}

	s.mu.RLock()
	current := s.Credentials
	s.mu.RUnlock()

	fresh, err := m.refresher.Refresh(ctx, current)
	if err != nil {
		s.mu.Lock()
		s.Paused = true
		s.PausedMsg = err.Error()
		s.mu.Unlock()
		m.log.Error().Err(err).Int64("user_id", userID).Msg("credential refresh failed permanently, monitoring paused")
		m.events.Emit(events.MonitoringPaused, "session", map[string]interface{}{"user_id": userID, "reason": err.Error()})
		return &domain.MonitoringPausedError{UserID: userID, Reason: err.Error()}
	}

	if err := m.credStore.Save(ctx, userID, fresh); err != nil {
		m.log.Warn().Err(err).Int64("user_id", userID).Msg("refreshed credentials but failed to persist")
	}

	s.mu.Lock()
	s.Credentials = fresh
	s.Paused = false
	s.PausedMsg = ""
	s.mu.Unlock()
	m.events.Emit(events.CredentialsRefreshed, "session", map[string]interface{}{"user_id": userID})
	return nil
}
