// Package daemon implements the daemon loop & action executor (spec
// component C7): the 30s rule-poll task, the per-session event dispatcher,
// the 1-Hz time-trigger ticker, and the action executor that translates a
// fired rule into a broker call and a durable FireLog row.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantcore/trademonitor/internal/broker"
	"github.com/quantcore/trademonitor/internal/config"
	"github.com/quantcore/trademonitor/internal/domain"
	"github.com/quantcore/trademonitor/internal/events"
	"github.com/quantcore/trademonitor/internal/session"
	"github.com/quantcore/trademonitor/internal/store"
	"github.com/quantcore/trademonitor/internal/streams"
	"github.com/quantcore/trademonitor/pkg/marketcal"
)

// Daemon wires C4 (store), C5 (session manager), C6 (stream clients via
// session's injected streamOpen) and the broker REST client into the event
// loop described by spec §4.7/§5.
type Daemon struct {
	store   *store.Store
	sessions *session.Manager
	broker  *broker.Client
	cfg     *config.Config
	events  *events.Manager
	log     zerolog.Logger
	loc     *time.Location
	cal     *marketcal.Calendar

	ctx context.Context // set once in Run; long-lived for stream/dispatcher goroutines

	mu          sync.Mutex
	userStreams map[int64]*streams.SessionStreams
	emptySince  map[int64]time.Time
}

// New constructs a Daemon. loc is the market-hours timezone time triggers
// evaluate "at" against (spec §4.2); cal gates market_only time triggers on
// actual NSE trading days rather than a bare weekend check. A nil cal falls
// back to the weekend-only check (see domain.TradingCalendar).
func New(st *store.Store, brk *broker.Client, cfg *config.Config, loc *time.Location, cal *marketcal.Calendar, log zerolog.Logger) *Daemon {
	em := events.NewManager(log)
	d := &Daemon{
		store:       st,
		broker:      brk,
		cfg:         cfg,
		events:      em,
		loc:         loc,
		cal:         cal,
		log:         log.With().Str("component", "daemon").Logger(),
		userStreams: make(map[int64]*streams.SessionStreams),
		emptySince:  make(map[int64]time.Time),
	}
	d.sessions = session.NewManager(&credentialStore{store: st}, &credentialRefresher{broker: brk}, d.openStreams, cfg.MaxInstrumentsPerUser, em, log)
	return d
}

// Sessions exposes the session manager's read-only snapshots to the status
// HTTP surface.
func (d *Daemon) Sessions() *session.Manager {
	return d.sessions
}

// calendar returns d.cal as a domain.TradingCalendar, or a nil interface
// value when d.cal is nil — assigning a nil *marketcal.Calendar directly to
// an interface field would produce a non-nil interface wrapping a nil
// pointer, which evaluator.dayAllowed's "cal != nil" check can't detect.
func (d *Daemon) calendar() domain.TradingCalendar {
	if d.cal == nil {
		return nil
	}
	return d.cal
}

// Run starts the rule-poll task and the 1-Hz time-trigger ticker, and
// blocks until ctx is cancelled. Each long-lived task is supervised: a
// panic or unexpected error logs structured context and restarts with
// backoff rather than taking the whole daemon down (spec §7) — one failing
// user must not stop other users, and one failing task must not stop the
// process.
func (d *Daemon) Run(ctx context.Context) {
	d.ctx = ctx

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		supervise(ctx, d.log, "rule_poller", d.runPoller)
	}()
	go func() {
		defer wg.Done()
		supervise(ctx, d.log, "time_ticker", d.runTimeTicker)
	}()
	wg.Wait()

	d.shutdown()
}

// shutdown tears down every active session's streams once the poller and
// ticker have stopped. In-flight broker calls race against shutdown;
// failures during shutdown are logged but not retried (spec §5).
func (d *Daemon) shutdown() {
	for _, id := range d.sessions.ActiveUserIDs() {
		if err := d.sessions.TearDown(id); err != nil {
			d.log.Warn().Err(err).Int64("user_id", id).Msg("error tearing down session during shutdown")
		}
	}
}

// openStreams is the session.Manager's injected stream-open hook: it dials
// both per-user streams, starts their connect-and-read loops bound to the
// daemon's long-lived context (not the short-lived ctx passed to
// EnsureSession), and spawns the per-user dispatcher goroutine that
// multiplexes both channels.
func (d *Daemon) openStreams(_ context.Context, userID int64, creds session.Credentials) (session.StreamPair, error) {
	md := streams.NewMarketDataStream(streamURLWithToken(d.cfg.MarketDataStreamURL, creds.AccessToken),
		d.cfg.BackoffMinInterval, d.cfg.BackoffMaxInterval, d.log)
	pf := streams.NewPortfolioStream(streamURLWithToken(d.cfg.PortfolioStreamURL, creds.AccessToken),
		d.cfg.BackoffMinInterval, d.cfg.BackoffMaxInterval, d.log)
	ss := &streams.SessionStreams{MarketData: md, Portfolio: pf}
	ss.Start(d.ctx)

	d.mu.Lock()
	d.userStreams[userID] = ss
	d.mu.Unlock()

	go protectOnce(d.log, fmt.Sprintf("dispatcher[user=%d]", userID), func() {
		d.runDispatcher(d.ctx, userID, ss)
	})

	return ss, nil
}

func streamURLWithToken(base, accessToken string) string {
	if accessToken == "" {
		return base
	}
	sep := "?"
	for i := 0; i < len(base); i++ {
		if base[i] == '?' {
			sep = "&"
			break
		}
	}
	return base + sep + "access_token=" + accessToken
}

// snapshotJSON marshals the context relevant to a single evaluation into
// the FireLog's trigger_snapshot column (spec §3's FireLog: "all relevant
// context data at trigger time").
type fireSnapshot struct {
	Now        time.Time              `json:"now"`
	Market     *domain.MarketSnapshot `json:"market,omitempty"`
	PrevPrice  *float64               `json:"prev_price,omitempty"`
	OrderEvent *domain.OrderEvent     `json:"order_event,omitempty"`
}

func snapshotJSON(ctx domain.EvalContext) json.RawMessage {
	fs := fireSnapshot{Now: ctx.Now}
	if ctx.MarketPresent {
		m := ctx.Market
		fs.Market = &m
	}
	if ctx.PrevPricePresent {
		p := ctx.PrevPrice
		fs.PrevPrice = &p
	}
	if ctx.OrderEventPresent {
		oe := ctx.OrderEvent
		fs.OrderEvent = &oe
	}
	b, err := json.Marshal(fs)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
