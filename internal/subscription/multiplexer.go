// Package subscription multiplexes many observers of a market onto a single
// poll loop that lives only while the market has subscribers.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trongkhoidev/oreka-tracker/internal/ledger"
	"github.com/trongkhoidev/oreka-tracker/internal/positions"
	"github.com/trongkhoidev/oreka-tracker/internal/signal"
	"github.com/trongkhoidev/oreka-tracker/internal/timeline"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// State is the polling state of one market.
type State int

const (
	StateIdle State = iota
	StatePolling
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	default:
		return "idle"
	}
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPendingTTL   = 2 * time.Minute

	// amountTolerance absorbs float noise when matching amounts.
	amountTolerance = 1e-9

	// confirmSkew is how far a ledger timestamp may trail a local event applied
	// before the market's first fetch and still confirm it.
	confirmSkew = time.Minute
)

// Callback receives a market's latest snapshot.
type Callback func(types.PositionSnapshot)

// Config holds multiplexer configuration.
type Config struct {
	Source       ledger.Source
	Store        *positions.Store
	Bus          *signal.Bus
	Logger       *zap.Logger
	PollInterval time.Duration

	// PendingTTL bounds how long a local event waits for ledger confirmation.
	PendingTTL time.Duration

	Now func() time.Time
}

type subscriber struct {
	id string
	cb Callback

	mu        sync.Mutex
	delivered bool
	version   uint64
}

type pendingEvent struct {
	event   types.StakeEvent
	addedAt time.Time

	// baseline holds the dedup keys the ledger reported before the event was
	// applied; nil when the market had not been fetched yet.
	baseline map[string]struct{}
}

type marketState struct {
	subs       []*subscriber
	state      State
	generation uint64
	stop       context.CancelFunc
	info       *types.MarketInfo
	pending    []pendingEvent
	seen       map[string]struct{}

	// version orders notifications so a subscriber never goes back to an
	// older snapshot.
	version uint64
}

// Multiplexer runs one poll loop per subscribed market.
type Multiplexer struct {
	markets    map[string]*marketState
	generation uint64
	mu         sync.Mutex
	source     ledger.Source
	store      *positions.Store
	bus        *signal.Bus
	logger     *zap.Logger
	interval   time.Duration
	pendingTTL time.Duration
	now        func() time.Time
	baseCtx    context.Context
	baseCancel context.CancelFunc
	offBus     func()
	wg         sync.WaitGroup
}

// New creates a new multiplexer.
func New(cfg *Config) (*Multiplexer, error) {
	if cfg.Source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	pendingTTL := cfg.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Multiplexer{
		markets:    make(map[string]*marketState),
		source:     cfg.Source,
		store:      cfg.Store,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		interval:   interval,
		pendingTTL: pendingTTL,
		now:        now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// Start binds fetches to ctx and wires the local signal bus.
func (m *Multiplexer) Start(ctx context.Context) error {
	m.mu.Lock()
	prevCancel := m.baseCancel
	baseCtx, cancel := context.WithCancel(ctx)
	m.baseCtx = baseCtx
	m.baseCancel = func() {
		cancel()
		prevCancel()
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.offBus = m.bus.On(func(sig signal.StakePlaced) {
			_, err := m.ApplyLocal(sig.Event)
			if err != nil {
				m.logger.Warn("local-signal-rejected",
					zap.String("request-id", sig.RequestID),
					zap.String("market-id", sig.Event.MarketID),
					zap.Error(err))
			}
		})
	}

	m.logger.Info("multiplexer-started", zap.Duration("poll-interval", m.interval))
	return nil
}

// Subscribe registers cb for a market. The first subscriber starts the poll
// loop. The last known snapshot, if any, is replayed to cb before returning
// unless a newer one already reached it.
func (m *Multiplexer) Subscribe(marketID string, cb Callback) (unsubscribe func()) {
	sub := &subscriber{id: uuid.NewString(), cb: cb}

	m.mu.Lock()
	ms := m.marketLocked(marketID)
	ms.subs = append(ms.subs, sub)
	if ms.state == StateIdle {
		m.startLoopLocked(marketID, ms)
	}
	count := len(ms.subs)
	version := ms.version
	current, hasCurrent := m.store.GetCurrent(marketID)
	m.mu.Unlock()

	Subscribers.Inc()
	m.logger.Debug("subscriber-added",
		zap.String("market-id", marketID),
		zap.String("subscriber-id", sub.id),
		zap.Int("subscribers", count))

	if hasCurrent && m.deliver(marketID, sub, current, version) {
		NotificationsTotal.WithLabelValues("replay").Inc()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(marketID, sub.id) })
	}
}

func (m *Multiplexer) unsubscribe(marketID string, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.markets[marketID]
	if !ok {
		return
	}

	for i, s := range ms.subs {
		if s.id == id {
			ms.subs = append(ms.subs[:i:i], ms.subs[i+1:]...)
			Subscribers.Dec()
			break
		}
	}

	m.logger.Debug("subscriber-removed",
		zap.String("market-id", marketID),
		zap.String("subscriber-id", id),
		zap.Int("subscribers", len(ms.subs)))

	if len(ms.subs) > 0 {
		return
	}
	if ms.state == StatePolling {
		m.stopLoopLocked(marketID, ms)
	}

	// Pending events are only reconciled by a running loop.
	if len(ms.pending) > 0 {
		PendingLocalEvents.Sub(float64(len(ms.pending)))
		m.logger.Debug("pending-local-events-dropped",
			zap.String("market-id", marketID),
			zap.Int("pending", len(ms.pending)))
	}
	delete(m.markets, marketID)
}

// ApplyLocal applies an optimistic local event on a watched market and
// notifies subscribers. The event stays folded into reconstructions until the
// ledger reports it or it expires. Events timed in the future are moved to
// now; events on a market past its close are rejected.
func (m *Multiplexer) ApplyLocal(ev types.StakeEvent) (types.PositionSnapshot, error) {
	err := ev.Validate()
	if err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("validate local event: %w", err)
	}
	if ev.Kind == "" {
		ev.Kind = types.EventKindStake
	}

	now := m.now()
	nowMs := now.UnixMilli()
	if ev.Time == 0 || ev.Time > nowMs {
		ev.Time = nowMs
	}

	m.mu.Lock()
	ms, ok := m.markets[ev.MarketID]
	if !ok || len(ms.subs) == 0 {
		m.mu.Unlock()
		return types.PositionSnapshot{}, fmt.Errorf("apply local event: %w", types.ErrMarketNotWatched)
	}
	if ms.info != nil && ms.info.CloseTime > 0 && nowMs > ms.info.CloseTime {
		m.mu.Unlock()
		return types.PositionSnapshot{}, fmt.Errorf("apply local event: %w", types.ErrMarketClosed)
	}
	baseline := ms.seen
	m.mu.Unlock()

	snap, ok := m.store.ApplyLocalEvent(ev.MarketID, ev)
	if !ok {
		return types.PositionSnapshot{}, fmt.Errorf("apply local event: %w", types.ErrInvalidSide)
	}

	m.mu.Lock()
	if current, ok := m.markets[ev.MarketID]; ok && current == ms {
		ms.pending = append(ms.pending, pendingEvent{event: ev, addedAt: now, baseline: baseline})
		PendingLocalEvents.Inc()
	}
	m.mu.Unlock()

	m.logger.Info("local-event-applied",
		zap.String("market-id", ev.MarketID),
		zap.Int("side", ev.Side),
		zap.Float64("amount", ev.Amount))

	m.fanOut(ev.MarketID, snap, "local")
	return snap, nil
}

// State returns the polling state of a market.
func (m *Multiplexer) State(marketID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.markets[marketID]
	if !ok {
		return StateIdle
	}
	return ms.state
}

// SubscriberCount returns the number of subscribers of a market.
func (m *Multiplexer) SubscriberCount(marketID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.markets[marketID]
	if !ok {
		return 0
	}
	return len(ms.subs)
}

// Close stops every poll loop and waits for them to exit.
func (m *Multiplexer) Close() {
	m.logger.Info("multiplexer-closing")

	if m.offBus != nil {
		m.offBus()
	}

	m.mu.Lock()
	for marketID, ms := range m.markets {
		if ms.state == StatePolling {
			m.stopLoopLocked(marketID, ms)
		}
	}
	m.baseCancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("multiplexer-closed")
}

func (m *Multiplexer) marketLocked(marketID string) *marketState {
	ms, ok := m.markets[marketID]
	if !ok {
		ms = &marketState{}
		m.markets[marketID] = ms
	}
	return ms
}

func (m *Multiplexer) startLoopLocked(marketID string, ms *marketState) {
	// Generations are process-wide so a recreated market never reuses one.
	m.generation++
	ms.generation = m.generation
	ms.state = StatePolling

	loopCtx, stop := context.WithCancel(m.baseCtx)
	ms.stop = stop
	gen := ms.generation

	ActiveLoops.Inc()
	m.logger.Info("poll-loop-starting",
		zap.String("market-id", marketID),
		zap.Uint64("generation", gen))

	m.wg.Add(1)
	go m.loop(loopCtx, marketID, gen)
}

func (m *Multiplexer) stopLoopLocked(marketID string, ms *marketState) {
	ms.stop()
	ms.stop = nil
	ms.state = StateIdle

	ActiveLoops.Dec()
	m.logger.Info("poll-loop-stopped", zap.String("market-id", marketID))
}

// loop ticks immediately, then on every interval until ctx is cancelled.
func (m *Multiplexer) loop(ctx context.Context, marketID string, gen uint64) {
	defer m.wg.Done()

	m.tick(marketID, gen)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(marketID, gen)
		}
	}
}

// tick runs one fetch, reconstruct, merge and fan-out cycle.
func (m *Multiplexer) tick(marketID string, gen uint64) {
	start := time.Now()
	defer func() {
		PollDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	m.mu.Lock()
	ctx := m.baseCtx
	m.mu.Unlock()

	info := m.marketInfo(ctx, marketID)
	events := m.source.FetchEvents(ctx, marketID, 0)

	if !m.current(marketID, gen) {
		PollTicksTotal.WithLabelValues("stale").Inc()
		m.logger.Debug("dropping-stale-poll", zap.String("market-id", marketID))
		return
	}

	pending := m.reconcilePending(marketID, events)

	// An empty fetch is indistinguishable from a failed one and must not
	// overwrite what we already have.
	if len(events) == 0 {
		if _, ok := m.store.GetCurrent(marketID); ok || info == nil {
			PollTicksTotal.WithLabelValues("empty").Inc()
			return
		}
	}

	nowMs := m.now().UnixMilli()
	bounds, ok := m.bounds(info, events, pending, nowMs)
	if !ok {
		PollTicksTotal.WithLabelValues("empty").Inc()
		return
	}

	all := append(events, pending...)
	series := timeline.Reconstruct(all, bounds, nowMs)

	if info != nil && len(pending) == 0 {
		series = m.groundTruth(marketID, info, series)
	}

	significant := m.store.ApplyPolledSeries(marketID, series)
	if !significant {
		PollTicksTotal.WithLabelValues("insignificant").Inc()
		return
	}

	PollTicksTotal.WithLabelValues("significant").Inc()
	m.logger.Debug("poll-tick-complete",
		zap.String("market-id", marketID),
		zap.Int("events", len(events)),
		zap.Int("points", len(series)),
		zap.Duration("duration", time.Since(start)))

	if current, ok := m.store.GetCurrent(marketID); ok {
		m.fanOut(marketID, current, "poll")
	}
}

func (m *Multiplexer) current(marketID string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.markets[marketID]
	return ok && ms.state == StatePolling && ms.generation == gen
}

// marketInfo refreshes the market detail, falling back to the cached copy.
func (m *Multiplexer) marketInfo(ctx context.Context, marketID string) *types.MarketInfo {
	info, err := m.source.FetchMarket(ctx, marketID)

	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.markets[marketID]
	if err != nil {
		cached := ok && ms.info != nil
		m.logger.Debug("fetch-market-failed",
			zap.String("market-id", marketID),
			zap.Bool("cached", cached),
			zap.Error(err))
		if !cached {
			return nil
		}
		stale := *ms.info
		// Stale totals are not ground truth.
		stale.Totals = nil
		return &stale
	}

	if ok {
		ms.info = info
	}
	return info
}

// bounds derives the reconstruction window. Without market detail the window
// opens at the earliest event and stays open.
func (m *Multiplexer) bounds(info *types.MarketInfo, events, pending []types.StakeEvent, nowMs int64) (timeline.Bounds, bool) {
	if info != nil {
		return timeline.BoundsFromMarket(info), true
	}

	open := int64(math.MaxInt64)
	outcomes := 2
	for _, list := range [][]types.StakeEvent{events, pending} {
		for _, ev := range list {
			if ev.IsStake() && ev.Time < open {
				open = ev.Time
			}
			if ev.Side+1 > outcomes {
				outcomes = ev.Side + 1
			}
		}
	}
	if open == math.MaxInt64 {
		return timeline.Bounds{}, false
	}

	m.logger.Debug("market-detail-unavailable", zap.Int64("open", open))
	return timeline.Bounds{Open: open, Close: math.MaxInt64, Outcomes: outcomes}, true
}

// groundTruth corrects the trailing point when it disagrees with on-chain totals.
func (m *Multiplexer) groundTruth(marketID string, info *types.MarketInfo, series []types.PositionSnapshot) []types.PositionSnapshot {
	if len(info.Totals) == 0 || len(series) == 0 {
		return series
	}

	last := series[len(series)-1]
	if sameAmounts(last.Amounts, info.Totals) {
		return series
	}

	GroundTruthMismatchTotal.Inc()
	m.logger.Warn("ground-truth-mismatch",
		zap.String("market-id", marketID),
		zap.Float64s("reconstructed", last.Amounts),
		zap.Float64s("on-chain", info.Totals))

	series[len(series)-1] = types.NewSnapshot(last.Time, info.Totals, last.Provisional)
	return series
}

// reconcilePending drops local events the ledger now reports and those past
// their TTL, returning the ones still outstanding. A non-empty fetch becomes
// the baseline for events applied after it.
func (m *Multiplexer) reconcilePending(marketID string, fetched []types.StakeEvent) []types.StakeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.markets[marketID]
	if !ok {
		return nil
	}

	out := m.confirmPendingLocked(marketID, ms, fetched)

	// An empty fetch may be a failed one and says nothing about the ledger.
	if len(fetched) > 0 {
		ms.seen = dedupKeys(fetched)
	}
	return out
}

func (m *Multiplexer) confirmPendingLocked(marketID string, ms *marketState, fetched []types.StakeEvent) []types.StakeEvent {
	if len(ms.pending) == 0 {
		return nil
	}

	used := make([]bool, len(fetched))
	now := m.now()
	kept := ms.pending[:0]
	var out []types.StakeEvent

	for _, p := range ms.pending {
		if now.Sub(p.addedAt) > m.pendingTTL {
			PendingLocalEvents.Dec()
			m.logger.Debug("pending-local-event-expired", zap.String("market-id", marketID))
			continue
		}

		confirmed := false
		for i := range fetched {
			if !used[i] && confirms(&fetched[i], &p) {
				used[i] = true
				confirmed = true
				break
			}
		}
		if confirmed {
			PendingLocalEvents.Dec()
			continue
		}

		kept = append(kept, p)
		out = append(out, p.event)
	}

	ms.pending = kept
	return out
}

// confirms reports whether a ledger event is the on-chain copy of a pending
// local event. Events the ledger already held when the local event was
// applied never count, so a repeated identical stake stays pending.
func confirms(ledgerEvent *types.StakeEvent, p *pendingEvent) bool {
	local := &p.event
	if !ledgerEvent.IsStake() ||
		ledgerEvent.Side != local.Side ||
		!strings.EqualFold(ledgerEvent.User, local.User) ||
		math.Abs(ledgerEvent.Amount-local.Amount) > amountTolerance {
		return false
	}

	if p.baseline == nil {
		return ledgerEvent.Time >= local.Time-confirmSkew.Milliseconds()
	}
	_, known := p.baseline[ledgerEvent.DedupKey()]
	return !known
}

func dedupKeys(events []types.StakeEvent) map[string]struct{} {
	keys := make(map[string]struct{}, len(events))
	for i := range events {
		keys[events[i].DedupKey()] = struct{}{}
	}
	return keys
}

func sameAmounts(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-6*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}

// fanOut calls every subscriber in subscription order, outside the lock.
func (m *Multiplexer) fanOut(marketID string, snap types.PositionSnapshot, source string) {
	m.mu.Lock()
	ms, ok := m.markets[marketID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ms.version++
	version := ms.version
	subs := make([]*subscriber, len(ms.subs))
	copy(subs, ms.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		if m.deliver(marketID, sub, snap.Clone(), version) {
			NotificationsTotal.WithLabelValues(source).Inc()
		}
	}
}

// deliver hands snap to sub unless sub was already given a newer version.
func (m *Multiplexer) deliver(marketID string, sub *subscriber, snap types.PositionSnapshot, version uint64) bool {
	sub.mu.Lock()
	if sub.delivered && version < sub.version {
		sub.mu.Unlock()
		m.logger.Debug("skipping-stale-notification",
			zap.String("market-id", marketID),
			zap.String("subscriber-id", sub.id),
			zap.Uint64("version", version))
		return false
	}
	sub.delivered = true
	sub.version = version
	sub.mu.Unlock()

	m.invoke(marketID, sub, snap)
	return true
}

func (m *Multiplexer) invoke(marketID string, sub *subscriber, snap types.PositionSnapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			CallbackPanicsTotal.Inc()
			m.logger.Error("subscriber-callback-panic",
				zap.String("market-id", marketID),
				zap.String("subscriber-id", sub.id),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()

	sub.cb(snap)
}
