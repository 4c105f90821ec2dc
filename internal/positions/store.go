// Package positions holds the per-market position timelines and decides which
// changes are significant enough to notify and persist.
package positions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/trongkhoidev/oreka-tracker/internal/storage"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// KeyPrefix prefixes every mirrored timeline key.
const KeyPrefix = "positions:"

const (
	DefaultMaxPoints      = 1000
	DefaultPctThreshold   = 0.1
	DefaultTotalThreshold = 0.01
)

// Config holds position store configuration.
type Config struct {
	Mirror         storage.Mirror
	Logger         *zap.Logger
	MaxPoints      int
	PctThreshold   float64
	TotalThreshold float64

	// Now overrides the clock used for history windows and record stamps.
	Now func() time.Time
}

// Store owns one timeline per market.
type Store struct {
	timelines  map[string][]types.PositionSnapshot
	mu         sync.RWMutex
	mirror     storage.Mirror
	logger     *zap.Logger
	maxPoints  int
	thresholds Thresholds
	now        func() time.Time
}

// record is the mirrored form of one timeline.
type record struct {
	MarketID  string                   `json:"market_id"`
	Points    []types.PositionSnapshot `json:"points"`
	UpdatedAt int64                    `json:"updated_at"`
}

// New creates a new position store.
func New(cfg *Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.PctThreshold < 0 || cfg.TotalThreshold < 0 {
		return nil, errors.New("thresholds cannot be negative")
	}

	mirror := cfg.Mirror
	if mirror == nil {
		mirror = storage.NewNopMirror(cfg.Logger)
	}

	maxPoints := cfg.MaxPoints
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		timelines: make(map[string][]types.PositionSnapshot),
		mirror:    mirror,
		logger:    cfg.Logger,
		maxPoints: maxPoints,
		thresholds: Thresholds{
			Pct:   cfg.PctThreshold,
			Total: cfg.TotalThreshold,
		},
		now: now,
	}, nil
}

// ApplyPolledSnapshot merges one polled point and reports whether the change
// was significant. Significant changes are persisted.
func (s *Store) ApplyPolledSnapshot(marketID string, snap types.PositionSnapshot) bool {
	return s.applyPolled(marketID, 1, func(tl []types.PositionSnapshot) []types.PositionSnapshot {
		return merge(tl, snap.Clone())
	})
}

// ApplyPolledSeries applies a reconstructed series and evaluates significance
// once, on the resulting latest point. Each poll re-reads the full event
// window, so the series replaces the span it covers and any provisional point
// after it. An empty series is a no-op.
func (s *Store) ApplyPolledSeries(marketID string, series []types.PositionSnapshot) bool {
	if len(series) == 0 {
		return false
	}
	return s.applyPolled(marketID, len(series), func(tl []types.PositionSnapshot) []types.PositionSnapshot {
		return replaceSpan(tl, series)
	})
}

func (s *Store) applyPolled(marketID string, points int, apply func([]types.PositionSnapshot) []types.PositionSnapshot) bool {
	s.mu.Lock()
	tl := s.timelines[marketID]

	// merge works in place, so the prior latest point is copied first.
	var prev *types.PositionSnapshot
	if last := latest(tl); last != nil {
		p := last.Clone()
		prev = &p
	}

	tl = apply(tl)
	tl = s.trimLocked(marketID, tl)
	s.timelines[marketID] = tl
	MarketsTracked.Set(float64(len(s.timelines)))

	significant := s.thresholds.Significant(prev, tl[len(tl)-1])

	var rec *record
	if significant {
		rec = s.recordLocked(marketID)
	}
	s.mu.Unlock()

	if !significant {
		UpdatesTotal.WithLabelValues("poll", "insignificant").Inc()
		s.logger.Debug("polled-update-insignificant",
			zap.String("market-id", marketID),
			zap.Int("points", points))
		return false
	}

	UpdatesTotal.WithLabelValues("poll", "significant").Inc()
	s.persist(rec)

	return true
}

// ApplyLocalEvent appends a provisional point built from the latest amounts
// plus the event. The point never lands on or before a confirmed point; an
// existing provisional point at or after the event time is overwritten. The
// point is always persisted.
func (s *Store) ApplyLocalEvent(marketID string, ev types.StakeEvent) (types.PositionSnapshot, bool) {
	if ev.Amount < 0 || ev.Side < 0 || !ev.IsStake() {
		return types.PositionSnapshot{}, false
	}

	s.mu.Lock()
	tl := s.timelines[marketID]

	var amounts []float64
	at := ev.Time
	if last := latest(tl); last != nil {
		amounts = append(amounts, last.Amounts...)
		if last.Time >= at {
			at = last.Time
			if !last.Provisional {
				at++
			}
		}
	}

	n := len(amounts)
	if ev.Side+1 > n {
		n = ev.Side + 1
	}
	if n < 2 {
		n = 2
	}
	for len(amounts) < n {
		amounts = append(amounts, 0)
	}
	amounts[ev.Side] += ev.Amount

	snap := types.NewSnapshot(at, amounts, true)
	tl = merge(tl, snap)
	tl = s.trimLocked(marketID, tl)
	s.timelines[marketID] = tl
	MarketsTracked.Set(float64(len(s.timelines)))

	rec := s.recordLocked(marketID)
	s.mu.Unlock()

	UpdatesTotal.WithLabelValues("local", "significant").Inc()
	s.logger.Debug("local-event-applied",
		zap.String("market-id", marketID),
		zap.Int("side", ev.Side),
		zap.Float64("amount", ev.Amount),
		zap.Int64("time", at))

	s.persist(rec)

	return snap.Clone(), true
}

// GetCurrent returns the latest point of a market.
func (s *Store) GetCurrent(marketID string) (types.PositionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := latest(s.timelines[marketID])
	if last == nil {
		return types.PositionSnapshot{}, false
	}
	return last.Clone(), true
}

// GetHistory returns the points inside the window, oldest first.
func (s *Store) GetHistory(marketID string, window types.HistoryWindow) []types.PositionSnapshot {
	var cutoff int64
	if d := window.Duration(); d > 0 {
		cutoff = s.now().Add(-d).UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tl := s.timelines[marketID]
	start := sort.Search(len(tl), func(i int) bool {
		return tl[i].Time >= cutoff
	})

	out := make([]types.PositionSnapshot, 0, len(tl)-start)
	for _, p := range tl[start:] {
		out = append(out, p.Clone())
	}
	return out
}

// Markets returns the ids of all tracked markets, sorted.
func (s *Store) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.timelines))
	for id := range s.timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load rehydrates timelines from the mirror. Corrupt entries are skipped.
func (s *Store) Load(ctx context.Context) error {
	keys, err := s.mirror.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("list mirrored timelines: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		tl, marketID, err := s.loadOne(ctx, key)
		if err != nil {
			RehydratedTotal.WithLabelValues("discarded").Inc()
			s.logger.Debug("discarding-mirrored-timeline",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.timelines[marketID] = tl
		MarketsTracked.Set(float64(len(s.timelines)))
		s.mu.Unlock()

		RehydratedTotal.WithLabelValues("loaded").Inc()
		loaded++
	}

	s.logger.Info("positions-rehydrated",
		zap.Int("keys", len(keys)),
		zap.Int("loaded", loaded))

	return nil
}

func (s *Store) loadOne(ctx context.Context, key string) ([]types.PositionSnapshot, string, error) {
	data, err := s.mirror.Load(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("load: %w", err)
	}

	var rec record
	err = json.Unmarshal(data, &rec)
	if err != nil {
		return nil, "", fmt.Errorf("unmarshal: %w", err)
	}

	marketID := rec.MarketID
	if marketID == "" {
		marketID = strings.TrimPrefix(key, KeyPrefix)
	}

	// Rebuild through NewSnapshot so stored totals and percentages are never trusted.
	var tl []types.PositionSnapshot
	for _, p := range rec.Points {
		if len(p.Amounts) == 0 {
			return nil, "", errors.New("point without amounts")
		}
		tl = merge(tl, types.NewSnapshot(p.Time, p.Amounts, p.Provisional))
	}
	if len(tl) == 0 {
		return nil, "", errors.New("empty timeline")
	}

	tl, _ = trim(tl, s.maxPoints)
	return tl, marketID, nil
}

// Clear drops a market from memory and from the mirror.
func (s *Store) Clear(ctx context.Context, marketID string) error {
	s.mu.Lock()
	delete(s.timelines, marketID)
	MarketsTracked.Set(float64(len(s.timelines)))
	s.mu.Unlock()

	err := s.mirror.Clear(ctx, KeyPrefix+marketID)
	if err != nil {
		return fmt.Errorf("clear mirrored timeline: %w", err)
	}
	return nil
}

func (s *Store) trimLocked(marketID string, tl []types.PositionSnapshot) []types.PositionSnapshot {
	tl, dropped := trim(tl, s.maxPoints)
	if dropped > 0 {
		PointsTrimmedTotal.Add(float64(dropped))
		s.logger.Debug("timeline-trimmed",
			zap.String("market-id", marketID),
			zap.Int("dropped", dropped))
	}
	return tl
}

// recordLocked snapshots a timeline for persistence outside the lock.
func (s *Store) recordLocked(marketID string) *record {
	tl := s.timelines[marketID]
	points := make([]types.PositionSnapshot, len(tl))
	for i := range tl {
		points[i] = tl[i].Clone()
	}
	return &record{
		MarketID:  marketID,
		Points:    points,
		UpdatedAt: s.now().UnixMilli(),
	}
}

// persist writes a record to the mirror. Failures are logged and counted.
func (s *Store) persist(rec *record) {
	data, err := json.Marshal(rec)
	if err != nil {
		MirrorWritesTotal.WithLabelValues("error").Inc()
		s.logger.Warn("marshal-timeline-failed",
			zap.String("market-id", rec.MarketID),
			zap.Error(err))
		return
	}

	// Mirror writes are best effort and must not inherit a poll's cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.mirror.Save(ctx, KeyPrefix+rec.MarketID, data)
	if err != nil {
		MirrorWritesTotal.WithLabelValues("error").Inc()
		s.logger.Warn("persist-timeline-failed",
			zap.String("market-id", rec.MarketID),
			zap.Error(err))
		return
	}

	MirrorWritesTotal.WithLabelValues("ok").Inc()
}

func latest(tl []types.PositionSnapshot) *types.PositionSnapshot {
	if len(tl) == 0 {
		return nil
	}
	return &tl[len(tl)-1]
}
