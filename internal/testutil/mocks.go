package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/trongkhoidev/oreka-tracker/internal/storage"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

// MockMirror is an in-memory storage.Mirror that counts writes.
type MockMirror struct {
	data    map[string][]byte
	saves   int
	clears  int
	saveErr error
	mu      sync.Mutex
}

// NewMockMirror creates an empty mock mirror.
func NewMockMirror() *MockMirror {
	return &MockMirror{
		data: make(map[string][]byte),
	}
}

// Load returns the stored value or storage.ErrNotFound.
func (m *MockMirror) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores a copy of value.
func (m *MockMirror) Save(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Clear removes key.
func (m *MockMirror) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clears++
	delete(m.data, key)
	return nil
}

// Keys lists keys with prefix in sorted order.
func (m *MockMirror) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (m *MockMirror) Close() error {
	return nil
}

// Put seeds a raw value without counting it as a save.
func (m *MockMirror) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
}

// SaveCount returns the number of Save calls.
func (m *MockMirror) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// ClearCount returns the number of Clear calls.
func (m *MockMirror) ClearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// SetSaveError makes subsequent saves fail.
func (m *MockMirror) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// SpySource is a scripted ledger source that records calls.
type SpySource struct {
	events      map[string][]types.StakeEvent
	markets     map[string]*types.MarketInfo
	marketErr   error
	fetchCalls  map[string]int
	marketCalls map[string]int
	block       chan struct{}
	mu          sync.Mutex
}

// NewSpySource creates an empty spy source.
func NewSpySource() *SpySource {
	return &SpySource{
		events:      make(map[string][]types.StakeEvent),
		markets:     make(map[string]*types.MarketInfo),
		fetchCalls:  make(map[string]int),
		marketCalls: make(map[string]int),
	}
}

// SetEvents replaces the events returned for a market.
func (s *SpySource) SetEvents(marketID string, events []types.StakeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[marketID] = append([]types.StakeEvent(nil), events...)
}

// AddEvent appends one event for a market.
func (s *SpySource) AddEvent(ev types.StakeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.MarketID] = append(s.events[ev.MarketID], ev)
}

// SetMarket sets the market detail returned by FetchMarket.
func (s *SpySource) SetMarket(info *types.MarketInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[info.MarketID] = info
}

// SetMarketError makes FetchMarket fail.
func (s *SpySource) SetMarketError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketErr = err
}

// Block makes FetchEvents wait until the returned release func is called.
func (s *SpySource) Block() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{})
	s.block = ch

	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

// FetchEvents returns the scripted events.
func (s *SpySource) FetchEvents(ctx context.Context, marketID string, since uint64) []types.StakeEvent {
	s.mu.Lock()
	s.fetchCalls[marketID]++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StakeEvent{}, s.events[marketID]...)
}

// FetchMarket returns the scripted market detail.
func (s *SpySource) FetchMarket(ctx context.Context, marketID string) (*types.MarketInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marketCalls[marketID]++
	if s.marketErr != nil {
		return nil, s.marketErr
	}

	info, ok := s.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", marketID, types.ErrMarketNotFound)
	}
	out := *info
	out.Totals = append([]float64(nil), info.Totals...)
	return &out, nil
}

// FetchCount returns how many times FetchEvents was called for a market.
func (s *SpySource) FetchCount(marketID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls[marketID]
}

// MarketCount returns how many times FetchMarket was called for a market.
func (s *SpySource) MarketCount(marketID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketCalls[marketID]
}

// MockLedgerNode is an httptest server speaking the ledger node REST API.
type MockLedgerNode struct {
	*httptest.Server
	Bids   []map[string]any
	Market map[string]any
	mu     sync.RWMutex
}

// NewMockLedgerNode creates a node that serves bid_events and the view call.
func NewMockLedgerNode() *MockLedgerNode {
	mock := &MockLedgerNode{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.RLock()
		defer mock.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/view":
			if mock.Market == nil {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode([]any{mock.Market})
		case strings.HasSuffix(r.URL.Path, "/bid_events"):
			page := make([]map[string]any, 0, len(mock.Bids))
			for i, b := range mock.Bids {
				page = append(page, map[string]any{
					"sequence_number": fmt.Sprint(i),
					"type":            "bid",
					"data":            b,
				})
			}
			json.NewEncoder(w).Encode(page)
		case strings.Contains(r.URL.Path, "/events/"):
			w.Write([]byte("[]"))
		default:
			http.NotFound(w, r)
		}
	})

	mock.Server = httptest.NewServer(handler)
	return mock
}

// AddBid appends a raw bid event payload.
func (m *MockLedgerNode) AddBid(data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bids = append(m.Bids, data)
}

// SetMarket sets the raw view result struct.
func (m *MockLedgerNode) SetMarket(data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Market = data
}
