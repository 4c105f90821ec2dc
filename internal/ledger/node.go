package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

const nodeSource = "node"

// DefaultEventFields maps the module's event handle fields to event kinds.
var DefaultEventFields = map[string]types.EventKind{
	"bid_events":          types.EventKindStake,
	"resolve_events":      types.EventKindResolve,
	"claim_events":        types.EventKindClaim,
	"withdraw_fee_events": types.EventKindWithdrawFee,
}

// NodeConfig holds configuration for the REST node adapter.
type NodeConfig struct {
	BaseURL       string
	ModuleAddress string
	ModuleName    string
	EventStruct   string
	ViewFunction  string
	EventFields   map[string]types.EventKind
	TokenDecimals int32
	PageLimit     int
	Timeout       time.Duration
	Logger        *zap.Logger
}

// NodeClient reads events and market views from a ledger REST node.
type NodeClient struct {
	cfg        NodeConfig
	fields     []string
	httpClient *http.Client
	logger     *zap.Logger
}

// nodeEvent is one entry of an event handle page.
type nodeEvent struct {
	SequenceNumber string    `json:"sequence_number"`
	Type           string    `json:"type"`
	Data           rawFields `json:"data"`
}

// NewNodeClient creates a node adapter.
func NewNodeClient(cfg *NodeConfig) (*NodeClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("node base URL cannot be empty")
	}
	if cfg.ModuleAddress == "" {
		return nil, errors.New("module address cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	c := *cfg
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PageLimit <= 0 {
		c.PageLimit = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if len(c.EventFields) == 0 {
		c.EventFields = DefaultEventFields
	}

	// Stake handle first so a failure there short-circuits the poll.
	fields := make([]string, 0, len(c.EventFields))
	for field, kind := range c.EventFields {
		if kind == types.EventKindStake {
			fields = append([]string{field}, fields...)
			continue
		}
		fields = append(fields, field)
	}

	return &NodeClient{
		cfg:    c,
		fields: fields,
		httpClient: &http.Client{
			Timeout: c.Timeout,
		},
		logger: c.Logger,
	}, nil
}

// FetchEvents reads every configured event handle and keeps the market's events.
// A failed stake handle yields an empty result; failed auxiliary handles are skipped.
func (c *NodeClient) FetchEvents(ctx context.Context, marketID string, since uint64) []types.StakeEvent {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues(nodeSource, "events").Observe(time.Since(start).Seconds())
	}()

	var events []types.StakeEvent
	for _, field := range c.fields {
		kind := c.cfg.EventFields[field]

		raw, err := c.fetchHandle(ctx, field, since)
		if err != nil {
			FetchErrorsTotal.WithLabelValues(nodeSource, "events").Inc()
			c.logger.Warn("fetch-events-failed",
				zap.String("market-id", marketID),
				zap.String("field", field),
				zap.Error(err))

			if kind == types.EventKindStake {
				return []types.StakeEvent{}
			}
			continue
		}

		for _, re := range raw {
			if !sameMarket(re.Data.str(marketFields...), marketID) {
				continue
			}

			seq, err := strconv.ParseUint(re.SequenceNumber, 10, 64)
			if err != nil {
				seq = 0
			} else if kind == types.EventKindStake {
				// Handle sequences start at 0, which means unassigned here.
				seq++
			} else {
				// Sequences are per handle; only stake sequences are kept.
				seq = 0
			}

			ev, err := normalizeEvent(kind, re.Data, seq, c.cfg.TokenDecimals)
			if err != nil {
				EventsDroppedTotal.WithLabelValues(nodeSource, err.Error()).Inc()
				c.logger.Debug("dropping-event",
					zap.String("market-id", marketID),
					zap.String("sequence", re.SequenceNumber),
					zap.Error(err))
				continue
			}

			EventsFetchedTotal.WithLabelValues(nodeSource, string(kind)).Inc()
			events = append(events, ev)
		}
	}

	if events == nil {
		events = []types.StakeEvent{}
	}

	c.logger.Debug("fetched-events",
		zap.String("market-id", marketID),
		zap.Int("count", len(events)))

	return events
}

// fetchHandle pages through one event handle until a short page.
func (c *NodeClient) fetchHandle(ctx context.Context, field string, since uint64) ([]nodeEvent, error) {
	handle := fmt.Sprintf("%s::%s::%s", c.cfg.ModuleAddress, c.cfg.ModuleName, c.cfg.EventStruct)
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/events/%s/%s",
		c.cfg.BaseURL, c.cfg.ModuleAddress, url.PathEscape(handle), field)

	var (
		all    []nodeEvent
		cursor = since
	)

	for {
		params := url.Values{}
		params.Add("start", strconv.FormatUint(cursor, 10))
		params.Add("limit", strconv.Itoa(c.cfg.PageLimit))

		body, err := c.do(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page []nodeEvent
		err = json.Unmarshal(body, &page)
		if err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}

		all = append(all, page...)

		if len(page) < c.cfg.PageLimit {
			break
		}
		cursor += uint64(len(page))
	}

	return all, nil
}

// FetchMarket calls the configured view function with the market id.
func (c *NodeClient) FetchMarket(ctx context.Context, marketID string) (*types.MarketInfo, error) {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues(nodeSource, "view").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(map[string]any{
		"function":       fmt.Sprintf("%s::%s::%s", c.cfg.ModuleAddress, c.cfg.ModuleName, c.cfg.ViewFunction),
		"type_arguments": []string{},
		"arguments":      []string{marketID},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal view request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/view", payload)
	if err != nil {
		FetchErrorsTotal.WithLabelValues(nodeSource, "view").Inc()
		return nil, fmt.Errorf("view market: %w", err)
	}

	info, err := parseViewResult(marketID, body, c.cfg.TokenDecimals)
	if err != nil {
		FetchErrorsTotal.WithLabelValues(nodeSource, "view").Inc()
		return nil, err
	}

	return info, nil
}

func (c *NodeClient) do(ctx context.Context, method, requestURL string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "oreka-tracker/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// parseViewResult normalizes the view response, which is a list of return
// values whose first element is either the market struct or its open time.
func parseViewResult(marketID string, body []byte, decimals int32) (*types.MarketInfo, error) {
	var values []json.RawMessage
	err := json.Unmarshal(body, &values)
	if err != nil {
		return nil, fmt.Errorf("unmarshal view result: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty view result for %s: %w", marketID, types.ErrMarketNotFound)
	}

	var fields rawFields
	if json.Unmarshal(values[0], &fields) != nil {
		// Positional form: (open_time, close_time, amounts, resolved).
		fields = rawFields{}
		names := []string{"open_time", "close_time", "outcome_amounts", "resolved"}
		for i, v := range values {
			if i < len(names) {
				fields[names[i]] = v
			}
		}
	}

	info := &types.MarketInfo{MarketID: marketID}

	if v, ok := fields.dec("bidding_start_time", "open_time", "start_time"); ok {
		info.OpenTime = NormalizeTimestamp(v.IntPart())
	}
	if v, ok := fields.dec("bidding_end_time", "close_time", "end_time"); ok {
		info.CloseTime = NormalizeTimestamp(v.IntPart())
	}
	// Without a close the bidding window is unknown and must not be guessed.
	if info.CloseTime <= 0 {
		return nil, fmt.Errorf("view result for %s has no close time: %w", marketID, types.ErrMarketNotFound)
	}

	if raw, ok := fields.first("outcome_amounts", "amounts"); ok {
		var amounts []json.RawMessage
		err = json.Unmarshal(raw, &amounts)
		if err != nil {
			return nil, fmt.Errorf("unmarshal outcome amounts: %w", err)
		}
		for _, a := range amounts {
			d, _ := parseDecimal(a)
			info.Totals = append(info.Totals, toDisplay(d, decimals))
		}
	} else {
		long, okLong := fields.dec("long_amount", "total_long")
		short, okShort := fields.dec("short_amount", "total_short")
		if okLong || okShort {
			info.Totals = []float64{toDisplay(long, decimals), toDisplay(short, decimals)}
		}
	}

	info.Outcomes = len(info.Totals)
	if v, ok := fields.dec("outcome_count", "num_outcomes"); ok && int(v.IntPart()) > info.Outcomes {
		info.Outcomes = int(v.IntPart())
	}

	if raw, ok := fields.first("is_resolved", "resolved"); ok {
		_ = json.Unmarshal(raw, &info.Resolved)
	}

	return info, nil
}
