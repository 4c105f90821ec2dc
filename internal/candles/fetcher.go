package candles

import (
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
	"github.com/shopspring/decimal"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// Binance reports an unknown symbol with this error code.
const binanceInvalidSymbol = -1121

// Fetcher loads candles from an upstream price source.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, interval string, limit int) ([]types.Candle, error)
}

// BinanceFetcher reads klines from the Binance spot REST API.
type BinanceFetcher struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBinanceFetcher creates a new klines client.
func NewBinanceFetcher(baseURL string, timeout time.Duration, logger *zap.Logger) *BinanceFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Fetch returns up to limit candles. An unlisted symbol is an empty result.
func (b *BinanceFetcher) Fetch(ctx context.Context, symbol string, interval string, limit int) ([]types.Candle, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", interval)
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}

	requestURL := fmt.Sprintf("%s/api/v3/klines?%s", b.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "oreka-tracker/1.0")

	b.logger.Debug("fetching-klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("limit", limit))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		var apiErr binanceError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == binanceInvalidSymbol {
			return []types.Candle{}, nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var rows [][]json.RawMessage
	err = json.Unmarshal(body, &rows)
	if err != nil {
		return nil, fmt.Errorf("unmarshal klines: %w", err)
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	return candles, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, ...] where
// prices are strings and times are numbers.
func parseKline(row []json.RawMessage) (types.Candle, error) {
	if len(row) < 6 {
		return types.Candle{}, fmt.Errorf("kline has %d fields, want at least 6", len(row))
	}

	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		text := strings.Trim(string(row[i]), `"`)
		d, err := decimal.NewFromString(text)
		if err != nil {
			return types.Candle{}, fmt.Errorf("parse kline field %d: %w", i, err)
		}
		vals[i], _ = d.Float64()
	}

	if vals[0] <= 0 {
		return types.Candle{}, errors.New("kline open time missing")
	}

	return types.Candle{
		OpenTime: int64(vals[0]),
		Open:     vals[1],
		High:     vals[2],
		Low:      vals[3],
		Close:    vals[4],
		Volume:   vals[5],
	}, nil
}
