package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/trongkhoidev/oreka-tracker/internal/candles"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// CandlesHandler handles HTTP requests for cached price candles.
type CandlesHandler struct {
	candles CandleReader
	logger  *zap.Logger
}

// NewCandlesHandler creates a new candles handler.
func NewCandlesHandler(c CandleReader, logger *zap.Logger) *CandlesHandler {
	return &CandlesHandler{
		candles: c,
		logger:  logger,
	}
}

// CandlesResponse carries candles for one symbol and interval.
type CandlesResponse struct {
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Candles  []types.Candle `json:"candles"`
}

// HandleCandles handles GET /api/candles?symbol=<symbol>&interval=<interval>.
func (h *CandlesHandler) HandleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	interval := r.URL.Query().Get("interval")
	if symbol == "" || interval == "" {
		writeError(w, h.logger, "missing required query parameters: symbol, interval", http.StatusBadRequest)
		return
	}

	data, err := h.candles.Get(r.Context(), symbol, interval)
	if errors.Is(err, candles.ErrInvalidKey) {
		writeError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Warn("candles-request-failed",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Error(err))
		writeError(w, h.logger, "candles unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, CandlesResponse{
		Symbol:   symbol,
		Interval: interval,
		Candles:  data,
	})
}
