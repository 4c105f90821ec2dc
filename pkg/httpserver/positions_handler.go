package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/trongkhoidev/oreka-tracker/internal/signal"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// maxStakeBody bounds POST /stakes request bodies.
const maxStakeBody = 4 << 10

// PositionsHandler handles HTTP requests for market timelines.
type PositionsHandler struct {
	positions PositionReader
	stakes    StakePublisher
	logger    *zap.Logger
}

// NewPositionsHandler creates a new positions handler.
func NewPositionsHandler(positions PositionReader, stakes StakePublisher, logger *zap.Logger) *PositionsHandler {
	return &PositionsHandler{
		positions: positions,
		stakes:    stakes,
		logger:    logger,
	}
}

// MarketsResponse lists tracked markets.
type MarketsResponse struct {
	Markets []string `json:"markets"`
}

// HistoryResponse is a market's timeline inside a window.
type HistoryResponse struct {
	MarketID string                   `json:"market_id"`
	Window   types.HistoryWindow      `json:"window"`
	Points   []types.PositionSnapshot `json:"points"`
}

// StakeRequest is the body of POST /api/markets/{marketID}/stakes.
// Side accepts an outcome index or a name such as "long" or "short".
type StakeRequest struct {
	Side   json.RawMessage `json:"side"`
	Amount float64         `json:"amount"`
	User   string          `json:"user"`
	Time   int64           `json:"time,omitempty"`
}

// StakeResponse acknowledges a published stake.
type StakeResponse struct {
	RequestID string                  `json:"request_id"`
	Snapshot  *types.PositionSnapshot `json:"snapshot,omitempty"`
}

// HandleMarkets handles GET /api/markets.
func (h *PositionsHandler) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, MarketsResponse{Markets: h.positions.Markets()})
}

// HandleCurrent handles GET /api/markets/{marketID}/current.
func (h *PositionsHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	snap, ok := h.positions.GetCurrent(marketID)
	if !ok {
		writeError(w, h.logger, types.ErrMarketNotFound.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, snap)
}

// HandleHistory handles GET /api/markets/{marketID}/history?window=24h|7d|30d|all.
func (h *PositionsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	window, err := types.ParseHistoryWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, HistoryResponse{
		MarketID: marketID,
		Window:   window,
		Points:   h.positions.GetHistory(marketID, window),
	})
}

// HandleStake handles POST /api/markets/{marketID}/stakes. The stake is
// published on the local signal bus and answered with the resulting snapshot.
func (h *PositionsHandler) HandleStake(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxStakeBody))
	if err != nil {
		writeError(w, h.logger, "read request body", http.StatusBadRequest)
		return
	}

	var req StakeRequest
	err = json.Unmarshal(body, &req)
	if err != nil {
		writeError(w, h.logger, "invalid JSON body", http.StatusBadRequest)
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	ev := types.StakeEvent{
		MarketID: marketID,
		Time:     req.Time,
		Side:     side,
		Amount:   req.Amount,
		User:     req.User,
		Kind:     types.EventKindStake,
	}
	err = ev.Validate()
	if err != nil {
		writeError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	h.stakes.Publish(signal.StakePlaced{RequestID: requestID, Event: ev})
	StakesAcceptedTotal.Inc()

	h.logger.Info("stake-accepted",
		zap.String("request-id", requestID),
		zap.String("market-id", marketID),
		zap.Int("side", side),
		zap.Float64("amount", req.Amount))

	resp := StakeResponse{RequestID: requestID}
	if snap, ok := h.positions.GetCurrent(marketID); ok {
		resp.Snapshot = &snap
	}

	writeJSON(w, h.logger, http.StatusAccepted, resp)
}

func parseSide(raw json.RawMessage) (int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, errors.New("missing side")
	}

	if strings.HasPrefix(text, `"`) {
		var s string
		err := json.Unmarshal(raw, &s)
		if err != nil {
			return 0, types.ErrInvalidSide
		}
		return types.ParseSide(s)
	}

	idx, err := strconv.Atoi(text)
	if err != nil || idx < 0 {
		return 0, types.ErrInvalidSide
	}
	return idx, nil
}
