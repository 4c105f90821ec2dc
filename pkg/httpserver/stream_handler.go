package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must exceed pingInterval
	maxMessageSize = 512
	sendBufferSize = 64
)

// StreamHandler upgrades requests to WebSocket streams of market snapshots.
// Each connection holds one subscription, released when the connection closes.
type StreamHandler struct {
	subscriptions Subscriber
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(subs Subscriber, allowedOrigins []string, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		subscriptions: subs,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// SnapshotMessage is one frame of a market stream.
type SnapshotMessage struct {
	Type     string                 `json:"type"`
	MarketID string                 `json:"market_id"`
	Snapshot types.PositionSnapshot `json:"snapshot"`
}

// HandleStream handles GET /ws/markets/{marketID}.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream-upgrade-failed", zap.String("market-id", marketID), zap.Error(err))
		return
	}

	StreamConnections.Inc()
	h.logger.Debug("stream-opened",
		zap.String("market-id", marketID),
		zap.String("remote-addr", r.RemoteAddr))

	send := make(chan []byte, sendBufferSize)
	done := make(chan struct{})

	unsubscribe := h.subscriptions.Subscribe(marketID, func(snap types.PositionSnapshot) {
		data, err := json.Marshal(SnapshotMessage{Type: "snapshot", MarketID: marketID, Snapshot: snap})
		if err != nil {
			h.logger.Error("stream-marshal-failed", zap.Error(err))
			return
		}
		select {
		case <-done:
		case send <- data:
		default:
			StreamDroppedTotal.Inc()
		}
	})

	go h.readPump(conn, done)
	h.writePump(conn, send, done)

	unsubscribe()
	StreamConnections.Dec()
	h.logger.Debug("stream-closed", zap.String("market-id", marketID))
}

// writePump drains send until the read side reports the connection gone.
func (h *StreamHandler) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case message := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := conn.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and closes done when the peer goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream-read-error", zap.Error(err))
			}
			return
		}
	}
}
