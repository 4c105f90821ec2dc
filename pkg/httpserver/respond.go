package httpserver

import (
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, message string, statusCode int) {
	writeJSON(w, logger, statusCode, ErrorResponse{Error: message})
}
