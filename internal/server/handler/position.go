package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Positions() []domain.Position
	Position(symbol string) (domain.Position, bool)
	Close(ctx context.Context, symbol string) (domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every open position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns the open position for one symbol.
// GET /api/positions/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	pos, ok := h.positions.Position(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no open position for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition closes the open position for one symbol at the last known
// price.
// DELETE /api/positions/{symbol}
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	pos, err := h.positions.Close(r.Context(), symbol)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no open position for "+symbol)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: position closed by operator",
		slog.String("symbol", symbol),
	)
	writeJSON(w, http.StatusOK, pos)
}
