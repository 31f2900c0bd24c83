package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/hub"
	"canvas-backend/internal/model"
	"canvas-backend/internal/persist"
)

// BoardHandler serves read-only board snapshots over HTTP. Board metadata
// CRUD lives in the external platform API; this endpoint only exposes canvas
// content for previews and exports.
type BoardHandler struct {
	hub   *hub.RoomHub
	store persist.BoardStore
}

// NewBoardHandler creates the handler.
func NewBoardHandler(h *hub.RoomHub, store persist.BoardStore) *BoardHandler {
	return &BoardHandler{hub: h, store: store}
}

// GetBoard returns the board's current element collection. A live room's
// in-memory replica wins over the durable snapshot, which may lag by up to
// the flush interval.
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board id is required"})
	}

	var board *model.Board
	if eventID := c.Query("eventId"); eventID != "" {
		if room := h.hub.Room(roomKey(eventID, boardID)); room != nil {
			board = room.Store().Snapshot()
		}
	}

	if board == nil {
		loaded, err := h.store.Load(c.Context(), boardID)
		if errors.Is(err, persist.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
		}
		if err != nil {
			log.Printf("[Board] Load %s failed: %v", boardID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load board"})
		}
		board = loaded
	}

	return c.JSON(fiber.Map{
		"success": true,
		"board":   board,
	})
}
