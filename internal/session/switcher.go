package session

import (
	"context"
	"log"
)

// Flusher persists a board on demand. Satisfied by the persistence registry.
type Flusher interface {
	Flush(ctx context.Context, boardID string) error
}

// Switcher moves a live session between boards of the same event. The
// sequencing is flush -> leave -> join so in-flight edits on the outgoing
// board are durable before the room is left.
type Switcher struct {
	manager *Manager
	flusher Flusher
}

// NewSwitcher wires the switcher to its session manager and flusher.
func NewSwitcher(manager *Manager, flusher Flusher) *Switcher {
	return &Switcher{manager: manager, flusher: flusher}
}

// Switch flushes the outgoing board, terminates the current session and joins
// the new board's room over the given transport. A flush failure is logged
// and does not abort the switch: the in-memory store stays authoritative and
// the room's final flush retries on release.
func (w *Switcher) Switch(ctx context.Context, s *Session, newRoomID, newBoardID string, t Transport) (*Session, error) {
	if err := w.flusher.Flush(ctx, s.BoardID); err != nil {
		log.Printf("[Switch] Flush of outgoing board %s failed: %v", s.BoardID, err)
	}

	w.manager.Leave(s)

	return w.manager.Join(ctx, s.ClientID, newRoomID, newBoardID, t)
}
