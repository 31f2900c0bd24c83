package persist

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"canvas-backend/internal/canvas"
)

// Registry owns one bridge per active board. It also serves as the board
// loader for the room hub, so a room's store and its flusher share a
// lifecycle.
type Registry struct {
	store    BoardStore
	interval time.Duration
	debounce time.Duration

	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewRegistry creates a registry flushing through the given store.
func NewRegistry(store BoardStore, interval, debounce time.Duration) *Registry {
	return &Registry{
		store:    store,
		interval: interval,
		debounce: debounce,
		bridges:  make(map[string]*Bridge),
	}
}

// LoadBoard resolves the element store for a board, creating an empty board
// when no snapshot exists yet, and starts its flush bridge.
func (r *Registry) LoadBoard(ctx context.Context, boardID, roomID string) (*canvas.Store, error) {
	// Any bridge still registered for this board must land its final flush
	// before the durable read, or reopening the board could resurrect a
	// stale snapshot.
	r.mu.Lock()
	old := r.bridges[boardID]
	delete(r.bridges, boardID)
	r.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	board, err := r.store.Load(ctx, boardID)

	var cs *canvas.Store
	switch {
	case err == nil:
		board.RoomID = roomID
		cs = canvas.NewStoreFromBoard(board)
	case errors.Is(err, ErrNotFound):
		cs = canvas.NewStore(boardID, roomID, boardID)
	default:
		return nil, err
	}

	bridge := NewBridge(cs, r.store, r.interval, r.debounce)
	bridge.Start()

	r.mu.Lock()
	r.bridges[boardID] = bridge
	r.mu.Unlock()

	return cs, nil
}

// MarkDirty arms the debounce window for a board. Unknown boards are ignored.
func (r *Registry) MarkDirty(boardID string) {
	r.mu.Lock()
	bridge := r.bridges[boardID]
	r.mu.Unlock()
	if bridge != nil {
		bridge.MarkDirty()
	}
}

// Flush forces a synchronous flush for a board (board switch, shutdown).
func (r *Registry) Flush(ctx context.Context, boardID string) error {
	r.mu.Lock()
	bridge := r.bridges[boardID]
	r.mu.Unlock()
	if bridge == nil {
		return nil
	}
	return bridge.Flush(ctx)
}

// Release final-flushes a board and drops its bridge, but only while the
// given store is still the registered one. A reopen of the same board may
// have already replaced the bridge; that newer bridge must keep running.
func (r *Registry) Release(boardID string, store *canvas.Store) {
	r.mu.Lock()
	bridge := r.bridges[boardID]
	if bridge == nil || bridge.store != store {
		r.mu.Unlock()
		return
	}
	delete(r.bridges, boardID)
	r.mu.Unlock()
	bridge.Stop()
}

// Shutdown final-flushes every active board.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for id, b := range r.bridges {
		bridges = append(bridges, b)
		delete(r.bridges, id)
	}
	r.mu.Unlock()

	for _, b := range bridges {
		b.Stop()
	}
	log.Printf("[Persist] Flushed %d board(s) on shutdown", len(bridges))
}
