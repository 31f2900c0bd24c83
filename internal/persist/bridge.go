package persist

import (
	"context"
	"log"
	"sync"
	"time"

	"canvas-backend/internal/canvas"
)

const flushTimeout = 10 * time.Second

// Bridge flushes one board's element store to durable storage. Triggered by a
// fixed interval and by a debounce window after the last mutation, whichever
// fires first, never more than once per window. The bridge is the single
// writer to durable storage for its board: flushes run on one goroutine, and
// a dirty signal arriving mid-flush coalesces into the next cycle instead of
// queueing. Failures are logged and retried on the next trigger; the live
// in-memory store stays authoritative regardless.
type Bridge struct {
	store    *canvas.Store
	saver    BoardStore
	interval time.Duration
	debounce time.Duration

	dirty  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushMu     sync.Mutex // serializes background and manual flushes
	mu          sync.Mutex
	lastFlushed int64
}

// NewBridge creates a bridge for one board's store.
func NewBridge(store *canvas.Store, saver BoardStore, interval, debounce time.Duration) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		store:       store,
		saver:       saver,
		interval:    interval,
		debounce:    debounce,
		dirty:       make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		lastFlushed: store.Version(),
	}
}

// Start launches the flush loop.
func (b *Bridge) Start() {
	go b.run()
}

// MarkDirty signals a local mutation, arming the debounce window. Non-blocking.
func (b *Bridge) MarkDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

// Stop flushes a final time and terminates the loop.
func (b *Bridge) Stop() {
	b.cancel()
	<-b.done
	if err := b.Flush(context.Background()); err != nil {
		log.Printf("[Persist] Final flush for board %s failed: %v", b.store.BoardID(), err)
	}
}

// Flush writes the current snapshot if it moved past the last flushed
// version. Safe to call concurrently with the background loop.
func (b *Bridge) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	snap := b.store.Snapshot()

	b.mu.Lock()
	clean := snap.Version == b.lastFlushed
	b.mu.Unlock()
	if clean {
		return nil
	}

	if err := b.saver.Save(ctx, snap); err != nil {
		return err
	}

	b.mu.Lock()
	if snap.Version > b.lastFlushed {
		b.lastFlushed = snap.Version
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	// Idle debounce timer, re-armed on every dirty signal.
	quiet := time.NewTimer(b.debounce)
	if !quiet.Stop() {
		<-quiet.C
	}

	for {
		select {
		case <-b.ctx.Done():
			return

		case <-b.dirty:
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(b.debounce)

		case <-quiet.C:
			b.flushLogged()

		case <-ticker.C:
			b.flushLogged()
		}
	}
}

func (b *Bridge) flushLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := b.Flush(ctx); err != nil {
		// Never fatal to the live session; retried on the next trigger.
		log.Printf("[Persist] Flush for board %s failed: %v", b.store.BoardID(), err)
	}
}
