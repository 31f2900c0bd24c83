package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/history"
	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
)

// BoardLoader resolves the element store for a board when its room is first
// opened. Implemented by the persistence layer.
type BoardLoader interface {
	LoadBoard(ctx context.Context, boardID, roomID string) (*canvas.Store, error)
}

// Sender is the write side of a client connection. *websocket.Conn satisfies
// it; tests substitute an in-memory sink.
type Sender interface {
	WriteMessage(messageType int, data []byte) error
}

// Client is one connected participant of a room.
type Client struct {
	ConnectionID string
	UserID       string
	Name         string
	AvatarRef    string
	Conn         Sender
	History      *history.Manager

	writeMu sync.Mutex
}

type outbound struct {
	msg     Message
	exclude string // connectionID to skip, "" for everyone
}

// RoomHub manages all rooms and their connections.
type RoomHub struct {
	rooms    map[string]*Room
	mu       sync.RWMutex
	loader   BoardLoader
	onMutate func(*Room) // persistence dirty hook
	onEmpty  func(*Room) // final-flush hook before a room is dropped
}

// Room is the broadcast scope shared by all sessions collaborating on one
// board. The room owns the server's store replica (used for join bootstrap
// and persistence) and a per-client history manager.
type Room struct {
	ID    string
	store *canvas.Store

	tracker   *presence.Tracker
	clients   map[string]*Client
	broadcast chan outbound
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	hub       *RoomHub
	isRunning bool
}

// NewRoomHub creates a hub. The hooks may be nil.
func NewRoomHub(loader BoardLoader, onMutate, onEmpty func(*Room)) *RoomHub {
	return &RoomHub{
		rooms:    make(map[string]*Room),
		loader:   loader,
		onMutate: onMutate,
		onEmpty:  onEmpty,
	}
}

// GetOrCreateRoom returns the room for roomID, loading the board's store on
// first open.
func (h *RoomHub) GetOrCreateRoom(ctx context.Context, roomID, boardID string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[roomID]; exists {
		return room, nil
	}

	store, err := h.loader.LoadBoard(ctx, boardID, roomID)
	if err != nil {
		return nil, err
	}

	roomCtx, cancel := context.WithCancel(context.Background())
	room := &Room{
		ID:        roomID,
		store:     store,
		tracker:   presence.NewTracker(),
		clients:   make(map[string]*Client),
		broadcast: make(chan outbound, 256),
		ctx:       roomCtx,
		cancel:    cancel,
		hub:       h,
	}

	h.rooms[roomID] = room
	log.Printf("[RoomHub] Opened room %s (board %s, %d elements)", roomID, boardID, store.Len())
	return room, nil
}

// Room returns an open room, or nil.
func (h *RoomHub) Room(roomID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// RemoveRoom shuts down and drops an empty room. A room that gained a member
// since the removal was scheduled is left alone.
func (h *RoomHub) RemoveRoom(roomID string) {
	h.mu.Lock()
	room, exists := h.rooms[roomID]
	if exists {
		room.mu.RLock()
		occupied := len(room.clients) > 0
		room.mu.RUnlock()
		if occupied {
			h.mu.Unlock()
			return
		}
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if !exists {
		return
	}
	if h.onEmpty != nil {
		h.onEmpty(room)
	}
	room.shutdown()
	log.Printf("[RoomHub] Closed room %s", roomID)
}

// Shutdown closes every room, running the final-flush hook for each.
func (h *RoomHub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for id, room := range h.rooms {
		rooms = append(rooms, room)
		delete(h.rooms, id)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		if h.onEmpty != nil {
			h.onEmpty(room)
		}
		room.shutdown()
	}
}

// =============================================================================
// Room membership
// =============================================================================

// Store exposes the room's element store replica.
func (r *Room) Store() *canvas.Store { return r.store }

// BoardID returns the id of the board this room collaborates on.
func (r *Room) BoardID() string { return r.store.BoardID() }

// Join registers a client, seeds its history with the current board state and
// announces it to the rest of the room. Returns the bootstrap payload the
// caller replies with.
func (r *Room) Join(c *Client) CurrentMembersPayload {
	record := presence.Record{
		ConnectionID: c.ConnectionID,
		UserID:       c.UserID,
		Name:         c.Name,
		AvatarRef:    c.AvatarRef,
	}

	// Register before snapshotting, under the same lock the fan-out reads
	// the client list with: a mutation fanned out before registration is
	// visible in the snapshot, one fanned out after is delivered over the
	// socket, and the overlap is absorbed by idempotent adds.
	r.mu.Lock()
	r.clients[c.ConnectionID] = c
	members := r.tracker.Join(record)
	snap := r.store.Snapshot()
	c.History = history.New(snap.Elements, history.DefaultLimit)
	if !r.isRunning {
		r.isRunning = true
		go r.runBroadcaster()
	}
	r.mu.Unlock()

	joined, _ := r.tracker.Get(c.ConnectionID)
	r.send(MustMessage(TypeMemberJoined, joined), c.ConnectionID)

	log.Printf("[Room %s] Joined: conn=%s user=%s, members=%d",
		r.ID, c.ConnectionID, c.UserID, len(members))

	return CurrentMembersPayload{
		BoardID:  snap.ID,
		RoomID:   r.ID,
		Version:  snap.Version,
		Members:  members,
		Elements: snap.Elements,
		CanUndo:  c.History.CanUndo(),
		CanRedo:  c.History.CanRedo(),
	}
}

// Leave evicts a client and announces the departure. Runs on every session
// exit path regardless of which edge caused it.
func (r *Room) Leave(connectionID string) {
	r.mu.Lock()
	_, known := r.clients[connectionID]
	delete(r.clients, connectionID)
	r.tracker.Leave(connectionID)
	remaining := len(r.clients)
	r.mu.Unlock()

	if !known {
		return
	}

	r.send(MustMessage(TypeMemberLeft, MemberLeftPayload{ConnectionID: connectionID}), connectionID)
	log.Printf("[Room %s] Left: conn=%s, remaining=%d", r.ID, connectionID, remaining)

	if remaining == 0 {
		go r.hub.RemoveRoom(r.ID)
	}
}

// Members returns the current presence snapshot.
func (r *Room) Members() []presence.Record {
	return r.tracker.Snapshot()
}

// Member returns one member's presence record.
func (r *Room) Member(connectionID string) (presence.Record, bool) {
	return r.tracker.Get(connectionID)
}

// =============================================================================
// Element events
// =============================================================================

// HandleAdd applies an element-add from sender and fans it out. Duplicate ids
// are suppressed, not errors: applying the same add twice leaves the store
// unchanged and nothing is rebroadcast.
func (r *Room) HandleAdd(sender string, e *model.DrawingElement) bool {
	if !r.store.Add(e) {
		return false
	}
	r.afterMutation()
	r.send(MustMessage(TypeElementAdded, r.store.Get(e.ID)), sender)
	return true
}

// HandleUpdate applies a partial update. Updates addressing unknown ids are
// dropped silently: the element may have been deleted concurrently.
func (r *Room) HandleUpdate(sender string, u *model.ElementUpdate) bool {
	updated := r.store.Update(u)
	if updated == nil {
		return false
	}
	r.afterMutation()
	r.send(MustMessage(TypeElementUpdated, updated), sender)
	return true
}

// HandleDelete removes an element by id.
func (r *Room) HandleDelete(sender, id string) bool {
	if !r.store.Delete(id) {
		return false
	}
	r.afterMutation()
	r.send(MustMessage(TypeElementDeleted, DeletePayload{ID: id}), sender)
	return true
}

// HandleClear resets the board for every receiver unconditionally.
func (r *Room) HandleClear(sender string) {
	r.store.Clear()
	r.afterMutation()
	r.send(Message{Type: TypeElementsCleared}, sender)
}

// Undo steps the sender's history back and converges the whole room onto the
// restored snapshot. At the bottom of the stack it is a no-op.
func (r *Room) Undo(sender string) bool {
	return r.timeTravel(sender, func(h *history.Manager) ([]*model.DrawingElement, bool) {
		return h.Undo()
	})
}

// Redo steps the sender's history forward. At the tail it is a no-op.
func (r *Room) Redo(sender string) bool {
	return r.timeTravel(sender, func(h *history.Manager) ([]*model.DrawingElement, bool) {
		return h.Redo()
	})
}

func (r *Room) timeTravel(sender string, step func(*history.Manager) ([]*model.DrawingElement, bool)) bool {
	r.mu.RLock()
	c := r.clients[sender]
	r.mu.RUnlock()
	if c == nil || c.History == nil {
		return false
	}

	snapshot, ok := step(c.History)
	if !ok {
		return false
	}

	r.store.Replace(snapshot)
	// Other participants observe the replace as a regular mutation; the
	// initiator's own stack pointer already moved.
	r.pushHistories(sender)
	if r.hub.onMutate != nil {
		r.hub.onMutate(r)
	}

	r.send(MustMessage(TypeElementsReplaced, ElementsReplacedPayload{
		Elements: r.store.Elements(),
		Version:  r.store.Version(),
	}), "")
	return true
}

// Cursor records and fans out a cursor move. Cursor traffic is lossy: stale
// packets are overwritten, unknown connections are ignored.
func (r *Room) Cursor(sender string, pos model.Point) {
	if !r.tracker.UpdateCursor(sender, pos) {
		return
	}
	r.send(MustMessage(TypeCursorMoved, CursorMovedPayload{
		ConnectionID: sender,
		Position:     pos,
	}), sender)
}

// afterMutation advances every observer's timeline and marks the board
// dirty. The sender's history advances too: any change the user observes,
// own or remote, is a new undo point.
func (r *Room) afterMutation() {
	r.pushHistories("")
	if r.hub.onMutate != nil {
		r.hub.onMutate(r)
	}
}

func (r *Room) pushHistories(skip string) {
	elements := r.store.Elements()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.clients {
		if id == skip || c.History == nil {
			continue
		}
		c.History.Push(elements)
	}
}

// =============================================================================
// Broadcast
// =============================================================================

// send queues a message for fan-out, dropping it when the buffer is full.
func (r *Room) send(msg Message, exclude string) {
	select {
	case r.broadcast <- outbound{msg: msg, exclude: exclude}:
	case <-r.ctx.Done():
	default:
		log.Printf("[Room %s] Broadcast buffer full, dropping %s", r.ID, msg.Type)
	}
}

func (r *Room) runBroadcaster() {
	log.Printf("[Room %s] Broadcaster started", r.ID)
	defer log.Printf("[Room %s] Broadcaster stopped", r.ID)

	for {
		select {
		case <-r.ctx.Done():
			return
		case out, ok := <-r.broadcast:
			if !ok {
				return
			}
			r.fanOut(out)
		}
	}
}

func (r *Room) fanOut(out outbound) {
	data, err := json.Marshal(out.msg)
	if err != nil {
		log.Printf("[Room %s] Failed to marshal %s: %v", r.ID, out.msg.Type, err)
		return
	}

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == out.exclude {
			continue
		}
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.writeMu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			log.Printf("[Room %s] Failed to send %s to %s: %v", r.ID, out.msg.Type, c.ConnectionID, err)
		}
	}
}

// SendTo writes a message to a single client, bypassing the fan-out queue.
// Used for join bootstrap and error replies.
func (r *Room) SendTo(connectionID string, msg Message) {
	r.mu.RLock()
	c := r.clients[connectionID]
	r.mu.RUnlock()
	if c == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[Room %s] Failed to send %s to %s: %v", r.ID, msg.Type, connectionID, err)
	}
}

func (r *Room) shutdown() {
	r.cancel()
	r.mu.Lock()
	r.isRunning = false
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
}
