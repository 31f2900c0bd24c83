package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"canvas-backend/internal/hub"
	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/session"
)

// CanvasWSHandler drives the room-scoped canvas protocol over websocket.
// Each connection is one logical session per (client, room); the session
// manager rejects duplicates and guarantees teardown on every exit path.
type CanvasWSHandler struct {
	hub       *hub.RoomHub
	sessions  *session.Manager
	switcher  *session.Switcher
	publisher *presence.Publisher // nil when redis is disabled
}

// NewCanvasWSHandler creates the handler.
func NewCanvasWSHandler(h *hub.RoomHub, sessions *session.Manager, switcher *session.Switcher, publisher *presence.Publisher) *CanvasWSHandler {
	return &CanvasWSHandler{
		hub:       h,
		sessions:  sessions,
		switcher:  switcher,
		publisher: publisher,
	}
}

// roomKey addresses the broadcast scope: one room per (event, board).
func roomKey(eventID, boardID string) string {
	return eventID + ":" + boardID
}

// boardTransport is the server side of a session's network round trip:
// Connect registers with the room and sends the synchronization bootstrap,
// Close evicts presence and broadcasts the leave. The session manager calls
// Close on every exit path, so cleanup cannot be skipped.
type boardTransport struct {
	handler      *CanvasWSHandler
	conn         *websocket.Conn
	connectionID string
	userID       string
	name         string
	avatarRef    string
	roomID       string
	boardID      string

	mu   sync.Mutex
	room *hub.Room
}

func (t *boardTransport) Connect(ctx context.Context) error {
	room, err := t.handler.hub.GetOrCreateRoom(ctx, t.roomID, t.boardID)
	if err != nil {
		return err
	}

	client := &hub.Client{
		ConnectionID: t.connectionID,
		UserID:       t.userID,
		Name:         t.name,
		AvatarRef:    t.avatarRef,
		Conn:         t.conn,
	}
	boot := room.Join(client)

	t.mu.Lock()
	t.room = room
	t.mu.Unlock()

	room.SendTo(t.connectionID, hub.MustMessage(hub.TypeCurrentMembers, boot))
	t.handler.publishPresence(presence.UpdateJoined, room, t.connectionID)
	return nil
}

func (t *boardTransport) Close() error {
	t.mu.Lock()
	room := t.room
	t.room = nil
	t.mu.Unlock()

	if room != nil {
		t.handler.publishPresence(presence.UpdateLeft, room, t.connectionID)
		room.Leave(t.connectionID)
	}
	return nil
}

// Room returns the room joined by Connect.
func (t *boardTransport) Room() *hub.Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room
}

// HandleWebSocket runs one connection's read loop. Identity and board
// addressing are resolved by the upgrade middleware.
func (h *CanvasWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok1 := c.Locals("userId").(string)
	name, ok2 := c.Locals("name").(string)
	eventID, ok3 := c.Locals("eventId").(string)
	boardID, ok4 := c.Locals("boardId").(string)
	avatarRef, _ := c.Locals("avatarRef").(string)

	if !ok1 || !ok2 || !ok3 || !ok4 {
		writeError(c, hub.CodeInvalidPayload, "invalid session context")
		c.Close()
		return
	}

	// connCtx spans this connection; joins and switches die with it.
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectionID := uuid.New().String()
	transport := &boardTransport{
		handler:      h,
		conn:         c,
		connectionID: connectionID,
		userID:       userID,
		name:         name,
		avatarRef:    avatarRef,
		roomID:       roomKey(eventID, boardID),
		boardID:      boardID,
	}

	sess, err := h.sessions.Join(connCtx, userID, transport.roomID, boardID, transport)
	if err != nil {
		if err == session.ErrDuplicateSession {
			writeError(c, hub.CodeDuplicateSession, "client already connected to this room")
		} else {
			writeError(c, hub.CodeBoardUnavailable, "failed to join board")
			log.Printf("[CanvasWS] Join failed for user %s board %s: %v", userID, boardID, err)
		}
		c.Close()
		return
	}

	defer func() {
		h.sessions.Leave(sess)
		c.Close()
	}()

	log.Printf("[CanvasWS] Connected: conn=%s user=%s room=%s", connectionID, userID, transport.roomID)

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			return
		}

		var msg hub.Message
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			// Malformed frames are dropped, never surfaced as faults.
			log.Printf("[CanvasWS] Dropping malformed frame from %s", connectionID)
			continue
		}

		room := transport.Room()
		if room == nil {
			return
		}

		switch msg.Type {
		case hub.TypeElementAdd:
			var el model.DrawingElement
			if err := json.Unmarshal(msg.Payload, &el); err != nil {
				log.Printf("[CanvasWS] Dropping bad element-add from %s: %v", connectionID, err)
				continue
			}
			room.HandleAdd(connectionID, &el)

		case hub.TypeElementUpdate:
			var u model.ElementUpdate
			if err := json.Unmarshal(msg.Payload, &u); err != nil {
				log.Printf("[CanvasWS] Dropping bad element-update from %s: %v", connectionID, err)
				continue
			}
			room.HandleUpdate(connectionID, &u)

		case hub.TypeElementDelete:
			var p hub.DeletePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.ID == "" {
				continue
			}
			room.HandleDelete(connectionID, p.ID)

		case hub.TypeElementsClear:
			room.HandleClear(connectionID)

		case hub.TypeCursorMove:
			var p hub.CursorPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				continue
			}
			room.Cursor(connectionID, p.Position)

		case hub.TypeUndo:
			room.Undo(connectionID)

		case hub.TypeRedo:
			room.Redo(connectionID)

		case hub.TypeSwitchBoard:
			var p hub.SwitchBoardPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.BoardID == "" {
				room.SendTo(connectionID, hub.MustMessage(hub.TypeError, hub.ErrorPayload{
					Code:    hub.CodeInvalidPayload,
					Message: "switch-board requires boardId",
				}))
				continue
			}
			next, err := h.switchBoard(connCtx, sess, transport, eventID, p.BoardID)
			if err != nil {
				writeError(c, hub.CodeBoardUnavailable, "failed to switch board")
				return
			}
			sess = next.sess
			transport = next.transport

		case hub.TypeLeaveBoard:
			return

		default:
			log.Printf("[CanvasWS] Dropping unknown event %q from %s", msg.Type, connectionID)
		}
	}
}

type switched struct {
	sess      *session.Session
	transport *boardTransport
}

// switchBoard runs the flush -> leave -> join sequence onto a new board,
// reusing the websocket connection under a fresh connection id.
func (h *CanvasWSHandler) switchBoard(ctx context.Context, sess *session.Session, t *boardTransport, eventID, newBoardID string) (*switched, error) {
	next := &boardTransport{
		handler:      h,
		conn:         t.conn,
		connectionID: uuid.New().String(),
		userID:       t.userID,
		name:         t.name,
		avatarRef:    t.avatarRef,
		roomID:       roomKey(eventID, newBoardID),
		boardID:      newBoardID,
	}

	newSess, err := h.switcher.Switch(ctx, sess, next.roomID, newBoardID, next)
	if err != nil {
		return nil, err
	}

	if room := next.Room(); room != nil {
		room.SendTo(next.connectionID, hub.MustMessage(hub.TypeBoardSwitched, hub.SwitchBoardPayload{BoardID: newBoardID}))
	}
	log.Printf("[CanvasWS] Switched: user=%s board=%s -> %s", t.userID, t.boardID, newBoardID)
	return &switched{sess: newSess, transport: next}, nil
}

func (h *CanvasWSHandler) publishPresence(kind presence.UpdateKind, room *hub.Room, connectionID string) {
	if h.publisher == nil {
		return
	}

	var record presence.Record
	if kind == presence.UpdateJoined {
		if r, ok := room.Member(connectionID); ok {
			record = r
		}
	} else {
		record = presence.Record{ConnectionID: connectionID}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.publisher.Publish(ctx, presence.Update{Kind: kind, RoomID: room.ID, Record: record}); err != nil {
			log.Printf("[CanvasWS] Presence publish failed: %v", err)
		}
	}()
}

func writeError(c *websocket.Conn, code, message string) {
	msg := hub.MustMessage(hub.TypeError, hub.ErrorPayload{Code: code, Message: message})
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[CanvasWS] Failed to send error reply: %v", err)
	}
}
