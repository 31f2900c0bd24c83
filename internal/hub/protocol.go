package hub

import (
	"encoding/json"

	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
)

// Message is the wire envelope for every room-scoped event, both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server event types.
const (
	TypeJoinBoard     = "join-board"
	TypeLeaveBoard    = "leave-board"
	TypeSwitchBoard   = "switch-board"
	TypeElementAdd    = "element-add"
	TypeElementUpdate = "element-update"
	TypeElementDelete = "element-delete"
	TypeElementsClear = "elements-clear"
	TypeCursorMove    = "cursor-move"
	TypeUndo          = "undo"
	TypeRedo          = "redo"
)

// Server -> client event types.
const (
	TypeCurrentMembers   = "current-members"
	TypeMemberJoined     = "member-joined"
	TypeMemberLeft       = "member-left"
	TypeElementAdded     = "element-added"
	TypeElementUpdated   = "element-updated"
	TypeElementDeleted   = "element-deleted"
	TypeElementsCleared  = "elements-cleared"
	TypeElementsReplaced = "elements-replaced"
	TypeCursorMoved      = "cursor-moved"
	TypeBoardSwitched    = "board-switched"
	TypeError            = "error"
)

// Error codes carried by TypeError replies.
const (
	CodeDuplicateSession = "duplicate_session"
	CodeInvalidPayload   = "invalid_payload"
	CodeBoardUnavailable = "board_unavailable"
)

// DeletePayload addresses an element by id.
type DeletePayload struct {
	ID string `json:"id"`
}

// CursorPayload carries a cursor position. Fire-and-forget and lossy
// tolerant: only the latest position per user matters.
type CursorPayload struct {
	Position model.Point `json:"position"`
}

// CursorMovedPayload is the fan-out form with the moving connection attached.
type CursorMovedPayload struct {
	ConnectionID string      `json:"connectionId"`
	Position     model.Point `json:"position"`
}

// SwitchBoardPayload asks the server to move this session to another board.
type SwitchBoardPayload struct {
	BoardID string `json:"boardId"`
}

// CurrentMembersPayload is the synchronization bootstrap sent on a successful
// join: the full membership snapshot plus the board's full element
// collection, so a late joiner reaches the same state as existing members
// without replaying history.
type CurrentMembersPayload struct {
	BoardID  string                  `json:"boardId"`
	RoomID   string                  `json:"roomId"`
	Version  int64                   `json:"version"`
	Members  []presence.Record       `json:"members"`
	Elements []*model.DrawingElement `json:"elements"`
	CanUndo  bool                    `json:"canUndo"`
	CanRedo  bool                    `json:"canRedo"`
}

// MemberLeftPayload identifies the departed connection.
type MemberLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ElementsReplacedPayload carries a full-state snapshot, broadcast after an
// undo/redo so every participant converges to the same state.
type ElementsReplacedPayload struct {
	Elements []*model.DrawingElement `json:"elements"`
	Version  int64                   `json:"version"`
}

// ErrorPayload is the explicit error reply; protocol-level drops stay silent.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage marshals a typed payload into the wire envelope.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: data}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(msgType string, payload any) Message {
	m, err := NewMessage(msgType, payload)
	if err != nil {
		return Message{Type: msgType}
	}
	return m
}
