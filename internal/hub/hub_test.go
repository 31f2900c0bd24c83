package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/model"
)

// memSender collects decoded messages in memory.
type memSender struct {
	mu   sync.Mutex
	msgs []Message
}

func (s *memSender) WriteMessage(_ int, data []byte) error {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	return nil
}

func (s *memSender) countOf(msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (s *memSender) addedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, m := range s.msgs {
		if m.Type != TypeElementAdded {
			continue
		}
		var e model.DrawingElement
		if err := json.Unmarshal(m.Payload, &e); err == nil {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (s *memSender) lastOf(msgType string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Type == msgType {
			return s.msgs[i], true
		}
	}
	return Message{}, false
}

// emptyLoader opens every board as a fresh empty store.
type emptyLoader struct{}

func (emptyLoader) LoadBoard(_ context.Context, boardID, roomID string) (*canvas.Store, error) {
	return canvas.NewStore(boardID, roomID, boardID), nil
}

func newTestClient(id string) (*Client, *memSender) {
	sink := &memSender{}
	return &Client{
		ConnectionID: id,
		UserID:       "user-" + id,
		Name:         "User " + id,
		Conn:         sink,
	}, sink
}

func waitFor(t *testing.T, s *memSender, msgType string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.countOf(msgType) >= n
	}, time.Second, 2*time.Millisecond, "expected %d %s message(s)", n, msgType)
}

func testStroke(id string) *model.DrawingElement {
	return &model.DrawingElement{
		ID:      id,
		Type:    model.ElementStroke,
		OwnerID: "user-1",
		Points:  []model.Point{{X: 1, Y: 2}},
	}
}

func TestJoinBootstrapAndAnnouncement(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, sinkA := newTestClient("conn-a")
	boot := room.Join(a)
	assert.Equal(t, "board-1", boot.BoardID)
	assert.Len(t, boot.Members, 1)
	assert.Empty(t, boot.Elements)
	assert.False(t, boot.CanUndo)

	room.HandleAdd("conn-a", testStroke("el-1"))

	b, sinkB := newTestClient("conn-b")
	boot = room.Join(b)

	// the late joiner bootstraps to the full current state
	assert.Len(t, boot.Members, 2)
	require.Len(t, boot.Elements, 1)
	assert.Equal(t, "el-1", boot.Elements[0].ID)
	assert.Equal(t, int64(1), boot.Version)

	// only the existing member is told about the join
	waitFor(t, sinkA, TypeMemberJoined, 1)
	assert.Equal(t, 0, sinkB.countOf(TypeMemberJoined))
}

// Every add racing a join must reach the joiner exactly once: in the
// bootstrap snapshot or as a broadcast after registration, never neither.
func TestJoinBootstrapCoversConcurrentAdds(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := NewRoomHub(emptyLoader{}, nil, nil)
		room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
		require.NoError(t, err)

		a, _ := newTestClient("conn-a")
		room.Join(a)

		const adds = 4
		var wg sync.WaitGroup
		wg.Add(adds)
		for j := 0; j < adds; j++ {
			go func(j int) {
				defer wg.Done()
				room.HandleAdd("conn-a", testStroke(fmt.Sprintf("el-%d", j)))
			}(j)
		}

		b, sinkB := newTestClient("conn-b")
		boot := room.Join(b)
		wg.Wait()

		require.Eventually(t, func() bool {
			seen := make(map[string]bool, adds)
			for _, e := range boot.Elements {
				seen[e.ID] = true
			}
			for _, id := range sinkB.addedIDs() {
				seen[id] = true
			}
			return len(seen) == adds
		}, time.Second, 2*time.Millisecond, "iteration %d: joiner missed an element", i)

		h.Shutdown()
	}
}

func TestFanOutExcludesSender(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, sinkA := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	require.True(t, room.HandleAdd("conn-a", testStroke("el-1")))

	waitFor(t, sinkB, TypeElementAdded, 1)
	assert.Equal(t, 0, sinkA.countOf(TypeElementAdded))

	msg, ok := sinkB.lastOf(TypeElementAdded)
	require.True(t, ok)
	var e model.DrawingElement
	require.NoError(t, json.Unmarshal(msg.Payload, &e))
	assert.Equal(t, "el-1", e.ID)
}

func TestDuplicateAddIsSuppressed(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, _ := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	require.True(t, room.HandleAdd("conn-a", testStroke("el-1")))
	assert.False(t, room.HandleAdd("conn-a", testStroke("el-1")))

	waitFor(t, sinkB, TypeElementAdded, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sinkB.countOf(TypeElementAdded))
	assert.Equal(t, 1, room.Store().Len())
}

func TestUpdateUnknownIDNotBroadcast(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, _ := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	pts := []model.Point{{X: 9, Y: 9}}
	assert.False(t, room.HandleUpdate("conn-a", &model.ElementUpdate{ID: "ghost", Points: &pts}))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sinkB.countOf(TypeElementUpdated))
}

func TestClearReachesEveryoneElse(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, _ := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	room.HandleAdd("conn-a", testStroke("el-1"))
	room.HandleClear("conn-a")

	waitFor(t, sinkB, TypeElementsCleared, 1)
	assert.Equal(t, 0, room.Store().Len())
}

func TestUndoConvergesWholeRoom(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, sinkA := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	require.True(t, room.HandleAdd("conn-a", testStroke("el-1")))
	require.True(t, room.Undo("conn-a"))

	// everyone converges onto the restored snapshot, initiator included
	waitFor(t, sinkA, TypeElementsReplaced, 1)
	waitFor(t, sinkB, TypeElementsReplaced, 1)
	assert.Equal(t, 0, room.Store().Len())

	msg, ok := sinkB.lastOf(TypeElementsReplaced)
	require.True(t, ok)
	var p ElementsReplacedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Empty(t, p.Elements)

	// redo restores the element
	require.True(t, room.Redo("conn-a"))
	waitFor(t, sinkB, TypeElementsReplaced, 2)
	assert.Equal(t, 1, room.Store().Len())
	assert.NotNil(t, room.Store().Get("el-1"))
}

func TestUndoAtBottomIsNoOp(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, sinkA := newTestClient("conn-a")
	room.Join(a)

	assert.False(t, room.Undo("conn-a"))
	assert.False(t, room.Redo("conn-a"))
	assert.False(t, room.Undo("conn-ghost"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sinkA.countOf(TypeElementsReplaced))
}

func TestCursorFanOut(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, sinkA := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	room.Cursor("conn-a", model.Point{X: 50, Y: 60})

	waitFor(t, sinkB, TypeCursorMoved, 1)
	assert.Equal(t, 0, sinkA.countOf(TypeCursorMoved))

	msg, _ := sinkB.lastOf(TypeCursorMoved)
	var p CursorMovedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "conn-a", p.ConnectionID)
	assert.Equal(t, 50.0, p.Position.X)

	// cursor packets from unknown connections are dropped
	room.Cursor("conn-ghost", model.Point{X: 1, Y: 1})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sinkB.countOf(TypeCursorMoved))
}

func TestLeaveAnnouncesAndEmptyRoomCloses(t *testing.T) {
	var emptied atomic.Int32
	h := NewRoomHub(emptyLoader{}, nil, func(*Room) { emptied.Add(1) })
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)

	a, sinkA := newTestClient("conn-a")
	b, _ := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	room.Leave("conn-b")
	waitFor(t, sinkA, TypeMemberLeft, 1)
	assert.Len(t, room.Members(), 1)

	// leaving twice is harmless
	room.Leave("conn-b")

	room.Leave("conn-a")
	require.Eventually(t, func() bool {
		return h.Room("evt:board-1") == nil
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(1), emptied.Load())
}

// A removal scheduled while the room was empty must spare a room that gained
// a member in the meantime.
func TestRemoveRoomSparesOccupiedRoom(t *testing.T) {
	var emptied atomic.Int32
	h := NewRoomHub(emptyLoader{}, nil, func(*Room) { emptied.Add(1) })
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)

	a, _ := newTestClient("conn-a")
	room.Join(a)

	h.RemoveRoom("evt:board-1")
	assert.Same(t, room, h.Room("evt:board-1"))
	assert.Equal(t, int32(0), emptied.Load())

	room.Leave("conn-a")
	require.Eventually(t, func() bool {
		return h.Room("evt:board-1") == nil
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(1), emptied.Load())
}

func TestMutationHookFires(t *testing.T) {
	var dirty atomic.Int32
	h := NewRoomHub(emptyLoader{}, func(*Room) { dirty.Add(1) }, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, _ := newTestClient("conn-a")
	room.Join(a)

	room.HandleAdd("conn-a", testStroke("el-1"))
	pts := []model.Point{{X: 3, Y: 3}}
	room.HandleUpdate("conn-a", &model.ElementUpdate{ID: "el-1", Points: &pts})
	room.HandleDelete("conn-a", "el-1")
	room.HandleClear("conn-a")

	assert.Equal(t, int32(4), dirty.Load())

	// suppressed operations do not mark the board dirty
	room.HandleDelete("conn-a", "el-1")
	assert.Equal(t, int32(4), dirty.Load())
}

func TestObserverHistoryAdvancesWithRemoteMutations(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	room, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
	require.NoError(t, err)
	defer h.Shutdown()

	a, _ := newTestClient("conn-a")
	b, _ := newTestClient("conn-b")
	room.Join(a)
	room.Join(b)

	// a remote mutation is an undo point for the observer too
	room.HandleAdd("conn-a", testStroke("el-1"))
	require.True(t, b.History.CanUndo())

	require.True(t, room.Undo("conn-b"))
	assert.Equal(t, 0, room.Store().Len())
}

func TestRoomsAreIsolated(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	defer h.Shutdown()

	r1, err := h.GetOrCreateRoom(context.Background(), "evt-1:board-1", "board-1")
	require.NoError(t, err)
	r2, err := h.GetOrCreateRoom(context.Background(), "evt-2:board-1", "board-1")
	require.NoError(t, err)
	require.NotSame(t, r1, r2)

	a, _ := newTestClient("conn-a")
	b, sinkB := newTestClient("conn-b")
	r1.Join(a)
	r2.Join(b)

	r1.HandleAdd("conn-a", testStroke("el-1"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sinkB.countOf(TypeElementAdded))
	assert.Equal(t, 0, r2.Store().Len())
	assert.Equal(t, 1, r1.Store().Len())
}

func TestGetOrCreateRoomIsStable(t *testing.T) {
	h := NewRoomHub(emptyLoader{}, nil, nil)
	defer h.Shutdown()

	rooms := make([]*Room, 0, 8)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.GetOrCreateRoom(context.Background(), "evt:board-1", "board-1")
			if err != nil {
				return
			}
			mu.Lock()
			rooms = append(rooms, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, rooms, 8)
	for i := 1; i < len(rooms); i++ {
		assert.Same(t, rooms[0], rooms[i], fmt.Sprintf("room %d differs", i))
	}
}
