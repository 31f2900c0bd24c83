package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
)

func TestColorForIsDeterministic(t *testing.T) {
	c1 := ColorFor("user-42")
	c2 := ColorFor("user-42")
	assert.Equal(t, c1, c2)
	assert.Contains(t, palette, c1)
}

func TestJoinAssignsColorAndReturnsSnapshot(t *testing.T) {
	tr := NewTracker()

	snap := tr.Join(Record{ConnectionID: "conn-1", UserID: "user-1", Name: "Ada"})
	require.Len(t, snap, 1)
	assert.Equal(t, ColorFor("user-1"), snap[0].Color)
	assert.True(t, snap[0].IsActive)

	snap = tr.Join(Record{ConnectionID: "conn-2", UserID: "user-2", Name: "Grace"})
	assert.Len(t, snap, 2)
	assert.Equal(t, 2, tr.Len())
}

func TestJoinKeepsExplicitColor(t *testing.T) {
	tr := NewTracker()
	tr.Join(Record{ConnectionID: "conn-1", UserID: "user-1", Color: "#123456"})

	r, ok := tr.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "#123456", r.Color)
}

func TestLeaveRemovesOnlyThatConnection(t *testing.T) {
	tr := NewTracker()
	tr.Join(Record{ConnectionID: "conn-1", UserID: "user-1"})
	tr.Join(Record{ConnectionID: "conn-2", UserID: "user-1"})

	assert.True(t, tr.Leave("conn-1"))
	assert.False(t, tr.Leave("conn-1"))
	assert.Equal(t, 1, tr.Len())

	_, ok := tr.Get("conn-2")
	assert.True(t, ok)
}

func TestUpdateCursorOverwritesPosition(t *testing.T) {
	tr := NewTracker()
	tr.Join(Record{ConnectionID: "conn-1", UserID: "user-1"})

	require.True(t, tr.UpdateCursor("conn-1", model.Point{X: 1, Y: 2}))
	require.True(t, tr.UpdateCursor("conn-1", model.Point{X: 30, Y: 40}))

	r, ok := tr.Get("conn-1")
	require.True(t, ok)
	require.NotNil(t, r.Cursor)
	assert.Equal(t, model.Point{X: 30, Y: 40}, *r.Cursor)

	// cursor packets for departed members are dropped
	assert.False(t, tr.UpdateCursor("conn-ghost", model.Point{X: 1, Y: 1}))
}

func TestSnapshotIsDetached(t *testing.T) {
	tr := NewTracker()
	tr.Join(Record{ConnectionID: "conn-1", UserID: "user-1"})
	tr.UpdateCursor("conn-1", model.Point{X: 5, Y: 5})

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Cursor.X = 999
	snap[0].Name = "intruder"

	r, _ := tr.Get("conn-1")
	assert.Equal(t, 5.0, r.Cursor.X)
	assert.Empty(t, r.Name)
}
