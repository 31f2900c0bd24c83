package model

import (
	"time"
)

// Board is the serializable snapshot of one canvas: identity plus the ordered
// element collection. Version and LastModifiedAt increase monotonically on
// every accepted mutation and drive the persistence dirty check.
type Board struct {
	ID             string            `json:"id"`
	RoomID         string            `json:"roomId"`
	Name           string            `json:"name"`
	Elements       []*DrawingElement `json:"elements"`
	Version        int64             `json:"version"`
	LastModifiedAt time.Time         `json:"lastModifiedAt"`
}

// Clone deep-copies the board so a snapshot handed to the persistence bridge
// or the history manager is immune to later store mutations.
func (b *Board) Clone() *Board {
	cp := *b
	cp.Elements = make([]*DrawingElement, len(b.Elements))
	for i, e := range b.Elements {
		cp.Elements[i] = e.Clone()
	}
	return &cp
}

// BoardSnapshot is the durable storage record for a board. The element
// collection is stored as one JSON blob per board (simple key -> blob
// contract); the live in-memory store stays authoritative for connected
// clients regardless of persistence outcome.
type BoardSnapshot struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID        string    `gorm:"uniqueIndex;not null" json:"board_id"`
	RoomID         string    `gorm:"index" json:"room_id"`
	Name           string    `json:"name"`
	Data           string    `gorm:"type:jsonb;not null" json:"data"` // JSON array of elements
	Version        int64     `gorm:"not null" json:"version"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BoardSnapshot) TableName() string {
	return "board_snapshots"
}
