package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVariantRequirements(t *testing.T) {
	tests := []struct {
		name    string
		element DrawingElement
		wantErr error
	}{
		{
			name:    "missing id",
			element: DrawingElement{Type: ElementStroke, OwnerID: "u", Points: []Point{{}}},
			wantErr: ErrMissingID,
		},
		{
			name:    "missing owner",
			element: DrawingElement{ID: "e", Type: ElementStroke, Points: []Point{{}}},
			wantErr: ErrMissingOwner,
		},
		{
			name:    "unknown type",
			element: DrawingElement{ID: "e", OwnerID: "u", Type: "hexagon"},
			wantErr: ErrUnknownType,
		},
		{
			name:    "stroke without points",
			element: DrawingElement{ID: "e", OwnerID: "u", Type: ElementStroke},
			wantErr: ErrMissingPoints,
		},
		{
			name:    "line without points",
			element: DrawingElement{ID: "e", OwnerID: "u", Type: ElementLine},
			wantErr: ErrMissingPoints,
		},
		{
			name:    "text without content",
			element: DrawingElement{ID: "e", OwnerID: "u", Type: ElementText},
			wantErr: ErrMissingText,
		},
		{
			name:    "image without src",
			element: DrawingElement{ID: "e", OwnerID: "u", Type: ElementImage, Geometry: &Geometry{W: 1, H: 1}},
			wantErr: ErrMissingImageRef,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.element.Validate(), tt.wantErr)
		})
	}
}

func TestValidateAcceptsWellFormedVariants(t *testing.T) {
	valid := []DrawingElement{
		{ID: "e1", OwnerID: "u", Type: ElementStroke, Points: []Point{{X: 1, Y: 1}}},
		{ID: "e2", OwnerID: "u", Type: ElementLine, Points: []Point{{}, {X: 5, Y: 5}}},
		{ID: "e3", OwnerID: "u", Type: ElementRect, Geometry: &Geometry{W: 10, H: 10}},
		{ID: "e4", OwnerID: "u", Type: ElementCircle, Geometry: &Geometry{W: 4, H: 4}},
		{ID: "e5", OwnerID: "u", Type: ElementText, Text: "hello"},
		{ID: "e6", OwnerID: "u", Type: ElementImage, Src: "https://cdn.example/img.png", Geometry: &Geometry{W: 2, H: 2}},
	}
	for _, e := range valid {
		assert.NoError(t, e.Validate(), e.ID)
	}

	// rect and circle need geometry, image needs both src and geometry
	assert.Error(t, (&DrawingElement{ID: "e", OwnerID: "u", Type: ElementRect}).Validate())
	assert.Error(t, (&DrawingElement{ID: "e", OwnerID: "u", Type: ElementCircle}).Validate())
	assert.Error(t, (&DrawingElement{ID: "e", OwnerID: "u", Type: ElementImage, Src: "x"}).Validate())
}

func TestCloneIsDeep(t *testing.T) {
	orig := &DrawingElement{
		ID:       "e1",
		OwnerID:  "u",
		Type:     ElementStroke,
		Points:   []Point{{X: 1, Y: 1}},
		Geometry: &Geometry{X: 1, Y: 2, W: 3, H: 4},
	}

	cp := orig.Clone()
	cp.Points[0].X = 99
	cp.Geometry.W = 99

	assert.Equal(t, 1.0, orig.Points[0].X)
	assert.Equal(t, 3.0, orig.Geometry.W)
}

func TestBoardCloneIsDeep(t *testing.T) {
	b := &Board{
		ID:     "board-1",
		RoomID: "evt:board-1",
		Elements: []*DrawingElement{
			{ID: "e1", OwnerID: "u", Type: ElementText, Text: "hi"},
		},
		Version: 7,
	}

	cp := b.Clone()
	require.Len(t, cp.Elements, 1)
	cp.Elements[0].Text = "bye"

	assert.Equal(t, "hi", b.Elements[0].Text)
	assert.Equal(t, int64(7), cp.Version)
}
