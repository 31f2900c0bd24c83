package model

import (
	"errors"
	"fmt"
)

// ElementType discriminates the drawing element variants.
type ElementType string

const (
	ElementStroke ElementType = "stroke" // freehand stroke
	ElementLine   ElementType = "line"
	ElementRect   ElementType = "rect"
	ElementCircle ElementType = "circle"
	ElementText   ElementType = "text"
	ElementImage  ElementType = "image"
)

var (
	ErrMissingID       = errors.New("element id is required")
	ErrMissingOwner    = errors.New("element ownerId is required")
	ErrUnknownType     = errors.New("unknown element type")
	ErrMissingPoints   = errors.New("point list is required")
	ErrMissingText     = errors.New("text payload is required")
	ErrMissingImageRef = errors.New("image reference is required")
)

// Point is a single canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Style holds the common stroke/fill attributes of an element.
type Style struct {
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth float64 `json:"strokeWidth"`
	Fill        string  `json:"fill,omitempty"`
}

// Geometry is the bounding box of a shape variant. Circles use W as the
// diameter along X and H along Y so ellipses fall out for free.
type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// DrawingElement is one drawing primitive on a board. Type is the mandatory
// discriminant; variant fields are required per type and checked by Validate.
// ID is client-generated, globally unique and immutable once created - every
// update references it.
type DrawingElement struct {
	ID        string      `json:"id"`
	Type      ElementType `json:"type"`
	OwnerID   string      `json:"ownerId"`
	OwnerName string      `json:"ownerName"`
	CreatedAt int64       `json:"createdAt"` // client monotonic millis
	Style     Style       `json:"style"`

	// InProgress marks an element under a continuous gesture: receivers
	// should expect rapid wholesale replacements of its gesture fields
	// rather than discrete committed edits.
	InProgress bool `json:"inProgress,omitempty"`

	// stroke / line
	Points []Point `json:"points,omitempty"`

	// rect / circle / image bounding geometry
	Geometry *Geometry `json:"geometry,omitempty"`

	// text
	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`

	// image reference (durable URL from asset storage)
	Src string `json:"src,omitempty"`
}

// Validate checks the discriminant and the variant-specific required fields.
// Called on every element entering the store, local or remote.
func (e *DrawingElement) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.OwnerID == "" {
		return ErrMissingOwner
	}

	switch e.Type {
	case ElementStroke, ElementLine:
		if len(e.Points) == 0 {
			return fmt.Errorf("%s %q: %w", e.Type, e.ID, ErrMissingPoints)
		}
	case ElementRect, ElementCircle:
		if e.Geometry == nil {
			return fmt.Errorf("%s %q: geometry is required", e.Type, e.ID)
		}
	case ElementText:
		if e.Text == "" {
			return fmt.Errorf("text %q: %w", e.ID, ErrMissingText)
		}
	case ElementImage:
		if e.Src == "" {
			return fmt.Errorf("image %q: %w", e.ID, ErrMissingImageRef)
		}
		if e.Geometry == nil {
			return fmt.Errorf("image %q: geometry is required", e.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// Clone returns a deep copy so replicas never alias each other's state.
func (e *DrawingElement) Clone() *DrawingElement {
	cp := *e
	if e.Points != nil {
		cp.Points = make([]Point, len(e.Points))
		copy(cp.Points, e.Points)
	}
	if e.Geometry != nil {
		g := *e.Geometry
		cp.Geometry = &g
	}
	return &cp
}

// ElementUpdate is a partial update addressed by element ID. Each non-nil
// field group replaces the element's group wholesale (last-writer-wins per
// field group, no merge of concurrent partial edits).
type ElementUpdate struct {
	ID         string    `json:"id"`
	Points     *[]Point  `json:"points,omitempty"`
	Geometry   *Geometry `json:"geometry,omitempty"`
	Style      *Style    `json:"style,omitempty"`
	Text       *string   `json:"text,omitempty"`
	FontSize   *float64  `json:"fontSize,omitempty"`
	Src        *string   `json:"src,omitempty"`
	InProgress *bool     `json:"inProgress,omitempty"`
}
