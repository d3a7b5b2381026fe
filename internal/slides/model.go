package slides

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// PaneType enumerates the content kinds a pane can hold.
type PaneType string

const (
	// PaneTypeText holds rich text HTML.
	PaneTypeText PaneType = "text"
	// PaneTypeEmbed holds an embeddable URL.
	PaneTypeEmbed PaneType = "embed"
	// PaneTypeQuestion holds a multiple-choice question.
	PaneTypeQuestion PaneType = "question"
	// PaneTypeTextQuestion holds a free-text question.
	PaneTypeTextQuestion PaneType = "textQuestion"
	// PaneTypeMedia holds a reference to an uploaded image or video.
	PaneTypeMedia PaneType = "media"
)

const (
	// DefaultSlideTitle is assigned to slides created without a title.
	DefaultSlideTitle = "Untitled Slide"
	emptySlideFormat  = "Slide %d"
)

var (
	// ErrInvalidPane indicates that a pane carries an unknown type or a non-object payload.
	ErrInvalidPane = errors.New("slides: invalid pane")
)

// Valid reports whether the pane type is one of the supported kinds.
func (t PaneType) Valid() bool {
	switch t {
	case PaneTypeText, PaneTypeEmbed, PaneTypeQuestion, PaneTypeTextQuestion, PaneTypeMedia:
		return true
	default:
		return false
	}
}

// Pane is one typed content unit. Data is opaque and always replaced as a whole.
type Pane struct {
	Type PaneType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate performs the shallow pane checks applied before persistence.
func (p Pane) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPane, p.Type)
	}
	trimmed := bytes.TrimSpace(p.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: %s data must be an object", ErrInvalidPane, p.Type)
	}
	return nil
}

func (p *Pane) clone() *Pane {
	if p == nil {
		return nil
	}
	return &Pane{Type: p.Type, Data: slices.Clone(p.Data)}
}

// Slide is one page of a tutorial. Nil panes are serialized as null.
type Slide struct {
	SlideID   string `json:"slideId"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	LeftPane  *Pane  `json:"leftPane"`
	RightPane *Pane  `json:"rightPane"`
}

func (s Slide) clone() Slide {
	s.LeftPane = s.LeftPane.clone()
	s.RightPane = s.RightPane.clone()
	return s
}

// NewEmptySlide returns a slide with both panes unset, titled after its position.
func NewEmptySlide(slideID string, order int) Slide {
	return Slide{
		SlideID:   slideID,
		Title:     fmt.Sprintf(emptySlideFormat, order),
		Order:     order,
		LeftPane:  nil,
		RightPane: nil,
	}
}

// Clone returns a deep copy of the slide list.
func Clone(source []Slide) []Slide {
	if source == nil {
		return nil
	}
	copied := make([]Slide, len(source))
	for index, slide := range source {
		copied[index] = slide.clone()
	}
	return copied
}

// DecodeSlides parses a persisted slide list. Empty input yields an empty list.
func DecodeSlides(raw string) ([]Slide, error) {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return []Slide{}, nil
	}
	var decoded []Slide
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	if decoded == nil {
		decoded = []Slide{}
	}
	return decoded, nil
}

// EncodeSlides serializes a slide list for persistence. A nil list encodes as [].
func EncodeSlides(list []Slide) (string, error) {
	if list == nil {
		list = []Slide{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
