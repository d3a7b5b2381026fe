package slides

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

const (
	keySlideID   = "slideId"
	keyTitle     = "title"
	keyOrder     = "order"
	keyLeftPane  = "leftPane"
	keyRightPane = "rightPane"

	maxOrder = math.MaxInt32
)

var (
	errPartialSlideNotObject = errors.New("slides: partial slide must be an object")
	errPaneNotObject         = errors.New("slides: pane must be an object or null")
	jsonNull                 = []byte("null")
)

// Field records whether a key was present in a payload and whether it carried null.
// An unset Field leaves the target untouched; a set Field with Null resets it.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Present returns a set, non-null field.
func Present[T any](value T) Field[T] {
	return Field[T]{Set: true, Value: value}
}

// Null returns a set field carrying an explicit null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

func (f Field[T]) hasValue() bool {
	return f.Set && !f.Null
}

// PartialSlide is one client-submitted slide edit.
type PartialSlide struct {
	SlideID   string
	Title     Field[string]
	Order     Field[int]
	LeftPane  Field[Pane]
	RightPane Field[Pane]
}

// UnmarshalJSON decodes a slide edit while preserving key presence.
// Unusable title values and null, non-numeric, or non-positive order values are
// treated as absent keys. Titles and ids are kept verbatim.
func (p *PartialSlide) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errPartialSlideNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}

	decoded := PartialSlide{}
	if raw, ok := fields[keySlideID]; ok {
		decoded.SlideID = decodeIdentifier(raw)
	}
	if raw, ok := fields[keyTitle]; ok {
		decoded.Title = decodeTitle(raw)
	}
	if raw, ok := fields[keyOrder]; ok {
		decoded.Order = decodeOrder(raw)
	}
	if raw, ok := fields[keyLeftPane]; ok {
		pane, err := decodePane(raw)
		if err != nil {
			return err
		}
		decoded.LeftPane = pane
	}
	if raw, ok := fields[keyRightPane]; ok {
		pane, err := decodePane(raw)
		if err != nil {
			return err
		}
		decoded.RightPane = pane
	}

	*p = decoded
	return nil
}

// DecodePartialSlides parses the raw value of a "slides" payload key.
// It reports false when the value is not a JSON array. Elements that are not
// objects, cannot be decoded, or carry no slide id are dropped.
func DecodePartialSlides(raw json.RawMessage) ([]PartialSlide, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, false
	}

	decoded := make([]PartialSlide, 0, len(elements))
	for _, element := range elements {
		var partial PartialSlide
		if err := partial.UnmarshalJSON(element); err != nil {
			continue
		}
		if partial.SlideID == "" {
			continue
		}
		decoded = append(decoded, partial)
	}
	return decoded, true
}

// ValidatePartialSlides checks every non-null pane carried by the edits.
func ValidatePartialSlides(list []PartialSlide) error {
	for _, partial := range list {
		if partial.LeftPane.hasValue() {
			if err := partial.LeftPane.Value.Validate(); err != nil {
				return err
			}
		}
		if partial.RightPane.hasValue() {
			if err := partial.RightPane.Value.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeIdentifier(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return ""
		}
		return text
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func decodeTitle(raw json.RawMessage) Field[string] {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return Null[string]()
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return Field[string]{}
	}
	return Present(text)
}

func decodeOrder(raw json.RawMessage) Field[int] {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return Field[int]{}
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return orderField(number)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		parsed, parseErr := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if parseErr == nil {
			return orderField(parsed)
		}
	}
	return Field[int]{}
}

// orderField keeps positive positions up to maxOrder; anything else is treated as absent.
func orderField(number float64) Field[int] {
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return Field[int]{}
	}
	truncated := math.Trunc(number)
	if truncated < 1 || truncated > maxOrder {
		return Field[int]{}
	}
	return Present(int(truncated))
}

func decodePane(raw json.RawMessage) (Field[Pane], error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, jsonNull) {
		return Null[Pane](), nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Field[Pane]{}, errPaneNotObject
	}
	var pane Pane
	if err := json.Unmarshal(trimmed, &pane); err != nil {
		return Field[Pane]{}, err
	}
	return Present(pane), nil
}
