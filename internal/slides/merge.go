package slides

import (
	"cmp"
	"slices"
)

// Merge reconciles client edits against the stored slide list and returns the
// new canonical list sorted by order. Neither input is modified.
//
// Edits are matched by slide id. A matched slide has each field overwritten only
// when the edit carries that key, so an explicit null pane clears the pane while
// an omitted pane keeps it. A null title resets to DefaultSlideTitle. Unmatched
// edits append new slides with defaults. Later edits for the same id overwrite
// earlier ones. Stored slides without a matching edit pass through unchanged.
func Merge(existing []Slide, incoming []PartialSlide) []Slide {
	if len(incoming) == 0 {
		return Clone(existing)
	}

	merged := make([]Slide, 0, len(existing)+len(incoming))
	positions := make(map[string]int, len(existing)+len(incoming))
	for _, slide := range existing {
		if position, seen := positions[slide.SlideID]; seen && slide.SlideID != "" {
			merged[position] = slide.clone()
			continue
		}
		if slide.SlideID != "" {
			positions[slide.SlideID] = len(merged)
		}
		merged = append(merged, slide.clone())
	}

	for _, edit := range incoming {
		if edit.SlideID == "" {
			continue
		}
		if position, found := positions[edit.SlideID]; found {
			current := merged[position]
			updated := edit.applyTo(current)
			updated.SlideID = current.SlideID
			merged[position] = updated
			continue
		}
		positions[edit.SlideID] = len(merged)
		merged = append(merged, edit.newSlide(len(merged)+1))
	}

	sortByOrder(merged)
	return merged
}

// RemoveSlides drops the slides whose ids are listed and renumbers the
// remainder contiguously from 1 in their current sequence.
func RemoveSlides(existing []Slide, slideIDs []string) []Slide {
	remove := make(map[string]struct{}, len(slideIDs))
	for _, slideID := range slideIDs {
		remove[slideID] = struct{}{}
	}

	remaining := make([]Slide, 0, len(existing))
	for _, slide := range existing {
		if _, drop := remove[slide.SlideID]; drop {
			continue
		}
		remaining = append(remaining, slide.clone())
	}
	for index := range remaining {
		remaining[index].Order = index + 1
	}
	return remaining
}

func (p PartialSlide) applyTo(slide Slide) Slide {
	if p.Title.Set {
		slide.Title = titleFromField(p.Title)
	}
	if p.Order.hasValue() {
		slide.Order = p.Order.Value
	}
	if p.LeftPane.Set {
		slide.LeftPane = paneFromField(p.LeftPane)
	}
	if p.RightPane.Set {
		slide.RightPane = paneFromField(p.RightPane)
	}
	return slide
}

func (p PartialSlide) newSlide(defaultOrder int) Slide {
	slide := Slide{
		SlideID:   p.SlideID,
		Title:     titleFromField(p.Title),
		Order:     defaultOrder,
		LeftPane:  paneFromField(p.LeftPane),
		RightPane: paneFromField(p.RightPane),
	}
	if p.Order.hasValue() {
		slide.Order = p.Order.Value
	}
	return slide
}

// titleFromField maps an absent or null title to DefaultSlideTitle.
func titleFromField(field Field[string]) string {
	if !field.hasValue() {
		return DefaultSlideTitle
	}
	return field.Value
}

func paneFromField(field Field[Pane]) *Pane {
	if !field.hasValue() {
		return nil
	}
	pane := field.Value
	return pane.clone()
}

func sortByOrder(list []Slide) {
	slices.SortStableFunc(list, func(left, right Slide) int {
		return cmp.Compare(left.Order, right.Order)
	})
}
