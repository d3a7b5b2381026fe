package tutorials

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/slides"
)

// UpdateOutcome captures the record produced by applyUpdate.
type UpdateOutcome struct {
	UpdatedRecord Record
	// SlidesGuarded reports that a slide write was dropped because it would
	// have emptied a non-empty slide list.
	SlidesGuarded bool
}

func applyUpdate(stored Record, request UpdateRequest, appliedAt time.Time) (UpdateOutcome, error) {
	updated := stored

	if request.Title != nil {
		updated.Title = strings.TrimSpace(*request.Title)
	}
	if request.Description != nil {
		updated.Description = *request.Description
	}
	if request.Status != nil {
		status, err := ParseStatus(*request.Status)
		if err != nil {
			return UpdateOutcome{}, err
		}
		updated.Status = string(status)
	}
	if request.Archived != nil {
		updated.Archived = *request.Archived
	}

	guarded := false
	if request.DeletePresent || request.SlidesPresent {
		current, err := slides.DecodeSlides(stored.SlidesJSON)
		if err != nil {
			return UpdateOutcome{}, err
		}

		if request.DeletePresent {
			next := slides.RemoveSlides(current, request.DeleteSlideIDs)
			if wouldWipe(current, next) {
				guarded = true
			} else {
				current = next
			}
		}
		if request.SlidesPresent {
			next := slides.Merge(current, request.Slides)
			if wouldWipe(current, next) {
				guarded = true
			} else {
				current = next
			}
		}

		encoded, err := slides.EncodeSlides(current)
		if err != nil {
			return UpdateOutcome{}, err
		}
		updated.SlidesJSON = encoded
	}

	updated.TutorialID = stored.TutorialID
	updated.CreatedAtMillis = stored.CreatedAtMillis
	updated.UpdatedAtMillis = appliedAt.UnixMilli()

	nextVersion := stored.Version + 1
	if nextVersion <= 0 {
		nextVersion = 1
	}
	updated.Version = nextVersion

	return UpdateOutcome{UpdatedRecord: updated, SlidesGuarded: guarded}, nil
}

func wouldWipe(current, next []slides.Slide) bool {
	return len(current) > 0 && len(next) == 0
}
