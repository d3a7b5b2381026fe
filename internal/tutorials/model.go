package tutorials

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/slides"
)

// Status enumerates the publication states of a tutorial.
type Status string

const (
	// StatusDraft marks a tutorial visible to authors only.
	StatusDraft Status = "draft"
	// StatusPublished marks a tutorial available for student playback.
	StatusPublished Status = "published"
)

// TimestampLayout renders timestamps as ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const maxIdentifierLength = 190

var (
	// ErrInvalidTutorialID indicates that a tutorial identifier is empty or exceeds storage bounds.
	ErrInvalidTutorialID = errors.New("tutorials: invalid tutorial id")
	// ErrInvalidTitle indicates that a tutorial title is missing or blank.
	ErrInvalidTitle = errors.New("tutorials: invalid title")
	// ErrInvalidStatus indicates that a status is neither draft nor published.
	ErrInvalidStatus = errors.New("tutorials: invalid status")
	// ErrTutorialNotFound indicates that no tutorial matches the identifier.
	ErrTutorialNotFound = errors.New("tutorials: tutorial not found")
	// ErrTutorialUnavailable indicates that a tutorial exists but is not open for playback.
	ErrTutorialUnavailable = errors.New("tutorials: tutorial not available")
	// ErrVersionConflict indicates that the stored version differs from the expected one.
	ErrVersionConflict = errors.New("tutorials: version conflict")
)

// TutorialID represents a validated tutorial identifier.
type TutorialID string

// NewTutorialID validates raw input and returns a TutorialID.
func NewTutorialID(rawInput string) (TutorialID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTutorialID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTutorialID, maxIdentifierLength)
	}
	return TutorialID(trimmed), nil
}

// String returns the underlying string identifier.
func (id TutorialID) String() string {
	return string(id)
}

// ParseStatus validates a status value supplied by a client.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.TrimSpace(rawInput)) {
	case StatusDraft:
		return StatusDraft, nil
	case StatusPublished:
		return StatusPublished, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// Record models the persisted tutorial row. Slides are stored as one JSON document.
type Record struct {
	TutorialID      string `gorm:"column:tutorial_id;primaryKey;size:190;not null"`
	Title           string `gorm:"column:title;size:512;not null"`
	Description     string `gorm:"column:description;type:text;not null;default:''"`
	Status          string `gorm:"column:status;size:32;not null;default:'draft';index:idx_tutorials_status_created,priority:1"`
	Archived        bool   `gorm:"column:archived;not null;default:false"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_tutorials_status_created,priority:2"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
	SlidesJSON      string `gorm:"column:slides_json;type:text;not null"`
	Version         int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "tutorials"
}

// Tutorial is the API representation of a tutorial and its ordered slides.
type Tutorial struct {
	TutorialID  string         `json:"tutorialId"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	Archived    bool           `json:"archived"`
	CreatedAt   string         `json:"createdAt"`
	UpdatedAt   string         `json:"updatedAt"`
	Version     int64          `json:"version"`
	Slides      []slides.Slide `json:"slides"`
}

// CreateRequest carries the author-supplied fields of a new tutorial.
type CreateRequest struct {
	Title       string
	Description string
}

// UpdateRequest describes a partial tutorial update. Nil pointers and unset
// presence flags leave the corresponding stored value untouched.
type UpdateRequest struct {
	Title           *string
	Description     *string
	Status          *string
	Archived        *bool
	Slides          []slides.PartialSlide
	SlidesPresent   bool
	DeleteSlideIDs  []string
	DeletePresent   bool
	ExpectedVersion *int64
}

// ListFilter narrows the tutorials returned by List.
type ListFilter struct {
	Status   *Status
	Archived *bool
}

// FormatTimestamp renders a unix millisecond value using TimestampLayout.
func FormatTimestamp(unixMillis int64) string {
	return time.UnixMilli(unixMillis).UTC().Format(TimestampLayout)
}

func toTutorial(record Record) (Tutorial, error) {
	decoded, err := slides.DecodeSlides(record.SlidesJSON)
	if err != nil {
		return Tutorial{}, err
	}
	status := Status(record.Status)
	if status != StatusPublished {
		status = StatusDraft
	}
	return Tutorial{
		TutorialID:  record.TutorialID,
		Title:       record.Title,
		Description: record.Description,
		Status:      status,
		Archived:    record.Archived,
		CreatedAt:   FormatTimestamp(record.CreatedAtMillis),
		UpdatedAt:   FormatTimestamp(record.UpdatedAtMillis),
		Version:     record.Version,
		Slides:      decoded,
	}, nil
}
