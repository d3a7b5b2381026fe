package tutorials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/slides"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "tutorials.service.new"
	opCreate      = "tutorials.create"
	opList        = "tutorials.list"
	opGet         = "tutorials.get"
	opGetPublic   = "tutorials.get_public"
	opUpdate      = "tutorials.update"
	opDelete      = "tutorials.delete"
	queryTutorial = "tutorial_id = ?"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidID         = "invalid_tutorial_id"
	reasonInvalidTitle      = "invalid_title"
	reasonInvalidStatus     = "invalid_status"
	reasonInvalidPane       = "invalid_pane"
	reasonNotFound          = "not_found"
	reasonUnavailable       = "not_available"
	reasonVersionConflict   = "version_conflict"
	reasonIDGeneration      = "id_generation_failed"
	reasonEncodeFailed      = "encode_failed"
	reasonDecodeFailed      = "decode_failed"
	reasonQueryFailed       = "query_failed"
	reasonSaveFailed        = "save_failed"
	reasonApplyFailed       = "apply_update_failed"
)

const initialSlideCount = 2

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a new draft tutorial seeded with two empty slides.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Tutorial, error) {
	if err := s.ready(opCreate); err != nil {
		return Tutorial{}, err
	}

	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Tutorial{}, newServiceError(opCreate, reasonInvalidTitle, fmt.Errorf("%w: empty", ErrInvalidTitle))
	}

	tutorialID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDGeneration, err)
		return Tutorial{}, newServiceError(opCreate, reasonIDGeneration, err)
	}

	initial := make([]slides.Slide, 0, initialSlideCount)
	for order := 1; order <= initialSlideCount; order++ {
		slideID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, reasonIDGeneration, err, zap.String("tutorial_id", tutorialID))
			return Tutorial{}, newServiceError(opCreate, reasonIDGeneration, err)
		}
		initial = append(initial, slides.NewEmptySlide(slideID, order))
	}
	slidesJSON, err := slides.EncodeSlides(initial)
	if err != nil {
		s.logError(opCreate, reasonEncodeFailed, err, zap.String("tutorial_id", tutorialID))
		return Tutorial{}, newServiceError(opCreate, reasonEncodeFailed, err)
	}

	createdAt := s.clock().UTC().UnixMilli()
	record := Record{
		TutorialID:      tutorialID,
		Title:           title,
		Description:     request.Description,
		Status:          string(StatusDraft),
		Archived:        false,
		CreatedAtMillis: createdAt,
		UpdatedAtMillis: createdAt,
		SlidesJSON:      slidesJSON,
		Version:         1,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, reasonSaveFailed, err, zap.String("tutorial_id", tutorialID))
		return Tutorial{}, newServiceError(opCreate, reasonSaveFailed, err)
	}

	return s.present(opCreate, record)
}

// List returns the tutorials matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Tutorial, error) {
	if err := s.ready(opList); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&Record{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.Archived != nil {
		query = query.Where("archived = ?", *filter.Archived)
	}

	var records []Record
	if err := query.Order("created_at_ms DESC").Order("tutorial_id ASC").Find(&records).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}

	result := make([]Tutorial, 0, len(records))
	for _, record := range records {
		tutorial, err := s.present(opList, record)
		if err != nil {
			return nil, err
		}
		result = append(result, tutorial)
	}
	return result, nil
}

// Get returns a single tutorial for authors.
func (s *Service) Get(ctx context.Context, rawID string) (Tutorial, error) {
	record, err := s.load(ctx, opGet, rawID)
	if err != nil {
		return Tutorial{}, err
	}
	return s.present(opGet, record)
}

// GetPublic returns a tutorial for student playback. Drafts and archived
// tutorials are only served when preview is set.
func (s *Service) GetPublic(ctx context.Context, rawID string, preview bool) (Tutorial, error) {
	record, err := s.load(ctx, opGetPublic, rawID)
	if err != nil {
		return Tutorial{}, err
	}
	if !preview && (Status(record.Status) != StatusPublished || record.Archived) {
		return Tutorial{}, newServiceError(opGetPublic, reasonUnavailable, ErrTutorialUnavailable)
	}
	return s.present(opGetPublic, record)
}

// Update applies a partial update inside a single transaction. Nothing is
// written when any step fails.
func (s *Service) Update(ctx context.Context, rawID string, request UpdateRequest) (Tutorial, error) {
	if err := s.ready(opUpdate); err != nil {
		return Tutorial{}, err
	}
	tutorialID, err := NewTutorialID(rawID)
	if err != nil {
		return Tutorial{}, newServiceError(opUpdate, reasonInvalidID, err)
	}
	if request.Title != nil && strings.TrimSpace(*request.Title) == "" {
		return Tutorial{}, newServiceError(opUpdate, reasonInvalidTitle, fmt.Errorf("%w: empty", ErrInvalidTitle))
	}
	if request.Status != nil {
		if _, err := ParseStatus(*request.Status); err != nil {
			return Tutorial{}, newServiceError(opUpdate, reasonInvalidStatus, err)
		}
	}
	if request.SlidesPresent {
		if err := slides.ValidatePartialSlides(request.Slides); err != nil {
			return Tutorial{}, newServiceError(opUpdate, reasonInvalidPane, err)
		}
	}

	var outcome UpdateOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryTutorial, tutorialID.String()).
			Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdate, reasonNotFound, ErrTutorialNotFound)
		}
		if err != nil {
			s.logError(opUpdate, reasonQueryFailed, err, zap.String("tutorial_id", tutorialID.String()))
			return newServiceError(opUpdate, reasonQueryFailed, err)
		}

		if request.ExpectedVersion != nil && *request.ExpectedVersion != stored.Version {
			return newServiceError(opUpdate, reasonVersionConflict,
				fmt.Errorf("%w: expected %d, stored %d", ErrVersionConflict, *request.ExpectedVersion, stored.Version))
		}

		outcome, err = applyUpdate(stored, request, s.clock().UTC())
		if err != nil {
			s.logError(opUpdate, reasonApplyFailed, err, zap.String("tutorial_id", tutorialID.String()))
			return newServiceError(opUpdate, reasonApplyFailed, err)
		}

		if err := tx.Save(&outcome.UpdatedRecord).Error; err != nil {
			s.logError(opUpdate, reasonSaveFailed, err, zap.String("tutorial_id", tutorialID.String()))
			return newServiceError(opUpdate, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Tutorial{}, txErr
	}

	if outcome.SlidesGuarded {
		s.loggerOrDefault().Warn("refused to empty a non-empty slide list",
			zap.String("operation", opUpdate),
			zap.String("tutorial_id", tutorialID.String()))
	}

	return s.present(opUpdate, outcome.UpdatedRecord)
}

// Delete permanently removes a tutorial and returns its identifier.
func (s *Service) Delete(ctx context.Context, rawID string) (string, error) {
	if err := s.ready(opDelete); err != nil {
		return "", err
	}
	tutorialID, err := NewTutorialID(rawID)
	if err != nil {
		return "", newServiceError(opDelete, reasonInvalidID, err)
	}

	result := s.db.WithContext(ctx).Where(queryTutorial, tutorialID.String()).Delete(&Record{})
	if result.Error != nil {
		s.logError(opDelete, reasonSaveFailed, result.Error, zap.String("tutorial_id", tutorialID.String()))
		return "", newServiceError(opDelete, reasonSaveFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", newServiceError(opDelete, reasonNotFound, ErrTutorialNotFound)
	}
	return tutorialID.String(), nil
}

func (s *Service) load(ctx context.Context, operation, rawID string) (Record, error) {
	if err := s.ready(operation); err != nil {
		return Record{}, err
	}
	tutorialID, err := NewTutorialID(rawID)
	if err != nil {
		return Record{}, newServiceError(operation, reasonInvalidID, err)
	}

	var record Record
	err = s.db.WithContext(ctx).Where(queryTutorial, tutorialID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(operation, reasonNotFound, ErrTutorialNotFound)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("tutorial_id", tutorialID.String()))
		return Record{}, newServiceError(operation, reasonQueryFailed, err)
	}
	return record, nil
}

func (s *Service) present(operation string, record Record) (Tutorial, error) {
	tutorial, err := toTutorial(record)
	if err != nil {
		s.logError(operation, reasonDecodeFailed, err, zap.String("tutorial_id", record.TutorialID))
		return Tutorial{}, newServiceError(operation, reasonDecodeFailed, err)
	}
	return tutorial, nil
}

func (s *Service) ready(operation string) error {
	if s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	if s.idProvider == nil && operation == opCreate {
		s.logError(operation, reasonMissingIDProvider, errMissingIDProvider)
		return newServiceError(operation, reasonMissingIDProvider, errMissingIDProvider)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("tutorials service error", attrs...)
}
