package tutorials

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/slides"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestServiceCreateSeedsTwoEmptySlides(t *testing.T) {
	service, clock := newTestService(t)

	created, err := service.Create(context.Background(), CreateRequest{Title: "  Library basics  "})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if created.TutorialID != "id-1" {
		t.Fatalf("unexpected tutorial id %q", created.TutorialID)
	}
	if created.Title != "Library basics" || created.Description != "" {
		t.Fatalf("unexpected title/description: %q %q", created.Title, created.Description)
	}
	if created.Status != StatusDraft || created.Archived {
		t.Fatalf("expected a non-archived draft, got %s %v", created.Status, created.Archived)
	}
	if created.CreatedAt != clock.formatted(0) || created.UpdatedAt != created.CreatedAt {
		t.Fatalf("unexpected timestamps %s %s", created.CreatedAt, created.UpdatedAt)
	}
	expectedSlides := []slides.Slide{
		slides.NewEmptySlide("id-2", 1),
		slides.NewEmptySlide("id-3", 2),
	}
	if len(created.Slides) != 2 || created.Slides[0] != expectedSlides[0] || created.Slides[1] != expectedSlides[1] {
		t.Fatalf("unexpected initial slides: %+v", created.Slides)
	}
}

func TestServiceCreateRequiresTitle(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Create(context.Background(), CreateRequest{Title: "   "})
	if !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected invalid title error, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "tutorials.create.invalid_title" {
		t.Fatalf("unexpected service error: %v", err)
	}
}

func TestServiceUpdatePreservesImmutableFieldsAndPersists(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateRequest{Title: "Original", Description: "Keep"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	clock.advance(1500 * time.Millisecond)
	title := "Renamed"
	incoming, _ := slides.DecodePartialSlides([]byte(`[{"slideId":"id-2","leftPane":{"type":"text","data":{"content":"<p>Hello</p>"}}},{"slideId":"new-slide"}]`))
	updated, err := service.Update(ctx, created.TutorialID, UpdateRequest{
		Title:         &title,
		Slides:        incoming,
		SlidesPresent: true,
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	if updated.TutorialID != created.TutorialID || updated.CreatedAt != created.CreatedAt {
		t.Fatalf("immutable fields changed: %+v", updated)
	}
	if updated.UpdatedAt != clock.formatted(1500*time.Millisecond) {
		t.Fatalf("unexpected updatedAt %s", updated.UpdatedAt)
	}
	if updated.Title != "Renamed" || updated.Description != "Keep" {
		t.Fatalf("unexpected scalar fields: %+v", updated)
	}
	if updated.Version != created.Version+1 {
		t.Fatalf("expected version to increment, got %d", updated.Version)
	}
	if len(updated.Slides) != 3 || updated.Slides[2].SlideID != "new-slide" || updated.Slides[2].Order != 3 {
		t.Fatalf("unexpected merged slides: %+v", updated.Slides)
	}
	if updated.Slides[0].LeftPane == nil || updated.Slides[0].LeftPane.Type != slides.PaneTypeText {
		t.Fatalf("expected left pane to be set on first slide")
	}

	reloaded, err := service.Get(ctx, created.TutorialID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.UpdatedAt != updated.UpdatedAt || len(reloaded.Slides) != 3 {
		t.Fatalf("update was not persisted: %+v", reloaded)
	}
}

func TestServiceUpdateEmptyPayloadRefreshesTimestamp(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateRequest{Title: "Original"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	clock.advance(time.Minute)

	updated, err := service.Update(ctx, created.TutorialID, UpdateRequest{})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.UpdatedAt == created.UpdatedAt {
		t.Fatalf("expected updatedAt to refresh")
	}
	if len(updated.Slides) != 2 || updated.Title != created.Title {
		t.Fatalf("expected content to be unchanged: %+v", updated)
	}
}

func TestServiceUpdateFailures(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateRequest{Title: "Original"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	badStatus := "archived"
	blankTitle := "   "
	staleVersion := int64(42)
	badPane, _ := slides.DecodePartialSlides([]byte(`[{"slideId":"id-2","leftPane":{"type":"html","data":{}}}]`))

	testCases := []struct {
		name       string
		tutorialID string
		request    UpdateRequest
		wantErr    error
		wantCode   string
	}{
		{
			name:       "not-found",
			tutorialID: "missing",
			request:    UpdateRequest{},
			wantErr:    ErrTutorialNotFound,
			wantCode:   "tutorials.update.not_found",
		},
		{
			name:       "invalid-status",
			tutorialID: created.TutorialID,
			request:    UpdateRequest{Status: &badStatus},
			wantErr:    ErrInvalidStatus,
			wantCode:   "tutorials.update.invalid_status",
		},
		{
			name:       "invalid-pane",
			tutorialID: created.TutorialID,
			request:    UpdateRequest{Slides: badPane, SlidesPresent: true},
			wantErr:    slides.ErrInvalidPane,
			wantCode:   "tutorials.update.invalid_pane",
		},
		{
			name:       "blank-title",
			tutorialID: created.TutorialID,
			request:    UpdateRequest{Title: &blankTitle},
			wantErr:    ErrInvalidTitle,
			wantCode:   "tutorials.update.invalid_title",
		},
		{
			name:       "version-conflict",
			tutorialID: created.TutorialID,
			request:    UpdateRequest{ExpectedVersion: &staleVersion},
			wantErr:    ErrVersionConflict,
			wantCode:   "tutorials.update.version_conflict",
		},
		{
			name:       "blank-id",
			tutorialID: " ",
			request:    UpdateRequest{},
			wantErr:    ErrInvalidTutorialID,
			wantCode:   "tutorials.update.invalid_tutorial_id",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Update(ctx, testCase.tutorialID, testCase.request)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) || serviceErr.Code() != testCase.wantCode {
				t.Fatalf("unexpected error code: %v", err)
			}
		})
	}

	reloaded, err := service.Get(ctx, created.TutorialID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.Version != created.Version || reloaded.Slides[0].LeftPane != nil {
		t.Fatalf("failed updates must not write: %+v", reloaded)
	}
}

func TestServiceUpdateMatchingVersionSucceeds(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateRequest{Title: "Original"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	expected := created.Version
	updated, err := service.Update(ctx, created.TutorialID, UpdateRequest{ExpectedVersion: &expected})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Version != expected+1 {
		t.Fatalf("unexpected version %d", updated.Version)
	}
}

func TestServiceGetPublicVisibility(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	draft, err := service.Create(ctx, CreateRequest{Title: "Draft"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	published, err := service.Create(ctx, CreateRequest{Title: "Published"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	publishedStatus := string(StatusPublished)
	if _, err := service.Update(ctx, published.TutorialID, UpdateRequest{Status: &publishedStatus}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	archived, err := service.Create(ctx, CreateRequest{Title: "Archived"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	archivedFlag := true
	if _, err := service.Update(ctx, archived.TutorialID, UpdateRequest{Status: &publishedStatus, Archived: &archivedFlag}); err != nil {
		t.Fatalf("unexpected archive error: %v", err)
	}

	testCases := []struct {
		name       string
		tutorialID string
		preview    bool
		wantErr    error
	}{
		{name: "published", tutorialID: published.TutorialID},
		{name: "draft", tutorialID: draft.TutorialID, wantErr: ErrTutorialUnavailable},
		{name: "archived", tutorialID: archived.TutorialID, wantErr: ErrTutorialUnavailable},
		{name: "draft-preview", tutorialID: draft.TutorialID, preview: true},
		{name: "missing", tutorialID: "missing", wantErr: ErrTutorialNotFound},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			tutorial, err := service.GetPublic(ctx, testCase.tutorialID, testCase.preview)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tutorial.TutorialID != testCase.tutorialID {
				t.Fatalf("unexpected tutorial %q", tutorial.TutorialID)
			}
		})
	}
}

func TestServiceListFiltersNewestFirst(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	first, err := service.Create(ctx, CreateRequest{Title: "First"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	clock.advance(time.Second)
	second, err := service.Create(ctx, CreateRequest{Title: "Second"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	publishedStatus := string(StatusPublished)
	if _, err := service.Update(ctx, first.TutorialID, UpdateRequest{Status: &publishedStatus}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	all, err := service.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(all) != 2 || all[0].TutorialID != second.TutorialID || all[1].TutorialID != first.TutorialID {
		t.Fatalf("unexpected list order: %+v", all)
	}

	status := StatusPublished
	published, err := service.List(ctx, ListFilter{Status: &status})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(published) != 1 || published[0].TutorialID != first.TutorialID {
		t.Fatalf("unexpected published list: %+v", published)
	}

	archived := true
	archivedList, err := service.List(ctx, ListFilter{Archived: &archived})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(archivedList) != 0 {
		t.Fatalf("expected no archived tutorials, got %d", len(archivedList))
	}
}

func TestServiceDelete(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateRequest{Title: "Doomed"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	deletedID, err := service.Delete(ctx, created.TutorialID)
	if err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if deletedID != created.TutorialID {
		t.Fatalf("unexpected deleted id %q", deletedID)
	}
	if _, err := service.Get(ctx, created.TutorialID); !errors.Is(err, ErrTutorialNotFound) {
		t.Fatalf("expected tutorial to be gone, got %v", err)
	}
	if _, err := service.Delete(ctx, created.TutorialID); !errors.Is(err, ErrTutorialNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestServiceReportsMissingDatabase(t *testing.T) {
	service := &Service{}
	_, err := service.List(context.Background(), ListFilter{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "tutorials.list.missing_database" {
		t.Fatalf("expected missing database code, got %v", err)
	}
}

type stepClock struct {
	start  time.Time
	offset time.Duration
}

func (c *stepClock) now() time.Time {
	return c.start.Add(c.offset)
}

func (c *stepClock) advance(step time.Duration) {
	c.offset += step
}

func (c *stepClock) formatted(offset time.Duration) string {
	return c.start.Add(offset).UTC().Format(TimestampLayout)
}

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func newTestService(t *testing.T) (*Service, *stepClock) {
	t.Helper()
	db := openTestDatabase(t)
	clock := &stepClock{start: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.now,
		IDProvider: &sequenceIDProvider{},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, clock
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tutorials.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}
