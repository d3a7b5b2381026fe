package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/tutorials"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeTutorialStatus = "2026-09-14_normalize_tutorial_status"
	migrationBackfillSlidesJSON      = "2026-09-14_backfill_empty_slides_json"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeTutorialStatus, apply: normalizeTutorialStatus},
		{name: migrationBackfillSlidesJSON, apply: backfillEmptySlidesJSON},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeTutorialStatus maps legacy or blank statuses onto draft.
func normalizeTutorialStatus(db *gorm.DB) error {
	return db.Model(&tutorials.Record{}).
		Where("status NOT IN ?", []string{string(tutorials.StatusDraft), string(tutorials.StatusPublished)}).
		Update("status", string(tutorials.StatusDraft)).Error
}

func backfillEmptySlidesJSON(db *gorm.DB) error {
	return db.Model(&tutorials.Record{}).
		Where("TRIM(slides_json) = '' OR slides_json = 'null'").
		Update("slides_json", "[]").Error
}
