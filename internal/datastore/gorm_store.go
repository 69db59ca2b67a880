package datastore

import (
	"context"
	"time"

	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/logging"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore is the GORM-backed Database implementation, covering both
// the sqlite and mysql dialects named in spec.md §6.3 through
// settings.Database.Dialect.
type GormStore struct {
	Settings *conf.Settings
	DB       *gorm.DB
}

func NewGormStore(settings *conf.Settings) *GormStore {
	return &GormStore{Settings: settings}
}

func (s *GormStore) Open(ctx context.Context) error {
	var dialector gorm.Dialector
	switch s.Settings.Database.Dialect {
	case conf.DialectMySQL:
		dialector = mysql.Open(s.Settings.Database.DSN)
	case conf.DialectSQLite, "":
		dialector = sqlite.Open(s.Settings.Database.DSN)
	default:
		return errors.Newf("unsupported database dialect %q", s.Settings.Database.Dialect).
			Category(errors.CategoryDatabase).Build()
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).
			Context("dialect", s.Settings.Database.Dialect).Build()
	}

	if s.Settings.Database.Dialect == conf.DialectSQLite || s.Settings.Database.Dialect == "" {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			for _, pragma := range []string{
				"PRAGMA foreign_keys=ON",
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
			} {
				if _, execErr := sqlDB.Exec(pragma); execErr != nil {
					logging.ForComponent("datastore").Warn("failed to set pragma", "pragma", pragma, "error", execErr)
				}
			}
		}
	}

	if err := db.AutoMigrate(
		&Organization{}, &Location{},
		&MenuItem{}, &MenuMeal{}, &MenuAddOn{},
		&Run{}, &Recording{}, &Transaction{}, &Grade{},
		&Worker{}, &VoiceSample{},
		&RunAnalytics{}, &RunAnalyticsWorker{},
	); err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Context("operation", "automigrate").Build()
	}

	s.DB = db
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return sqlDB.Close()
}

func (s *GormStore) withCtx(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

func upsert(db *gorm.DB, value any, conflictCols []clause.Column) error {
	result := db.Clauses(clause.OnConflict{
		Columns:   conflictCols,
		UpdateAll: true,
	}).Create(value)
	if result.Error != nil {
		return errors.New(result.Error).Category(errors.CategoryDatabase).Build()
	}
	return nil
}

func (s *GormStore) GetLocation(ctx context.Context, locationID ID) (*Location, error) {
	var loc Location
	if err := s.withCtx(ctx).First(&loc, "id = ?", locationID).Error; err != nil {
		return nil, notFoundOr(err, "location")
	}
	return &loc, nil
}

func (s *GormStore) GetMenu(ctx context.Context, locationID ID) ([]MenuItem, []MenuMeal, []MenuAddOn, error) {
	var items []MenuItem
	var meals []MenuMeal
	var addOns []MenuAddOn
	db := s.withCtx(ctx)
	if err := db.Where("location_id = ?", locationID).Find(&items).Error; err != nil {
		return nil, nil, nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	if err := db.Where("location_id = ?", locationID).Find(&meals).Error; err != nil {
		return nil, nil, nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	if err := db.Where("location_id = ?", locationID).Find(&addOns).Error; err != nil {
		return nil, nil, nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return items, meals, addOns, nil
}

func (s *GormStore) ListWorkers(ctx context.Context, locationID ID) ([]Worker, error) {
	var workers []Worker
	if err := s.withCtx(ctx).Where("location_id = ?", locationID).Find(&workers).Error; err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return workers, nil
}

func (s *GormStore) UpsertRun(ctx context.Context, run *Run) error {
	return upsert(s.withCtx(ctx), run, []clause.Column{{Name: "id"}})
}

func (s *GormStore) GetRunByLocationDate(ctx context.Context, locationID ID, runDate string) (*Run, error) {
	var run Run
	err := s.withCtx(ctx).First(&run, "location_id = ? AND run_date = ?", locationID, runDate).Error
	if err != nil {
		return nil, notFoundOr(err, "run")
	}
	return &run, nil
}

func (s *GormStore) GetRun(ctx context.Context, runID ID) (*Run, error) {
	var run Run
	if err := s.withCtx(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, notFoundOr(err, "run")
	}
	return &run, nil
}

func (s *GormStore) UpdateRunStatus(ctx context.Context, runID ID, status string, diagnostics string) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": status, "diagnostics": diagnostics}
	if status == conf.RunStatusComplete || status == conf.RunStatusFailed {
		updates["ended_at"] = now
	}
	if err := s.withCtx(ctx).Model(&Run{}).Where("id = ?", runID).Updates(updates).Error; err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return nil
}

func (s *GormStore) UpsertRecording(ctx context.Context, rec *Recording) error {
	return upsert(s.withCtx(ctx), rec, []clause.Column{{Name: "id"}})
}

func (s *GormStore) ListRecordingsByRun(ctx context.Context, runID ID) ([]Recording, error) {
	var recs []Recording
	if err := s.withCtx(ctx).Where("run_id = ?", runID).Find(&recs).Error; err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return recs, nil
}

func (s *GormStore) UpsertTransaction(ctx context.Context, tx *Transaction) error {
	return upsert(s.withCtx(ctx), tx, []clause.Column{{Name: "id"}})
}

func (s *GormStore) ListTransactionsByRun(ctx context.Context, runID ID) ([]Transaction, error) {
	var txs []Transaction
	if err := s.withCtx(ctx).Where("run_id = ?", runID).Order("started_at").Find(&txs).Error; err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return txs, nil
}

func (s *GormStore) AssignTransactionWorker(ctx context.Context, transactionID ID, workerID ID, confidence float64, source string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"worker_id":                workerID,
		"worker_confidence":        confidence,
		"worker_assignment_source": source,
		"voice_processed_at":       now,
	}
	if err := s.withCtx(ctx).Model(&Transaction{}).Where("id = ?", transactionID).Updates(updates).Error; err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return nil
}

// MarkVoiceProcessed stamps voice_processed_at without touching the
// worker assignment, for the skip/no-match outcomes of Phase 2 voice
// diarization (spec.md §4.5 Phase 2 step 7).
func (s *GormStore) MarkVoiceProcessed(ctx context.Context, transactionID ID) error {
	now := time.Now().UTC()
	if err := s.withCtx(ctx).Model(&Transaction{}).Where("id = ?", transactionID).Update("voice_processed_at", now).Error; err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return nil
}

func (s *GormStore) UpsertGrade(ctx context.Context, grade *Grade) error {
	return upsert(s.withCtx(ctx), grade, []clause.Column{{Name: "transaction_id"}})
}

func (s *GormStore) ListGradesByRun(ctx context.Context, runID ID) ([]Grade, error) {
	var grades []Grade
	err := s.withCtx(ctx).
		Joins("JOIN transactions ON transactions.id = grades.transaction_id").
		Where("transactions.run_id = ?", runID).
		Find(&grades).Error
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return grades, nil
}

func (s *GormStore) UpsertVoiceSample(ctx context.Context, sample *VoiceSample) error {
	return upsert(s.withCtx(ctx), sample, []clause.Column{{Name: "id"}})
}

func (s *GormStore) ListVoiceSamples(ctx context.Context, locationID ID) ([]VoiceSample, error) {
	var samples []VoiceSample
	if err := s.withCtx(ctx).Where("location_id = ?", locationID).Find(&samples).Error; err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return samples, nil
}

func (s *GormStore) UpsertRunAnalytics(ctx context.Context, a *RunAnalytics) error {
	return upsert(s.withCtx(ctx), a, []clause.Column{{Name: "run_id"}})
}

func (s *GormStore) UpsertRunAnalyticsWorker(ctx context.Context, a *RunAnalyticsWorker) error {
	return upsert(s.withCtx(ctx), a, []clause.Column{{Name: "run_id"}, {Name: "worker_id"}})
}

func notFoundOr(err error, what string) error {
	if err == gorm.ErrRecordNotFound {
		return errors.New(err).Category(errors.CategoryNotFound).Context("entity", what).Build()
	}
	return errors.New(err).Category(errors.CategoryDatabase).Kind(errors.KindTransientExternal).Build()
}
