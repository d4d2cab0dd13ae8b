package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// DefaultListLimit is the number of records returned when the caller does not specify a limit
const DefaultListLimit = 50

// MaxListLimit caps the number of records returned by a single query
const MaxListLimit = 1000

var ErrNotFound = errors.New("Not found")

// HistoryDB records inference runs and dataset exports
type HistoryDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create the history database
func Open(log logs.Log, dbFilename string) (*HistoryDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &HistoryDB{
		log: log,
		db:  db,
	}, nil
}

func (h *HistoryDB) Close() {
	if sqlDB, err := h.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (h *HistoryDB) AddRun(run *InferenceRun) error {
	run.ID = 0
	if run.CreatedAt == 0 {
		run.CreatedAt = dbh.MakeIntTime(time.Now())
	}
	return h.db.Create(run).Error
}

func (h *HistoryDB) AddExport(exp *DatasetExport) error {
	exp.ID = 0
	if exp.CreatedAt == 0 {
		exp.CreatedAt = dbh.MakeIntTime(time.Now())
	}
	return h.db.Create(exp).Error
}

// Runs returns the most recent inference runs, newest first
func (h *HistoryDB) Runs(limit int) ([]InferenceRun, error) {
	runs := []InferenceRun{}
	err := h.db.Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&runs).Error
	return runs, err
}

// Exports returns the most recent dataset exports, newest first
func (h *HistoryDB) Exports(limit int) ([]DatasetExport, error) {
	exports := []DatasetExport{}
	err := h.db.Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&exports).Error
	return exports, err
}

// Export returns a single dataset export, or ErrNotFound
func (h *HistoryDB) Export(id int64) (*DatasetExport, error) {
	exp := DatasetExport{}
	err := h.db.First(&exp, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// ArchivedExports returns every export that still has an archive in storage, newest first
func (h *HistoryDB) ArchivedExports() ([]DatasetExport, error) {
	exports := []DatasetExport{}
	err := h.db.Where("archive_path != ''").Order("created_at DESC, id DESC").Find(&exports).Error
	return exports, err
}

// ClearArchivePaths records that the given archives no longer exist in storage
func (h *HistoryDB) ClearArchivePaths(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return h.db.Model(&DatasetExport{}).Where("archive_path IN ?", paths).Update("archive_path", "").Error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
