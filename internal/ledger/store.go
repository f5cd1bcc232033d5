package ledger

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotStore persists ledger snapshots. The file and postgres stores are
// interchangeable; the runtime picks one from configuration.
type SnapshotStore interface {
	Save(snap Snapshot) error
	Load() (Snapshot, bool, error)
}

// FileStore keeps the latest snapshot as a JSON file.
type FileStore struct {
	Path string
}

// Save writes the snapshot, replacing any previous one.
func (s FileStore) Save(snap Snapshot) error {
	return WriteSnapshot(s.Path, snap)
}

// Load reads the snapshot. The bool is false when none exists yet.
func (s FileStore) Load() (Snapshot, bool, error) {
	snap, err := ReadSnapshot(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// snapshotRecord is the single-row table holding the latest book snapshot.
type snapshotRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Cycle     uint64 `gorm:"column:cycle"`
	Body      []byte `gorm:"column:body;type:jsonb"`
	UpdatedAt time.Time
}

func (snapshotRecord) TableName() string { return "ledger_snapshots" }

// PgStore persists snapshots in PostgreSQL through gorm.
type PgStore struct {
	db *gorm.DB
}

// NewPgStore migrates the snapshot table and returns the store.
func NewPgStore(db *gorm.DB) (*PgStore, error) {
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, err
	}
	return &PgStore{db: db}, nil
}

// Save upserts the snapshot into the single book row.
func (s *PgStore) Save(snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	record := snapshotRecord{
		ID:        1,
		Cycle:     snap.Cycle,
		Body:      body,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&record).Error
}

// Load reads the latest snapshot row. The bool is false when none exists.
func (s *PgStore) Load() (Snapshot, bool, error) {
	var record snapshotRecord
	err := s.db.First(&record, 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(record.Body, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
