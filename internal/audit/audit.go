// Package audit is an optional, write-only append log of kernel
// lifecycle events (spawned, ready, crashed, stopped), persisted via
// GORM/Postgres. It exists alongside — never instead of — the
// file-based notebook/run persistence in internal/storage; nothing in
// this module reads it back, so a notebook can always be reloaded with
// no database present at all.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Event is one row of the kernel_events table.
type Event struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	KernelID   string `gorm:"index;size:36"`
	NotebookID uint32 `gorm:"index"`
	RunID      string `gorm:"size:36"`
	Kind       string `gorm:"size:32"`
	Message    string
	At         time.Time `gorm:"index"`
}

// Log is the append-only sink. A Log without a database (as returned by
// Disabled), or a nil *Log, makes every method a no-op, so callers never
// need to branch on whether auditing is configured.
type Log struct {
	db *gorm.DB
}

// Disabled returns a Log that silently drops every event, used when
// auditing is not enabled or its database cannot be set up.
func Disabled() *Log { return &Log{} }

// Open connects to dsn, migrates the kernel_events table, and returns a
// live Log. Most callers should prefer NewFromDB with a pool the process
// already opened via internal/infrastructure/database; Open exists for
// standalone use (tests, one-off tools).
func Open(dsn string) (*Log, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

// NewFromDB migrates the kernel_events table on an already-open pool and
// returns a live Log.
func NewFromDB(db *gorm.DB) (*Log, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

func (l *Log) record(kernelID uuid.UUID, notebookID uint32, runID uuid.UUID, kind, message string) {
	if l == nil || l.db == nil {
		return
	}
	event := Event{
		KernelID:   kernelID.String(),
		NotebookID: notebookID,
		RunID:      runID.String(),
		Kind:       kind,
		Message:    message,
		At:         time.Now(),
	}
	if err := l.db.Create(&event).Error; err != nil {
		log.Warn().Err(err).Str("kernel_id", event.KernelID).Msg("failed to record kernel audit event")
	}
}

func (l *Log) Spawned(kernelID uuid.UUID, notebookID uint32, runID uuid.UUID) {
	l.record(kernelID, notebookID, runID, "spawned", "")
}

func (l *Log) Ready(kernelID uuid.UUID, notebookID uint32, runID uuid.UUID) {
	l.record(kernelID, notebookID, runID, "ready", "")
}

func (l *Log) Crashed(kernelID uuid.UUID, notebookID uint32, runID uuid.UUID, message string) {
	l.record(kernelID, notebookID, runID, "crashed", message)
}

func (l *Log) Stopped(kernelID uuid.UUID, notebookID uint32, runID uuid.UUID) {
	l.record(kernelID, notebookID, runID, "stopped", "")
}

// Close releases the underlying connection pool, if any.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
