// Package auditlog keeps an optional MySQL-backed trail of processing
// outcomes for the monitor API. The core never depends on it being
// configured: a nil *Store is valid and records nothing.
package auditlog

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ResponseLog is one processing outcome for one message.
type ResponseLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	PersonaID string    `json:"persona_id" gorm:"type:varchar(64);not null;index"`
	UID       uint32    `json:"uid" gorm:"not null"`
	Sender    string    `json:"sender" gorm:"type:varchar(255);not null;index"`
	Subject   string    `json:"subject" gorm:"type:varchar(998)"`
	Status    string    `json:"status" gorm:"type:varchar(50);not null"` // answered, skipped, failed
	Reason    string    `json:"reason" gorm:"type:varchar(50)"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for ResponseLog
func (ResponseLog) TableName() string {
	return "response_logs"
}

// Store wraps the database connection.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL and migrates the schema. An empty DSN returns a nil
// store, which disables auditing.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}

	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}
	if err := db.AutoMigrate(&ResponseLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	logrus.Info("Audit log database initialized")
	return &Store{db: db}, nil
}

// Enabled reports whether auditing is configured.
func (s *Store) Enabled() bool {
	return s != nil
}

// Record writes one outcome. Persistence failures are logged, never
// propagated: auditing must not break processing.
func (s *Store) Record(entry ResponseLog) {
	if s == nil {
		return
	}
	entry.CreatedAt = time.Now()
	if err := s.db.Create(&entry).Error; err != nil {
		logrus.WithError(err).Warn("Failed to record audit entry")
	}
}

// List returns the most recent entries, newest first.
func (s *Store) List(limit int) ([]ResponseLog, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []ResponseLog
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
