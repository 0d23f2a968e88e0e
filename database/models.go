package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel contains common fields for all database models. IDs are
// client-generated UUID strings so the same schema works on MySQL, TiDB
// and SQLite.
type BaseModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// BeforeCreate generates a UUID if not already set.
func (b *BaseModel) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// EventLog is the audit row written for every application event consumed
// from the bus. (topic, partition, offset) is unique, so a redelivered
// record is stored once.
type EventLog struct {
	BaseModel
	Topic      string    `gorm:"size:255;not null;uniqueIndex:idx_event_log_record,priority:1"`
	Partition  int       `gorm:"not null;uniqueIndex:idx_event_log_record,priority:2"`
	Offset     int64     `gorm:"not null;uniqueIndex:idx_event_log_record,priority:3"`
	Key        string    `gorm:"size:255"`
	Category   string    `gorm:"size:64;index"`
	Action     string    `gorm:"size:255"`
	SubjectID  string    `gorm:"size:255;index"`
	Source     string    `gorm:"size:128"`
	Payload    string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index"`
}

// TableName pins the audit table name.
func (EventLog) TableName() string { return "event_log" }

// Models lists every model the component migrates.
func Models() []interface{} {
	return []interface{}{&EventLog{}}
}
