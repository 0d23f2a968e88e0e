package database

import (
	"context"

	"gorm.io/gorm/clause"
)

// RecordEvent inserts entry into event_log. A row that already exists for
// the same topic, partition and offset is left untouched and stored is
// false.
func (d *DB) RecordEvent(ctx context.Context, entry *EventLog) (stored bool, err error) {
	res := d.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, FromDatabase(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecentEvents returns up to limit audit rows for topic, newest first. An
// empty topic matches every topic.
func (d *DB) RecentEvents(ctx context.Context, topic string, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	q := d.WithContext(ctx).Order("occurred_at DESC").Order("`offset` DESC").Limit(limit)
	if topic != "" {
		q = q.Where("topic = ?", topic)
	}
	var rows []EventLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, FromDatabase(err)
	}
	return rows, nil
}
