package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbukum/eventbridge/logger"
)

// maxLoggedSQL bounds the statement text attached to query log records.
// Audit inserts carry whole event payloads.
const maxLoggedSQL = 512

var gormLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// parseLogLevel maps the database.log_level setting to GORM. Unknown values
// map to warn.
func parseLogLevel(level string) gormlogger.LogLevel {
	if l, ok := gormLevels[strings.ToLower(level)]; ok {
		return l
	}
	return gormlogger.Warn
}

// queryLogger routes GORM output through the service logger, tagged with
// the database category and the trace of the calling handler.
type queryLogger struct {
	log   *logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(log *logger.Logger, slow time.Duration, level gormlogger.LogLevel) gormlogger.Interface {
	return &queryLogger{
		log:   log.WithComponent("gorm").WithCategory(logger.CategoryDatabase),
		level: level,
		slow:  slow,
	}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *q
	c.level = level
	return &c
}

func (q *queryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if q.level >= gormlogger.Info {
		q.log.WithContext(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if q.level >= gormlogger.Warn {
		q.log.WithContext(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if q.level >= gormlogger.Error {
		q.log.WithContext(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed > q.slow

	var emit func(string, ...map[string]interface{})
	var msg string
	log := q.log.WithContext(ctx)
	switch {
	case failed && q.level >= gormlogger.Error:
		emit, msg = log.Error, "Query error"
	case slow && q.level >= gormlogger.Warn:
		emit, msg = log.Warn, "Slow query"
	case q.level >= gormlogger.Info:
		emit, msg = log.Debug, "Query"
	default:
		return
	}

	sql, rows := fc()
	if len(sql) > maxLoggedSQL {
		sql = sql[:maxLoggedSQL] + "..."
	}
	fields := map[string]interface{}{
		"sql":                sql,
		"rows":               rows,
		logger.FieldDuration: elapsed.Milliseconds(),
	}
	if failed {
		fields[logger.FieldError] = err.Error()
	}
	emit(msg, fields)
}
