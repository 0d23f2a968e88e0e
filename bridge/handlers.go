package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/eventbridge/cdc"
	"github.com/kbukum/eventbridge/database"
	"github.com/kbukum/eventbridge/dispatch"
	"github.com/kbukum/eventbridge/events"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/util"
)

// AuditStore persists application events. *database.DB satisfies it.
type AuditStore interface {
	RecordEvent(ctx context.Context, entry *database.EventLog) (bool, error)
}

// Handlers is the dispatch.Handler of the bridge. Application records are
// logged and, with a store, written to the audit log. CDC records are logged
// with their database and record metadata.
type Handlers struct {
	log   *logger.Logger
	cdc   *logger.Logger
	audit AuditStore
}

var _ dispatch.Handler = (*Handlers)(nil)

// NewHandlers creates the handler set. audit may be nil.
func NewHandlers(log *logger.Logger, audit AuditStore) *Handlers {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("handlers")
	return &Handlers{
		log:   log.WithCategory(logger.CategoryKafka),
		cdc:   log.WithCategory(logger.CategoryDatabase),
		audit: audit,
	}
}

// HandleApplication logs the record and stores it in the audit log.
func (h *Handlers) HandleApplication(ctx context.Context, msg kafka.Message, _ interface{}) error {
	h.log.Info("Processing message from "+msg.Topic, map[string]interface{}{
		logger.FieldKey:       msg.Key,
		logger.FieldPartition: msg.Partition,
		logger.FieldOffset:    msg.Offset,
	})
	if h.audit == nil {
		return nil
	}

	ev, err := events.DecodeDomainEvent(msg)
	if err != nil {
		return err
	}
	entry, err := auditEntry(msg, ev)
	if err != nil {
		return err
	}
	stored, err := h.audit.RecordEvent(ctx, entry)
	if err != nil {
		return fmt.Errorf("audit %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	if !stored {
		h.log.Debug("Audit row already present", logger.RecordFields(msg.Topic, msg.Partition, msg.Offset))
	}
	return nil
}

func auditEntry(msg kafka.Message, ev events.DomainEvent) (*database.EventLog, error) {
	payload, err := json.Marshal(util.RedactPositional(ev.Action, ev.Payload))
	if err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}
	occurred := ev.Timestamp
	if occurred.IsZero() {
		occurred = msg.Timestamp
	}
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return &database.EventLog{
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		Key:        msg.Key,
		Category:   string(ev.Category),
		Action:     ev.Action,
		SubjectID:  ev.SubjectID,
		Source:     ev.Source,
		Payload:    string(payload),
		OccurredAt: occurred.UTC(),
	}, nil
}

func (h *Handlers) HandleInsert(_ context.Context, ev cdc.Event, msg kafka.Message) error {
	h.logChange(ev, msg)
	return nil
}

func (h *Handlers) HandleUpdate(_ context.Context, ev cdc.Event, msg kafka.Message) error {
	h.logChange(ev, msg)
	return nil
}

func (h *Handlers) HandleDelete(_ context.Context, ev cdc.Event, msg kafka.Message) error {
	h.logChange(ev, msg)
	return nil
}

// HandleUnknown warns and accepts the record.
func (h *Handlers) HandleUnknown(_ context.Context, ev cdc.Event, msg kafka.Message) error {
	h.cdc.Warn("Unknown event type: "+util.Coalesce(ev.Op, string(ev.EventType)), metadata(ev, msg))
	return nil
}

func (h *Handlers) logChange(ev cdc.Event, msg kafka.Message) {
	h.cdc.Info("Processing "+strings.ToUpper(string(ev.EventType))+" event", metadata(ev, msg))

	if len(ev.Data) == 0 && ev.Old == nil && ev.New == nil {
		return
	}
	rows := logger.RecordFields(msg.Topic, msg.Partition, msg.Offset)
	if len(ev.Data) > 0 {
		rows["data"] = ev.Data
	}
	if ev.Old != nil && ev.New != nil {
		rows["old"] = ev.Old
		rows["new"] = ev.New
	}
	h.cdc.Debug("CDC row images "+ev.Qualified(), rows)
}

// metadata is the per-record field set of the CDC log lines.
func metadata(ev cdc.Event, msg kafka.Message) map[string]interface{} {
	f := ev.Fields()
	f[logger.FieldTopic] = msg.Topic
	f[logger.FieldPartition] = msg.Partition
	f[logger.FieldOffset] = msg.Offset
	f[logger.FieldKey] = msg.Key
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = msg.Timestamp
	}
	if !ts.IsZero() {
		f["timestamp"] = ts.UTC().Format(time.RFC3339Nano)
	}
	return f
}
