package dispatch

import (
	"context"

	"github.com/kbukum/eventbridge/cdc"
	"github.com/kbukum/eventbridge/kafka"
)

// Handler receives decoded records. Methods run on the consume loop, one at
// a time; a returned error is counted and logged and the loop moves on.
type Handler interface {
	// HandleApplication receives a record from an application topic.
	// payload is the decoded JSON value.
	HandleApplication(ctx context.Context, msg kafka.Message, payload interface{}) error
	HandleInsert(ctx context.Context, ev cdc.Event, msg kafka.Message) error
	HandleUpdate(ctx context.Context, ev cdc.Event, msg kafka.Message) error
	HandleDelete(ctx context.Context, ev cdc.Event, msg kafka.Message) error
	// HandleUnknown receives CDC records whose operation is not recognized.
	HandleUnknown(ctx context.Context, ev cdc.Event, msg kafka.Message) error
}

// CDCHandlerFunc handles one normalized CDC record.
type CDCHandlerFunc func(ctx context.Context, ev cdc.Event, msg kafka.Message) error

// HandlerFuncs adapts plain functions to Handler. Nil fields accept the
// record and do nothing.
type HandlerFuncs struct {
	Application func(ctx context.Context, msg kafka.Message, payload interface{}) error
	Insert      CDCHandlerFunc
	Update      CDCHandlerFunc
	Delete      CDCHandlerFunc
	Unknown     CDCHandlerFunc
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) HandleApplication(ctx context.Context, msg kafka.Message, payload interface{}) error {
	if h.Application == nil {
		return nil
	}
	return h.Application(ctx, msg, payload)
}

func (h HandlerFuncs) HandleInsert(ctx context.Context, ev cdc.Event, msg kafka.Message) error {
	return call(h.Insert, ctx, ev, msg)
}

func (h HandlerFuncs) HandleUpdate(ctx context.Context, ev cdc.Event, msg kafka.Message) error {
	return call(h.Update, ctx, ev, msg)
}

func (h HandlerFuncs) HandleDelete(ctx context.Context, ev cdc.Event, msg kafka.Message) error {
	return call(h.Delete, ctx, ev, msg)
}

func (h HandlerFuncs) HandleUnknown(ctx context.Context, ev cdc.Event, msg kafka.Message) error {
	return call(h.Unknown, ctx, ev, msg)
}

func call(fn CDCHandlerFunc, ctx context.Context, ev cdc.Event, msg kafka.Message) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, ev, msg)
}

// RedeliveryGuard reports whether a record is seen for the first time.
// Records already seen are skipped without calling the Handler.
type RedeliveryGuard interface {
	FirstSeen(ctx context.Context, msg kafka.Message) (bool, error)
}
