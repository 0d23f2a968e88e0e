package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/eventbridge/cdc"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/kafka/kafkatest"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/resilience"
)

const cdcTopic = "tidb-cdc"

var appTopics = []string{"user-actions", "data-updates", "system-events"}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) count(message string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(s.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]interface{}
		if json.Unmarshal(sc.Bytes(), &rec) == nil && rec["message"] == message {
			n++
		}
	}
	return n
}

type harness struct {
	broker *kafkatest.Broker
	mgr    *kafka.Manager
	disp   *Dispatcher
	logs   *syncBuffer
	runErr chan error
}

func newHarness(t *testing.T, h Handler, opts ...Option) *harness {
	t.Helper()
	b := kafkatest.NewBroker()
	cfg := kafka.Config{}
	cfg.ApplyDefaults()
	policy := resilience.BrokerPolicy()
	policy.InitialBackoff = time.Millisecond
	policy.MaxBackoff = 2 * time.Millisecond
	policy.Jitter = 0
	m := kafka.NewManager(cfg, logger.NewNop(), b.ProducerFactory(), b.ReaderFactory(), kafka.WithRetryPolicy(policy))

	logs := &syncBuffer{}
	log := logger.New(&logger.Config{Level: "debug", Format: logger.FormatJSON, Writer: logs}, "test")
	opts = append([]Option{WithReadBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)
	d := New(m, h, log, opts...)

	hs := &harness{broker: b, mgr: m, disp: d, logs: logs}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
		_ = m.Close(ctx)
	})
	return hs
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.disp.Subscribe(context.Background(), appTopics, []string{cdcTopic}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.runErr = make(chan error, 1)
	go func() { h.runErr <- h.disp.Run(context.Background()) }()
	waitFor(t, "running", func() bool { return h.disp.State() == StateRunning })
}

func (h *harness) produce(topic, key, value string) kafka.Message {
	return h.broker.Produce(topic, key, []byte(value))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitProcessed(t *testing.T, n int64) {
	t.Helper()
	waitFor(t, "processed records", func() bool { return h.disp.Stats().ProcessedCount >= n })
}

type recorder struct {
	mu     sync.Mutex
	events map[string][]cdc.Event
	app    []interface{}
}

func newRecorder() *recorder { return &recorder{events: map[string][]cdc.Event{}} }

func (r *recorder) cdcFunc(name string) CDCHandlerFunc {
	return func(_ context.Context, ev cdc.Event, _ kafka.Message) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events[name] = append(r.events[name], ev)
		return nil
	}
}

func (r *recorder) handler() HandlerFuncs {
	return HandlerFuncs{
		Application: func(_ context.Context, _ kafka.Message, payload interface{}) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.app = append(r.app, payload)
			return nil
		},
		Insert:  r.cdcFunc("insert"),
		Update:  r.cdcFunc("update"),
		Delete:  r.cdcFunc("delete"),
		Unknown: r.cdcFunc("unknown"),
	}
}

func (r *recorder) get(name string) []cdc.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cdc.Event(nil), r.events[name]...)
}

func TestDispatchCanalInsert(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, rec.handler())
	h.start(t)

	h.produce(cdcTopic, "k", `{"type":"insert","database":"test","table":"user_data","data":[{"id":1}]}`)
	h.waitProcessed(t, 1)

	got := rec.get("insert")
	if len(got) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(got))
	}
	ev := got[0]
	if ev.EventType != cdc.EventInsert || *ev.Database != "test" || *ev.Table != "user_data" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.RowCount == nil || *ev.RowCount != 1 {
		t.Errorf("expected rowCount 1, got %v", ev.RowCount)
	}
	if st := h.disp.Stats(); st.ErrorCount != 0 || !st.IsRunning {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestDispatchOpenProtocolUpdate(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, rec.handler())
	h.start(t)

	h.produce(cdcTopic, "k", `{"op":"update","db":"test","tbl":"user_data","before":{"id":1},"after":{"id":1,"name":"b"}}`)
	h.waitProcessed(t, 1)

	got := rec.get("update")
	if len(got) != 1 {
		t.Fatalf("expected 1 update, got %d", len(got))
	}
	ev := got[0]
	if *ev.Database != "test" || *ev.Table != "user_data" || ev.RowCount == nil || *ev.RowCount != 1 {
		t.Errorf("unexpected event %+v", ev.Fields())
	}
}

func TestDispatchRoutesByEventType(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, rec.handler())
	h.start(t)

	h.produce(cdcTopic, "a", `{"type":"DELETE","database":"d","table":"t","data":[{},{}]}`)
	h.produce(cdcTopic, "b", `{"type":"truncate","database":"d","table":"t"}`)
	h.produce(cdcTopic, "c", `{"database":"d"}`)
	h.produce("user-actions", "user-1", `{"action":"login","userId":"1"}`)
	h.waitProcessed(t, 4)

	if n := len(rec.get("delete")); n != 1 {
		t.Errorf("expected 1 delete, got %d", n)
	}
	if n := len(rec.get("unknown")); n != 2 {
		t.Errorf("expected 2 unknown, got %d", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.app) != 1 {
		t.Fatalf("expected 1 application record, got %d", len(rec.app))
	}
	if m, _ := rec.app[0].(map[string]interface{}); m["action"] != "login" {
		t.Errorf("unexpected application payload %v", rec.app[0])
	}
}

func TestDispatchCountsFailuresAndContinues(t *testing.T) {
	handlerErr := errors.New("handler failed")
	h := newHarness(t, HandlerFuncs{
		Insert: func(context.Context, cdc.Event, kafka.Message) error { return handlerErr },
		Update: func(context.Context, cdc.Event, kafka.Message) error { panic("boom") },
	})
	h.start(t)

	h.produce(cdcTopic, "a", `not json`)
	h.produce(cdcTopic, "b", `{"type":"insert"}`)
	h.produce(cdcTopic, "c", `{"type":"update"}`)
	h.produce(cdcTopic, "d", `[1,2]`)
	last := h.produce(cdcTopic, "e", `{"type":"delete"}`)
	h.waitProcessed(t, 5)

	waitFor(t, "commit", func() bool {
		next, ok := h.broker.Committed(h.mgr.Config().GroupID, cdcTopic, last.Partition)
		return ok && next == last.Offset+1
	})
	st := h.disp.Stats()
	if st.ProcessedCount != 5 || st.ErrorCount != 4 {
		t.Errorf("expected processed=5 errors=4, got %+v", st)
	}
	if n := h.logs.count("Error processing message"); n != 4 {
		t.Errorf("expected 4 error records, got %d", n)
	}
}

func TestDispatchSummaryLog(t *testing.T) {
	h := newHarness(t, HandlerFuncs{}, WithSummaryEvery(3))
	h.start(t)

	for i := 0; i < 7; i++ {
		h.produce("system-events", "", `{}`)
	}
	h.waitProcessed(t, 7)

	if n := h.logs.count("Processing summary"); n != 2 {
		t.Errorf("expected 2 summaries for 7 records, got %d", n)
	}
}

func TestDispatchSurvivesReadErrors(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, rec.handler())
	h.start(t)

	h.produce(cdcTopic, "k", `{"type":"insert","data":[]}`)
	h.waitProcessed(t, 1)

	// The dropped connection kills the reader; the next one resumes from the
	// committed offset.
	h.broker.FailNextFetch(errors.New("dial tcp: connection refused"))
	h.produce(cdcTopic, "k", `{"type":"insert","data":[]}`)
	h.waitProcessed(t, 2)

	if n := len(rec.get("insert")); n != 2 {
		t.Errorf("expected both records handled, got %d", n)
	}
	if n := h.broker.ConnectCalls(kafka.RoleConsumer); n != 2 {
		t.Errorf("expected the reader to be replaced once, got %d connects", n)
	}
	if n := h.logs.count("Broker read error"); n != 1 {
		t.Errorf("expected one read error record, got %d", n)
	}
	if st := h.disp.Stats(); st.ErrorCount != 0 {
		t.Errorf("read errors are not record errors, got %d", st.ErrorCount)
	}
}

type seenOnce struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *seenOnce) FirstSeen(_ context.Context, msg kafka.Message) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[msg.Key] {
		return false, nil
	}
	g.seen[msg.Key] = true
	return true, nil
}

func TestDispatchRedeliveryGuardSkipsSeen(t *testing.T) {
	rec := newRecorder()
	guard := &seenOnce{seen: map[string]bool{"dup": true}}
	h := newHarness(t, rec.handler(), WithRedeliveryGuard(guard))
	h.start(t)

	h.produce(cdcTopic, "dup", `{"type":"insert"}`)
	h.produce(cdcTopic, "fresh", `{"type":"insert"}`)
	h.waitProcessed(t, 2)

	if n := len(rec.get("insert")); n != 1 {
		t.Errorf("expected only the fresh record handled, got %d", n)
	}
	if st := h.disp.Stats(); st.ErrorCount != 0 {
		t.Errorf("skipped records are not errors, got %d", st.ErrorCount)
	}
}

func TestSubscribeUnionDedupes(t *testing.T) {
	h := newHarness(t, nil)
	err := h.disp.Subscribe(context.Background(),
		[]string{"user-actions", "data-updates", "user-actions"},
		[]string{"tidb-cdc", " ", "data-updates"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []string{"user-actions", "data-updates", "tidb-cdc"}
	subs := h.broker.Subscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected one reader, got %d", len(subs))
	}
	if got := subs[0]; len(got) != len(want) {
		t.Fatalf("subscription = %v, want %v", got, want)
	}
	for i := range want {
		if subs[0][i] != want[i] {
			t.Errorf("subscription = %v, want %v", subs[0], want)
			break
		}
	}
	if !h.disp.IsCDCTopic("data-updates") || h.disp.IsCDCTopic("user-actions") {
		t.Error("topic present in both lists should be treated as CDC")
	}
}

func TestSubscribeRequiresTopics(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.disp.Subscribe(context.Background(), nil, []string{""}); err == nil {
		t.Fatal("expected error for empty topic set")
	}
}

func TestRunWithoutSubscription(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.disp.Run(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
	if h.disp.State() != StateStopped {
		t.Errorf("expected stopped, got %s", h.disp.State())
	}
}

func TestRunTwiceIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if err := h.disp.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := h.logs.count("Dispatcher already running"); n != 1 {
		t.Errorf("expected a warning, got %d", n)
	}
	if h.disp.State() != StateRunning {
		t.Errorf("first loop should still be running, got %s", h.disp.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.disp.Stop(ctx); err != nil {
		t.Fatalf("Stop before Run: %v", err)
	}
	h.start(t)
	for i := 0; i < 3; i++ {
		if err := h.disp.Stop(ctx); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if err := <-h.runErr; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if h.disp.State() != StateStopped || h.disp.Stats().IsRunning {
		t.Errorf("expected stopped, got %s", h.disp.State())
	}
	if h.mgr.State(kafka.RoleConsumer) != kafka.StateDisconnected {
		t.Errorf("consumer should be disconnected, got %s", h.mgr.State(kafka.RoleConsumer))
	}
}

func TestStopWaitsForInFlightRecord(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	h := newHarness(t, HandlerFuncs{
		Insert: func(ctx context.Context, _ cdc.Event, _ kafka.Message) error {
			close(entered)
			<-release
			handlerCtxErr = ctx.Err()
			return nil
		},
	})
	h.start(t)

	msg := h.produce(cdcTopic, "k", `{"type":"insert"}`)
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- h.disp.Stop(context.Background()) }()

	waitFor(t, "stopping", func() bool { return h.disp.State() == StateStopping })
	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight record finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if handlerCtxErr != nil {
		t.Errorf("handler context was canceled: %v", handlerCtxErr)
	}
	next, ok := h.broker.Committed(h.mgr.Config().GroupID, cdcTopic, msg.Partition)
	if !ok || next != msg.Offset+1 {
		t.Errorf("in-flight record not committed: next=%d ok=%v", next, ok)
	}
	if st := h.disp.Stats(); st.ProcessedCount != 1 || st.IsRunning {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestStatsJSON(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, nil, WithClock(func() time.Time { return ts }))
	raw, err := json.Marshal(h.disp.Stats())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"isRunning":false,"processedCount":0,"errorCount":0,"timestamp":"2024-01-01T00:00:00.000Z"}`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}
