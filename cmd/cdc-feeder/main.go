// Command cdc-feeder publishes one insert, one update and one delete record
// in canal-json form to the first configured CDC topic (tidb-cdc by
// default), so a running eventbridge can be checked end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kbukum/eventbridge/bridge"
	"github.com/kbukum/eventbridge/config"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/kafka/producer"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/resilience"
)

const (
	serviceName  = "cdc-feeder"
	defaultTopic = "tidb-cdc"
	sendTimeout  = 30 * time.Second
)

type sample struct {
	key   string
	value map[string]interface{}
}

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.NewFromEnv(serviceName).WithCategory(logger.CategoryKafka)

	cfg, err := bridge.Load(serviceName, config.WithDefaults(map[string]interface{}{
		"name":            serviceName,
		"topics.cdc":      defaultTopic,
		"kafka.client_id": "test-cdc-producer",
	}))
	if err != nil {
		log.EventError("config_invalid", err, logger.SystemUser, nil)
		return 1
	}
	topic := defaultTopic
	if len(cfg.Topics.CDC) > 0 {
		topic = cfg.Topics.CDC[0]
	}

	policy := resilience.BrokerPolicy()
	policy.MaxAttempts = 3
	m := kafka.NewManager(cfg.Kafka, log, producer.NewFactory(log), nil, kafka.WithRetryPolicy(policy))

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	defer func() { _ = m.Close(context.Background()) }()

	p, err := m.Producer(ctx)
	if err != nil {
		log.EventError("producer_connect_failed", err, logger.SystemUser, nil)
		return 1
	}
	log.Info("Sending test messages", map[string]interface{}{logger.FieldTopic: topic})

	for _, s := range samples(time.Now()) {
		value, err := json.Marshal(s.value)
		if err != nil {
			log.EventError("encode_failed", err, logger.SystemUser, map[string]interface{}{logger.FieldKey: s.key})
			return 1
		}
		partition, offset, err := p.Send(ctx, kafka.Message{Topic: topic, Key: s.key, Value: value})
		if err != nil {
			log.EventError("send_failed", err, logger.SystemUser, map[string]interface{}{logger.FieldKey: s.key})
			return 1
		}
		log.Info(fmt.Sprintf("Sent %s message", s.value["type"]), map[string]interface{}{
			logger.FieldKey:       s.key,
			logger.FieldPartition: partition,
			logger.FieldOffset:    offset,
		})
	}
	log.Info("Test messages sent")
	return 0
}

// samples returns the insert, update and delete records for row 999 of
// test.user_data.
func samples(now time.Time) []sample {
	ts := now.UnixMilli()
	inserted := map[string]interface{}{
		"id": 999, "field1": "Test Insert", "field2": "CDC Test", "field3": "Simulated",
	}
	updated := map[string]interface{}{
		"id": 999, "field1": "Test Update", "field2": "CDC Test Updated", "field3": "Modified",
	}
	row := func(op string) map[string]interface{} {
		return map[string]interface{}{"type": op, "database": "test", "table": "user_data", "ts": ts}
	}

	insert := row("insert")
	created := map[string]interface{}{"created_at": now.UTC().Format(time.RFC3339Nano)}
	for k, v := range inserted {
		created[k] = v
	}
	insert["data"] = []interface{}{created}

	update := row("update")
	update["old"] = []interface{}{inserted}
	update["new"] = []interface{}{updated}

	del := row("delete")
	del["old"] = []interface{}{updated}

	return []sample{
		{key: "test-insert-999", value: insert},
		{key: "test-update-999", value: update},
		{key: "test-delete-999", value: del},
	}
}
