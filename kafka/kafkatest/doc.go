// Package kafkatest provides an in-memory broker for tests.
//
// The Broker keeps partitioned topic logs, consumer-group commits and
// idempotent-producer sequence numbers, and exposes factories that plug
// straight into kafka.NewManager:
//
//	b := kafkatest.NewBroker()
//	m := kafka.NewManager(cfg, log, b.ProducerFactory(), b.ReaderFactory())
//
//	b.Produce("orders", "k1", []byte(`{"id":1}`)) // as an external producer
//	b.Messages("user-actions")                    // what the code under test sent
//
// Failures are injected with FailConnects, FailNextSend, LoseNextAck,
// FailNextFetch and KillConnections.
package kafkatest
