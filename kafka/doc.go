// Package kafka owns the broker configuration and the connection manager.
//
// A Manager holds exactly one producer-role handle and at most one
// consumer-role handle. Each role moves through
// unconnected -> connecting -> connected -> disconnected. Connect is
// idempotent and retries with resilience.BrokerPolicy(); a connected role
// whose transport reports dead is reconnected on next use.
//
// Transports are injected as factories so the Manager can run against the
// sarama producer (kafka/producer), the kafka-go group reader
// (kafka/consumer) or the in-memory fakes in kafka/kafkatest.
//
//	m := kafka.NewManager(cfg, log, producer.NewFactory(log), consumer.NewFactory(log))
//	p, err := m.Producer(ctx)
package kafka
