package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 50 * time.Millisecond
	kafkaMaxBackoff     = 2 * time.Second
)

// KafkaDispatcher publishes submissions to a Kafka topic.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewKafkaDispatcher connects a synchronous producer to brokers.
func NewKafkaDispatcher(brokers []string, topic string, logger zerolog.Logger) (*KafkaDispatcher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaDispatcherWithProducer(producer, topic, logger), nil
}

// NewKafkaDispatcherWithProducer wraps an existing producer.
func NewKafkaDispatcherWithProducer(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "grading").Logger(),
	}
}

// Dispatch publishes sub keyed by session, user and phase, retrying with
// exponential backoff.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, sub Submission) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("grading dispatcher is closed")
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(sub.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("session_id"), Value: []byte(sub.SessionID)},
		},
		Timestamp: time.UnixMilli(sub.SubmittedAtMs),
	}

	operation := func() error {
		_, _, err := d.producer.SendMessage(msg)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = kafkaInitialBackoff
	policy.MaxInterval = kafkaMaxBackoff
	strategy := backoff.WithContext(backoff.WithMaxRetries(policy, kafkaMaxRetries), ctx)

	err = backoff.RetryNotify(operation, strategy, func(err error, next time.Duration) {
		d.logger.Warn().Err(err).
			Str("event_type", "grading_retry").
			Str("key", sub.Key()).
			Dur("next_attempt_in", next).
			Msg("retrying grading dispatch")
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch submission %s: %w", sub.Key(), err)
	}
	return nil
}

// Close closes the producer. Safe to call multiple times.
func (d *KafkaDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.producer.Close()
}
