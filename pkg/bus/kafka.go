package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSubscriber consumes skill topics with one reader per topic, fanning
// deliveries into a single channel. Kafka topic names replace the '/'
// separator with '.' since slashes are not legal in Kafka.
type KafkaSubscriber struct {
	brokers []string
	groupID string
	logger  *zap.Logger

	mu      sync.Mutex
	topics  []string
	readers []*kafka.Reader
	ch      chan Message
	ctx     context.Context
}

// NewKafkaSubscriber creates a subscriber against the given brokers.
func NewKafkaSubscriber(brokers []string, groupID string, logger *zap.Logger) *KafkaSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSubscriber{
		brokers: brokers,
		groupID: groupID,
		logger:  logger,
		ch:      make(chan Message, 100),
	}
}

func (s *KafkaSubscriber) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.topics {
		if t == topic {
			return nil
		}
	}
	s.topics = append(s.topics, topic)

	if s.ctx != nil {
		s.startReader(s.ctx, topic)
	}
	return nil
}

// Start launches a reader goroutine per subscribed topic.
func (s *KafkaSubscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	for _, topic := range s.topics {
		s.startReader(ctx, topic)
	}
	return nil
}

// startReader must be called with s.mu held.
func (s *KafkaSubscriber) startReader(ctx context.Context, topic string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.brokers,
		Topic:    KafkaTopic(topic),
		GroupID:  s.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	s.readers = append(s.readers, reader)

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("kafka read error", zap.String("topic", topic), zap.Error(err))
				continue
			}
			if !s.deliver(ctx, Message{Topic: topic, Key: msg.Key, Value: msg.Value}) {
				return
			}
		}
	}()
}

// deliver hands a message to the consumer. Once the consumer stops draining
// during shutdown the channel stays full, so the send races ctx instead of
// blocking the reader goroutine forever.
func (s *KafkaSubscriber) deliver(ctx context.Context, msg Message) bool {
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *KafkaSubscriber) Messages() <-chan Message { return s.ch }

func (s *KafkaSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.readers = nil
	return firstErr
}

// KafkaPublisher writes skill events. A single writer serves all topics via
// per-message topic assignment.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher against the given brokers.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: KafkaTopic(topic),
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaTopic maps a logical slash-separated topic onto a legal Kafka topic
// name.
func KafkaTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

var (
	_ Subscriber = (*KafkaSubscriber)(nil)
	_ Publisher  = (*KafkaPublisher)(nil)
)
