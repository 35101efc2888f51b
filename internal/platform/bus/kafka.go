package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerMessageID  = "message-id"
	headerSource     = "source"
	headerEventType  = "event-type"
	headerRoutingKey = "routing-key"
)

type KafkaConfig struct {
	Brokers []string
	// TopicPrefix is prepended to the routing key to form the topic name.
	TopicPrefix string
	Logger      *zap.Logger
}

// KafkaPublisher writes synchronously and waits for all in-sync replicas so
// that a nil error is a durable acknowledgement.
type KafkaPublisher struct {
	w      *kafka.Writer
	prefix string
}

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
			Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Debug(fmt.Sprintf(msg, args...))
			}),
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Warn(fmt.Sprintf(msg, args...))
			}),
		},
		prefix: cfg.TopicPrefix,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if err := p.w.WriteMessages(ctx, toKafka(p.prefix, msg)); err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

func toKafka(prefix string, msg Message) kafka.Message {
	headers := []kafka.Header{
		{Key: headerMessageID, Value: []byte(msg.ID)},
		{Key: headerSource, Value: []byte(msg.Source)},
		{Key: headerEventType, Value: []byte(msg.EventType)},
		{Key: headerRoutingKey, Value: []byte(msg.RoutingKey)},
	}
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	key := msg.Key
	if key == "" {
		key = msg.ID
	}
	return kafka.Message{
		Topic:   prefix + msg.RoutingKey,
		Key:     []byte(key),
		Value:   msg.Payload,
		Headers: headers,
	}
}

func fromKafka(m kafka.Message) Message {
	out := Message{Key: string(m.Key), Payload: m.Value}
	for _, h := range m.Headers {
		v := string(h.Value)
		switch h.Key {
		case headerMessageID:
			out.ID = v
		case headerSource:
			out.Source = v
		case headerEventType:
			out.EventType = v
		case headerRoutingKey:
			out.RoutingKey = v
		default:
			if out.Headers == nil {
				out.Headers = map[string]string{}
			}
			out.Headers[h.Key] = v
		}
	}
	if out.ID == "" {
		// Producers outside the wallet may not set the header; the partition
		// offset is stable across redeliveries.
		out.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	if out.RoutingKey == "" {
		out.RoutingKey = m.Topic
	}
	return out
}

type KafkaSubscriberConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// RetryDelay is the first pause before handing a failed message to the
	// handler again; it doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Logger        *zap.Logger
}

// KafkaSubscriber commits an offset only after the handler accepted the
// message, so a crash between the two redelivers it.
type KafkaSubscriber struct {
	r        *kafka.Reader
	log      *zap.Logger
	delay    time.Duration
	maxDelay time.Duration
}

func NewKafkaSubscriber(cfg KafkaSubscriberConfig) *KafkaSubscriber {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	delay, maxDelay := cfg.RetryDelay, cfg.MaxRetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	if maxDelay < delay {
		maxDelay = 30 * time.Second
	}
	return &KafkaSubscriber{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: cfg.Topics,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
		log:      log,
		delay:    delay,
		maxDelay: maxDelay,
	}
}

// Run consumes until ctx is done. A failing message is retried in place with
// backoff; later messages of the partition wait behind it.
func (s *KafkaSubscriber) Run(ctx context.Context, h Handler) error {
	for {
		m, err := s.r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			s.log.Error("kafka fetch failed", zap.Error(err))
			if err := sleep(ctx, s.delay); err != nil {
				return nil
			}
			continue
		}
		msg := fromKafka(m)
		if err := s.deliver(ctx, h, msg); err != nil {
			return nil
		}
		if err := s.r.CommitMessages(ctx, m); err != nil {
			s.log.Warn("kafka commit failed; message will be redelivered", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

func (s *KafkaSubscriber) deliver(ctx context.Context, h Handler, msg Message) error {
	delay := s.delay
	for {
		err := h(ctx, msg)
		if err == nil {
			return nil
		}
		s.log.Warn("message handler failed; retrying",
			zap.String("message_id", msg.ID), zap.String("routing_key", msg.RoutingKey), zap.Duration("delay", delay), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
}

func (s *KafkaSubscriber) Close() error { return s.r.Close() }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
