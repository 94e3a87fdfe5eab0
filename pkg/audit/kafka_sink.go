package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/segmentio/kafka-go"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
)

const (
	kafkaDialTimeout  = 10 * time.Second
	kafkaWriteTimeout = 10 * time.Second
)

type KafkaSinkConfig struct {
	Brokers   []string `yaml:"brokers,omitempty"`
	Topic     string   `yaml:"topic"`
	Principal string   `yaml:"principal,omitempty"`
}

func (cfg KafkaSinkConfig) IsEnabled() bool {
	return len(cfg.Brokers) > 0
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every audit event as a JSON message keyed by the
// session id. It must be wrapped in a Guard: it sends the details as is.
type KafkaSink struct {
	Writer    kafkaWriter
	Topic     string
	Principal string
	Clock     clock.Clock
}

var _ Sink = (*KafkaSink)(nil)

type kafkaRecord struct {
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Details   Details   `json:"details"`
}

func NewKafkaSink(cfg KafkaSinkConfig, clk clock.Clock) (*KafkaSink, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no Kafka topic configured")
	}
	dialer := &kafka.Dialer{
		Timeout:   kafkaDialTimeout,
		DualStack: true,
	}
	return &KafkaSink{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: kafkaWriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Transport: &kafka.Transport{
				Dial: dialer.DialFunc,
			},
		},
		Topic:     cfg.Topic,
		Principal: cfg.Principal,
		Clock:     clock.OrDefault(clk),
	}, nil
}

func (s *KafkaSink) LogEvent(ctx context.Context, eventType EventType, details Details) {
	payload, err := json.Marshal(kafkaRecord{
		EventType: eventType,
		Timestamp: s.Clock.Now(),
		Details:   details,
	})
	if err != nil {
		logger.Errorf(ctx, "unable to serialize audit event %s: %v", eventType, err)
		metrics.FromCtx(ctx).Count("audit_kafka_failures").Add(1)
		return
	}

	sessionID, _ := details[KeySessionID].(string)
	err = s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(s.Principal)},
		},
	})
	if err != nil {
		logger.Errorf(ctx, "unable to publish audit event %s to Kafka topic '%s': %v", eventType, s.Topic, err)
		metrics.FromCtx(ctx).Count("audit_kafka_failures").Add(1)
		return
	}
	metrics.FromCtx(ctx).Count("audit_kafka_published").Add(1)
}

func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}
