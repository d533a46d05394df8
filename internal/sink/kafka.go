package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"flightcheck/internal/model"
	"flightcheck/internal/report"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

func NewKafka(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink requires brokers and topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaWithWriter(w, topic), nil
}

func NewKafkaWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka:" + p.topic }

// Publish writes the JSON report keyed by recording name, so reports for one
// recording stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, rep *model.Report) error {
	payload, err := report.MarshalRun(rep)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(rep.Recording().Name),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerRunID, Value: []byte(rep.RunID())},
			{Key: headerWorst, Value: []byte(rep.Worst())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", rep.RunID(), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
