// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package events

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the part of kafka.Writer the publisher uses
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to Kafka. The message key is the resource id, so all
// events of a document land in the same partition.
type KafkaPublisher struct {
	writer KafkaWriter
	topic  string
}

// NewKafkaPublisher creates a publisher writing to topic on brokers. With an
// empty topic every event goes to the topic named after the event, e.g. "user.create".
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

// NewKafkaPublisherWithWriter creates a publisher on an existing writer. topic must
// match the topic of the writer.
func NewKafkaPublisherWithWriter(writer KafkaWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

// Publish implements Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("cannot marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.ResourceID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "resource", Value: []byte(event.Resource)},
			{Key: "operation", Value: []byte(event.Operation)},
		},
		Time: event.Timestamp,
	}
	if event.RequestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request_id", Value: []byte(event.RequestID)})
	}
	if p.topic == "" {
		msg.Topic = event.Topic()
	}
	if err = p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("cannot write event %s to kafka: %w", event.Topic(), err)
	}
	return nil
}

// Close closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
