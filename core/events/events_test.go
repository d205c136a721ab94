package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core"
)

func newEvent(resource string, operation core.Operation) Event {
	return Event{
		Resource:   resource,
		Operation:  operation,
		ResourceID: uuid.New(),
		Payload:    json.RawMessage(`{"name":"<joe>"}`),
		RequestID:  "req-1",
		Timestamp:  time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestEventMarshal(t *testing.T) {
	e := newEvent("user", core.OperationCreate)
	assert.Equal(t, "user.create", e.Topic())

	data, err := e.Marshal()
	require.NoError(t, err)
	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e.ResourceID, decoded.ResourceID)
	assert.Equal(t, core.OperationCreate, decoded.Operation)
	assert.JSONEq(t, `{"name":"<joe>"}`, string(decoded.Payload))
	assert.Contains(t, string(data), `"<joe>"`)
}

func TestBus(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var all, users, deletes []string
	bus.Subscribe("", func(ctx context.Context, e Event) error {
		all = append(all, e.Topic())
		return nil
	})
	unsubscribe := bus.Subscribe("user", func(ctx context.Context, e Event) error {
		users = append(users, e.Topic())
		return errors.New("handler error")
	})
	bus.Subscribe("user", func(ctx context.Context, e Event) error {
		deletes = append(deletes, e.Topic())
		panic("boom")
	}, core.OperationDelete)

	require.NoError(t, bus.Publish(ctx, newEvent("user", core.OperationCreate)))
	require.NoError(t, bus.Publish(ctx, newEvent("user", core.OperationDelete)))
	require.NoError(t, bus.Publish(ctx, newEvent("post", core.OperationUpdate)))

	assert.Equal(t, []string{"user.create", "user.delete", "post.update"}, all)
	assert.Equal(t, []string{"user.create", "user.delete"}, users)
	assert.Equal(t, []string{"user.delete"}, deletes)

	unsubscribe()
	require.NoError(t, bus.Publish(ctx, newEvent("user", core.OperationUpdate)))
	assert.Len(t, users, 2)
	assert.Len(t, all, 4)
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	var got []string
	ok := PublisherFunc(func(ctx context.Context, e Event) error {
		got = append(got, e.Topic())
		return nil
	})
	failing := PublisherFunc(func(ctx context.Context, e Event) error {
		return errors.New("unavailable")
	})

	err := Multi{failing, ok}.Publish(ctx, newEvent("user", core.OperationUpdate))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, []string{"user.update"}, got)

	assert.NoError(t, Multi{ok}.Publish(ctx, newEvent("user", core.OperationUpdate)))
}

type fakeKafkaWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	ctx := context.Background()
	w := &fakeKafkaWriter{}
	e := newEvent("user", core.OperationUpdate)

	p := NewKafkaPublisherWithWriter(w, "resource_notification")
	require.NoError(t, p.Publish(ctx, e))
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, e.ResourceID.String(), string(msg.Key))
	assert.Empty(t, msg.Topic)
	assert.Equal(t, e.Timestamp, msg.Time)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "operation", Value: []byte("update")})
	assert.Contains(t, msg.Headers, kafka.Header{Key: "request_id", Value: []byte("req-1")})
	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "user", decoded.Resource)

	// without a fixed topic the event topic is used
	p = NewKafkaPublisherWithWriter(w, "")
	require.NoError(t, p.Publish(ctx, e))
	assert.Equal(t, "user.update", w.messages[1].Topic)

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(ctx, e))
	assert.NoError(t, p.Close())
}

type fakeSQSClient struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (c *fakeSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.inputs = append(c.inputs, params)
	if c.err != nil {
		return nil, c.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("1")}, nil
}

func TestSQSPublisher(t *testing.T) {
	ctx := context.Background()
	c := &fakeSQSClient{}
	e := newEvent("post", core.OperationDelete)

	p := NewSQSPublisher(c, "https://sqs.eu-central-1.amazonaws.com/123/events")
	require.NoError(t, p.Publish(ctx, e))
	require.Len(t, c.inputs, 1)
	input := c.inputs[0]
	assert.Equal(t, "https://sqs.eu-central-1.amazonaws.com/123/events", aws.ToString(input.QueueUrl))
	assert.Equal(t, "post.delete", aws.ToString(input.MessageAttributes["topic"].StringValue))
	assert.Equal(t, "String", aws.ToString(input.MessageAttributes["resource"].DataType))
	assert.Equal(t, "req-1", aws.ToString(input.MessageAttributes["request_id"].StringValue))
	assert.Nil(t, input.MessageGroupId)
	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(input.MessageBody)), &decoded))
	assert.Equal(t, e.ResourceID, decoded.ResourceID)

	p = NewSQSPublisher(c, "https://sqs.eu-central-1.amazonaws.com/123/events.fifo")
	require.NoError(t, p.Publish(ctx, e))
	assert.Equal(t, e.ResourceID.String(), aws.ToString(c.inputs[1].MessageGroupId))
	assert.NotEmpty(t, aws.ToString(c.inputs[1].MessageDeduplicationId))

	c.err = errors.New("throttled")
	assert.Error(t, p.Publish(ctx, e))
}

type fakeRedisClient struct {
	channels []string
	messages []interface{}
	err      error
}

func (c *fakeRedisClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	c.channels = append(c.channels, channel)
	c.messages = append(c.messages, message)
	return redis.NewIntResult(1, c.err)
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	c := &fakeRedisClient{}
	e := newEvent("user", core.OperationCreate)

	p := NewRedisPublisher(c, "docrest:")
	require.NoError(t, p.Publish(ctx, e))
	assert.Equal(t, []string{"docrest:user.create"}, c.channels)
	var decoded Event
	require.NoError(t, json.Unmarshal(c.messages[0].([]byte), &decoded))
	assert.Equal(t, "req-1", decoded.RequestID)

	c.err = errors.New("connection refused")
	assert.Error(t, p.Publish(ctx, e))
}
