// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient is the part of sqs.Client the publisher uses
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends events to an SQS queue. Resource, operation and request id are
// passed as message attributes for subscription filters.
type SQSPublisher struct {
	client   SQSClient
	queueURL string
	// FIFO queues require a message group, events of one document share a group
	fifo bool
}

// NewSQSPublisher creates a publisher for queueURL. A queue URL ending in ".fifo"
// selects a FIFO queue.
func NewSQSPublisher(client SQSClient, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

func stringAttribute(s string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s)}
}

// Publish implements Publisher
func (p *SQSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("cannot marshal event: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"resource":  stringAttribute(event.Resource),
			"operation": stringAttribute(string(event.Operation)),
			"topic":     stringAttribute(event.Topic()),
		},
	}
	if event.RequestID != "" {
		input.MessageAttributes["request_id"] = stringAttribute(event.RequestID)
	}
	if p.fifo {
		input.MessageGroupId = aws.String(event.ResourceID.String())
		input.MessageDeduplicationId = aws.String(event.Topic() + ":" + event.ResourceID.String() + ":" +
			fmt.Sprint(event.Timestamp.UnixNano()))
	}
	if _, err = p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("cannot send event %s to sqs: %w", event.Topic(), err)
	}
	return nil
}
