package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one SQS message. DedupID and GroupID are only sent to FIFO queues.
type Message struct {
	Body       string
	Attributes map[string]string
	DedupID    string
	GroupID    string
}

// Publisher sends messages to one SQS queue.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

// NewPublisher returns a Publisher bound to a queue URL. A URL ending in
// ".fifo" enables deduplication and group ids.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send publishes m. Empty attribute values are dropped since SQS rejects them.
func (p *Publisher) Send(ctx context.Context, m Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &m.Body,
	}
	for k, v := range m.Attributes {
		if v == "" {
			continue
		}
		if input.MessageAttributes == nil {
			input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{}
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if p.fifo {
		group := m.GroupID
		if group == "" {
			group = "default"
		}
		input.MessageGroupId = awsString(group)
		if m.DedupID != "" {
			input.MessageDeduplicationId = awsString(m.DedupID)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendJSON marshals v as the body of m and sends it.
func (p *Publisher) SendJSON(ctx context.Context, v any, m Message) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	m.Body = string(body)
	return p.Send(ctx, m)
}

func awsString(s string) *string { return &s }
