// Package idempotency is the ledger of carrier events already seen.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// Store records carrier events against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	retention time.Duration // 0 disables the TTL attribute
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// retention: how long ledger rows are kept before DynamoDB TTL removes them.
func NewStore(client aws.DynamoDBAPI, tableName string, retention time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		retention: retention,
		nowFunc:   time.Now,
	}
}

// Record inserts ev if its event_id has never been seen.
// Returns (true, nil) when this call created the row.
// Returns (false, nil) when the event is a duplicate.
func (s *Store) Record(ctx context.Context, ev CarrierEvent) (bool, error) {
	if ev.EventID == "" {
		return false, errors.New("record carrier event: empty event id")
	}
	now := s.nowFunc().UTC()
	ev.ReceivedAt = now
	if s.retention > 0 {
		ev.ExpiresAt = now.Add(s.retention).Unix()
	}

	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return false, fmt.Errorf("marshal carrier event: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(event_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("put carrier event: %w", err)
	}
	return true, nil
}

// Release deletes the row for eventID so a later delivery of the same event
// is processed again. Used when processing fails after Record.
func (s *Store) Release(ctx context.Context, eventID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"event_id": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete carrier event: %w", err)
	}
	return nil
}

// Get retrieves a ledger row. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, eventID string) (*CarrierEvent, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"event_id": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get carrier event: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var ev CarrierEvent
	if err := attributevalue.UnmarshalMap(out.Item, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal carrier event: %w", err)
	}
	return &ev, nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
