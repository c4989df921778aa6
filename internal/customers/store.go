// Package customers resolves customer identity and contact details. Users are
// owned by the platform's account system; this package only reads them.
package customers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// Customer is the projection of a platform user the pipeline needs.
type Customer struct {
	UserID         string `dynamodbav:"user_id"`
	DisplayName    string `dynamodbav:"display_name"`
	Email          string `dynamodbav:"email,omitempty"`
	TelegramChatID string `dynamodbav:"telegram_chat_id,omitempty"`
}

// Store reads customers from the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get fetches a customer by user id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, userID string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}
