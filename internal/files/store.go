package files

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// OwnerIndex is the GSI on files keyed by owner_id.
const OwnerIndex = "owner_id-index"

var (
	// ErrStatusMismatch is returned when the stored status is not the expected one.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrAlreadyExists is returned when creating a file id that is taken.
	ErrAlreadyExists = errors.New("file already exists")
)

// Store encapsulates operations on the files table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new files Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new file record. The file id must not exist yet.
func (s *Store) Create(ctx context.Context, f TuningFile) error {
	now := s.nowFunc().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	item, err := attributevalue.MarshalMap(f)
	if err != nil {
		return fmt.Errorf("marshal file: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(file_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches a file by file_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, fileID string) (*TuningFile, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       fileKey(fileID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var f TuningFile
	if err := attributevalue.UnmarshalMap(out.Item, &f); err != nil {
		return nil, fmt.Errorf("unmarshal file: %w", err)
	}
	return &f, nil
}

// ListByOwner returns every file submitted by ownerID.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]TuningFile, error) {
	input := &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 awsString(OwnerIndex),
		KeyConditionExpression:    awsString("owner_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":o": &types.AttributeValueMemberS{Value: ownerID}},
	}
	var out []TuningFile
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query by owner: %w", err)
		}
		var batch []TuningFile
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// StatusChange describes a conditional status update.
type StatusChange struct {
	FileID   string
	Expected string
	Status   string
	// Estimate is stored with a fresh timestamp when set. Leaving PENDING
	// removes any stored estimate.
	Estimate *int
}

// UpdateStatus applies c if the stored status still equals c.Expected and
// returns the updated record. Returns ErrStatusMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, c StatusChange) (*TuningFile, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: c.Status},
		":expected": &types.AttributeValueMemberS{Value: c.Expected},
		":ua":       &types.AttributeValueMemberS{Value: now},
	}
	expr := "SET #s = :new, updated_at = :ua"
	switch {
	case c.Estimate != nil:
		expr += ", estimated_processing_time = :est, estimated_time_set_at = :ua"
		values[":est"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*c.Estimate)}
	case c.Status != StatusPending:
		expr += " REMOVE estimated_processing_time, estimated_time_set_at"
	}
	return s.update(ctx, c.FileID, expr, values)
}

// AttachModified records the modified version and forces the file READY,
// clearing any estimate. The stored status must still equal expected.
func (s *Store) AttachModified(ctx context.Context, fileID, expected, key, filename string) (*TuningFile, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: StatusReady},
		":expected": &types.AttributeValueMemberS{Value: expected},
		":ua":       &types.AttributeValueMemberS{Value: now},
		":mk":       &types.AttributeValueMemberS{Value: key},
		":mf":       &types.AttributeValueMemberS{Value: filename},
	}
	expr := "SET #s = :new, updated_at = :ua, modified_key = :mk, modified_filename = :mf" +
		" REMOVE estimated_processing_time, estimated_time_set_at, pending_modified_key"
	return s.update(ctx, fileID, expr, values)
}

// SetPendingModifiedKey records the key most recently issued for a modified
// upload. Only that key can later be attached.
func (s *Store) SetPendingModifiedKey(ctx context.Context, fileID, key string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 fileKey(fileID),
		UpdateExpression:    awsString("SET pending_modified_key = :pk"),
		ConditionExpression: awsString("attribute_exists(file_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("set pending modified key: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, fileID, expr string, values map[string]types.AttributeValue) (*TuningFile, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       fileKey(fileID),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("attribute_exists(file_id) AND #s = :expected"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var f TuningFile
	if err := attributevalue.UnmarshalMap(out.Attributes, &f); err != nil {
		return nil, fmt.Errorf("unmarshal file: %w", err)
	}
	return &f, nil
}

func fileKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"file_id": &types.AttributeValueMemberS{Value: id}}
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
