package audit

import (
	"context"
	"errors"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// auditMock keeps items keyed by file_id then entry_id. Query honours the
// file_id key condition only.
type auditMock struct {
	mu      sync.Mutex
	items   map[string]map[string]map[string]types.AttributeValue
	failPut int // number of PutItem calls to fail before succeeding
	puts    int
}

func newAuditMock() *auditMock {
	return &auditMock{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *auditMock) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut > 0 {
		m.failPut--
		return nil, errors.New("provisioned throughput exceeded")
	}
	fid := in.Item["file_id"].(*types.AttributeValueMemberS).Value
	eid := in.Item["entry_id"].(*types.AttributeValueMemberS).Value
	if m.items[fid] == nil {
		m.items[fid] = map[string]map[string]types.AttributeValue{}
	}
	if _, ok := m.items[fid][eid]; ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.items[fid][eid] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *auditMock) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	return nil, errors.New("not supported")
}

func (m *auditMock) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("audit entries are immutable")
}

func (m *auditMock) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fid := in.ExpressionAttributeValues[":f"].(*types.AttributeValueMemberS).Value
	keys := make([]string, 0, len(m.items[fid]))
	for k := range m.items[fid] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.items[fid][k])
	}
	return &dyn.QueryOutput{Items: out}, nil
}

func (m *auditMock) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return nil, errors.New("audit entries are never deleted")
}

func (m *auditMock) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not supported")
}
