// Package dynamotest provides an in-memory DynamoDB fake for store tests.
// It understands the small expression subset the stores use: SET and REMOVE
// clauses with if_not_exists, AND-joined conditions built from
// attribute_exists, attribute_not_exists, = and <>, and single equality key
// conditions on tables or global secondary indexes.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type table struct {
	hashKey  string
	rangeKey string
	indexes  map[string]string // index name -> hash attribute
	items    map[string]item
}

// Fake implements the DynamoDB calls used by the stores.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	fail   map[string][]error
	calls  map[string]int
}

func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		fail:   map[string][]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table. rangeKey may be empty. indexes maps GSI name
// to its hash attribute.
func (f *Fake) CreateTable(name, hashKey, rangeKey string, indexes map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{hashKey: hashKey, rangeKey: rangeKey, indexes: indexes, items: map[string]item{}}
}

// FailNext makes the next call of op (e.g. "PutItem") return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = append(f.fail[op], err)
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Items returns a snapshot of every item in a table.
func (f *Fake) Items(name string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[name]
	if t == nil {
		return nil
	}
	out := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, k := range sortedKeys(t.items) {
		out = append(out, clone(t.items[k]))
	}
	return out
}

// Item returns one item by key values, or nil.
func (f *Fake) Item(name string, key ...string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[name]
	if t == nil {
		return nil
	}
	it, ok := t.items[strings.Join(key, "\x00")]
	if !ok {
		return nil
	}
	return clone(it)
}

// Seed stores an item without conditions.
func (f *Fake) Seed(name string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(name)
	t.items[t.keyOf(it)] = clone(it)
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if errs := f.fail[op]; len(errs) > 0 {
		f.fail[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *Fake) mustTable(name string) *table {
	t, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamotest: unknown table %q", name))
	}
	return t
}

func (t *table) keyOf(it item) string {
	k := str(it[t.hashKey])
	if t.rangeKey != "" {
		k += "\x00" + str(it[t.rangeKey])
	}
	return k
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	k := t.keyOf(in.Item)
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	k := t.keyOf(in.Key)
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	delete(t.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	it, ok := t.items[t.keyOf(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	k := t.keyOf(in.Key)
	old := t.items[k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	updated, err := applyUpdate(in.Key, old, deref(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = updated

	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = clone(updated)
	case types.ReturnValueAllOld:
		out.Attributes = clone(old)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	attr, want, err := parseKeyCondition(deref(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if in.IndexName != nil {
		hash, ok := t.indexes[*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %q", *in.IndexName)
		}
		if hash != attr {
			return nil, fmt.Errorf("dynamotest: index %q is keyed on %s, not %s", *in.IndexName, hash, attr)
		}
	} else if attr != t.hashKey {
		return nil, fmt.Errorf("dynamotest: table is keyed on %s, not %s", t.hashKey, attr)
	}

	var out []item
	for _, k := range sortedKeys(t.items) {
		it := t.items[k]
		if equal(it[attr], want) {
			out = append(out, clone(it))
		}
	}
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		t   *table
		key string
		it  item
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		switch {
		case ti.Put != nil:
			p := ti.Put
			t := f.mustTable(*p.TableName)
			k := t.keyOf(p.Item)
			ok, err := evalCondition(p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, t.items[k])
			if err != nil {
				return nil, err
			}
			if !ok {
				cancelled = true
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{t, k, clone(p.Item)})
		case ti.Update != nil:
			u := ti.Update
			t := f.mustTable(*u.TableName)
			k := t.keyOf(u.Key)
			ok, err := evalCondition(u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues, t.items[k])
			if err != nil {
				return nil, err
			}
			if !ok {
				cancelled = true
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				continue
			}
			updated, err := applyUpdate(u.Key, t.items[k], deref(u.UpdateExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{t, k, updated})
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			t := f.mustTable(*c.TableName)
			ok, err := evalCondition(c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues, t.items[t.keyOf(c.Key)])
			if err != nil {
				return nil, err
			}
			if !ok {
				cancelled = true
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			}
		default:
			return nil, errors.New("dynamotest: unsupported transact item")
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.t.items[w.key] = w.it
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func applyUpdate(key, old item, expr string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	out := clone(old)
	if out == nil {
		out = item{}
	}
	for k, v := range key {
		out[k] = v
	}

	setPart, removePart := splitSections(expr)
	for _, clause := range splitTopLevel(setPart) {
		lhs, rhs, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("dynamotest: bad SET clause %q", clause)
		}
		attr := resolve(strings.TrimSpace(lhs), names)
		rhs = strings.TrimSpace(rhs)
		if strings.HasPrefix(rhs, "if_not_exists(") {
			inner := strings.TrimSuffix(strings.TrimPrefix(rhs, "if_not_exists("), ")")
			a, v, ok := strings.Cut(inner, ",")
			if !ok {
				return nil, fmt.Errorf("dynamotest: bad if_not_exists %q", rhs)
			}
			if _, exists := out[resolve(strings.TrimSpace(a), names)]; exists {
				continue
			}
			rhs = strings.TrimSpace(v)
		}
		val, ok := values[rhs]
		if !ok {
			return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
		}
		out[attr] = val
	}
	for _, clause := range splitTopLevel(removePart) {
		delete(out, resolve(strings.TrimSpace(clause), names))
	}
	return out, nil
}

func splitSections(expr string) (set, remove string) {
	expr = strings.TrimSpace(expr)
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		remove = expr[i+len("REMOVE "):]
		expr = strings.TrimSpace(expr[:i])
	}
	set = strings.TrimPrefix(expr, "SET ")
	return set, remove
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, current item) (bool, error) {
	if expr == nil || *expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists("):
			attr := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
			if _, ok := current[attr]; ok {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists("):
			attr := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
			if _, ok := current[attr]; !ok {
				return false, nil
			}
		case strings.Contains(clause, "<>"):
			lhs, rhs, _ := strings.Cut(clause, "<>")
			if equal(current[resolve(strings.TrimSpace(lhs), names)], values[strings.TrimSpace(rhs)]) {
				return false, nil
			}
		case strings.Contains(clause, "="):
			lhs, rhs, _ := strings.Cut(clause, "=")
			v, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return false, fmt.Errorf("dynamotest: missing value %s", strings.TrimSpace(rhs))
			}
			if !equal(current[resolve(strings.TrimSpace(lhs), names)], v) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
		}
	}
	return true, nil
}

func parseKeyCondition(expr string, names map[string]string, values map[string]types.AttributeValue) (string, types.AttributeValue, error) {
	lhs, rhs, ok := strings.Cut(expr, "=")
	if !ok || strings.Contains(expr, " AND ") {
		return "", nil, fmt.Errorf("dynamotest: unsupported key condition %q", expr)
	}
	v, ok := values[strings.TrimSpace(rhs)]
	if !ok {
		return "", nil, fmt.Errorf("dynamotest: missing value %s", strings.TrimSpace(rhs))
	}
	return resolve(strings.TrimSpace(lhs), names), v, nil
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func equal(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return reflect.DeepEqual(a, b)
}

func str(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return av.Value
	}
	return ""
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
