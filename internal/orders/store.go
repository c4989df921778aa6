// Package orders reads shop orders and applies carrier shipment updates to
// them together with the mirrored parcel record.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// TrackingIndex is the GSI on orders keyed by tracking_number.
const TrackingIndex = "tracking_number-index"

// ErrStatusMismatch is returned when the order changed since it was read.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the orders and parcels tables.
type Store struct {
	client       aws.DynamoDBAPI
	ordersTable  string
	parcelsTable string
	nowFunc      func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, ordersTable, parcelsTable string) *Store {
	return &Store{
		client:       client,
		ordersTable:  ordersTable,
		parcelsTable: parcelsTable,
		nowFunc:      time.Now,
	}
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// FindByTracking resolves an order through the tracking number index.
// Returns (nil, nil) if no order carries that tracking number.
func (s *Store) FindByTracking(ctx context.Context, tracking string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &s.ordersTable,
		IndexName:                 awsString(TrackingIndex),
		KeyConditionExpression:    awsString("tracking_number = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: tracking}},
		Limit:                     awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query by tracking: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetParcel fetches the parcel mirrored for an order. Returns (nil, nil) if none.
func (s *Store) GetParcel(ctx context.Context, orderID string) (*Parcel, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.parcelsTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get parcel: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Parcel
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal parcel: %w", err)
	}
	return &p, nil
}

// ApplyShipment writes the order change and the parcel upsert in one
// transaction so order.tracking_number and parcel.tracking never diverge.
// Returns ErrStatusMismatch if the order no longer has ExpectedStatus.
func (s *Store) ApplyShipment(ctx context.Context, u ShipmentUpdate) error {
	if u.OrderID == "" || u.Parcel.Tracking == "" {
		return errors.New("apply shipment: order id and tracking are required")
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	order := newUpdate()
	order.names["#s"] = "status"
	order.values[":expected"] = &types.AttributeValueMemberS{Value: u.ExpectedStatus}
	order.set("tracking_number", u.Parcel.Tracking)
	order.set("updated_at", now)
	if u.Status != "" {
		order.set("status", u.Status)
		switch u.Status {
		case StatusShipped:
			order.setIfNotExists("shipped_at", now)
		case StatusDelivered:
			order.setIfNotExists("delivered_at", now)
		}
		if u.MirrorCOD {
			order.set("cod_status", u.Status)
		}
	}

	p := u.Parcel
	parcel := newUpdate()
	parcel.set("tracking", p.Tracking)
	parcel.set("last_status", p.LastStatus)
	parcel.set("updated_at", now)
	parcel.setIfNotExists("created_at", now)
	for attr, v := range map[string]string{
		"label_url":       p.LabelURL,
		"recipient_name":  p.RecipientName,
		"recipient_phone": p.RecipientPhone,
		"address":         p.Address,
		"commune":         p.Commune,
		"wilaya":          p.Wilaya,
		"last_payload":    p.LastPayload,
	} {
		if v != "" {
			parcel.set(attr, v)
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:                 &s.ordersTable,
					Key:                       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: u.OrderID}},
					UpdateExpression:          awsString(order.expression()),
					ConditionExpression:       awsString("attribute_exists(order_id) AND #s = :expected"),
					ExpressionAttributeNames:  order.names,
					ExpressionAttributeValues: order.values,
				},
			},
			{
				Update: &types.Update{
					TableName:                 &s.parcelsTable,
					Key:                       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: u.OrderID}},
					UpdateExpression:          awsString(parcel.expression()),
					ExpressionAttributeNames:  parcel.names,
					ExpressionAttributeValues: parcel.values,
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && orderConditionFailed(tce) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transact write shipment: %w", err)
	}
	return nil
}

func orderConditionFailed(tce *types.TransactionCanceledException) bool {
	if len(tce.CancellationReasons) == 0 {
		return true
	}
	r := tce.CancellationReasons[0]
	return r.Code != nil && *r.Code == "ConditionalCheckFailed"
}

// update builds a SET expression with placeholder names for every attribute,
// which keeps reserved words such as status out of the expression.
type update struct {
	clauses []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdate() *update {
	return &update{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (u *update) placeholders(attr, v string) (string, string) {
	n := strconv.Itoa(len(u.clauses))
	name, val := "#a"+n, ":v"+n
	u.names[name] = attr
	u.values[val] = &types.AttributeValueMemberS{Value: v}
	return name, val
}

func (u *update) set(attr, v string) {
	name, val := u.placeholders(attr, v)
	u.clauses = append(u.clauses, name+" = "+val)
}

func (u *update) setIfNotExists(attr, v string) {
	name, val := u.placeholders(attr, v)
	u.clauses = append(u.clauses, name+" = if_not_exists("+name+", "+val+")")
}

func (u *update) expression() string {
	expr := "SET "
	for i, c := range u.clauses {
		if i > 0 {
			expr += ", "
		}
		expr += c
	}
	return expr
}

func awsString(s string) *string { return &s }

func awsInt32(v int32) *int32 { return &v }
