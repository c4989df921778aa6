package orders

import "time"

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusShipped    = "SHIPPED"
	StatusDelivered  = "DELIVERED"
	StatusCancelled  = "CANCELLED"
)

// Payment methods
const (
	PaymentCOD  = "COD"
	PaymentCard = "CARD"
)

// Order is the slice of the shop order the shipping sync reads and writes.
// Creation, pricing and line items belong to the checkout service.
type Order struct {
	OrderID        string     `dynamodbav:"order_id"` // PK
	CustomerID     string     `dynamodbav:"customer_id,omitempty"`
	Status         string     `dynamodbav:"status"`                    // PENDING | PROCESSING | SHIPPED | DELIVERED | CANCELLED
	PaymentMethod  string     `dynamodbav:"payment_method,omitempty"`  // COD | CARD
	CODStatus      string     `dynamodbav:"cod_status,omitempty"`      // mirrors carrier progress for cash on delivery
	TrackingNumber string     `dynamodbav:"tracking_number,omitempty"` // GSI tracking_number-index
	ShippedAt      *time.Time `dynamodbav:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `dynamodbav:"delivered_at,omitempty"`
	CreatedAt      time.Time  `dynamodbav:"created_at"`
	UpdatedAt      time.Time  `dynamodbav:"updated_at"`
}

// IsCOD reports whether the order is paid on delivery.
func (o *Order) IsCOD() bool { return o.PaymentMethod == PaymentCOD }

// Parcel mirrors the carrier's view of an order's shipment. At most one per order.
type Parcel struct {
	OrderID        string    `dynamodbav:"order_id"` // PK
	Tracking       string    `dynamodbav:"tracking"`
	LastStatus     string    `dynamodbav:"last_status"`
	LabelURL       string    `dynamodbav:"label_url,omitempty"`
	RecipientName  string    `dynamodbav:"recipient_name,omitempty"`
	RecipientPhone string    `dynamodbav:"recipient_phone,omitempty"`
	Address        string    `dynamodbav:"address,omitempty"`
	Commune        string    `dynamodbav:"commune,omitempty"`
	Wilaya         string    `dynamodbav:"wilaya,omitempty"`
	LastPayload    string    `dynamodbav:"last_payload,omitempty"` // raw JSON of the latest event
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}

// ShipmentUpdate is one carrier-driven change applied to an order and its parcel.
type ShipmentUpdate struct {
	OrderID string
	// ExpectedStatus guards against a concurrent writer.
	ExpectedStatus string
	// Status is the new order status; empty leaves it unchanged.
	Status string
	// MirrorCOD copies Status into cod_status.
	MirrorCOD bool
	Parcel    Parcel
}
