package files

import "time"

// File statuses
const (
	StatusReceived = "RECEIVED"
	StatusPending  = "PENDING"
	StatusReady    = "READY"
)

// Payment statuses
const (
	PaymentUnpaid   = "UNPAID"
	PaymentPaid     = "PAID"
	PaymentRefunded = "REFUNDED"
)

// Roles carried in the identity header.
const (
	RoleCustomer   = "CUSTOMER"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// Estimate bounds in minutes.
const (
	MinEstimateMinutes = 5
	MaxEstimateMinutes = 60
)

// TuningFile is the item stored in the files table, keyed by file_id with
// an owner_id-index GSI. The estimate fields exist only while PENDING.
type TuningFile struct {
	FileID                  string     `dynamodbav:"file_id" json:"id"`
	OwnerID                 string     `dynamodbav:"owner_id" json:"ownerId"`
	OriginalFilename        string     `dynamodbav:"original_filename" json:"originalFilename"`
	OriginalKey             string     `dynamodbav:"original_key" json:"-"`
	ModifiedFilename        string     `dynamodbav:"modified_filename,omitempty" json:"modifiedFilename,omitempty"`
	ModifiedKey             string     `dynamodbav:"modified_key,omitempty" json:"-"`
	PendingModifiedKey      string     `dynamodbav:"pending_modified_key,omitempty" json:"-"`
	ContentType             string     `dynamodbav:"content_type,omitempty" json:"contentType,omitempty"`
	Size                    int64      `dynamodbav:"size" json:"size"`
	Status                  string     `dynamodbav:"status" json:"status"`
	Price                   float64    `dynamodbav:"price" json:"price"`
	PaymentStatus           string     `dynamodbav:"payment_status" json:"paymentStatus"`
	EstimatedProcessingTime *int       `dynamodbav:"estimated_processing_time,omitempty" json:"estimatedProcessingTime"`
	EstimatedTimeSetAt      *time.Time `dynamodbav:"estimated_time_set_at,omitempty" json:"estimatedTimeSetAt,omitempty"`
	CustomerComment         string     `dynamodbav:"customer_comment,omitempty" json:"customerComment,omitempty"`
	AdminNotes              string     `dynamodbav:"admin_notes,omitempty" json:"-"`
	Modifications           []string   `dynamodbav:"modifications,omitempty" json:"modifications"`
	CreatedAt               time.Time  `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt               time.Time  `dynamodbav:"updated_at" json:"updatedAt"`
}

// HasModified reports whether a modified version has been attached.
func (f *TuningFile) HasModified() bool { return f.ModifiedKey != "" }

// Actor is the caller of an operation as asserted by the auth gateway.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor may operate on any file.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin || a.Role == RoleSuperAdmin }

func (a Actor) canRead(f *TuningFile) bool { return a.IsAdmin() || (a.ID != "" && a.ID == f.OwnerID) }
