package audit

import "time"

// Actions written by the fulfillment pipeline.
const (
	ActionFileSubmitted    = "FILE_SUBMITTED"
	ActionStatusChange     = "STATUS_CHANGE"
	ActionEstimateSet      = "ESTIMATE_SET"
	ActionModifiedAttached = "MODIFIED_FILE_ATTACHED"
)

// Entry is one immutable audit record.
type Entry struct {
	FileID    string    `dynamodbav:"file_id" json:"fileId"`   // PK
	EntryID   string    `dynamodbav:"entry_id" json:"entryId"` // SK: <timestamp>#<uuid>
	ActorID   string    `dynamodbav:"actor_id" json:"actorId"`
	Action    string    `dynamodbav:"action" json:"action"`
	OldValue  string    `dynamodbav:"old_value,omitempty" json:"oldValue,omitempty"`
	NewValue  string    `dynamodbav:"new_value,omitempty" json:"newValue,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"createdAt"`
}
