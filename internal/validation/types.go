package validation

// SubmitFileRequest is the payload for POST /files.
type SubmitFileRequest struct {
	Filename      string   `json:"filename" validate:"required,max=255"`
	ContentType   string   `json:"contentType" validate:"omitempty,max=127"`
	ContentLength int64    `json:"contentLength" validate:"required,gt=0"`
	Modifications []string `json:"modifications" validate:"omitempty,max=32,dive,required,max=64"`
	Comment       string   `json:"comment" validate:"max=2000"`
	Price         float64  `json:"price" validate:"gte=0"`
}

// StatusUpdateRequest is the payload for PATCH /admin/files/:id/status.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=RECEIVED PENDING READY"`
	// EstimatedProcessingTime is in minutes and only accompanies PENDING.
	EstimatedProcessingTime *int `json:"estimatedProcessingTime" validate:"omitempty,min=5,max=60"`
}

// ModifiedUploadRequest is the payload for POST /admin/files/:id/modified/upload-url.
type ModifiedUploadRequest struct {
	Filename      string `json:"filename" validate:"required,max=255"`
	ContentType   string `json:"contentType" validate:"omitempty,max=127"`
	ContentLength int64  `json:"contentLength" validate:"required,gt=0"`
}

// AttachModifiedRequest is the payload for POST /admin/files/:id/modified.
type AttachModifiedRequest struct {
	Key      string `json:"key" validate:"required"`
	Filename string `json:"filename" validate:"required,max=255"`
}
