package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(statusUpdateStructValidation, StatusUpdateRequest{})
	return v
}

// statusUpdateStructValidation rejects an estimate on anything but PENDING.
func statusUpdateStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(StatusUpdateRequest)
	if req.EstimatedProcessingTime != nil && req.Status != "PENDING" {
		sl.ReportError(req.EstimatedProcessingTime, "estimatedProcessingTime", "EstimatedProcessingTime", "pending_only", req.Status)
	}
}
