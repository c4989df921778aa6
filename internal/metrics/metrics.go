// Package metrics records fulfillment counters to Prometheus or CloudWatch.
package metrics

// Recorder is implemented by every metrics backend.
type Recorder interface {
	// Transition counts an applied file status transition.
	Transition(from, to string)
	// Notification counts one channel result (delivered, skipped, failed).
	Notification(channel, outcome string)
	// WebhookEvent counts a carrier event by processing outcome.
	WebhookEvent(carrier, outcome string)
	// AuditFailure counts an audit entry that could not be written.
	AuditFailure()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Transition(string, string)   {}
func (Nop) Notification(string, string) {}
func (Nop) WebhookEvent(string, string) {}
func (Nop) AuditFailure()               {}
