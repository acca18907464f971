package domain

import "time"

// Step is a stage of the webhook request lifecycle.
type Step string

const (
	StepReceived            Step = "received"
	StepAttachmentsResolved Step = "attachments_resolved"
	StepBackendDispatched   Step = "backend_dispatched"
	StepReplied             Step = "replied"
)

// Exchange summarises one processed webhook request for diagnostics.
type Exchange struct {
	RequestID  string
	MessageSID string
	From       string
	Body       string
	Step       Step // last step reached
	Path       string
	Images     int
	Dropped    int
	Fallback   bool
	Reply      string
	Error      string
	LatencyMs  int64
	CreatedAt  time.Time
}
