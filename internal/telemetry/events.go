package telemetry

import "time"

const (
	EventGateViewed   = "gate_viewed"
	EventLeadInvalid  = "lead_invalid"
	EventLeadCaptured = "lead_captured"
	EventLeadFailed   = "lead_failed"
)

// Gate lifecycle audit. Contact details are never included.
type GateAuditEvent struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Context   string    `json:"context"`
	Path      string    `json:"path,omitempty"`
	VisitorID string    `json:"visitor_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Per-request audit
type RequestAuditEvent struct {
	Timestamp  time.Time `json:"@timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	RequestID  string    `json:"request_id,omitempty"`
}
