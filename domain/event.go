package domain

import "time"

const (
	VisitCheckedIn    = "visit-checked-in"
	VisitStageChanged = "visit-stage-changed"
	VisitCheckedOut   = "visit-checked-out"
	VisitUpdated      = "visit-updated"
)

// StageChangedEvent is emitted on every accepted transition and consumed
// by the notification dispatcher. It carries a denormalised snapshot so
// the dispatcher can render templates without re-reading the visit.
type StageChangedEvent struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	VisitID          string    `json:"visitId"`
	FromStage        string    `json:"fromStage"`
	ToStage          string    `json:"toStage"`
	Comment          string    `json:"comment,omitempty"`
	ChangedBy        string    `json:"changedBy"`
	ElapsedSeconds   int       `json:"elapsedSeconds"`
	ClientName       string    `json:"clientName"`
	GuardianFullName string    `json:"guardianFullName,omitempty"`
	GuardianEmail    string    `json:"guardianEmail,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// NotificationTrigger subscribes a recipient kind to arrivals at a
// destination stage. Triggers are authored in admin tooling.
type NotificationTrigger struct {
	ID          string `json:"id"`
	ToStage     string `json:"toStage"`
	Recipient   string `json:"recipient"` // "guardian" or a literal address
	SubjectTmpl string `json:"subjectTemplate"`
	BodyTmpl    string `json:"bodyTemplate"`
	Enabled     bool   `json:"enabled"`
}

// DeliveryStatus records the outcome of one notification send attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord is the audit row written for every dispatch attempt.
// Failures land here and in the logs, never in front of a board user.
type DeliveryRecord struct {
	ID        string         `json:"id"`
	TriggerID string         `json:"triggerId"`
	VisitID   string         `json:"visitId"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	SentAt    time.Time      `json:"sentAt"`
}
