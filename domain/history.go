package domain

import "time"

// StageCompleted is the terminal pseudo-stage recorded when a visit is
// checked out.
const StageCompleted = "completed"

// HistoryEntry is one append-only audit row per stage transition. Rows
// are never mutated after insert.
type HistoryEntry struct {
	VisitID        string    `json:"visitId"`
	FromStage      string    `json:"fromStage"`
	ToStage        string    `json:"toStage"`
	Comment        string    `json:"comment,omitempty"`
	ChangedBy      string    `json:"changedBy"`
	ChangedAt      time.Time `json:"changedAt"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
}
