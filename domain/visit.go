package domain

import "time"

// VisitStatus is the lifecycle state of a visit on the active board.
type VisitStatus string

const (
	StatusInProgress VisitStatus = "in_progress"
	StatusReady      VisitStatus = "ready"
	StatusCompleted  VisitStatus = "completed"
)

// Client is the animal being groomed.
type Client struct {
	Name  string `json:"name"`
	Breed string `json:"breed,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Guardian is the human responsible for a client. Contact fields are
// sensitive and must be stripped by MaskVisit before a payload reaches a
// public display.
type Guardian struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// FullName joins the guardian's name parts, tolerating missing halves.
func (g Guardian) FullName() string {
	switch {
	case g.FirstName == "":
		return g.LastName
	case g.LastName == "":
		return g.FirstName
	default:
		return g.FirstName + " " + g.LastName
	}
}

// ServiceItem is one booked service on a visit.
type ServiceItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Flag is a behavioural or medical marker shown on the card.
type Flag struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Photo is an image attached to a visit during grooming.
type Photo struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	VisibleToGuardian bool      `json:"visibleToGuardian"`
	IsPrimary         bool      `json:"isPrimary,omitempty"`
	TakenAt           time.Time `json:"takenAt"`
}

// Visit is one client's pass through the workflow, from check-in to
// checkout. It belongs to exactly one active stage at a time.
type Visit struct {
	ID                  string        `json:"id"`
	Client              Client        `json:"client"`
	Guardian            Guardian      `json:"guardian"`
	CurrentStage        string        `json:"currentStage"`
	Status              VisitStatus   `json:"status"`
	CheckInAt           time.Time     `json:"checkInAt"`
	CheckOutAt          time.Time     `json:"checkOutAt,omitempty"`
	TimerStartedAt      time.Time     `json:"timerStartedAt,omitempty"`
	TimerElapsedSeconds int           `json:"timerElapsedSeconds,omitempty"`
	Services            []ServiceItem `json:"services,omitempty"`
	Flags               []Flag        `json:"flags,omitempty"`
	Instructions        string        `json:"instructions,omitempty"`
	PublicNotes         string        `json:"publicNotes,omitempty"`
	PrivateNotes        string        `json:"privateNotes,omitempty"`
	Photos              []Photo       `json:"photos,omitempty"`
	CheckedInBy         string        `json:"checkedInBy,omitempty"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Active reports whether the visit still occupies a board column.
func (v Visit) Active() bool {
	return v.Status != StatusCompleted && v.CheckOutAt.IsZero()
}

// IntakeMatch pairs a returning client with its guardian for the intake
// search typeahead.
type IntakeMatch struct {
	Client   Client   `json:"client"`
	Guardian Guardian `json:"guardian"`
}
