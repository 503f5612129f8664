package domain

// Stage describes one workflow column as configured by the salon.
type Stage struct {
	Key                string `json:"key"`
	Label              string `json:"label"`
	SortOrder          int    `json:"sortOrder"`
	CapacitySoftLimit  int    `json:"capacitySoftLimit"`
	CapacityHardLimit  int    `json:"capacityHardLimit"`
	TimerYellowSeconds int    `json:"timerYellowSeconds"`
	TimerRedSeconds    int    `json:"timerRedSeconds"`
	Description        string `json:"description,omitempty"`
}

// StageColumn is a stage together with the visits currently parked in it.
// The board payload embeds visits per stage so consumers never have to
// cross-reference two collections.
type StageColumn struct {
	Stage
	Visits []Visit `json:"visits"`
}

// CapacityHint returns the advisory capacity label for the column's
// current visit count.
func (c StageColumn) CapacityHint() string {
	return CapacityHint(c.CapacitySoftLimit, c.CapacityHardLimit, len(c.Visits))
}
