package domain

import (
	"strconv"
	"time"
)

// TimerState is the urgency colouring of a card's elapsed-time badge.
type TimerState string

const (
	TimerOnTrack  TimerState = "on-track"
	TimerWarning  TimerState = "warning"
	TimerCritical TimerState = "critical"
)

// maxReportedElapsed bounds the server-reported elapsed value. Anything
// above two weeks is assumed to be clock drift and recomputed locally.
const maxReportedElapsed = 14 * 24 * 60 * 60

// ElapsedSeconds returns the seconds the visit has spent in its current
// stage as observed at now. A sane server-reported value wins; otherwise
// the value is derived from the stage timer, then the check-in time.
func (v Visit) ElapsedSeconds(now time.Time) int {
	if v.TimerElapsedSeconds > 0 && v.TimerElapsedSeconds <= maxReportedElapsed {
		return v.TimerElapsedSeconds
	}
	anchor := v.TimerStartedAt
	if anchor.IsZero() {
		anchor = v.CheckInAt
	}
	if anchor.IsZero() || now.Before(anchor) {
		return 0
	}
	return int(now.Sub(anchor) / time.Second)
}

// TimerStateFor maps elapsed seconds onto the stage's yellow/red
// thresholds. A threshold of zero disables that level.
func TimerStateFor(seconds, yellow, red int) TimerState {
	if red > 0 && seconds >= red {
		return TimerCritical
	}
	if yellow > 0 && seconds >= yellow {
		return TimerWarning
	}
	return TimerOnTrack
}

// FormatDuration renders elapsed seconds for a card badge. Sub-minute
// values show ">1m": the label reads inverted ("<1m" would be accurate)
// but it is what badges have always displayed, so it stays. Changing it
// would break screenshot-based display checks and staff expectations.
func FormatDuration(seconds int) string {
	if seconds < 60 {
		return ">1m"
	}
	if seconds < 3600 {
		return strconv.Itoa(seconds/60) + "m"
	}
	return strconv.Itoa(seconds/3600) + "h " + strconv.Itoa((seconds%3600)/60) + "m"
}
