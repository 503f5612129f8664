package domain

import "strconv"

// CapacityHint computes the advisory label shown on a stage header.
// Limits are informational only: the transition engine never rejects a
// move on capacity grounds.
func CapacityHint(soft, hard, count int) string {
	if hard > 0 && count > hard {
		return "hard limit exceeded"
	}
	if soft > 0 && count > soft {
		return "at capacity"
	}
	if soft == 0 {
		return "flexible capacity"
	}
	remaining := soft - count
	switch {
	case remaining > 1:
		return strconv.Itoa(remaining) + " slots open"
	case remaining == 1:
		return "1 slot open"
	default:
		return "fully booked"
	}
}
