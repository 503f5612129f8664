package domain

import "testing"

func TestCapacityHint(t *testing.T) {
	cases := []struct {
		name              string
		soft, hard, count int
		want              string
	}{
		{"plenty open", 4, 6, 1, "3 slots open"},
		{"one left", 4, 6, 3, "1 slot open"},
		{"exactly at soft is fully booked", 4, 6, 4, "fully booked"},
		{"over soft", 4, 6, 5, "at capacity"},
		{"at hard still at capacity", 4, 6, 6, "at capacity"},
		{"over hard", 4, 6, 7, "hard limit exceeded"},
		{"no soft limit", 0, 0, 12, "flexible capacity"},
		{"hard only, under", 0, 3, 2, "flexible capacity"},
		{"hard only, over", 0, 3, 4, "hard limit exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CapacityHint(tc.soft, tc.hard, tc.count); got != tc.want {
				t.Fatalf("CapacityHint(%d,%d,%d) = %q, want %q", tc.soft, tc.hard, tc.count, got, tc.want)
			}
		})
	}
}

func TestStageColumnCapacityHint(t *testing.T) {
	col := StageColumn{
		Stage:  Stage{Key: "check-in", CapacitySoftLimit: 2, CapacityHardLimit: 4},
		Visits: []Visit{{ID: "v1"}},
	}
	if got := col.CapacityHint(); got != "1 slot open" {
		t.Fatalf("got %q", got)
	}
}
