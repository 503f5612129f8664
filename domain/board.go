package domain

import (
	"sort"
	"time"
)

// Board is the read projection served to board consumers. Each visit ID
// appears in at most one stage column within a well-formed payload.
type Board struct {
	View            string        `json:"view"`
	Stages          []StageColumn `json:"stages"`
	Readonly        bool          `json:"readonly"`
	IsPublic        bool          `json:"isPublic"`
	AllowViewSwitch bool          `json:"allowViewSwitch"`
	Visibility      Visibility    `json:"visibility"`
	LastUpdated     time.Time     `json:"lastUpdated"`
}

// ApplyPatch reconciles an incremental server update into a locally held
// board snapshot and returns the merged board. Neither input is mutated.
//
// A patch without stages only refreshes top-level fields. Otherwise every
// visit ID present anywhere in the patch is first removed from the current
// columns (it is being replaced or relocated), then each patch column is
// merged into its counterpart by concatenating the surviving current
// visits with the patch's visits. Visits absent from the patch are left
// untouched. Merged columns are re-sorted by sort order.
//
// Patches carry no removal record, so a visit that left the board (a
// checkout) lingers in the merged snapshot until the next full fetch.
// Callers that poll incrementally must refetch the full board on a
// schedule to bound that staleness.
func ApplyPatch(current, patch Board) Board {
	merged := current
	if patch.View != "" {
		merged.View = patch.View
	}
	merged.Readonly = patch.Readonly
	merged.IsPublic = patch.IsPublic
	merged.AllowViewSwitch = patch.AllowViewSwitch
	merged.Visibility = patch.Visibility
	if !patch.LastUpdated.IsZero() {
		merged.LastUpdated = patch.LastUpdated
	}

	if len(patch.Stages) == 0 {
		merged.Stages = cloneColumns(current.Stages)
		return merged
	}

	replaced := make(map[string]struct{})
	for _, col := range patch.Stages {
		for _, v := range col.Visits {
			replaced[v.ID] = struct{}{}
		}
	}

	byKey := make(map[string]StageColumn, len(current.Stages))
	keys := make([]string, 0, len(current.Stages)+len(patch.Stages))
	for _, col := range current.Stages {
		surviving := make([]Visit, 0, len(col.Visits))
		for _, v := range col.Visits {
			if _, gone := replaced[v.ID]; !gone {
				surviving = append(surviving, v)
			}
		}
		col.Visits = surviving
		byKey[col.Key] = col
		keys = append(keys, col.Key)
	}

	for _, pcol := range patch.Stages {
		cur, ok := byKey[pcol.Key]
		if !ok {
			byKey[pcol.Key] = StageColumn{Stage: pcol.Stage, Visits: append([]Visit(nil), pcol.Visits...)}
			keys = append(keys, pcol.Key)
			continue
		}
		// Patch stage metadata wins; the admin may have re-ordered or
		// re-limited the column since the last full fetch.
		cur.Stage = pcol.Stage
		cur.Visits = append(cur.Visits, pcol.Visits...)
		byKey[pcol.Key] = cur
	}

	merged.Stages = make([]StageColumn, 0, len(keys))
	for _, k := range keys {
		merged.Stages = append(merged.Stages, byKey[k])
	}
	sort.SliceStable(merged.Stages, func(i, j int) bool {
		return merged.Stages[i].SortOrder < merged.Stages[j].SortOrder
	})
	return merged
}

// FindVisit scans the board's columns for the given visit ID. The second
// return value is false when the visit is not on the board.
func FindVisit(b Board, id string) (StageColumn, Visit, bool) {
	for _, col := range b.Stages {
		for _, v := range col.Visits {
			if v.ID == id {
				return col, v, true
			}
		}
	}
	return StageColumn{}, Visit{}, false
}

// StageIndex returns the position of the stage key within the board's
// column order, or -1.
func (b Board) StageIndex(key string) int {
	for i, col := range b.Stages {
		if col.Key == key {
			return i
		}
	}
	return -1
}

func cloneColumns(cols []StageColumn) []StageColumn {
	out := make([]StageColumn, len(cols))
	for i, col := range cols {
		col.Visits = append([]Visit(nil), col.Visits...)
		out[i] = col
	}
	return out
}
