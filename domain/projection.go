package domain

import (
	"sort"
	"time"
)

// AssembleBoard builds the board read projection for a view from the
// configured stages and the active visit set. Visits are bucketed into
// their current stage's column; the visibility object is computed here,
// server-side, and masking is applied to the payload itself so a public
// board never carries guardian PII over the wire.
func AssembleBoard(view View, stages []Stage, visits []Visit, isPublic bool) Board {
	vis := ComputeVisibility(view.Type, isPublic, view.ShowGuardian)

	keep := func(string) bool { return true }
	if len(view.StageKeys) > 0 {
		allowed := make(map[string]struct{}, len(view.StageKeys))
		for _, k := range view.StageKeys {
			allowed[k] = struct{}{}
		}
		keep = func(key string) bool {
			_, ok := allowed[key]
			return ok
		}
	}

	byStage := make(map[string][]Visit)
	var lastUpdated time.Time
	for _, v := range visits {
		if !v.Active() {
			continue
		}
		if v.UpdatedAt.After(lastUpdated) {
			lastUpdated = v.UpdatedAt
		}
		if vis.MaskGuardian {
			v = MaskVisit(v)
		}
		byStage[v.CurrentStage] = append(byStage[v.CurrentStage], v)
	}

	cols := make([]StageColumn, 0, len(stages))
	for _, s := range stages {
		if !keep(s.Key) {
			continue
		}
		col := StageColumn{Stage: s, Visits: byStage[s.Key]}
		if col.Visits == nil {
			col.Visits = []Visit{}
		}
		sort.SliceStable(col.Visits, func(i, j int) bool {
			return col.Visits[i].CheckInAt.Before(col.Visits[j].CheckInAt)
		})
		cols = append(cols, col)
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].SortOrder < cols[j].SortOrder })

	return Board{
		View:            view.Name,
		Stages:          cols,
		Readonly:        vis.Readonly,
		IsPublic:        isPublic,
		AllowViewSwitch: view.Type.AllowSwitch() && !isPublic,
		Visibility:      vis,
		LastUpdated:     lastUpdated,
	}
}
