package notify

import (
	"strings"

	"pawboard-api/domain"
)

// Render substitutes {{token}} placeholders in a trigger template.
// Unknown tokens are left in place so misconfigured templates surface in
// the delivery log instead of silently dropping text.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for token, value := range vars {
		pairs = append(pairs, "{{"+token+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// eventVars builds the substitution table for one stage-changed event.
func eventVars(ev domain.StageChangedEvent, stageLabel, salonName string) map[string]string {
	if stageLabel == "" {
		stageLabel = ev.ToStage
	}
	return map[string]string{
		"client_name":        ev.ClientName,
		"guardian_full_name": ev.GuardianFullName,
		"visit_stage":        stageLabel,
		"visit_comment":      ev.Comment,
		"salon_name":         salonName,
		"elapsed":            domain.FormatDuration(ev.ElapsedSeconds),
	}
}
