package domain

// ViewType classifies a named board configuration.
type ViewType string

const (
	ViewInternal ViewType = "internal"
	ViewLobby    ViewType = "lobby"
	ViewKiosk    ViewType = "kiosk"
)

// viewCapabilities is the closed capability table for view types. All
// masking/readonly/switcher behaviour derives from this table rather
// than per-call-site conditionals.
type viewCapabilities struct {
	interactive bool
	allowSwitch bool
}

var viewCaps = map[ViewType]viewCapabilities{
	ViewInternal: {interactive: true, allowSwitch: true},
	ViewLobby:    {interactive: false, allowSwitch: false},
	ViewKiosk:    {interactive: false, allowSwitch: false},
}

// Interactive reports whether the view type permits board mutation.
func (t ViewType) Interactive() bool { return viewCaps[t].interactive }

// AllowSwitch reports whether the view type offers a view switcher.
func (t ViewType) AllowSwitch() bool { return viewCaps[t].allowSwitch }

// View is a named board configuration: an ordered stage subset plus
// display rules. Views are authored in admin tooling and read here.
type View struct {
	Name         string   `json:"name"`
	Type         ViewType `json:"type"`
	StageKeys    []string `json:"stageKeys,omitempty"`
	ShowGuardian bool     `json:"showGuardian"`
	PublicToken  string   `json:"-"`
}

// Visibility is the server-computed masking decision attached to a board
// payload. Clients must trust it as-is; re-deriving it from client-visible
// data would leak guardian PII to public displays.
type Visibility struct {
	MaskGuardian bool `json:"maskGuardian"`
	Readonly     bool `json:"readonly"`
}

// ComputeVisibility derives the visibility object for a board render.
// Server-side only.
func ComputeVisibility(viewType ViewType, isPublic, showGuardian bool) Visibility {
	restricted := isPublic || !viewType.Interactive()
	return Visibility{
		MaskGuardian: restricted || !showGuardian,
		Readonly:     restricted,
	}
}

// MaskVisit strips guardian PII and staff-only fields from a visit so the
// payload itself is safe for public screens. Photos hidden from the
// guardian are dropped entirely.
func MaskVisit(v Visit) Visit {
	v.Guardian = Guardian{}
	v.PrivateNotes = ""
	v.Instructions = ""
	if len(v.Photos) > 0 {
		kept := make([]Photo, 0, len(v.Photos))
		for _, p := range v.Photos {
			if p.VisibleToGuardian {
				kept = append(kept, p)
			}
		}
		v.Photos = kept
	}
	return v
}
