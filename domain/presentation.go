package domain

// PresentationMode selects between the operator board and the
// non-interactive public rendering.
type PresentationMode string

const (
	ModeDisplay     PresentationMode = "display"
	ModeInteractive PresentationMode = "interactive"
)

// ViewSwitcherStyle is how (and whether) the view switcher is rendered.
type ViewSwitcherStyle string

const (
	SwitcherDropdown ViewSwitcherStyle = "dropdown"
	SwitcherButtons  ViewSwitcherStyle = "buttons"
	SwitcherNone     ViewSwitcherStyle = "none"
)

// PresentationConfig is the fully resolved set of rendering toggles for a
// board consumer.
type PresentationConfig struct {
	Mode            PresentationMode  `json:"mode"`
	ShowToolbar     bool              `json:"showToolbar"`
	ShowSearch      bool              `json:"showSearch"`
	ShowFilters     bool              `json:"showFilters"`
	ShowRefresh     bool              `json:"showRefresh"`
	ShowLastUpdated bool              `json:"showLastUpdated"`
	ShowCountdown   bool              `json:"showCountdown"`
	ShowNotes       bool              `json:"showNotes"`
	ShowFullscreen  bool              `json:"showFullscreen"`
	ShowMaskBadge   bool              `json:"showMaskBadge"`
	ViewSwitcher    ViewSwitcherStyle `json:"viewSwitcher"`
}

// PresentationOverrides carries explicit per-flag settings. Nil fields
// fall through to the mode-derived defaults.
type PresentationOverrides struct {
	Mode            PresentationMode
	ShowToolbar     *bool
	ShowSearch      *bool
	ShowFilters     *bool
	ShowRefresh     *bool
	ShowLastUpdated *bool
	ShowCountdown   *bool
	ShowNotes       *bool
	ShowFullscreen  *bool
	ShowMaskBadge   *bool
	ViewSwitcher    ViewSwitcherStyle
}

// ResolvePresentation derives the rendering configuration for a board.
// Explicit overrides always win; otherwise display mode follows the
// board's readonly/public state and the interactive chrome is hidden in
// display mode.
func ResolvePresentation(b Board, ov PresentationOverrides) PresentationConfig {
	mode := ov.Mode
	if mode != ModeDisplay && mode != ModeInteractive {
		if b.Readonly || b.IsPublic {
			mode = ModeDisplay
		} else {
			mode = ModeInteractive
		}
	}
	interactive := mode != ModeDisplay

	cfg := PresentationConfig{
		Mode:            mode,
		ShowToolbar:     flag(ov.ShowToolbar, interactive),
		ShowSearch:      flag(ov.ShowSearch, interactive),
		ShowFilters:     flag(ov.ShowFilters, interactive),
		ShowRefresh:     flag(ov.ShowRefresh, interactive),
		ShowLastUpdated: flag(ov.ShowLastUpdated, interactive),
		ShowCountdown:   flag(ov.ShowCountdown, interactive),
		ShowNotes:       flag(ov.ShowNotes, interactive),
		ShowFullscreen:  flag(ov.ShowFullscreen, true),
	}

	maskBadge := interactive && b.Visibility.MaskGuardian
	cfg.ShowMaskBadge = flag(ov.ShowMaskBadge, maskBadge)

	switch ov.ViewSwitcher {
	case SwitcherDropdown, SwitcherButtons, SwitcherNone:
		cfg.ViewSwitcher = ov.ViewSwitcher
	default:
		if mode == ModeDisplay || !b.AllowViewSwitch {
			cfg.ViewSwitcher = SwitcherNone
		} else {
			cfg.ViewSwitcher = SwitcherDropdown
		}
	}
	return cfg
}

func flag(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}
