package domain

import "testing"

func TestComputeVisibility(t *testing.T) {
	cases := []struct {
		name         string
		viewType     ViewType
		isPublic     bool
		showGuardian bool
		want         Visibility
	}{
		{"internal staff view", ViewInternal, false, true, Visibility{MaskGuardian: false, Readonly: false}},
		{"internal hiding guardian", ViewInternal, false, false, Visibility{MaskGuardian: true, Readonly: false}},
		{"lobby always masked and readonly", ViewLobby, false, true, Visibility{MaskGuardian: true, Readonly: true}},
		{"kiosk always masked and readonly", ViewKiosk, false, true, Visibility{MaskGuardian: true, Readonly: true}},
		{"public internal view", ViewInternal, true, true, Visibility{MaskGuardian: true, Readonly: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeVisibility(tc.viewType, tc.isPublic, tc.showGuardian)
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMaskVisitStripsSensitiveFields(t *testing.T) {
	v := Visit{
		ID:       "v1",
		Client:   Client{Name: "Biscuit"},
		Guardian: Guardian{FirstName: "Sam", LastName: "Rivera", Phone: "555-0100", Email: "sam@example.com"},
		Instructions: "nervous around clippers",
		PrivateNotes: "payment dispute last visit",
		PublicNotes:  "first visit",
		Photos: []Photo{
			{ID: "p1", VisibleToGuardian: true},
			{ID: "p2", VisibleToGuardian: false},
		},
	}
	m := MaskVisit(v)
	if m.Guardian != (Guardian{}) {
		t.Fatalf("guardian not stripped: %+v", m.Guardian)
	}
	if m.PrivateNotes != "" || m.Instructions != "" {
		t.Fatalf("staff notes leaked")
	}
	if m.PublicNotes != "first visit" || m.Client.Name != "Biscuit" {
		t.Fatalf("public fields must survive masking")
	}
	if len(m.Photos) != 1 || m.Photos[0].ID != "p1" {
		t.Fatalf("guardian-hidden photos must be dropped: %+v", m.Photos)
	}
	if v.Guardian.Phone != "555-0100" {
		t.Fatalf("MaskVisit must not mutate its input")
	}
}

func TestViewTypeCapabilities(t *testing.T) {
	if !ViewInternal.Interactive() || !ViewInternal.AllowSwitch() {
		t.Fatalf("internal view should be interactive and switchable")
	}
	if ViewLobby.Interactive() || ViewKiosk.Interactive() {
		t.Fatalf("lobby and kiosk views must be non-interactive")
	}
	if got := ViewType("unknown"); got.Interactive() {
		t.Fatalf("unknown view types default to non-interactive")
	}
}

func TestGuardianFullName(t *testing.T) {
	if got := (Guardian{FirstName: "Sam", LastName: "Rivera"}).FullName(); got != "Sam Rivera" {
		t.Fatalf("got %q", got)
	}
	if got := (Guardian{LastName: "Rivera"}).FullName(); got != "Rivera" {
		t.Fatalf("got %q", got)
	}
	if got := (Guardian{FirstName: "Sam"}).FullName(); got != "Sam" {
		t.Fatalf("got %q", got)
	}
}
