package storage

import (
	"testing"
	"time"

	"pawboard-api/domain"
)

func TestVisitEntityCodec(t *testing.T) {
	in := domain.Visit{
		ID:           "v1",
		Client:       domain.Client{Name: "Biscuit", Breed: "corgi"},
		Guardian:     domain.Guardian{FirstName: "Sam", LastName: "Rivera", Email: "sam@example.com"},
		CurrentStage: "bath",
		Status:       domain.StatusInProgress,
		CheckInAt:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Services:     []domain.ServiceItem{{Key: "full-groom", Label: "Full Groom"}},
		Flags:        []domain.Flag{{Key: "nervous", Label: "Nervous"}},
		Photos:       []domain.Photo{{ID: "p1", VisibleToGuardian: true}},
		UpdatedAt:    time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}

	data, err := encodeVisit(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeVisit(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != "v1" || out.CurrentStage != "bath" || out.Guardian.Email != "sam@example.com" {
		t.Fatalf("round trip lost fields: %+v", out)
	}
	if len(out.Services) != 1 || len(out.Flags) != 1 || len(out.Photos) != 1 {
		t.Fatalf("embedded collections lost: %+v", out)
	}
	if !out.CheckInAt.Equal(in.CheckInAt) || !out.CheckOutAt.IsZero() {
		t.Fatalf("time handling wrong: in=%v out=%v", in.CheckInAt, out.CheckInAt)
	}
}

func TestDecodeTimeToleratesGarbage(t *testing.T) {
	if !decodeTime("not-a-time").IsZero() {
		t.Fatalf("garbage timestamps should decode to zero")
	}
	if !decodeTime("").IsZero() {
		t.Fatalf("empty timestamps should decode to zero")
	}
}
