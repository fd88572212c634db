package rules

import (
	"testing"
	"time"

	"skyalert/internal/model"
)

// 2026-08-21 is a Friday.
func fridayAt(hour, min int) time.Time {
	return time.Date(2026, 8, 21, hour, min, 0, 0, time.UTC)
}

func TestSuppressionWrappingWindow(t *testing.T) {
	t.Parallel()

	r := model.Rule{Suppress: []model.SuppressionWindow{
		{Day: time.Friday, Start: "22:00", End: "06:00"},
	}}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"friday 23:30 inside", fridayAt(23, 30), true},
		{"saturday 05:00 inside", fridayAt(23, 30).Add(5*time.Hour + 30*time.Minute), true},
		{"friday 12:00 outside", fridayAt(12, 0), false},
		{"friday 22:00 boundary inside", fridayAt(22, 0), true},
		{"saturday 06:00 boundary outside", fridayAt(0, 0).Add(30 * time.Hour), false},
		{"saturday 07:00 outside", fridayAt(0, 0).Add(31 * time.Hour), false},
		{"thursday 23:30 outside", fridayAt(23, 30).Add(-24 * time.Hour), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Suppressed(r, tt.at); got != tt.want {
				t.Fatalf("Suppressed at %v = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestSuppressionSameDayWindow(t *testing.T) {
	t.Parallel()

	r := model.Rule{Suppress: []model.SuppressionWindow{
		{Day: time.Friday, Start: "09:00", End: "17:00"},
	}}

	if !Suppressed(r, fridayAt(12, 0)) {
		t.Fatal("friday noon should be suppressed")
	}
	if Suppressed(r, fridayAt(17, 0)) {
		t.Fatal("window end is exclusive")
	}
	if Suppressed(r, fridayAt(12, 0).Add(24*time.Hour)) {
		t.Fatal("saturday noon is outside a friday-only window")
	}
}

func TestSuppressionMalformedClock(t *testing.T) {
	t.Parallel()

	r := model.Rule{Suppress: []model.SuppressionWindow{
		{Day: time.Friday, Start: "25:00", End: "06:00"},
		{Day: time.Friday, Start: "nope", End: "06:00"},
	}}
	if Suppressed(r, fridayAt(23, 30)) {
		t.Fatal("malformed windows must not suppress")
	}
}

func TestScheduleValid(t *testing.T) {
	t.Parallel()

	now := fridayAt(12, 0)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		r    model.Rule
		want bool
	}{
		{"no bounds", model.Rule{}, true},
		{"inside window", model.Rule{StartsAt: &past, ExpiresAt: &future}, true},
		{"not started", model.Rule{StartsAt: &future}, false},
		{"expired", model.Rule{ExpiresAt: &past}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.ScheduleValid(now); got != tt.want {
				t.Fatalf("ScheduleValid = %v, want %v", got, tt.want)
			}
		})
	}
}
