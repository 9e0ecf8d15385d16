package transit

import (
	"testing"
	"time"
)

func TestDueMinutes(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 15, 0, 0, time.UTC)
	cases := []struct {
		clock string
		want  int
	}{
		{"08:23", 8},
		{"08:15", 0},
		{"09:00", 45},
		{"08:10", 1435}, // already past, wraps to tomorrow
		{"bogus", DueUnknown},
		{"", DueUnknown},
	}
	for _, tc := range cases {
		if got := dueMinutes(tc.clock, now); got != tc.want {
			t.Errorf("dueMinutes(%q) = %d, want %d", tc.clock, got, tc.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		aimed, expected, want string
	}{
		{"08:20", "08:25", StatusLate},
		{"08:20", "08:15", StatusEarly},
		{"08:20", "08:20", StatusOnTime},
		{"", "08:20", StatusOnTime},
		{"08:20", "", StatusScheduled},
		{"", "", StatusScheduled},
		{"08:20", "junk", StatusOnTime},
	}
	for _, tc := range cases {
		if got := statusFor(tc.aimed, tc.expected); got != tc.want {
			t.Errorf("statusFor(%q, %q) = %q, want %q", tc.aimed, tc.expected, got, tc.want)
		}
	}
}

func TestSortByDueUnknownLast(t *testing.T) {
	deps := []Departure{
		{Route: "x", DueMins: DueUnknown},
		{Route: "44", DueMins: 12},
		{Route: "31", DueMins: 3},
	}
	SortByDue(deps)
	if deps[0].Route != "31" || deps[1].Route != "44" || deps[2].Route != "x" {
		t.Fatalf("sorted order = %v", deps)
	}
}

func TestFilterRoutes(t *testing.T) {
	deps := []Departure{{Route: "44"}, {Route: "31"}, {Route: "X29"}}
	got := FilterRoutes(deps, []string{"44", " X29 "})
	if len(got) != 2 || got[0].Route != "44" || got[1].Route != "X29" {
		t.Fatalf("filtered = %v", got)
	}
	// Empty allowlist keeps everything.
	all := FilterRoutes([]Departure{{Route: "44"}, {Route: "31"}}, nil)
	if len(all) != 2 {
		t.Fatalf("empty allowlist filtered to %v", all)
	}
}
