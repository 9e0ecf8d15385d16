// Package transit provides the normalized bus departure model and the
// two departure sources: the metered TransportAPI client and the
// scraper microservice fallback client.
package transit

import (
	"sort"
	"strings"
	"time"
)

// Departure statuses, matching the scraper microservice's vocabulary.
const (
	StatusOnTime    = "On time"
	StatusLate      = "Late"
	StatusEarly     = "Early"
	StatusScheduled = "Scheduled"
	StatusUnknown   = "Unknown"
)

// DueUnknown marks a departure whose minutes-until could not be
// derived.
const DueUnknown = -1

// Departure is a single upcoming bus departure, normalized across
// sources. Aimed and Expected are HH:MM clock strings when known.
type Departure struct {
	Route       string `json:"route"`
	DueMins     int    `json:"due_mins"`
	Aimed       string `json:"aimed,omitempty"`
	Expected    string `json:"expected,omitempty"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status"`
	Realtime    bool   `json:"is_realtime"`
}

// FilterRoutes returns the departures whose route is in the allowlist.
// An empty allowlist keeps everything. The input slice is never
// modified; callers may pass slices shared with the cache.
func FilterRoutes(deps []Departure, allowlist []string) []Departure {
	if len(allowlist) == 0 {
		return deps
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, r := range allowlist {
		r = strings.TrimSpace(r)
		if r != "" {
			allowed[r] = true
		}
	}
	if len(allowed) == 0 {
		return deps
	}
	out := make([]Departure, 0, len(deps))
	for _, d := range deps {
		if allowed[d.Route] {
			out = append(out, d)
		}
	}
	return out
}

// SortByDue orders departures soonest first. Departures with an
// unknown due time sort last.
func SortByDue(deps []Departure) {
	sort.SliceStable(deps, func(i, j int) bool {
		return sortKey(deps[i]) < sortKey(deps[j])
	})
}

func sortKey(d Departure) int {
	if d.DueMins == DueUnknown {
		return 999
	}
	return d.DueMins
}

// dueMinutes converts an HH:MM clock string into whole minutes from
// now. A clock time already in the past is taken to mean tomorrow.
func dueMinutes(clock string, now time.Time) int {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return DueUnknown
	}
	dep := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if dep.Before(now) {
		dep = dep.Add(24 * time.Hour)
	}
	return int(dep.Sub(now) / time.Minute)
}

// statusFor derives a departure status from the aimed and expected
// clock times.
func statusFor(aimed, expected string) string {
	if aimed != "" && expected != "" && aimed != expected {
		at, errA := time.Parse("15:04", aimed)
		et, errE := time.Parse("15:04", expected)
		if errA != nil || errE != nil {
			return StatusOnTime
		}
		switch {
		case et.After(at):
			return StatusLate
		case et.Before(at):
			return StatusEarly
		default:
			return StatusOnTime
		}
	}
	if expected != "" {
		return StatusOnTime
	}
	return StatusScheduled
}
