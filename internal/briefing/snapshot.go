package briefing

import (
	"time"

	"commute-briefing/internal/officeday"
	"commute-briefing/internal/quota"
	"commute-briefing/internal/transit"
)

// Trigger classes, re-exported for callers that never touch the
// ledger directly.
const (
	Manual    = quota.Manual
	Automatic = quota.Automatic
)

// BusSource tells where the bus half of a snapshot came from.
type BusSource string

const (
	SourceMetered     BusSource = "metered"
	SourceFallback    BusSource = "fallback"
	SourceUnavailable BusSource = "unavailable"
)

// NextBus is the first upcoming departure of a snapshot.
type NextBus struct {
	Route       string `json:"route"`
	EtaMinutes  int    `json:"eta_minutes"` // -1 when unknown
	Scheduled   string `json:"scheduled_time,omitempty"`
	Expected    string `json:"expected_time,omitempty"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status"`
}

// Snapshot is one published commute briefing. Immutable once
// published; a new snapshot replaces the previous one atomically.
//
// TrafficMinutes and DelayMinutes are nil when the traffic fetch
// failed — unknown, not zero.
type Snapshot struct {
	ID        string      `json:"id"`
	Trigger   quota.Class `json:"trigger"`
	FetchedAt time.Time   `json:"fetched_at"`

	OfficeDay officeday.Result `json:"office_day"`

	TrafficMinutes  *float64 `json:"traffic_minutes,omitempty"`
	BaselineMinutes float64  `json:"baseline_minutes"`
	DelayMinutes    *float64 `json:"delay_minutes,omitempty"`

	BusSource  BusSource           `json:"bus_source"`
	NextBus    *NextBus            `json:"next_bus,omitempty"`
	Departures []transit.Departure `json:"departures,omitempty"`
	StaleBus   bool                `json:"stale_bus,omitempty"`

	IssueDetected bool           `json:"issue_detected"`
	Quota         quota.Snapshot `json:"quota"`
}

func nextBusFrom(deps []transit.Departure) *NextBus {
	if len(deps) == 0 {
		return nil
	}
	d := deps[0]
	return &NextBus{
		Route:       d.Route,
		EtaMinutes:  d.DueMins,
		Scheduled:   d.Aimed,
		Expected:    d.Expected,
		Destination: d.Destination,
		Status:      d.Status,
	}
}
