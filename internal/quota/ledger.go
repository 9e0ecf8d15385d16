// Package quota tracks metered API calls against a daily budget.
//
// The budget is split by call class: automatic (background refresh)
// calls are capped so that a reserved pool always stays available for
// manual refreshes. Counters reset lazily at the local day boundary.
package quota

import (
	"sync"
	"time"
)

// Class identifies who asked for a metered call.
type Class string

const (
	Manual    Class = "manual"
	Automatic Class = "automatic"
)

// Snapshot is a read-only copy of the ledger state.
type Snapshot struct {
	Day            string `json:"day"`
	UsedManual     int    `json:"used_manual"`
	UsedAuto       int    `json:"used_auto"`
	DailyQuota     int    `json:"daily_quota"`
	ReservedManual int    `json:"reserved_manual"`
	MaxAuto        int    `json:"max_auto"`
}

// Remaining returns how many calls of any class are still allowed today.
func (s Snapshot) Remaining() int {
	r := s.DailyQuota - s.UsedManual - s.UsedAuto
	if r < 0 {
		return 0
	}
	return r
}

// Ledger admits or denies metered calls. Safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	dailyQuota     int
	reservedManual int
	maxAuto        int

	usedManual int
	usedAuto   int
	day        string // local day marker, "2006-01-02"

	now func() time.Time
	tz  *time.Location
}

// NewLedger creates a ledger for the given budget. The time zone
// defines the day boundary at which counters reset.
func NewLedger(dailyQuota, reservedManual, maxAuto int, tz *time.Location) *Ledger {
	if tz == nil {
		tz = time.Local
	}
	l := &Ledger{
		dailyQuota:     dailyQuota,
		reservedManual: reservedManual,
		maxAuto:        maxAuto,
		now:            time.Now,
		tz:             tz,
	}
	l.day = l.today()
	return l
}

// SetClock overrides the ledger's clock. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.day = l.todayLocked()
	l.mu.Unlock()
}

func (l *Ledger) today() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.todayLocked()
}

func (l *Ledger) todayLocked() string {
	return l.now().In(l.tz).Format("2006-01-02")
}

// rolloverLocked zeroes the counters when the stored day marker no
// longer matches the current local day. Callers must hold l.mu.
func (l *Ledger) rolloverLocked() {
	if d := l.todayLocked(); d != l.day {
		l.usedManual = 0
		l.usedAuto = 0
		l.day = d
	}
}

// TryConsume reports whether a call of the given class is allowed and,
// if so, charges it. Check and increment happen as one operation; a
// denial leaves the counters untouched.
//
// Automatic calls may never eat into the reserved manual pool even
// when the automatic cap alone would permit it. Manual calls may use
// leftover automatic headroom but never exceed the daily quota.
func (l *Ledger) TryConsume(class Class) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	switch class {
	case Automatic:
		if l.usedAuto >= l.maxAuto {
			return false
		}
		if l.usedManual+l.usedAuto >= l.dailyQuota-l.reservedManual {
			return false
		}
		l.usedAuto++
		return true
	case Manual:
		if l.usedManual+l.usedAuto >= l.dailyQuota {
			return false
		}
		l.usedManual++
		return true
	default:
		return false
	}
}

// Reset zeroes both counters and re-stamps the day marker.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.usedManual = 0
	l.usedAuto = 0
	l.day = l.todayLocked()
	l.mu.Unlock()
}

// Restore rehydrates persisted counters. Counters belonging to a day
// other than the current local day are ignored.
func (l *Ledger) Restore(day string, usedManual, usedAuto int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if day != l.todayLocked() {
		return
	}
	if usedManual < 0 {
		usedManual = 0
	}
	if usedAuto < 0 {
		usedAuto = 0
	}
	l.usedManual = usedManual
	l.usedAuto = usedAuto
	l.day = day
}

// Snapshot returns a copy of the current state. Side-effect free apart
// from the lazy day rollover.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return Snapshot{
		Day:            l.day,
		UsedManual:     l.usedManual,
		UsedAuto:       l.usedAuto,
		DailyQuota:     l.dailyQuota,
		ReservedManual: l.reservedManual,
		MaxAuto:        l.maxAuto,
	}
}
