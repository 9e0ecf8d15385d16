package notify

import (
	"strings"
	"testing"

	"commute-briefing/internal/briefing"
	"commute-briefing/internal/officeday"
	"commute-briefing/internal/quota"
)

func f64(v float64) *float64 { return &v }

func officeSnapshot() *briefing.Snapshot {
	return &briefing.Snapshot{
		OfficeDay:       officeday.Result{IsOfficeDay: true, MatchedKeyword: "Office"},
		TrafficMinutes:  f64(52),
		BaselineMinutes: 45,
		DelayMinutes:    f64(7),
		BusSource:       briefing.SourceMetered,
		NextBus: &briefing.NextBus{
			Route:      "44",
			EtaMinutes: 8,
			Scheduled:  "08:20",
			Expected:   "08:23",
			Status:     "Late",
		},
		Quota: quota.Snapshot{UsedManual: 2, UsedAuto: 5, DailyQuota: 30},
	}
}

func TestRenderOfficeDayBody(t *testing.T) {
	body := RenderBody(officeSnapshot())
	want := "Traffic: 52 min (+7 vs usual 45)\nNext bus: 44 in 8 min at 08:23 (Late)\nQuota: 7/30 used"
	if body != want {
		t.Fatalf("body:\n%s\nwant:\n%s", body, want)
	}
}

func TestRenderTitleFollowsIssueFlag(t *testing.T) {
	s := officeSnapshot()
	if got := RenderTitle(s); got != "Commute briefing" {
		t.Fatalf("title = %q", got)
	}
	s.IssueDetected = true
	if got := RenderTitle(s); got != "Commute issue detected" {
		t.Fatalf("issue title = %q", got)
	}
}

func TestRenderStaleFallbackIsLabelled(t *testing.T) {
	s := officeSnapshot()
	s.BusSource = briefing.SourceFallback
	s.StaleBus = true
	body := RenderBody(s)
	if !strings.Contains(body, "[fallback, stale]") {
		t.Fatalf("stale fallback not labelled:\n%s", body)
	}
}

func TestRenderNonOfficeDaySkipsBusLine(t *testing.T) {
	s := officeSnapshot()
	s.OfficeDay.IsOfficeDay = false
	s.OfficeDay.MatchedKeyword = "WFH"
	s.BusSource = briefing.SourceUnavailable
	s.NextBus = nil
	body := RenderBody(s)
	if !strings.Contains(body, "No commute today (WFH)") {
		t.Fatalf("missing non-office line:\n%s", body)
	}
	if strings.Contains(body, "Next bus") {
		t.Fatalf("bus line rendered on a non-office day:\n%s", body)
	}
}

func TestRenderUnavailableSources(t *testing.T) {
	s := officeSnapshot()
	s.TrafficMinutes = nil
	s.DelayMinutes = nil
	s.BusSource = briefing.SourceUnavailable
	s.NextBus = nil
	body := RenderBody(s)
	if !strings.Contains(body, "Traffic: unavailable") || !strings.Contains(body, "Next bus: unavailable") {
		t.Fatalf("unavailable lines missing:\n%s", body)
	}
}

func TestSubjectToken(t *testing.T) {
	cases := map[string]string{
		"briefing.snapshot": "briefing.snapshot",
		"bad subject *":     "bad_subject__",
		"":                  "briefing",
	}
	for in, want := range cases {
		if got := subjectToken(in); got != want {
			t.Errorf("subjectToken(%q) = %q, want %q", in, got, want)
		}
	}
}
