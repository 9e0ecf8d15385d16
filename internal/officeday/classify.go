// Package officeday decides whether today is a commute day from
// calendar event titles.
package officeday

import "strings"

// Result is the outcome of a classification. MatchedKeyword names the
// keyword that decided the result, for diagnostics; it is empty when
// the configured default applied.
type Result struct {
	IsOfficeDay    bool   `json:"is_office_day"`
	MatchedKeyword string `json:"matched_keyword,omitempty"`
}

// Classify matches each keyword case-insensitively as a substring of
// each event title. An explicit work-from-home keyword wins over any
// office keyword. When nothing matches, noMatchDefault applies.
//
// Pure function: the caller owns calendar access and supplies the
// titles.
func Classify(titles, officeKeywords, wfhKeywords []string, noMatchDefault bool) Result {
	for _, kw := range wfhKeywords {
		if matchAny(titles, kw) {
			return Result{IsOfficeDay: false, MatchedKeyword: kw}
		}
	}
	for _, kw := range officeKeywords {
		if matchAny(titles, kw) {
			return Result{IsOfficeDay: true, MatchedKeyword: kw}
		}
	}
	return Result{IsOfficeDay: noMatchDefault}
}

func matchAny(titles []string, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	for _, title := range titles {
		if strings.Contains(strings.ToLower(title), kw) {
			return true
		}
	}
	return false
}
