// Package details pulls rate, facility and event labels out of the free text
// of a parking calendar entry.
//
// Feed entries usually look like:
//
//	DESCRIPTION: Event Rate: $10
//	             Locations: University Ave. Ramp, 4th Street Ramp
//	             Event: Gopher Football
//	LOCATION:    University Ave Ramp, Minneapolis, MN 55455
//
// Every extraction is best effort. Missing labels produce empty values,
// never errors.
package details

import (
	"regexp"
	"strings"
)

// Details is what Extract found.
type Details struct {
	// Facilities always holds at least one entry.
	Facilities []string
	Rate       string
	EventName  string
}

// Matcher looks for one labelled value in text.
type Matcher func(text string) (string, bool)

// Capture returns a Matcher yielding the first submatch of re, trimmed.
// Blank captures count as no match.
func Capture(re *regexp.Regexp) Matcher {
	return func(text string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			return "", false
		}
		v := strings.TrimSpace(m[1])
		return v, v != ""
	}
}

// First runs matchers in order and returns the first hit.
func First(text string, matchers ...Matcher) (string, bool) {
	for _, m := range matchers {
		if v, ok := m(text); ok {
			return v, true
		}
	}
	return "", false
}

var (
	rateMatchers = []Matcher{
		Capture(regexp.MustCompile(`(?i)event\s+rate\s*:\s*(\$[\d.,]+(?:\s*/\s*\w+)?)`)),
		Capture(regexp.MustCompile(`(?i)\brate\s*:\s*(\$[\d.,]+(?:\s*/\s*\w+)?)`)),
	}

	eventMatchers = []Matcher{
		Capture(regexp.MustCompile(`(?i)(?:for\s+)?event\s*:\s*([^\n\r\\]+)`)),
	}

	locationsLine    = Capture(regexp.MustCompile(`(?i)locations?\s*:\s*([^\n\r\\]+)`))
	facilityKeywords = Capture(regexp.MustCompile(`(?i)^([^,]+?(?:ramp|garage|lot|structure|deck)[^,]*)`))
)

// facilityStrategy proposes facility names; nil means "try the next one".
type facilityStrategy func(description, location, summary string) []string

var facilityStrategies = []facilityStrategy{
	fromLocationsLine,
	fromLocationField,
	fromSummary,
}

// Extract reads description, location and summary (already unescaped).
func Extract(description, location, summary string) Details {
	var d Details

	d.Rate, _ = First(description, rateMatchers...)
	d.EventName, _ = First(description, eventMatchers...)

	for _, strategy := range facilityStrategies {
		if names := strategy(description, location, summary); len(names) > 0 {
			d.Facilities = names
			break
		}
	}
	return d
}

// fromLocationsLine splits a "Locations: A, B" line from the description.
func fromLocationsLine(description, _, _ string) []string {
	v, ok := locationsLine(description)
	if !ok {
		return nil
	}
	return distinct(strings.Split(v, ","))
}

// fromLocationField takes the leading "X Ramp"/"X Garage"/... segment of
// LOCATION, or failing that everything before the first comma.
func fromLocationField(_, location, _ string) []string {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil
	}
	if v, ok := facilityKeywords(location); ok {
		return []string{v}
	}
	head, _, _ := strings.Cut(location, ",")
	return distinct([]string{head})
}

func fromSummary(_, _, summary string) []string {
	return []string{summary}
}

// distinct trims names, drops empties and repeats, and keeps first-seen order.
func distinct(names []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
