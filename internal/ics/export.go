package ics

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"parkcal/internal/model"
)

// Extension properties carrying the extracted details, so a client of the
// exported calendar does not have to repeat the text heuristics.
const (
	propFacility  ical.ComponentProperty = "X-PARKCAL-FACILITY"
	propRate      ical.ComponentProperty = "X-PARKCAL-RATE"
	propEventName ical.ComponentProperty = "X-PARKCAL-EVENT"
)

// ExportOptions controls calendar-level metadata of an export.
type ExportOptions struct {
	Name     string
	Timezone string
	// Stamp is written as DTSTAMP on every event; zero means time.Now.
	Stamp time.Time
}

// BuildCalendar converts events into an iCalendar document with UTC times.
func BuildCalendar(events []model.ParkingEvent, opts ExportOptions) *ical.Calendar {
	cal := ical.NewCalendarFor("parkcal")
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if opts.Timezone != "" {
		cal.SetXWRTimezone(opts.Timezone)
	}

	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, e := range events {
		ev := cal.AddEvent(e.UID)
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		ev.SetSummary(e.Summary)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		for _, f := range e.Facilities {
			ev.AddProperty(propFacility, f)
		}
		if e.Rate != "" {
			ev.SetProperty(propRate, e.Rate)
		}
		if e.EventName != "" {
			ev.SetProperty(propEventName, e.EventName)
		}
	}
	return cal
}

// WriteCalendar serializes events as iCalendar text with CRLF line endings.
func WriteCalendar(w io.Writer, events []model.ParkingEvent, opts ExportOptions) error {
	return BuildCalendar(events, opts).SerializeTo(w)
}

// ExportString is WriteCalendar into a string.
func ExportString(events []model.ParkingEvent, opts ExportOptions) string {
	var b strings.Builder
	_ = WriteCalendar(&b, events, opts)
	return b.String()
}
