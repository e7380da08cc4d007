package ics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"parkcal/internal/details"
	appLog "parkcal/internal/log"
	"parkcal/internal/model"
	"parkcal/internal/tz"
)

// Parser assembles ParkingEvents from iCalendar text.
//
// Only VEVENT blocks are read, and within them only UID, SUMMARY,
// DESCRIPTION, LOCATION, DTSTART and DTEND. Recurrence rules are ignored.
// A Parser holds no state between calls and is safe for concurrent use.
type Parser struct {
	// DefaultZone is used for date-only values and local values without
	// a TZID, e.g. "America/Chicago". Empty means UTC.
	DefaultZone string

	// Resolver converts wall clocks to instants. Nil uses the host zone
	// database.
	Resolver *tz.Resolver

	// NewID generates identifiers for records without a UID. Nil uses
	// random UUIDs.
	NewID func() string
}

// ParseStats summarizes one Parse call.
type ParseStats struct {
	Committed int
	Skipped   int
}

// Parse returns the valid events in raw, sorted by start. Records that fail
// to decode or validate are dropped; they never abort the parse. Empty input
// yields an empty list.
func (p *Parser) Parse(raw string) []model.ParkingEvent {
	events, _ := p.ParseWithStats(raw)
	return events
}

// ParseWithStats is Parse plus counts of committed and skipped records.
func (p *Parser) ParseWithStats(raw string) ([]model.ParkingEvent, ParseStats) {
	var (
		stats  ParseStats
		events = make([]model.ParkingEvent, 0)
		acc    *accumulator
		depth  int // nesting of sub-components inside the open VEVENT
	)

	for _, line := range strings.Split(Unfold(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		pl := SplitPropertyLine(line)
		switch pl.Name {
		case "BEGIN":
			if strings.EqualFold(strings.TrimSpace(pl.Value), "VEVENT") {
				if acc != nil {
					stats.Skipped++
					appLog.Debug("ics record discarded", "reason", "BEGIN:VEVENT before END:VEVENT")
				}
				acc = &accumulator{}
				depth = 0
				continue
			}
			if acc != nil {
				depth++
			}
			continue

		case "END":
			if acc == nil {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			kind := strings.ToUpper(strings.TrimSpace(pl.Value))
			if kind == "VCALENDAR" {
				stats.Skipped++
				appLog.Debug("ics record discarded", "reason", "unterminated VEVENT")
				acc = nil
				continue
			}
			if kind != "VEVENT" {
				continue
			}
			ev, err := p.commit(acc)
			acc = nil
			if err != nil {
				stats.Skipped++
				appLog.Debug("ics record discarded", "reason", err.Error())
				continue
			}
			events = append(events, ev)
			stats.Committed++
			continue
		}

		if acc == nil || depth > 0 {
			continue
		}
		p.apply(acc, pl)
	}

	if acc != nil {
		stats.Skipped++
		appLog.Debug("ics record discarded", "reason", "input ended inside VEVENT")
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	appLog.Debug("ics parse completed", "event_count", stats.Committed, "skipped", stats.Skipped)
	return events, stats
}

// accumulator collects one VEVENT's fields. Everything is optional until
// commit.
type accumulator struct {
	uid         string
	summary     string
	description string
	location    string
	start       *time.Time
	end         *time.Time

	// err holds the first decode failure; the record is dropped at commit.
	err error
}

func (p *Parser) apply(acc *accumulator, pl PropertyLine) {
	switch pl.Name {
	case "UID":
		acc.uid = strings.TrimSpace(pl.Value)
	case "SUMMARY":
		acc.summary = UnescapeText(pl.Value)
	case "DESCRIPTION":
		acc.description = UnescapeText(pl.Value)
	case "LOCATION":
		acc.location = UnescapeText(pl.Value)
	case "DTSTART", "DTEND":
		t, err := DecodeDateTime(pl.Value, pl.Params, p.zone(), p.Resolver)
		if err != nil {
			if acc.err == nil {
				acc.err = fmt.Errorf("%s: %w", pl.Name, err)
			}
			return
		}
		if pl.Name == "DTSTART" {
			acc.start = &t
		} else {
			acc.end = &t
		}
	}
}

func (p *Parser) commit(acc *accumulator) (model.ParkingEvent, error) {
	if acc.err != nil {
		return model.ParkingEvent{}, acc.err
	}
	if acc.start == nil || acc.end == nil {
		return model.ParkingEvent{}, fmt.Errorf("%w: missing DTSTART or DTEND", ErrInvalidRecord)
	}
	start, end := acc.start.UTC(), acc.end.UTC()
	if !end.After(start) {
		return model.ParkingEvent{}, fmt.Errorf("%w: end %s not after start %s",
			ErrInvalidRecord, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	d := details.Extract(acc.description, acc.location, acc.summary)

	uid := acc.uid
	if uid == "" {
		uid = p.newID()
	}

	return model.ParkingEvent{
		UID:         uid,
		Summary:     acc.summary,
		Description: acc.description,
		Location:    acc.location,
		Start:       start,
		End:         end,
		Facilities:  d.Facilities,
		Rate:        d.Rate,
		EventName:   d.EventName,
	}, nil
}

func (p *Parser) newID() string {
	if p.NewID != nil {
		if id := p.NewID(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (p *Parser) zone() string {
	if p.DefaultZone == "" {
		return "UTC"
	}
	return p.DefaultZone
}
