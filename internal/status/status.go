// Package status classifies parking windows relative to a reference instant
// and selects the events shown by each view.
package status

import (
	"fmt"
	"strings"
	"time"

	"parkcal/internal/model"
	"parkcal/internal/tz"
)

// Kind is the temporal state of an event.
type Kind string

const (
	Active   Kind = "active"
	Upcoming Kind = "upcoming"
	Ended    Kind = "ended"
)

// Status is the state of one event at a reference instant. EndsIn is set for
// Active, StartsIn for Upcoming.
type Status struct {
	Kind     Kind
	EndsIn   time.Duration
	StartsIn time.Duration
}

// Classify places now relative to [start, end]. Both bounds count as Active.
func Classify(start, end, now time.Time) Status {
	switch {
	case !now.Before(start) && !now.After(end):
		return Status{Kind: Active, EndsIn: end.Sub(now)}
	case now.Before(start):
		return Status{Kind: Upcoming, StartsIn: start.Sub(now)}
	default:
		return Status{Kind: Ended}
	}
}

// View selects which events a consumer is shown.
type View int

const (
	// CurrentlyActive keeps events with start <= now <= end.
	CurrentlyActive View = iota
	// SameCivilDay keeps events overlapping today in the home zone.
	SameCivilDay
	// NextSevenDays keeps events with now < start <= now+7d.
	NextSevenDays
)

// UpcomingWindow is the look-ahead of NextSevenDays.
const UpcomingWindow = 7 * 24 * time.Hour

var viewNames = map[View]string{
	CurrentlyActive: "now",
	SameCivilDay:    "today",
	NextSevenDays:   "upcoming",
}

func (v View) String() string {
	if s, ok := viewNames[v]; ok {
		return s
	}
	return fmt.Sprintf("View(%d)", int(v))
}

// ParseView accepts "now", "today" and "upcoming" (case-insensitive).
func ParseView(s string) (View, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	views := Views()
	names := make([]string, 0, len(views))
	for _, v := range views {
		if s == v.String() {
			return v, nil
		}
		names = append(names, v.String())
	}
	return 0, fmt.Errorf("unknown view %q (want one of %s)", s, strings.Join(names, ", "))
}

// Views lists every view in display order.
func Views() []View {
	return []View{CurrentlyActive, SameCivilDay, NextSevenDays}
}

// Engine filters events in a home zone. An empty Zone means UTC.
type Engine struct {
	Zone     string
	Resolver *tz.Resolver
}

// Filter returns the events matching view at now, in input order. The input
// slice is never modified. An error is returned only when the home zone
// cannot be resolved for SameCivilDay.
func (e *Engine) Filter(events []model.ParkingEvent, view View, now time.Time) ([]model.ParkingEvent, error) {
	keep, err := e.predicate(view, now)
	if err != nil {
		return nil, err
	}
	out := make([]model.ParkingEvent, 0, len(events))
	for _, ev := range events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (e *Engine) predicate(view View, now time.Time) (func(model.ParkingEvent) bool, error) {
	switch view {
	case CurrentlyActive:
		return func(ev model.ParkingEvent) bool {
			return !ev.Start.After(now) && !ev.End.Before(now)
		}, nil

	case SameCivilDay:
		dayStart, dayEnd, err := e.Day(now)
		if err != nil {
			return nil, err
		}
		return func(ev model.ParkingEvent) bool {
			return ev.Start.Before(dayEnd) && ev.End.After(dayStart)
		}, nil

	case NextSevenDays:
		horizon := now.Add(UpcomingWindow)
		return func(ev model.ParkingEvent) bool {
			return ev.Start.After(now) && !ev.Start.After(horizon)
		}, nil

	default:
		return nil, fmt.Errorf("unknown view %d", int(view))
	}
}

// Day returns [midnight, next midnight) of now's civil date in the home zone.
func (e *Engine) Day(now time.Time) (time.Time, time.Time, error) {
	zone := e.zone()
	start, err := e.Resolver.CivilMidnight(now, 0, zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("day start in %s: %w", zone, err)
	}
	end, err := e.Resolver.CivilMidnight(now, 1, zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("day end in %s: %w", zone, err)
	}
	return start, end, nil
}

func (e *Engine) zone() string {
	if e.Zone == "" {
		return "UTC"
	}
	return e.Zone
}
