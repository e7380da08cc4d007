// Package tz converts wall-clock readings in a named zone to absolute
// instants by asking a CivilClock what the zone displays and reversing the
// observed offset.
package tz

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownZone is returned when a zone identifier cannot be resolved.
var ErrUnknownZone = errors.New("unknown time zone")

// Civil is a zone-relative calendar date and time of day.
type Civil struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// Date returns the date-only part of c (time of day zeroed).
func (c Civil) Date() Civil {
	return Civil{Year: c.Year, Month: c.Month, Day: c.Day}
}

// asUTC reads the fields as if they were UTC. Out-of-range fields normalize
// the way time.Date does.
func (c Civil) asUTC() time.Time {
	return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
}

func (c Civil) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", c.Year, int(c.Month), c.Day, c.Hour, c.Minute, c.Second)
}

// CivilClock reports the wall clock a zone displays at an instant.
// Implementations must be safe for concurrent use.
type CivilClock interface {
	Civil(instant time.Time, zone string) (Civil, error)
}

// ZoneClock is a CivilClock backed by the host zone database. Loaded
// locations are cached for the lifetime of the clock.
type ZoneClock struct {
	locations sync.Map // zone name -> *time.Location
}

// Location returns the *time.Location for zone, loading it on first use.
func (z *ZoneClock) Location(zone string) (*time.Location, error) {
	if v, ok := z.locations.Load(zone); ok {
		return v.(*time.Location), nil
	}
	if zone == "" {
		return nil, fmt.Errorf("%w: empty zone", ErrUnknownZone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownZone, zone, err)
	}
	v, _ := z.locations.LoadOrStore(zone, loc)
	return v.(*time.Location), nil
}

func (z *ZoneClock) Civil(instant time.Time, zone string) (Civil, error) {
	loc, err := z.Location(zone)
	if err != nil {
		return Civil{}, err
	}
	t := instant.In(loc)
	return Civil{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}, nil
}

// Resolver turns wall-clock readings into instants using a CivilClock.
//
// The offset is sampled at the provisional instant (the wall clock read as
// UTC), not at the answer. Inside the hours that follow a spring-forward
// transition on the provisional side, the result is therefore late by the
// transition's shift. For America/Chicago on 2024-03-10, 03:30 resolves to
// 09:30Z instead of 08:30Z. This is a known limitation.
type Resolver struct {
	Clock CivilClock
}

// NewResolver returns a Resolver backed by a fresh ZoneClock.
func NewResolver() *Resolver {
	return &Resolver{Clock: &ZoneClock{}}
}

// ResolveLocal returns the instant at which zone displays the wall clock c.
func (r *Resolver) ResolveLocal(c Civil, zone string) (time.Time, error) {
	guess := c.asUTC()

	wall, err := r.clock().Civil(guess, zone)
	if err != nil {
		return time.Time{}, err
	}
	// Some 24-hour formatters report midnight as hour 24.
	wall.Hour %= 24

	offset := guess.Sub(wall.asUTC())
	return guess.Add(offset), nil
}

// CivilMidnight returns 00:00:00 in zone on the civil date that zone shows
// at ref, shifted by dayOffset days.
func (r *Resolver) CivilMidnight(ref time.Time, dayOffset int, zone string) (time.Time, error) {
	today, err := r.clock().Civil(ref, zone)
	if err != nil {
		return time.Time{}, err
	}
	day := today.Date()
	day.Day += dayOffset
	return r.ResolveLocal(day, zone)
}

func (r *Resolver) clock() CivilClock {
	if r == nil || r.Clock == nil {
		return defaultClock
	}
	return r.Clock
}

var defaultClock = &ZoneClock{}
