package ics

import (
	"errors"
	"strings"
	"time"

	appLog "parkcal/internal/log"
	"parkcal/internal/tz"
)

// DecodeDateTime interprets a DTSTART/DTEND value. Accepted shapes:
//
//	YYYYMMDDTHHMMSSZ  UTC
//	YYYYMMDDTHHMMSS   wall clock in TZID, or defaultZone without one
//	YYYYMMDD          midnight in defaultZone
//
// Any other shape yields a *MalformedDateTimeError. A TZID the resolver does
// not know falls back to defaultZone.
func DecodeDateTime(value string, params Params, defaultZone string, r *tz.Resolver) (time.Time, error) {
	v := strings.TrimSpace(value)

	switch {
	case strings.HasSuffix(v, "Z") && len(v) >= 15:
		c, err := civilFields(v, true)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, 0, time.UTC), nil

	case len(v) == 8 && !strings.Contains(v, "T"):
		c, err := civilFields(v, false)
		if err != nil {
			return time.Time{}, err
		}
		return r.ResolveLocal(c, defaultZone)

	case len(v) >= 15 && v[8] == 'T':
		c, err := civilFields(v, true)
		if err != nil {
			return time.Time{}, err
		}
		zone, ok := params.Get("TZID")
		if !ok || strings.TrimSpace(zone) == "" {
			return r.ResolveLocal(c, defaultZone)
		}
		zone = strings.TrimSpace(zone)
		t, err := r.ResolveLocal(c, zone)
		if errors.Is(err, tz.ErrUnknownZone) && zone != defaultZone {
			appLog.Debug("unknown TZID, using default zone", "tzid", zone, "default_zone", defaultZone)
			return r.ResolveLocal(c, defaultZone)
		}
		return t, err

	default:
		return time.Time{}, &MalformedDateTimeError{Value: value, Reason: "unrecognized shape"}
	}
}

// civilFields reads the positional fields of YYYYMMDD[THHMMSS].
func civilFields(v string, withTime bool) (tz.Civil, error) {
	var c tz.Civil
	var ok bool
	fail := func(reason string) (tz.Civil, error) {
		return tz.Civil{}, &MalformedDateTimeError{Value: v, Reason: reason}
	}

	if c.Year, ok = digits(v[0:4]); !ok {
		return fail("bad year")
	}
	month, ok := digits(v[4:6])
	if !ok || month < 1 || month > 12 {
		return fail("bad month")
	}
	c.Month = time.Month(month)
	if c.Day, ok = digits(v[6:8]); !ok || c.Day < 1 || c.Day > 31 {
		return fail("bad day")
	}
	if !withTime {
		return c, nil
	}

	if v[8] != 'T' {
		return fail("missing time designator")
	}
	if c.Hour, ok = digits(v[9:11]); !ok || c.Hour > 23 {
		return fail("bad hour")
	}
	if c.Minute, ok = digits(v[11:13]); !ok || c.Minute > 59 {
		return fail("bad minute")
	}
	// 60 is a leap second; it normalizes into the next minute.
	if c.Second, ok = digits(v[13:15]); !ok || c.Second > 60 {
		return fail("bad second")
	}
	return c, nil
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		d := s[i]
		if d < '0' || d > '9' {
			return 0, false
		}
		n = n*10 + int(d-'0')
	}
	return n, len(s) > 0
}
