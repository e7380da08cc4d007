package ics

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks a line or value the parser cannot interpret.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidRecord marks a decoded record that fails validation,
	// e.g. a missing start/end or an end not after its start.
	ErrInvalidRecord = errors.New("invalid record")
)

// MalformedDateTimeError reports a DTSTART/DTEND value whose shape matches
// none of the accepted date/time grammars.
type MalformedDateTimeError struct {
	Value  string
	Reason string
}

func (e *MalformedDateTimeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed date-time %q", e.Value)
	}
	return fmt.Sprintf("malformed date-time %q: %s", e.Value, e.Reason)
}

func (e *MalformedDateTimeError) Unwrap() error { return ErrMalformedInput }
