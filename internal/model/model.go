package model

import "time"

// ParkingEvent is one validated event-parking window from the calendar feed.
// Values are never mutated after assembly; a refresh replaces the whole list.
type ParkingEvent struct {
	// UID is the iCalendar UID, or a generated identifier when the source
	// record had none. Duplicates from the source are kept as-is.
	UID string `json:"uid"`

	// Summary, Description and Location hold unescaped source text.
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`

	// Start / End are absolute instants in UTC. End is strictly after Start.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Facilities lists the ramps, garages or lots affected, at least one,
	// without duplicates, in order of first appearance.
	Facilities []string `json:"facilities"`

	// Rate is a label such as "$10" or "$5/vehicle"; empty when unknown.
	Rate string `json:"rate,omitempty"`

	// EventName is the event the parking applies to; empty when unknown.
	EventName string `json:"event_name,omitempty"`
}

// Duration returns End - Start.
func (e ParkingEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}
