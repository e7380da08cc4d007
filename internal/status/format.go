package status

import (
	"fmt"
	"time"

	"parkcal/internal/model"
)

// FormatDuration renders d as "<1m", "45m", "2h" or "2h 15m". Partial
// minutes are truncated.
func FormatDuration(d time.Duration) string {
	total := int(d / time.Minute)
	if total < 1 {
		return "<1m"
	}
	if total < 60 {
		return fmt.Sprintf("%dm", total)
	}
	h, m := total/60, total%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatClock renders t as "3:04 PM" in loc.
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM")
}

// FormatDate renders t as "Mon, Sep 1" in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon, Jan 2")
}

// Label is the short badge text for s.
func Label(s Status) string {
	switch s.Kind {
	case Active:
		return "Active · ends in " + FormatDuration(s.EndsIn)
	case Upcoming:
		if s.StartingSoon() {
			return fmt.Sprintf("Starts in %dm", int(s.StartsIn/time.Minute))
		}
		return "Starts in " + FormatDuration(s.StartsIn)
	default:
		return "Ended"
	}
}

// StartingSoon reports an Upcoming status less than an hour out.
func (s Status) StartingSoon() bool {
	return s.Kind == Upcoming && s.StartsIn < time.Hour
}

// Card is one facility's view of one event, ready for display.
type Card struct {
	UID          string    `json:"uid"`
	Facility     string    `json:"facility"`
	EventName    string    `json:"event_name,omitempty"`
	Rate         string    `json:"rate,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Date         string    `json:"date"`
	TimeRange    string    `json:"time_range"`
	Status       Kind      `json:"status"`
	StartingSoon bool      `json:"starting_soon,omitempty"`
	Seconds      int64     `json:"seconds,omitempty"`
	Label        string    `json:"label"`
}

// Cards expands events into one Card per facility, keeping event order.
func Cards(events []model.ParkingEvent, now time.Time, loc *time.Location) []Card {
	out := make([]Card, 0, len(events))
	for _, ev := range events {
		st := Classify(ev.Start, ev.End, now)

		var secs int64
		switch st.Kind {
		case Active:
			secs = int64(st.EndsIn / time.Second)
		case Upcoming:
			secs = int64(st.StartsIn / time.Second)
		}

		for _, facility := range ev.Facilities {
			out = append(out, Card{
				UID:          ev.UID,
				Facility:     facility,
				EventName:    ev.EventName,
				Rate:         ev.Rate,
				Start:        ev.Start,
				End:          ev.End,
				Date:         FormatDate(ev.Start, loc),
				TimeRange:    FormatClock(ev.Start, loc) + " – " + FormatClock(ev.End, loc),
				Status:       st.Kind,
				StartingSoon: st.StartingSoon(),
				Seconds:      secs,
				Label:        Label(st),
			})
		}
	}
	return out
}
