package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkcal/internal/tz"
)

const footballICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Google Inc//Google Calendar 70.9054//EN
X-WR-CALNAME:UMN Event Parking
BEGIN:VEVENT
UID:football-1@umn
DTSTART:20240901T170000Z
DTEND:20240901T190000Z
SUMMARY:Test
DESCRIPTION:Event Rate: $10\nLocations: University Ave. Ramp\, 4th St Ramp\nEvent: Gopher Football
END:VEVENT
END:VCALENDAR
`

func newTestParser() *Parser {
	return &Parser{DefaultZone: chicago, Resolver: tz.NewResolver()}
}

func calendar(events ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
		strings.Join(events, "") +
		"END:VCALENDAR\r\n"
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

func TestParseFullRecord(t *testing.T) {
	events := newTestParser().Parse(footballICS)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "football-1@umn", ev.UID)
	assert.Equal(t, "Test", ev.Summary)
	assert.Equal(t, "Event Rate: $10\nLocations: University Ave. Ramp, 4th St Ramp\nEvent: Gopher Football", ev.Description)
	assert.Equal(t, "$10", ev.Rate)
	assert.Equal(t, []string{"University Ave. Ramp", "4th St Ramp"}, ev.Facilities)
	assert.Equal(t, "Gopher Football", ev.EventName)
	assert.True(t, time.Date(2024, time.September, 1, 17, 0, 0, 0, time.UTC).Equal(ev.Start))
	assert.True(t, time.Date(2024, time.September, 1, 19, 0, 0, 0, time.UTC).Equal(ev.End))
	assert.Equal(t, 2*time.Hour, ev.Duration())
}

func TestParseDropsEndBeforeStart(t *testing.T) {
	raw := strings.Replace(footballICS, "DTEND:20240901T190000Z", "DTEND:20240901T150000Z", 1)
	assert.Empty(t, newTestParser().Parse(raw))

	raw = strings.Replace(footballICS, "DTEND:20240901T190000Z", "DTEND:20240901T170000Z", 1)
	assert.Empty(t, newTestParser().Parse(raw), "zero-length window is not a record")
}

func TestParseZonedAndDateOnly(t *testing.T) {
	raw := calendar(
		vevent(
			"UID:zoned",
			"SUMMARY:Noon",
			"DTSTART;TZID=America/Chicago:20240901T120000",
			"DTEND;TZID=America/Chicago:20240901T150000",
		),
		vevent(
			"UID:allday",
			"SUMMARY:All day",
			"DTSTART;VALUE=DATE:20240901",
			"DTEND;VALUE=DATE:20240902",
		),
	)

	events := newTestParser().Parse(raw)
	require.Len(t, events, 2)

	assert.Equal(t, "allday", events[0].UID)
	assert.True(t, time.Date(2024, time.September, 1, 5, 0, 0, 0, time.UTC).Equal(events[0].Start))
	assert.True(t, time.Date(2024, time.September, 2, 5, 0, 0, 0, time.UTC).Equal(events[0].End))

	assert.Equal(t, "zoned", events[1].UID)
	assert.True(t, time.Date(2024, time.September, 1, 17, 0, 0, 0, time.UTC).Equal(events[1].Start))
	assert.True(t, time.Date(2024, time.September, 1, 20, 0, 0, 0, time.UTC).Equal(events[1].End))
}

func TestParseLocationFallback(t *testing.T) {
	raw := calendar(vevent(
		"SUMMARY:Volleyball",
		"DESCRIPTION:Event Rate: $8",
		"LOCATION:4th Street Ramp\\, Minneapolis\\, MN",
		"DTSTART:20240905T220000Z",
		"DTEND:20240906T020000Z",
	))

	events := newTestParser().Parse(raw)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"4th Street Ramp"}, events[0].Facilities)
	assert.Equal(t, "4th Street Ramp, Minneapolis, MN", events[0].Location)
	assert.Equal(t, "$8", events[0].Rate)
	assert.Empty(t, events[0].EventName)
}

func TestParseMalformedRecordIsIsolated(t *testing.T) {
	raw := calendar(
		vevent("UID:good-1", "SUMMARY:A", "DTSTART:20240901T170000Z", "DTEND:20240901T180000Z"),
		vevent("UID:bad", "SUMMARY:B", "DTSTART:notadate", "DTEND:20240901T180000Z"),
		vevent("UID:good-2", "SUMMARY:C", "DTSTART:20240902T170000Z", "DTEND:20240902T180000Z"),
	)

	events, stats := newTestParser().ParseWithStats(raw)
	require.Len(t, events, 2)
	assert.Equal(t, "good-1", events[0].UID)
	assert.Equal(t, "good-2", events[1].UID)
	assert.Equal(t, ParseStats{Committed: 2, Skipped: 1}, stats)
}

func TestParseDropsIncompleteRecords(t *testing.T) {
	raw := calendar(
		vevent("UID:no-end", "DTSTART:20240901T170000Z"),
		vevent("UID:no-start", "DTEND:20240901T170000Z"),
		vevent("UID:empty"),
	)
	events, stats := newTestParser().ParseWithStats(raw)
	assert.Empty(t, events)
	assert.Equal(t, 3, stats.Skipped)
}

func TestParseSortIsStable(t *testing.T) {
	raw := calendar(
		vevent("UID:late", "DTSTART:20240903T170000Z", "DTEND:20240903T180000Z"),
		vevent("UID:tie-a", "DTSTART:20240901T170000Z", "DTEND:20240901T190000Z"),
		vevent("UID:early", "DTSTART:20240831T170000Z", "DTEND:20240831T180000Z"),
		vevent("UID:tie-b", "DTSTART:20240901T170000Z", "DTEND:20240901T180000Z"),
		vevent("UID:tie-c", "DTSTART;TZID=America/Chicago:20240901T120000", "DTEND:20240901T200000Z"),
	)

	events := newTestParser().Parse(raw)
	uids := make([]string, 0, len(events))
	for _, ev := range events {
		uids = append(uids, ev.UID)
	}
	assert.Equal(t, []string{"early", "tie-a", "tie-b", "tie-c", "late"}, uids)
}

func TestParseOrphanBeginDoesNotLeak(t *testing.T) {
	raw := "BEGIN:VCALENDAR\n" +
		"BEGIN:VEVENT\nUID:orphan\nSUMMARY:Orphan\nDESCRIPTION:Locations: Ghost Ramp\nDTSTART:20240901T100000Z\n" +
		"BEGIN:VEVENT\nUID:real\nSUMMARY:Real\nDTSTART:20240901T170000Z\nDTEND:20240901T190000Z\nEND:VEVENT\n" +
		"END:VCALENDAR\n"

	events, stats := newTestParser().ParseWithStats(raw)
	require.Len(t, events, 1)
	assert.Equal(t, "real", events[0].UID)
	assert.Equal(t, "Real", events[0].Summary)
	assert.Equal(t, []string{"Real"}, events[0].Facilities)
	assert.Equal(t, 1, stats.Skipped)
}

func TestParseIgnoresNestedComponents(t *testing.T) {
	raw := calendar(vevent(
		"UID:with-alarm",
		"SUMMARY:Hockey",
		"DTSTART:20240901T170000Z",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:Reminder",
		"TRIGGER:-PT30M",
		"END:VALARM",
		"DTEND:20240901T190000Z",
		"LOCATION:Oak Street Garage, Minneapolis",
	))

	events := newTestParser().Parse(raw)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Description)
	assert.Equal(t, []string{"Oak Street Garage"}, events[0].Facilities)
}

func TestParseUnterminatedRecordAtEndOfCalendar(t *testing.T) {
	raw := "BEGIN:VCALENDAR\nBEGIN:VEVENT\nUID:x\nDTSTART:20240901T170000Z\nDTEND:20240901T190000Z\nEND:VCALENDAR\n"
	assert.Empty(t, newTestParser().Parse(raw))

	raw = "BEGIN:VEVENT\nUID:x\nDTSTART:20240901T170000Z\nDTEND:20240901T190000Z\n"
	assert.Empty(t, newTestParser().Parse(raw))
}

func TestParseEmptyAndPropertyFreeInput(t *testing.T) {
	p := newTestParser()
	for _, raw := range []string{"", "\r\n\r\n", "hello world", "BEGIN:VCALENDAR\nEND:VCALENDAR\n"} {
		events := p.Parse(raw)
		assert.NotNil(t, events)
		assert.Empty(t, events)
	}
}

func TestParseGeneratesMissingUID(t *testing.T) {
	raw := calendar(vevent("SUMMARY:No UID", "DTSTART:20240901T170000Z", "DTEND:20240901T190000Z"))

	p := newTestParser()
	p.NewID = func() string { return "generated-1" }
	events := p.Parse(raw)
	require.Len(t, events, 1)
	assert.Equal(t, "generated-1", events[0].UID)

	p.NewID = nil
	events = p.Parse(raw)
	require.Len(t, events, 1)
	assert.Len(t, events[0].UID, 36)
}

func TestParseKeepsDuplicateUIDs(t *testing.T) {
	raw := calendar(
		vevent("UID:same", "DTSTART:20240901T170000Z", "DTEND:20240901T190000Z"),
		vevent("UID:same", "DTSTART:20240902T170000Z", "DTEND:20240902T190000Z"),
	)
	events := newTestParser().Parse(raw)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].UID, events[1].UID)
}

func TestParseCaseInsensitiveMarkersAndFoldedLines(t *testing.T) {
	raw := "begin:vcalendar\r\n" +
		"begin:vevent\r\n" +
		"uid:folded\r\n" +
		"summary:Gopher\r\n  Football\r\n" +
		"description:Locations: Washington Ave\r\n\t Ramp\\nEvent: Gopher Football\r\n" +
		"dtstart:20240901T170000Z\r\n" +
		"dtend:20240901T190000Z\r\n" +
		"end:vevent\r\n" +
		"end:vcalendar\r\n"

	events := newTestParser().Parse(raw)
	require.Len(t, events, 1)
	assert.Equal(t, "Gopher Football", events[0].Summary)
	assert.Equal(t, []string{"Washington Ave Ramp"}, events[0].Facilities)
	assert.Equal(t, "Gopher Football", events[0].EventName)
}

func TestParseCalendarSerializedByLibrary(t *testing.T) {
	cal := ical.NewCalendarFor("parkcal-test")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName("UMN Event Parking")

	ev := cal.AddEvent("lib-1")
	ev.SetDtStampTime(time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC))
	ev.SetStartAt(time.Date(2024, time.September, 7, 16, 0, 0, 0, time.UTC))
	ev.SetEndAt(time.Date(2024, time.September, 7, 22, 0, 0, 0, time.UTC))
	ev.SetSummary("Gopher Football vs. Rhode Island; gates open early")
	ev.SetDescription("Event Rate: $25/vehicle\nLocations: University Ave. Ramp, 4th Street Ramp, Oak Street Ramp, Washington Ave. Ramp, East River Road Garage\nEvent: Gopher Football vs. Rhode Island")
	ev.SetLocation("University Ave. Ramp, Minneapolis, MN 55455")

	events := newTestParser().Parse(cal.Serialize())
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, "lib-1", got.UID)
	assert.Equal(t, "Gopher Football vs. Rhode Island; gates open early", got.Summary)
	assert.Equal(t, "$25/vehicle", got.Rate)
	assert.Equal(t, "Gopher Football vs. Rhode Island", got.EventName)
	assert.Equal(t, []string{
		"University Ave. Ramp", "4th Street Ramp", "Oak Street Ramp",
		"Washington Ave. Ramp", "East River Road Garage",
	}, got.Facilities)
	assert.True(t, time.Date(2024, time.September, 7, 16, 0, 0, 0, time.UTC).Equal(got.Start))
	assert.Equal(t, 6*time.Hour, got.Duration())
}
