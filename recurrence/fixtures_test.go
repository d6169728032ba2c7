package recurrence

import (
	"strings"
	"testing"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/require"
)

const (
	purgedCUA   = "urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1"
	otherCUA    = "urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A"
	inviteeCUA  = "urn:uuid:9DC04A71-E6DD-11DF-9492-0800200C9A66"
	repeatingID = "59E260E3-1644-4BDF-BBC6-6130B0C3A520"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func mustDecode(t *testing.T, ics string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(ics)).Decode()
	require.NoError(t, err)
	return cal
}

// Daily series from Nov 30 2010 with EXDATEs on Dec 3 and Dec 9 and
// overrides on Dec 4 and Dec 11.
var repeatingTimedICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
PRODID:-//Apple Inc.//iCal 4.0.4//EN
BEGIN:VTIMEZONE
TZID:US/Pacific
BEGIN:DAYLIGHT
DTSTART:20070311T020000
RRULE:FREQ=YEARLY;BYDAY=2SU;BYMONTH=3
TZNAME:PDT
TZOFFSETFROM:-0800
TZOFFSETTO:-0700
END:DAYLIGHT
BEGIN:STANDARD
DTSTART:20071104T020000
RRULE:FREQ=YEARLY;BYDAY=1SU;BYMONTH=11
TZNAME:PST
TZOFFSETFROM:-0700
TZOFFSETTO:-0800
END:STANDARD
END:VTIMEZONE
BEGIN:VEVENT
UID:59E260E3-1644-4BDF-BBC6-6130B0C3A520
DTSTART;TZID=US/Pacific:20101130T100000
DTEND;TZID=US/Pacific:20101130T110000
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICI
 PANT;SCHEDULE-STATUS=1.2:urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:0F1684
 77-CF3D-45D3-AE60-9875EA02C4D1
CREATED:20101203T184815Z
DTSTAMP:20101203T185019Z
EXDATE;TZID=US/Pacific:20101203T100000
EXDATE;TZID=US/Pacific:20101209T100000
ORGANIZER;CN=Purge Test:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
RRULE:FREQ=DAILY;COUNT=400
SEQUENCE:4
SUMMARY:Repeating 1
TRANSP:OPAQUE
END:VEVENT
BEGIN:VEVENT
UID:59E260E3-1644-4BDF-BBC6-6130B0C3A520
RECURRENCE-ID;TZID=US/Pacific:20101204T100000
DTSTART;TZID=US/Pacific:20101204T120000
DTEND;TZID=US/Pacific:20101204T130000
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICI
 PANT;SCHEDULE-STATUS=2.0:urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:0F1684
 77-CF3D-45D3-AE60-9875EA02C4D1
CREATED:20101203T184815Z
DTSTAMP:20101203T185027Z
ORGANIZER;CN=Purge Test:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
SEQUENCE:6
SUMMARY:Repeating 1
TRANSP:OPAQUE
END:VEVENT
BEGIN:VEVENT
UID:59E260E3-1644-4BDF-BBC6-6130B0C3A520
RECURRENCE-ID;TZID=US/Pacific:20101211T100000
DTSTART;TZID=US/Pacific:20101211T120000
DTEND;TZID=US/Pacific:20101211T130000
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICI
 PANT;SCHEDULE-STATUS=2.0:urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:0F1684
 77-CF3D-45D3-AE60-9875EA02C4D1
CREATED:20101203T184815Z
DTSTAMP:20101203T185038Z
ORGANIZER;CN=Purge Test:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
SEQUENCE:6
SUMMARY:Repeating 1
TRANSP:OPAQUE
END:VEVENT
END:VCALENDAR
`)

// The all-day counterpart of repeatingTimedICS.
var repeatingAllDayICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
PRODID:-//Apple Inc.//iCal 4.0.4//EN
BEGIN:VEVENT
UID:53BA0EA4-05B1-4E89-BD1E-8397F071FD6A
DTSTART;VALUE=DATE:20101130
DTEND;VALUE=DATE:20101201
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICI
 PANT;SCHEDULE-STATUS=1.2:urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:0F1684
 77-CF3D-45D3-AE60-9875EA02C4D1
CREATED:20101203T203510Z
DTSTAMP:20101203T203603Z
EXDATE;VALUE=DATE:20101203
EXDATE;VALUE=DATE:20101209
ORGANIZER;CN=Purge Test:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
RRULE:FREQ=DAILY;COUNT=400
SEQUENCE:5
SUMMARY:All Day
TRANSP:TRANSPARENT
END:VEVENT
BEGIN:VEVENT
UID:53BA0EA4-05B1-4E89-BD1E-8397F071FD6A
RECURRENCE-ID;VALUE=DATE:20101211
DTSTART;VALUE=DATE:20101211
DTEND;VALUE=DATE:20101212
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:0F1684
 77-CF3D-45D3-AE60-9875EA02C4D1
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICI
 PANT;SCHEDULE-STATUS=1.2:urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A
CREATED:20101203T203510Z
DTSTAMP:20101203T203631Z
ORGANIZER;CN=Purge Test:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
SEQUENCE:6
SUMMARY:Modified Title
TRANSP:TRANSPARENT
END:VEVENT
BEGIN:VEVENT
UID:53BA0EA4-05B1-4E89-BD1E-8397F071FD6A
RECURRENCE-ID;VALUE=DATE:20101204
DTSTART;VALUE=DATE:20101204
DTEND;VALUE=DATE:20101205
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICI
 PANT;SCHEDULE-STATUS=1.2:urn:uuid:3FF02D2B-07A3-4420-8570-7B7C7D07F08A
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:0F1684
 77-CF3D-45D3-AE60-9875EA02C4D1
CREATED:20101203T203510Z
DTSTAMP:20101203T203618Z
ORGANIZER;CN=Purge Test:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
SEQUENCE:7
SUMMARY:Modified Title
TRANSP:TRANSPARENT
END:VEVENT
END:VCALENDAR
`)

var futureEventICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
PRODID:-//Apple Inc.//iCal 4.0.4//EN
BEGIN:VEVENT
UID:97B243D3-D252-4034-AA6D-9AE34E063991
DTSTART;TZID=US/Pacific:20101208T091500
DTEND;TZID=US/Pacific:20101208T101500
CREATED:20101203T172929Z
DTSTAMP:20101203T172932Z
SEQUENCE:2
SUMMARY:Future event single
TRANSP:OPAQUE
END:VEVENT
END:VCALENDAR
`)

var repeatingNonMeetingICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
PRODID:-//Apple Inc.//iCal 4.0.4//EN
BEGIN:VEVENT
UID:4E4D0C8C-6546-4777-9BF5-AD629C05E7D5
DTSTART;TZID=US/Pacific:20101130T110000
DTEND;TZID=US/Pacific:20101130T120000
CREATED:20101203T204353Z
DTSTAMP:20101203T204409Z
RRULE:FREQ=DAILY;COUNT=400
SEQUENCE:3
SUMMARY:Repeating non meeting
TRANSP:OPAQUE
END:VEVENT
END:VCALENDAR
`)

var repeatingAttendeeICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
PRODID:-//CALENDARSERVER.ORG//NONSGML Version 1//EN
BEGIN:VEVENT
UID:111A679F-EF8E-4CA5-9262-7C805E2C184D
DTSTART;TZID=US/Pacific:20101130T120000
DTEND;TZID=US/Pacific:20101130T130000
ATTENDEE;CN=Test User;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:3FF02D2
 B-07A3-4420-8570-7B7C7D07F08A
ATTENDEE;CN=Purge Test;CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED;ROLE=REQ-PARTIC
 IPANT:urn:uuid:0F168477-CF3D-45D3-AE60-9875EA02C4D1
CREATED:20101203T204908Z
DTSTAMP:20101203T204927Z
ORGANIZER;CN=Test User;SCHEDULE-STATUS=1.2:urn:uuid:3FF02D2B-07A3-4420-857
 0-7B7C7D07F08A
RRULE:FREQ=DAILY;COUNT=400
SEQUENCE:4
SUMMARY:As an attendee
TRANSP:OPAQUE
END:VEVENT
END:VCALENDAR
`)

var invitedToOccurrenceICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
METHOD:REQUEST
PRODID:-//CALENDARSERVER.ORG//NONSGML Version 1//EN
BEGIN:VEVENT
UID:44A391CF-52F5-46B4-B35A-E000E3002084
RECURRENCE-ID;TZID=America/Los_Angeles:20111103T150000
DTSTART;TZID=America/Los_Angeles:20111103T150000
DTEND;TZID=America/Los_Angeles:20111103T170000
ATTENDEE;CN=Betty Test;CUTYPE=INDIVIDUAL;EMAIL=betty@example.com;PARTSTAT=
 NEEDS-ACTION;ROLE=REQ-PARTICIPANT;RSVP=TRUE:urn:uuid:9DC04A71-E6DD-11DF-94
 92-0800200C9A66
ATTENDEE;CN=Amanda Test;CUTYPE=INDIVIDUAL;EMAIL=amanda@example.com;PARTSTA
 T=ACCEPTED:urn:uuid:9DC04A70-E6DD-11DF-9492-0800200C9A66
CREATED:20111101T205355Z
DTSTAMP:20111101T205506Z
ORGANIZER;CN=Amanda Test;EMAIL=amanda@example.com:urn:uuid:9DC04A70-E6DD-1
 1DF-9492-0800200C9A66
SEQUENCE:5
SUMMARY:Repeating
TRANSP:OPAQUE
END:VEVENT
END:VCALENDAR
`)

var invitedToMultipleOccurrencesICS = crlf(`BEGIN:VCALENDAR
VERSION:2.0
CALSCALE:GREGORIAN
METHOD:REQUEST
PRODID:-//CALENDARSERVER.ORG//NONSGML Version 1//EN
BEGIN:VEVENT
UID:44A391CF-52F5-46B4-B35A-E000E3002084
RECURRENCE-ID;TZID=America/Los_Angeles:20111103T150000
DTSTART;TZID=America/Los_Angeles:20111103T150000
DTEND;TZID=America/Los_Angeles:20111103T170000
ATTENDEE;CN=Betty Test;CUTYPE=INDIVIDUAL;EMAIL=betty@example.com;PARTSTAT=
 NEEDS-ACTION;ROLE=REQ-PARTICIPANT;RSVP=TRUE:urn:uuid:9DC04A71-E6DD-11DF-94
 92-0800200C9A66
ATTENDEE;CN=Amanda Test;CUTYPE=INDIVIDUAL;EMAIL=amanda@example.com;PARTSTA
 T=ACCEPTED:urn:uuid:9DC04A70-E6DD-11DF-9492-0800200C9A66
CREATED:20111101T205355Z
DTSTAMP:20111101T205506Z
ORGANIZER;CN=Amanda Test;EMAIL=amanda@example.com:urn:uuid:9DC04A70-E6DD-1
 1DF-9492-0800200C9A66
SEQUENCE:5
SUMMARY:Repeating
TRANSP:OPAQUE
END:VEVENT
BEGIN:VEVENT
ATTENDEE;CN="Amanda Test";CUTYPE=INDIVIDUAL;PARTSTAT=ACCEPTED:urn:uuid:9
 DC04A70-E6DD-11DF-9492-0800200C9A66
ATTENDEE;CN="Betty Test";CUTYPE=INDIVIDUAL;EMAIL="betty@example.com";PAR
 TSTAT=NEEDS-ACTION;ROLE=REQ-PARTICIPANT;RSVP=TRUE:mailto:betty@example.c
 om
DTEND;TZID=America/Los_Angeles:20111105T170000
TRANSP:OPAQUE
ORGANIZER;CN="Amanda Test":urn:uuid:9DC04A70-E6DD-11DF-9492-0800200C9A66
UID:44A391CF-52F5-46B4-B35A-E000E3002084
DTSTAMP:20111102T162426Z
SEQUENCE:5
RECURRENCE-ID;TZID=America/Los_Angeles:20111105T150000
SUMMARY:Repeating
DTSTART;TZID=America/Los_Angeles:20111105T150000
CREATED:20111101T205355Z
END:VEVENT
END:VCALENDAR
`)

// event builds a minimal single-VEVENT calendar from property lines.
func event(lines ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Caldora//Purge Test//EN\r\nBEGIN:VEVENT\r\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString("END:VEVENT\r\nEND:VCALENDAR\r\n")
	return b.String()
}
