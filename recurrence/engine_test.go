package recurrence

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cutoff = time.Date(2010, 12, 6, 12, 0, 0, 0, time.UTC)

func TestDecideActions(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name      string
		ics       string
		principal string
		want      Action
		wantRole  Role
	}{
		{
			name:      "future single event",
			ics:       futureEventICS,
			principal: purgedCUA,
			want:      ShouldDelete,
		},
		{
			name:      "repeating non meeting",
			ics:       repeatingNonMeetingICS,
			principal: purgedCUA,
			want:      ShouldDelete,
		},
		{
			name:      "repeating meeting as attendee",
			ics:       repeatingAttendeeICS,
			principal: purgedCUA,
			want:      ShouldDelete,
			wantRole:  RoleAttendee,
		},
		{
			name:      "invited to one occurrence",
			ics:       invitedToOccurrenceICS,
			principal: inviteeCUA,
			want:      ShouldDelete,
			wantRole:  RoleAttendee,
		},
		{
			name:      "invited to several occurrences",
			ics:       invitedToMultipleOccurrencesICS,
			principal: inviteeCUA,
			want:      ShouldDelete,
			wantRole:  RoleAttendee,
		},
		{
			name:      "repeating meeting as organizer",
			ics:       repeatingTimedICS,
			principal: purgedCUA,
			want:      Modified,
			wantRole:  RoleOrganizer,
		},
		{
			name:      "repeating meeting of somebody else",
			ics:       repeatingTimedICS,
			principal: "urn:uuid:00000000-0000-0000-0000-000000000000",
			want:      ShouldDelete,
		},
		{
			name: "past non meeting",
			ics: event(
				"UID:past-1",
				"DTSTAMP:20100303T195203Z",
				"DTSTART;TZID=US/Pacific:20100304T120000",
				"DTEND;TZID=US/Pacific:20100304T141500",
			),
			principal: purgedCUA,
			want:      ShouldDelete,
		},
		{
			name: "past meeting as organizer",
			ics: event(
				"UID:past-2",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101201T100000Z",
				"ORGANIZER:"+purgedCUA,
				"ATTENDEE:"+otherCUA,
			),
			principal: purgedCUA,
			want:      NoAction,
			wantRole:  RoleOrganizer,
		},
		{
			name: "past meeting as attendee",
			ics: event(
				"UID:past-3",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101201T100000Z",
				"ORGANIZER:"+otherCUA,
				"ATTENDEE:"+purgedCUA,
			),
			principal: purgedCUA,
			want:      ShouldDelete,
			wantRole:  RoleAttendee,
		},
		{
			name: "instance exactly at cutoff",
			ics: event(
				"UID:edge-1",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101206T120000Z",
				"ORGANIZER:"+purgedCUA,
				"ATTENDEE:"+otherCUA,
			),
			principal: purgedCUA,
			want:      ShouldDelete,
			wantRole:  RoleOrganizer,
		},
		{
			name: "series entirely after cutoff",
			ics: event(
				"UID:future-series",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101207T090000Z",
				"RRULE:FREQ=WEEKLY;COUNT=10",
				"ORGANIZER:"+purgedCUA,
				"ATTENDEE:"+otherCUA,
			),
			principal: purgedCUA,
			want:      ShouldDelete,
			wantRole:  RoleOrganizer,
		},
		{
			name: "organizer address compared case-insensitively",
			ics: event(
				"UID:case-1",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101130T100000Z",
				"RRULE:FREQ=DAILY",
				"ORGANIZER:"+strings.ToLower(purgedCUA),
				"ATTENDEE:"+otherCUA,
			),
			principal: strings.ToUpper(purgedCUA),
			want:      Modified,
			wantRole:  RoleOrganizer,
		},
		{
			name: "series that collapses once truncated",
			ics: event(
				"UID:collapse-1",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101130T100000Z",
				"RRULE:FREQ=DAILY;COUNT=10",
				"EXDATE:20101130T100000Z,20101201T100000Z,20101202T100000Z",
				"EXDATE:20101203T100000Z,20101204T100000Z,20101205T100000Z,20101206T100000Z",
				"ORGANIZER:"+purgedCUA,
				"ATTENDEE:"+otherCUA,
			),
			principal: purgedCUA,
			want:      ShouldDelete,
			wantRole:  RoleOrganizer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := mustDecode(t, tt.ics)
			d, err := engine.Decide(cal, cutoff, tt.principal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action, "got %s", d.Action)
			assert.Equal(t, tt.wantRole, d.Role)
			assert.Equal(t, tt.want == Modified, d.Calendar.IsPresent())
			assert.NotEmpty(t, d.UID)
		})
	}
}

func TestDecidePastEventPolicy(t *testing.T) {
	ics := event(
		"UID:past-policy",
		"DTSTAMP:20100303T195203Z",
		"DTSTART:20101201T100000Z",
		"ORGANIZER:"+purgedCUA,
		"ATTENDEE:"+otherCUA,
	)

	retain, err := NewEngine().Decide(mustDecode(t, ics), cutoff, purgedCUA)
	require.NoError(t, err)
	assert.Equal(t, NoAction, retain.Action)

	engine := NewEngineWithConfig(EngineConfig{PastEventPolicy: DeletePastEvents})
	del, err := engine.Decide(mustDecode(t, ics), cutoff, purgedCUA)
	require.NoError(t, err)
	assert.Equal(t, ShouldDelete, del.Action)
}

func TestTruncateTimedSeries(t *testing.T) {
	cal := mustDecode(t, repeatingTimedICS)
	d, err := NewEngine().Decide(cal, cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)
	assert.Equal(t, repeatingID, d.UID)

	out, ok := d.Calendar.Get()
	require.True(t, ok)

	master, overrides := splitEvents(t, out)
	require.NotNil(t, master)
	assert.Equal(t, "FREQ=DAILY;UNTIL=20101206T120000Z", master.Props.Get(ical.PropRecurrenceRule).Value)

	exdates := master.Props[ical.PropExceptionDates]
	require.Len(t, exdates, 1)
	assert.Equal(t, "20101203T100000", exdates[0].Value)
	assert.Equal(t, "US/Pacific", exdates[0].Params.Get(ical.ParamTimezoneID))

	require.Len(t, overrides, 1)
	assert.Equal(t, "20101204T100000", overrides[0].Props.Get(propRecurrenceID).Value)
	assert.Equal(t, "6", overrides[0].Props.Get(ical.PropSequence).Value)

	// the time zone definition is carried over
	var tz int
	for _, child := range out.Children {
		if child.Name == ical.CompTimezone {
			tz++
		}
	}
	assert.Equal(t, 1, tz)

	// the input is left alone
	inMaster, inOverrides := splitEvents(t, cal)
	assert.Equal(t, "FREQ=DAILY;COUNT=400", inMaster.Props.Get(ical.PropRecurrenceRule).Value)
	assert.Len(t, inMaster.Props[ical.PropExceptionDates], 2)
	assert.Len(t, inOverrides, 2)
}

func TestTruncateAllDaySeries(t *testing.T) {
	cal := mustDecode(t, repeatingAllDayICS)
	d, err := NewEngine().Decide(cal, cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)

	out := d.Calendar.MustGet()
	master, overrides := splitEvents(t, out)
	require.NotNil(t, master)
	assert.Equal(t, "FREQ=DAILY;UNTIL=20101206", master.Props.Get(ical.PropRecurrenceRule).Value)

	exdates := master.Props[ical.PropExceptionDates]
	require.Len(t, exdates, 1)
	assert.Equal(t, "20101203", exdates[0].Value)

	require.Len(t, overrides, 1)
	assert.Equal(t, "20101204", overrides[0].Props.Get(propRecurrenceID).Value)
}

func TestTruncatedObjectRoundTrips(t *testing.T) {
	d, err := NewEngine().Decide(mustDecode(t, repeatingTimedICS), cutoff, purgedCUA)
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, ical.NewEncoder(&b).Encode(d.Calendar.MustGet()))
	text := b.String()
	assert.Contains(t, text, "RRULE:FREQ=DAILY;UNTIL=20101206T120000Z")
	assert.NotContains(t, text, "20101209T100000")
	assert.NotContains(t, text, "20101211T100000")

	// a truncated object is left alone by a second purge at the same cutoff
	again, err := NewEngine().Decide(mustDecode(t, text), cutoff, purgedCUA)
	require.NoError(t, err)
	assert.Equal(t, NoAction, again.Action)
	assert.Equal(t, RoleOrganizer, again.Role)
	assert.True(t, again.Calendar.IsAbsent())
}

func TestTruncatedAllDaySeriesIsStable(t *testing.T) {
	d, err := NewEngine().Decide(mustDecode(t, repeatingAllDayICS), cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)

	var b strings.Builder
	require.NoError(t, ical.NewEncoder(&b).Encode(d.Calendar.MustGet()))

	again, err := NewEngine().Decide(mustDecode(t, b.String()), cutoff, purgedCUA)
	require.NoError(t, err)
	assert.Equal(t, NoAction, again.Action)
	assert.True(t, again.Calendar.IsAbsent())
}

func TestSeriesEndedBeforeCutoff(t *testing.T) {
	tests := []struct {
		name string
		rule string
	}{
		{"count", "RRULE:FREQ=DAILY;COUNT=3"},
		{"until", "RRULE:FREQ=DAILY;UNTIL=20101103T100000Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ics := event(
				"UID:ended-"+tt.name,
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101101T100000Z",
				tt.rule,
				"ORGANIZER:"+purgedCUA,
				"ATTENDEE:"+otherCUA,
			)
			cal := mustDecode(t, ics)
			d, err := NewEngine().Decide(cal, cutoff, purgedCUA)
			require.NoError(t, err)
			assert.Equal(t, NoAction, d.Action)
			assert.True(t, d.Calendar.IsAbsent())

			instances, err := NewEngine().Instances(cal, cutoff)
			require.NoError(t, err)
			assert.Len(t, instances, 3)
		})
	}
}

func TestTruncateLeavesEndedRuleAlone(t *testing.T) {
	// the first rule ended in November, the second runs past the cutoff
	ics := event(
		"UID:two-rules",
		"DTSTAMP:20100303T195203Z",
		"DTSTART:20101101T100000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"ORGANIZER:"+purgedCUA,
		"ATTENDEE:"+otherCUA,
	)
	d, err := NewEngine().Decide(mustDecode(t, ics), cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)

	master, _ := splitEvents(t, d.Calendar.MustGet())
	rules := master.Props[ical.PropRecurrenceRule]
	require.Len(t, rules, 2)
	assert.Equal(t, "FREQ=DAILY;COUNT=3", rules[0].Value)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO;UNTIL=20101206T120000Z", rules[1].Value)
}

func TestTruncateDropsLateRDateAfterEndedRule(t *testing.T) {
	ics := event(
		"UID:late-rdate",
		"DTSTAMP:20100303T195203Z",
		"DTSTART:20101101T100000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"RDATE:20101210T100000Z",
		"ORGANIZER:"+purgedCUA,
		"ATTENDEE:"+otherCUA,
	)
	d, err := NewEngine().Decide(mustDecode(t, ics), cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)

	master, _ := splitEvents(t, d.Calendar.MustGet())
	assert.Equal(t, "FREQ=DAILY;COUNT=3", master.Props.Get(ical.PropRecurrenceRule).Value)
	assert.Nil(t, master.Props.Get(ical.PropRecurrenceDates))
}

func TestTruncateRDates(t *testing.T) {
	ics := event(
		"UID:rdate-1",
		"DTSTAMP:20100303T195203Z",
		"DTSTART:20101201T100000Z",
		"RDATE:20101203T100000Z,20101210T100000Z",
		"ORGANIZER:"+purgedCUA,
		"ATTENDEE:"+otherCUA,
	)
	d, err := NewEngine().Decide(mustDecode(t, ics), cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)

	master, _ := splitEvents(t, d.Calendar.MustGet())
	assert.Nil(t, master.Props.Get(ical.PropRecurrenceRule))
	rdates := master.Props[ical.PropRecurrenceDates]
	require.Len(t, rdates, 1)
	assert.Equal(t, "20101203T100000Z", rdates[0].Value)
}

func TestTruncateDropsEmptyExceptionList(t *testing.T) {
	ics := event(
		"UID:exdate-1",
		"DTSTAMP:20100303T195203Z",
		"DTSTART:20101130T100000Z",
		"RRULE:FREQ=DAILY;INTERVAL=2;UNTIL=20110101T000000Z;BYHOUR=10",
		"EXDATE:20101208T100000Z",
		"ORGANIZER:"+purgedCUA,
		"ATTENDEE:"+otherCUA,
	)
	d, err := NewEngine().Decide(mustDecode(t, ics), cutoff, purgedCUA)
	require.NoError(t, err)
	require.Equal(t, Modified, d.Action)

	master, _ := splitEvents(t, d.Calendar.MustGet())
	assert.Nil(t, master.Props.Get(ical.PropExceptionDates))
	assert.Equal(t, "FREQ=DAILY;INTERVAL=2;UNTIL=20101206T120000Z;BYHOUR=10",
		master.Props.Get(ical.PropRecurrenceRule).Value)
}

func TestDecideStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		ics  string
	}{
		{
			name: "no event",
			ics:  "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Caldora//Purge Test//EN\r\nBEGIN:VTODO\r\nUID:todo\r\nDTSTAMP:20100303T195203Z\r\nEND:VTODO\r\nEND:VCALENDAR\r\n",
		},
		{
			name: "missing uid",
			ics:  event("DTSTAMP:20100303T195203Z", "DTSTART:20101201T100000Z"),
		},
		{
			name: "missing dtstart",
			ics:  event("UID:no-start", "DTSTAMP:20100303T195203Z"),
		},
		{
			name: "bad rrule",
			ics:  event("UID:bad-rule", "DTSTAMP:20100303T195203Z", "DTSTART:20101201T100000Z", "RRULE:FREQ=SOMETIMES"),
		},
		{
			name: "override with rrule",
			ics: event(
				"UID:bad-override",
				"DTSTAMP:20100303T195203Z",
				"RECURRENCE-ID:20101201T100000Z",
				"DTSTART:20101201T100000Z",
				"RRULE:FREQ=DAILY",
			),
		},
		{
			name: "rule without instances",
			ics: event(
				"UID:empty-rule",
				"DTSTAMP:20100303T195203Z",
				"DTSTART:20101201T100000Z",
				"RRULE:FREQ=DAILY;COUNT=1",
				"EXDATE:20101201T100000Z",
			),
		},
		{
			name: "mixed uids",
			ics: "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Caldora//Purge Test//EN\r\n" +
				"BEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20100303T195203Z\r\nDTSTART:20101201T100000Z\r\nEND:VEVENT\r\n" +
				"BEGIN:VEVENT\r\nUID:b\r\nDTSTAMP:20100303T195203Z\r\nDTSTART:20101202T100000Z\r\nEND:VEVENT\r\n" +
				"END:VCALENDAR\r\n",
		},
		{
			name: "two masters",
			ics: "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Caldora//Purge Test//EN\r\n" +
				"BEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20100303T195203Z\r\nDTSTART:20101201T100000Z\r\nEND:VEVENT\r\n" +
				"BEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20100303T195203Z\r\nDTSTART:20101202T100000Z\r\nEND:VEVENT\r\n" +
				"END:VCALENDAR\r\n",
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := engine.Decide(mustDecode(t, tt.ics), cutoff, purgedCUA)
			require.Error(t, err)
			var se *StructuralError
			assert.True(t, errors.As(err, &se), "want StructuralError, got %T", err)
			assert.Equal(t, NoAction, d.Action)
			assert.True(t, d.Calendar.IsAbsent())
		})
	}

	_, err := engine.Decide(nil, cutoff, purgedCUA)
	assert.Error(t, err)
}

func TestInstances(t *testing.T) {
	cal := mustDecode(t, repeatingTimedICS)

	got, err := NewEngine().Instances(cal, cutoff)
	require.NoError(t, err)
	// Nov 30, Dec 1, 2, 4 and 5; Dec 3 is excluded and Dec 6 10:00 PST is after noon UTC
	require.Len(t, got, 5)
	assert.Equal(t, time.Date(2010, 11, 30, 18, 0, 0, 0, time.UTC), got[0].UTC())
	assert.Equal(t, time.Date(2010, 12, 4, 18, 0, 0, 0, time.UTC), got[3].UTC())

	limited, err := NewEngineWithConfig(EngineConfig{MaxScanOccurrences: 2}).Instances(cal, cutoff)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDecideConcurrentUse(t *testing.T) {
	engine := NewEngine()
	cal := mustDecode(t, repeatingTimedICS)

	var wg sync.WaitGroup
	results := make([]Action, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := engine.Decide(cal, cutoff, purgedCUA)
			if err == nil {
				results[i] = d.Action
			}
		}(i)
	}
	wg.Wait()
	for _, a := range results {
		assert.Equal(t, Modified, a)
	}
}

func TestWithUntil(t *testing.T) {
	tests := []struct {
		rule string
		want string
	}{
		{"FREQ=DAILY;COUNT=400", "FREQ=DAILY;UNTIL=X"},
		{"FREQ=WEEKLY;UNTIL=20200101T000000Z;BYDAY=MO", "FREQ=WEEKLY;UNTIL=X;BYDAY=MO"},
		{"FREQ=DAILY", "FREQ=DAILY;UNTIL=X"},
		{"FREQ=DAILY;count=3;", "FREQ=DAILY;UNTIL=X"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, withUntil(tt.rule, "X"), tt.rule)
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "NO_ACTION", NoAction.String())
	assert.Equal(t, "MODIFIED", Modified.String())
	assert.Equal(t, "SHOULD_DELETE", ShouldDelete.String())

	p, err := ParsePastEventPolicy("delete")
	require.NoError(t, err)
	assert.Equal(t, DeletePastEvents, p)
	_, err = ParsePastEventPolicy("keep-forever")
	assert.Error(t, err)
}

func splitEvents(t *testing.T, cal *ical.Calendar) (*ical.Component, []*ical.Component) {
	t.Helper()
	var master *ical.Component
	var overrides []*ical.Component
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if child.Props.Get(propRecurrenceID) != nil {
			overrides = append(overrides, child)
		} else {
			master = child
		}
	}
	return master, overrides
}
