package recurrence

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // TZID values such as US/Pacific must resolve on hosts without zoneinfo

	"github.com/emersion/go-ical"
)

const (
	dateLayout       = "20060102"
	localTimeLayout  = "20060102T150405"
	utcTimeLayout    = "20060102T150405Z"
	propRecurrenceID = "RECURRENCE-ID"
)

// value is one parsed DATE or DATE-TIME. All-day values are kept as
// midnight UTC of their calendar date.
type value struct {
	t      time.Time
	allDay bool
}

func isDateParam(params ical.Params) bool {
	if params == nil {
		return false
	}
	v := params.Get(ical.ParamValue)
	return strings.EqualFold(v, string(ical.ValueDate))
}

func location(params ical.Params) *time.Location {
	if params == nil {
		return time.UTC
	}
	tzid := params.Get(ical.ParamTimezoneID)
	if tzid == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		// unknown zones are treated as floating
		return time.UTC
	}
	return loc
}

// parseValue parses a single DATE or DATE-TIME string.
func parseValue(s string, params ical.Params) (value, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		// PERIOD: only the start matters
		s = s[:i]
	}
	if isDateParam(params) || len(s) == len(dateLayout) {
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return value{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return value{t: d, allDay: true}, nil
	}
	if strings.HasSuffix(s, "Z") {
		t, err := time.Parse(utcTimeLayout, s)
		if err != nil {
			return value{}, fmt.Errorf("invalid date-time %q: %w", s, err)
		}
		return value{t: t}, nil
	}
	t, err := time.ParseInLocation(localTimeLayout, s, location(params))
	if err != nil {
		return value{}, fmt.Errorf("invalid date-time %q: %w", s, err)
	}
	return value{t: t}, nil
}

// parseList parses a comma separated EXDATE or RDATE value.
func parseList(prop ical.Prop) ([]value, []string, error) {
	raw := strings.Split(prop.Value, ",")
	values := make([]value, 0, len(raw))
	texts := make([]string, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		v, err := parseValue(s, prop.Params)
		if err != nil {
			return nil, nil, err
		}
		values = append(values, v)
		texts = append(texts, s)
	}
	return values, texts, nil
}

func propValue(comp *ical.Component, name string) (value, bool, error) {
	prop := comp.Props.Get(name)
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return value{}, false, nil
	}
	v, err := parseValue(prop.Value, prop.Params)
	if err != nil {
		return value{}, true, err
	}
	return v, true, nil
}

// bound is the truncation point of a series.
type bound struct {
	t      time.Time
	allDay bool
}

func newBound(cutoff time.Time, allDay bool) bound {
	u := cutoff.UTC()
	if allDay {
		return bound{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), allDay: true}
	}
	return bound{t: u}
}

// reaches reports whether v is at or after the bound.
func (b bound) reaches(v value) bool {
	if b.allDay {
		return !dateOf(v).Before(b.t)
	}
	return !v.t.Before(b.t)
}

// reachesTime is reaches for an expanded instance.
func (b bound) reachesTime(t time.Time) bool {
	return b.reaches(value{t: t, allDay: b.allDay})
}

func (b bound) String() string {
	if b.allDay {
		return b.t.Format(dateLayout)
	}
	return b.t.Format(utcTimeLayout)
}

func dateOf(v value) time.Time {
	if v.allDay {
		return v.t
	}
	u := v.t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// addressMatches compares two calendar user addresses.
func addressMatches(a, b string) bool {
	return foldAddress(a) == foldAddress(b)
}
