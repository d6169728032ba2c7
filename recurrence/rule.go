package recurrence

import (
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// series is the expansion model of a master component.
type series struct {
	start  value
	rules  []*rrule.ROption
	exdate []value
	rdate  []value
}

func (s *series) recurring() bool {
	return len(s.rules) > 0 || len(s.rdate) > 0
}

// parseSeries reads DTSTART, RRULE, EXDATE and RDATE from a master.
func parseSeries(uid string, master *ical.Component) (*series, error) {
	start, ok, err := propValue(master, ical.PropDateTimeStart)
	if err != nil {
		return nil, structural(uid, "bad DTSTART: %v", err)
	}
	if !ok {
		return nil, structural(uid, "master has no DTSTART")
	}
	s := &series{start: start}

	for _, prop := range master.Props[ical.PropRecurrenceRule] {
		opt, err := rrule.StrToROption(prop.Value)
		if err != nil {
			return nil, structural(uid, "bad RRULE %q: %v", prop.Value, err)
		}
		s.rules = append(s.rules, opt)
	}
	for _, prop := range master.Props[ical.PropExceptionDates] {
		values, _, err := parseList(prop)
		if err != nil {
			return nil, structural(uid, "bad EXDATE: %v", err)
		}
		s.exdate = append(s.exdate, values...)
	}
	for _, prop := range master.Props[ical.PropRecurrenceDates] {
		values, _, err := parseList(prop)
		if err != nil {
			return nil, structural(uid, "bad RDATE: %v", err)
		}
		s.rdate = append(s.rdate, values...)
	}
	return s, nil
}

// sets builds one rrule-go set per RRULE; an RDATE-only series yields a
// single set seeded with DTSTART. When until is non-zero every rule is
// bounded by it instead of its own COUNT or UNTIL.
func (s *series) sets(until time.Time) ([]*rrule.Set, error) {
	var sets []*rrule.Set
	build := func(r *rrule.RRule) *rrule.Set {
		set := &rrule.Set{}
		if r != nil {
			set.RRule(r)
		} else {
			set.RDate(s.start.t)
		}
		for _, v := range s.rdate {
			set.RDate(s.instantFor(v))
		}
		for _, v := range s.exdate {
			set.ExDate(s.instantFor(v))
		}
		return set
	}
	for _, opt := range s.rules {
		o := *opt
		o.Dtstart = s.start.t
		if !until.IsZero() {
			o.Count = 0
			o.Until = until
		}
		r, err := rrule.NewRRule(o)
		if err != nil {
			return nil, err
		}
		sets = append(sets, build(r))
	}
	if len(sets) == 0 {
		sets = append(sets, build(nil))
	}
	return sets, nil
}

// ruleReaches reports whether the i-th RRULE, bounded by its own COUNT or
// UNTIL, has an instance at or after b.
func (s *series) ruleReaches(i int, b bound) (bool, error) {
	o := *s.rules[i]
	o.Dtstart = s.start.t
	r, err := rrule.NewRRule(o)
	if err != nil {
		return false, err
	}
	next := r.After(b.t, true)
	return !next.IsZero() && b.reachesTime(next), nil
}

// instantFor aligns an EXDATE or RDATE with the series' own value type.
func (s *series) instantFor(v value) time.Time {
	if s.start.allDay {
		return dateOf(v)
	}
	return v.t
}

// first returns the earliest instance of the series.
func (s *series) first(until time.Time) (time.Time, bool, error) {
	sets, err := s.sets(until)
	if err != nil {
		return time.Time{}, false, err
	}
	var earliest time.Time
	found := false
	for _, set := range sets {
		next := set.Iterator()
		if t, ok := next(); ok && (!found || t.Before(earliest)) {
			earliest, found = t, true
		}
	}
	return earliest, found, nil
}

// expand returns up to limit instances strictly before end, in order.
func (s *series) expand(end time.Time, limit int) ([]time.Time, error) {
	sets, err := s.sets(time.Time{})
	if err != nil {
		return nil, err
	}
	var all []time.Time
	for _, set := range sets {
		next := set.Iterator()
		for n := 0; n < limit; n++ {
			t, ok := next()
			if !ok || !t.Before(end) {
				break
			}
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	out := make([]time.Time, 0, len(all))
	for _, t := range all {
		if len(out) > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// withUntil rewrites an RRULE value so it ends at until. COUNT and any
// previous UNTIL are dropped and the new UNTIL takes the position of the
// first of them; other parts keep their order and spelling.
func withUntil(rule, until string) string {
	parts := strings.Split(rule, ";")
	out := make([]string, 0, len(parts)+1)
	inserted := false
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "COUNT", "UNTIL":
			if !inserted {
				out = append(out, "UNTIL="+until)
				inserted = true
			}
			continue
		}
		out = append(out, part)
	}
	if !inserted {
		out = append(out, "UNTIL="+until)
	}
	return strings.Join(out, ";")
}
